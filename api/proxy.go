package api

import (
	"encoding/base64"
	"net/http"

	"github.com/gin-gonic/gin"
	uuid "github.com/satori/go.uuid"

	"github.com/vsthakur101/webapi-moderator/flow"
	"github.com/vsthakur101/webapi-moderator/intercept"
	"github.com/vsthakur101/webapi-moderator/systemproxy"
)

func (s *Server) proxyStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Status())
}

func (s *Server) proxyStart(c *gin.Context) {
	if err := s.engine.Start(s.cfg.ProxyHost, s.cfg.ProxyPort); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error(), "status": s.engine.Status()})
		return
	}
	c.JSON(http.StatusOK, s.engine.Status())
}

func (s *Server) proxyStop(c *gin.Context) {
	if err := s.engine.Stop(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.engine.Status())
}

func (s *Server) interceptToggle(c *gin.Context) {
	enabled := s.coordinator.Toggle()
	s.engine.PublishStatus()
	c.JSON(http.StatusOK, gin.H{"intercept_enabled": enabled})
}

func (s *Server) interceptPending(c *gin.Context) {
	phase := intercept.Phase(c.Query("phase"))
	c.JSON(http.StatusOK, s.coordinator.List(phase))
}

type interceptActionBody struct {
	RequestID       string            `json:"request_id" binding:"required"`
	Phase           string            `json:"phase"`
	Action          string            `json:"action" binding:"required"` // forward, drop, forward_modified
	ModifiedHeaders []flow.Field      `json:"modified_headers,omitempty"`
	ModifiedBodyB64 string            `json:"modified_body_b64,omitempty"`
	ModifiedStatus  int               `json:"modified_status,omitempty"`
}

func (s *Server) interceptAction(c *gin.Context) {
	var body interceptActionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	flowID, err := uuid.FromString(body.RequestID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid request_id"})
		return
	}

	phase := intercept.Phase(body.Phase)
	if phase == "" {
		phase = intercept.PhaseRequest
	}

	decision := intercept.Decision{Kind: intercept.DecisionKind(body.Action)}
	switch decision.Kind {
	case intercept.DecisionForward, intercept.DecisionDrop:
	case intercept.DecisionForwardModified:
		if body.ModifiedHeaders != nil {
			decision.Headers = flow.Header(body.ModifiedHeaders)
		}
		if body.ModifiedBodyB64 != "" {
			raw, err := base64.StdEncoding.DecodeString(body.ModifiedBodyB64)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid modified_body_b64"})
				return
			}
			decision.Body = raw
		}
		decision.Status = body.ModifiedStatus
	default:
		c.JSON(http.StatusBadRequest, gin.H{"detail": "unknown action"})
		return
	}

	if err := s.coordinator.Decide(flowID, phase, decision); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "resolved"})
}

func (s *Server) proxyReplay(c *gin.Context) {
	var body struct {
		RequestID string `json:"request_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	rec, err := s.store.GetFlow(body.RequestID)
	if err != nil {
		abortError(c, err)
		return
	}

	replayed, err := s.engine.Replay(c.Request.Context(), rec.ToFlow())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, replayed)
}

const certInstructions = "Install this certificate into your client's trust store " +
	"to intercept HTTPS traffic. On macOS, add it to the System keychain and mark it " +
	"trusted; on Firefox, import it under Privacy & Security > Certificates."

func (s *Server) proxyCertificate(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"certificate":  string(s.ca.RootCertPEM()),
		"instructions": certInstructions,
	})
}

func (s *Server) systemProxyStatus(c *gin.Context) {
	status, err := systemproxy.Get()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error(), "status": status})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) systemProxyEnable(c *gin.Context) {
	if err := systemproxy.Enable(s.cfg.ProxyHost, s.cfg.ProxyPort); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	status, _ := systemproxy.Get()
	c.JSON(http.StatusOK, status)
}

func (s *Server) systemProxyDisable(c *gin.Context) {
	if err := systemproxy.Disable(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	status, _ := systemproxy.Get()
	c.JSON(http.StatusOK, status)
}
