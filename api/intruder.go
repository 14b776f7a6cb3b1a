package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	uuid "github.com/satori/go.uuid"

	"github.com/vsthakur101/webapi-moderator/intruder"
	"github.com/vsthakur101/webapi-moderator/storage"
)

type attackBody struct {
	Name            string                     `json:"name" binding:"required"`
	Method          string                     `json:"method" binding:"required"`
	URLTemplate     string                     `json:"url_template" binding:"required"`
	HeadersTemplate map[string]string          `json:"headers_template"`
	BodyTemplate    string                     `json:"body_template"`
	Positions       []storage.IntruderPosition `json:"positions" binding:"required"`
	PayloadSets     [][]string                 `json:"payload_sets" binding:"required"`
	Strategy        string                     `json:"strategy" binding:"required"`
	Threads         int                        `json:"threads"`
	DelayMs         int                        `json:"delay_ms"`
	TimeoutSeconds  int                        `json:"timeout_seconds"`
	FollowRedirects bool                       `json:"follow_redirects"`
}

func (s *Server) listAttacks(c *gin.Context) {
	attacks, err := s.store.ListAttacks()
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, attacks)
}

func (s *Server) createAttack(c *gin.Context) {
	var body attackBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	counts := make([]int, 0, len(body.PayloadSets))
	for _, set := range body.PayloadSets {
		counts = append(counts, len(set))
	}

	threads := body.Threads
	if threads <= 0 {
		threads = 1
	}
	timeout := body.TimeoutSeconds
	if timeout <= 0 {
		timeout = 30
	}

	attack := &storage.IntruderAttack{
		ID:              uuid.NewV4().String(),
		Name:            body.Name,
		Status:          intruder.StatusConfigured,
		Method:          body.Method,
		URLTemplate:     body.URLTemplate,
		HeadersTemplate: body.HeadersTemplate,
		BodyTemplate:    body.BodyTemplate,
		Positions:       body.Positions,
		PayloadSets:     body.PayloadSets,
		Strategy:        body.Strategy,
		Threads:         threads,
		DelayMs:         body.DelayMs,
		TimeoutSeconds:  timeout,
		FollowRedirects: body.FollowRedirects,
		TotalRequests:   intruder.TotalRequests(body.Strategy, len(body.Positions), counts),
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.store.PutAttack(attack); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusCreated, attack)
}

func (s *Server) getAttack(c *gin.Context) {
	attack, err := s.store.GetAttack(c.Param("id"))
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, attack)
}

func (s *Server) deleteAttack(c *gin.Context) {
	if err := s.store.DeleteAttack(c.Param("id")); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) startAttack(c *gin.Context) {
	if err := s.intruder.Start(c.Param("id")); err != nil {
		if err == intruder.ErrAlreadyRunning {
			c.JSON(http.StatusConflict, gin.H{"detail": err.Error()})
			return
		}
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": intruder.StatusRunning})
}

func (s *Server) pauseAttack(c *gin.Context) {
	if err := s.intruder.Pause(c.Param("id")); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": intruder.StatusPaused})
}

func (s *Server) resumeAttack(c *gin.Context) {
	if err := s.intruder.Resume(c.Param("id")); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": intruder.StatusRunning})
}

func (s *Server) stopAttack(c *gin.Context) {
	if err := s.intruder.Stop(c.Param("id")); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopping"})
}

func (s *Server) listAttackResults(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	results, total, err := s.store.ListResults(c.Param("id"), limit, offset)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"items":  results,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}
