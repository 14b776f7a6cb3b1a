package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	uuid "github.com/satori/go.uuid"

	"github.com/vsthakur101/webapi-moderator/scanner"
	"github.com/vsthakur101/webapi-moderator/storage"
)

func (s *Server) listScanChecks(c *gin.Context) {
	c.JSON(http.StatusOK, s.scanner.AvailableChecks())
}

type scanBody struct {
	Name            string   `json:"name" binding:"required"`
	ConfigID        string   `json:"config_id"`
	TargetID        string   `json:"target_id"`
	SourceType      string   `json:"source_type"`
	SourceRequestID string   `json:"source_request_id"`
	SourceURLs      []string `json:"source_urls"`
	EnabledChecks   []string `json:"enabled_checks"`
}

func (s *Server) listScans(c *gin.Context) {
	scans, err := s.store.ListScans()
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, scans)
}

func (s *Server) createScan(c *gin.Context) {
	var body scanBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	sourceType := body.SourceType
	if sourceType == "" {
		sourceType = "url"
	}

	scan := &storage.Scan{
		ID:              uuid.NewV4().String(),
		Name:            body.Name,
		ConfigID:        body.ConfigID,
		TargetID:        body.TargetID,
		Status:          scanner.StatusConfigured,
		SourceType:      sourceType,
		SourceRequestID: body.SourceRequestID,
		SourceURLs:      body.SourceURLs,
		EnabledChecks:   body.EnabledChecks,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.store.PutScan(scan); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusCreated, scan)
}

func (s *Server) getScan(c *gin.Context) {
	scan, err := s.store.GetScan(c.Param("id"))
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, scan)
}

func (s *Server) deleteScan(c *gin.Context) {
	if err := s.store.DeleteScan(c.Param("id")); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) startScan(c *gin.Context) {
	if err := s.scanner.Start(c.Param("id")); err != nil {
		if err == scanner.ErrAlreadyRunning {
			c.JSON(http.StatusConflict, gin.H{"detail": err.Error()})
			return
		}
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": scanner.StatusRunning})
}

func (s *Server) stopScan(c *gin.Context) {
	if err := s.scanner.Stop(c.Param("id")); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopping"})
}

func (s *Server) listScanIssues(c *gin.Context) {
	issues, err := s.store.ListIssues(c.Param("id"))
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, issues)
}

func (s *Server) updateScanIssue(c *gin.Context) {
	var body struct {
		Status string `json:"status" binding:"required"`
		Notes  string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	issue, err := s.store.UpdateIssueStatus(c.Param("id"), body.Status, body.Notes)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, issue)
}

func (s *Server) listScanConfigs(c *gin.Context) {
	configs, err := s.store.ListScanConfigs()
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, configs)
}

func (s *Server) createScanConfig(c *gin.Context) {
	var body struct {
		Name          string            `json:"name" binding:"required"`
		Description   string            `json:"description"`
		EnabledChecks []string          `json:"enabled_checks"`
		Settings      map[string]string `json:"settings"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	now := time.Now().UTC()
	cfg := &storage.ScanConfiguration{
		ID:            uuid.NewV4().String(),
		Name:          body.Name,
		Description:   body.Description,
		EnabledChecks: body.EnabledChecks,
		Settings:      body.Settings,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.PutScanConfig(cfg); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cfg)
}

func (s *Server) deleteScanConfig(c *gin.Context) {
	if err := s.store.DeleteScanConfig(c.Param("id")); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
