package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	uuid "github.com/satori/go.uuid"

	"github.com/vsthakur101/webapi-moderator/storage"
)

type ruleBody struct {
	Name         string `json:"name" binding:"required"`
	Enabled      *bool  `json:"enabled"`
	Priority     int    `json:"priority"`
	MatchType    string `json:"match_type" binding:"required"`
	MatchPattern string `json:"match_pattern" binding:"required"`
	MatchRegex   bool   `json:"match_regex"`
	ActionType   string `json:"action_type" binding:"required"`
	ActionTarget string `json:"action_target"`
	ActionValue  string `json:"action_value"`
	ApplyTo      string `json:"apply_to"`
}

func (s *Server) listRules(c *gin.Context) {
	recs, err := s.store.ListRules()
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, recs)
}

func (s *Server) createRule(c *gin.Context) {
	var body ruleBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	enabled := true
	if body.Enabled != nil {
		enabled = *body.Enabled
	}
	applyTo := body.ApplyTo
	if applyTo == "" {
		applyTo = "request"
	}

	now := time.Now().UTC()
	rec := &storage.RuleRecord{
		ID:           uuid.NewV4().String(),
		Name:         body.Name,
		Enabled:      enabled,
		Priority:     body.Priority,
		MatchType:    body.MatchType,
		MatchPattern: body.MatchPattern,
		MatchRegex:   body.MatchRegex,
		ActionType:   body.ActionType,
		ActionTarget: body.ActionTarget,
		ActionValue:  body.ActionValue,
		ApplyTo:      applyTo,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.PutRule(rec); err != nil {
		abortError(c, err)
		return
	}
	s.refreshRules()
	c.JSON(http.StatusCreated, rec)
}

func (s *Server) getRule(c *gin.Context) {
	rec, err := s.store.GetRule(c.Param("id"))
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) patchRule(c *gin.Context) {
	var fields map[string]any
	if err := c.ShouldBindJSON(&fields); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	rec, err := s.store.PatchRule(c.Param("id"), fields)
	if err != nil {
		abortError(c, err)
		return
	}
	s.refreshRules()
	c.JSON(http.StatusOK, rec)
}

func (s *Server) deleteRule(c *gin.Context) {
	if err := s.store.DeleteRule(c.Param("id")); err != nil {
		abortError(c, err)
		return
	}
	s.refreshRules()
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) toggleRule(c *gin.Context) {
	rec, err := s.store.ToggleRule(c.Param("id"))
	if err != nil {
		abortError(c, err)
		return
	}
	s.refreshRules()
	c.JSON(http.StatusOK, rec)
}
