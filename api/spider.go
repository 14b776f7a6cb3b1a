package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	uuid "github.com/satori/go.uuid"

	"github.com/vsthakur101/webapi-moderator/spider"
	"github.com/vsthakur101/webapi-moderator/storage"
)

type spiderSessionBody struct {
	Name                string   `json:"name" binding:"required"`
	StartURLs           []string `json:"start_urls" binding:"required"`
	IncludePatterns     []string `json:"include_patterns"`
	ExcludePatterns     []string `json:"exclude_patterns"`
	FollowExternalLinks bool     `json:"follow_external_links"`
	RespectRobotsTxt    *bool    `json:"respect_robots_txt"`
	MaxDepth            int      `json:"max_depth"`
	MaxPages            int      `json:"max_pages"`
	Threads             int      `json:"threads"`
	DelayMs             int      `json:"delay_ms"`
}

func (s *Server) listSpiderSessions(c *gin.Context) {
	sessions, err := s.store.ListSessions()
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessions)
}

func (s *Server) createSpiderSession(c *gin.Context) {
	var body spiderSessionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	respectRobots := true
	if body.RespectRobotsTxt != nil {
		respectRobots = *body.RespectRobotsTxt
	}
	maxDepth := body.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 3
	}
	maxPages := body.MaxPages
	if maxPages <= 0 {
		maxPages = 100
	}
	threads := body.Threads
	if threads <= 0 {
		threads = 2
	}

	session := &storage.SpiderSession{
		ID:                  uuid.NewV4().String(),
		Name:                body.Name,
		Status:              spider.StatusConfigured,
		StartURLs:           body.StartURLs,
		IncludePatterns:     body.IncludePatterns,
		ExcludePatterns:     body.ExcludePatterns,
		FollowExternalLinks: body.FollowExternalLinks,
		RespectRobotsTxt:    respectRobots,
		MaxDepth:            maxDepth,
		MaxPages:            maxPages,
		Threads:             threads,
		DelayMs:             body.DelayMs,
		CreatedAt:           time.Now().UTC(),
	}
	if err := s.store.PutSession(session); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

func (s *Server) getSpiderSession(c *gin.Context) {
	session, err := s.store.GetSession(c.Param("id"))
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (s *Server) deleteSpiderSession(c *gin.Context) {
	if err := s.store.DeleteSession(c.Param("id")); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) startSpiderSession(c *gin.Context) {
	if err := s.spider.Start(c.Param("id")); err != nil {
		if err == spider.ErrAlreadyRunning {
			c.JSON(http.StatusConflict, gin.H{"detail": err.Error()})
			return
		}
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": spider.StatusRunning})
}

func (s *Server) pauseSpiderSession(c *gin.Context) {
	if err := s.spider.Pause(c.Param("id")); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": spider.StatusPaused})
}

func (s *Server) resumeSpiderSession(c *gin.Context) {
	if err := s.spider.Resume(c.Param("id")); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": spider.StatusRunning})
}

func (s *Server) stopSpiderSession(c *gin.Context) {
	if err := s.spider.Stop(c.Param("id")); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopping"})
}

func (s *Server) listSpiderURLs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	urls, total, err := s.store.ListURLs(c.Param("id"), c.Query("status"), limit, offset)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"items":  urls,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}
