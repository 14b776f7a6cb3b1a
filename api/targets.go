package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) listTargets(c *gin.Context) {
	targets, err := s.store.ListTargets()
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, targets)
}

func (s *Server) updateTarget(c *gin.Context) {
	var body struct {
		InScope *bool   `json:"in_scope"`
		Notes   *string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	targets, err := s.store.ListTargets()
	if err != nil {
		abortError(c, err)
		return
	}
	for _, t := range targets {
		if t.ID != c.Param("id") {
			continue
		}
		if body.InScope != nil {
			t.InScope = *body.InScope
		}
		if body.Notes != nil {
			t.Notes = *body.Notes
		}
		if err := s.store.UpdateTarget(t); err != nil {
			abortError(c, err)
			return
		}
		c.JSON(http.StatusOK, t)
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"detail": "not found"})
}

func (s *Server) deleteTarget(c *gin.Context) {
	if err := s.store.DeleteTarget(c.Param("id")); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) targetSiteMap(c *gin.Context) {
	tree, err := s.sitemap.Tree(c.Param("id"))
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, tree)
}

func (s *Server) rebuildSiteMap(c *gin.Context) {
	if err := s.sitemap.Rebuild(s.store); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "rebuilt"})
}
