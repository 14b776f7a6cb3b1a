package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vsthakur101/webapi-moderator/storage"
)

func (s *Server) listRequests(c *gin.Context) {
	filters := storage.FlowFilters{
		Method: c.Query("method"),
		Host:   c.Query("host"),
		Search: c.Query("search"),
	}
	if v := c.Query("status_code"); v != "" {
		filters.StatusCode, _ = strconv.Atoi(v)
	}
	if v := c.Query("is_websocket"); v != "" {
		b := v == "true" || v == "1"
		filters.IsWebSocket = &b
	}
	filters.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	filters.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))

	recs, total, err := s.store.ListFlows(filters)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"items":  recs,
		"total":  total,
		"limit":  filters.Limit,
		"offset": filters.Offset,
	})
}

func (s *Server) clearRequests(c *gin.Context) {
	if err := s.store.ClearFlows(); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

func (s *Server) getRequest(c *gin.Context) {
	rec, err := s.store.GetFlow(c.Param("id"))
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) deleteRequest(c *gin.Context) {
	if err := s.store.DeleteFlow(c.Param("id")); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) tagRequest(c *gin.Context) {
	var body struct {
		Tags []string `json:"tags"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	if err := s.store.TagFlow(c.Param("id"), body.Tags); err != nil {
		abortError(c, err)
		return
	}
	rec, err := s.store.GetFlow(c.Param("id"))
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}
