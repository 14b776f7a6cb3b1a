package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	uuid "github.com/satori/go.uuid"

	"github.com/vsthakur101/webapi-moderator/storage"
)

func (s *Server) listCollections(c *gin.Context) {
	collections, err := s.store.ListCollections()
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, collections)
}

func (s *Server) createCollection(c *gin.Context) {
	var body struct {
		Name        string `json:"name" binding:"required"`
		Description string `json:"description"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	now := time.Now().UTC()
	col := &storage.Collection{
		ID:          uuid.NewV4().String(),
		Name:        body.Name,
		Description: body.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.PutCollection(col); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusCreated, col)
}

func (s *Server) getCollection(c *gin.Context) {
	col, err := s.store.GetCollection(c.Param("id"))
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, col)
}

func (s *Server) deleteCollection(c *gin.Context) {
	if err := s.store.DeleteCollection(c.Param("id")); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) addCollectionItem(c *gin.Context) {
	var body struct {
		FlowID string `json:"flow_id" binding:"required"`
		Name   string `json:"name"`
		Notes  string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	if _, err := s.store.GetCollection(c.Param("id")); err != nil {
		abortError(c, err)
		return
	}
	if _, err := s.store.GetFlow(body.FlowID); err != nil {
		abortError(c, err)
		return
	}

	item := &storage.CollectionItem{
		ID:           uuid.NewV4().String(),
		CollectionID: c.Param("id"),
		FlowID:       body.FlowID,
		Name:         body.Name,
		Notes:        body.Notes,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.PutItem(item); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (s *Server) listCollectionItems(c *gin.Context) {
	items, err := s.store.ListItems(c.Param("id"))
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (s *Server) deleteCollectionItem(c *gin.Context) {
	if err := s.store.DeleteItem(c.Param("itemId")); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
