package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	uuid "github.com/satori/go.uuid"

	"github.com/vsthakur101/webapi-moderator/analyzer"
	"github.com/vsthakur101/webapi-moderator/storage"
)

type codecBody struct {
	Data     string `json:"data" binding:"required"`
	Encoding string `json:"encoding" binding:"required"`
}

func (s *Server) decoderEncode(c *gin.Context) {
	var body codecBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	out, err := analyzer.Encode(body.Data, body.Encoding)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"output": "", "encoding": body.Encoding, "success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"output": out, "encoding": body.Encoding, "success": true})
}

func (s *Server) decoderDecode(c *gin.Context) {
	var body codecBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	out, err := analyzer.Decode(body.Data, body.Encoding)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"output": "", "encoding": body.Encoding, "success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"output": out, "encoding": body.Encoding, "success": true})
}

func (s *Server) decoderHash(c *gin.Context) {
	var body struct {
		Data      string `json:"data" binding:"required"`
		Algorithm string `json:"algorithm" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	out, err := analyzer.Hash(body.Data, body.Algorithm)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"output": "", "algorithm": body.Algorithm, "success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"output": out, "algorithm": body.Algorithm, "success": true})
}

func (s *Server) decoderSmartDecode(c *gin.Context) {
	var body struct {
		Data string `json:"data" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	steps := analyzer.SmartDecode(body.Data)
	final := body.Data
	if len(steps) > 0 {
		final = steps[len(steps)-1].Output
	}
	c.JSON(http.StatusOK, gin.H{"steps": steps, "output": final})
}

func (s *Server) comparerCompare(c *gin.Context) {
	var body struct {
		Left  string `json:"left"`
		Right string `json:"right"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, analyzer.Compare(body.Left, body.Right))
}

func (s *Server) sequencerAnalyze(c *gin.Context) {
	var body struct {
		Name   string   `json:"name"`
		Tokens []string `json:"tokens" binding:"required"`
		Save   bool     `json:"save"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	result := analyzer.AnalyzeTokens(body.Tokens)

	if body.Save {
		raw, err := json.Marshal(result)
		if err == nil {
			rec := &storage.SequencerAnalysis{
				ID:         uuid.NewV4().String(),
				Name:       body.Name,
				TokenCount: len(body.Tokens),
				ResultJSON: string(raw),
				CreatedAt:  time.Now().UTC(),
			}
			if err := s.store.PutAnalysis(rec); err != nil {
				abortError(c, err)
				return
			}
		}
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) listSequencerAnalyses(c *gin.Context) {
	analyses, err := s.store.ListAnalyses()
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, analyses)
}

func (s *Server) deleteSequencerAnalysis(c *gin.Context) {
	if err := s.store.DeleteAnalysis(c.Param("id")); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
