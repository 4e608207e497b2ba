package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/fathom-research/fathom/pkg/checkpoint"
)

// handleGetCheckpoint returns checkpoint metadata for one session.
// A missing checkpoint is {"success": false}, not an error status body.
func (s *Server) handleGetCheckpoint(c *gin.Context) {
	info, err := s.store.GetInfo(c.Request.Context(), c.Param("session_id"))
	if errors.Is(err, checkpoint.ErrNoCheckpoint) {
		c.JSON(http.StatusNotFound, gin.H{"success": false})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "checkpoint": info})
}

// handleListCheckpoints lists checkpoint metadata, optionally filtered.
func (s *Server) handleListCheckpoints(c *gin.Context) {
	status := c.Query("status")
	limit, _ := strconv.Atoi(c.Query("limit"))
	var userID *string
	if uid := c.Query("user_id"); uid != "" {
		userID = &uid
	}

	infos, err := s.store.List(c.Request.Context(), userID, status, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	if infos == nil {
		infos = []checkpoint.Info{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "checkpoints": infos})
}

// handleDeleteCheckpoint removes a session's checkpoint. Deleting a
// missing checkpoint reports success=false, not an error.
func (s *Server) handleDeleteCheckpoint(c *gin.Context) {
	deleted, err := s.store.Delete(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": deleted})
}
