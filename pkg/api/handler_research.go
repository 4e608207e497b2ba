package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/fathom-research/fathom/pkg/checkpoint"
	"github.com/fathom-research/fathom/pkg/events"
	"github.com/fathom-research/fathom/pkg/orchestrator"
)

// streamRequest is the stream endpoint's body (POST) or query shape (GET).
type streamRequest struct {
	Query         string `json:"query" form:"query"`
	SessionID     string `json:"session_id" form:"session_id"`
	MaxIterations int    `json:"max_iterations" form:"max_iterations"`
	Resume        bool   `json:"resume" form:"resume"`
	UserID        string `json:"user_id" form:"user_id"`
}

// handleStream starts (or resumes) a research run and streams its events
// as SSE frames, terminated by a [DONE] frame. Once the stream has begun
// errors surface only as error events, never as a non-2xx.
func (s *Server) handleStream(c *gin.Context) {
	var req streamRequest
	if c.Request.Method == http.MethodGet {
		req.Query = c.Query("query")
		req.SessionID = c.Query("session_id")
		req.MaxIterations, _ = strconv.Atoi(c.Query("max_iterations"))
		req.Resume = c.Query("resume") == "true"
		req.UserID = c.Query("user_id")
	} else if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body"})
		return
	}
	if req.Query == "" && !req.Resume {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "query is required"})
		return
	}

	orch, err := s.buildRun(c, req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	s.stream(c, orch)
}

// handleResume re-opens the SSE stream for a checkpointed session.
func (s *Server) handleResume(c *gin.Context) {
	sessionID := c.Param("session_id")
	orch, err := s.factory.Resume(c.Request.Context(), sessionID, nil)
	if errors.Is(err, checkpoint.ErrNoCheckpoint) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "no checkpoint for session"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	s.stream(c, orch)
}

// handleCancel sets the cancellation flag. Idempotent.
func (s *Server) handleCancel(c *gin.Context) {
	sessionID := c.Param("session_id")
	if err := s.signal.Request(c.Request.Context(), sessionID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	slog.Info("Cancellation requested", "session_id", sessionID)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// buildRun resolves resume-vs-fresh. A resume request without a checkpoint
// falls back to a fresh run when a query was provided.
func (s *Server) buildRun(c *gin.Context, req streamRequest) (*orchestrator.Orchestrator, error) {
	var userID *string
	if req.UserID != "" {
		userID = &req.UserID
	}
	if req.Resume && req.SessionID != "" {
		orch, err := s.factory.Resume(c.Request.Context(), req.SessionID, userID)
		if err == nil {
			return orch, nil
		}
		if !errors.Is(err, checkpoint.ErrNoCheckpoint) {
			return nil, err
		}
	}
	return s.factory.NewRun(orchestrator.StartRequest{
		Query:         req.Query,
		SessionID:     req.SessionID,
		MaxIterations: req.MaxIterations,
		UserID:        userID,
	})
}

// stream pumps orchestrator events to the client as SSE frames. The
// channel is always drained to completion so late checkpoint writes finish
// even after a client disconnect.
func (s *Server) stream(c *gin.Context, orch *orchestrator.Orchestrator) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	for ev := range orch.Run(c.Request.Context()) {
		writeFrame(c.Writer, ev)
		c.Writer.Flush()
	}
	_, _ = io.WriteString(c.Writer, "data: [DONE]\n\n")
	c.Writer.Flush()
}

// writeFrame renders one "data: <json>\n\n" frame with UTF-8 preserved.
func writeFrame(w io.Writer, ev events.Event) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(ev); err != nil {
		slog.Warn("Could not encode event", "type", ev.Type, "error", err)
		return
	}
	// Encode appends a newline; the frame needs exactly data: <json>\n\n.
	payload := bytes.TrimRight(buf.Bytes(), "\n")
	_, _ = io.WriteString(w, "data: ")
	_, _ = w.Write(payload)
	_, _ = io.WriteString(w, "\n\n")
}
