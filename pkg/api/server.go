// Package api exposes the HTTP surface: the SSE research stream plus
// cancel, checkpoint, resume, and health endpoints.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/fathom-research/fathom/pkg/cancel"
	"github.com/fathom-research/fathom/pkg/checkpoint"
	"github.com/fathom-research/fathom/pkg/database"
	"github.com/fathom-research/fathom/pkg/orchestrator"
)

// Server is the HTTP API server.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server

	factory *orchestrator.Factory
	store   checkpoint.Store
	signal  cancel.Signal
	db      *database.Client
	redis   *redis.Client
}

// NewServer wires routes over the research factory and its collaborators.
// db and redisClient may be nil (health then skips those probes).
func NewServer(factory *orchestrator.Factory, store checkpoint.Store, signal cancel.Signal, db *database.Client, redisClient *redis.Client) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())

	s := &Server{
		engine:  engine,
		factory: factory,
		store:   store,
		signal:  signal,
		db:      db,
		redis:   redisClient,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.engine.GET("/health", s.handleHealth)

	research := s.engine.Group("/research")
	{
		research.POST("/stream", s.handleStream)
		research.GET("/stream", s.handleStream)
		research.POST("/cancel/:session_id", s.handleCancel)
		research.POST("/resume/:session_id", s.handleResume)
		research.GET("/checkpoint/:session_id", s.handleGetCheckpoint)
		research.GET("/checkpoints", s.handleListCheckpoints)
		research.DELETE("/checkpoint/:session_id", s.handleDeleteCheckpoint)
	}
}

// Handler exposes the engine for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start begins serving on addr. Blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
