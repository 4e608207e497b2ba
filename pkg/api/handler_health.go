package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// handleHealth reports service health including database and cancel-store
// reachability.
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancelProbe := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancelProbe()

	status := "ok"
	checks := gin.H{}
	if s.db != nil {
		if err := s.db.Ping(ctx); err != nil {
			status = "degraded"
			checks["database"] = err.Error()
		} else {
			checks["database"] = "ok"
		}
	}
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			status = "degraded"
			checks["redis"] = err.Error()
		} else {
			checks["redis"] = "ok"
		}
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": status, "checks": checks})
}
