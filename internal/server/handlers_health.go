package server

import (
	"context"
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
)

func (s *Server) handleLiveness(c echo.Context) error {
	return c.JSON(200, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startTime).Seconds(),
	})
}

func (s *Server) handleReadiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"service", s.checkService},
		{"redis", s.checkRedis},
	}

	for _, check := range checks {
		if err := check.fn(ctx); err != nil {
			return c.JSON(503, map[string]any{
				"status":       "unhealthy",
				"failed_check": check.name,
				"error":        err.Error(),
			})
		}
	}

	return c.JSON(200, map[string]string{"status": "ready"})
}

func (s *Server) checkService(context.Context) error {
	if !s.service.Status().Running {
		return fmt.Errorf("realtime service not running")
	}
	return nil
}

// checkRedis is a no-op on the in-memory bus.
func (s *Server) checkRedis(ctx context.Context) error {
	if s.redisPing == nil {
		return nil
	}
	return s.redisPing.Ping(ctx)
}
