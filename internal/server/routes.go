package server

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	// Observability endpoints (no auth required)
	s.echo.GET("/healthz", s.handleLiveness)
	s.echo.GET("/readyz", s.handleReadiness)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Client attach point
	s.echo.GET("/ws", s.handleWebSocket)

	// Publish API for sibling services (API key + rate limited)
	api := s.echo.Group("/api",
		apiRateLimiter(s.config.APIRatePerSecond, s.config.APIBurst),
		s.requireAPIKey,
	)
	api.POST("/events", s.handlePublishEvent)
	api.POST("/progress", s.handlePublishProgress)
	api.POST("/notifications", s.handlePublishNotification)
	api.GET("/stats", s.handleStats)
	api.GET("/status", s.handleStatus)
}
