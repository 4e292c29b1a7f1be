package server

import (
	"crypto/subtle"
	"encoding/json"

	"github.com/labstack/echo/v4"

	apperrors "github.com/48Nauts-Operator/lineary-realtime/internal/errors"
	"github.com/48Nauts-Operator/lineary-realtime/internal/platform/version"
	"github.com/48Nauts-Operator/lineary-realtime/internal/service"
)

// requireAPIKey guards the publish API. An empty configured key keeps
// the API open for local development.
func (s *Server) requireAPIKey(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.config.APIKey == "" {
			return next(c)
		}
		key := c.Request().Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.config.APIKey)) != 1 {
			return apperrors.UnauthorizedError("invalid API key")
		}
		return next(c)
	}
}

// scopeRequest narrows a publish to one audience. At most one field may
// be set; an empty scope broadcasts.
type scopeRequest struct {
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Room      string `json:"room,omitempty"`
}

func (r scopeRequest) options() ([]service.PublishOption, error) {
	var opts []service.PublishOption
	if r.UserID != "" {
		opts = append(opts, service.WithUser(r.UserID))
	}
	if r.SessionID != "" {
		opts = append(opts, service.WithSession(r.SessionID))
	}
	if r.Room != "" {
		opts = append(opts, service.WithRoom(r.Room))
	}
	if len(opts) > 1 {
		return nil, apperrors.ValidationError("scope must name at most one of user_id, session_id, room")
	}
	return opts, nil
}

type publishEventRequest struct {
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	Scope     scopeRequest    `json:"scope"`
}

func (s *Server) handlePublishEvent(c echo.Context) error {
	var req publishEventRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if req.EventType == "" {
		return apperrors.ValidationError("event_type is required")
	}
	opts, err := req.Scope.options()
	if err != nil {
		return err
	}

	delivered, err := s.service.PublishEvent(c.Request().Context(), req.EventType, req.Payload, opts...)
	if err != nil {
		return apperrors.ExternalError("failed to hand event to the distribution bus", err).
			WithContext("event_type", req.EventType).
			WithContext("delivered_local", delivered)
	}
	return c.JSON(200, map[string]any{"status": "ok", "delivered_local": delivered})
}

type publishProgressRequest struct {
	service.ProgressUpdate
	Scope scopeRequest `json:"scope"`
}

func (s *Server) handlePublishProgress(c echo.Context) error {
	var req publishProgressRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if req.OperationID == "" {
		return apperrors.ValidationError("operation_id is required")
	}
	if req.Percent < 0 || req.Percent > 100 {
		return apperrors.ValidationError("percent must be between 0 and 100").
			WithContext("percent", req.Percent)
	}
	opts, err := req.Scope.options()
	if err != nil {
		return err
	}

	delivered, err := s.service.PublishProgress(c.Request().Context(), req.ProgressUpdate, opts...)
	if err != nil {
		return apperrors.ExternalError("failed to hand progress update to the distribution bus", err).
			WithContext("operation_id", req.OperationID).
			WithContext("delivered_local", delivered)
	}
	return c.JSON(200, map[string]any{"status": "ok", "delivered_local": delivered})
}

type publishNotificationRequest struct {
	service.Notification
	Scope scopeRequest `json:"scope"`
}

func (s *Server) handlePublishNotification(c echo.Context) error {
	var req publishNotificationRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if req.Title == "" {
		return apperrors.ValidationError("title is required")
	}
	switch req.Level {
	case "", "info", "warning", "error":
	default:
		return apperrors.ValidationError("level must be info, warning, or error").
			WithContext("level", req.Level)
	}
	opts, err := req.Scope.options()
	if err != nil {
		return err
	}

	delivered, err := s.service.PublishNotification(c.Request().Context(), req.Notification, opts...)
	if err != nil {
		return apperrors.ExternalError("failed to hand notification to the distribution bus", err).
			WithContext("title", req.Title).
			WithContext("delivered_local", delivered)
	}
	return c.JSON(200, map[string]any{"status": "ok", "delivered_local": delivered})
}

func (s *Server) handleStats(c echo.Context) error {
	return c.JSON(200, s.manager.Stats())
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(200, map[string]any{
		"service": s.service.Status(),
		"build":   version.Get(),
	})
}
