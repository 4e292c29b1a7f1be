// Package server implements the HTTP surface using the Echo framework.
//
// Routes: WebSocket attach (/ws), publish API for sibling services
// (/api/events, /api/progress, /api/notifications), observability
// (/api/stats, /api/status, /healthz, /readyz, /metrics).
// Handlers split by concern: handlers_ws.go, handlers_api.go, handlers_health.go.
package server
