package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	apperrors "github.com/48Nauts-Operator/lineary-realtime/internal/errors"
	"github.com/48Nauts-Operator/lineary-realtime/internal/platform/config"
	"github.com/48Nauts-Operator/lineary-realtime/internal/platform/correlation"
	"github.com/48Nauts-Operator/lineary-realtime/internal/realtime"
	"github.com/48Nauts-Operator/lineary-realtime/internal/service"
)

// redisPinger is the readiness probe against the bus backend. Nil when
// the service runs on the in-memory bus.
type redisPinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	echo       *echo.Echo
	config     *config.Config
	manager    *realtime.Manager
	service    *service.Service
	auth       Authenticator
	connLimits *ConnectionLimits
	redisPing  redisPinger
	startTime  time.Time
}

func New(cfg *config.Config, manager *realtime.Manager, svc *service.Service, auth Authenticator, redisPing redisPinger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(correlationMiddleware)
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			p := c.Request().URL.Path
			return p == "/healthz" || p == "/readyz" || p == "/metrics"
		},
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.LogAttrs(c.Request().Context(), slog.LevelInfo, "request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(apperrors.Middleware())

	srv := &Server{
		echo:    e,
		config:  cfg,
		manager: manager,
		service: svc,
		auth:    auth,
		connLimits: NewConnectionLimits(
			int64(cfg.MaxConnections),
			cfg.MaxConnectionsPerIP,
			cfg.ConnectionRate,
			cfg.ConnectionBurst,
		),
		redisPing: redisPing,
		startTime: time.Now(),
	}
	srv.registerRoutes()
	return srv
}

func (s *Server) Start() error {
	slog.Info("starting http server", "port", s.config.Port)
	return s.echo.Start(fmt.Sprintf(":%s", s.config.Port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// correlationMiddleware tags every request context with a correlation
// id, so log lines from the handler chain can be tied together.
func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Request().Header.Get("X-Correlation-ID")
		if id == "" {
			id = correlation.NewID()
		}
		ctx := correlation.WithID(c.Request().Context(), id)
		c.SetRequest(c.Request().WithContext(ctx))
		c.Response().Header().Set("X-Correlation-ID", id)
		return next(c)
	}
}

// apiRateLimiter throttles the publish API per caller IP.
func apiRateLimiter(perSecond float64, burst int) echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(perSecond),
		Burst:     burst,
		ExpiresIn: 3 * time.Minute,
	})
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return apperrors.InternalError("failed to identify rate limit caller", err)
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return apperrors.RateLimitedError("api rate limit exceeded")
		},
	})
}
