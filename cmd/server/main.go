package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/48Nauts-Operator/lineary-realtime/internal/bus"
	"github.com/48Nauts-Operator/lineary-realtime/internal/metrics"
	"github.com/48Nauts-Operator/lineary-realtime/internal/platform/config"
	"github.com/48Nauts-Operator/lineary-realtime/internal/platform/logging"
	"github.com/48Nauts-Operator/lineary-realtime/internal/platform/version"
	"github.com/48Nauts-Operator/lineary-realtime/internal/realtime"
	"github.com/48Nauts-Operator/lineary-realtime/internal/redis"
	"github.com/48Nauts-Operator/lineary-realtime/internal/server"
	"github.com/48Nauts-Operator/lineary-realtime/internal/service"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

// setupBus picks the cross-instance bus. Without a Redis URL the core
// runs single-instance on the in-memory loopback.
func setupBus(cfg *config.Config) (bus.Bus, *redis.Client) {
	if cfg.RedisURL == "" {
		slog.Info("No REDIS_URL configured, using in-memory event bus")
		return bus.NewMemoryBus(), nil
	}

	client, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to create Redis client", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	slog.Info("Connected to Redis event bus")
	return redis.NewBus(client), client
}

func runGracefulShutdown(cfg *config.Config, srv *server.Server, svc *service.Service) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer stopCancel()
		if err := svc.Stop(stopCtx); err != nil {
			slog.Error("Realtime service stop error", "error", err)
		}

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logger := logging.Init(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port)

	info := version.Get()
	metrics.BuildInfo.WithLabelValues(info.Version, info.Commit, info.BuildTime, info.GoVersion).Set(1)

	eventBus, redisClient := setupBus(cfg)
	defer func() { _ = eventBus.Close() }()
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	manager := realtime.NewManager(cfg.WriteTimeout, cfg.RateLimitPerMinute, clock, logger)
	svc := service.New(manager, eventBus, cfg.HeartbeatInterval, clock, logger)

	if err := svc.Start(context.Background()); err != nil {
		slog.Error("Failed to start realtime service", "error", err)
		os.Exit(1)
	}

	auth := server.NewCookieAuthenticator(cfg.SessionSecret, cfg.AppEnv == "production", cfg.AllowAnonymous)

	// Pass nil explicitly to avoid a typed-nil interface.
	var srv *server.Server
	if redisClient != nil {
		srv = server.New(cfg, manager, svc, auth, redisClient)
	} else {
		srv = server.New(cfg, manager, svc, auth, nil)
	}

	done := runGracefulShutdown(cfg, srv, svc)

	slog.Info("Server starting", "port", cfg.Port, "instance_id", svc.InstanceID())
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
