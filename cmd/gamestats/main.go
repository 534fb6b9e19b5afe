package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/tjfontaine/gamestats/internal/analytics"
	"github.com/tjfontaine/gamestats/internal/config"
	"github.com/tjfontaine/gamestats/internal/core/ports"
	"github.com/tjfontaine/gamestats/internal/games"
	"github.com/tjfontaine/gamestats/internal/pipeline"
	"github.com/tjfontaine/gamestats/internal/server"
	"github.com/tjfontaine/gamestats/internal/storage/memory"
	"github.com/tjfontaine/gamestats/internal/storage/mongo"
	"github.com/tjfontaine/gamestats/internal/storage/sqlite"
	"github.com/tjfontaine/gamestats/internal/telemetry"
)

func main() {
	configPath := flag.String("config", envOr("GAMESTATS_CONFIG", "config.yaml"), "path to the YAML config file")
	flag.Parse()

	// Load .env file if it exists
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("gamestats stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	var traceOut io.Writer = io.Discard
	if cfg.Tracing.Exporter == "stdout" {
		traceOut = os.Stdout
	}
	shutdownTracer, err := telemetry.InitTracer(telemetry.ServiceName, traceOut, logger)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(reg)

	registry, err := games.NewRegistry(cfg.Games, cfg.Policies, pipeline.WithSink(metrics.SanitizerSink()))
	if err != nil {
		return fmt.Errorf("build game registry: %w", err)
	}
	if len(registry.List()) == 0 {
		logger.Warn("no games configured; every game request will return not_found")
	}

	connectTimeout, err := time.ParseDuration(cfg.Mongo.ConnectTimeout)
	if err != nil {
		return fmt.Errorf("invalid mongo.connect_timeout %q: %w", cfg.Mongo.ConnectTimeout, err)
	}
	startCtx, cancelStart := context.WithTimeout(context.Background(), connectTimeout+5*time.Second)
	defer cancelStart()

	store, err := mongo.New(startCtx, mongo.Config{
		URI:            cfg.Mongo.URI,
		Database:       cfg.Mongo.Database,
		ConnectTimeout: connectTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("connect to mongo: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			logger.Error("failed to close mongo", slog.String("error", err.Error()))
		}
	}()
	if err := store.EnsureCollections(startCtx, registry.Collections()); err != nil {
		return fmt.Errorf("prepare collections: %w", err)
	}

	audit, err := openAuditStore(cfg.Audit)
	if err != nil {
		return err
	}
	execOpts := []analytics.Option{
		analytics.WithMetrics(metrics),
		analytics.WithLogger(logger),
	}
	if audit != nil {
		defer audit.Close()
		execOpts = append(execOpts, analytics.WithAuditStore(audit))
	}
	executor := analytics.NewExecutor(registry, store, execOpts...)

	timeout, err := cfg.Server.Timeout()
	if err != nil {
		return err
	}
	srv := server.New(cfg.Server.Port, timeout, logger)
	server.NewHandler(server.HandlerConfig{
		Games:    registry,
		Store:    store,
		Executor: executor,
		Metrics:  metrics,
		Gatherer: reg,
		MaxBody:  cfg.Server.MaxBodyBytes,
		Logger:   logger,
	}).Register(srv.Router)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info("gamestats started",
		slog.Int("port", cfg.Server.Port),
		slog.Int("games", len(registry.List())),
		slog.String("audit", cfg.Audit.Type),
	)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-sigChan:
	}

	logger.Info("shutdown signal received, stopping server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// openAuditStore returns nil when auditing is disabled.
func openAuditStore(cfg config.AuditConfig) (ports.AuditStore, error) {
	switch cfg.Type {
	case "sqlite":
		if dir := filepath.Dir(cfg.SQLite.Path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create audit directory: %w", err)
			}
		}
		store, err := sqlite.New(cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("open audit database: %w", err)
		}
		return store, nil
	case "memory":
		return memory.New(), nil
	default:
		return nil, nil
	}
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
