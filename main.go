// Package main implements logwarden, a log observability and analysis
// service. It ingests log events for registered monitored systems,
// scores them against a fixed set of risk criteria through an LLM
// backend, maintains deduplicated findings with a lifecycle, and serves
// the operator HTTP API.
//
// Configuration is provided through environment variables (optionally
// from a .env file):
//   - DATABASE_URL: Postgres connection string (required)
//   - LISTEN_ADDR: API listen address (default :8080)
//   - API_TOKENS: comma-separated bearer tokens; empty leaves the API open
//   - OPENAI_API_KEY: fallback LLM key when none is stored in ai_config
//   - HEALTH_PORT / HEALTH_BIND_ADDR: probe and metrics endpoint
//   - BACKUP_DIR: target directory for scheduled pg_dump backups
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/logwarden/logwarden/internal/api"
	"github.com/logwarden/logwarden/internal/audit"
	"github.com/logwarden/logwarden/internal/config"
	"github.com/logwarden/logwarden/internal/findings"
	"github.com/logwarden/logwarden/internal/health"
	"github.com/logwarden/logwarden/internal/llm"
	"github.com/logwarden/logwarden/internal/maintenance"
	"github.com/logwarden/logwarden/internal/metrics"
	"github.com/logwarden/logwarden/internal/model"
	"github.com/logwarden/logwarden/internal/pipeline"
	"github.com/logwarden/logwarden/internal/sched"
	"github.com/logwarden/logwarden/internal/store"
	"github.com/logwarden/logwarden/internal/suppress"
	"github.com/logwarden/logwarden/internal/template"
)

// Build information, set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	// Load .env if present (development convenience).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	logger.Info("Starting logwarden",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("listen_addr", cfg.ListenAddr),
		zap.String("database", config.MaskDSN(cfg.DatabaseURL)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}
	defer st.Close()

	resolver := config.NewResolver(st, logger)
	m := metrics.New(logger)
	auditLog := audit.NewLogger(logger, true)
	auditLog.SetSink(func(e audit.Entry) {
		writeCtx, writeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer writeCancel()
		if err := st.InsertAuditEntry(writeCtx, e); err != nil {
			logger.Warn("Audit entry not persisted", zap.Error(err))
		}
	})

	usage := &usageRecorder{store: st, metrics: m}
	llmClient := llm.NewClient(resolver, usage, cfg.OpenAIAPIKey, logger)

	templates := template.NewManager(st)
	suppressor := suppress.New(st, logger)
	if err := suppressor.Rebuild(ctx); err != nil {
		logger.Warn("Initial suppressor build failed", zap.Error(err))
	}
	engine := findings.NewEngine(logger)

	// Pipeline ticks and the database backup phase share one gate so the
	// dump never runs concurrently with scoring writes.
	gate := &sched.Gate{}

	pl := pipeline.New(st, resolver, llmClient, templates, suppressor, engine, gate, m, logger)
	go pl.Run(ctx)

	maint := maintenance.NewRunner(st, resolver, cfg, gate, m, logger)
	if err := maint.Start(ctx); err != nil {
		logger.Fatal("Failed to start maintenance scheduler", zap.Error(err))
	}

	checker := health.New(st, resolver, logger)
	healthServer := health.NewServer(checker, logger, cfg.HealthPort, cfg.HealthBindAddr, cfg.MetricsEndpoint)
	go func() {
		if err := healthServer.Start(); err != nil {
			logger.Error("Health server error", zap.Error(err))
		}
	}()

	apiServer := api.NewServer(cfg, st, resolver, pl, templates, suppressor, maint, auditLog, m, logger)
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- apiServer.Start()
	}()
	healthServer.SetReady(true)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-serverDone:
		if err != nil {
			logger.Error("API server error", zap.Error(err))
		}
	}

	// Graceful shutdown: stop accepting requests, halt the schedulers,
	// then close the store.
	logger.Info("Initiating graceful shutdown", zap.Duration("timeout", cfg.ShutdownTimeout))
	healthServer.SetReady(false)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API server shutdown error", zap.Error(err))
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Health server shutdown error", zap.Error(err))
	}
	maint.Stop()

	m.LogSummary()
	logger.Info("Shutdown complete")
	time.Sleep(100 * time.Millisecond)
}

// usageRecorder persists LLM token accounting and mirrors it to the
// metrics registry.
type usageRecorder struct {
	store   *store.Store
	metrics *metrics.Metrics
}

func (u *usageRecorder) RecordUsage(ctx context.Context, usage *model.LlmUsage) error {
	u.metrics.RecordLLMCall(usage.RunType, true, usage.TokenInput, usage.TokenOutput)
	return u.store.RecordUsage(ctx, usage)
}

// initLogger builds the zap logger from the configured level and format.
func initLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}

	var zc zap.Config
	if cfg.LogFormat == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
