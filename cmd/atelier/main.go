package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/atelier-ai/atelier/internal/agent"
	"github.com/atelier-ai/atelier/internal/audit"
	"github.com/atelier-ai/atelier/internal/browse"
	"github.com/atelier-ai/atelier/internal/config"
	"github.com/atelier-ai/atelier/internal/dispatch"
	"github.com/atelier-ai/atelier/internal/health"
	"github.com/atelier-ai/atelier/internal/llm"
	"github.com/atelier-ai/atelier/internal/metrics"
	"github.com/atelier-ai/atelier/internal/pipeline"
	"github.com/atelier-ai/atelier/internal/server"
	"github.com/atelier-ai/atelier/internal/staging"
	"github.com/atelier-ai/atelier/internal/tool"
	"github.com/atelier-ai/atelier/internal/workspace"
)

func main() {
	// .env is optional; real deployments use the environment directly.
	_ = godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	log.Logger = logger

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Int("http_port", cfg.HTTPPort).
		Str("metrics_addr", cfg.MetricsAddr).
		Str("projects_dir", cfg.ProjectsDir).
		Bool("require_approval", cfg.RequireApproval).
		Bool("generation_enabled", cfg.GenerationEnabled()).
		Msg("starting atelier")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Projects
	projects, err := workspace.LoadDir(cfg.ProjectsDir, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load projects")
	}
	if len(projects.List()) == 0 {
		logger.Warn().Str("dir", cfg.ProjectsDir).Msg("no projects found")
	}

	// Audit trail
	auditStore, err := audit.New(cfg.AuditDBPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open audit store")
	}
	defer auditStore.Close()

	// Metrics
	m := metrics.New()

	// Staging store, plus the stage function both execution paths write through
	st := staging.New(auditStore, logger)
	var stage tool.StageFunc = func(ctx context.Context, p *workspace.Project, rel string, content []byte) error {
		_, err := st.Stage(ctx, p, rel, content)
		if err != nil {
			m.RecordStagingOp("stage", "error")
			return err
		}
		m.RecordStagingOp("stage", "ok")
		return nil
	}

	// Generator
	if !cfg.GenerationEnabled() {
		logger.Warn().Msg("ANTHROPIC_API_KEY not set, ask endpoints will fail with generation_failure")
	}
	gen := llm.NewAnthropicProvider(cfg.AnthropicAPIKey, logger,
		llm.WithModel(cfg.Model),
		llm.WithMaxTokens(cfg.MaxTokens),
		llm.WithHTTPClient(&http.Client{Timeout: cfg.GenerationTimeout}),
	)

	// Execution paths
	pipe := pipeline.New(gen, stage, logger)
	ag := agent.New(gen, stage, agent.Config{
		MaxTurns:    cfg.AgentMaxTurns,
		ExecTimeout: cfg.ExecTimeout,
	}, logger)
	dispatcher := dispatch.New(pipe, ag, st, m, cfg.RequireApproval, logger)

	// Browsing
	browser, err := browse.New(cfg.PreviewMaxBytes, cfg.PreviewCacheSize, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init browser")
	}

	// Health checks
	checker := health.NewChecker(logger)
	checker.Register("projects_dir", func(context.Context) health.Status {
		if _, err := os.Stat(cfg.ProjectsDir); err != nil {
			return health.StatusDown
		}
		return health.StatusOK
	})
	checker.Register("anthropic", func(context.Context) health.Status {
		if !cfg.GenerationEnabled() {
			return health.StatusDegraded
		}
		return health.StatusOK
	})

	// API server
	apiServer := server.New(server.Config{
		CORSOrigins:        cfg.CORSOrigins,
		AuthMode:           cfg.AuthMode,
		APIKey:             cfg.APIKey,
		GenerationTimeout:  cfg.GenerationTimeout,
		StreamPingInterval: cfg.StreamPingInterval,
	}, projects, browser, st, dispatcher, auditStore, checker, m, logger)

	// Metrics on its own listener so the API surface stays clean.
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", m.Handler())
	metricsServer := &http.Server{
		Addr:         cfg.MetricsAddr,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := apiServer.Listen(fmt.Sprintf(":%d", cfg.HTTPPort)); err != nil {
			logger.Error().Err(err).Msg("api server error")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server starting")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()

	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(10 * time.Second); err != nil {
		logger.Error().Err(err).Msg("api server shutdown error")
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("metrics server shutdown error")
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("all goroutines stopped")
	case <-time.After(15 * time.Second):
		logger.Warn().Msg("forced shutdown after timeout")
	}

	logger.Info().Msg("atelier stopped")
}
