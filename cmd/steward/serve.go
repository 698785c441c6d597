package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/Steward/internal/api"
	"github.com/MikeSquared-Agency/Steward/internal/config"
	"github.com/MikeSquared-Agency/Steward/internal/embedding"
	"github.com/MikeSquared-Agency/Steward/internal/graduation"
	"github.com/MikeSquared-Agency/Steward/internal/hermes"
	"github.com/MikeSquared-Agency/Steward/internal/learning"
	"github.com/MikeSquared-Agency/Steward/internal/llm"
	"github.com/MikeSquared-Agency/Steward/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the learning API, NATS ingress and metrics server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg, logger)
	},
}

func serve(parent context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	// Hermes (optional)
	var hermesClient hermes.Client
	if cfg.Hermes.URL != "" {
		hc, err := hermes.NewNATSClient(ctx, cfg.Hermes.URL, logger)
		if err != nil {
			logger.Warn("failed to connect to hermes, running without events", "error", err)
		} else {
			hermesClient = hc
			defer hc.Close()
			logger.Info("connected to hermes")
		}
	}

	// Embeddings (optional)
	var embedder embedding.Embedder
	if svc, err := embedding.NewService(embedding.Config{
		BaseURL: cfg.Embedding.BaseURL,
		Model:   cfg.Embedding.Model,
		APIKey:  cfg.Embedding.APIKey,
	}); err != nil {
		logger.Warn("embeddings disabled, falling back to word overlap", "error", err)
	} else {
		embedder = svc
	}

	// LLMs (optional)
	var synthesizer learning.RuleSynthesizer
	var guidance llm.Client
	if cfg.LLM.APIKey != "" {
		ruleClient, err := llm.NewAnthropicClient(cfg.LLM.APIKey, cfg.LLM.RuleModel, cfg.LLM.MaxTokens)
		if err != nil {
			return fmt.Errorf("rule model: %w", err)
		}
		guidanceClient, err := llm.NewAnthropicClient(cfg.LLM.APIKey, cfg.LLM.GuidanceModel, cfg.LLM.MaxTokens)
		if err != nil {
			return fmt.Errorf("guidance model: %w", err)
		}
		synthesizer = learning.NewLLMSynthesizer(ruleClient, logger)
		guidance = guidanceClient
		logger.Info("language models configured", "rule_model", ruleClient.Model(), "guidance_model", guidanceClient.Model())
	} else {
		logger.Warn("no LLM API key, rule synthesis disabled and guidance uses templates")
	}

	tracker := graduation.NewTracker(db, hermesClient, cfg.Learning.GraduationThreshold, logger)
	pipeline := learning.NewPipeline(learning.Options{
		Store:       db,
		Embedder:    embedder,
		Synthesizer: synthesizer,
		GuidanceLLM: guidance,
		Graduation:  tracker,
		Events:      hermesClient,
		Logger:      logger,
	})
	handler := api.NewLearningHandler(pipeline, tracker, logger)

	if err := api.SetupSubscriptions(hermesClient, handler, logger); err != nil {
		logger.Warn("failed to subscribe to learning requests", "error", err)
	}

	// API server
	apiServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewRouter(db, handler, cfg.Server.AdminToken, cfg.Server.RateLimitPerMinute, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Metrics server
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler:           api.NewMetricsRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("API server starting", "port", cfg.Server.Port)
		if err := apiServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("API server error", "error", err)
			stop()
		}
	}()

	go func() {
		logger.Info("metrics server starting", "port", cfg.Server.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = apiServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)

	logger.Info("shutdown complete")
	return nil
}

// openStore connects to Postgres, or falls back to the in-memory store when
// no database is configured.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.Database.URL == "" {
		logger.Warn("no database configured, using in-memory store")
		return store.NewMemoryStore(), nil
	}

	if cfg.Database.AutoMigrate {
		applied, err := store.Migrate(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("migrations applied", "count", applied)
	}

	db, err := store.NewPostgresStore(ctx, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	logger.Info("connected to database")
	return db, nil
}
