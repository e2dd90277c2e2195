package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tabletalk/tabletalk/internal/analysis"
	"github.com/tabletalk/tabletalk/internal/api"
	"github.com/tabletalk/tabletalk/internal/auth"
	"github.com/tabletalk/tabletalk/internal/chart"
	"github.com/tabletalk/tabletalk/internal/config"
	"github.com/tabletalk/tabletalk/internal/dataset"
	"github.com/tabletalk/tabletalk/internal/generation"
	"github.com/tabletalk/tabletalk/internal/observability"
	"github.com/tabletalk/tabletalk/internal/sandbox"
	"github.com/tabletalk/tabletalk/internal/session"
	sessionpostgres "github.com/tabletalk/tabletalk/internal/session/postgres"
	s3store "github.com/tabletalk/tabletalk/internal/storage/s3"
)

func main() {
	cfg, err := config.LoadFromEnv("tabletalk-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	objectStore, err := s3store.New(context.Background(), s3store.Config{
		Endpoint:         cfg.ObjectStore.Endpoint,
		Region:           cfg.ObjectStore.Region,
		Bucket:           cfg.ObjectStore.Bucket,
		AccessKeyID:      cfg.ObjectStore.AccessKeyID,
		SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
		UseSSL:           cfg.ObjectStore.UseSSL,
		Prefix:           cfg.ObjectStore.Prefix,
		AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
	})
	if err != nil {
		logger.Error("failed to initialize object store", slog.Any("error", err))
		os.Exit(1)
	}

	datasets, err := dataset.NewStore(objectStore)
	if err != nil {
		logger.Error("failed to initialize dataset store", slog.Any("error", err))
		os.Exit(1)
	}

	backends := make([]generation.Client, 0, 2)
	primary, err := generation.NewOpenAIClient(generation.OpenAIConfig{
		Name:    "primary",
		BaseURL: cfg.Generation.BaseURL,
		APIKey:  cfg.Generation.APIKey,
		Model:   cfg.Generation.Model,
		Timeout: cfg.Generation.Timeout,
	})
	if err != nil {
		logger.Error("failed to initialize generation backend", slog.Any("error", err))
		os.Exit(1)
	}
	backends = append(backends, primary)
	if cfg.Generation.FallbackBaseURL != "" {
		fallback, err := generation.NewOpenAIClient(generation.OpenAIConfig{
			Name:    "fallback",
			BaseURL: cfg.Generation.FallbackBaseURL,
			APIKey:  cfg.Generation.FallbackAPIKey,
			Model:   cfg.Generation.FallbackModel,
			Timeout: cfg.Generation.Timeout,
		})
		if err != nil {
			logger.Error("failed to initialize fallback generation backend", slog.Any("error", err))
			os.Exit(1)
		}
		backends = append(backends, fallback)
	}
	generator, err := generation.NewFailover(logger, backends...)
	if err != nil {
		logger.Error("failed to initialize generation failover", slog.Any("error", err))
		os.Exit(1)
	}

	var sessions session.Store
	if cfg.Sessions.DSN != "" {
		sessionDB, err := sessionpostgres.Open(context.Background(), sessionpostgres.DBConfig{
			DSN:             cfg.Sessions.DSN,
			MaxOpenConns:    cfg.Sessions.MaxOpenConns,
			MaxIdleConns:    cfg.Sessions.MaxIdleConns,
			ConnMaxIdleTime: cfg.Sessions.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.Sessions.ConnMaxLifetime,
		})
		if err != nil {
			logger.Error("failed to open session db", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = sessionDB.Close() }()
		sessions, err = sessionpostgres.NewStore(sessionDB, cfg.Sessions.TTL, cfg.Sessions.MaxTurns)
		if err != nil {
			logger.Error("failed to initialize session store", slog.Any("error", err))
			os.Exit(1)
		}
	} else {
		sessions = session.NewMemoryStore(cfg.Sessions.TTL, cfg.Sessions.MaxTurns)
	}

	var renderer chart.Renderer
	if cfg.Chart.Enabled {
		renderer, err = chart.NewHTTPRenderer(chart.HTTPConfig{
			RenderURL: cfg.Chart.RenderURL,
			Timeout:   cfg.Chart.Timeout,
			Scale:     float64(cfg.Chart.Scale),
		})
		if err != nil {
			logger.Error("failed to initialize chart renderer", slog.Any("error", err))
			os.Exit(1)
		}
	}

	executor := sandbox.NewExecutor()
	agent, err := analysis.NewAgent(analysis.Config{
		Generator:   generator,
		Executor:    executor,
		Renderer:    renderer,
		Logger:      logger,
		MaxRetries:  cfg.Analysis.MaxRetries,
		RowCap:      cfg.Analysis.RowCap,
		Temperature: cfg.Analysis.Temperature,
	})
	if err != nil {
		logger.Error("failed to initialize analysis agent", slog.Any("error", err))
		os.Exit(1)
	}

	deps := api.Dependencies{
		Logger:   logger,
		Datasets: datasets,
		Agent:    agent,
		Sessions: sessions,
		Sampler:  executor,
		Readiness: api.CombineReadinessChecks(
			api.CheckObjectStoreConfig(cfg),
			api.CheckGenerationConfig(cfg),
		),
		DependencyTimeout: time.Second,
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go sessionJanitor(ctx, logger, sessions)

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}

func sessionJanitor(ctx context.Context, logger *slog.Logger, sessions session.Store) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := sessions.DeleteExpired(ctx)
			if err != nil {
				logger.Warn("session eviction failed", slog.Any("error", err))
				continue
			}
			if removed > 0 {
				logger.Info("evicted expired sessions", slog.Int("removed", removed))
			}
		}
	}
}
