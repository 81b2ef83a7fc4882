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

	"github.com/askdb/askdb/internal/agent"
	"github.com/askdb/askdb/internal/api"
	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/contextgen"
	"github.com/askdb/askdb/internal/export"
	s3store "github.com/askdb/askdb/internal/export/s3"
	metastorepostgres "github.com/askdb/askdb/internal/metastore/postgres"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/schema"
	"github.com/askdb/askdb/internal/semantic"
	"github.com/askdb/askdb/internal/sqlexec"
)

func main() {
	cfg, err := config.LoadFromEnv("askdb-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	logger.Info("effective configuration", slog.String("config", cfg.String()))

	metastoreDB, err := metastorepostgres.Open(context.Background(), metastorepostgres.DBConfig{
		DSN:             cfg.Metastore.DSN,
		MaxOpenConns:    cfg.Metastore.MaxOpenConns,
		MaxIdleConns:    cfg.Metastore.MaxIdleConns,
		ConnMaxIdleTime: cfg.Metastore.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Metastore.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to open metastore db", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = metastoreDB.Close() }()

	repo := metastorepostgres.NewRepository(metastoreDB)
	contexts := semantic.NewStore(repo)
	executor := sqlexec.NewExecutor(cfg.Agent.MaxRows)
	orchestrator := agent.NewOrchestrator(repo, contexts, executor, logger, agent.Options{
		SQLTemperature:    cfg.Agent.SQLTemperature,
		MaxTokens:         cfg.Agent.MaxTokens,
		HistoryLimit:      cfg.Agent.HistoryLimit,
		ExampleQueries:    cfg.Agent.ExampleQueries,
		GenerationTimeout: cfg.Agent.GenerationTimeout,
		QueryTimeout:      cfg.Agent.QueryTimeout,
	})
	drafter := contextgen.NewGenerator(repo, logger, contextgen.Options{
		Temperature: cfg.Agent.ContextTemperature,
		MaxTokens:   cfg.Agent.MaxTokens,
	})

	deps := api.Dependencies{
		Logger:    logger,
		Repo:      repo,
		Agent:     orchestrator,
		Inspector: schema.NewInspector(),
		Drafter:   drafter,
		Readiness: api.CombineReadinessChecks(
			api.CheckMetastore(repo),
			api.CheckExportConfig(cfg),
		),
		DependencyTimeout: time.Second,
	}
	if cfg.Export.Enabled {
		store, err := s3store.New(context.Background(), s3store.Config{
			Endpoint:         cfg.Export.Endpoint,
			Region:           cfg.Export.Region,
			Bucket:           cfg.Export.Bucket,
			AccessKeyID:      cfg.Export.AccessKeyID,
			SecretAccessKey:  cfg.Export.SecretAccessKey,
			UseSSL:           cfg.Export.UseSSL,
			Prefix:           cfg.Export.Prefix,
			AutoCreateBucket: cfg.Export.AutoCreateBucket,
		})
		if err != nil {
			logger.Error("failed to initialize export store", slog.Any("error", err))
			os.Exit(1)
		}
		deps.Exporter = export.NewExporter(store, logger)
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
