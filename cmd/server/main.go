// Package main is the entrypoint for the BatchFlow API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/kiranshivaraju/batchflow/internal/api"
	"github.com/kiranshivaraju/batchflow/internal/api/handler"
	mw "github.com/kiranshivaraju/batchflow/internal/api/middleware"
	"github.com/kiranshivaraju/batchflow/internal/batch"
	"github.com/kiranshivaraju/batchflow/internal/cache"
	"github.com/kiranshivaraju/batchflow/internal/config"
	"github.com/kiranshivaraju/batchflow/internal/dataset"
	"github.com/kiranshivaraju/batchflow/internal/objectstore"
	"github.com/kiranshivaraju/batchflow/internal/orchestrator"
	"github.com/kiranshivaraju/batchflow/internal/results"
	"github.com/kiranshivaraju/batchflow/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "job_queue", cfg.Batch.JobQueue)
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Connect to the object store
	objects, err := objectstore.NewMinioStore(
		cfg.ObjectStore.Endpoint,
		cfg.ObjectStore.AccessKey,
		cfg.ObjectStore.SecretKey,
		cfg.ObjectStore.UseSSL,
	)
	if err != nil {
		return fmt.Errorf("connect object store: %w", err)
	}
	slog.Info("object store connected", "endpoint", cfg.ObjectStore.Endpoint)

	// 6. Create the batch service client
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Batch.Region))
	if err != nil {
		return fmt.Errorf("load AWS config: %w", err)
	}
	batchClient := batch.NewAWSClient(awsCfg)
	slog.Info("batch client initialized", "region", cfg.Batch.Region)

	// 7. Create the dataset service client
	datasets := dataset.NewHTTPClient(cfg.Dataset.BaseURL, cfg.Dataset.Token, cfg.Dataset.Timeout)

	// 8. Create store and services
	pgStore := store.NewPostgresStore(pool)

	registrar := batch.NewRegistrar(batchClient, pgStore, batch.Limits{
		VCPUsMax:     cfg.Batch.VCPUsMax,
		MemoryMaxMiB: cfg.Batch.MemoryMaxMiB,
	}, cfg.ObjectStore.DatasetBucket, cfg.ObjectStore.OutputBucket, logger)

	svc := orchestrator.NewService(pgStore, redisCache, batchClient, datasets, objects, orchestrator.Config{
		JobQueue:      cfg.Batch.JobQueue,
		DatasetBucket: cfg.ObjectStore.DatasetBucket,
		OutputBucket:  cfg.ObjectStore.OutputBucket,
	}, logger)

	archiver := results.NewArchiver(objects, cfg.ObjectStore.OutputBucket, logger)

	// 9. Build router with dependencies
	auth := mw.NewAuth(pgStore)
	rateLimit := mw.NewRateLimit(redisCache, 60)

	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: rateLimit,

		HealthHandler: handler.NewHealthHandler(map[string]handler.Pinger{
			"database":     pgStore,
			"cache":        redisCache,
			"object_store": objects,
			"datasets":     readyPinger{datasets},
		}),

		ListDefinitionsHandler:    handler.NewListDefinitionsHandler(pgStore),
		RegisterDefinitionHandler: handler.NewRegisterDefinitionHandler(registrar),
		DisableDefinitionHandler:  handler.NewDisableDefinitionHandler(registrar),

		SubmitJobHandler:  handler.NewSubmitJobHandler(svc),
		ListJobsHandler:   handler.NewListJobsHandler(pgStore),
		DeleteJobsHandler: handler.NewDeleteJobsHandler(pgStore),
		PollJobHandler:    handler.NewPollJobHandler(svc),
		RetryJobHandler:   handler.NewRetryJobHandler(svc),

		DownloadResultsHandler: handler.NewDownloadResultsHandler(pgStore, archiver, logger),

		CreateKeyHandler: handler.NewCreateKeyHandler(pgStore),
		ListKeysHandler:  handler.NewListKeysHandler(pgStore),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 10. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// readyPinger adapts the dataset client's Ready check to the health
// endpoint's Pinger.
type readyPinger struct {
	client dataset.Client
}

func (p readyPinger) Ping(ctx context.Context) error {
	return p.client.Ready(ctx)
}
