package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/agatticelli/policy-cache/internal/cache"
	"github.com/agatticelli/policy-cache/internal/loader"
	"github.com/agatticelli/policy-cache/internal/platform/config"
	"github.com/agatticelli/policy-cache/internal/platform/observability"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults to ./config/config.yaml)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration
	log.Println("Loading configuration...")
	cfg := config.MustLoad(*configPath)

	if err := run(ctx, cfg); err != nil {
		log.Printf("cache service failed: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	// Setup observability (foundational - must be first)
	logger := observability.NewLogger(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)
	serviceName := cfg.Observability.ServiceName

	metrics, err := observability.NewMetrics(serviceName, cfg.Observability.Metrics.Enabled)
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	tracer, err := observability.NewTracerProvider(ctx, observability.TracingConfig{
		ServiceName: serviceName,
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		Enabled:     cfg.Observability.Tracing.Enabled,
		Sampler:     cfg.Observability.Tracing.Sampler,
		Ratio:       cfg.Observability.Tracing.Ratio,
	})
	if err != nil {
		return fmt.Errorf("failed to create tracer: %w", err)
	}
	defer func() {
		if err := tracer.Shutdown(context.Background()); err != nil {
			logger.LogError(context.Background(), "tracer shutdown failed", err)
		}
	}()

	logger.Info("observability setup complete")

	// Cache store
	storeCfg, err := storeConfig(cfg, logger, metrics)
	if err != nil {
		return err
	}
	store, err := cache.New(storeCfg)
	if err != nil {
		return fmt.Errorf("failed to create cache store: %w", err)
	}
	defer store.Close()

	logger.Info("cache store created",
		"strategy", string(storeCfg.Policy.EvictionStrategy),
		"max_memory", storeCfg.MaxMemory,
		"max_size", storeCfg.Policy.MaxSize,
	)

	// Background maintenance
	if cfg.Maintenance.Enabled {
		scheduler := cache.NewScheduler(store, schedulerConfig(cfg.Maintenance))
		scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	srv := newServer(store, metrics, logger)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      srv.routes(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Warm from Redis, then report ready
	warmDone := make(chan struct{})
	if cfg.Warmup.Enabled {
		go func() {
			defer close(warmDone)
			if err := warmFromRedis(ctx, cfg, store, logger, metrics); err != nil {
				logger.LogError(ctx, "cache warmup failed", err)
			}
			srv.markReady(ctx)
		}()
	} else {
		close(warmDone)
		srv.markReady(ctx)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, gracefully stopping...")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.LogError(shutdownCtx, "HTTP server shutdown failed", err)
	}

	// warmup observes ctx; wait so nothing writes to the store after Close
	<-warmDone

	logger.Info("application stopped", "entries", store.Len())
	return nil
}

func warmFromRedis(ctx context.Context, cfg *config.Config, store *cache.Store, logger *observability.Logger, metrics *observability.Metrics) error {
	client, err := loader.NewClient(ctx, loader.ClientOptions{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	keys, err := loader.ScanKeys(ctx, client, cfg.Warmup.KeyPrefix, cfg.Warmup.MaxKeys)
	if err != nil {
		return err
	}

	results := store.Warmup(ctx, keys, loader.NewRedis(client, loaderConfig(cfg, logger, metrics)), warmupConfig(cfg.Warmup))
	if results.HasErrors() {
		logger.LogWarn(ctx, "some keys could not be warmed",
			"batch_id", results.BatchID,
			"failed", results.Errors,
			"loaded", results.Loaded,
		)
	}
	return nil
}
