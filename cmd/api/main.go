package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/melih/lighthouse-paas/internal/adapters/builder"
	"github.com/melih/lighthouse-paas/internal/adapters/docker"
	"github.com/melih/lighthouse-paas/internal/adapters/http"
	"github.com/melih/lighthouse-paas/internal/adapters/netport"
	"github.com/melih/lighthouse-paas/internal/adapters/storage"
	"github.com/melih/lighthouse-paas/internal/config"
	"github.com/melih/lighthouse-paas/internal/core/services/lifecycle"
	"github.com/melih/lighthouse-paas/internal/core/services/registry"
	"github.com/melih/lighthouse-paas/internal/logging"
	"github.com/melih/lighthouse-paas/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, Development: cfg.Logging.Development})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Initialize Adapters (Infrastructure)
	dockerAdapter, err := docker.NewAdapter(cfg.Runtime.ContainerPort, logger)
	if err != nil {
		logger.Fatal("Failed to initialize Docker adapter", zap.Error(err))
	}
	defer dockerAdapter.Close()
	if err := dockerAdapter.Ping(ctx); err != nil {
		logger.Warn("Docker daemon not reachable yet; start requests will fail until it is", zap.Error(err))
	}

	store, err := storage.NewStore(cfg.Storage.UploadDir, logger)
	if err != nil {
		logger.Fatal("Failed to initialize bundle storage", zap.Error(err))
	}

	m := metrics.New()
	go m.RunProcessSampler(ctx, 5*time.Second, logger)

	// 2. Core services
	controller := lifecycle.NewController(lifecycle.Config{
		ContainerPort: cfg.Runtime.ContainerPort,
		BuildTimeout:  cfg.Runtime.BuildTimeout,
		RunTimeout:    cfg.Runtime.RunTimeout,
		StopTimeout:   cfg.Runtime.StopTimeout,
		LogTail:       cfg.Runtime.LogTail,
	}, store, dockerAdapter, netport.New(""), registry.New(), m, logger)

	if cfg.Runtime.ReconcileOnStart {
		n, err := controller.Reconcile(ctx)
		if err != nil {
			logger.Warn("Failed to reconcile running containers", zap.Error(err))
		} else {
			logger.Info("Reconciled running containers", zap.Int("restored", n))
		}
	}

	// 3. HTTP Handlers (Interface Adapters)
	handler := http.NewMicroserviceHandler(store, builder.NewFetcher(logger), controller, logger)
	app := http.NewApp(http.Options{
		Handler:     handler,
		Proxy:       http.NewProxyHandler(controller, cfg.Runtime.ProxyHost),
		Logger:      logger,
		Recorder:    m,
		CORSOrigins: cfg.Server.CORSAllowOrigins,
		BodyLimit:   cfg.Server.BodyLimitMB * 1024 * 1024,
	})

	if cfg.Metrics.Addr != "" {
		metricsApp := http.NewMetricsApp(m.Handler())
		go func() {
			logger.Info("Metrics server starting", zap.String("addr", cfg.Metrics.Addr))
			if err := metricsApp.Listen(cfg.Metrics.Addr); err != nil {
				logger.Error("Metrics server stopped", zap.Error(err))
			}
		}()
		defer metricsApp.Shutdown()
	}

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			logger.Error("Graceful shutdown failed", zap.Error(err))
		}
	}()

	// 4. Start Server
	logger.Info("Server starting", zap.String("addr", cfg.Server.Address()), zap.String("upload_dir", store.Root()))
	if err := app.Listen(cfg.Server.Address()); err != nil {
		logger.Fatal("Server failed to start", zap.Error(err))
	}
}
