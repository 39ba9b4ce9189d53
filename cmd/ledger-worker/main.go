package main

import (
	"context"
	"errors"
	"os"
	"time"

	"schoolbudget/internal/backend"
	"schoolbudget/internal/cli"
	"schoolbudget/internal/log"
	"schoolbudget/internal/services"
	"schoolbudget/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger("info", "text", log.ComponentWorker)
	cfg := cli.LoadAndValidateConfig(logger)
	logger = cli.SetupLogger(cfg.LogLevel, cfg.LogFormat, log.ComponentWorker)

	logger.Info("Starting ledger-worker")

	if err := cfg.RequireAMQP(); err != nil {
		logger.Error("Worker needs a message broker", log.FieldError, err)
		os.Exit(1)
	}

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	backendCfg.RequireAMQP = true

	result, err := backend.NewFactory(logger).CreateBackend(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", log.FieldError, err)
		os.Exit(1)
	}

	reconcileWorker := worker.NewReconcileWorker(result.Reconciler)
	processor := services.NewReconcileProcessor(result.Reconciler, services.ReconcileProcessorConfig{
		Interval: cfg.ReconcileInterval,
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		logger.Info("Shutting down worker...")
		if err := processor.Stop(ctx); err != nil {
			logger.Warn("Reconcile processor did not stop in time", log.FieldError, err)
		}
		if err := result.Cleanup(); err != nil {
			logger.Error("Cleanup failed", log.FieldError, err)
		}
	})

	// Repair anything left inconsistent while the worker was down
	if err := reconcileWorker.StartupReconcile(ctx); err != nil {
		logger.Error("Startup reconcile failed", log.FieldError, err)
	}

	if err := processor.Start(ctx); err != nil {
		logger.Error("Failed to start reconcile processor", log.FieldError, err)
		os.Exit(1)
	}

	go func() {
		err := result.AMQP.ConsumeReconcileRequests(ctx, reconcileWorker.HandleReconcileRequest)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Message consumption stopped", log.FieldError, err)
		}
	}()

	cli.WaitForShutdown(ctx, done)
}
