package main

import (
	"context"
	"errors"
	"os"
	"time"

	"ledger/internal/cli"
	ledgerlog "ledger/internal/log"
	"ledger/internal/services"
	"ledger/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	cli.LoadEnvFile()

	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg, ledgerlog.ComponentWorker).Logger

	logger.Info("Starting ledger-worker",
		ledgerlog.FieldOperation, ledgerlog.OpStartup,
		"backend", cfg.Backend)

	result := cli.InitBackend(context.Background(), logger, cfg)
	reconcileWorker := worker.NewReconcileWorker(result.Ledger)

	processor := services.NewReconcileProcessor(result.Ledger, services.ReconcileProcessorConfig{
		Interval: cfg.ReconcileInterval,
		// The startup check below already sweeps once
		RunOnStart: false,
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		if err := processor.Stop(shutdownCtx); err != nil {
			logger.Error("Failed to stop reconcile processor", "error", err)
		}
		if err := result.Cleanup(); err != nil {
			logger.Error("Failed to close ledger backend", "error", err)
		}
	})

	// On startup, repair any drift left by a crash or an offline write
	logger.Info("Performing startup reconcile check...")
	if err := reconcileWorker.StartupCheck(ctx); err != nil {
		logger.Error("Failed startup reconcile check", "error", err)
		// Don't exit - the periodic sweep retries
	}

	if err := processor.Start(ctx); err != nil {
		logger.Error("Failed to start reconcile processor", "error", err)
		os.Exit(1)
	}

	if result.AMQP != nil {
		go func() {
			err := result.AMQP.ConsumeReconcileRequests(ctx, reconcileWorker.HandleReconcileRequest)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Reconcile request consumption failed", "error", err)
			}
		}()
		logger.Info("Consuming reconcile requests", "queue", cfg.AMQPQueue)
	} else {
		logger.Info("AMQP disabled - only periodic reconcile sweeps will run",
			"interval", cfg.ReconcileInterval)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("ledger-worker stopped",
		ledgerlog.FieldOperation, ledgerlog.OpShutdown,
		"sweeps", processor.Sweeps())
}
