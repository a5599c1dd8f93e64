package main

import (
	"context"
	"errors"
	"net/http"
	"os"

	"orti/internal/amqp"
	"orti/internal/cli"
	apphttp "orti/internal/http"
	"orti/internal/importer"
	"orti/internal/ledger"
	applog "orti/internal/log"
	"orti/internal/report"
	"orti/internal/taxonomy"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg)
	flushSentry := cli.InitSentry(logger, cfg, version)
	defer flushSentry()

	store, closeStore := cli.OpenStore(context.Background(), logger, cfg)

	cutoff, _ := cfg.Cutoff()
	threshold, _ := cfg.Threshold()

	tree := taxonomy.NewTree(store, logger)
	led := ledger.NewService(store, cfg.ImportConcurrency, logger)
	svc := apphttp.Services{
		Store:    store,
		Taxonomy: tree,
		Ledger:   led,
		Importer: importer.New(tree, led, logger),
		Reports:  report.NewService(store, store, logger).WithCutoff(cutoff),
	}

	// Async import jobs are optional; the rest of the API works without a broker.
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		var err error
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", applog.FieldError, err)
			os.Exit(1)
		}
		svc.Jobs = amqpClient
		logger.Info("Import job queue enabled", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	} else {
		logger.Info("Import job queue disabled - no AMQP_URL provided")
	}

	srv := apphttp.NewServer(svc, apphttp.Options{
		Addr:               ":" + cfg.Port,
		Version:            version,
		Backend:            cfg.DataBackend,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		SummaryCacheSize:   cfg.SummaryCacheSize,
		SummaryCacheTTL:    cfg.SummaryCacheTTL,
		MaxUploadBytes:     cfg.MaxUploadBytes,
		TrustedProxies:     cfg.TrustedProxies,
		VarianceThreshold:  threshold,
		ProjectionCutoff:   cutoff,
		Logger:             logger,
	})

	ctx, done := cli.GracefulShutdown(logger, cfg.ShutdownTimeout, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", applog.FieldError, err)
		}
		if amqpClient != nil {
			if err := amqpClient.Close(); err != nil {
				logger.Error("AMQP close error", applog.FieldError, err)
			}
		}
		if err := closeStore(); err != nil {
			logger.Error("Store close error", applog.FieldError, err)
		}
	})

	logger.Info("Starting orti server", "port", cfg.Port, "backend", cfg.DataBackend, "version", version)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", applog.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
