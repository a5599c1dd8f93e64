package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"orti/internal/amqp"
	"orti/internal/cli"
	"orti/internal/importer"
	"orti/internal/ledger"
	applog "orti/internal/log"
	"orti/internal/sheets"
	gsheet "orti/internal/sheets/google"
	"orti/internal/taxonomy"
	"orti/internal/worker"
)

var version = "dev"

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg)
	flushSentry := cli.InitSentry(logger, cfg, version)
	defer flushSentry()

	logger.Info("Starting orti-worker", "version", version)

	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required to consume import jobs")
		os.Exit(1)
	}

	store, closeStore := cli.OpenStore(context.Background(), logger, cfg)
	defer closeStore()

	tree := taxonomy.NewTree(store, logger)
	led := ledger.NewService(store, cfg.ImportConcurrency, logger)
	imp := importer.New(tree, led, logger)

	// Google Sheets jobs need service account credentials; xlsx jobs do not.
	var openSheets worker.SheetsOpener
	if creds, err := gsheet.CredentialsFromEnv(); err == nil {
		openSheets = func(ctx context.Context, spreadsheetID string, ranges []string) (sheets.TableReader, error) {
			if len(ranges) == 0 {
				ranges = cfg.GoogleSheetRanges
			}
			return gsheet.New(ctx, gsheet.Config{
				SpreadsheetID:   spreadsheetID,
				Ranges:          ranges,
				CredentialsJSON: creds,
				Logger:          logger,
			})
		}
		logger.Info("Google Sheets imports enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		logger.Info("Google Sheets imports disabled", applog.FieldError, err)
	}

	cutoff, _ := cfg.Cutoff()
	importWorker := worker.NewImportWorker(store, imp, nil, openSheets, worker.Config{
		DefaultSpreadsheetID: cfg.GoogleSpreadsheetID,
		Cutoff:               cutoff,
	}, logger)

	// Initialize AMQP client for consuming messages
	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", applog.FieldError, err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := amqpClient.ConsumeImportJobs(ctx, importWorker.HandleImportJob); err != nil {
			if !errors.Is(err, context.Canceled) {
				logger.Error("Message consumption failed", applog.FieldError, err)
			}
			cancel()
		}
	}()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	// Give worker time to finish current operations
	logger.Info("Shutting down worker...")
	cancel()

	// Wait for the consumer to return or timeout
	select {
	case <-shutdownCtx.Done():
		logger.Warn("Shutdown timeout reached")
	case <-consumerDone:
		logger.Info("Worker shutdown complete")
	}
}
