// Package cli provides common CLI initialization utilities.
// This package consolidates repeated initialization patterns across
// cmd/orti, cmd/orti-worker and cmd/orti-import.
package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"

	"orti/internal/backend"
	"orti/internal/config"
	applog "orti/internal/log"
	"orti/internal/storage"
)

const sentryFlushTimeout = 2 * time.Second

// SetupLogger initializes structured logging from LOG_LEVEL and LOG_FORMAT
// and installs it as the slog default.
func SetupLogger(cfg *config.Config) *applog.Logger {
	lc := applog.DefaultConfig()
	if cfg != nil {
		lc = cfg.LoggerConfig()
	}
	logger := applog.New(lc)
	slog.SetDefault(logger.Logger)
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and validates it.
// Returns the config or exits the process on validation failure.
func LoadAndValidateConfig() *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		// The configured logger depends on a valid config.
		applog.New(applog.DefaultConfig()).Error("Configuration validation failed", applog.FieldError, err)
		os.Exit(1)
	}
	return cfg
}

// OpenStore opens the configured backend.
// Returns the store and its cleanup or exits the process on failure.
func OpenStore(ctx context.Context, logger *applog.Logger, cfg *config.Config) (storage.Store, backend.CleanupFunc) {
	bc, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", applog.FieldError, err)
		os.Exit(1)
	}
	res, err := backend.NewFactory(logger).CreateBackend(ctx, bc)
	if err != nil {
		logger.Error("Failed to open store", applog.FieldError, err, "backend", bc.Type.String())
		os.Exit(1)
	}
	return res.Store, res.Cleanup
}

// InitSentry enables error reporting when SENTRY_DSN is set. The returned
// function flushes pending events and is safe to call either way.
func InitSentry(logger *applog.Logger, cfg *config.Config, release string) func() {
	if cfg.SentryDSN == "" {
		return func() {}
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.SentryDSN,
		Environment: cfg.SentryEnvironment,
		Release:     "orti@" + release,
		SampleRate:  1.0,
	})
	if err != nil {
		// Reporting is optional; keep running without it.
		logger.Error("Failed to initialize Sentry", applog.FieldError, err)
		return func() {}
	}
	logger.Info("Sentry error reporting enabled", "environment", cfg.SentryEnvironment)
	return func() { sentry.Flush(sentryFlushTimeout) }
}

// GracefulShutdown sets up signal handling for graceful shutdown.
// Returns a context that will be cancelled on shutdown signals,
// and a channel that signals when shutdown is complete.
func GracefulShutdown(logger *applog.Logger, timeout time.Duration, cleanup func(ctx context.Context)) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()

		cancel()

		finished := make(chan struct{})
		go func() {
			if cleanup != nil {
				cleanup(shutdownCtx)
			}
			close(finished)
		}()

		select {
		case <-shutdownCtx.Done():
			logger.Warn("Shutdown timeout reached")
		case <-finished:
			logger.Info("Shutdown complete")
		}
		close(done)
	}()

	return ctx, done
}

// WaitForShutdown blocks until the context is cancelled.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
