// Command orti-import runs ledger maintenance from the shell: seeding the
// category hierarchy, importing workbooks or Google Sheets and printing
// summaries. Results are written to stdout as JSON.
//
// Usage:
//
//	orti-import [-company NAME] <command> [flags]
//
// Commands: seed, xlsx, sheets, summary, variance, reset.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"orti/internal/cli"
	"orti/internal/importer"
	"orti/internal/ledger"
	applog "orti/internal/log"
	"orti/internal/report"
	"orti/internal/sheets"
	gsheet "orti/internal/sheets/google"
	"orti/internal/taxonomy"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore := cli.OpenStore(ctx, logger, cfg)
	tree := taxonomy.NewTree(store, logger)
	led := ledger.NewService(store, cfg.ImportConcurrency, logger)
	cutoff, _ := cfg.Cutoff()
	threshold, _ := cfg.Threshold()

	a := &app{
		store:     store,
		taxonomy:  tree,
		ledger:    led,
		importer:  importer.New(tree, led, logger),
		reports:   report.NewService(store, store, logger).WithCutoff(cutoff),
		company:   cfg.CompanyName,
		cutoff:    cutoff,
		threshold: threshold,
		ranges:    cfg.GoogleSheetRanges,
		sheetID:   cfg.GoogleSpreadsheetID,
		openSheets: func(ctx context.Context, spreadsheetID string, ranges []string) (sheets.TableReader, error) {
			creds, err := gsheet.CredentialsFromEnv()
			if err != nil {
				return nil, err
			}
			return gsheet.New(ctx, gsheet.Config{
				SpreadsheetID:   spreadsheetID,
				Ranges:          ranges,
				CredentialsJSON: creds,
				Logger:          logger,
			})
		},
		out:    os.Stdout,
		logger: logger,
	}

	err := a.run(ctx, os.Args[1:])
	if cerr := closeStore(); cerr != nil {
		logger.Error("Store close error", applog.FieldError, cerr)
	}
	if err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		logger.Error("Command failed", applog.FieldError, err)
		os.Exit(1)
	}
}
