// Package worker runs queued import jobs against the ledger.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"orti/internal/amqp"
	"orti/internal/core"
	"orti/internal/importer"
	applog "orti/internal/log"
	"orti/internal/sheets"
	"orti/internal/sheets/xlsx"
)

type (
	Importer interface {
		Import(ctx context.Context, src sheets.TableReader, opts importer.Options) (importer.Report, error)
	}

	Companies interface {
		GetOrCreateCompany(ctx context.Context, name, description string) (core.Company, error)
	}

	// Invalidator drops derived data of a company after its ledger changed.
	Invalidator interface {
		Invalidate(companyID string)
	}

	// SheetsOpener returns a reader for a Google spreadsheet.
	SheetsOpener func(ctx context.Context, spreadsheetID string, ranges []string) (sheets.TableReader, error)
)

type Config struct {
	// DefaultSpreadsheetID is used by sheets jobs that name none.
	DefaultSpreadsheetID string
	// Cutoff is the first projected month when a job sets no policy. Nil
	// uses the current month.
	Cutoff *core.Period
}

// ImportWorker handles import job messages.
type ImportWorker struct {
	companies   Companies
	importer    Importer
	invalidator Invalidator
	openSheets  SheetsOpener
	cfg         Config
	now         func() time.Time
	logger      *applog.Logger
	structured  *applog.StructuredLogger
}

func NewImportWorker(companies Companies, imp Importer, invalidator Invalidator, openSheets SheetsOpener, cfg Config, logger *applog.Logger) *ImportWorker {
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	logger = logger.WithComponent(applog.ComponentWorker)
	return &ImportWorker{
		companies:   companies,
		importer:    imp,
		invalidator: invalidator,
		openSheets:  openSheets,
		cfg:         cfg,
		now:         time.Now,
		logger:      logger,
		structured:  applog.NewStructuredLogger(logger),
	}
}

// discard marks err as not worth retrying.
func discard(err error) error {
	return fmt.Errorf("%w: %w", amqp.ErrDiscard, err)
}

// HandleImportJob imports the job's source. Errors that a retry cannot fix
// (bad message, unreadable source) wrap amqp.ErrDiscard; store outages do
// not, so the job is requeued.
func (w *ImportWorker) HandleImportJob(ctx context.Context, msg *amqp.ImportJobMessage) error {
	if err := msg.Validate(); err != nil {
		return discard(err)
	}
	logger := w.logger.With(applog.FieldJobID, msg.JobID, applog.FieldCompany, msg.CompanyName)

	src, err := w.open(ctx, msg)
	if err != nil {
		return discard(fmt.Errorf("open source: %w", err))
	}

	company, err := w.companies.GetOrCreateCompany(ctx, msg.CompanyName, "")
	if err != nil {
		if errors.Is(err, core.ErrInvalidValue) {
			return discard(err)
		}
		return fmt.Errorf("resolve company: %w", err)
	}

	var cutoff *core.Period
	if p, ok := msg.Cutoff(); ok {
		cutoff = &p
	} else {
		cutoff = w.cfg.Cutoff
	}

	started := w.now()
	report, err := w.importer.Import(ctx, src, importer.Options{
		CompanyID: company.ID,
		Layout:    importer.DetectHeader(msg.Year),
		Policy:    importer.ChoosePolicy(msg.ExplicitProjection, cutoff, started),
		Notes:     "import job " + msg.JobID,
	})
	if err != nil {
		if errors.Is(err, sheets.ErrUnreadableSource) || errors.Is(err, core.ErrInvalidValue) {
			return discard(err)
		}
		// Entries written before the outage already changed the ledger.
		if w.invalidator != nil && report.Applied > 0 {
			w.invalidator.Invalidate(company.ID)
		}
		return fmt.Errorf("import: %w", err)
	}

	if w.invalidator != nil && report.Applied > 0 {
		w.invalidator.Invalidate(company.ID)
	}
	w.structured.LogImportCompleted(ctx, msg.CompanyName, report.Applied, len(report.Failed), len(report.Warnings))
	logger.DebugContext(ctx, "Import job finished",
		"sheets", len(report.Sheets),
		"rows_read", report.RowsRead,
		"elapsed", time.Since(started).String())
	return nil
}

func (w *ImportWorker) open(ctx context.Context, msg *amqp.ImportJobMessage) (sheets.TableReader, error) {
	switch msg.Source {
	case amqp.SourceXLSX:
		return xlsx.NewFile(msg.Path, msg.Sheets...), nil
	case amqp.SourceSheets:
		if w.openSheets == nil {
			return nil, errors.New("google sheets is not configured")
		}
		id := msg.SpreadsheetID
		if id == "" {
			id = w.cfg.DefaultSpreadsheetID
		}
		if id == "" {
			return nil, errors.New("job names no spreadsheet and no default is configured")
		}
		return w.openSheets(ctx, id, msg.Ranges)
	}
	return nil, fmt.Errorf("%w: unknown source %q", core.ErrInvalidValue, msg.Source)
}
