// Package importer reconciles tabular sources (rows keyed by label,
// columns keyed by month) with a company's category tree and writes the
// values to the ledger.
package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"orti/internal/core"
	"orti/internal/ledger"
	applog "orti/internal/log"
	"orti/internal/sheets"
	"orti/internal/taxonomy"
)

// Taxonomy is the part of the category tree the importer needs.
type Taxonomy interface {
	Categories(ctx context.Context, companyID string) ([]core.Category, error)
	GetOrCreateSubcategory(ctx context.Context, categoryID, name string, sortOrder int) (core.Subcategory, error)
}

// Ledger accepts batches of entries.
type Ledger interface {
	BatchUpsert(ctx context.Context, entries []core.Entry) ledger.BatchResult
}

type Options struct {
	CompanyID          string
	Layout             Layout
	Policy             ProjectionPolicy
	Aliases            AliasTable
	DefaultSubcategory string
	Notes              string
}

func (o Options) withDefaults() (Options, error) {
	if o.CompanyID == "" {
		return o, fmt.Errorf("%w: company is required", core.ErrInvalidValue)
	}
	if o.Policy == nil {
		return o, fmt.Errorf("%w: projection policy is required", core.ErrInvalidValue)
	}
	if o.Aliases == nil {
		o.Aliases = DefaultAliases()
	}
	if strings.TrimSpace(o.DefaultSubcategory) == "" {
		o.DefaultSubcategory = taxonomy.DefaultSubcategory
	}
	return o, nil
}

type Importer struct {
	taxonomy Taxonomy
	ledger   Ledger
	logger   *applog.Logger
}

func New(tax Taxonomy, led Ledger, logger *applog.Logger) *Importer {
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	return &Importer{taxonomy: tax, ledger: led, logger: logger.WithComponent(applog.ComponentImporter)}
}

// origin remembers where a pending entry came from.
type origin struct {
	sheet    string
	row, col int
	label    string
	category string
}

// batch collects entries keyed by natural key; a later cell for the same
// key replaces the earlier one.
type batch struct {
	entries []core.Entry
	origins []origin
	index   map[entryKey]int
}

type entryKey struct {
	sub        string
	period     core.Period
	projection bool
}

func newBatch() *batch {
	return &batch{index: make(map[entryKey]int)}
}

func (b *batch) put(e core.Entry, o origin) (replaced origin, ok bool) {
	k := entryKey{sub: e.SubcategoryID, period: e.Period(), projection: e.IsProjection}
	if i, found := b.index[k]; found {
		replaced = b.origins[i]
		b.entries[i], b.origins[i] = e, o
		return replaced, true
	}
	b.index[k] = len(b.entries)
	b.entries = append(b.entries, e)
	b.origins = append(b.origins, o)
	return origin{}, false
}

// Import reads every table from src and imports it. Only an unreadable
// source or an unreachable store fails the whole run.
func (im *Importer) Import(ctx context.Context, src sheets.TableReader, opts Options) (Report, error) {
	tables, err := src.ReadTables(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("read source: %w", err)
	}
	return im.ImportTables(ctx, tables, opts)
}

func (im *Importer) ImportTables(ctx context.Context, tables []sheets.Table, opts Options) (Report, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return Report{}, err
	}
	categories, err := im.taxonomy.Categories(ctx, opts.CompanyID)
	if err != nil {
		return Report{}, fmt.Errorf("load categories: %w", err)
	}

	report := newReport()
	pending := newBatch()
	leaves := make(map[string]core.Subcategory)

	for _, tbl := range tables {
		report.Sheets = append(report.Sheets, tbl.Name)

		cols, first, err := opts.Layout.plan(tbl)
		if err != nil {
			report.warn(Warning{Sheet: tbl.Name, Kind: WarnSkipped, Message: err.Error()})
			continue
		}
		periods := cols.sortedColumns()

		for r := first; r < len(tbl.Rows); r++ {
			raw := tbl.Cell(r, opts.Layout.LabelColumn)
			label := strings.TrimSpace(raw)
			if label == "" {
				continue
			}
			if len(opts.Layout.Columns) > 0 && isHeaderRow(tbl.Rows[r], opts.Layout.LabelColumn) {
				continue
			}
			report.RowsRead++

			cat, err := taxonomy.Match(categories, opts.Aliases.Canonical(raw))
			if err != nil {
				report.warn(Warning{Sheet: tbl.Name, Row: r + 1, Label: label, Kind: WarnUnresolvedLabel, Message: err.Error()})
				continue
			}
			if cat.IsCalculated {
				report.warn(Warning{Sheet: tbl.Name, Row: r + 1, Label: label, Kind: WarnSkipped,
					Message: fmt.Sprintf("%q is calculated from other rows", cat.Name)})
				continue
			}

			leaf, ok := leaves[cat.ID]
			if !ok {
				leaf, err = im.taxonomy.GetOrCreateSubcategory(ctx, cat.ID, opts.DefaultSubcategory, 0)
				if errors.Is(err, core.ErrBackingStoreUnavailable) {
					return report, err
				}
				if err != nil {
					report.warn(Warning{Sheet: tbl.Name, Row: r + 1, Label: label, Kind: WarnSkipped, Message: err.Error()})
					continue
				}
				leaves[cat.ID] = leaf
			}

			for _, c := range periods {
				period := cols[c]
				cell := tbl.Cell(r, c)
				value, ok, err := core.ParseAmount(cell)
				if err != nil {
					report.warn(Warning{Sheet: tbl.Name, Row: r + 1, Column: c + 1, Label: label, Kind: WarnInvalidValue,
						Message: fmt.Sprintf("%s: %v", period, err)})
					continue
				}
				if !ok || value.IsZero() {
					continue
				}

				e := core.Entry{
					SubcategoryID: leaf.ID,
					Year:          period.Year,
					Month:         period.Month,
					Value:         value,
					IsProjection:  opts.Policy.IsProjection(period),
					Notes:         opts.Notes,
				}
				o := origin{sheet: tbl.Name, row: r + 1, col: c + 1, label: label, category: cat.Name}
				if prev, replaced := pending.put(e, o); replaced {
					report.warn(Warning{Sheet: prev.sheet, Row: prev.row, Column: prev.col, Label: prev.label, Kind: WarnSkipped,
						Message: fmt.Sprintf("%s superseded by row %d of %s", period, o.row, o.sheet)})
				}
			}
		}
	}

	if err := im.apply(ctx, pending, &report); err != nil {
		im.logger.ErrorContext(ctx, "Import aborted, store unavailable",
			applog.FieldOperation, applog.OpImport,
			applog.FieldCompany, opts.CompanyID,
			"applied", report.Applied,
			"failed", len(report.Failed),
			applog.FieldError, err)
		return report, err
	}

	im.logger.InfoContext(ctx, "Import completed",
		applog.FieldOperation, applog.OpImport,
		applog.FieldCompany, opts.CompanyID,
		"sheets", len(report.Sheets),
		"rows_read", report.RowsRead,
		"applied", report.Applied,
		"failed", len(report.Failed),
		"warnings", len(report.Warnings))
	return report, nil
}

// apply writes the pending batch and folds the outcome into report. The
// report is filled either way; the error is set only when the store itself
// failed, so the caller can retry the run.
func (im *Importer) apply(ctx context.Context, pending *batch, report *Report) error {
	if len(pending.entries) == 0 {
		return nil
	}
	res := im.ledger.BatchUpsert(ctx, pending.entries)

	failed := make(map[int]bool, len(res.Failed))
	for _, f := range res.Failed {
		failed[f.Index] = true
		o := pending.origins[f.Index]
		report.Failed = append(report.Failed, Failure{
			Sheet:   o.sheet,
			Row:     o.row,
			Column:  o.col,
			Label:   o.label,
			Period:  f.Entry.Period(),
			Message: f.Err.Error(),
		})
	}

	t := newTally()
	for i, e := range pending.entries {
		if failed[i] {
			continue
		}
		t.add(pending.origins[i].category, e)
	}
	t.into(report)
	report.Applied = len(res.Applied)
	if err := res.StoreErr(); err != nil {
		return fmt.Errorf("write entries: %w", err)
	}
	return nil
}
