package importer

import (
	"github.com/shopspring/decimal"

	"orti/internal/core"
)

type WarningKind string

const (
	WarnUnresolvedLabel WarningKind = "unresolved_label"
	WarnInvalidValue    WarningKind = "invalid_value"
	WarnSkipped         WarningKind = "skipped"
)

// Warning is a row or cell the import skipped. Row and Column are 1-based
// spreadsheet coordinates; zero means not applicable.
type Warning struct {
	Sheet   string      `json:"sheet,omitempty"`
	Row     int         `json:"row,omitempty"`
	Column  int         `json:"column,omitempty"`
	Label   string      `json:"label,omitempty"`
	Kind    WarningKind `json:"kind"`
	Message string      `json:"message"`
}

// Failure is a parsed entry the ledger rejected.
type Failure struct {
	Sheet   string      `json:"sheet,omitempty"`
	Row     int         `json:"row,omitempty"`
	Column  int         `json:"column,omitempty"`
	Label   string      `json:"label"`
	Period  core.Period `json:"period"`
	Message string      `json:"message"`
}

type CategoryTotals struct {
	Total   decimal.Decimal `json:"total"`
	Periods int             `json:"periods"`
}

// Report is the full account of one import run.
type Report struct {
	Sheets     []string                  `json:"sheets"`
	RowsRead   int                       `json:"rows_read"`
	Applied    int                       `json:"applied"`
	Failed     []Failure                 `json:"failed"`
	Warnings   []Warning                 `json:"warnings"`
	Categories map[string]CategoryTotals `json:"categories"`
}

func newReport() Report {
	return Report{Categories: make(map[string]CategoryTotals)}
}

func (r *Report) warn(w Warning) {
	r.Warnings = append(r.Warnings, w)
}

// tally folds applied entries into per-category totals.
type tally struct {
	totals  map[string]decimal.Decimal
	periods map[string]map[core.Period]struct{}
}

func newTally() *tally {
	return &tally{
		totals:  make(map[string]decimal.Decimal),
		periods: make(map[string]map[core.Period]struct{}),
	}
}

func (t *tally) add(category string, e core.Entry) {
	t.totals[category] = t.totals[category].Add(e.Value)
	if t.periods[category] == nil {
		t.periods[category] = make(map[core.Period]struct{})
	}
	t.periods[category][e.Period()] = struct{}{}
}

func (t *tally) into(r *Report) {
	for name, total := range t.totals {
		r.Categories[name] = CategoryTotals{Total: total, Periods: len(t.periods[name])}
	}
}
