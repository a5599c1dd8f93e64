// Package report derives read models from the ledger: yearly summaries
// split by provenance, monthly variance between actuals and projections,
// and per-period listings.
package report

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"orti/internal/cache"
	"orti/internal/core"
	applog "orti/internal/log"
)

// CategorySource lists a company's categories.
type CategorySource interface {
	ListCategories(ctx context.Context, companyID string) ([]core.Category, error)
}

// LineSource returns classified entries.
type LineSource interface {
	QueryLines(ctx context.Context, f core.EntryFilter) ([]core.LedgerLine, error)
}

type Service struct {
	categories CategorySource
	lines      LineSource
	summaries  cache.Cache[core.Summary]

	// gens counts invalidations per company and allGen those of the whole
	// cache. A summary is cached only if neither moved while it was built.
	genMu  sync.Mutex
	gens   map[string]uint64
	allGen uint64
	cutoff *core.Period
	now    func() time.Time
	logger *applog.Logger
}

func NewService(categories CategorySource, lines LineSource, logger *applog.Logger) *Service {
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	return &Service{
		categories: categories,
		lines:      lines,
		gens:       make(map[string]uint64),
		now:        time.Now,
		logger:     logger.WithComponent(applog.ComponentReport),
	}
}

// WithCutoff reports cutoff as the projection boundary in summaries. Without
// it the boundary is the current month, the same default imports use.
func (s *Service) WithCutoff(cutoff *core.Period) *Service {
	s.cutoff = cutoff
	return s
}

// WithClock replaces time.Now for the current-month cutoff.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) cutoffInEffect() core.Period {
	if s.cutoff != nil {
		return *s.cutoff
	}
	t := s.now()
	return core.Period{Year: t.Year(), Month: int(t.Month())}
}

// WithCache makes Summarize serve repeated requests from c until they expire
// or Invalidate is called.
func (s *Service) WithCache(c cache.Cache[core.Summary]) *Service {
	s.summaries = c
	return s
}

func summaryKey(companyID string, year int, includeProjections bool) string {
	return companyID + "/" + strconv.Itoa(year) + "/" + strconv.FormatBool(includeProjections)
}

// Invalidate drops cached summaries of the company.
func (s *Service) Invalidate(companyID string) {
	if s.summaries == nil {
		return
	}
	s.genMu.Lock()
	s.gens[companyID]++
	n := s.summaries.DeletePrefix(companyID + "/")
	s.genMu.Unlock()
	if n > 0 {
		s.logger.Debug("Summary cache invalidated", applog.FieldCompany, companyID, applog.FieldCount, n)
	}
}

// InvalidateAll drops every cached summary. Used when a write cannot be
// traced to one company cheaply.
func (s *Service) InvalidateAll() {
	if s.summaries == nil {
		return
	}
	s.genMu.Lock()
	s.allGen++
	s.summaries.Clear()
	s.genMu.Unlock()
}

func (s *Service) generation(companyID string) uint64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.gens[companyID] + s.allGen
}

// remember caches sum unless the company was invalidated after gen was read.
func (s *Service) remember(key, companyID string, gen uint64, sum core.Summary) {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	if s.gens[companyID]+s.allGen != gen {
		return
	}
	s.summaries.Set(key, sum)
}

// Summarize folds every entry of the company year into the consolidated,
// projection and combined views. Each view lists every category, including
// those without entries.
func (s *Service) Summarize(ctx context.Context, companyID string, year int, includeProjections bool) (core.Summary, error) {
	if err := (core.Period{Year: year, Month: 1}).Validate(); err != nil {
		return core.Summary{}, err
	}
	key := summaryKey(companyID, year, includeProjections)
	var gen uint64
	if s.summaries != nil {
		gen = s.generation(companyID)
		if cached, ok := s.summaries.Get(key); ok {
			cached.Status.Cutoff = s.cutoffInEffect()
			return cached, nil
		}
	}

	cats, err := s.categories.ListCategories(ctx, companyID)
	if err != nil {
		return core.Summary{}, fmt.Errorf("list categories: %w", err)
	}
	f := core.EntryFilter{CompanyID: &companyID, Year: &year}
	if !includeProjections {
		actual := false
		f.IsProjection = &actual
	}
	lines, err := s.lines.QueryLines(ctx, f)
	if err != nil {
		return core.Summary{}, fmt.Errorf("query entries: %w", err)
	}

	sum := core.Summary{
		CompanyID:          companyID,
		Year:               year,
		IncludeProjections: includeProjections,
		Consolidated:       seededView(cats),
		Combined:           seededView(cats),
		Status:             core.DataStatus{Cutoff: s.cutoffInEffect()},
	}
	if includeProjections {
		v := seededView(cats)
		sum.Projections = &v
	}

	for _, l := range lines {
		if l.IsProjection {
			sum.Status.ProjectionEntries++
			fold(sum.Projections, l)
		} else {
			sum.Status.ActualEntries++
			fold(&sum.Consolidated, l)
		}
		fold(&sum.Combined, l)
	}

	finish(&sum.Consolidated)
	finish(&sum.Combined)
	if sum.Projections != nil {
		finish(sum.Projections)
	}

	if s.summaries != nil {
		s.remember(key, companyID, gen, sum)
	}
	s.logger.DebugContext(ctx, "Summary computed",
		applog.FieldOperation, applog.OpSummary,
		applog.FieldCompany, companyID,
		applog.FieldYear, year,
		applog.FieldCount, len(lines))
	return sum, nil
}

func seededView(cats []core.Category) core.View {
	v := core.NewView()
	for _, c := range cats {
		v.Categories[c.Name] = core.CategoryTotal{ID: c.ID, Kind: c.Kind, SortOrder: c.SortOrder, Total: decimal.Zero}
	}
	return v
}

// fold adds one line to the category, month and view totals of v.
func fold(v *core.View, l core.LedgerLine) {
	ct, ok := v.Categories[l.CategoryName]
	if !ok {
		ct = core.CategoryTotal{ID: l.CategoryID, Kind: l.Kind, Total: decimal.Zero}
	}
	ct.Total = ct.Total.Add(l.Value)
	v.Categories[l.CategoryName] = ct

	mt := v.Monthly[l.Month]
	switch l.Kind {
	case core.KindRevenue:
		mt.Revenue = mt.Revenue.Add(l.Value)
		v.TotalRevenue = v.TotalRevenue.Add(l.Value)
	case core.KindExpense:
		mt.Expenses = mt.Expenses.Add(l.Value)
		v.TotalExpenses = v.TotalExpenses.Add(l.Value)
	}
	v.Monthly[l.Month] = mt
}

func finish(v *core.View) {
	v.NetProfit = v.TotalRevenue.Sub(v.TotalExpenses)
}

// DataTypeSummary counts and sums actual and projection entries, over one
// year when year is non-nil.
func (s *Service) DataTypeSummary(ctx context.Context, companyID string, year *int) (core.DataTypeSummary, error) {
	if year != nil {
		if err := (core.Period{Year: *year, Month: 1}).Validate(); err != nil {
			return core.DataTypeSummary{}, err
		}
	}
	lines, err := s.lines.QueryLines(ctx, core.EntryFilter{CompanyID: &companyID, Year: year})
	if err != nil {
		return core.DataTypeSummary{}, fmt.Errorf("query entries: %w", err)
	}
	out := core.DataTypeSummary{
		CompanyID:    companyID,
		Year:         year,
		Consolidated: core.ProvenanceTotals{Total: decimal.Zero},
		Projections:  core.ProvenanceTotals{Total: decimal.Zero},
	}
	for _, l := range lines {
		t := &out.Consolidated
		if l.IsProjection {
			t = &out.Projections
		}
		t.Total = t.Total.Add(l.Value)
		t.Count++
	}
	return out, nil
}

// MonthlyData lists the entries of one period.
type MonthlyData struct {
	CompanyID   string            `json:"company_id"`
	Period      core.Period       `json:"period"`
	Actual      []core.LedgerLine `json:"actual"`
	Projections []core.LedgerLine `json:"projections"`
}

func (s *Service) MonthlyData(ctx context.Context, companyID string, year, month int) (MonthlyData, error) {
	p := core.Period{Year: year, Month: month}
	if err := p.Validate(); err != nil {
		return MonthlyData{}, err
	}
	lines, err := s.lines.QueryLines(ctx, core.EntryFilter{CompanyID: &companyID, Year: &year, Month: &month})
	if err != nil {
		return MonthlyData{}, fmt.Errorf("query entries: %w", err)
	}
	out := MonthlyData{
		CompanyID:   companyID,
		Period:      p,
		Actual:      []core.LedgerLine{},
		Projections: []core.LedgerLine{},
	}
	for _, l := range lines {
		if l.IsProjection {
			out.Projections = append(out.Projections, l)
		} else {
			out.Actual = append(out.Actual, l)
		}
	}
	return out, nil
}
