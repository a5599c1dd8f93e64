package report

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orti/internal/cache"
	"orti/internal/core"
	"orti/internal/ledger"
	applog "orti/internal/log"
	"orti/internal/storage/memory"
	"orti/internal/taxonomy"
)

type fixture struct {
	svc       *Service
	ledger    *ledger.Service
	tree      *taxonomy.Tree
	companyID string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	company, err := store.GetOrCreateCompany(ctx, "ORTI", "")
	require.NoError(t, err)
	tree := taxonomy.NewTree(store, applog.Discard())
	_, err = tree.SeedDefaultHierarchy(ctx, company.ID, taxonomy.DefaultHierarchy())
	require.NoError(t, err)
	return fixture{
		svc:       NewService(store, store, applog.Discard()),
		ledger:    ledger.NewService(store, 2, applog.Discard()),
		tree:      tree,
		companyID: company.ID,
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// put stores a value on the first subcategory of the named category.
func (f fixture) put(t *testing.T, category string, year, month int, value string, projection bool) {
	t.Helper()
	ctx := context.Background()
	cat, err := f.tree.Resolve(ctx, f.companyID, category)
	require.NoError(t, err)
	sub, err := f.tree.GetOrCreateSubcategory(ctx, cat.ID, "Totale", 0)
	require.NoError(t, err)
	_, err = f.ledger.Upsert(ctx, sub.ID, year, month, dec(value), projection, "")
	require.NoError(t, err)
}

func TestSummarizeViews(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.put(t, "Entrate Hotel", 2025, 1, "3750", false)
	f.put(t, "Entrate Hotel", 2025, 6, "601975", false)
	f.put(t, "Entrate Hotel", 2025, 7, "802060.58", true)
	f.put(t, "Utenze", 2025, 1, "1200.40", false)
	f.put(t, "Utenze", 2025, 8, "900", true)
	f.put(t, "Saldo MPS", 2025, 1, "15000", false)
	f.put(t, "Entrate Hotel", 2024, 12, "99", false)

	sum, err := f.svc.Summarize(ctx, f.companyID, 2025, true)
	require.NoError(t, err)
	require.NotNil(t, sum.Projections)

	assert.True(t, sum.Consolidated.TotalRevenue.Equal(dec("605725")))
	assert.True(t, sum.Consolidated.TotalExpenses.Equal(dec("1200.40")))
	assert.True(t, sum.Consolidated.NetProfit.Equal(dec("604524.60")))
	assert.True(t, sum.Projections.TotalRevenue.Equal(dec("802060.58")))
	assert.True(t, sum.Projections.NetProfit.Equal(dec("801160.58")))
	assert.Equal(t, 4, sum.Status.ActualEntries)
	assert.Equal(t, 2, sum.Status.ProjectionEntries)

	// combined is the exact sum of the two provenance views
	c, a, p := sum.Combined, sum.Consolidated, *sum.Projections
	assert.True(t, c.TotalRevenue.Equal(a.TotalRevenue.Add(p.TotalRevenue)))
	assert.True(t, c.TotalExpenses.Equal(a.TotalExpenses.Add(p.TotalExpenses)))
	assert.True(t, c.NetProfit.Equal(a.NetProfit.Add(p.NetProfit)))
	for m := 1; m <= 12; m++ {
		assert.True(t, c.Monthly[m].Revenue.Equal(a.Monthly[m].Revenue.Add(p.Monthly[m].Revenue)), "month %d", m)
		assert.True(t, c.Monthly[m].Expenses.Equal(a.Monthly[m].Expenses.Add(p.Monthly[m].Expenses)), "month %d", m)
	}
	for name, ct := range c.Categories {
		assert.True(t, ct.Total.Equal(a.Categories[name].Total.Add(p.Categories[name].Total)), name)
	}

	// balance accounts only show up in category totals
	assert.True(t, a.Categories["Saldo MPS"].Total.Equal(dec("15000")))
	assert.Equal(t, core.KindBalance, a.Categories["Saldo MPS"].Kind)
	assert.True(t, a.Monthly[1].Revenue.Equal(dec("3750")))
}

func TestSummarizeZeroFillsCategories(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	sum, err := f.svc.Summarize(ctx, f.companyID, 2030, true)
	require.NoError(t, err)

	cats, err := f.tree.Categories(ctx, f.companyID)
	require.NoError(t, err)
	for _, v := range []core.View{sum.Consolidated, *sum.Projections, sum.Combined} {
		assert.Len(t, v.Categories, len(cats))
		for _, c := range cats {
			ct, ok := v.Categories[c.Name]
			require.True(t, ok, c.Name)
			assert.True(t, ct.Total.IsZero())
			assert.Equal(t, c.ID, ct.ID)
		}
		assert.Len(t, v.Monthly, 12)
		assert.True(t, v.NetProfit.IsZero())
	}
}

func TestSummarizeWithoutProjections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.put(t, "Entrate CVM", 2025, 3, "100", false)
	f.put(t, "Entrate CVM", 2025, 4, "250", true)

	sum, err := f.svc.Summarize(ctx, f.companyID, 2025, false)
	require.NoError(t, err)
	assert.Nil(t, sum.Projections)
	assert.Zero(t, sum.Status.ProjectionEntries)
	assert.True(t, sum.Combined.TotalRevenue.Equal(sum.Consolidated.TotalRevenue))
	assert.True(t, sum.Combined.TotalRevenue.Equal(dec("100")))
}

func TestSummaryDataStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.put(t, "Entrate CVM", 2025, 3, "100", false)
	f.put(t, "Entrate CVM", 2025, 9, "250", true)

	f.svc.WithClock(func() time.Time { return time.Date(2025, time.July, 10, 0, 0, 0, 0, time.UTC) })
	sum, err := f.svc.Summarize(ctx, f.companyID, 2025, true)
	require.NoError(t, err)
	assert.Equal(t, core.DataStatus{Cutoff: core.Period{Year: 2025, Month: 7}, ActualEntries: 1, ProjectionEntries: 1}, sum.Status)

	f.svc.WithCutoff(&core.Period{Year: 2025, Month: 4})
	sum, err = f.svc.Summarize(ctx, f.companyID, 2025, true)
	require.NoError(t, err)
	assert.Equal(t, core.Period{Year: 2025, Month: 4}, sum.Status.Cutoff)
}

func TestSummarizeRejectsBadYear(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Summarize(context.Background(), f.companyID, 12, true)
	assert.ErrorIs(t, err, core.ErrInvalidValue)
}

// racingLines runs write once, after the entries were read and before the
// summary is cached, the way a concurrent upsert would.
type racingLines struct {
	LineSource
	write func()
}

func (r *racingLines) QueryLines(ctx context.Context, f core.EntryFilter) ([]core.LedgerLine, error) {
	lines, err := r.LineSource.QueryLines(ctx, f)
	if r.write != nil {
		r.write()
		r.write = nil
	}
	return lines, err
}

func TestSummarizeDoesNotCacheAcrossInvalidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	lines := &racingLines{LineSource: f.svc.lines}
	svc := NewService(f.svc.categories, lines, applog.Discard())
	summaries := cache.NewLRUCache[core.Summary](8, time.Hour)
	svc.WithCache(summaries)

	f.put(t, "Entrate CVM", 2025, 3, "100", false)
	lines.write = func() {
		f.put(t, "Entrate CVM", 2025, 3, "300", false)
		svc.Invalidate(f.companyID)
	}
	stale, err := svc.Summarize(ctx, f.companyID, 2025, true)
	require.NoError(t, err)
	assert.True(t, stale.Combined.TotalRevenue.Equal(dec("100")))
	assert.Zero(t, summaries.Size(), "a summary built before the write is not cached")

	fresh, err := svc.Summarize(ctx, f.companyID, 2025, true)
	require.NoError(t, err)
	assert.True(t, fresh.Combined.TotalRevenue.Equal(dec("300")))
	assert.Equal(t, 1, summaries.Size())

	lines.write = svc.InvalidateAll
	_, err = svc.Summarize(ctx, f.companyID, 2025, false)
	require.NoError(t, err)
	assert.Equal(t, 0, summaries.Size())
}

func TestSummarizeCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.svc.WithCache(cache.NewLRUCache[core.Summary](8, time.Hour))

	f.put(t, "Entrate CVM", 2025, 3, "100", false)
	first, err := f.svc.Summarize(ctx, f.companyID, 2025, true)
	require.NoError(t, err)

	f.put(t, "Entrate CVM", 2025, 3, "300", false)
	cached, err := f.svc.Summarize(ctx, f.companyID, 2025, true)
	require.NoError(t, err)
	assert.True(t, cached.Combined.TotalRevenue.Equal(first.Combined.TotalRevenue))

	f.svc.Invalidate(f.companyID)
	fresh, err := f.svc.Summarize(ctx, f.companyID, 2025, true)
	require.NoError(t, err)
	assert.True(t, fresh.Combined.TotalRevenue.Equal(dec("300")))

	f.put(t, "Entrate CVM", 2025, 3, "500", false)
	f.svc.InvalidateAll()
	fresh, err = f.svc.Summarize(ctx, f.companyID, 2025, true)
	require.NoError(t, err)
	assert.True(t, fresh.Combined.TotalRevenue.Equal(dec("500")))
}

func TestAnalyzeVariance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.put(t, "Entrate Hotel", 2025, 6, "601975", false)
	f.put(t, "Entrate Hotel", 2025, 6, "802060.58", true)
	f.put(t, "Utenze", 2025, 6, "115", false)
	f.put(t, "Utenze", 2025, 6, "100", true)
	f.put(t, "Consulenze", 2025, 6, "114.99", false)
	f.put(t, "Consulenze", 2025, 6, "100", true)
	f.put(t, "Entrate CVM", 2025, 6, "50", false)
	f.put(t, "Entrate Residence", 2025, 5, "10", false)

	r, err := f.svc.AnalyzeVariance(ctx, f.companyID, 2025, 6, DefaultThreshold)
	require.NoError(t, err)

	hotel, ok := r.Flagged["Entrate Hotel"]
	require.True(t, ok)
	require.NotNil(t, hotel.RelativeVariance)
	assert.True(t, hotel.AbsoluteVariance.Equal(dec("-200085.58")))
	assert.InDelta(t, -0.249, hotel.RelativeVariance.InexactFloat64(), 0.001)

	utenze, ok := r.Flagged["Utenze"]
	require.True(t, ok, "threshold is inclusive")
	assert.True(t, utenze.RelativeVariance.Equal(dec("0.15")))

	_, ok = r.Flagged["Consulenze"]
	assert.False(t, ok)

	cvm, ok := r.Undefined["Entrate CVM"]
	require.True(t, ok)
	assert.Nil(t, cvm.RelativeVariance)
	assert.NotContains(t, r.Flagged, "Entrate CVM")
	assert.NotContains(t, r.Undefined, "Entrate Residence")

	assert.True(t, r.RevenueVariance.Equal(dec("-200035.58")))
	assert.True(t, r.ExpenseVariance.Equal(dec("29.99")))
}

func TestAnalyzeVarianceNegativeProjection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.put(t, "Mutui e Finanziamenti", 2025, 2, "-6000", false)
	f.put(t, "Mutui e Finanziamenti", 2025, 2, "-4500", true)

	r, err := f.svc.AnalyzeVariance(ctx, f.companyID, 2025, 2, DefaultThreshold)
	require.NoError(t, err)
	v, ok := r.Flagged["Mutui e Finanziamenti"]
	require.True(t, ok)
	assert.True(t, v.RelativeVariance.Equal(dec("-0.333333")))
}

func TestAnalyzeVarianceThresholdIsExact(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	// 0.14999996 shows as 0.150000 at six digits but stays below 0.15
	f.put(t, "Utenze", 2025, 7, "1149999.96", false)
	f.put(t, "Utenze", 2025, 7, "1000000", true)
	f.put(t, "Consulenze", 2025, 7, "1150000", false)
	f.put(t, "Consulenze", 2025, 7, "1000000", true)

	r, err := f.svc.AnalyzeVariance(ctx, f.companyID, 2025, 7, DefaultThreshold)
	require.NoError(t, err)
	assert.NotContains(t, r.Flagged, "Utenze")
	require.Contains(t, r.Flagged, "Consulenze")
	assert.True(t, r.Flagged["Consulenze"].RelativeVariance.Equal(dec("0.15")))
}

func TestAnalyzeVarianceValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.AnalyzeVariance(context.Background(), f.companyID, 2025, 13, DefaultThreshold)
	assert.ErrorIs(t, err, core.ErrInvalidValue)
	_, err = f.svc.AnalyzeVariance(context.Background(), f.companyID, 2025, 1, dec("-0.1"))
	assert.ErrorIs(t, err, core.ErrInvalidValue)
}

func TestRanked(t *testing.T) {
	r := core.VarianceReport{
		Flagged: map[string]core.CategoryVariance{
			"a": {AbsoluteVariance: dec("-500")},
			"b": {AbsoluteVariance: dec("20")},
		},
		Undefined: map[string]core.CategoryVariance{
			"c": {AbsoluteVariance: dec("100")},
		},
	}
	got := Ranked(r)
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].Category)
	assert.Equal(t, "c", got[1].Category)
	assert.True(t, got[1].Undefined)
	assert.Equal(t, "b", got[2].Category)
}

func TestDataTypeSummaryAndMonthlyData(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.put(t, "Entrate Hotel", 2025, 6, "100", false)
	f.put(t, "Entrate Hotel", 2025, 6, "150", true)
	f.put(t, "Utenze", 2025, 6, "40", false)
	f.put(t, "Utenze", 2024, 6, "7", false)

	year := 2025
	ds, err := f.svc.DataTypeSummary(ctx, f.companyID, &year)
	require.NoError(t, err)
	assert.Equal(t, 2, ds.Consolidated.Count)
	assert.True(t, ds.Consolidated.Total.Equal(dec("140")))
	assert.Equal(t, 1, ds.Projections.Count)

	all, err := f.svc.DataTypeSummary(ctx, f.companyID, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, all.Consolidated.Count)

	md, err := f.svc.MonthlyData(ctx, f.companyID, 2025, 6)
	require.NoError(t, err)
	assert.Len(t, md.Actual, 2)
	require.Len(t, md.Projections, 1)
	assert.Equal(t, "Entrate Hotel", md.Projections[0].CategoryName)
	assert.Equal(t, "Totale", md.Projections[0].SubcategoryName)
}
