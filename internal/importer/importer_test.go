package importer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orti/internal/core"
	"orti/internal/ledger"
	applog "orti/internal/log"
	"orti/internal/sheets"
	sheetsmem "orti/internal/sheets/memory"
	"orti/internal/storage/memory"
	"orti/internal/taxonomy"
)

type env struct {
	importer  *Importer
	ledger    *ledger.Service
	tree      *taxonomy.Tree
	store     *memory.Store
	companyID string
}

func setup(t *testing.T) env {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	company, err := store.GetOrCreateCompany(ctx, "ORTI", "")
	require.NoError(t, err)

	logger := applog.Discard()
	tree := taxonomy.NewTree(store, logger)
	_, err = tree.SeedDefaultHierarchy(ctx, company.ID, taxonomy.DefaultHierarchy())
	require.NoError(t, err)

	led := ledger.NewService(store, 4, logger)
	return env{
		importer:  New(tree, led, logger),
		ledger:    led,
		tree:      tree,
		store:     store,
		companyID: company.ID,
	}
}

// unreachableEntries fails every entry write the way a dropped connection
// does and serves everything else from memory.
type unreachableEntries struct{ *memory.Store }

func (unreachableEntries) UpsertEntry(context.Context, core.Entry) (core.Entry, error) {
	return core.Entry{}, fmt.Errorf("upsert entry: %w: connection refused", core.ErrBackingStoreUnavailable)
}

func (e env) values(t *testing.T, category string, projection bool) map[core.Period]decimal.Decimal {
	t.Helper()
	cat, err := e.tree.Resolve(context.Background(), e.companyID, category)
	require.NoError(t, err)
	lines, err := e.ledger.Lines(context.Background(), core.EntryFilter{CategoryID: &cat.ID, IsProjection: &projection})
	require.NoError(t, err)
	out := make(map[core.Period]decimal.Decimal)
	for _, l := range lines {
		out[l.Period()] = l.Value
	}
	return out
}

func pianoFinanziario() sheets.Table {
	return sheets.Table{
		Name: "Piano Finanziario",
		Rows: [][]string{
			{"Piano Finanziario 2025"},
			{"Voce", "", "Gennaio", "Febbraio", "Marzo", "Aprile", "Maggio", "Giugno", "Luglio", "Agosto", "Settembre", "Ottobre", "Novembre", "Dicembre"},
			{"Entrate Hotel ", "", "3750", "", "", "", "", "601975", "802060.58"},
			{"Entrate Residence", "", "1.234,56", "n/d"},
			{"TOTALE ENTRATE", "", "9999"},
			{"Mutui e Finaziamenti", "", "-4500"},
			{"Voce sconosciuta", "", "100"},
			{"", "", "123"},
			{"Utenze", "", "0", "-"},
		},
	}
}

func TestImportPianoFinanziario(t *testing.T) {
	ctx := context.Background()
	e := setup(t)

	report, err := e.importer.Import(ctx, sheetsmem.New(pianoFinanziario()), Options{
		CompanyID: e.companyID,
		Layout:    DetectHeader(2025),
		Policy:    CutoffPolicy{Cutoff: core.Period{Year: 2025, Month: 7}},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Piano Finanziario"}, report.Sheets)
	assert.Equal(t, 6, report.RowsRead)
	assert.Equal(t, 5, report.Applied)
	assert.Empty(t, report.Failed)

	kinds := map[WarningKind]int{}
	for _, w := range report.Warnings {
		kinds[w.Kind]++
	}
	assert.Equal(t, 1, kinds[WarnUnresolvedLabel], "Voce sconosciuta")
	assert.Equal(t, 1, kinds[WarnInvalidValue], "n/d")
	assert.Equal(t, 1, kinds[WarnSkipped], "TOTALE ENTRATE is calculated")

	actual := e.values(t, "Entrate Hotel", false)
	assert.True(t, actual[core.Period{Year: 2025, Month: 1}].Equal(decimal.RequireFromString("3750")))
	assert.True(t, actual[core.Period{Year: 2025, Month: 6}].Equal(decimal.RequireFromString("601975")))
	projected := e.values(t, "Entrate Hotel", true)
	assert.True(t, projected[core.Period{Year: 2025, Month: 7}].Equal(decimal.RequireFromString("802060.58")))

	res := e.values(t, "Entrate Residence", false)
	assert.True(t, res[core.Period{Year: 2025, Month: 1}].Equal(decimal.RequireFromString("1234.56")))

	mutui := e.values(t, "Mutui e Finanziamenti", false)
	assert.Len(t, mutui, 1)

	hotel := report.Categories["Entrate Hotel"]
	assert.True(t, hotel.Total.Equal(decimal.RequireFromString("1407785.58")))
	assert.Equal(t, 3, hotel.Periods)
	_, ok := report.Categories["Utenze"]
	assert.False(t, ok, "zero and blank cells are not data")
}

func TestReimportReplacesValues(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	opts := Options{CompanyID: e.companyID, Layout: Layout{Columns: MonthColumns(2, 2025)}, Policy: FixedPolicy(false)}

	first := sheets.Table{Name: "2025", Rows: [][]string{{"Entrate Hotel", "", "500000"}}}
	_, err := e.importer.ImportTables(ctx, []sheets.Table{first}, opts)
	require.NoError(t, err)

	second := sheets.Table{Name: "2025", Rows: [][]string{{"Entrate Hotel ", "", "601975"}}}
	report, err := e.importer.ImportTables(ctx, []sheets.Table{second}, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Applied)

	got := e.values(t, "Entrate Hotel", false)
	require.Len(t, got, 1)
	assert.True(t, got[core.Period{Year: 2025, Month: 1}].Equal(decimal.RequireFromString("601975")))
}

func TestDuplicateRowsLastWins(t *testing.T) {
	ctx := context.Background()
	e := setup(t)

	tbl := sheets.Table{Name: "2025", Rows: [][]string{
		{"Voce", "Gennaio", "Febbraio"},
		{"Entrate Hotel ", "100", "200"},
		{"Entrate Hotel", "150"},
	}}
	report, err := e.importer.ImportTables(ctx, []sheets.Table{tbl}, Options{
		CompanyID: e.companyID,
		Layout:    Layout{LabelColumn: 0, Columns: ColumnMap{1: {Year: 2025, Month: 1}, 2: {Year: 2025, Month: 2}}},
		Policy:    FixedPolicy(false),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Applied)
	assert.Equal(t, 2, report.RowsRead, "repeated header row is not data")

	got := e.values(t, "Entrate Hotel", false)
	assert.True(t, got[core.Period{Year: 2025, Month: 1}].Equal(decimal.RequireFromString("150")))
	assert.True(t, got[core.Period{Year: 2025, Month: 2}].Equal(decimal.RequireFromString("200")))
	require.Len(t, report.Warnings, 1)
	assert.Equal(t, WarnSkipped, report.Warnings[0].Kind)
	assert.Equal(t, 2, report.Warnings[0].Row)
}

func TestSheetWithoutHeaderIsSkipped(t *testing.T) {
	ctx := context.Background()
	e := setup(t)

	report, err := e.importer.ImportTables(ctx, []sheets.Table{
		{Name: "Note", Rows: [][]string{{"just text"}}},
		{Name: "2026", Rows: [][]string{{"", "Jan", "Feb"}, {"Entrate CVM", "10", "20"}}},
	}, Options{CompanyID: e.companyID, Layout: DetectHeader(0), Policy: FixedPolicy(true)})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Applied)
	require.Len(t, report.Warnings, 1)
	assert.Equal(t, "Note", report.Warnings[0].Sheet)

	got := e.values(t, "Entrate CVM", true)
	assert.Len(t, got, 2)
	_, ok := got[core.Period{Year: 2026, Month: 2}]
	assert.True(t, ok)
}

func TestUnreadableSourceAborts(t *testing.T) {
	e := setup(t)
	_, err := e.importer.Import(context.Background(), sheetsmem.Failing(sheets.ErrUnreadableSource), Options{
		CompanyID: e.companyID,
		Policy:    FixedPolicy(false),
	})
	assert.ErrorIs(t, err, sheets.ErrUnreadableSource)
}

func TestOptionsRequired(t *testing.T) {
	e := setup(t)
	_, err := e.importer.ImportTables(context.Background(), nil, Options{CompanyID: e.companyID})
	assert.ErrorIs(t, err, core.ErrInvalidValue)

	_, err = e.importer.ImportTables(context.Background(), nil, Options{Policy: FixedPolicy(false)})
	assert.ErrorIs(t, err, core.ErrInvalidValue)
}

type failingLedger struct{}

func (failingLedger) BatchUpsert(_ context.Context, entries []core.Entry) ledger.BatchResult {
	var res ledger.BatchResult
	for i, e := range entries {
		res.Failed = append(res.Failed, ledger.EntryFailure{Index: i, Entry: e, Err: errors.New("disk full")})
	}
	return res
}

func TestLedgerFailuresAreReported(t *testing.T) {
	e := setup(t)
	im := New(e.tree, failingLedger{}, applog.Discard())

	report, err := im.ImportTables(context.Background(), []sheets.Table{
		{Name: "2025", Rows: [][]string{{"Entrate Hotel", "", "10"}}},
	}, Options{CompanyID: e.companyID, Layout: Layout{Columns: MonthColumns(2, 2025)}, Policy: FixedPolicy(false)})
	require.NoError(t, err)

	assert.Zero(t, report.Applied)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, "Entrate Hotel", report.Failed[0].Label)
	assert.Equal(t, 1, report.Failed[0].Row)
	assert.Equal(t, 3, report.Failed[0].Column)
	assert.Equal(t, "disk full", report.Failed[0].Message)
	assert.Empty(t, report.Categories)
}

func TestStoreOutageFailsImport(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	logger := applog.Discard()
	im := New(e.tree, ledger.NewService(unreachableEntries{e.store}, 2, logger), logger)

	report, err := im.ImportTables(ctx, []sheets.Table{
		{Name: "2025", Rows: [][]string{
			{"Voce", "Gennaio", "Febbraio", "Marzo", "Aprile", "Maggio"},
			{"Entrate Hotel", "1", "2", "3", "4", "5"},
		}},
	}, Options{CompanyID: e.companyID, Layout: DetectHeader(2025), Policy: FixedPolicy(false)})
	require.ErrorIs(t, err, core.ErrBackingStoreUnavailable)
	assert.Zero(t, report.Applied)
	assert.Len(t, report.Failed, 5)

	report, err = im.ImportGroups(ctx, e.companyID, []Group{{
		CategoryName: "Utenze",
		Entries:      []GroupEntry{{Year: 2025, Month: 1, Value: decimal.NewFromInt(10)}},
	}}, nil)
	require.ErrorIs(t, err, core.ErrBackingStoreUnavailable)
	assert.Len(t, report.Failed, 1)
}

func TestImportGroups(t *testing.T) {
	ctx := context.Background()
	e := setup(t)

	groups := []Group{
		{
			CategoryName: "PANORAMAHT",
			IsProjection: true,
			Entries: []GroupEntry{
				{Year: 2025, Month: 8, Value: decimal.RequireFromString("884990.72")},
				{Year: 2025, Month: 13, Value: decimal.RequireFromString("1")},
			},
		},
		{
			CategoryName:    "Utenze",
			SubcategoryName: "Gas",
			Entries:         []GroupEntry{{Year: 2025, Month: 1, Value: decimal.RequireFromString("-120.40"), Notes: " bolletta "}},
		},
		{CategoryName: "Inesistente", Entries: []GroupEntry{{Year: 2025, Month: 1}}},
	}

	report, err := e.importer.ImportGroups(ctx, e.companyID, groups, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Applied)
	require.Len(t, report.Failed, 1)
	assert.Contains(t, report.Failed[0].Message, "month 13")
	require.Len(t, report.Warnings, 1)
	assert.Equal(t, WarnUnresolvedLabel, report.Warnings[0].Kind)

	gas := e.values(t, "Utenze", false)
	assert.True(t, gas[core.Period{Year: 2025, Month: 1}].Equal(decimal.RequireFromString("-120.40")))
}

func TestAsOf(t *testing.T) {
	p := AsOf(time.Date(2025, time.July, 24, 0, 0, 0, 0, time.UTC))
	assert.False(t, p.IsProjection(core.Period{Year: 2025, Month: 6}))
	assert.True(t, p.IsProjection(core.Period{Year: 2025, Month: 7}))
	assert.True(t, p.IsProjection(core.Period{Year: 2026, Month: 1}))
	assert.False(t, p.IsProjection(core.Period{Year: 2024, Month: 12}))
}
