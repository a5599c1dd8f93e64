package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orti/internal/core"
	"orti/internal/importer"
	"orti/internal/ledger"
	applog "orti/internal/log"
	"orti/internal/report"
	"orti/internal/sheets"
	sheetmem "orti/internal/sheets/memory"
	"orti/internal/storage/memory"
	"orti/internal/taxonomy"
)

type varianceOutput struct {
	Flagged map[string]core.CategoryVariance `json:"flagged"`
	Ranked  []report.RankedVariance          `json:"ranked"`
}

func newTestApp(t *testing.T) (*app, *bytes.Buffer) {
	t.Helper()
	store := memory.New()
	logger := applog.Discard()
	tree := taxonomy.NewTree(store, logger)
	led := ledger.NewService(store, 2, logger)
	out := &bytes.Buffer{}
	return &app{
		store:     store,
		taxonomy:  tree,
		ledger:    led,
		importer:  importer.New(tree, led, logger),
		reports:   report.NewService(store, store, logger),
		company:   "ORTI",
		threshold: report.DefaultThreshold,
		now:       func() time.Time { return time.Date(2025, 7, 10, 0, 0, 0, 0, time.UTC) },
		out:       out,
		logger:    logger,
	}, out
}

func runJSON[T any](t *testing.T, a *app, out *bytes.Buffer, args ...string) T {
	t.Helper()
	out.Reset()
	require.NoError(t, a.run(context.Background(), args))
	var v T
	require.NoError(t, json.Unmarshal(out.Bytes(), &v), out.String())
	return v
}

func TestSeedIsIdempotent(t *testing.T) {
	a, out := newTestApp(t)

	first := runJSON[taxonomy.SeedReport](t, a, out, "seed")
	assert.NotEmpty(t, first.CreatedCategories)

	second := runJSON[taxonomy.SeedReport](t, a, out, "seed")
	assert.Empty(t, second.CreatedCategories)
	assert.NotEmpty(t, second.ExistingCategories)
}

func TestImportCSVThenSummarize(t *testing.T) {
	a, out := newTestApp(t)
	runJSON[taxonomy.SeedReport](t, a, out, "seed")

	path := filepath.Join(t.TempDir(), "2025.csv")
	require.NoError(t, os.WriteFile(path, []byte("Voce,Giugno,Luglio\nEntrate Hotel,601975,700000\n"), 0o600))

	rep := runJSON[importer.Report](t, a, out, "xlsx", "-file", path, "-year", "2025")
	assert.Equal(t, 2, rep.Applied)

	// July is the current month, so the clock policy projects it.
	sum := runJSON[core.Summary](t, a, out, "summary", "-year", "2025", "-projections=false")
	assert.True(t, sum.Combined.TotalRevenue.Equal(decimal.RequireFromString("601975")), sum.Combined.TotalRevenue.String())

	sum = runJSON[core.Summary](t, a, out, "-company", "ORTI", "summary", "-year", "2025")
	assert.True(t, sum.Combined.TotalRevenue.Equal(decimal.RequireFromString("1301975")))

	rep = runJSON[importer.Report](t, a, out, "xlsx", "-file", path, "-year", "2025", "-projection=false")
	assert.Equal(t, 2, rep.Applied)
}

func TestVarianceCommand(t *testing.T) {
	a, out := newTestApp(t)
	runJSON[taxonomy.SeedReport](t, a, out, "seed")

	tables := func(value string) sheets.Table {
		return sheets.Table{Name: "2025", Rows: [][]string{{"Voce", "Giugno"}, {"PANORAMAHT", value}}}
	}
	var opened []string
	a.sheetID = "sheet-1"
	a.openSheets = func(_ context.Context, id string, ranges []string) (sheets.TableReader, error) {
		opened = append(opened, id)
		if len(opened) == 1 {
			return sheetmem.New(tables("601975")), nil
		}
		return sheetmem.New(tables("802060.58")), nil
	}

	runJSON[importer.Report](t, a, out, "sheets", "-year", "2025", "-projection=false")
	runJSON[importer.Report](t, a, out, "sheets", "-spreadsheet", "sheet-2", "-ranges", "2025!A1:M60", "-year", "2025", "-cutoff", "2025-01")
	assert.Equal(t, []string{"sheet-1", "sheet-2"}, opened)

	v := runJSON[varianceOutput](t, a, out, "variance", "-year", "2025", "-month", "6")
	require.Contains(t, v.Flagged, "Entrate Hotel")
	require.NotEmpty(t, v.Ranked)
	assert.Equal(t, "Entrate Hotel", v.Ranked[0].Category)
}

func TestConsolidateCommand(t *testing.T) {
	a, out := newTestApp(t)
	runJSON[taxonomy.SeedReport](t, a, out, "seed")
	_, err := a.importer.ImportGroups(context.Background(), companyID(t, a), []importer.Group{{
		CategoryName: "Entrate Hotel",
		IsProjection: true,
		Entries:      []importer.GroupEntry{{Year: 2025, Month: 8, Value: decimal.NewFromInt(4403)}},
	}}, nil)
	require.NoError(t, err)

	res := runJSON[ledger.Consolidation](t, a, out, "consolidate", "-year", "2025", "-month", "8", "-notes", "chiusura")
	require.Len(t, res.Promoted, 1)
	assert.Equal(t, "chiusura", res.Promoted[0].Notes)

	sum := runJSON[core.Summary](t, a, out, "summary", "-year", "2025", "-projections=false")
	assert.True(t, sum.Consolidated.TotalRevenue.Equal(decimal.NewFromInt(4403)))

	assert.ErrorIs(t, a.run(context.Background(), []string{"consolidate", "-year", "2025"}), errUsage)
}

func TestResetCommand(t *testing.T) {
	a, out := newTestApp(t)
	runJSON[taxonomy.SeedReport](t, a, out, "seed")
	_, err := a.importer.ImportGroups(context.Background(), companyID(t, a), []importer.Group{{
		CategoryName: "Entrate Hotel",
		Entries:      []importer.GroupEntry{{Year: 2025, Month: 1, Value: decimal.NewFromInt(10)}},
	}}, nil)
	require.NoError(t, err)

	res := runJSON[map[string]int64](t, a, out, "reset")
	assert.EqualValues(t, 1, res["deleted"])
}

func companyID(t *testing.T, a *app) string {
	t.Helper()
	c, err := a.store.GetCompanyByName(context.Background(), a.company)
	require.NoError(t, err)
	return c.ID
}

func TestCommandErrors(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()

	assert.ErrorIs(t, a.run(ctx, nil), errUsage)
	assert.ErrorIs(t, a.run(ctx, []string{"export"}), errUsage)
	assert.ErrorIs(t, a.run(ctx, []string{"xlsx"}), errUsage)
	assert.ErrorIs(t, a.run(ctx, []string{"summary"}), errUsage)
	assert.ErrorIs(t, a.run(ctx, []string{"variance", "-year", "2025"}), errUsage)
	assert.ErrorIs(t, a.run(ctx, []string{"sheets"}), errUsage)
	assert.ErrorIs(t, a.run(ctx, []string{"summary", "-year", "2025"}), core.ErrNotFound)

	require.NoError(t, a.run(ctx, []string{"seed"}))
	err := a.run(ctx, []string{"xlsx", "-file", filepath.Join(t.TempDir(), "missing.xlsx")})
	assert.ErrorIs(t, err, sheets.ErrUnreadableSource)
	assert.ErrorIs(t, a.run(ctx, []string{"variance", "-year", "2025", "-month", "13"}), core.ErrInvalidValue)
}
