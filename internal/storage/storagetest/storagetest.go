// Package storagetest holds the behaviour every storage.Store adapter must
// share. Adapter packages call Run from their own tests.
package storagetest

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orti/internal/core"
	"orti/internal/storage"
)

// Run executes the shared suite. open must return an empty store.
func Run(t *testing.T, open func(t *testing.T) storage.Store) {
	t.Run("company get or create is idempotent", func(t *testing.T) {
		testCompany(t, open(t))
	})
	t.Run("category names are unique per company", func(t *testing.T) {
		testCategoryConflict(t, open(t))
	})
	t.Run("upsert replaces on natural key", func(t *testing.T) {
		testUpsertIdempotent(t, open(t))
	})
	t.Run("actual and projection are distinct keys", func(t *testing.T) {
		testProjectionKey(t, open(t))
	})
	t.Run("upsert into unknown subcategory is not found", func(t *testing.T) {
		testUpsertUnknownSubcategory(t, open(t))
	})
	t.Run("query filters act as wildcards when nil", func(t *testing.T) {
		testQueryFilters(t, open(t))
	})
	t.Run("update onto another key conflicts", func(t *testing.T) {
		testUpdateConflict(t, open(t))
	})
	t.Run("category delete cascades", func(t *testing.T) {
		testCascade(t, open(t))
	})
	t.Run("bulk deletes", func(t *testing.T) {
		testBulkDeletes(t, open(t))
	})
	t.Run("concurrent upserts keep one row per key", func(t *testing.T) {
		testConcurrentUpserts(t, open(t))
	})
}

type fixture struct {
	company core.Company
	hotel   core.Category
	utenze  core.Category
	hotelS  core.Subcategory
	gas     core.Subcategory
}

func seed(t *testing.T, s storage.Store) fixture {
	t.Helper()
	ctx := context.Background()
	company, err := s.GetOrCreateCompany(ctx, "ORTI", "test")
	require.NoError(t, err)

	hotel, err := s.CreateCategory(ctx, core.Category{CompanyID: company.ID, Name: "Entrate Hotel", Kind: core.KindRevenue, SortOrder: 10})
	require.NoError(t, err)
	utenze, err := s.CreateCategory(ctx, core.Category{CompanyID: company.ID, Name: "Utenze", Kind: core.KindExpense, SortOrder: 110})
	require.NoError(t, err)

	hotelS, err := s.CreateSubcategory(ctx, core.Subcategory{CategoryID: hotel.ID, Name: "Totale"})
	require.NoError(t, err)
	gas, err := s.CreateSubcategory(ctx, core.Subcategory{CategoryID: utenze.ID, Name: "Gas", SortOrder: 2})
	require.NoError(t, err)

	return fixture{company: company, hotel: hotel, utenze: utenze, hotelS: hotelS, gas: gas}
}

func entry(sub string, year, month int, value string, projection bool) core.Entry {
	return core.Entry{
		SubcategoryID: sub,
		Year:          year,
		Month:         month,
		Value:         decimal.RequireFromString(value),
		IsProjection:  projection,
	}
}

func testCompany(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a, err := s.GetOrCreateCompany(ctx, "ORTI", "first")
	require.NoError(t, err)
	b, err := s.GetOrCreateCompany(ctx, "ORTI", "second")
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)

	got, err := s.GetCompanyByName(ctx, "ORTI")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	_, err = s.GetCompanyByName(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func testCategoryConflict(t *testing.T, s storage.Store) {
	ctx := context.Background()
	f := seed(t, s)

	_, err := s.CreateCategory(ctx, core.Category{CompanyID: f.company.ID, Name: "Utenze", Kind: core.KindExpense})
	assert.ErrorIs(t, err, core.ErrConflict)

	_, err = s.CreateSubcategory(ctx, core.Subcategory{CategoryID: f.utenze.ID, Name: "Gas"})
	assert.ErrorIs(t, err, core.ErrConflict)

	cats, err := s.ListCategories(ctx, f.company.ID)
	require.NoError(t, err)
	require.Len(t, cats, 2)
	assert.Equal(t, "Entrate Hotel", cats[0].Name)
	assert.Equal(t, core.KindRevenue, cats[0].Kind)
	assert.Nil(t, cats[0].ParentID)

	found, err := s.FindSubcategory(ctx, f.utenze.ID, "Gas")
	require.NoError(t, err)
	assert.Equal(t, f.gas.ID, found.ID)

	_, err = s.FindSubcategory(ctx, f.utenze.ID, "Luce")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func testUpsertIdempotent(t *testing.T, s storage.Store) {
	ctx := context.Background()
	f := seed(t, s)

	first, err := s.UpsertEntry(ctx, entry(f.hotelS.ID, 2025, 6, "500000", false))
	require.NoError(t, err)
	second, err := s.UpsertEntry(ctx, entry(f.hotelS.ID, 2025, 6, "601975", false))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.Value.Equal(decimal.RequireFromString("601975")))

	year := 2025
	lines, err := s.QueryLines(ctx, core.EntryFilter{SubcategoryID: &f.hotelS.ID, Year: &year})
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.True(t, lines[0].Value.Equal(decimal.RequireFromString("601975")))
	assert.Equal(t, "Entrate Hotel", lines[0].CategoryName)
	assert.Equal(t, core.KindRevenue, lines[0].Kind)
}

func testProjectionKey(t *testing.T, s storage.Store) {
	ctx := context.Background()
	f := seed(t, s)

	_, err := s.UpsertEntry(ctx, entry(f.hotelS.ID, 2025, 6, "601975", false))
	require.NoError(t, err)
	_, err = s.UpsertEntry(ctx, entry(f.hotelS.ID, 2025, 6, "802060.58", true))
	require.NoError(t, err)

	lines, err := s.QueryLines(ctx, core.EntryFilter{SubcategoryID: &f.hotelS.ID})
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.False(t, lines[0].IsProjection)
	assert.True(t, lines[1].Value.Equal(decimal.RequireFromString("802060.58")))
}

func testUpsertUnknownSubcategory(t *testing.T, s storage.Store) {
	seed(t, s)
	_, err := s.UpsertEntry(context.Background(), entry("does-not-exist", 2025, 1, "1", false))
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func testQueryFilters(t *testing.T, s storage.Store) {
	ctx := context.Background()
	f := seed(t, s)

	for _, e := range []core.Entry{
		entry(f.hotelS.ID, 2025, 1, "3750", false),
		entry(f.hotelS.ID, 2025, 2, "3750", false),
		entry(f.hotelS.ID, 2025, 7, "802060.58", true),
		entry(f.gas.ID, 2025, 1, "-120.40", false),
		entry(f.gas.ID, 2024, 12, "-99", false),
	} {
		_, err := s.UpsertEntry(ctx, e)
		require.NoError(t, err)
	}

	all, err := s.QueryLines(ctx, core.EntryFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 5)
	assert.Equal(t, 7, all[0].Month, "newest period first")
	assert.Equal(t, 2024, all[len(all)-1].Year)

	year, month, projection := 2025, 1, false
	got, err := s.QueryLines(ctx, core.EntryFilter{CompanyID: &f.company.ID, Year: &year, Month: &month, IsProjection: &projection})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.QueryLines(ctx, core.EntryFilter{CategoryID: &f.utenze.ID})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.QueryLines(ctx, core.EntryFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func testUpdateConflict(t *testing.T, s storage.Store) {
	ctx := context.Background()
	f := seed(t, s)

	jan, err := s.UpsertEntry(ctx, entry(f.hotelS.ID, 2025, 1, "1", false))
	require.NoError(t, err)
	feb, err := s.UpsertEntry(ctx, entry(f.hotelS.ID, 2025, 2, "2", false))
	require.NoError(t, err)

	feb.Month = 1
	_, err = s.UpdateEntry(ctx, feb)
	assert.ErrorIs(t, err, core.ErrConflict)

	jan.Value = decimal.RequireFromString("10.5")
	jan.Notes = "rettifica"
	updated, err := s.UpdateEntry(ctx, jan)
	require.NoError(t, err)
	assert.True(t, updated.Value.Equal(decimal.RequireFromString("10.5")))
	assert.Equal(t, "rettifica", updated.Notes)

	require.NoError(t, s.DeleteEntry(ctx, jan.ID))
	_, err = s.GetEntry(ctx, jan.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.ErrorIs(t, s.DeleteEntry(ctx, jan.ID), core.ErrNotFound)
}

func testCascade(t *testing.T, s storage.Store) {
	ctx := context.Background()
	f := seed(t, s)

	child, err := s.CreateCategory(ctx, core.Category{CompanyID: f.company.ID, Name: "Gas Hotel", Kind: core.KindExpense, ParentID: &f.utenze.ID})
	require.NoError(t, err)
	childSub, err := s.CreateSubcategory(ctx, core.Subcategory{CategoryID: child.ID, Name: "Totale"})
	require.NoError(t, err)

	_, err = s.UpsertEntry(ctx, entry(f.gas.ID, 2025, 1, "-10", false))
	require.NoError(t, err)
	_, err = s.UpsertEntry(ctx, entry(childSub.ID, 2025, 1, "-5", false))
	require.NoError(t, err)
	_, err = s.UpsertEntry(ctx, entry(f.hotelS.ID, 2025, 1, "100", false))
	require.NoError(t, err)

	stats, err := s.DeleteCategory(ctx, f.utenze.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.DeleteStats{Categories: 2, Subcategories: 2, Entries: 2}, stats)

	_, err = s.GetCategory(ctx, child.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = s.GetSubcategory(ctx, f.gas.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)

	lines, err := s.QueryLines(ctx, core.EntryFilter{CompanyID: &f.company.ID})
	require.NoError(t, err)
	assert.Len(t, lines, 1)

	stats, err = s.DeleteSubcategory(ctx, f.hotelS.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.DeleteStats{Subcategories: 1, Entries: 1}, stats)

	_, err = s.DeleteCategory(ctx, f.utenze.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func testBulkDeletes(t *testing.T, s storage.Store) {
	ctx := context.Background()
	f := seed(t, s)

	for _, e := range []core.Entry{
		entry(f.hotelS.ID, 2024, 12, "10", false),
		entry(f.hotelS.ID, 2025, 1, "0", false),
		entry(f.hotelS.ID, 2025, 2, "0.00", true),
		entry(f.hotelS.ID, 2025, 3, "3", false),
		entry(f.gas.ID, 2025, 1, "-1", false),
	} {
		_, err := s.UpsertEntry(ctx, e)
		require.NoError(t, err)
	}

	n, err := s.DeleteZeroEntries(ctx, f.company.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	year := 2025
	n, err = s.DeleteEntriesByCompany(ctx, f.company.ID, &year)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = s.DeleteEntriesBySubcategory(ctx, f.hotelS.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = s.UpsertEntry(ctx, entry(f.gas.ID, 2026, 1, "-1", false))
	require.NoError(t, err)
	n, err = s.DeleteEntriesByCompany(ctx, f.company.ID, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func testConcurrentUpserts(t *testing.T, s storage.Store) {
	ctx := context.Background()
	f := seed(t, s)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.UpsertEntry(ctx, entry(f.hotelS.ID, 2025, 5, decimal.NewFromInt(int64(i)).String(), false))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	lines, err := s.QueryLines(ctx, core.EntryFilter{SubcategoryID: &f.hotelS.ID})
	require.NoError(t, err)
	assert.Len(t, lines, 1)
}
