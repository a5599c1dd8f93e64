package ledger

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orti/internal/core"
	applog "orti/internal/log"
	"orti/internal/storage/memory"
)

type fixture struct {
	svc       *Service
	store     *memory.Store
	companyID string
	hotel     string
	gas       string
}

func setup(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	company, err := store.GetOrCreateCompany(ctx, "ORTI", "")
	require.NoError(t, err)

	hotel, err := store.CreateCategory(ctx, core.Category{CompanyID: company.ID, Name: "Entrate Hotel", Kind: core.KindRevenue})
	require.NoError(t, err)
	utenze, err := store.CreateCategory(ctx, core.Category{CompanyID: company.ID, Name: "Utenze", Kind: core.KindExpense})
	require.NoError(t, err)
	hotelSub, err := store.CreateSubcategory(ctx, core.Subcategory{CategoryID: hotel.ID, Name: "Totale"})
	require.NoError(t, err)
	gasSub, err := store.CreateSubcategory(ctx, core.Subcategory{CategoryID: utenze.ID, Name: "Gas"})
	require.NoError(t, err)

	return fixture{
		svc:       NewService(store, 4, applog.Discard()),
		store:     store,
		companyID: company.ID,
		hotel:     hotelSub.ID,
		gas:       gasSub.ID,
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	first, err := f.svc.Upsert(ctx, f.hotel, 2025, 6, dec("500000"), false, "")
	require.NoError(t, err)
	second, err := f.svc.Upsert(ctx, f.hotel, 2025, 6, dec("601975"), false, " stima ")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "stima", second.Notes)

	entries, err := f.svc.Query(ctx, core.EntryFilter{SubcategoryID: &f.hotel})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Value.Equal(dec("601975")))
}

func TestUpsertValidation(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	tests := []struct {
		name    string
		sub     string
		year    int
		month   int
		wantErr error
	}{
		{"month 13", f.hotel, 2025, 13, core.ErrInvalidValue},
		{"month 0", f.hotel, 2025, 0, core.ErrInvalidValue},
		{"year too small", f.hotel, 1899, 1, core.ErrInvalidValue},
		{"unknown subcategory", "missing", 2025, 1, core.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Upsert(ctx, tt.sub, tt.year, tt.month, dec("1"), false, "")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestBatchUpsertPartialFailure(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	entries := make([]core.Entry, 50)
	for i := range entries {
		entries[i] = core.Entry{
			SubcategoryID: f.hotel,
			Year:          2020 + i/12,
			Month:         i%12 + 1,
			Value:         decimal.NewFromInt(int64(i + 1)),
		}
	}
	entries[30].Month = 13

	res := f.svc.BatchUpsert(ctx, entries)
	assert.Len(t, res.Applied, 49)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, 30, res.Failed[0].Index)
	assert.ErrorIs(t, res.Failed[0].Err, core.ErrInvalidValue)

	for i := 1; i < len(res.Applied); i++ {
		prev, cur := res.Applied[i-1], res.Applied[i]
		assert.True(t, prev.Value.LessThan(cur.Value), "applied entries keep input order")
	}

	all, err := f.svc.Query(ctx, core.EntryFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 49)
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	jan, err := f.svc.Upsert(ctx, f.gas, 2025, 1, dec("-100"), false, "")
	require.NoError(t, err)
	_, err = f.svc.Upsert(ctx, f.gas, 2025, 2, dec("-120"), false, "")
	require.NoError(t, err)

	v := dec("-110.5")
	updated, err := f.svc.Update(ctx, jan.ID, core.EntryPatch{Value: &v})
	require.NoError(t, err)
	assert.True(t, updated.Value.Equal(v))

	feb := 2
	_, err = f.svc.Update(ctx, jan.ID, core.EntryPatch{Month: &feb})
	assert.ErrorIs(t, err, core.ErrConflict)

	bad := 14
	_, err = f.svc.Update(ctx, jan.ID, core.EntryPatch{Month: &bad})
	assert.ErrorIs(t, err, core.ErrInvalidValue)

	_, err = f.svc.Update(ctx, "missing", core.EntryPatch{Value: &v})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestDeletes(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	for _, e := range []struct {
		sub   string
		year  int
		month int
		value string
	}{
		{f.hotel, 2024, 12, "10"},
		{f.hotel, 2025, 1, "0"},
		{f.hotel, 2025, 2, "20"},
		{f.gas, 2025, 1, "-5"},
	} {
		_, err := f.svc.Upsert(ctx, e.sub, e.year, e.month, dec(e.value), false, "")
		require.NoError(t, err)
	}

	n, err := f.svc.Cleanup(ctx, f.companyID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = f.svc.DeleteByCompanyAndYear(ctx, f.companyID, 2025)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	_, err = f.svc.DeleteByCompanyAndYear(ctx, f.companyID, 10)
	assert.ErrorIs(t, err, core.ErrInvalidValue)

	n, err = f.svc.ResetCompany(ctx, f.companyID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	cats, err := f.store.ListCategories(ctx, f.companyID)
	require.NoError(t, err)
	assert.Len(t, cats, 2, "reset keeps the category structure")
}

func TestGetAndDelete(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	e, err := f.svc.Upsert(ctx, f.hotel, 2025, 3, dec("3750"), true, "")
	require.NoError(t, err)

	got, err := f.svc.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, got.IsProjection)

	lines, err := f.svc.Lines(ctx, core.EntryFilter{CompanyID: &f.companyID})
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "Entrate Hotel", lines[0].CategoryName)

	require.NoError(t, f.svc.Delete(ctx, e.ID))
	_, err = f.svc.Get(ctx, e.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)

	n, err := f.svc.DeleteBySubcategory(ctx, f.hotel)
	require.NoError(t, err)
	assert.Zero(t, n)
}
