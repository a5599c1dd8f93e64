package ledger

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orti/internal/core"
	applog "orti/internal/log"
	"orti/internal/storage/memory"
)

func TestConsolidateMonth(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	_, err := f.svc.Upsert(ctx, f.hotel, 2025, 8, dec("802060.58"), true, "budget")
	require.NoError(t, err)
	_, err = f.svc.Upsert(ctx, f.gas, 2025, 8, dec("900"), true, "")
	require.NoError(t, err)
	_, err = f.svc.Upsert(ctx, f.gas, 2025, 8, dec("1100.40"), false, "bolletta")
	require.NoError(t, err)
	_, err = f.svc.Upsert(ctx, f.hotel, 2025, 9, dec("700000"), true, "")
	require.NoError(t, err)

	c, err := f.svc.ConsolidateMonth(ctx, f.companyID, 2025, 8, " chiusura agosto ")
	require.NoError(t, err)
	assert.Equal(t, core.Period{Year: 2025, Month: 8}, c.Period)
	require.Len(t, c.Promoted, 1)
	assert.Equal(t, f.hotel, c.Promoted[0].SubcategoryID)
	assert.False(t, c.Promoted[0].IsProjection)
	assert.Equal(t, "chiusura agosto", c.Promoted[0].Notes)
	assert.Equal(t, 1, c.AlreadyActual)
	assert.Empty(t, c.Failed)

	actual := false
	hotelActual, err := f.svc.Query(ctx, core.EntryFilter{SubcategoryID: &f.hotel, IsProjection: &actual})
	require.NoError(t, err)
	require.Len(t, hotelActual, 1)
	assert.True(t, hotelActual[0].Value.Equal(dec("802060.58")))
	assert.Equal(t, 8, hotelActual[0].Month)

	// the gas actual keeps its own value and the plan stays in place
	gasActual, err := f.svc.Query(ctx, core.EntryFilter{SubcategoryID: &f.gas, IsProjection: &actual})
	require.NoError(t, err)
	require.Len(t, gasActual, 1)
	assert.True(t, gasActual[0].Value.Equal(dec("1100.40")))
	projected := true
	month := 8
	plan, err := f.svc.Query(ctx, core.EntryFilter{CompanyID: &f.companyID, Month: &month, IsProjection: &projected})
	require.NoError(t, err)
	assert.Len(t, plan, 2)

	again, err := f.svc.ConsolidateMonth(ctx, f.companyID, 2025, 8, "")
	require.NoError(t, err)
	assert.Empty(t, again.Promoted)
	assert.Equal(t, 2, again.AlreadyActual)
}

func TestConsolidateMonthValidation(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	_, err := f.svc.ConsolidateMonth(ctx, f.companyID, 2025, 0, "")
	assert.ErrorIs(t, err, core.ErrInvalidValue)
	_, err = f.svc.ConsolidateMonth(ctx, "", 2025, 8, "")
	assert.ErrorIs(t, err, core.ErrInvalidValue)

	c, err := f.svc.ConsolidateMonth(ctx, f.companyID, 2025, 8, "")
	require.NoError(t, err)
	assert.Empty(t, c.Promoted)
	assert.Zero(t, c.AlreadyActual)
}

// storeWithoutWrites reads from memory and fails every entry write.
type storeWithoutWrites struct{ *memory.Store }

func (storeWithoutWrites) UpsertEntry(context.Context, core.Entry) (core.Entry, error) {
	return core.Entry{}, fmt.Errorf("upsert entry: %w", core.ErrBackingStoreUnavailable)
}

func TestConsolidateMonthStoreOutage(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	_, err := f.svc.Upsert(ctx, f.hotel, 2025, 8, dec("10"), true, "")
	require.NoError(t, err)

	down := NewService(storeWithoutWrites{f.store}, 2, applog.Discard())
	c, err := down.ConsolidateMonth(ctx, f.companyID, 2025, 8, "")
	require.ErrorIs(t, err, core.ErrBackingStoreUnavailable)
	assert.Len(t, c.Failed, 1)
}
