package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	applog "orti/internal/log"
	"orti/internal/storage"
	"orti/internal/storage/storagetest"
)

func open(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "data", "orti.db"), applog.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return open(t)
	})
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "orti.db")

	s, err := Open(ctx, path, applog.Discard())
	require.NoError(t, err)
	company, err := s.GetOrCreateCompany(ctx, "ORTI", "")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, path, applog.Discard())
	require.NoError(t, err)
	defer s.Close()

	got, err := s.GetCompanyByName(ctx, "ORTI")
	require.NoError(t, err)
	require.Equal(t, company.ID, got.ID)
}
