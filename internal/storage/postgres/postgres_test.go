package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	applog "orti/internal/log"
	"orti/internal/storage"
	"orti/internal/storage/storagetest"
)

// The suite needs a disposable database; it truncates every table.
func TestStore(t *testing.T) {
	url := os.Getenv("ORTI_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("ORTI_TEST_DATABASE_URL not set")
	}

	storagetest.Run(t, func(t *testing.T) storage.Store {
		ctx := context.Background()
		s, err := Open(ctx, url, applog.Discard())
		require.NoError(t, err)
		_, err = s.pool.Exec(ctx, `TRUNCATE companies CASCADE`)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestMapError(t *testing.T) {
	require.NoError(t, mapError(nil, "noop"))
}
