package backend

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orti/internal/config"
	applog "orti/internal/log"
)

func TestCreateBackend(t *testing.T) {
	ctx := context.Background()
	f := NewFactory(applog.Discard())

	t.Run("memory", func(t *testing.T) {
		res, err := f.CreateBackend(ctx, Config{Type: MemoryBackend})
		require.NoError(t, err)
		require.NoError(t, res.Store.Ping(ctx))
		assert.NoError(t, res.Cleanup())
	})

	t.Run("sqlite", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "db", "orti.db")
		res, err := f.CreateBackend(ctx, Config{Type: SQLiteBackend, SQLiteDBPath: path})
		require.NoError(t, err)
		defer res.Cleanup()

		c, err := res.Store.GetOrCreateCompany(ctx, "ORTI", "")
		require.NoError(t, err)
		assert.Equal(t, "ORTI", c.Name)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := f.CreateBackend(ctx, Config{Type: "sheets"})
		assert.Error(t, err)

		_, err = f.CreateBackend(ctx, Config{Type: PostgresBackend})
		assert.ErrorContains(t, err, "database URL is required")
	})
}

func TestFromAppConfig(t *testing.T) {
	cfg, err := FromAppConfig(&config.Config{DataBackend: "postgres", DatabaseURL: "postgres://localhost/orti"})
	require.NoError(t, err)
	assert.Equal(t, PostgresBackend, cfg.Type)
	assert.Equal(t, "postgres://localhost/orti", cfg.DatabaseURL)

	_, err = FromAppConfig(&config.Config{DataBackend: "sheets"})
	assert.Error(t, err)

	_, err = FromAppConfig(nil)
	assert.Error(t, err)

	assert.Equal(t, []string{"sqlite", "postgres", "memory"}, GetBackendTypeStrings())
}
