package idempotency

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/content-publisher/internal/config"
)

func newSQLiteStore(t *testing.T, now func() time.Time) Store {
	t.Helper()

	store, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "idempotency.db"), testLogger())
	require.NoError(t, err)
	store.now = now
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore(t *testing.T) {
	runStoreContract(t, newSQLiteStore)
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "idempotency.db")

	store, err := NewSQLiteStore(ctx, path, testLogger())
	require.NoError(t, err)
	require.NoError(t, store.MarkProcessed(ctx, "key-1", "article-forward", "task-1"))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(ctx, path, testLogger())
	require.NoError(t, err)
	defer reopened.Close()

	ok, err := reopened.IsProcessed(ctx, "key-1", "article-forward")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		store, err := Open(ctx, &config.IdempotencyConfig{Driver: config.DriverMemory}, &config.DatabaseConfig{}, testLogger())
		require.NoError(t, err)
		assert.IsType(t, &MemoryStore{}, store)
	})

	t.Run("sqlite", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "open.db")
		store, err := Open(ctx, &config.IdempotencyConfig{Driver: config.DriverSQLite, SQLitePath: path}, &config.DatabaseConfig{}, testLogger())
		require.NoError(t, err)
		defer store.Close()
		assert.IsType(t, &SQLStore{}, store)
	})

	t.Run("unknown driver", func(t *testing.T) {
		_, err := Open(ctx, &config.IdempotencyConfig{Driver: "mongo"}, &config.DatabaseConfig{}, testLogger())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown idempotency driver")
	})
}
