package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lanchat/internal/models"
)

func newTestSQLite(t *testing.T) *SQLiteHistory {
	t.Helper()
	store, err := NewSQLiteHistory(context.Background(), "sqlite://file:"+t.Name()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestSQLiteHistory_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLite(t)

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)

	require.NoError(t, store.Save(ctx, sampleHistory()))
	loaded, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleHistory(), loaded)
}

func TestSQLiteHistory_SaveReplaces(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLite(t)

	require.NoError(t, store.Save(ctx, sampleHistory()))
	require.NoError(t, store.Save(ctx, sampleHistory()[1:2]))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, models.MessageID(1_000_001), loaded[0].ID)
}

func TestSQLiteHistory_FileBacked(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "messages.db")

	store, err := NewSQLiteHistory(ctx, path)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, sampleHistory()))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteHistory(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()
	loaded, err := reopened.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleHistory(), loaded)
}

func TestBuildDSN(t *testing.T) {
	assert.Equal(t, "file:x.db?_pragma=busy_timeout=5000&_pragma=journal_mode=WAL", buildDSN("x.db"))
	assert.Equal(t, "file:m?mode=memory&_pragma=busy_timeout=5000&_pragma=journal_mode=WAL", buildDSN("sqlite://file:m?mode=memory"))
}
