package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/nebula-cdk/pkg/errors"
	"github.com/ajitpratap0/nebula-cdk/pkg/incremental"
)

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	st, err := s.Load(ctx, "orders")
	require.NoError(t, err)
	assert.Empty(t, st)

	require.NoError(t, s.Save(ctx, "orders", incremental.StreamState{"updated_at": "2021-01-05"}))
	st, err = s.Load(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, incremental.StreamState{"updated_at": "2021-01-05"}, st)

	require.NoError(t, s.Save(ctx, "orders", incremental.StreamState{"updated_at": "2021-01-06"}))
	st, err = s.Load(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, incremental.StreamState{"updated_at": "2021-01-06"}, st)

	// streams are independent
	st, err = s.Load(ctx, "customers")
	require.NoError(t, err)
	assert.Empty(t, st)

	require.NoError(t, s.Delete(ctx, "orders"))
	st, err = s.Load(ctx, "orders")
	require.NoError(t, err)
	assert.Empty(t, st)

	require.NoError(t, s.Save(ctx, "empty", nil))
	st, err = s.Load(ctx, "empty")
	require.NoError(t, err)
	assert.Empty(t, st)

	err = s.Save(ctx, "../escape", incremental.StreamState{})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	exerciseStore(t, s)
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)

	require.NoError(t, s.Save(context.Background(), "orders", incremental.StreamState{"id": float64(3)}))
	data, err := os.ReadFile(filepath.Join(dir, "orders.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":3}`, string(data))
}

func TestFileStoreCorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "orders.json"), []byte("{not json"), 0o644))
	s, err := NewFileStore(dir, nil)
	require.NoError(t, err)

	_, err = s.Load(context.Background(), "orders")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeState))
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "state.db"), DefaultTable, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestSQLiteStoreRejectsBadTable(t *testing.T) {
	_, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "state.db"), "state; DROP", nil)
	assert.Error(t, err)
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("NEBULA_CDK_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("NEBULA_CDK_POSTGRES_DSN not set")
	}
	s, err := NewPostgresStore(context.Background(), dsn, "nebula_cdk_state_test", zaptest.NewLogger(t))
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Config{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(ctx, Config{Backend: "file", Path: t.TempDir()}, nil)
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	s, err = Open(ctx, Config{Backend: "sqlite", Path: filepath.Join(t.TempDir(), "s.db")}, nil)
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, Config{Backend: "postgres"}, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = Open(ctx, Config{Backend: "redis"}, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
