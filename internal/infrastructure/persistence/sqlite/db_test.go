package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/ai-invoice-intake/pkg/database"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	raw, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "tx.db")}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })

	_, err = raw.Exec("CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)")
	require.NoError(t, err)
	return NewDB(raw.DB, zap.NewNop())
}

func count(t *testing.T, db *DB) int {
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM kv").Scan(&n))
	return n
}

func TestWithTransaction_CommitAndRollback(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	err := db.WithTransaction(ctx, func(ctx context.Context) error {
		_, err := ExecutorFrom(ctx, db.DB).ExecContext(ctx, "INSERT INTO kv VALUES ('a', '1')")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count(t, db))

	boom := errors.New("boom")
	err = db.WithTransaction(ctx, func(ctx context.Context) error {
		if _, err := ExecutorFrom(ctx, db.DB).ExecContext(ctx, "INSERT INTO kv VALUES ('b', '2')"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, count(t, db))
}

func TestWithTransaction_NestedJoinsOuter(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	err := db.WithTransaction(ctx, func(outer context.Context) error {
		if err := db.WithTransaction(outer, func(inner context.Context) error {
			assert.Same(t, ExecutorFrom(outer, db.DB), ExecutorFrom(inner, db.DB))
			assert.True(t, inTransaction(inner))
			_, err := ExecutorFrom(inner, db.DB).ExecContext(inner, "INSERT INTO kv VALUES ('a', '1')")
			return err
		}); err != nil {
			return err
		}
		return errors.New("abort outer")
	})
	require.Error(t, err)
	assert.Equal(t, 0, count(t, db))
}

func TestWithTransaction_PanicRollsBack(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = db.WithTransaction(ctx, func(ctx context.Context) error {
			if _, err := ExecutorFrom(ctx, db.DB).ExecContext(ctx, "INSERT INTO kv VALUES ('p', '1')"); err != nil {
				return err
			}
			panic("boom")
		})
	})
	assert.Equal(t, 0, count(t, db))
	assert.False(t, inTransaction(ctx))
	assert.Same(t, db.DB, ExecutorFrom(ctx, db.DB))
}
