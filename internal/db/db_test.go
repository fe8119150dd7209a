package db

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTransactionCommits(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	err := database.Transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO read_cursors (channel_id, message_id, updated_at) VALUES ('general', 'm1', '')`)
		return err
	})
	require.NoError(t, err)

	got, err := NewReadCursorRepository(database).Get(ctx, "general")
	require.NoError(t, err)
	require.Equal(t, "m1", got)
}

func TestTransactionRollsBackOnError(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := database.Transaction(ctx, func(tx *sql.Tx) error {
		_, execErr := tx.ExecContext(ctx, `
			INSERT INTO read_cursors (channel_id, message_id, updated_at) VALUES ('general', 'm1', '')`)
		require.NoError(t, execErr)
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := NewReadCursorRepository(database).Get(ctx, "general")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestWithRetryRecoversFromBusy(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked (5) (SQLITE_BUSY)")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestWithRetryStopsOnNonBusyError(t *testing.T) {
	calls := 0
	broken := errors.New("no such table: ghosts")
	err := withRetry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return broken
	})
	require.ErrorIs(t, err, broken)
	require.Equal(t, 1, calls)
}

func TestWithRetryHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := withRetry(ctx, 3, time.Millisecond, func() error {
		t.Fatal("fn ran despite cancelled context")
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestAdvanceIsTransactional(t *testing.T) {
	database := openTestDB(t)
	repo := NewMessageRepository(database)
	cursors := NewReadCursorRepository(database)
	ctx := context.Background()
	ids := seedLog(t, repo, 2)

	require.NoError(t, cursors.Advance(ctx, "general", ids[1]))

	// A failed mark leaves the cursor where it was.
	require.Error(t, cursors.Advance(ctx, "general", "ghost"))
	got, err := cursors.Get(ctx, "general")
	require.NoError(t, err)
	require.Equal(t, ids[1], got)
}
