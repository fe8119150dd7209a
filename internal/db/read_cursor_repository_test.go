package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReadCursorEmptyChannel(t *testing.T) {
	database := openTestDB(t)
	cursors := NewReadCursorRepository(database)

	got, err := cursors.Get(context.Background(), "general")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestReadCursorAdvanceIsMonotonic(t *testing.T) {
	database := openTestDB(t)
	repo := NewMessageRepository(database)
	cursors := NewReadCursorRepository(database)
	ctx := context.Background()
	ids := seedLog(t, repo, 3)

	require.NoError(t, cursors.Advance(ctx, "general", ids[1]))
	got, err := cursors.Get(ctx, "general")
	require.NoError(t, err)
	require.Equal(t, ids[1], got)

	// A stale mark for an older message cannot rewind the cursor.
	require.NoError(t, cursors.Advance(ctx, "general", ids[0]))
	got, err = cursors.Get(ctx, "general")
	require.NoError(t, err)
	require.Equal(t, ids[1], got)

	require.NoError(t, cursors.Advance(ctx, "general", ids[2]))
	got, err = cursors.Get(ctx, "general")
	require.NoError(t, err)
	require.Equal(t, ids[2], got)
}

func TestReadCursorAdvanceUnknownMessage(t *testing.T) {
	database := openTestDB(t)
	cursors := NewReadCursorRepository(database)

	require.Error(t, cursors.Advance(context.Background(), "general", "ghost"))
}

func TestReadCursorPerChannel(t *testing.T) {
	database := openTestDB(t)
	repo := NewMessageRepository(database)
	cursors := NewReadCursorRepository(database)
	ctx := context.Background()

	a := storedMsg("a1", 0)
	require.NoError(t, repo.Insert(ctx, &a))
	b := storedMsg("b1", time.Minute)
	b.ChannelID = "random"
	require.NoError(t, repo.Insert(ctx, &b))

	require.NoError(t, cursors.Advance(ctx, "general", "a1"))
	require.NoError(t, cursors.Advance(ctx, "random", "b1"))

	got, err := cursors.Get(ctx, "general")
	require.NoError(t, err)
	require.Equal(t, "a1", got)
	got, err = cursors.Get(ctx, "random")
	require.NoError(t, err)
	require.Equal(t, "b1", got)
}
