// Package readtrack consumes the viewport's "mark read up to X" signals.
package readtrack

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/tbrandal/backscroll/internal/db"
	"github.com/tbrandal/backscroll/internal/logging"
)

// Tracker receives idempotent mark-read signals. Implementations must be
// monotonic: a cursor never moves backwards.
type Tracker interface {
	MarkRead(ctx context.Context, channelID, messageID string) error
}

// StoreTracker persists read cursors in the local database.
type StoreTracker struct {
	cursors *db.ReadCursorRepository
	log     zerolog.Logger
}

// NewStoreTracker creates a tracker over the given database.
func NewStoreTracker(database *db.DB) *StoreTracker {
	return &StoreTracker{
		cursors: db.NewReadCursorRepository(database),
		log:     logging.Component("readtrack"),
	}
}

// MarkRead advances the channel's cursor. Re-marking the same or an older
// message is a no-op, so callers may fire freely on every viewport report.
func (t *StoreTracker) MarkRead(ctx context.Context, channelID, messageID string) error {
	if err := t.cursors.Advance(ctx, channelID, messageID); err != nil {
		return err
	}
	t.log.Debug().
		Str("channel_id", channelID).
		Str("message_id", messageID).
		Msg("read cursor advanced")
	return nil
}

// LastRead returns the stored cursor for a channel, used as the unread
// boundary on the next activation.
func (t *StoreTracker) LastRead(ctx context.Context, channelID string) (string, error) {
	return t.cursors.Get(ctx, channelID)
}
