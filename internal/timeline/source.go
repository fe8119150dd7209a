package timeline

import (
	"context"
	"time"

	"github.com/tbrandal/backscroll/internal/chat"
	"github.com/tbrandal/backscroll/internal/events"
)

// Page is one fetched window. The boundary flags are only meaningful for
// the direction(s) the fetch was issued in; an around-cursor fetch sets
// both.
type Page struct {
	Messages      []chat.Message
	ReachedOldest bool
	ReachedNewest bool
}

// Source abstracts the network/data collaborators the timeline consumes.
// Implementations: the sqlite-backed local store and the websocket gateway.
// Timeouts are the transport's concern; every call eventually resolves.
type Source interface {
	// FetchBefore returns up to limit messages strictly older than cursorID.
	// An empty cursor means "from the live head"; the returned page then
	// also carries ReachedNewest.
	FetchBefore(ctx context.Context, channelID, cursorID string, limit int) (Page, error)

	// FetchAfter returns up to limit messages strictly newer than cursorID.
	FetchAfter(ctx context.Context, channelID, cursorID string, limit int) (Page, error)

	// FetchAround returns a window split around the cursor: up to before
	// older messages, the cursor message itself, and up to after newer
	// ones. An empty cursor degrades to FetchBefore from the head.
	FetchAround(ctx context.Context, channelID, cursorID string, before, after int) (Page, error)

	// FetchSince returns every message created after the given time, for
	// post-reconnect reconciliation.
	FetchSince(ctx context.Context, channelID string, since time.Time) ([]chat.Message, error)

	// Subscribe streams live created/edited/deleted events for one channel.
	// The cancel function stops the stream and closes the channel.
	Subscribe(channelID string) (<-chan events.Event, func())
}
