// Package timeline implements the per-channel message window: an in-memory,
// bidirectionally growable slice of a much larger server-side log, plus the
// pure transformation from that window to a display sequence.
package timeline

import (
	"sort"

	"github.com/tbrandal/backscroll/internal/chat"
)

// LoadState tracks the single in-flight fetch a buffer may have.
type LoadState int

const (
	LoadIdle LoadState = iota
	LoadingOlder
	LoadingNewer
	LoadingAroundUnread
	Syncing
)

func (s LoadState) String() string {
	switch s {
	case LoadIdle:
		return "idle"
	case LoadingOlder:
		return "loading-older"
	case LoadingNewer:
		return "loading-newer"
	case LoadingAroundUnread:
		return "loading-around-unread"
	case Syncing:
		return "syncing"
	default:
		return "unknown"
	}
}

// Buffer is one channel's loaded message window. IDs are kept newest-first.
// Buffer is not safe for concurrent use; the Registry serializes access.
type Buffer struct {
	channelID string

	ids  []string
	byID map[string]chat.Message

	hasOlder  bool
	hasNewer  bool
	loadState LoadState

	unreadBoundaryID string
	// unreadMarkerID freezes the UnreadSeparator placement the first time a
	// target is found. It is never recomputed for the buffer's lifetime.
	unreadMarkerID     string
	unreadMarkerFrozen bool

	version uint64
}

// NewBuffer creates an empty buffer for a channel. unreadBoundaryID is the
// last-viewed message at activation time; it may be empty for "no unread
// cursor". Both boundary flags start true until the server confirms an edge.
func NewBuffer(channelID, unreadBoundaryID string) *Buffer {
	return &Buffer{
		channelID:        channelID,
		byID:             make(map[string]chat.Message),
		hasOlder:         true,
		hasNewer:         true,
		unreadBoundaryID: unreadBoundaryID,
	}
}

func (b *Buffer) ChannelID() string        { return b.channelID }
func (b *Buffer) Len() int                 { return len(b.ids) }
func (b *Buffer) Version() uint64          { return b.version }
func (b *Buffer) HasOlder() bool           { return b.hasOlder }
func (b *Buffer) HasNewer() bool           { return b.hasNewer }
func (b *Buffer) LoadState() LoadState     { return b.loadState }
func (b *Buffer) UnreadBoundaryID() string { return b.unreadBoundaryID }

// OldestLoadedID returns the id at the tail, or "" for an empty buffer.
func (b *Buffer) OldestLoadedID() string {
	if len(b.ids) == 0 {
		return ""
	}
	return b.ids[len(b.ids)-1]
}

// NewestLoadedID returns the id at the head, or "" for an empty buffer.
func (b *Buffer) NewestLoadedID() string {
	if len(b.ids) == 0 {
		return ""
	}
	return b.ids[0]
}

// Message returns the loaded message for an id.
func (b *Buffer) Message(id string) (chat.Message, bool) {
	msg, ok := b.byID[id]
	return msg, ok
}

// IDs returns a copy of the ordered id sequence, newest-first.
func (b *Buffer) IDs() []string {
	return append([]string(nil), b.ids...)
}

// at returns the message at a newest-first index.
func (b *Buffer) at(i int) chat.Message {
	return b.byID[b.ids[i]]
}

// BeginLoad transitions the buffer into a loading state. It fails with
// ErrFetchInFlight unless the buffer is idle; a second request is a rejected
// no-op, never queued.
func (b *Buffer) BeginLoad(state LoadState) error {
	if b.loadState != LoadIdle {
		return ErrFetchInFlight
	}
	if state == LoadIdle {
		return nil
	}
	b.loadState = state
	return nil
}

// FinishLoad returns the buffer to idle. Called on success and failure both;
// a failed fetch leaves the buffer contents untouched so a retry is
// idempotent.
func (b *Buffer) FinishLoad() {
	b.loadState = LoadIdle
}

func (b *Buffer) bump() {
	b.version++
}

// insertSorted places msg at its (CreatedAt, ID)-descending position.
// Existing ids are skipped, never overwritten, so anchoring identity holds.
func (b *Buffer) insertSorted(msg chat.Message) bool {
	if _, ok := b.byID[msg.ID]; ok {
		return false
	}
	idx := sort.Search(len(b.ids), func(i int) bool {
		return chat.Compare(b.at(i), msg) <= 0
	})
	b.ids = append(b.ids, "")
	copy(b.ids[idx+1:], b.ids[idx:])
	b.ids[idx] = msg.ID
	b.byID[msg.ID] = msg
	return true
}
