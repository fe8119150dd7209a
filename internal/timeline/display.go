package timeline

import (
	"time"

	"github.com/tbrandal/backscroll/internal/chat"
)

// Direction names the two ways a window can grow.
type Direction int

const (
	DirectionOlder Direction = iota
	DirectionNewer
)

func (d Direction) String() string {
	if d == DirectionNewer {
		return "newer"
	}
	return "older"
}

// DisplayItem is one entry of the render sequence. It is a closed union:
// the only implementations live in this package. Items are ephemeral and
// recomputed from buffer state on every version change, never persisted.
type DisplayItem interface {
	displayItem()
	// Key is a stable identity used for scroll anchoring. Message items use
	// the message id; synthetic items use a fixed tag.
	Key() string
}

// MessageItem renders one message. GroupHeaderVisible tells the renderer
// whether to show the author header or collapse the message into the group
// above it.
type MessageItem struct {
	Message            chat.Message
	GroupHeaderVisible bool
}

// DateSeparator marks a viewer-local calendar day change. Date is midnight
// of the new day in the viewer's location.
type DateSeparator struct {
	Date time.Time
}

// UnreadSeparator marks the first unread message. At most one exists in a
// buffer's display sequence across its lifetime.
type UnreadSeparator struct{}

// LoadMoreSentinel signals that more content is available in a direction.
// Rendering it near the viewport is what drives further fetches.
type LoadMoreSentinel struct {
	Direction Direction
}

// ChannelStartSentinel marks the confirmed beginning of the channel.
type ChannelStartSentinel struct{}

func (MessageItem) displayItem()          {}
func (DateSeparator) displayItem()        {}
func (UnreadSeparator) displayItem()      {}
func (LoadMoreSentinel) displayItem()     {}
func (ChannelStartSentinel) displayItem() {}

func (it MessageItem) Key() string { return it.Message.ID }
func (it DateSeparator) Key() string {
	return "date:" + it.Date.Format("2006-01-02")
}
func (UnreadSeparator) Key() string { return "unread" }
func (it LoadMoreSentinel) Key() string {
	return "more:" + it.Direction.String()
}
func (ChannelStartSentinel) Key() string { return "start" }

// defaultGroupGap is the pause after which a consecutive message from the
// same author gets its own header again.
const defaultGroupGap = 5 * time.Minute

// BuildOptions parameterizes the display build for one viewer.
type BuildOptions struct {
	// SelfID is the viewing user; own messages never attract the unread
	// separator.
	SelfID string
	// Location is the viewer's timezone for day boundaries. Defaults to UTC.
	Location *time.Location
	// GroupGap overrides the grouping timeout. Defaults to 5 minutes.
	GroupGap time.Duration
}

// BuildDisplayList derives the full display sequence from buffer state.
// It is deterministic: the same buffer state and options always produce the
// same sequence. The sequence runs oldest to newest.
func BuildDisplayList(b *Buffer, opts BuildOptions) []DisplayItem {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	gap := opts.GroupGap
	if gap <= 0 {
		gap = defaultGroupGap
	}

	items := make([]DisplayItem, 0, len(b.ids)+4)
	if b.hasOlder {
		items = append(items, LoadMoreSentinel{Direction: DirectionOlder})
	} else {
		items = append(items, ChannelStartSentinel{})
	}
	if len(b.ids) == 0 {
		return items
	}

	markerID := b.unreadMarkerTarget(opts.SelfID)

	var prev *chat.Message
	var prevDay time.Time
	afterSeparator := true
	for i := len(b.ids) - 1; i >= 0; i-- {
		msg := b.at(i)

		day := dayOf(msg.CreatedAt, loc)
		if !day.Equal(prevDay) {
			items = append(items, DateSeparator{Date: day})
			prevDay = day
			afterSeparator = true
		}
		if markerID != "" && msg.ID == markerID {
			items = append(items, UnreadSeparator{})
			afterSeparator = true
		}

		items = append(items, MessageItem{
			Message:            msg,
			GroupHeaderVisible: groupHeaderVisible(prev, msg, gap, afterSeparator),
		})
		prev = &msg
		afterSeparator = false
	}

	if b.hasNewer {
		items = append(items, LoadMoreSentinel{Direction: DirectionNewer})
	}
	return items
}

// groupHeaderVisible decides whether a message starts a new visual group.
func groupHeaderVisible(prev *chat.Message, msg chat.Message, gap time.Duration, afterSeparator bool) bool {
	if afterSeparator || prev == nil {
		return true
	}
	if msg.System || prev.System {
		return true
	}
	if msg.AuthorID != prev.AuthorID {
		return true
	}
	return msg.CreatedAt.Sub(prev.CreatedAt) > gap
}

// unreadMarkerTarget resolves which message the UnreadSeparator precedes:
// the first non-own message created after the boundary message. The result
// freezes on first placement and is never recomputed for the buffer's
// lifetime, so the separator cannot drift as the session continues.
func (b *Buffer) unreadMarkerTarget(selfID string) string {
	if b.unreadMarkerFrozen {
		return b.unreadMarkerID
	}
	if b.unreadBoundaryID == "" {
		b.unreadMarkerFrozen = true
		return ""
	}
	boundary, ok := b.byID[b.unreadBoundaryID]
	if !ok {
		// Boundary not loaded yet; try again on a later build.
		return ""
	}
	for i := len(b.ids) - 1; i >= 0; i-- {
		msg := b.at(i)
		if chat.Compare(msg, boundary) <= 0 {
			continue
		}
		if msg.AuthorID == selfID && !msg.System {
			continue
		}
		b.unreadMarkerID = msg.ID
		b.unreadMarkerFrozen = true
		return msg.ID
	}
	// Boundary is at the tail: nothing unread, no separator. Not frozen, so
	// a later push can still produce the first (and only) placement.
	return ""
}

func dayOf(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}
