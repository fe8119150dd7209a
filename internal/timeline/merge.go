package timeline

import (
	"time"

	"github.com/tbrandal/backscroll/internal/chat"
)

// ApplyInitialWindow seeds an empty buffer from the activation fetch. The
// window is anchored around the unread cursor, or at the live head when the
// channel has no cursor.
func (b *Buffer) ApplyInitialWindow(page Page) {
	for _, msg := range page.Messages {
		b.insertSorted(msg)
	}
	b.hasOlder = !page.ReachedOldest
	b.hasNewer = !page.ReachedNewest
	b.bump()
}

// MergeOlderPage folds a page fetched below the current window into the
// tail. Returns the number of ids added. The page's boundary claim is
// validated against current contents: integrity wins over completeness, a
// contradicting page leaves the buffer unchanged.
func (b *Buffer) MergeOlderPage(messages []chat.Message, reachedOldest bool) (int, error) {
	if reachedOldest && len(messages) > 0 {
		pageOldest := oldestOf(messages)
		for i := len(b.ids) - 1; i >= 0; i-- {
			msg := b.at(i)
			if _, dup := findByID(messages, msg.ID); dup {
				continue
			}
			if chat.Compare(msg, pageOldest) < 0 {
				return 0, ErrMergeConflict
			}
			break
		}
	}

	added := 0
	for _, msg := range messages {
		if b.insertSorted(msg) {
			added++
		}
	}
	// Boundary exhaustion is sticky until an explicit resync.
	prev := b.hasOlder
	b.hasOlder = b.hasOlder && !reachedOldest
	if added > 0 || prev != b.hasOlder {
		b.bump()
	}
	return added, nil
}

// MergeNewerPage is the symmetric head-side merge.
func (b *Buffer) MergeNewerPage(messages []chat.Message, reachedNewest bool) (int, error) {
	if reachedNewest && len(messages) > 0 {
		pageNewest := newestOf(messages)
		for i := 0; i < len(b.ids); i++ {
			msg := b.at(i)
			if _, dup := findByID(messages, msg.ID); dup {
				continue
			}
			if chat.Compare(msg, pageNewest) > 0 {
				return 0, ErrMergeConflict
			}
			break
		}
	}

	added := 0
	for _, msg := range messages {
		if b.insertSorted(msg) {
			added++
		}
	}
	prev := b.hasNewer
	b.hasNewer = b.hasNewer && !reachedNewest
	if added > 0 || prev != b.hasNewer {
		b.bump()
	}
	return added, nil
}

// MergeSyncPage reconciles after a reconnect: messages created after `since`
// are inserted in sorted position. Boundary flags are not touched; the sync
// page makes no claim about either edge.
func (b *Buffer) MergeSyncPage(messages []chat.Message, since time.Time) int {
	added := 0
	for _, msg := range messages {
		if !msg.CreatedAt.After(since) {
			continue
		}
		if b.insertSorted(msg) {
			added++
		}
	}
	if added > 0 {
		b.bump()
	}
	return added
}

// ApplyLiveMessage merges a pushed message. Accepted only when the buffer
// already touches the true head (HasNewer false); otherwise the push is
// rejected so no undetected gap can form, and the message is picked up by
// the next newer-page fetch.
func (b *Buffer) ApplyLiveMessage(msg chat.Message) bool {
	if b.hasNewer {
		return false
	}
	if !b.insertSorted(msg) {
		return false
	}
	b.bump()
	return true
}

// ApplyEdit replaces a loaded message by id. Edits apply regardless of
// boundary state; a message that is not loaded is ignored.
func (b *Buffer) ApplyEdit(msg chat.Message) bool {
	prev, ok := b.byID[msg.ID]
	if !ok {
		return false
	}
	// Identity and position are keyed by (CreatedAt, ID); an edit must not
	// move the message.
	msg.CreatedAt = prev.CreatedAt
	b.byID[msg.ID] = msg
	b.bump()
	return true
}

// ApplyDelete tombstones a loaded message in place, preserving its slot so
// anchors and ordering stay valid.
func (b *Buffer) ApplyDelete(id string, at time.Time) bool {
	prev, ok := b.byID[id]
	if !ok {
		return false
	}
	prev.Deleted = true
	prev.Body = ""
	prev.Attachments = nil
	prev.EditedAt = at
	b.byID[id] = prev
	b.bump()
	return true
}

func oldestOf(messages []chat.Message) chat.Message {
	oldest := messages[0]
	for _, msg := range messages[1:] {
		if chat.Compare(msg, oldest) < 0 {
			oldest = msg
		}
	}
	return oldest
}

func newestOf(messages []chat.Message) chat.Message {
	newest := messages[0]
	for _, msg := range messages[1:] {
		if chat.Compare(msg, newest) > 0 {
			newest = msg
		}
	}
	return newest
}

func findByID(messages []chat.Message, id string) (chat.Message, bool) {
	for _, msg := range messages {
		if msg.ID == id {
			return msg, true
		}
	}
	return chat.Message{}, false
}
