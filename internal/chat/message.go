// Package chat defines the message model shared by the timeline engine,
// the stores and the TUI.
package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Attachment is a reference to an uploaded file. The timeline never loads
// attachment bytes; it only carries the reference through to the renderer.
type Attachment struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

// Message is one entry in a channel's log. Identity is the server-assigned
// ID; edits and deletes are replacements keyed by the same ID.
type Message struct {
	ID          string       `json:"id"`
	ChannelID   string       `json:"channel_id"`
	AuthorID    string       `json:"author_id"`
	CreatedAt   time.Time    `json:"created_at"`
	EditedAt    time.Time    `json:"edited_at,omitzero"`
	ParentID    string       `json:"parent_id,omitempty"`
	Body        string       `json:"body"`
	Attachments []Attachment `json:"attachments,omitempty"`
	System      bool         `json:"system,omitempty"`
	Deleted     bool         `json:"deleted,omitempty"`
}

// Compare orders messages by (CreatedAt, ID) ascending. IDs break ties the
// same way the server's pagination cursor does, so ordering is deterministic
// even for equal timestamps.
func Compare(a, b Message) int {
	if a.CreatedAt.Before(b.CreatedAt) {
		return -1
	}
	if a.CreatedAt.After(b.CreatedAt) {
		return 1
	}
	return strings.Compare(a.ID, b.ID)
}

// Newer reports whether a sorts strictly after b in channel order.
func Newer(a, b Message) bool {
	return Compare(a, b) > 0
}

// Validate checks the fields every message must carry before it can enter a
// buffer or a store.
func (m Message) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("message id required")
	}
	if strings.TrimSpace(m.ChannelID) == "" {
		return fmt.Errorf("message channel id required")
	}
	if strings.TrimSpace(m.AuthorID) == "" && !m.System {
		return fmt.Errorf("message author required")
	}
	if m.CreatedAt.IsZero() {
		return fmt.Errorf("message created_at required")
	}
	return nil
}

// GenerateMessageID mints a time-prefixed id. The prefix keeps lexical id
// order aligned with creation order, which the cursor tie-break relies on.
func GenerateMessageID(at time.Time) string {
	suffix := uuid.New().String()[:8]
	return at.UTC().Format("20060102-150405.000000000") + "-" + suffix
}
