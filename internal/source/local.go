// Package source provides the timeline's data collaborators: a sqlite-backed
// local store and a websocket gateway client.
package source

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbrandal/backscroll/internal/chat"
	"github.com/tbrandal/backscroll/internal/db"
	"github.com/tbrandal/backscroll/internal/events"
	"github.com/tbrandal/backscroll/internal/logging"
	"github.com/tbrandal/backscroll/internal/timeline"
)

// Local serves timeline fetches from the local message store and live
// pushes from the in-process bus. It stands in for the server-side log when
// running without a gateway.
type Local struct {
	messages *db.MessageRepository
	bus      *events.Bus
	log      zerolog.Logger
}

var _ timeline.Source = (*Local)(nil)

// NewLocal creates a local source over the given database and bus.
func NewLocal(database *db.DB, bus *events.Bus) *Local {
	return &Local{
		messages: db.NewMessageRepository(database),
		bus:      bus,
		log:      logging.Component("source.local"),
	}
}

// FetchBefore implements timeline.Source. An empty cursor pages from the
// live head, so the returned page also confirms the newer boundary.
func (s *Local) FetchBefore(ctx context.Context, channelID, cursorID string, limit int) (timeline.Page, error) {
	messages, reachedOldest, err := s.messages.ListBefore(ctx, channelID, cursorID, limit)
	if err != nil {
		return timeline.Page{}, err
	}
	return timeline.Page{
		Messages:      messages,
		ReachedOldest: reachedOldest,
		ReachedNewest: cursorID == "",
	}, nil
}

// FetchAfter implements timeline.Source.
func (s *Local) FetchAfter(ctx context.Context, channelID, cursorID string, limit int) (timeline.Page, error) {
	messages, reachedNewest, err := s.messages.ListAfter(ctx, channelID, cursorID, limit)
	if err != nil {
		return timeline.Page{}, err
	}
	return timeline.Page{Messages: messages, ReachedNewest: reachedNewest}, nil
}

// FetchAround implements timeline.Source.
func (s *Local) FetchAround(ctx context.Context, channelID, cursorID string, before, after int) (timeline.Page, error) {
	if cursorID == "" {
		return s.FetchBefore(ctx, channelID, "", max(before, 1))
	}
	messages, reachedOldest, reachedNewest, err := s.messages.ListAround(ctx, channelID, cursorID, before, after)
	if err != nil {
		return timeline.Page{}, err
	}
	return timeline.Page{
		Messages:      messages,
		ReachedOldest: reachedOldest,
		ReachedNewest: reachedNewest,
	}, nil
}

// FetchSince implements timeline.Source.
func (s *Local) FetchSince(ctx context.Context, channelID string, since time.Time) ([]chat.Message, error) {
	return s.messages.ListSince(ctx, channelID, since)
}

// Subscribe implements timeline.Source.
func (s *Local) Subscribe(channelID string) (<-chan events.Event, func()) {
	return s.bus.Subscribe(channelID, 0)
}

// Post appends a new message to the store and pushes it live.
func (s *Local) Post(ctx context.Context, message *chat.Message) error {
	if err := s.messages.Insert(ctx, message); err != nil {
		return err
	}
	s.bus.Publish(events.Event{Kind: events.KindMessageCreated, Message: *message})
	return nil
}

// Edit replaces a message body and pushes the edit live.
func (s *Local) Edit(ctx context.Context, id, body string) error {
	current, err := s.messages.Get(ctx, id)
	if err != nil {
		return err
	}
	current.Body = body
	current.EditedAt = time.Now().UTC()
	if err := s.messages.Update(ctx, current); err != nil {
		return fmt.Errorf("edit message: %w", err)
	}
	s.bus.Publish(events.Event{Kind: events.KindMessageEdited, Message: current})
	return nil
}

// Delete tombstones a message and pushes the delete live.
func (s *Local) Delete(ctx context.Context, id string) error {
	now := time.Now().UTC()
	if err := s.messages.MarkDeleted(ctx, id, now); err != nil {
		return err
	}
	tombstone, err := s.messages.Get(ctx, id)
	if err != nil {
		return err
	}
	s.bus.Publish(events.Event{Kind: events.KindMessageDeleted, Message: tombstone})
	return nil
}
