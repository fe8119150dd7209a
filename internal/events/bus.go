// Package events provides the in-process live-push feed for channels that
// are at the live head.
package events

import (
	"sync"

	"github.com/tbrandal/backscroll/internal/chat"
)

// Kind categorizes live events.
type Kind string

const (
	KindMessageCreated Kind = "message.created"
	KindMessageEdited  Kind = "message.edited"
	KindMessageDeleted Kind = "message.deleted"
)

// Event is one live push. For deletes the Message carries the tombstone
// (Deleted set, body cleared) under the original id.
type Event struct {
	Kind    Kind         `json:"kind"`
	Message chat.Message `json:"message"`
}

const defaultSubscribeBuffer = 256

type subscription struct {
	channelID string
	ch        chan Event
}

// Bus fans events out to per-channel subscribers. Slow subscribers drop
// events rather than block the publisher; a dropped push is recovered by the
// next sync fetch.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*subscription
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscription)}
}

// Subscribe registers for events on one channel. An empty channelID receives
// every event. The returned cancel function closes the stream.
func (b *Bus) Subscribe(channelID string, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultSubscribeBuffer
	}
	sub := &subscription{
		channelID: channelID,
		ch:        make(chan Event, buffer),
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// Publish delivers the event to all matching subscribers.
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		if sub.channelID != "" && sub.channelID != event.Message.ChannelID {
			continue
		}
		select {
		case sub.ch <- event:
		default:
		}
	}
}
