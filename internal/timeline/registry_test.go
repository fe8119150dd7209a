package timeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tbrandal/backscroll/internal/chat"
	"github.com/tbrandal/backscroll/internal/events"
)

// stubSource scripts fetch responses and exposes the live feed channel.
type stubSource struct {
	mu sync.Mutex

	aroundPage Page
	aroundErr  error
	beforePage Page
	beforeErr  error
	afterPage  Page
	afterErr   error
	sincePage  []chat.Message

	aroundCalls []string
	beforeCalls []string
	afterCalls  []string

	feed        chan events.Event
	feedCancels int

	// release, when set, blocks fetches until closed.
	release chan struct{}
}

func newStubSource() *stubSource {
	return &stubSource{feed: make(chan events.Event, 8)}
}

func (s *stubSource) wait() {
	if s.release != nil {
		<-s.release
	}
}

func (s *stubSource) FetchBefore(_ context.Context, _, cursorID string, _ int) (Page, error) {
	s.mu.Lock()
	s.beforeCalls = append(s.beforeCalls, cursorID)
	page, err := s.beforePage, s.beforeErr
	s.mu.Unlock()
	s.wait()
	return page, err
}

func (s *stubSource) FetchAfter(_ context.Context, _, cursorID string, _ int) (Page, error) {
	s.mu.Lock()
	s.afterCalls = append(s.afterCalls, cursorID)
	page, err := s.afterPage, s.afterErr
	s.mu.Unlock()
	s.wait()
	return page, err
}

func (s *stubSource) FetchAround(_ context.Context, _, cursorID string, _, _ int) (Page, error) {
	s.mu.Lock()
	s.aroundCalls = append(s.aroundCalls, cursorID)
	page, err := s.aroundPage, s.aroundErr
	s.mu.Unlock()
	s.wait()
	return page, err
}

func (s *stubSource) FetchSince(_ context.Context, _ string, _ time.Time) ([]chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sincePage, nil
}

func (s *stubSource) Subscribe(string) (<-chan events.Event, func()) {
	return s.feed, func() {
		s.mu.Lock()
		s.feedCancels++
		s.mu.Unlock()
	}
}

func TestRegistryInitializeAtLiveHead(t *testing.T) {
	src := newStubSource()
	src.aroundPage = Page{
		Messages: []chat.Message{
			msg("m1", time.Minute),
			msg("m2", 2*time.Minute),
		},
		ReachedNewest: true,
	}
	r := NewRegistry(src, Options{})
	r.Activate("general", "")

	require.NoError(t, r.Initialize(context.Background(), "general"))
	require.Equal(t, []string{""}, src.aroundCalls)

	snap, err := r.Snapshot("general")
	require.NoError(t, err)
	require.Equal(t, 2, snap.Len)
	require.True(t, snap.HasOlder)
	require.False(t, snap.HasNewer)
	require.Equal(t, LoadIdle, snap.LoadState)
}

func TestRegistryInitializeAroundUnreadCursor(t *testing.T) {
	src := newStubSource()
	src.aroundPage = Page{Messages: []chat.Message{msg("m5", 5 * time.Minute)}}
	r := NewRegistry(src, Options{})
	r.Activate("general", "m5")

	require.NoError(t, r.Initialize(context.Background(), "general"))
	require.Equal(t, []string{"m5"}, src.aroundCalls)

	snap, err := r.Snapshot("general")
	require.NoError(t, err)
	require.Equal(t, "m5", snap.UnreadBoundaryID)
	require.True(t, snap.HasNewer)
}

func TestRegistryInitializeFetchFailureSurfaces(t *testing.T) {
	src := newStubSource()
	src.aroundErr = errors.New("gateway unavailable")
	r := NewRegistry(src, Options{})
	r.Activate("general", "")

	err := r.Initialize(context.Background(), "general")
	require.ErrorContains(t, err, "gateway unavailable")

	// Buffer stays idle and empty; a retry is a clean slate.
	snap, snapErr := r.Snapshot("general")
	require.NoError(t, snapErr)
	require.Equal(t, LoadIdle, snap.LoadState)
	require.Zero(t, snap.Len)

	src.aroundErr = nil
	src.aroundPage = Page{Messages: []chat.Message{msg("m1", time.Minute)}}
	require.NoError(t, r.Initialize(context.Background(), "general"))
}

func TestRegistryRequestOlderUsesOldestCursor(t *testing.T) {
	src := newStubSource()
	src.aroundPage = Page{Messages: []chat.Message{msg("m5", 5 * time.Minute)}, ReachedNewest: true}
	src.beforePage = Page{Messages: []chat.Message{msg("m4", 4 * time.Minute)}}
	r := NewRegistry(src, Options{})
	r.Activate("general", "")
	require.NoError(t, r.Initialize(context.Background(), "general"))

	require.NoError(t, r.RequestOlder(context.Background(), "general"))
	require.Equal(t, []string{"m5"}, src.beforeCalls)

	src.beforePage = Page{ReachedOldest: true}
	require.NoError(t, r.RequestOlder(context.Background(), "general"))
	require.Equal(t, []string{"m5", "m4"}, src.beforeCalls)

	// Start confirmed: further requests are no-ops.
	require.NoError(t, r.RequestOlder(context.Background(), "general"))
	require.Equal(t, []string{"m5", "m4"}, src.beforeCalls)
}

func TestRegistrySingleFlight(t *testing.T) {
	src := newStubSource()
	src.aroundPage = Page{Messages: []chat.Message{msg("m5", 5 * time.Minute)}, ReachedNewest: true}
	r := NewRegistry(src, Options{})
	r.Activate("general", "")
	require.NoError(t, r.Initialize(context.Background(), "general"))

	src.release = make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- r.RequestOlder(context.Background(), "general")
	}()

	// Wait for the first request to claim the load state.
	require.Eventually(t, func() bool {
		snap, err := r.Snapshot("general")
		return err == nil && snap.LoadState == LoadingOlder
	}, time.Second, time.Millisecond)

	// The concurrent request is refused without touching the source.
	require.NoError(t, r.RequestOlder(context.Background(), "general"))
	src.mu.Lock()
	calls := len(src.beforeCalls)
	src.mu.Unlock()
	require.Equal(t, 1, calls)

	close(src.release)
	require.NoError(t, <-done)
}

func TestRegistryFetchFailureKeepsBuffer(t *testing.T) {
	src := newStubSource()
	src.aroundPage = Page{Messages: []chat.Message{msg("m5", 5 * time.Minute)}, ReachedNewest: true}
	src.beforeErr = errors.New("timeout")
	r := NewRegistry(src, Options{})
	r.Activate("general", "")
	require.NoError(t, r.Initialize(context.Background(), "general"))

	before, err := r.Snapshot("general")
	require.NoError(t, err)

	fetchErr := r.RequestOlder(context.Background(), "general")
	require.ErrorContains(t, fetchErr, "timeout")

	after, err := r.Snapshot("general")
	require.NoError(t, err)
	require.Equal(t, before.Version, after.Version)
	require.Equal(t, LoadIdle, after.LoadState)
	require.True(t, after.HasOlder)
}

func TestRegistryMergeConflictSwallowed(t *testing.T) {
	src := newStubSource()
	src.aroundPage = Page{
		Messages:      []chat.Message{msg("m1", time.Minute), msg("m5", 5 * time.Minute)},
		ReachedNewest: true,
	}
	// Page contradicts loaded state: claims the channel starts above m1.
	src.beforePage = Page{Messages: []chat.Message{msg("m3", 3 * time.Minute)}, ReachedOldest: true}
	r := NewRegistry(src, Options{})
	r.Activate("general", "")
	require.NoError(t, r.Initialize(context.Background(), "general"))

	require.NoError(t, r.RequestOlder(context.Background(), "general"))

	snap, err := r.Snapshot("general")
	require.NoError(t, err)
	require.Equal(t, 2, snap.Len)
	require.True(t, snap.HasOlder)
}

func TestRegistryDisplayMemoizedOnVersion(t *testing.T) {
	src := newStubSource()
	src.aroundPage = Page{Messages: []chat.Message{msg("m1", time.Minute)}, ReachedNewest: true}
	r := NewRegistry(src, Options{})
	r.Activate("general", "")
	require.NoError(t, r.Initialize(context.Background(), "general"))

	first, err := r.DisplayItems("general")
	require.NoError(t, err)
	second, err := r.DisplayItems("general")
	require.NoError(t, err)
	require.Same(t, &first[0], &second[0])

	// A version bump invalidates the memo.
	src.feed <- events.Event{Kind: events.KindMessageCreated, Message: msg("m2", 2 * time.Minute)}
	require.Eventually(t, func() bool {
		items, err := r.DisplayItems("general")
		return err == nil && len(items) > len(first)
	}, time.Second, time.Millisecond)
}

func TestRegistryLiveFeedNotifiesSubscribers(t *testing.T) {
	src := newStubSource()
	src.aroundPage = Page{Messages: []chat.Message{msg("m1", time.Minute)}, ReachedNewest: true}
	r := NewRegistry(src, Options{})
	r.Activate("general", "")
	require.NoError(t, r.Initialize(context.Background(), "general"))

	notified := make(chan struct{}, 4)
	cancel, err := r.Subscribe("general", func() { notified <- struct{}{} })
	require.NoError(t, err)
	defer cancel()

	src.feed <- events.Event{Kind: events.KindMessageCreated, Message: msg("m2", 2 * time.Minute)}
	select {
	case <-notified:
	case <-time.After(time.Second):
		t.Fatal("no notification for live message")
	}

	src.feed <- events.Event{Kind: events.KindMessageDeleted, Message: chat.Message{ID: "m2", EditedAt: testBase.Add(time.Hour)}}
	select {
	case <-notified:
	case <-time.After(time.Second):
		t.Fatal("no notification for delete")
	}

	items, err := r.DisplayItems("general")
	require.NoError(t, err)
	last := items[len(items)-1].(MessageItem)
	require.True(t, last.Message.Deleted)
}

func TestRegistrySyncSinceMergesMissed(t *testing.T) {
	src := newStubSource()
	src.aroundPage = Page{Messages: []chat.Message{msg("m1", time.Minute)}, ReachedNewest: true}
	src.sincePage = []chat.Message{msg("m1", time.Minute), msg("m2", 2 * time.Minute)}
	r := NewRegistry(src, Options{})
	r.Activate("general", "")
	require.NoError(t, r.Initialize(context.Background(), "general"))

	require.NoError(t, r.SyncSince(context.Background(), "general", testBase.Add(time.Minute)))

	snap, err := r.Snapshot("general")
	require.NoError(t, err)
	require.Equal(t, 2, snap.Len)
}

func TestRegistryDeactivateStopsNotifications(t *testing.T) {
	src := newStubSource()
	src.aroundPage = Page{Messages: []chat.Message{msg("m5", 5 * time.Minute)}, ReachedNewest: true}
	src.beforePage = Page{Messages: []chat.Message{msg("m4", 4 * time.Minute)}}
	r := NewRegistry(src, Options{})
	r.Activate("general", "")
	require.NoError(t, r.Initialize(context.Background(), "general"))

	var notifications int
	var mu sync.Mutex
	_, err := r.Subscribe("general", func() {
		mu.Lock()
		notifications++
		mu.Unlock()
	})
	require.NoError(t, err)

	src.release = make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- r.RequestOlder(context.Background(), "general") }()

	require.Eventually(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return len(src.beforeCalls) == 1
	}, time.Second, time.Millisecond)

	// Channel switched away while the fetch is in flight. The stale result
	// merges silently.
	r.Deactivate("general")
	close(src.release)
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	require.Zero(t, notifications)

	_, err = r.DisplayItems("general")
	require.ErrorIs(t, err, ErrChannelNotActive)
}

func TestRegistryDeactivateCancelsFeed(t *testing.T) {
	src := newStubSource()
	r := NewRegistry(src, Options{})
	r.Activate("general", "")

	r.Deactivate("general")
	src.mu.Lock()
	cancels := src.feedCancels
	src.mu.Unlock()
	require.Equal(t, 1, cancels)

	// Deactivating an inactive channel is a no-op.
	r.Deactivate("general")
	src.mu.Lock()
	cancels = src.feedCancels
	src.mu.Unlock()
	require.Equal(t, 1, cancels)
}

func TestRegistryOperationsOnInactiveChannel(t *testing.T) {
	r := NewRegistry(newStubSource(), Options{})

	require.ErrorIs(t, r.Initialize(context.Background(), "ghost"), ErrChannelNotActive)
	require.ErrorIs(t, r.RequestOlder(context.Background(), "ghost"), ErrChannelNotActive)
	_, err := r.Snapshot("ghost")
	require.ErrorIs(t, err, ErrChannelNotActive)
}
