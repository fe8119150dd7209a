package viewport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tbrandal/backscroll/internal/chat"
	"github.com/tbrandal/backscroll/internal/timeline"
)

var ctrlBase = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func item(id string, offset time.Duration) timeline.MessageItem {
	return timeline.MessageItem{Message: chat.Message{
		ID:        id,
		ChannelID: "general",
		AuthorID:  "ada",
		CreatedAt: ctrlBase.Add(offset),
		Body:      "body " + id,
	}}
}

// stubTimeline serves scripted display sequences and records edge requests.
type stubTimeline struct {
	mu    sync.Mutex
	items []timeline.DisplayItem
	snap  timeline.Status

	olderCalls int
	newerCalls int
	olderErr   error

	// onOlder mutates the scripted state when an older fetch lands.
	onOlder func(s *stubTimeline)
}

func (s *stubTimeline) DisplayItems(string) ([]timeline.DisplayItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items, nil
}

func (s *stubTimeline) Snapshot(string) (timeline.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap, nil
}

func (s *stubTimeline) RequestOlder(context.Context, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.olderCalls++
	if s.olderErr != nil {
		return s.olderErr
	}
	if s.onOlder != nil {
		s.onOlder(s)
	}
	return nil
}

func (s *stubTimeline) RequestNewer(context.Context, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.newerCalls++
	return nil
}

type stubTracker struct {
	mu    sync.Mutex
	calls []string
}

func (s *stubTracker) MarkRead(_ context.Context, _, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, messageID)
	return nil
}

func (s *stubTracker) marked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

type jump struct {
	key      string
	offsetPx int
}

type stubSurface struct {
	offsets    map[string]int
	distancePx int
	jumps      []jump
}

func (s *stubSurface) ItemOffsetPx(key string) (int, bool) {
	off, ok := s.offsets[key]
	return off, ok
}

func (s *stubSurface) JumpTo(key string, offsetPx int) {
	s.jumps = append(s.jumps, jump{key: key, offsetPx: offsetPx})
}

func (s *stubSurface) DistanceToBottomPx() int {
	return s.distancePx
}

// testController wires a controller with an inline runner and a mutable
// clock.
func testController(tl *stubTimeline, tracker *stubTracker) (*Controller, *stubSurface, *time.Time) {
	now := ctrlBase
	surface := &stubSurface{offsets: map[string]int{}, distancePx: 1000}
	c := NewController("general", tl, tracker, Config{},
		WithNow(func() time.Time { return now }),
		WithRunner(func(fn func()) { fn() }),
	)
	c.AttachSurface(surface)
	c.Refresh()
	return c, surface, &now
}

func initialWindow() []timeline.DisplayItem {
	return []timeline.DisplayItem{
		timeline.LoadMoreSentinel{Direction: timeline.DirectionOlder},
		item("m3", 3*time.Minute),
		item("m4", 4*time.Minute),
		item("m5", 5*time.Minute),
	}
}

func extendedWindow() []timeline.DisplayItem {
	return []timeline.DisplayItem{
		timeline.LoadMoreSentinel{Direction: timeline.DirectionOlder},
		item("m1", time.Minute),
		item("m2", 2*time.Minute),
		item("m3", 3*time.Minute),
		item("m4", 4*time.Minute),
		item("m5", 5*time.Minute),
	}
}

func TestScrollUpAtSentinelFetchesOlderAndKeepsAnchor(t *testing.T) {
	tl := &stubTimeline{
		items: initialWindow(),
		snap:  timeline.Status{HasOlder: true, HasNewer: true, Len: 3},
		onOlder: func(s *stubTimeline) {
			s.items = extendedWindow()
			s.snap.Len = 5
		},
	}
	c, surface, _ := testController(tl, &stubTracker{})

	// The mid-viewport anchor is m3, 32px from the top.
	surface.offsets["m3"] = 32

	c.ReportViewport(context.Background(), 0, 3, ScrollUp)

	require.Equal(t, 1, tl.olderCalls)
	require.Len(t, c.Items(), 6)
	// The anchor is re-seated at its exact pre-merge offset.
	require.Equal(t, []jump{{key: "m3", offsetPx: 32}}, surface.jumps)
	require.NoError(t, c.LastError())
}

func TestScrollDownDoesNotFetchOlder(t *testing.T) {
	tl := &stubTimeline{
		items: initialWindow(),
		snap:  timeline.Status{HasOlder: true, HasNewer: true, Len: 3},
	}
	c, _, _ := testController(tl, &stubTracker{})

	c.ReportViewport(context.Background(), 0, 3, ScrollDown)
	require.Zero(t, tl.olderCalls)
}

func TestSentinelOffscreenDoesNotFetch(t *testing.T) {
	tl := &stubTimeline{
		items: initialWindow(),
		snap:  timeline.Status{HasOlder: true, HasNewer: true, Len: 3},
	}
	c, _, _ := testController(tl, &stubTracker{})

	// Sentinel at index 0 is not in the rendered range.
	c.ReportViewport(context.Background(), 1, 3, ScrollUp)
	require.Zero(t, tl.olderCalls)
}

func TestBusyBufferSuppressesTrigger(t *testing.T) {
	tl := &stubTimeline{
		items: initialWindow(),
		snap:  timeline.Status{HasOlder: true, HasNewer: true, Len: 3, LoadState: timeline.LoadingNewer},
	}
	c, _, _ := testController(tl, &stubTracker{})

	c.ReportViewport(context.Background(), 0, 3, ScrollUp)
	require.Zero(t, tl.olderCalls)
}

func TestSettleWindowSuppressesTrigger(t *testing.T) {
	tl := &stubTimeline{
		items: initialWindow(),
		snap:  timeline.Status{HasOlder: true, HasNewer: true, Len: 3},
	}
	c, _, now := testController(tl, &stubTracker{})

	c.NoteInitialJump()
	c.ReportViewport(context.Background(), 0, 3, ScrollUp)
	require.Zero(t, tl.olderCalls)

	// Same report after the settle delay fires.
	*now = now.Add(time.Second)
	c.ReportViewport(context.Background(), 0, 3, ScrollUp)
	require.Equal(t, 1, tl.olderCalls)
}

func TestPendingFetchIsNotRetriggered(t *testing.T) {
	tl := &stubTimeline{
		items: initialWindow(),
		snap:  timeline.Status{HasOlder: true, HasNewer: true, Len: 3},
	}
	var launches []func()
	surface := &stubSurface{offsets: map[string]int{}, distancePx: 1000}
	c := NewController("general", tl, &stubTracker{}, Config{},
		WithNow(func() time.Time { return ctrlBase }),
		WithRunner(func(fn func()) { launches = append(launches, fn) }),
	)
	c.AttachSurface(surface)
	c.Refresh()

	c.ReportViewport(context.Background(), 0, 3, ScrollUp)
	c.ReportViewport(context.Background(), 0, 3, ScrollUp)
	require.Len(t, launches, 1)

	launches[0]()
	require.Equal(t, 1, tl.olderCalls)

	// Completed: the next report may trigger again.
	c.ReportViewport(context.Background(), 0, 3, ScrollUp)
	require.Len(t, launches, 2)
}

func TestAnchorLostFallsBackToNearestSurvivor(t *testing.T) {
	tl := &stubTimeline{
		items: initialWindow(),
		snap:  timeline.Status{HasOlder: true, HasNewer: true, Len: 3},
		onOlder: func(s *stubTimeline) {
			// Rebuild where the anchor m3 vanished.
			s.items = []timeline.DisplayItem{
				timeline.ChannelStartSentinel{},
				item("m1", time.Minute),
				item("m2", 2*time.Minute),
				item("m4", 4*time.Minute),
				item("m5", 5*time.Minute),
			}
			s.snap.HasOlder = false
			s.snap.Len = 4
		},
	}
	c, surface, _ := testController(tl, &stubTracker{})
	surface.offsets["m3"] = 32

	c.ReportViewport(context.Background(), 0, 3, ScrollUp)

	// m4 was the closest old neighbor still present.
	require.Equal(t, []jump{{key: "m4", offsetPx: 32}}, surface.jumps)
	require.Len(t, c.Items(), 5)
}

func TestUnmeasuredAnchorDegradesToInsertedContent(t *testing.T) {
	tl := &stubTimeline{
		items: initialWindow(),
		snap:  timeline.Status{HasOlder: true, HasNewer: true, Len: 3},
		onOlder: func(s *stubTimeline) {
			s.items = extendedWindow()
			s.snap.Len = 5
		},
	}
	c, surface, _ := testController(tl, &stubTracker{})
	// No offsets recorded: the surface has no layout for any item yet.

	c.ReportViewport(context.Background(), 0, 3, ScrollUp)

	require.Equal(t, []jump{{key: "m1", offsetPx: 0}}, surface.jumps)
}

func TestFetchFailureSurfacesViaLastError(t *testing.T) {
	tl := &stubTimeline{
		items:    initialWindow(),
		snap:     timeline.Status{HasOlder: true, HasNewer: true, Len: 3},
		olderErr: errors.New("connection reset"),
	}
	c, surface, _ := testController(tl, &stubTracker{})
	surface.offsets["m3"] = 32

	c.ReportViewport(context.Background(), 0, 3, ScrollUp)

	require.ErrorContains(t, c.LastError(), "connection reset")
	require.NoError(t, c.LastError())
	// The failed fetch does not move the viewport.
	require.Empty(t, surface.jumps)
	require.Len(t, c.Items(), 4)
}

func TestReadMarkingAtBottom(t *testing.T) {
	tracker := &stubTracker{}
	tl := &stubTimeline{
		items: initialWindow(),
		snap:  timeline.Status{HasOlder: true, HasNewer: false, Len: 3},
	}
	c, surface, _ := testController(tl, tracker)
	surface.distancePx = 10

	c.ReportViewport(context.Background(), 0, 3, ScrollDown)
	require.Equal(t, []string{"m5"}, tracker.marked())

	// The same terminal id fires at most once.
	c.ReportViewport(context.Background(), 0, 3, ScrollDown)
	require.Equal(t, []string{"m5"}, tracker.marked())

	// A new terminal message advances the cursor again.
	tl.mu.Lock()
	tl.items = append(tl.items, item("m6", 6*time.Minute))
	tl.snap.Len = 4
	tl.mu.Unlock()
	c.Refresh()
	c.ReportViewport(context.Background(), 0, 4, ScrollDown)
	require.Equal(t, []string{"m5", "m6"}, tracker.marked())
}

func TestNoReadMarkingWhenBehindHead(t *testing.T) {
	tracker := &stubTracker{}
	tl := &stubTimeline{
		items: initialWindow(),
		snap:  timeline.Status{HasOlder: true, HasNewer: true, Len: 3},
	}
	c, surface, _ := testController(tl, tracker)
	surface.distancePx = 0

	c.ReportViewport(context.Background(), 0, 3, ScrollDown)
	require.Empty(t, tracker.marked())
}

func TestNoReadMarkingFarFromBottom(t *testing.T) {
	tracker := &stubTracker{}
	tl := &stubTimeline{
		items: initialWindow(),
		snap:  timeline.Status{HasOlder: true, HasNewer: false, Len: 3},
	}
	c, surface, _ := testController(tl, tracker)
	surface.distancePx = 500

	c.ReportViewport(context.Background(), 0, 3, ScrollDown)
	require.Empty(t, tracker.marked())
}

func TestReadyRequiresSurfaceAndContent(t *testing.T) {
	tl := &stubTimeline{
		items: initialWindow(),
		snap:  timeline.Status{HasOlder: true, HasNewer: true, Len: 3},
	}
	c := NewController("general", tl, &stubTracker{}, Config{})
	require.False(t, c.Ready())

	c.AttachSurface(&stubSurface{offsets: map[string]int{}})
	require.True(t, c.Ready())

	c.DetachSurface()
	require.False(t, c.Ready())
}
