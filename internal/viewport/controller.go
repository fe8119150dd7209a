// Package viewport maps a channel's display sequence to a bounded render
// window: it schedules edge fetches from scroll behavior, preserves the
// scroll position across structural mutations, and drives read marking.
package viewport

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbrandal/backscroll/internal/logging"
	"github.com/tbrandal/backscroll/internal/timeline"
)

const (
	defaultSettleDelay     = time.Second
	defaultReadThresholdPx = 32
)

// ScrollDirection is the direction of the user's most recent movement.
type ScrollDirection int

const (
	ScrollNone ScrollDirection = iota
	ScrollUp
	ScrollDown
)

// Timeline is the slice of the registry surface the controller drives.
type Timeline interface {
	DisplayItems(channelID string) ([]timeline.DisplayItem, error)
	Snapshot(channelID string) (timeline.Status, error)
	RequestOlder(ctx context.Context, channelID string) error
	RequestNewer(ctx context.Context, channelID string) error
}

// ReadTracker consumes "mark read up to X" signals.
type ReadTracker interface {
	MarkRead(ctx context.Context, channelID, messageID string) error
}

// Surface is the attached renderer. Offsets are pixels from the viewport
// top; the TUI surface maps one row to a fixed pixel height.
type Surface interface {
	// ItemOffsetPx measures an item's current offset inside the viewport.
	// ok is false when the item has no layout yet.
	ItemOffsetPx(key string) (offsetPx int, ok bool)
	// JumpTo scrolls instantly (no animation) so the item sits at the
	// given offset.
	JumpTo(key string, offsetPx int)
	// DistanceToBottomPx is how far the viewport sits above the very
	// bottom of the content.
	DistanceToBottomPx() int
}

// anchor is the stable visual reference captured immediately before a
// mutation that may shift indices, consumed immediately after the rebuild.
type anchor struct {
	key      string
	offsetPx int
	measured bool
}

// Config tunes the controller.
type Config struct {
	// SettleDelay suppresses edge fetches after an initial jump so the
	// settling scroll does not cause a fetch storm.
	SettleDelay time.Duration
	// ReadThresholdPx is how close to the bottom the viewport must be for
	// read marking to fire.
	ReadThresholdPx int
}

func (c *Config) defaults() {
	if c.SettleDelay <= 0 {
		c.SettleDelay = defaultSettleDelay
	}
	if c.ReadThresholdPx <= 0 {
		c.ReadThresholdPx = defaultReadThresholdPx
	}
}

// Controller virtualizes one channel's display sequence.
type Controller struct {
	mu        sync.Mutex
	channelID string
	tl        Timeline
	tracker   ReadTracker
	surface   Surface
	cfg       Config
	log       zerolog.Logger

	now func() time.Time
	run func(func())

	items []timeline.DisplayItem

	visibleFirst int
	visibleLast  int
	direction    ScrollDirection

	suppressUntil time.Time
	olderPending  bool
	newerPending  bool

	olderIndicator Indicator
	newerIndicator Indicator

	lastMarkedID string
	lastErr      error
}

// Option customizes a Controller.
type Option func(*Controller)

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithRunner overrides how fetches are dispatched. The default runs them on
// their own goroutine; tests run them inline.
func WithRunner(run func(func())) Option {
	return func(c *Controller) { c.run = run }
}

// NewController creates a controller for one channel.
func NewController(channelID string, tl Timeline, tracker ReadTracker, cfg Config, opts ...Option) *Controller {
	cfg.defaults()
	c := &Controller{
		channelID: channelID,
		tl:        tl,
		tracker:   tracker,
		cfg:       cfg,
		log:       logging.WithChannel(channelID).With().Str("component", "viewport").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
		run:       func(fn func()) { go fn() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AttachSurface connects the renderer. Readiness requires both a non-empty
// buffer and an attached surface.
func (c *Controller) AttachSurface(s Surface) {
	c.mu.Lock()
	c.surface = s
	c.mu.Unlock()
}

// DetachSurface tears the renderer down, e.g. on channel deactivation.
func (c *Controller) DetachSurface() {
	c.mu.Lock()
	c.surface = nil
	c.mu.Unlock()
}

// Ready reports whether the channel can render: buffer populated and a
// surface attached.
func (c *Controller) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.surface == nil {
		return false
	}
	snap, err := c.tl.Snapshot(c.channelID)
	return err == nil && snap.Len > 0
}

// Refresh re-pulls the display sequence after a buffer version bump.
func (c *Controller) Refresh() {
	items, err := c.tl.DisplayItems(c.channelID)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.lastErr = err
		return
	}
	c.items = items
}

// Items returns the current display sequence.
func (c *Controller) Items() []timeline.DisplayItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items
}

// LastError returns the most recent fetch failure, for UI surfacing, and
// clears it.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.lastErr
	c.lastErr = nil
	return err
}

// LoadingOlder reports whether the older-edge loading affordance should be
// drawn right now.
func (c *Controller) LoadingOlder() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.olderIndicator.Visible(c.now())
}

// LoadingNewer is the newer-edge counterpart.
func (c *Controller) LoadingNewer() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.newerIndicator.Visible(c.now())
}

// NoteInitialJump starts the settle window after a jump-to-unread or
// jump-to-bottom, disabling edge triggers while the view settles.
func (c *Controller) NoteInitialJump() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.suppressUntil = c.now().Add(c.cfg.SettleDelay)
}

// ReportViewport feeds the currently rendered item range and scroll
// direction into fetch triggering and read marking.
func (c *Controller) ReportViewport(ctx context.Context, first, last int, dir ScrollDirection) {
	c.mu.Lock()
	if first < 0 {
		first = 0
	}
	if last >= len(c.items) {
		last = len(c.items) - 1
	}
	c.visibleFirst, c.visibleLast, c.direction = first, last, dir

	wantOlder, wantNewer := c.sentinelTriggersLocked(dir)
	snap, err := c.tl.Snapshot(c.channelID)
	if err != nil {
		c.mu.Unlock()
		return
	}
	idle := snap.LoadState == timeline.LoadIdle
	settled := !c.now().Before(c.suppressUntil)

	var launch func()
	switch {
	case wantOlder && idle && settled && !c.olderPending:
		launch = c.beginEdgeFetchLocked(ctx, timeline.DirectionOlder)
	case wantNewer && idle && settled && !c.newerPending:
		launch = c.beginEdgeFetchLocked(ctx, timeline.DirectionNewer)
	}

	markID := c.readMarkTargetLocked(snap)
	c.mu.Unlock()

	if launch != nil {
		c.run(launch)
	}
	if markID != "" {
		c.markRead(ctx, markID)
	}
}

// sentinelTriggersLocked checks which load-more sentinels are both rendered
// and being scrolled toward.
func (c *Controller) sentinelTriggersLocked(dir ScrollDirection) (older, newer bool) {
	if len(c.items) == 0 {
		return false, false
	}
	for i := c.visibleFirst; i <= c.visibleLast && i < len(c.items); i++ {
		sentinel, ok := c.items[i].(timeline.LoadMoreSentinel)
		if !ok {
			continue
		}
		switch sentinel.Direction {
		case timeline.DirectionOlder:
			older = dir == ScrollUp
		case timeline.DirectionNewer:
			newer = dir == ScrollDown
		}
	}
	return older, newer
}

// beginEdgeFetchLocked captures the scroll anchor and returns the fetch
// closure to run. Edge-suppressed: the pending flag stays set until the
// closure completes, so a sentinel re-report cannot double-trigger.
func (c *Controller) beginEdgeFetchLocked(ctx context.Context, dir timeline.Direction) func() {
	anc := c.captureAnchorLocked()
	prev := c.items
	if dir == timeline.DirectionOlder {
		c.olderPending = true
		c.olderIndicator.Begin(c.now())
	} else {
		c.newerPending = true
		c.newerIndicator.Begin(c.now())
	}

	return func() {
		var err error
		if dir == timeline.DirectionOlder {
			err = c.tl.RequestOlder(ctx, c.channelID)
		} else {
			err = c.tl.RequestNewer(ctx, c.channelID)
		}
		c.finishEdgeFetch(dir, anc, prev, err)
	}
}

func (c *Controller) finishEdgeFetch(dir timeline.Direction, anc anchor, prev []timeline.DisplayItem, err error) {
	items, itemsErr := c.tl.DisplayItems(c.channelID)

	c.mu.Lock()
	if dir == timeline.DirectionOlder {
		c.olderPending = false
		c.olderIndicator.End()
	} else {
		c.newerPending = false
		c.newerIndicator.End()
	}
	if err != nil {
		c.lastErr = err
		c.mu.Unlock()
		return
	}
	if itemsErr != nil {
		c.lastErr = itemsErr
		c.mu.Unlock()
		return
	}
	c.items = items
	surface := c.surface
	c.mu.Unlock()

	if surface != nil && dir == timeline.DirectionOlder {
		c.restoreAnchor(surface, anc, prev, items)
	}
}

// captureAnchorLocked picks the mid-viewport item as the stable reference.
func (c *Controller) captureAnchorLocked() anchor {
	if len(c.items) == 0 || c.surface == nil {
		return anchor{}
	}
	idx := (c.visibleFirst + c.visibleLast) / 2
	if idx < 0 {
		idx = 0
	}
	if idx >= len(c.items) {
		idx = len(c.items) - 1
	}
	key := c.items[idx].Key()
	offset, ok := c.surface.ItemOffsetPx(key)
	return anchor{key: key, offsetPx: offset, measured: ok}
}

// restoreAnchor re-seats the viewport after content was inserted above it.
// The anchor id survives merges (they only add, never remove), so the jump
// reproduces the captured offset exactly; if measurement was missing the
// restore degrades to the top of the newly inserted content.
func (c *Controller) restoreAnchor(surface Surface, anc anchor, prev, items []timeline.DisplayItem) {
	if anc.key == "" {
		return
	}
	if !anc.measured {
		if key, ok := firstInsertedKey(prev, items); ok {
			surface.JumpTo(key, 0)
		}
		return
	}
	if containsKey(items, anc.key) {
		surface.JumpTo(anc.key, anc.offsetPx)
		return
	}
	// Anchor lost: non-fatal, re-anchor on the nearest surviving neighbor.
	c.log.Warn().Str("anchor", anc.key).Msg("anchor missing after rebuild")
	if key, ok := nearestSurvivor(prev, items, anc.key); ok {
		surface.JumpTo(key, anc.offsetPx)
	}
}

// readMarkTargetLocked decides whether the bottom-most rendered item
// warrants a mark-read signal. At most one signal fires per distinct
// terminal message id.
func (c *Controller) readMarkTargetLocked(snap timeline.Status) string {
	if c.surface == nil || snap.HasNewer || len(c.items) == 0 {
		return ""
	}
	if c.visibleLast < 0 || c.visibleLast >= len(c.items) {
		return ""
	}
	item, ok := c.items[c.visibleLast].(timeline.MessageItem)
	if !ok {
		return ""
	}
	if c.surface.DistanceToBottomPx() > c.cfg.ReadThresholdPx {
		return ""
	}
	if item.Message.ID == c.lastMarkedID {
		return ""
	}
	c.lastMarkedID = item.Message.ID
	return item.Message.ID
}

func (c *Controller) markRead(ctx context.Context, messageID string) {
	if c.tracker == nil {
		return
	}
	if err := c.tracker.MarkRead(ctx, c.channelID, messageID); err != nil {
		c.log.Warn().Err(err).Str("message_id", messageID).Msg("mark read failed")
	}
}

func containsKey(items []timeline.DisplayItem, key string) bool {
	for _, it := range items {
		if it.Key() == key {
			return true
		}
	}
	return false
}

// nearestSurvivor walks outward from the anchor's old position and returns
// the closest old neighbor still present in the rebuilt sequence.
func nearestSurvivor(prev, items []timeline.DisplayItem, key string) (string, bool) {
	at := -1
	for i, it := range prev {
		if it.Key() == key {
			at = i
			break
		}
	}
	if at < 0 {
		return "", false
	}
	for step := 1; step < len(prev); step++ {
		for _, i := range []int{at - step, at + step} {
			if i < 0 || i >= len(prev) {
				continue
			}
			if containsKey(items, prev[i].Key()) {
				return prev[i].Key(), true
			}
		}
	}
	return "", false
}

// firstInsertedKey returns the first item of the rebuilt sequence that was
// not present before the merge.
func firstInsertedKey(prev, items []timeline.DisplayItem) (string, bool) {
	seen := make(map[string]struct{}, len(prev))
	for _, it := range prev {
		seen[it.Key()] = struct{}{}
	}
	for _, it := range items {
		if _, ok := seen[it.Key()]; !ok {
			return it.Key(), true
		}
	}
	return "", false
}
