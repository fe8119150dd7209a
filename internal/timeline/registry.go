package timeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbrandal/backscroll/internal/events"
	"github.com/tbrandal/backscroll/internal/logging"
)

const (
	defaultInitialPageSize = 30
	defaultPageSize        = 20
)

// Options configures a Registry.
type Options struct {
	// InitialPageSize is the window size for the activation fetch.
	InitialPageSize int
	// PageSize is the window size for older/newer extension fetches.
	PageSize int
	// Build parameterizes display list construction.
	Build BuildOptions
}

func (o *Options) defaults() {
	if o.InitialPageSize <= 0 {
		o.InitialPageSize = defaultInitialPageSize
	}
	if o.PageSize <= 0 {
		o.PageSize = defaultPageSize
	}
}

// Status is a read-only projection of a buffer's pagination state.
type Status struct {
	HasOlder         bool
	HasNewer         bool
	LoadState        LoadState
	Version          uint64
	Len              int
	UnreadBoundaryID string
}

type handle struct {
	buf        *Buffer
	subs       map[int]func()
	feedCancel func()

	// Display memoization keyed by buffer version; rebuilt only when the
	// version moves.
	display        []DisplayItem
	displayVersion uint64
	displayValid   bool
}

// Registry holds one TimelineBuffer per activated channel and serializes all
// mutations. Buffers are passed by handle through the registry, never
// accessed ambiently; channels share no state with each other.
type Registry struct {
	mu      sync.Mutex
	source  Source
	opts    Options
	log     zerolog.Logger
	nextSub int

	channels map[string]*handle
}

// NewRegistry creates a registry backed by the given source.
func NewRegistry(source Source, opts Options) *Registry {
	opts.defaults()
	return &Registry{
		source:   source,
		opts:     opts,
		log:      logging.Component("timeline"),
		channels: make(map[string]*handle),
	}
}

// Activate creates the channel's buffer and starts its live feed. Activating
// an already-active channel is a no-op; the unread boundary is set once per
// activation and never recomputed mid-session.
func (r *Registry) Activate(channelID, unreadBoundaryID string) {
	r.mu.Lock()
	if _, ok := r.channels[channelID]; ok {
		r.mu.Unlock()
		return
	}
	h := &handle{
		buf:  NewBuffer(channelID, unreadBoundaryID),
		subs: make(map[int]func()),
	}
	r.channels[channelID] = h
	r.mu.Unlock()

	r.startFeed(channelID, h)
}

// Deactivate discards the channel's buffer and stops its live feed.
// In-flight fetches are not cancelled; a stale fetch resolving later merges
// into the detached buffer and produces no notifications.
func (r *Registry) Deactivate(channelID string) {
	r.mu.Lock()
	var cancel func()
	if h, ok := r.channels[channelID]; ok {
		delete(r.channels, channelID)
		cancel = h.feedCancel
	}
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Resync discards the buffer and rebuilds it from scratch with a fresh
// boundary cursor, then runs the initial window fetch.
func (r *Registry) Resync(ctx context.Context, channelID, unreadBoundaryID string) error {
	r.Deactivate(channelID)
	r.Activate(channelID, unreadBoundaryID)
	return r.Initialize(ctx, channelID)
}

// Initialize runs the activation fetch: a window split around the unread
// cursor, or anchored at the live head when the channel has none.
func (r *Registry) Initialize(ctx context.Context, channelID string) error {
	r.mu.Lock()
	h, ok := r.channels[channelID]
	if !ok {
		r.mu.Unlock()
		return ErrChannelNotActive
	}
	if err := h.buf.BeginLoad(LoadingAroundUnread); err != nil {
		r.mu.Unlock()
		return nil
	}
	cursor := h.buf.UnreadBoundaryID()
	before, after := r.opts.InitialPageSize, 0
	if cursor != "" {
		before = r.opts.InitialPageSize / 2
		after = r.opts.InitialPageSize - before
	}
	r.mu.Unlock()

	page, err := r.source.FetchAround(ctx, channelID, cursor, before, after)

	r.mu.Lock()
	h.buf.FinishLoad()
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("initialize %s: %w", channelID, err)
	}
	h.buf.ApplyInitialWindow(page)
	subs := r.collectSubsLocked(channelID, h)
	r.mu.Unlock()

	notifyAll(subs)
	return nil
}

// RequestOlder extends the window below the current oldest message. The
// trigger is idempotent: while a fetch is in flight, or once the start of
// the channel is confirmed, it is a no-op.
func (r *Registry) RequestOlder(ctx context.Context, channelID string) error {
	return r.requestEdge(ctx, channelID, DirectionOlder)
}

// RequestNewer extends the window above the current newest message.
func (r *Registry) RequestNewer(ctx context.Context, channelID string) error {
	return r.requestEdge(ctx, channelID, DirectionNewer)
}

func (r *Registry) requestEdge(ctx context.Context, channelID string, dir Direction) error {
	r.mu.Lock()
	h, ok := r.channels[channelID]
	if !ok {
		r.mu.Unlock()
		return ErrChannelNotActive
	}
	buf := h.buf
	if (dir == DirectionOlder && !buf.HasOlder()) || (dir == DirectionNewer && !buf.HasNewer()) {
		r.mu.Unlock()
		return nil
	}
	state := LoadingOlder
	if dir == DirectionNewer {
		state = LoadingNewer
	}
	if err := buf.BeginLoad(state); err != nil {
		// Single-flight: a concurrent request is refused, never queued.
		r.mu.Unlock()
		return nil
	}
	cursor := buf.OldestLoadedID()
	if dir == DirectionNewer {
		cursor = buf.NewestLoadedID()
	}
	limit := r.opts.PageSize
	r.mu.Unlock()

	var page Page
	var err error
	if dir == DirectionOlder {
		page, err = r.source.FetchBefore(ctx, channelID, cursor, limit)
	} else {
		page, err = r.source.FetchAfter(ctx, channelID, cursor, limit)
	}

	r.mu.Lock()
	buf.FinishLoad()
	if err != nil {
		// Fetch failures reset to idle without touching the buffer; the
		// caller decides whether to surface a retry affordance.
		r.mu.Unlock()
		return fmt.Errorf("fetch %s %s: %w", dir, channelID, err)
	}

	var mergeErr error
	if dir == DirectionOlder {
		_, mergeErr = buf.MergeOlderPage(page.Messages, page.ReachedOldest)
	} else {
		_, mergeErr = buf.MergeNewerPage(page.Messages, page.ReachedNewest)
	}
	if errors.Is(mergeErr, ErrMergeConflict) {
		// Logic error in the page stream. Keep the buffer intact and move
		// on; integrity over completeness.
		r.log.Warn().
			Str("channel_id", channelID).
			Str("direction", dir.String()).
			Msg("merge conflict, page dropped")
		r.mu.Unlock()
		return nil
	}
	subs := r.collectSubsLocked(channelID, h)
	r.mu.Unlock()

	notifyAll(subs)
	return nil
}

// SyncSince reconciles the buffer after a reconnect, folding in everything
// created after the given time.
func (r *Registry) SyncSince(ctx context.Context, channelID string, since time.Time) error {
	r.mu.Lock()
	h, ok := r.channels[channelID]
	if !ok {
		r.mu.Unlock()
		return ErrChannelNotActive
	}
	if err := h.buf.BeginLoad(Syncing); err != nil {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	messages, err := r.source.FetchSince(ctx, channelID, since)

	r.mu.Lock()
	h.buf.FinishLoad()
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("sync %s: %w", channelID, err)
	}
	added := h.buf.MergeSyncPage(messages, since)
	var subs []func()
	if added > 0 {
		subs = r.collectSubsLocked(channelID, h)
	}
	r.mu.Unlock()

	notifyAll(subs)
	return nil
}

// DisplayItems returns the channel's display sequence, memoized on the
// buffer version so repeated reads between mutations are free.
func (r *Registry) DisplayItems(channelID string) ([]DisplayItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.channels[channelID]
	if !ok {
		return nil, ErrChannelNotActive
	}
	if !h.displayValid || h.displayVersion != h.buf.Version() {
		h.display = BuildDisplayList(h.buf, r.opts.Build)
		h.displayVersion = h.buf.Version()
		h.displayValid = true
	}
	return h.display, nil
}

// Snapshot returns the pagination status projection for a channel.
func (r *Registry) Snapshot(channelID string) (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.channels[channelID]
	if !ok {
		return Status{}, ErrChannelNotActive
	}
	return Status{
		HasOlder:         h.buf.HasOlder(),
		HasNewer:         h.buf.HasNewer(),
		LoadState:        h.buf.LoadState(),
		Version:          h.buf.Version(),
		Len:              h.buf.Len(),
		UnreadBoundaryID: h.buf.UnreadBoundaryID(),
	}, nil
}

// Subscribe registers a callback invoked after every buffer version bump.
// The callback runs outside the registry lock.
func (r *Registry) Subscribe(channelID string, fn func()) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.channels[channelID]
	if !ok {
		return nil, ErrChannelNotActive
	}
	id := r.nextSub
	r.nextSub++
	h.subs[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(h.subs, id)
	}, nil
}

func (r *Registry) startFeed(channelID string, h *handle) {
	ch, cancel := r.source.Subscribe(channelID)
	r.mu.Lock()
	h.feedCancel = cancel
	r.mu.Unlock()

	go func() {
		for ev := range ch {
			r.applyLive(channelID, h, ev)
		}
	}()
}

func (r *Registry) applyLive(channelID string, h *handle, ev events.Event) {
	r.mu.Lock()
	changed := false
	switch ev.Kind {
	case events.KindMessageCreated:
		changed = h.buf.ApplyLiveMessage(ev.Message)
		if !changed && h.buf.HasNewer() {
			r.log.Debug().
				Str("channel_id", channelID).
				Str("message_id", ev.Message.ID).
				Msg("live push rejected, buffer behind head")
		}
	case events.KindMessageEdited:
		changed = h.buf.ApplyEdit(ev.Message)
	case events.KindMessageDeleted:
		changed = h.buf.ApplyDelete(ev.Message.ID, ev.Message.EditedAt)
	}
	var subs []func()
	if changed {
		subs = r.collectSubsLocked(channelID, h)
	}
	r.mu.Unlock()

	notifyAll(subs)
}

// collectSubsLocked snapshots the channel's callbacks. A buffer whose handle
// has been deactivated mid-fetch still merges (cheap, idempotent) but has no
// subscribers left to notify.
func (r *Registry) collectSubsLocked(channelID string, h *handle) []func() {
	if r.channels[channelID] != h {
		return nil
	}
	subs := make([]func(), 0, len(h.subs))
	for _, fn := range h.subs {
		subs = append(subs, fn)
	}
	return subs
}

func notifyAll(subs []func()) {
	for _, fn := range subs {
		fn()
	}
}
