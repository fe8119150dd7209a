package chattui

import (
	"context"
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/tbrandal/backscroll/internal/timeline"
	"github.com/tbrandal/backscroll/internal/viewport"
)

// rowPx maps one rendered row to the controller's pixel unit.
const rowPx = 16

type refreshMsg struct{}

type initializedMsg struct {
	err error
}

type reportedMsg struct{}

// channelView renders one channel's display sequence and doubles as the
// viewport controller's render surface.
type channelView struct {
	cfg  Config
	ctrl *viewport.Controller

	mu     sync.Mutex
	items  []timeline.DisplayItem
	top    int
	width  int
	height int

	refreshCh chan struct{}
	unsub     func()
	lastDir   viewport.ScrollDirection
	initErr   error
}

func newChannelView(cfg Config) *channelView {
	v := &channelView{
		cfg:       cfg,
		refreshCh: make(chan struct{}, 1),
	}
	v.ctrl = viewport.NewController(cfg.ChannelID, cfg.Registry, cfg.Tracker, cfg.Viewport)
	return v
}

func (v *channelView) Init() tea.Cmd {
	v.cfg.Registry.Activate(v.cfg.ChannelID, v.cfg.UnreadBoundaryID)
	v.ctrl.AttachSurface(v)

	unsub, err := v.cfg.Registry.Subscribe(v.cfg.ChannelID, func() {
		select {
		case v.refreshCh <- struct{}{}:
		default:
		}
	})
	if err == nil {
		v.unsub = unsub
	}

	initialize := func() tea.Msg {
		return initializedMsg{err: v.cfg.Registry.Initialize(context.Background(), v.cfg.ChannelID)}
	}
	return tea.Batch(initialize, v.waitRefreshCmd())
}

func (v *channelView) Close() {
	if v.unsub != nil {
		v.unsub()
		v.unsub = nil
	}
	v.ctrl.DetachSurface()
	v.cfg.Registry.Deactivate(v.cfg.ChannelID)
}

func (v *channelView) setSize(width, height int) {
	v.mu.Lock()
	v.width = width
	v.height = height
	v.clampTopLocked()
	v.mu.Unlock()
}

func (v *channelView) Update(msg tea.Msg) tea.Cmd {
	switch typed := msg.(type) {
	case initializedMsg:
		v.initErr = typed.err
		if typed.err != nil {
			return nil
		}
		v.pullItems(true)
		v.jumpInitial()
		return v.reportCmd()
	case refreshMsg:
		v.pullItems(false)
		return tea.Batch(v.waitRefreshCmd(), v.reportCmd())
	case reportedMsg:
		return nil
	case tea.KeyMsg:
		return v.handleKey(typed)
	}
	return nil
}

func (v *channelView) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "j", "down":
		return v.scrollBy(1)
	case "k", "up":
		return v.scrollBy(-1)
	case "pgdown", "ctrl+d":
		return v.scrollBy(v.pageStep())
	case "pgup", "ctrl+u":
		return v.scrollBy(-v.pageStep())
	case "g", "home":
		v.mu.Lock()
		v.top = 0
		v.mu.Unlock()
		v.lastDir = viewport.ScrollUp
		return v.reportCmd()
	case "G", "end":
		v.jumpToBottom()
		return v.reportCmd()
	case "u":
		v.jumpToUnread()
		return v.reportCmd()
	}
	return nil
}

func (v *channelView) pageStep() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.height > 1 {
		return v.height - 1
	}
	return 1
}

func (v *channelView) scrollBy(delta int) tea.Cmd {
	if delta == 0 {
		return nil
	}
	v.mu.Lock()
	v.top += delta
	v.clampTopLocked()
	v.mu.Unlock()

	if delta < 0 {
		v.lastDir = viewport.ScrollUp
	} else {
		v.lastDir = viewport.ScrollDown
	}
	return v.reportCmd()
}

// pullItems refreshes the local copy of the display sequence. When the view
// was pinned to the bottom it stays pinned, so live messages keep the tail
// in view.
func (v *channelView) pullItems(force bool) {
	v.ctrl.Refresh()
	items := v.ctrl.Items()

	v.mu.Lock()
	followTail := force || v.atBottomLocked()
	v.items = items
	if followTail {
		v.top = v.maxTopLocked()
	}
	v.clampTopLocked()
	v.mu.Unlock()
}

func (v *channelView) jumpInitial() {
	if v.cfg.UnreadBoundaryID != "" {
		v.jumpToUnread()
		return
	}
	v.jumpToBottom()
}

func (v *channelView) jumpToUnread() {
	v.ctrl.NoteInitialJump()
	v.mu.Lock()
	idx := -1
	for i, item := range v.items {
		if _, ok := item.(timeline.UnreadSeparator); ok {
			idx = i
			break
		}
	}
	if idx < 0 {
		v.top = v.maxTopLocked()
	} else {
		v.top = idx - v.height/3
	}
	v.clampTopLocked()
	v.mu.Unlock()
}

func (v *channelView) jumpToBottom() {
	v.ctrl.NoteInitialJump()
	v.mu.Lock()
	v.top = v.maxTopLocked()
	v.mu.Unlock()
	v.lastDir = viewport.ScrollDown
}

func (v *channelView) reportCmd() tea.Cmd {
	v.mu.Lock()
	first := v.top
	last := v.top + v.height - 1
	v.mu.Unlock()
	dir := v.lastDir
	return func() tea.Msg {
		v.ctrl.ReportViewport(context.Background(), first, last, dir)
		return reportedMsg{}
	}
}

func (v *channelView) waitRefreshCmd() tea.Cmd {
	return func() tea.Msg {
		<-v.refreshCh
		return refreshMsg{}
	}
}

func (v *channelView) statusLabel() string {
	snap, err := v.cfg.Registry.Snapshot(v.cfg.ChannelID)
	if err != nil {
		return "inactive"
	}
	if snap.LoadState != timeline.LoadIdle {
		return snap.LoadState.String()
	}
	if !snap.HasNewer {
		return "live"
	}
	return "behind"
}

// ItemOffsetPx implements viewport.Surface.
func (v *channelView) ItemOffsetPx(key string) (int, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	idx := v.indexOfLocked(key)
	if idx < 0 {
		return 0, false
	}
	return (idx - v.top) * rowPx, true
}

// JumpTo implements viewport.Surface: an instant re-seat, no animation.
func (v *channelView) JumpTo(key string, offsetPx int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	idx := v.indexOfLocked(key)
	if idx < 0 {
		return
	}
	v.top = idx - offsetPx/rowPx
	v.clampTopLocked()
}

// DistanceToBottomPx implements viewport.Surface.
func (v *channelView) DistanceToBottomPx() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	last := v.top + v.height - 1
	below := len(v.items) - 1 - last
	if below < 0 {
		below = 0
	}
	return below * rowPx
}

func (v *channelView) indexOfLocked(key string) int {
	for i, item := range v.items {
		if item.Key() == key {
			return i
		}
	}
	return -1
}

func (v *channelView) maxTopLocked() int {
	top := len(v.items) - v.height
	if top < 0 {
		return 0
	}
	return top
}

func (v *channelView) atBottomLocked() bool {
	return v.top >= v.maxTopLocked()
}

func (v *channelView) clampTopLocked() {
	if v.top > v.maxTopLocked() {
		v.top = v.maxTopLocked()
	}
	if v.top < 0 {
		v.top = 0
	}
}

func (v *channelView) View() string {
	v.mu.Lock()
	items := v.items
	top := v.top
	width, height := v.width, v.height
	v.mu.Unlock()

	if width <= 0 || height <= 0 {
		return ""
	}
	theme := themePalette(v.cfg.Theme)

	if v.initErr != nil {
		return errorStyle(theme).Render(truncate("load failed: "+v.initErr.Error(), width))
	}

	lines := make([]string, 0, height)
	for i := top; i < len(items) && len(lines) < height; i++ {
		lines = append(lines, v.renderItem(items[i], theme, width))
	}
	for len(lines) < height {
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}
