package viewport

import "time"

const (
	indicatorShowDelay  = 150 * time.Millisecond
	indicatorMinVisible = 250 * time.Millisecond
)

type indicatorState int

const (
	indicatorHidden indicatorState = iota
	indicatorPending
	indicatorVisible
	indicatorLingering
)

// Indicator is the loading-affordance state machine. A load shorter than
// the show delay never becomes visible, and one that does become visible
// stays up for a minimum hold, so fast fetches cannot flicker the UI.
//
// States: hidden -> pending (load started, not yet shown) -> visible ->
// lingering (load done, minimum hold running) -> hidden.
type Indicator struct {
	state  indicatorState
	showAt time.Time
	holdTo time.Time
}

// Begin records the start of a load.
func (ind *Indicator) Begin(now time.Time) {
	ind.state = indicatorPending
	ind.showAt = now.Add(indicatorShowDelay)
}

// End records load completion. A pending indicator that never showed goes
// straight back to hidden.
func (ind *Indicator) End() {
	switch ind.state {
	case indicatorPending:
		ind.state = indicatorHidden
	case indicatorVisible:
		ind.state = indicatorLingering
	}
}

// Visible advances the machine against the clock and reports whether the
// affordance should be drawn.
func (ind *Indicator) Visible(now time.Time) bool {
	switch ind.state {
	case indicatorPending:
		if now.Before(ind.showAt) {
			return false
		}
		ind.state = indicatorVisible
		ind.holdTo = now.Add(indicatorMinVisible)
		return true
	case indicatorVisible:
		return true
	case indicatorLingering:
		if now.Before(ind.holdTo) {
			return true
		}
		ind.state = indicatorHidden
		return false
	default:
		return false
	}
}
