package timeline

import "errors"

// Timeline errors.
var (
	// ErrFetchInFlight is returned when a fetch is requested while another
	// one is pending for the same buffer. The request is a no-op; it is
	// never queued.
	ErrFetchInFlight = errors.New("fetch already in flight")

	// ErrMergeConflict is returned when a page's boundary claim contradicts
	// the buffer's current contents. The buffer is left unchanged.
	ErrMergeConflict = errors.New("merge conflict: page boundary contradicts buffer state")

	// ErrChannelNotActive is returned for operations on a channel that has
	// no active buffer.
	ErrChannelNotActive = errors.New("channel not active")
)
