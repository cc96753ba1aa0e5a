package anchor

import (
	"sync"
	"time"
)

// DefaultQuietPeriod is the debounce window used when none is configured.
const DefaultQuietPeriod = 500 * time.Millisecond

// PositionUpdate is one comment's current in-memory position observation.
type PositionUpdate struct {
	CommentID uint64
	Start     int
	End       int
}

// Debouncer collapses a burst of position-change notifications into a single
// trailing callback after a quiet period. Each call replaces the pending
// payload; only the most recent list is ever delivered. An empty list is
// never dispatched.
type Debouncer struct {
	quiet time.Duration
	fn    func([]PositionUpdate)

	mu      sync.Mutex
	timer   *time.Timer
	pending []PositionUpdate
	stopped bool
}

// NewDebouncer creates a debouncer invoking fn with the latest payload after
// quiet elapses with no further calls. quiet <= 0 falls back to
// DefaultQuietPeriod.
func NewDebouncer(quiet time.Duration, fn func([]PositionUpdate)) *Debouncer {
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	return &Debouncer{quiet: quiet, fn: fn}
}

// Notify records the most recent position observations and resets the quiet
// timer. Empty updates carry no information worth persisting and are ignored.
func (d *Debouncer) Notify(updates []PositionUpdate) {
	if len(updates) == 0 {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	d.pending = updates
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.quiet, d.fire)
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	updates := d.pending
	d.pending = nil
	d.timer = nil
	stopped := d.stopped
	d.mu.Unlock()

	if stopped || len(updates) == 0 {
		return
	}
	d.fn(updates)
}

// Stop cancels any pending dispatch. Timers keep firing until cleared, so
// teardown must call this explicitly rather than rely on collection.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	d.pending = nil
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
