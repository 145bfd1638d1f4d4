package session

import (
	"sync"
	"time"
)

// debouncer is a single-slot timer: arming it replaces any pending fire, so
// rapid successive events coalesce into one trailing invocation. The zero
// value is not usable; create with newDebouncer.
type debouncer struct {
	delay time.Duration

	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
}

func newDebouncer(delay time.Duration) *debouncer {
	return &debouncer{delay: delay}
}

// Arm schedules fn after the configured delay, replacing any pending fire.
func (d *debouncer) Arm(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		if d.gen != gen {
			// A Cancel or re-Arm landed after the timer expired but before
			// this callback ran; the fire is stale.
			d.mu.Unlock()
			return
		}
		d.timer = nil
		d.mu.Unlock()
		fn()
	})
}

// Cancel stops any pending fire. Safe to call when nothing is armed.
func (d *debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
}
