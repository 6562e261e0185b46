package lsp

import (
	"sync"
	"time"
)

// validatePayload is one buffer snapshot queued for validation.
type validatePayload struct {
	uri     string
	version int
	content string
}

// throttle coalesces validation requests for a single buffer. The first
// request after a quiet period runs immediately and opens a cooling
// window; requests arriving while the window is open collapse into one
// pending snapshot, which runs when the window closes and opens the
// next one. A run therefore never starts less than interval after the
// previous run started, and the newest snapshot always wins.
type throttle struct {
	interval time.Duration
	clock    Clock
	run      func(validatePayload)

	mu      sync.Mutex
	cooling bool
	timer   Timer
	pending *validatePayload
}

func newThrottle(interval time.Duration, clock Clock, run func(validatePayload)) *throttle {
	return &throttle{interval: interval, clock: clock, run: run}
}

// note records a fresh snapshot of the buffer.
func (t *throttle) note(p validatePayload) {
	t.mu.Lock()
	if t.cooling {
		t.pending = &p
		t.mu.Unlock()
		return
	}
	t.cooling = true
	t.timer = t.clock.AfterFunc(t.interval, t.cool)
	t.mu.Unlock()
	t.run(p)
}

// cool closes one cooling window. A snapshot stashed while the window
// was open starts its run now and opens the next window; otherwise the
// throttle goes idle.
func (t *throttle) cool() {
	t.mu.Lock()
	p := t.pending
	t.pending = nil
	if p == nil {
		t.cooling = false
		t.timer = nil
		t.mu.Unlock()
		return
	}
	t.timer = t.clock.AfterFunc(t.interval, t.cool)
	t.mu.Unlock()
	t.run(*p)
}

// stop cancels the cooling window and drops any pending snapshot.
func (t *throttle) stop() {
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.pending = nil
	t.cooling = false
	t.mu.Unlock()
}
