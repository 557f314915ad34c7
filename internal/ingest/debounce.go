package ingest

import (
	"strings"
	"sync"
	"time"
)

// Debouncer coalesces bursts of short messages from the same customer into
// one routing pass. Each fragment restarts the customer's window; when it
// expires the pending fragments are joined and handed to the fire function
// registered by the first fragment of the burst. A zero window disables
// coalescing and fires immediately.
type Debouncer struct {
	window time.Duration

	mu      sync.Mutex
	pending map[int64]*burst
	closed  bool
}

type burst struct {
	fragments []string
	fire      func(text string)
	timer     *time.Timer
}

func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		pending: make(map[int64]*burst),
	}
}

// Add records one fragment for a customer. fire runs on the debouncer's
// timer goroutine once the window closes; for fragments joining an open
// burst the original fire function is kept.
func (d *Debouncer) Add(customerID int64, fragment string, fire func(text string)) {
	if d.window <= 0 {
		fire(fragment)
		return
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		fire(fragment)
		return
	}
	if b, ok := d.pending[customerID]; ok {
		b.fragments = append(b.fragments, fragment)
		b.timer.Reset(d.window)
		d.mu.Unlock()
		return
	}
	b := &burst{fragments: []string{fragment}, fire: fire}
	b.timer = time.AfterFunc(d.window, func() { d.flush(customerID) })
	d.pending[customerID] = b
	d.mu.Unlock()
}

func (d *Debouncer) flush(customerID int64) {
	d.mu.Lock()
	b, ok := d.pending[customerID]
	if !ok {
		d.mu.Unlock()
		return
	}
	delete(d.pending, customerID)
	d.mu.Unlock()

	b.fire(strings.Join(b.fragments, "\n"))
}

// Close flushes every open burst synchronously. Further Adds fire
// immediately without coalescing.
func (d *Debouncer) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	bursts := d.pending
	d.pending = make(map[int64]*burst)
	d.mu.Unlock()

	for _, b := range bursts {
		b.timer.Stop()
		b.fire(strings.Join(b.fragments, "\n"))
	}
}
