package chat

import (
	"sync"
	"time"

	"github.com/ashureev/persona-chat/internal/pacing"
)

// Debouncer keeps at most one pending timer per conversation. Arming again
// before expiry replaces the previous timer, so only the last call in a
// burst fires.
type Debouncer struct {
	clock pacing.Clock
	delay time.Duration
	fire  func(conversationID string)

	mu      sync.Mutex
	gen     uint64
	pending map[string]debounceEntry
	stopped bool
}

type debounceEntry struct {
	gen   uint64
	timer pacing.Timer
}

// NewDebouncer creates a debouncer that calls fire delay after the last Arm.
func NewDebouncer(clock pacing.Clock, delay time.Duration, fire func(conversationID string)) *Debouncer {
	return &Debouncer{
		clock:   clock,
		delay:   delay,
		fire:    fire,
		pending: make(map[string]debounceEntry),
	}
}

// Arm (re)starts the timer for a conversation.
func (d *Debouncer) Arm(conversationID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if prev, ok := d.pending[conversationID]; ok {
		prev.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.pending[conversationID] = debounceEntry{
		gen:   gen,
		timer: d.clock.AfterFunc(d.delay, func() { d.expire(conversationID, gen) }),
	}
}

// Cancel drops the pending timer for a conversation, if any.
func (d *Debouncer) Cancel(conversationID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	prev, ok := d.pending[conversationID]
	if !ok {
		return false
	}
	delete(d.pending, conversationID)
	return prev.timer.Stop()
}

// Armed reports whether a timer is pending for the conversation.
func (d *Debouncer) Armed(conversationID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[conversationID]
	return ok
}

// Stop cancels every pending timer and disables further arming.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for id, entry := range d.pending {
		entry.timer.Stop()
		delete(d.pending, id)
	}
}

func (d *Debouncer) expire(conversationID string, gen uint64) {
	d.mu.Lock()
	entry, ok := d.pending[conversationID]
	// A timer that fired while being replaced is stale.
	if !ok || entry.gen != gen {
		d.mu.Unlock()
		return
	}
	delete(d.pending, conversationID)
	d.mu.Unlock()

	d.fire(conversationID)
}
