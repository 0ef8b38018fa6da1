package chat

import (
	"sync"
	"time"

	"github.com/ashureev/persona-chat/internal/pacing"
)

// timerSet tracks fire-and-forget timers so they can all be stopped at shutdown.
type timerSet struct {
	clock pacing.Clock

	mu     sync.Mutex
	next   uint64
	timers map[uint64]pacing.Timer
	closed bool
}

func newTimerSet(clock pacing.Clock) *timerSet {
	return &timerSet{
		clock:  clock,
		timers: make(map[uint64]pacing.Timer),
	}
}

func (s *timerSet) after(d time.Duration, f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.next++
	id := s.next
	s.timers[id] = s.clock.AfterFunc(d, func() {
		s.mu.Lock()
		_, live := s.timers[id]
		delete(s.timers, id)
		s.mu.Unlock()
		if live {
			f()
		}
	})
}

func (s *timerSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *timerSet) stopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}
