package realtime

import (
	"container/list"
	"sync"
)

// replayQueue buffers recent events for reconnecting clients, sharded per
// conversation so a burst in one conversation cannot evict another's events.
type replayQueue struct {
	mu      sync.RWMutex
	queues  map[string]*list.List
	maxSize int
}

func newReplayQueue(maxSize int) *replayQueue {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &replayQueue{
		queues:  make(map[string]*list.List),
		maxSize: maxSize,
	}
}

// Enqueue appends ev to its conversation's queue, evicting the oldest entries.
func (q *replayQueue) Enqueue(ev Event) {
	q.mu.Lock()
	defer q.mu.Unlock()

	l, ok := q.queues[ev.ConversationID]
	if !ok {
		l = list.New()
		q.queues[ev.ConversationID] = l
	}
	l.PushBack(ev)
	for l.Len() > q.maxSize {
		l.Remove(l.Front())
	}
}

// Since returns the buffered events with an id greater than afterID.
func (q *replayQueue) Since(conversationID string, afterID int64) []Event {
	q.mu.RLock()
	defer q.mu.RUnlock()

	l, ok := q.queues[conversationID]
	if !ok {
		return nil
	}
	var missed []Event
	for e := l.Front(); e != nil; e = e.Next() {
		ev := e.Value.(Event)
		if ev.ID > afterID {
			missed = append(missed, ev)
		}
	}
	return missed
}

// Len returns the number of buffered events for a conversation.
func (q *replayQueue) Len(conversationID string) int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if l, ok := q.queues[conversationID]; ok {
		return l.Len()
	}
	return 0
}
