// Package realtime pushes conversation changes and typing indicators to
// connected clients over WebSocket and Server-Sent Events.
package realtime

import (
	"log/slog"
	"sync"

	"github.com/ashureev/persona-chat/internal/domain"
	"github.com/ashureev/persona-chat/internal/store"
)

// Event types that only exist on the wire.
const (
	EventTyping    = "typing"
	EventSnapshot  = "snapshot"
	EventConnected = "connected"
)

// Typing is one participant's typing flag.
type Typing struct {
	ParticipantID string `json:"participant_id"`
	Typing        bool   `json:"typing"`
}

// Event is what clients receive.
type Event struct {
	ID             int64                `json:"id"`
	Type           string               `json:"type"`
	ConversationID string               `json:"conversation_id"`
	Message        *domain.Message      `json:"message,omitempty"`
	Typing         *Typing              `json:"typing,omitempty"`
	Conversation   *domain.Conversation `json:"conversation,omitempty"`
	TypingState    map[string]bool      `json:"typing_state,omitempty"`
}

type subscriber struct {
	id             int64
	conversationID string
	ch             chan Event
}

// Hub fans store events and typing changes out to per-conversation
// subscribers and keeps a bounded replay buffer for reconnecting clients.
type Hub struct {
	logger *slog.Logger
	queue  *replayQueue

	mu      sync.Mutex
	eventID int64
	nextSub int64
	subs    map[string]map[int64]*subscriber
	typing  map[string]map[string]bool

	done        chan struct{}
	unsubscribe func()
	wg          sync.WaitGroup
	closeOnce   sync.Once
}

// NewHub creates a hub and starts forwarding events from the store broadcaster.
// A nil broadcaster is allowed; the hub then only carries typing events.
func NewHub(events *store.Broadcaster, replayBuffer int, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		logger:      logger,
		queue:       newReplayQueue(replayBuffer),
		subs:        make(map[string]map[int64]*subscriber),
		typing:      make(map[string]map[string]bool),
		done:        make(chan struct{}),
		unsubscribe: func() {},
	}
	if events != nil {
		ch, unsubscribe := events.Subscribe(256)
		h.unsubscribe = unsubscribe
		h.wg.Add(1)
		go h.broadcastLoop(ch)
	}
	return h
}

// broadcastLoop forwards store events until Close.
func (h *Hub) broadcastLoop(events <-chan store.Event) {
	defer h.wg.Done()
	h.logger.Info("realtime broadcast loop started")
	for {
		select {
		case <-h.done:
			h.logger.Info("realtime broadcast loop shutting down")
			return
		case ev, ok := <-events:
			if !ok {
				h.logger.Info("store event channel closed, broadcast loop exiting")
				return
			}
			h.publish(Event{
				Type:           string(ev.Type),
				ConversationID: ev.ConversationID,
				Message:        ev.Message,
			}, true)
		}
	}
}

// SetTyping records a typing flag and notifies subscribers when it changes.
func (h *Hub) SetTyping(conversationID, participantID string, typing bool) {
	h.mu.Lock()
	flags, ok := h.typing[conversationID]
	if !ok {
		flags = make(map[string]bool)
		h.typing[conversationID] = flags
	}
	if flags[participantID] == typing {
		h.mu.Unlock()
		return
	}
	if typing {
		flags[participantID] = true
	} else {
		delete(flags, participantID)
	}
	h.mu.Unlock()

	h.publish(Event{
		Type:           EventTyping,
		ConversationID: conversationID,
		Typing:         &Typing{ParticipantID: participantID, Typing: typing},
	}, false)
}

// TypingState returns who is currently typing in a conversation.
func (h *Hub) TypingState(conversationID string) map[string]bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]bool, len(h.typing[conversationID]))
	for id, typing := range h.typing[conversationID] {
		out[id] = typing
	}
	return out
}

// publish assigns the next event id and delivers ev. Slow subscribers lose
// events rather than block publishers; they recover through replay.
func (h *Hub) publish(ev Event, replayable bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.eventID++
	ev.ID = h.eventID
	if replayable {
		h.queue.Enqueue(ev)
	}
	for _, sub := range h.subs[ev.ConversationID] {
		select {
		case sub.ch <- ev:
		default:
			h.logger.Warn("realtime subscriber full, dropping event",
				"conversation_id", ev.ConversationID,
				"subscriber", sub.id,
				"event_id", ev.ID,
			)
		}
	}
}

// Subscribe registers for a conversation's events. Events after lastEventID
// still in the replay buffer are returned first; none of them will also be
// delivered on the channel.
func (h *Hub) Subscribe(conversationID string, lastEventID int64, buffer int) ([]Event, <-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	h.mu.Lock()
	h.nextSub++
	sub := &subscriber{id: h.nextSub, conversationID: conversationID, ch: make(chan Event, buffer)}
	if _, ok := h.subs[conversationID]; !ok {
		h.subs[conversationID] = make(map[int64]*subscriber)
	}
	h.subs[conversationID][sub.id] = sub
	var missed []Event
	if lastEventID > 0 {
		missed = h.queue.Since(conversationID, lastEventID)
	}
	h.mu.Unlock()

	var once sync.Once
	return missed, sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if subs, ok := h.subs[conversationID]; ok {
				delete(subs, sub.id)
				if len(subs) == 0 {
					delete(h.subs, conversationID)
				}
			}
		})
	}
}

// LastEventID returns the id of the most recent event.
func (h *Hub) LastEventID() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.eventID
}

// Subscribers returns the number of live subscribers for a conversation.
func (h *Hub) Subscribers(conversationID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[conversationID])
}

// Close stops the broadcast loop.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
		h.unsubscribe()
		h.wg.Wait()
	})
}
