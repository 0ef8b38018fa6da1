package store

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ashureev/persona-chat/internal/domain"
)

// EventType categorizes store change notifications.
type EventType string

const (
	// EventConversationCreated is published after CreateConversation.
	EventConversationCreated EventType = "conversation.created"
	// EventMessageAppended is published after AppendMessage.
	EventMessageAppended EventType = "message.appended"
	// EventMessageUpdated is published after a successful MutateMessage.
	EventMessageUpdated EventType = "message.updated"
)

// Event describes one committed mutation.
type Event struct {
	Type           EventType       `json:"type"`
	ConversationID string          `json:"conversation_id"`
	Message        *domain.Message `json:"message,omitempty"`
}

// Broadcaster fans events out to subscribers without blocking writers.
type Broadcaster struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Event
	logger *slog.Logger
}

// NewBroadcaster creates a broadcaster.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{subs: make(map[int]chan Event), logger: logger}
}

// Subscribe registers a listener. The returned func unsubscribes and closes the channel.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers ev to every subscriber, dropping it for subscribers that are full.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("store event dropped for slow subscriber", "subscriber", id, "type", ev.Type, "conversation_id", ev.ConversationID)
		}
	}
}

// Observed decorates a Repository and publishes an Event after every committed write.
type Observed struct {
	Repository
	events *Broadcaster
}

// NewObserved wraps repo so mutations are broadcast.
func NewObserved(repo Repository, events *Broadcaster) *Observed {
	return &Observed{Repository: repo, events: events}
}

// Events returns the broadcaster used for notifications.
func (o *Observed) Events() *Broadcaster {
	return o.events
}

// CreateConversation stores conv and publishes EventConversationCreated.
func (o *Observed) CreateConversation(ctx context.Context, conv *domain.Conversation) error {
	if err := o.Repository.CreateConversation(ctx, conv); err != nil {
		return err
	}
	o.events.Publish(Event{Type: EventConversationCreated, ConversationID: conv.ID})
	return nil
}

// AppendMessage appends msg and publishes EventMessageAppended.
func (o *Observed) AppendMessage(ctx context.Context, conversationID string, msg domain.Message) error {
	if err := o.Repository.AppendMessage(ctx, conversationID, msg); err != nil {
		return err
	}
	published := msg.Clone()
	o.events.Publish(Event{Type: EventMessageAppended, ConversationID: conversationID, Message: &published})
	return nil
}

// MutateMessage applies fn and publishes EventMessageUpdated when something changed.
func (o *Observed) MutateMessage(ctx context.Context, conversationID, messageID string, fn MutateFunc) (domain.Message, bool, error) {
	msg, changed, err := o.Repository.MutateMessage(ctx, conversationID, messageID, fn)
	if err != nil || !changed {
		return msg, changed, err
	}
	published := msg.Clone()
	o.events.Publish(Event{Type: EventMessageUpdated, ConversationID: conversationID, Message: &published})
	return msg, changed, nil
}
