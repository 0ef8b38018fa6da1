package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/ashureev/persona-chat/internal/domain"
)

// MemoryStore implements Repository in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	convs map[string]*domain.Conversation
	order []string
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryStore {
	return &MemoryStore{convs: make(map[string]*domain.Conversation)}
}

// CreateConversation stores a new conversation.
func (s *MemoryStore) CreateConversation(_ context.Context, conv *domain.Conversation) error {
	if conv == nil || conv.ID == "" {
		return fmt.Errorf("create conversation: missing id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[conv.ID]; ok {
		return ErrConversationExists
	}
	stored := conv.Clone()
	for i := range stored.Messages {
		stored.Messages[i] = normalize(stored.Messages[i])
	}
	s.convs[conv.ID] = stored
	s.order = append(s.order, conv.ID)
	return nil
}

// GetConversation returns a snapshot of a conversation.
func (s *MemoryStore) GetConversation(_ context.Context, id string) (*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.convs[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	return conv.Clone(), nil
}

// ListConversations returns snapshots in creation order.
func (s *MemoryStore) ListConversations(_ context.Context) ([]*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Conversation, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.convs[id].Clone())
	}
	return out, nil
}

// AppendMessage adds msg to the end of the conversation.
func (s *MemoryStore) AppendMessage(_ context.Context, conversationID string, msg domain.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[conversationID]
	if !ok {
		return ErrConversationNotFound
	}
	// Copy-on-write: build a new slice so snapshots handed out earlier stay intact.
	next := *conv
	next.Messages = make([]domain.Message, len(conv.Messages), len(conv.Messages)+1)
	copy(next.Messages, conv.Messages)
	next.Messages = append(next.Messages, normalize(msg.Clone()))
	s.convs[conversationID] = &next
	return nil
}

// MutateMessage applies fn to a single message.
func (s *MemoryStore) MutateMessage(_ context.Context, conversationID, messageID string, fn MutateFunc) (domain.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[conversationID]
	if !ok {
		return domain.Message{}, false, ErrConversationNotFound
	}
	idx := -1
	for i := range conv.Messages {
		if conv.Messages[i].ID == messageID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return domain.Message{}, false, ErrMessageNotFound
	}

	before := conv.Messages[idx]
	after, changed := fn(before.Clone())
	if !changed {
		return before.Clone(), false, nil
	}
	if err := checkMutation(before, after); err != nil {
		return domain.Message{}, false, err
	}
	after = normalize(after.Clone())

	next := *conv
	next.Messages = make([]domain.Message, len(conv.Messages))
	copy(next.Messages, conv.Messages)
	next.Messages[idx] = after
	s.convs[conversationID] = &next
	return after.Clone(), true, nil
}

// Ping always succeeds for the in-memory store.
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
