// Package store provides conversation persistence interfaces and implementations.
package store

import (
	"context"
	"errors"

	"github.com/ashureev/persona-chat/internal/domain"
)

var (
	// ErrConversationNotFound is returned when no conversation has the requested id.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrMessageNotFound is returned when no message has the requested id.
	ErrMessageNotFound = errors.New("message not found")
	// ErrConversationExists is returned when creating a conversation twice.
	ErrConversationExists = errors.New("conversation already exists")
	// ErrImmutableField is returned when an update touches text, sender, image or timestamp.
	ErrImmutableField = errors.New("message content is immutable")
)

// MutateFunc receives a private copy of a message and returns the new version.
// Returning false leaves the stored message untouched.
type MutateFunc func(msg domain.Message) (domain.Message, bool)

// Repository defines the interface for the conversation store.
// Reads return deep copies; writes replace whole values so concurrent readers
// never observe a partially updated message.
type Repository interface {
	// CreateConversation stores a new conversation with its initial messages.
	CreateConversation(ctx context.Context, conv *domain.Conversation) error

	// GetConversation returns a snapshot of a conversation.
	GetConversation(ctx context.Context, id string) (*domain.Conversation, error)

	// ListConversations returns snapshots of every conversation in creation order.
	ListConversations(ctx context.Context) ([]*domain.Conversation, error)

	// AppendMessage adds a message at the end of a conversation.
	AppendMessage(ctx context.Context, conversationID string, msg domain.Message) error

	// MutateMessage applies fn to a message as one read-modify-write step.
	// Only Status and Reactions may change.
	MutateMessage(ctx context.Context, conversationID, messageID string, fn MutateFunc) (domain.Message, bool, error)

	// Ping verifies the backing storage is reachable.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// checkMutation enforces the content immutability invariant.
func checkMutation(before, after domain.Message) error {
	if !before.SameContent(after) {
		return ErrImmutableField
	}
	if (after.ReplyTo == nil) != (before.ReplyTo == nil) {
		return ErrImmutableField
	}
	if after.ReplyTo != nil && *after.ReplyTo != *before.ReplyTo {
		return ErrImmutableField
	}
	return nil
}

func normalize(msg domain.Message) domain.Message {
	if len(msg.Reactions) == 0 {
		msg.Reactions = nil
	}
	return msg
}
