// Package api provides HTTP handlers for the persona chat API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/persona-chat/internal/agent"
	"github.com/ashureev/persona-chat/internal/chat"
	"github.com/ashureev/persona-chat/internal/domain"
	"github.com/ashureev/persona-chat/internal/store"
)

// maxBodyBytes bounds request bodies; inline images arrive as data URLs.
const maxBodyBytes = 8 << 20

// Chat is the conversation surface the handlers drive.
type Chat interface {
	SelfID() string
	SendUserMessage(ctx context.Context, conversationID, text, imageRef string) (*domain.Message, error)
	ReactToMessage(ctx context.Context, conversationID, messageID, emoji string) (domain.Message, error)
	SetReplyTarget(ctx context.Context, conversationID, messageID string) error
	ClearReplyTarget(conversationID string)
	ReplyTarget(conversationID string) (string, bool)
	UserTyping(conversationID string)
	Busy(conversationID string) bool
	PersonaInstruction() string
	SetPersonaInstruction(instruction string)
}

// TypingState reports who is typing in a conversation.
type TypingState interface {
	TypingState(conversationID string) map[string]bool
}

// Backend reports on the model backend.
type Backend interface {
	Available() bool
	Ping(ctx context.Context) error
}

// Handler serves the REST endpoints.
type Handler struct {
	repo    store.Repository
	chat    Chat
	typing  TypingState
	backend Backend
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, chatSvc Chat, typing TypingState, backend Backend) *Handler {
	return &Handler{
		repo:    repo,
		chat:    chatSvc,
		typing:  typing,
		backend: backend,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decode reads a JSON body into v, writing a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// serviceError maps domain and store sentinels to HTTP statuses.
func serviceError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, store.ErrConversationNotFound):
		Error(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, store.ErrMessageNotFound):
		Error(w, http.StatusNotFound, "message not found")
	case errors.Is(err, store.ErrConversationExists):
		Error(w, http.StatusConflict, "conversation already exists")
	case errors.Is(err, chat.ErrEmptyReaction):
		Error(w, http.StatusBadRequest, "emoji is required")
	case errors.Is(err, domain.ErrEmptyMessage):
		Error(w, http.StatusBadRequest, "message has no text and no image")
	case errors.Is(err, agent.ErrNoGateway):
		Error(w, http.StatusServiceUnavailable, "model backend not configured")
	default:
		slog.Error("Request failed", "op", op, "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}
