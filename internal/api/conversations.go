package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/persona-chat/internal/domain"
)

// ConversationView is a conversation snapshot with its live state.
type ConversationView struct {
	*domain.Conversation
	SelfID      string          `json:"self_id"`
	Typing      map[string]bool `json:"typing"`
	ReplyTarget string          `json:"reply_target,omitempty"`
	Busy        bool            `json:"busy"`
}

type sendRequest struct {
	Text  string `json:"text"`
	Image string `json:"image"`
}

type reactionRequest struct {
	Emoji string `json:"emoji"`
}

type replyTargetRequest struct {
	MessageID string `json:"message_id"`
}

func (h *Handler) view(conv *domain.Conversation) ConversationView {
	v := ConversationView{
		Conversation: conv,
		SelfID:       h.chat.SelfID(),
		Typing:       map[string]bool{},
		Busy:         h.chat.Busy(conv.ID),
	}
	if h.typing != nil {
		v.Typing = h.typing.TypingState(conv.ID)
	}
	if target, ok := h.chat.ReplyTarget(conv.ID); ok {
		v.ReplyTarget = target
	}
	return v
}

// ListConversations returns every conversation.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := h.repo.ListConversations(r.Context())
	if err != nil {
		serviceError(w, err, "list_conversations")
		return
	}
	views := make([]ConversationView, 0, len(convs))
	for _, conv := range convs {
		views = append(views, h.view(conv))
	}
	JSON(w, http.StatusOK, views)
}

// GetConversation returns one conversation snapshot.
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := h.repo.GetConversation(r.Context(), chi.URLParam(r, "conversationID"))
	if err != nil {
		serviceError(w, err, "get_conversation")
		return
	}
	JSON(w, http.StatusOK, h.view(conv))
}

// SendMessage appends a message from the human. An empty send is a no-op.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !decode(w, r, &req) {
		return
	}
	msg, err := h.chat.SendUserMessage(r.Context(), chi.URLParam(r, "conversationID"), req.Text, req.Image)
	if err != nil {
		serviceError(w, err, "send_message")
		return
	}
	if msg == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	JSON(w, http.StatusCreated, msg)
}

// ToggleReaction toggles the human's reaction on a message.
func (h *Handler) ToggleReaction(w http.ResponseWriter, r *http.Request) {
	var req reactionRequest
	if !decode(w, r, &req) {
		return
	}
	msg, err := h.chat.ReactToMessage(r.Context(),
		chi.URLParam(r, "conversationID"),
		chi.URLParam(r, "messageID"),
		req.Emoji,
	)
	if err != nil {
		serviceError(w, err, "toggle_reaction")
		return
	}
	JSON(w, http.StatusOK, msg)
}

// SetReplyTarget selects the message the next send will quote.
func (h *Handler) SetReplyTarget(w http.ResponseWriter, r *http.Request) {
	var req replyTargetRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.MessageID) == "" {
		Error(w, http.StatusBadRequest, "message_id is required")
		return
	}
	conversationID := chi.URLParam(r, "conversationID")
	if err := h.chat.SetReplyTarget(r.Context(), conversationID, req.MessageID); err != nil {
		serviceError(w, err, "set_reply_target")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"reply_target": req.MessageID})
}

// ClearReplyTarget drops the pending reply selection.
func (h *Handler) ClearReplyTarget(w http.ResponseWriter, r *http.Request) {
	h.chat.ClearReplyTarget(chi.URLParam(r, "conversationID"))
	w.WriteHeader(http.StatusNoContent)
}

// Typing records a keystroke from the human.
func (h *Handler) Typing(w http.ResponseWriter, r *http.Request) {
	conv, err := h.repo.GetConversation(r.Context(), chi.URLParam(r, "conversationID"))
	if err != nil {
		serviceError(w, err, "typing")
		return
	}
	h.chat.UserTyping(conv.ID)
	w.WriteHeader(http.StatusNoContent)
}
