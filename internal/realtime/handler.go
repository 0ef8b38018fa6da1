package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"github.com/ashureev/persona-chat/internal/domain"
	"github.com/ashureev/persona-chat/internal/identity"
	"github.com/ashureev/persona-chat/internal/store"
)

const writeTimeout = 5 * time.Second

// Inputs receives client-originated signals.
type Inputs interface {
	UserTyping(conversationID string)
}

// Options tunes the stream handlers.
type Options struct {
	AllowedOrigin     string
	IsDev             bool
	RetryDelay        time.Duration
	KeepaliveInterval time.Duration
}

// Handler serves the WebSocket and SSE endpoints for a conversation.
type Handler struct {
	repo    store.Repository
	hub     *Hub
	sm      *SessionManager
	inputs  Inputs
	opts    Options
	clients atomic.Int64
}

// NewHandler creates a realtime handler.
func NewHandler(repo store.Repository, hub *Hub, sm *SessionManager, inputs Inputs, opts Options) *Handler {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 5 * time.Second
	}
	if opts.KeepaliveInterval <= 0 {
		opts.KeepaliveInterval = 15 * time.Second
	}
	return &Handler{
		repo:   repo,
		hub:    hub,
		sm:     sm,
		inputs: inputs,
		opts:   opts,
	}
}

// RegisterRoutes mounts the WebSocket endpoint. ServeSSE lives under the
// REST conversation routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/conversations/{conversationID}", h.ServeWebSocket)
}

// wsMessage is a client-to-server frame.
type wsMessage struct {
	Type string `json:"type"`
}

func (h *Handler) conversation(w http.ResponseWriter, r *http.Request) (*domain.Conversation, bool) {
	id := chi.URLParam(r, "conversationID")
	conv, err := h.repo.GetConversation(r.Context(), id)
	if errors.Is(err, store.ErrConversationNotFound) {
		http.Error(w, `{"error": "conversation not found"}`, http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		http.Error(w, `{"error": "failed to load conversation"}`, http.StatusInternalServerError)
		return nil, false
	}
	return conv, true
}

// ServeWebSocket streams a snapshot followed by live events, and accepts
// typing signals from the client.
func (h *Handler) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.conversation(w, r)
	if !ok {
		return
	}
	clientID := r.URL.Query().Get("client")
	if clientID == "" {
		clientID = identity.ClientID(r.Context())
	}
	if clientID == "" {
		clientID = "anon-" + strconv.FormatInt(h.clients.Add(1), 10)
	}
	log := slog.With("conversation_id", conv.ID, "client_id", clientID)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Error("Failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			log.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	h.sm.Register(conv.ID, clientID, ws)
	defer h.sm.Unregister(conv.ID, clientID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	_, events, unsubscribe := h.hub.Subscribe(conv.ID, 0, 64)
	defer unsubscribe()

	// Reload after subscribing so nothing falls between snapshot and stream.
	// Clients upsert by message id, so an event repeated in both is harmless.
	if fresh, err := h.repo.GetConversation(ctx, conv.ID); err == nil {
		conv = fresh
	}
	snapshot := Event{
		ID:             h.hub.LastEventID(),
		Type:           EventSnapshot,
		ConversationID: conv.ID,
		Conversation:   conv,
		TypingState:    h.hub.TypingState(conv.ID),
	}
	if err := h.writeJSON(ctx, ws, snapshot); err != nil {
		log.Debug("Failed to send snapshot", "error", err)
		return
	}

	go func() {
		defer cancel()
		h.inputLoop(ctx, ws, conv.ID, log)
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug("WebSocket stream finished")
			return
		case ev := <-events:
			if err := h.writeJSON(ctx, ws, ev); err != nil {
				log.Debug("WebSocket write failed", "error", err)
				return
			}
		}
	}
}

func (h *Handler) inputLoop(ctx context.Context, ws *websocket.Conn, conversationID string, log *slog.Logger) {
	for {
		var msg wsMessage
		if err := wsjson.Read(ctx, ws, &msg); err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				log.Debug("WebSocket closed by client")
			} else {
				log.Warn("WebSocket read error", "error", err)
			}
			return
		}
		switch msg.Type {
		case "typing":
			if h.inputs != nil {
				h.inputs.UserTyping(conversationID)
			}
		case "ping":
		default:
			log.Debug("Ignoring unknown websocket message", "type", msg.Type)
		}
	}
}

func (h *Handler) writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, ws, v)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.opts.IsDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.opts.AllowedOrigin == "*" {
		return true
	}
	if origin == h.opts.AllowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.opts.AllowedOrigin)
	return false
}

// ServeSSE streams events as Server-Sent Events with Last-Event-ID replay.
func (h *Handler) ServeSSE(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.conversation(w, r)
	if !ok {
		return
	}
	log := slog.With("conversation_id", conv.ID)

	// Parse Last-Event-ID header or query param for replay
	lastEventID := int64(0)
	idHeader := r.Header.Get("Last-Event-ID")
	if idHeader == "" {
		idHeader = r.URL.Query().Get("lastEventId")
	}
	if idHeader != "" {
		if parsed, err := strconv.ParseInt(idHeader, 10, 64); err == nil {
			lastEventID = parsed
			log.Info("SSE client reconnecting with Last-Event-ID", "last_event_id", lastEventID)
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error": "streaming not supported"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if _, err := io.WriteString(w, fmt.Sprintf("retry: %d\n\n", h.opts.RetryDelay.Milliseconds())); err != nil {
		log.Warn("failed to write SSE retry header", "error", err)
		return
	}

	missed, events, unsubscribe := h.hub.Subscribe(conv.ID, lastEventID, 64)
	defer unsubscribe()

	connected := Event{
		ID:             h.hub.LastEventID(),
		Type:           EventConnected,
		ConversationID: conv.ID,
		TypingState:    h.hub.TypingState(conv.ID),
	}
	if lastEventID == 0 {
		if fresh, err := h.repo.GetConversation(r.Context(), conv.ID); err == nil {
			conv = fresh
		}
		connected.Type = EventSnapshot
		connected.Conversation = conv
	}
	if err := writeSSE(w, connected, false); err != nil {
		log.Warn("failed to write SSE connected event", "error", err)
		return
	}
	if len(missed) > 0 {
		log.Info("Sending missed events", "count", len(missed))
	}
	for _, ev := range missed {
		if err := writeSSE(w, ev, true); err != nil {
			return
		}
	}
	flusher.Flush()

	keepalive := time.NewTicker(h.opts.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			log.Debug("SSE stream disconnected")
			return
		case ev := <-events:
			if err := writeSSE(w, ev, true); err != nil {
				log.Warn("failed to write SSE event", "error", err)
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if _, err := io.WriteString(w, "event: ping\ndata: {\"status\":\"alive\"}\n\n"); err != nil {
				log.Warn("failed to write SSE keepalive ping", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w io.Writer, ev Event, withID bool) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if withID {
		_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, data)
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
