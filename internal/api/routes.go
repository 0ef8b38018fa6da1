package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RouteOptions carries the handlers mounted alongside the REST endpoints.
type RouteOptions struct {
	// SendLimit wraps the send route; nil means unlimited.
	SendLimit func(http.Handler) http.Handler
	// Events serves the per-conversation event stream when set.
	Events http.HandlerFunc
}

// RegisterRoutes mounts the REST endpoints.
func (h *Handler) RegisterRoutes(r chi.Router, opts RouteOptions) {
	sendLimit := opts.SendLimit
	if sendLimit == nil {
		sendLimit = func(next http.Handler) http.Handler { return next }
	}

	r.Get("/api/health", h.Health)

	r.Route("/api/conversations", func(r chi.Router) {
		r.Get("/", h.ListConversations)
		r.Route("/{conversationID}", func(r chi.Router) {
			r.Get("/", h.GetConversation)
			if opts.Events != nil {
				r.Get("/events", opts.Events)
			}
			r.With(sendLimit).Post("/messages", h.SendMessage)
			r.Post("/messages/{messageID}/reactions", h.ToggleReaction)
			r.Put("/reply-target", h.SetReplyTarget)
			r.Delete("/reply-target", h.ClearReplyTarget)
			r.Post("/typing", h.Typing)
		})
	})

	r.Route("/api/persona", func(r chi.Router) {
		r.Get("/", h.GetPersona)
		r.Put("/", h.UpdatePersona)
		r.Get("/schema", h.ResponseSchema)
	})
}
