// Package chat runs the persona's turns: it debounces bursts of user
// messages, paces the persona's replies like a person typing, and applies
// the human-side actions (send, react, reply target, typing).
package chat

// Surface receives transient presentation state that is not stored with the
// conversation.
type Surface interface {
	SetTyping(conversationID, participantID string, typing bool)
}

// SurfaceFunc adapts a function to the Surface interface.
type SurfaceFunc func(conversationID, participantID string, typing bool)

// SetTyping calls f.
func (f SurfaceFunc) SetTyping(conversationID, participantID string, typing bool) {
	f(conversationID, participantID, typing)
}

type nopSurface struct{}

func (nopSurface) SetTyping(string, string, bool) {}
