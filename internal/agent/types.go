// Package agent maps chat history to model requests and model output back to
// validated persona replies.
package agent

import (
	"errors"
	"fmt"
	"time"
)

// Role tags a history entry with the side that authored it.
type Role string

const (
	// RoleSelf marks messages written by the human participant.
	RoleSelf Role = "self"
	// RolePersona marks messages written by the persona.
	RolePersona Role = "persona"
)

// HistoryEntry is one message as the model sees it.
type HistoryEntry struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Request is a single generation call.
type Request struct {
	ConversationID    string         `json:"-"`
	History           []HistoryEntry `json:"history"`
	SystemInstruction string         `json:"system_instruction"`
}

// ReplyItem is one message the persona wants to send.
type ReplyItem struct {
	Text string
	// ReplyToIndex points into Request.History when set.
	ReplyToIndex *int
}

// Reply is the validated model output for one turn.
type Reply struct {
	// Reaction is empty unless the model picked an allowed emoji.
	Reaction string
	Items    []ReplyItem
	// Raw is the untouched model output.
	Raw string
}

var (
	// ErrNoGateway is returned when no model backend is configured.
	ErrNoGateway = errors.New("no model gateway configured")
	// ErrMalformedReply is returned when the model output is not a JSON object.
	ErrMalformedReply = errors.New("malformed model reply")
)

// GatewayError wraps failures talking to a model backend.
type GatewayError struct {
	Provider string
	Op       string
	Err      error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s gateway %s: %v", e.Provider, e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// Config holds agent configuration.
type Config struct {
	Provider string
	Model    string
	APIKey   string
	GRPCAddr string
	Timeout  time.Duration
}

// DefaultConfig returns default agent configuration.
func DefaultConfig() Config {
	return Config{
		Provider: "gemini",
		Model:    "gemini-2.5-flash",
		Timeout:  30 * time.Second,
	}
}
