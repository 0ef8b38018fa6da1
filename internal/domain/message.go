package domain

import (
	"errors"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrEmptyMessage is returned when a message has neither text nor an image.
var ErrEmptyMessage = errors.New("message has no text and no image")

// DeliveryStatus tracks how far a message has progressed towards its reader.
type DeliveryStatus string

const (
	// StatusSent indicates the message left the sender.
	StatusSent DeliveryStatus = "sent"
	// StatusDelivered indicates the message reached the recipient.
	StatusDelivered DeliveryStatus = "delivered"
	// StatusRead indicates the recipient has seen the message.
	StatusRead DeliveryStatus = "read"
)

// Rank orders statuses so transitions can be checked for monotonicity.
func (s DeliveryStatus) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return 0
	}
}

// ImagePlaceholder is quoted in reply snapshots of image-only messages.
const ImagePlaceholder = "Image"

// ReplyRef is a point-in-time quote of another message.
// It is captured when the reply is composed and never refreshed.
type ReplyRef struct {
	MessageID  string `json:"message_id"`
	Text       string `json:"text"`
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name"`
}

// Message is a single chat message. Only Status and Reactions change after creation.
type Message struct {
	ID        string            `json:"id"`
	SenderID  string            `json:"sender_id"`
	Text      string            `json:"text"`
	Timestamp time.Time         `json:"timestamp"`
	Status    DeliveryStatus    `json:"status"`
	ImageRef  string            `json:"image_ref,omitempty"`
	Reactions map[string]string `json:"reactions,omitempty"`
	ReplyTo   *ReplyRef         `json:"reply_to,omitempty"`
}

// NewMessageID returns a unique, time-ordered message id.
func NewMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return "msg-" + uuid.NewString()
	}
	return "msg-" + id.String()
}

// Validate checks the content invariant: text and image are not both absent.
func (m Message) Validate() error {
	if strings.TrimSpace(m.Text) == "" && m.ImageRef == "" {
		return ErrEmptyMessage
	}
	return nil
}

// Clone returns a deep copy so callers never share reaction maps or reply refs.
func (m Message) Clone() Message {
	out := m
	if m.Reactions != nil {
		out.Reactions = maps.Clone(m.Reactions)
	}
	if m.ReplyTo != nil {
		ref := *m.ReplyTo
		out.ReplyTo = &ref
	}
	return out
}

// Quote builds a reply snapshot of the message as seen right now.
func (m Message) Quote(senderName string) *ReplyRef {
	text := m.Text
	if text == "" {
		text = ImagePlaceholder
	}
	return &ReplyRef{
		MessageID:  m.ID,
		Text:       text,
		SenderID:   m.SenderID,
		SenderName: senderName,
	}
}

// Reaction returns the emoji the sender reacted with, if any.
func (m Message) Reaction(senderID string) (string, bool) {
	emoji, ok := m.Reactions[senderID]
	return emoji, ok
}

// WithReaction sets or overwrites the sender's reaction.
func (m Message) WithReaction(senderID, emoji string) Message {
	out := m.Clone()
	if out.Reactions == nil {
		out.Reactions = make(map[string]string, 1)
	}
	out.Reactions[senderID] = emoji
	return out
}

// ToggleReaction removes the sender's reaction when it equals emoji,
// otherwise sets it. An emptied reaction map is normalized to nil.
func (m Message) ToggleReaction(senderID, emoji string) Message {
	out := m.Clone()
	if current, ok := out.Reactions[senderID]; ok && current == emoji {
		delete(out.Reactions, senderID)
		if len(out.Reactions) == 0 {
			out.Reactions = nil
		}
		return out
	}
	return out.WithReaction(senderID, emoji)
}

// AdvanceStatus moves the status forward. It reports false when next would
// not be a forward transition.
func (m Message) AdvanceStatus(next DeliveryStatus) (Message, bool) {
	if next.Rank() <= m.Status.Rank() {
		return m, false
	}
	out := m.Clone()
	out.Status = next
	return out, true
}

// SameContent reports whether the immutable fields of two versions match.
func (m Message) SameContent(other Message) bool {
	return m.ID == other.ID &&
		m.SenderID == other.SenderID &&
		m.Text == other.Text &&
		m.ImageRef == other.ImageRef &&
		m.Timestamp.Equal(other.Timestamp)
}
