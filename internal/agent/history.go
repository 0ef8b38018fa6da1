package agent

import (
	"fmt"

	"github.com/ashureev/persona-chat/internal/domain"
)

// imageOnlyText stands in for messages that carry only an image.
const imageOnlyText = "[image]"

// BuildHistory maps the entire conversation to model history, one entry per
// message and in the same order, so indexes in the reply refer back to
// conv.Messages.
func BuildHistory(conv *domain.Conversation) []HistoryEntry {
	history := make([]HistoryEntry, 0, len(conv.Messages))
	for _, msg := range conv.Messages {
		role := RoleSelf
		if isPersona(conv, msg.SenderID) {
			role = RolePersona
		}
		history = append(history, HistoryEntry{Role: role, Text: contextualText(conv, msg)})
	}
	return history
}

// isPersona falls back to the id prefix for senders missing from the
// participant list.
func isPersona(conv *domain.Conversation, senderID string) bool {
	if sender, ok := conv.Participant(senderID); ok {
		return sender.IsPersona()
	}
	return domain.Participant{ID: senderID}.IsPersona()
}

// contextualText inlines reply-threading context in front of the message body.
// The model is the persona, so a quoted persona message is "my" and a quoted
// user message is "your", whoever wrote the reply.
func contextualText(conv *domain.Conversation, msg domain.Message) string {
	text := msg.Text
	if text == "" && msg.ImageRef != "" {
		text = imageOnlyText
	}
	if msg.ReplyTo == nil {
		return text
	}
	whose := "your"
	if isPersona(conv, msg.ReplyTo.SenderID) {
		whose = "my"
	}
	return fmt.Sprintf("[In reply to %s message: %q] %s", whose, msg.ReplyTo.Text, text)
}
