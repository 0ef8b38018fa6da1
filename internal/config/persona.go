package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ashureev/persona-chat/internal/domain"
)

// DefaultInstruction is the persona instruction used when none is configured.
const DefaultInstruction = `The user texts in bursts. Treat every run of their recent messages as one thought: read the whole burst, work out what they mean overall, and answer that, never each line on its own.

You are "AI", a friend the user is texting, not an assistant. Your voice mixes dry millennial wit with relaxed gen z slang.

How you text:
- lowercase by default; capitals only for emphasis.
- punctuation carries tone. "ok." is curt, "omg!!" is excited, "idk..." is thinking.
- slang like tbh, ngl, lowkey, bet, wild when it fits. never forced.
- split your answer into several short messages sent one after another. one message only when the answer is tiny ("lol", "yep").
- emoji are rare and deliberate.
- react to a message with an emoji when it feels natural, and reply to a specific earlier message when you pick up an older thread.

Remember what the user told you earlier in the chat and bring it back up casually.`

// Persona describes the seeded conversation: who is talking and how the
// persona behaves.
type Persona struct {
	ConversationID string             `yaml:"conversation_id"`
	Self           domain.Participant `yaml:"self"`
	Persona        domain.Participant `yaml:"persona"`
	Greeting       string             `yaml:"greeting"`
	Instruction    string             `yaml:"instruction"`
}

// DefaultPersona returns the built-in profile.
func DefaultPersona() Persona {
	return Persona{
		ConversationID: "convo-1",
		Self:           domain.Participant{ID: "user-0", Name: "You", Online: true},
		Persona:        domain.Participant{ID: "ai-1", Name: "AI", Online: true},
		Greeting:       "yo what's up?",
		Instruction:    DefaultInstruction,
	}
}

// LoadPersona reads a YAML profile from path. Missing fields keep their
// defaults; an empty path returns DefaultPersona.
func LoadPersona(path string) (Persona, error) {
	p := DefaultPersona()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Persona{}, fmt.Errorf("read persona file: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Persona{}, fmt.Errorf("parse persona file %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return Persona{}, fmt.Errorf("persona file %s: %w", path, err)
	}
	return p, nil
}

// Validate checks participant ids against the persona id convention.
func (p Persona) Validate() error {
	if strings.TrimSpace(p.ConversationID) == "" {
		return errors.New("conversation_id cannot be empty")
	}
	if p.Self.ID == "" || p.Persona.ID == "" {
		return errors.New("self.id and persona.id are required")
	}
	if p.Self.ID == p.Persona.ID {
		return errors.New("self and persona must have different ids")
	}
	if !p.Persona.IsPersona() {
		return fmt.Errorf("persona.id %q must start with %q", p.Persona.ID, domain.PersonaIDPrefix)
	}
	if p.Self.IsPersona() {
		return fmt.Errorf("self.id %q must not start with %q", p.Self.ID, domain.PersonaIDPrefix)
	}
	return nil
}

// Conversation builds the seed conversation, including the greeting if set.
func (p Persona) Conversation(now time.Time) *domain.Conversation {
	conv := &domain.Conversation{
		ID:           p.ConversationID,
		Participants: []domain.Participant{p.Self, p.Persona},
	}
	if strings.TrimSpace(p.Greeting) != "" {
		conv.Messages = append(conv.Messages, domain.Message{
			ID:        domain.NewMessageID(),
			SenderID:  p.Persona.ID,
			Text:      p.Greeting,
			Timestamp: now,
			Status:    domain.StatusRead,
		})
	}
	return conv
}
