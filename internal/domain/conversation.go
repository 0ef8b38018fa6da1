package domain

// Conversation holds the participants and the ordered message history.
type Conversation struct {
	ID           string        `json:"id"`
	Participants []Participant `json:"participants"`
	Messages     []Message     `json:"messages"`
	UnreadCount  int           `json:"unread_count"`
}

// Clone returns a deep copy of the conversation.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := &Conversation{
		ID:           c.ID,
		Participants: append([]Participant(nil), c.Participants...),
		Messages:     make([]Message, len(c.Messages)),
		UnreadCount:  c.UnreadCount,
	}
	for i, m := range c.Messages {
		out.Messages[i] = m.Clone()
	}
	return out
}

// Persona returns the model-driven participant.
func (c *Conversation) Persona() (Participant, bool) {
	for _, p := range c.Participants {
		if p.IsPersona() {
			return p, true
		}
	}
	return Participant{}, false
}

// Participant looks up a participant by id.
func (c *Conversation) Participant(id string) (Participant, bool) {
	for _, p := range c.Participants {
		if p.ID == id {
			return p, true
		}
	}
	return Participant{}, false
}

// LastMessage returns the most recent message.
func (c *Conversation) LastMessage() (Message, bool) {
	if len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}

// LastMessageFrom returns the most recent message sent by senderID.
func (c *Conversation) LastMessageFrom(senderID string) (Message, bool) {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].SenderID == senderID {
			return c.Messages[i], true
		}
	}
	return Message{}, false
}

// Message looks up a message by id.
func (c *Conversation) Message(id string) (Message, bool) {
	for _, m := range c.Messages {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}

// SenderName resolves a display name for a sender id.
func (c *Conversation) SenderName(senderID string) string {
	if p, ok := c.Participant(senderID); ok {
		return p.Name
	}
	return senderID
}
