package chat

import (
	"sync"

	"github.com/ashureev/persona-chat/internal/domain"
)

// Settings holds the process-wide persona instruction.
type Settings struct {
	mu          sync.RWMutex
	selfID      string
	instruction string
}

// NewSettings creates settings for the given self participant.
func NewSettings(selfID, instruction string) *Settings {
	return &Settings{selfID: selfID, instruction: instruction}
}

// Instruction returns the current persona instruction.
func (s *Settings) Instruction() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.instruction
}

// SetInstruction replaces the persona instruction. Turns already composing
// keep the value they started with.
func (s *Settings) SetInstruction(instruction string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instruction = instruction
}

// Snapshot captures the configuration a turn runs with.
func (s *Settings) Snapshot() domain.PersonaConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.PersonaConfig{
		SelfID:      s.selfID,
		Instruction: s.instruction,
	}
}
