// Package domain contains core domain types for the persona chat.
package domain

import "strings"

// PersonaIDPrefix marks participants whose turns are generated by the model.
const PersonaIDPrefix = "ai-"

// Participant represents one side of a conversation.
type Participant struct {
	ID     string `json:"id" yaml:"id"`
	Name   string `json:"name" yaml:"name"`
	Online bool   `json:"online" yaml:"online"`
}

// IsPersona returns true if the participant is driven by the model.
func (p Participant) IsPersona() bool {
	return strings.HasPrefix(p.ID, PersonaIDPrefix)
}
