package api

import (
	"net/http"
	"strings"

	"github.com/ashureev/persona-chat/internal/agent"
)

type personaRequest struct {
	Instruction string `json:"instruction"`
}

// GetPersona returns the active persona instruction.
func (h *Handler) GetPersona(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"instruction": h.chat.PersonaInstruction(),
		"available":   h.backend != nil && h.backend.Available(),
	})
}

// UpdatePersona replaces the persona instruction for later turns.
func (h *Handler) UpdatePersona(w http.ResponseWriter, r *http.Request) {
	var req personaRequest
	if !decode(w, r, &req) {
		return
	}
	instruction := strings.TrimSpace(req.Instruction)
	if instruction == "" {
		Error(w, http.StatusBadRequest, "instruction is required")
		return
	}
	h.chat.SetPersonaInstruction(instruction)
	JSON(w, http.StatusOK, map[string]string{"instruction": instruction})
}

// ResponseSchema serves the structured output schema sent to the model.
func (h *Handler) ResponseSchema(w http.ResponseWriter, _ *http.Request) {
	data, err := agent.SchemaJSON()
	if err != nil {
		serviceError(w, err, "response_schema")
		return
	}
	w.Header().Set("Content-Type", "application/schema+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
