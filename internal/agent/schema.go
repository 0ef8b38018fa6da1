package agent

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	"google.golang.org/genai"

	"github.com/ashureev/persona-chat/internal/domain"
)

// replyDocument mirrors the JSON object the model is asked to produce.
type replyDocument struct {
	Reaction  string              `json:"reaction,omitempty"`
	Responses []replyItemDocument `json:"responses" jsonschema_description:"Messages to send in order. Usually several short messages in quick succession (2 to 7); a single message only when the answer is very short. Any of them may reply to an earlier message."`
}

type replyItemDocument struct {
	Text         string `json:"text" jsonschema_description:"The text content of this part of the reply."`
	ReplyToIndex *int   `json:"replyToIndex,omitempty" jsonschema_description:"Optional zero-based index into the chat history of the message this part replies to. Only messages sent by the user may be replied to."`
}

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
)

// ResponseSchema returns the JSON Schema every model backend must follow.
func ResponseSchema() *jsonschema.Schema {
	schemaOnce.Do(func() {
		r := &jsonschema.Reflector{
			DoNotReference: true,
			ExpandedStruct: true,
		}
		s := r.Reflect(&replyDocument{})
		s.Version = ""
		s.ID = ""
		s.Title = "PersonaReply"

		if reaction, ok := s.Properties.Get("reaction"); ok {
			reaction.Description = fmt.Sprintf(
				"An optional single emoji to react to the user's last message with. Choose from: %s. Only use it if it feels natural.",
				strings.Join(domain.PersonaReactions, ", "))
			reaction.Enum = make([]any, 0, len(domain.PersonaReactions))
			for _, emoji := range domain.PersonaReactions {
				reaction.Enum = append(reaction.Enum, emoji)
			}
		}
		schema = s
	})
	return schema
}

// SchemaJSON renders ResponseSchema as JSON.
func SchemaJSON() ([]byte, error) {
	data, err := json.Marshal(ResponseSchema())
	if err != nil {
		return nil, fmt.Errorf("marshal response schema: %w", err)
	}
	return data, nil
}

// schemaMap renders ResponseSchema as a generic map for transports that carry JSON values.
func schemaMap() (map[string]any, error) {
	data, err := SchemaJSON()
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode response schema: %w", err)
	}
	return out, nil
}

// genaiSchema converts a JSON Schema node into the Gemini schema dialect.
func genaiSchema(s *jsonschema.Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        genai.Type(strings.ToUpper(s.Type)),
		Description: s.Description,
	}
	if len(s.Required) > 0 {
		out.Required = append([]string(nil), s.Required...)
	}
	for _, v := range s.Enum {
		if str, ok := v.(string); ok {
			out.Enum = append(out.Enum, str)
		}
	}
	if s.Items != nil {
		out.Items = genaiSchema(s.Items)
	}
	if s.Properties != nil && s.Properties.Len() > 0 {
		out.Properties = make(map[string]*genai.Schema, s.Properties.Len())
		for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
			out.Properties[pair.Key] = genaiSchema(pair.Value)
		}
	}
	return out
}
