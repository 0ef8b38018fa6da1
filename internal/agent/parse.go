package agent

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/ashureev/persona-chat/internal/domain"
)

// ParseReply validates raw model output.
//
// Only a top-level parse failure is an error. Every individual field is
// treated as untrusted: a missing or malformed responses list becomes empty,
// items without text are dropped, an invalid replyToIndex is cleared, and a
// reaction outside the allowed set is ignored.
func ParseReply(raw string) (*Reply, error) {
	text := stripFences(raw)

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	if obj == nil {
		return nil, fmt.Errorf("%w: not an object", ErrMalformedReply)
	}

	reply := &Reply{Raw: raw}
	if rawReaction, ok := obj["reaction"]; ok {
		var reaction string
		if err := json.Unmarshal(rawReaction, &reaction); err == nil {
			reply.Reaction = canonicalReaction(reaction)
		}
	}

	if rawItems, ok := obj["responses"]; ok {
		var items []json.RawMessage
		if err := json.Unmarshal(rawItems, &items); err == nil {
			for _, rawItem := range items {
				if item, ok := parseItem(rawItem); ok {
					reply.Items = append(reply.Items, item)
				}
			}
		}
	}
	return reply, nil
}

func parseItem(raw json.RawMessage) (ReplyItem, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return ReplyItem{}, false
	}
	var text string
	if err := json.Unmarshal(obj["text"], &text); err != nil || strings.TrimSpace(text) == "" {
		return ReplyItem{}, false
	}

	item := ReplyItem{Text: text}
	if rawIdx, ok := obj["replyToIndex"]; ok {
		var idx *float64
		if err := json.Unmarshal(rawIdx, &idx); err == nil && idx != nil {
			v := *idx
			if v >= 0 && v <= math.MaxInt32 && v == math.Trunc(v) {
				i := int(v)
				item.ReplyToIndex = &i
			}
		}
	}
	return item, true
}

// canonicalReaction returns s only when it is exactly one of the allowed emoji.
func canonicalReaction(s string) string {
	s = strings.TrimSpace(s)
	if !domain.IsPersonaReaction(s) {
		return ""
	}
	return s
}

func stripFences(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
