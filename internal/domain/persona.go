package domain

import "slices"

// Allowed reactions the persona may attach. Human participants are not restricted.
const (
	ReactionHeart    = "❤️"
	ReactionThumbsUp = "👍"
	ReactionLaughing = "😂"
	ReactionSurprise = "😮"
	ReactionCrying   = "😢"
	ReactionPraying  = "🙏"
)

// PersonaReactions is the fixed set of emoji the persona may react with.
var PersonaReactions = []string{
	ReactionHeart,
	ReactionThumbsUp,
	ReactionLaughing,
	ReactionSurprise,
	ReactionCrying,
	ReactionPraying,
}

// IsPersonaReaction reports whether emoji belongs to the allowed set.
func IsPersonaReaction(emoji string) bool {
	return slices.Contains(PersonaReactions, emoji)
}

// PersonaConfig is the configuration read when a model turn starts.
type PersonaConfig struct {
	SelfID      string
	Instruction string
}
