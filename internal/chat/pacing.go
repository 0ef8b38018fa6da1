package chat

import (
	"time"
	"unicode/utf16"

	"github.com/ashureev/persona-chat/internal/pacing"
)

// Pacing holds every delay used to make the persona feel human.
type Pacing struct {
	// Debounce is how long the user must stay quiet before the persona answers.
	Debounce time.Duration
	// UserTypingIdle clears the user's typing flag after this much silence.
	UserTypingIdle time.Duration

	Think    pacing.Range
	Compose  pacing.Range
	Reaction pacing.Range

	TypingBase    time.Duration
	TypingPerChar pacing.Range
	TypingMax     time.Duration

	Delivered pacing.Range
	// Read is added on top of the delivered delay.
	Read pacing.Range
}

// DefaultPacing returns the stock timings.
func DefaultPacing() Pacing {
	return Pacing{
		Debounce:       3500 * time.Millisecond,
		UserTypingIdle: 1500 * time.Millisecond,
		Think:          pacing.Range{Min: 1000 * time.Millisecond, Max: 2500 * time.Millisecond},
		Compose:        pacing.Range{Min: 600 * time.Millisecond, Max: 2400 * time.Millisecond},
		Reaction:       pacing.Range{Min: 500 * time.Millisecond, Max: 2000 * time.Millisecond},
		TypingBase:     500 * time.Millisecond,
		TypingPerChar:  pacing.Range{Min: 30 * time.Millisecond, Max: 50 * time.Millisecond},
		TypingMax:      3500 * time.Millisecond,
		Delivered:      pacing.Range{Min: 200 * time.Millisecond, Max: 700 * time.Millisecond},
		Read:           pacing.Range{Min: 1200 * time.Millisecond, Max: 3700 * time.Millisecond},
	}
}

// TypingDelay is the pause before a follow-up message of the given text.
// Length is counted in UTF-16 code units, the way browsers measure text, so
// an emoji outside the BMP counts twice.
func (p Pacing) TypingDelay(text string, j pacing.Jitter) time.Duration {
	perChar := j.Pick(p.TypingPerChar)
	d := p.TypingBase + time.Duration(utf16Len(text))*perChar
	if p.TypingMax > 0 && d > p.TypingMax {
		return p.TypingMax
	}
	return d
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}
