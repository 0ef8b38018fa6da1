package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Turn outcomes.
const (
	OutcomeReplied      = "replied"
	OutcomeReactionOnly = "reaction_only"
	OutcomeSilent       = "silent"
	OutcomeFallback     = "fallback"
	OutcomeAborted      = "aborted"
	OutcomeCancelled    = "cancelled"
)

// Metrics exposes chat counters to Prometheus.
type Metrics struct {
	Triggers       *prometheus.CounterVec
	Turns          *prometheus.CounterVec
	GatewayLatency prometheus.Histogram
	Messages       *prometheus.CounterVec
	Reactions      *prometheus.CounterVec
}

// NewMetrics registers the chat metrics on reg. A nil reg creates
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Triggers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "persona_chat",
			Name:      "turn_triggers_total",
			Help:      "Debounce expiries by how they were handled (started, queued, coalesced).",
		}, []string{"result"}),
		Turns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "persona_chat",
			Name:      "turns_total",
			Help:      "Completed persona turns by outcome.",
		}, []string{"outcome"}),
		GatewayLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "persona_chat",
			Name:      "gateway_duration_seconds",
			Help:      "Model gateway call latency.",
			Buckets:   []float64{.25, .5, 1, 2, 4, 8, 16, 32},
		}),
		Messages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "persona_chat",
			Name:      "messages_total",
			Help:      "Messages appended by author role.",
		}, []string{"role"}),
		Reactions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "persona_chat",
			Name:      "reactions_total",
			Help:      "Reaction changes by author role.",
		}, []string{"role"}),
	}
}
