package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/persona-chat/internal/agent"
	"github.com/ashureev/persona-chat/internal/domain"
	"github.com/ashureev/persona-chat/internal/pacing"
	"github.com/ashureev/persona-chat/internal/store"
)

const (
	selfID    = "user-0"
	personaID = "ai-1"
	convID    = "convo-1"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type typingEvent struct {
	participantID string
	typing        bool
	at            time.Time
}

type recordingSurface struct {
	clock  pacing.Clock
	mu     sync.Mutex
	events []typingEvent
}

func (r *recordingSurface) SetTyping(_ string, participantID string, typing bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, typingEvent{participantID: participantID, typing: typing, at: r.clock.Now()})
}

func (r *recordingSurface) flags(participantID string) []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []bool
	for _, ev := range r.events {
		if ev.participantID == participantID {
			out = append(out, ev.typing)
		}
	}
	return out
}

type gatewayCall struct {
	req agent.Request
	at  time.Time
}

type harness struct {
	t       *testing.T
	ctx     context.Context
	clock   *pacing.VirtualClock
	repo    *store.Observed
	surface *recordingSurface
	metrics *Metrics
	svc     *Service

	mu      sync.Mutex
	calls   []gatewayCall
	respond func(n int, req agent.Request) (string, error)
}

// newHarness builds a service on a virtual clock with lower-bound jitter.
// Turns run synchronously on whatever goroutine advances the clock.
func newHarness(t *testing.T, messages ...domain.Message) *harness {
	t.Helper()

	h := &harness{
		t:     t,
		ctx:   context.Background(),
		clock: pacing.NewVirtualClock(epoch),
		repo:  store.NewObserved(store.NewMemory(), store.NewBroadcaster(nil)),
	}
	h.surface = &recordingSurface{clock: h.clock}
	h.metrics = NewMetrics(prometheus.NewRegistry())

	require.NoError(t, h.repo.CreateConversation(h.ctx, &domain.Conversation{
		ID: convID,
		Participants: []domain.Participant{
			{ID: selfID, Name: "You", Online: true},
			{ID: personaID, Name: "AI", Online: true},
		},
		Messages: messages,
	}))

	gw := agent.GatewayFunc(func(_ context.Context, req agent.Request) (string, error) {
		h.mu.Lock()
		n := len(h.calls)
		h.calls = append(h.calls, gatewayCall{req: req, at: h.clock.Now()})
		respond := h.respond
		h.mu.Unlock()
		if respond == nil {
			return `{"responses":[]}`, nil
		}
		return respond(n, req)
	})

	h.svc = NewService(Deps{
		Repo:    h.repo,
		Agent:   agent.NewService(gw, time.Second, nil, nil),
		Surface: h.surface,
		Clock:   h.clock,
		Jitter:  pacing.Lower,
		Metrics: h.metrics,
		Spawn:   func(f func()) { f() },
	}, Config{
		SelfID:      selfID,
		Instruction: "be chill",
		Pacing:      DefaultPacing(),
	})
	t.Cleanup(h.svc.Close)
	return h
}

func (h *harness) reply(raw string) {
	h.replyWith(func(int, agent.Request) (string, error) { return raw, nil })
}

func (h *harness) replyWith(f func(n int, req agent.Request) (string, error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.respond = f
}

func (h *harness) gatewayCalls() []gatewayCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]gatewayCall(nil), h.calls...)
}

func (h *harness) send(text string) domain.Message {
	h.t.Helper()
	msg, err := h.svc.SendUserMessage(h.ctx, convID, text, "")
	require.NoError(h.t, err)
	require.NotNil(h.t, msg)
	return *msg
}

func (h *harness) conversation() *domain.Conversation {
	h.t.Helper()
	conv, err := h.repo.GetConversation(h.ctx, convID)
	require.NoError(h.t, err)
	return conv
}

func (h *harness) message(id string) domain.Message {
	h.t.Helper()
	msg, ok := h.conversation().Message(id)
	require.True(h.t, ok, "message %s not found", id)
	return msg
}

func (h *harness) texts() []string {
	var out []string
	for _, m := range h.conversation().Messages {
		out = append(out, m.Text)
	}
	return out
}

func seeded(id, sender, text string, offset time.Duration) domain.Message {
	return domain.Message{
		ID:        id,
		SenderID:  sender,
		Text:      text,
		Timestamp: epoch.Add(offset),
		Status:    domain.StatusRead,
	}
}
