package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/persona-chat/internal/agent"
	"github.com/ashureev/persona-chat/internal/domain"
	"github.com/ashureev/persona-chat/internal/pacing"
	"github.com/ashureev/persona-chat/internal/store"
)

// FallbackText is sent by the persona when a turn cannot be generated.
const FallbackText = "Oops, I'm having a little trouble thinking right now. Could you try that again?"

// Responder produces a validated reply for one model request.
type Responder interface {
	Respond(ctx context.Context, req agent.Request) (*agent.Reply, error)
}

// turnState serializes cycles per conversation. A trigger that arrives while
// busy only sets pending, and any number of them collapse into one re-run.
type turnState struct {
	busy    bool
	pending bool
}

// Orchestrator runs persona turns: think, type, compose, react, play back.
type Orchestrator struct {
	repo     store.Repository
	agent    Responder
	surface  Surface
	settings *Settings
	clock    pacing.Clock
	jitter   pacing.Jitter
	pacing   Pacing
	metrics  *Metrics
	timers   *timerSet
	logger   *slog.Logger
	spawn    func(func())

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	turns map[string]*turnState
}

func newOrchestrator(deps Deps, settings *Settings, p Pacing, timers *timerSet) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		repo:     deps.Repo,
		agent:    deps.Agent,
		surface:  deps.Surface,
		settings: settings,
		clock:    deps.Clock,
		jitter:   deps.Jitter,
		pacing:   p,
		metrics:  deps.Metrics,
		timers:   timers,
		logger:   deps.Logger,
		spawn:    deps.Spawn,
		ctx:      ctx,
		cancel:   cancel,
		turns:    make(map[string]*turnState),
	}
}

// Trigger starts a turn for the conversation, or queues one re-run if a turn
// is already in progress.
func (o *Orchestrator) Trigger(conversationID string) {
	if o.ctx.Err() != nil {
		return
	}

	o.mu.Lock()
	st, ok := o.turns[conversationID]
	if !ok {
		st = &turnState{}
		o.turns[conversationID] = st
	}
	if st.busy {
		result := "queued"
		if st.pending {
			result = "coalesced"
		}
		st.pending = true
		o.mu.Unlock()
		o.metrics.Triggers.WithLabelValues(result).Inc()
		o.logger.Info("persona turn busy, trigger deferred", "conversation_id", conversationID, "result", result)
		return
	}
	st.busy = true
	o.mu.Unlock()

	o.metrics.Triggers.WithLabelValues("started").Inc()
	o.wg.Add(1)
	o.spawn(func() {
		defer o.wg.Done()
		o.drain(conversationID)
	})
}

// Busy reports whether a turn is running for the conversation.
func (o *Orchestrator) Busy(conversationID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.turns[conversationID]
	return ok && st.busy
}

func (o *Orchestrator) drain(conversationID string) {
	for {
		outcome := o.runCycle(o.ctx, conversationID)
		o.metrics.Turns.WithLabelValues(outcome).Inc()

		o.mu.Lock()
		st := o.turns[conversationID]
		if !st.pending || o.ctx.Err() != nil {
			delete(o.turns, conversationID)
			o.mu.Unlock()
			return
		}
		st.pending = false
		o.mu.Unlock()
	}
}

func (o *Orchestrator) runCycle(ctx context.Context, conversationID string) (outcome string) {
	log := o.logger.With("conversation_id", conversationID)

	conv, err := o.repo.GetConversation(ctx, conversationID)
	if err != nil {
		log.Debug("persona turn aborted", "reason", "conversation unavailable", "error", err)
		return OutcomeAborted
	}
	persona, ok := conv.Persona()
	if !ok {
		log.Debug("persona turn aborted", "reason", "no persona participant")
		return OutcomeAborted
	}
	if last, ok := conv.LastMessage(); ok && last.SenderID == persona.ID {
		log.Debug("persona turn aborted", "reason", "persona spoke last")
		return OutcomeAborted
	}
	cfg := o.settings.Snapshot()
	log = log.With("persona_id", persona.ID)

	if err := o.clock.Sleep(ctx, o.jitter.Pick(o.pacing.Think)); err != nil {
		return OutcomeCancelled
	}

	typing := true
	o.surface.SetTyping(conversationID, persona.ID, true)
	defer func() {
		if typing {
			o.surface.SetTyping(conversationID, persona.ID, false)
		}
	}()

	if err := o.clock.Sleep(ctx, o.jitter.Pick(o.pacing.Compose)); err != nil {
		return OutcomeCancelled
	}

	// History, reaction target and reply indexes all come from this snapshot.
	snapshot, err := o.repo.GetConversation(ctx, conversationID)
	if err != nil {
		log.Warn("persona turn aborted", "reason", "conversation unavailable", "error", err)
		return OutcomeAborted
	}
	req := agent.Request{
		ConversationID:    conversationID,
		History:           agent.BuildHistory(snapshot),
		SystemInstruction: cfg.Instruction,
	}

	start := time.Now()
	reply, err := o.agent.Respond(ctx, req)
	o.metrics.GatewayLatency.Observe(time.Since(start).Seconds())

	var drafts []domain.Message
	switch {
	case err != nil && ctx.Err() != nil:
		return OutcomeCancelled
	case err != nil:
		log.Error("persona reply failed, sending fallback", "error", err)
		drafts = []domain.Message{{Text: FallbackText}}
		outcome = OutcomeFallback
	default:
		reacted := o.scheduleReaction(snapshot, cfg, persona.ID, reply.Reaction)
		drafts = resolveReplies(snapshot, cfg, reply.Items)
		switch {
		case len(drafts) > 0:
			outcome = OutcomeReplied
		case reacted:
			outcome = OutcomeReactionOnly
		default:
			outcome = OutcomeSilent
		}
	}

	typing = false
	o.surface.SetTyping(conversationID, persona.ID, false)

	for i, draft := range drafts {
		if i > 0 {
			typing = true
			o.surface.SetTyping(conversationID, persona.ID, true)
			if err := o.clock.Sleep(ctx, o.pacing.TypingDelay(draft.Text, o.jitter)); err != nil {
				return OutcomeCancelled
			}
			typing = false
			o.surface.SetTyping(conversationID, persona.ID, false)
		}

		msg := draft
		msg.ID = domain.NewMessageID()
		msg.SenderID = persona.ID
		msg.Timestamp = o.clock.Now()
		msg.Status = domain.StatusDelivered
		if err := o.repo.AppendMessage(ctx, conversationID, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				return OutcomeCancelled
			}
			log.Error("failed to append persona message", "error", err, "index", i)
			return outcome
		}
		o.metrics.Messages.WithLabelValues(string(agent.RolePersona)).Inc()
	}

	log.Info("persona turn finished", "outcome", outcome, "messages", len(drafts), "history_len", len(req.History))
	return outcome
}

// scheduleReaction attaches the persona's reaction to the last self-authored
// message after a short independent delay. It reports whether one was scheduled.
func (o *Orchestrator) scheduleReaction(snapshot *domain.Conversation, cfg domain.PersonaConfig, personaID, emoji string) bool {
	if emoji == "" || !domain.IsPersonaReaction(emoji) {
		return false
	}
	target, ok := snapshot.LastMessageFrom(cfg.SelfID)
	if !ok {
		return false
	}

	conversationID := snapshot.ID
	o.timers.after(o.jitter.Pick(o.pacing.Reaction), func() {
		_, changed, err := o.repo.MutateMessage(o.ctx, conversationID, target.ID, func(msg domain.Message) (domain.Message, bool) {
			if current, ok := msg.Reaction(personaID); ok && current == emoji {
				return msg, false
			}
			return msg.WithReaction(personaID, emoji), true
		})
		if err != nil {
			o.logger.Warn("failed to attach persona reaction",
				"conversation_id", conversationID,
				"message_id", target.ID,
				"error", err,
			)
			return
		}
		if changed {
			o.metrics.Reactions.WithLabelValues(string(agent.RolePersona)).Inc()
		}
	})
	return true
}

// resolveReplies turns reply items into message drafts. A replyToIndex is
// honored only when it points at a self-authored message in the snapshot.
func resolveReplies(snapshot *domain.Conversation, cfg domain.PersonaConfig, items []agent.ReplyItem) []domain.Message {
	drafts := make([]domain.Message, 0, len(items))
	for _, item := range items {
		draft := domain.Message{Text: item.Text}
		if idx := item.ReplyToIndex; idx != nil && *idx >= 0 && *idx < len(snapshot.Messages) {
			target := snapshot.Messages[*idx]
			if target.SenderID == cfg.SelfID {
				draft.ReplyTo = target.Quote(snapshot.SenderName(target.SenderID))
			}
		}
		drafts = append(drafts, draft)
	}
	return drafts
}

// Close cancels running turns and waits for them to return.
func (o *Orchestrator) Close() {
	o.cancel()
	o.wg.Wait()
}
