package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ashureev/persona-chat/internal/agent"
	"github.com/ashureev/persona-chat/internal/domain"
	"github.com/ashureev/persona-chat/internal/pacing"
	"github.com/ashureev/persona-chat/internal/store"
)

// ErrEmptyReaction is returned when a reaction carries no emoji.
var ErrEmptyReaction = errors.New("reaction emoji is empty")

// Deps are the collaborators of the chat service.
type Deps struct {
	Repo    store.Repository
	Agent   Responder
	Surface Surface
	Clock   pacing.Clock
	// Jitter picks randomized delays; nil means uniform.
	Jitter pacing.Jitter
	Metrics *Metrics
	Logger  *slog.Logger
	// Spawn runs a turn; nil runs it on a new goroutine.
	Spawn func(func())
}

// Config configures the chat service.
type Config struct {
	// SelfID is the participant the human acts as.
	SelfID      string
	Instruction string
	Pacing      Pacing
}

// Service is the entry point for everything the human does in a conversation.
type Service struct {
	repo     store.Repository
	surface  Surface
	clock    pacing.Clock
	jitter   pacing.Jitter
	pacing   Pacing
	metrics  *Metrics
	logger   *slog.Logger
	selfID   string
	settings *Settings

	orchestrator *Orchestrator
	debounce     *Debouncer
	userTyping   *Debouncer
	timers       *timerSet

	replyMu      sync.Mutex
	replyTargets map[string]string

	closeOnce sync.Once
}

// NewService wires the debounce scheduler, orchestrator and send path.
func NewService(deps Deps, cfg Config) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Surface == nil {
		deps.Surface = nopSurface{}
	}
	if deps.Clock == nil {
		deps.Clock = pacing.Real()
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics(nil)
	}
	if deps.Spawn == nil {
		deps.Spawn = func(f func()) { go f() }
	}
	if deps.Agent == nil {
		deps.Agent = agent.NewService(nil, 0, deps.Logger, nil)
	}
	if cfg.Pacing == (Pacing{}) {
		cfg.Pacing = DefaultPacing()
	}

	settings := NewSettings(cfg.SelfID, cfg.Instruction)
	timers := newTimerSet(deps.Clock)
	s := &Service{
		repo:         deps.Repo,
		surface:      deps.Surface,
		clock:        deps.Clock,
		jitter:       deps.Jitter,
		pacing:       cfg.Pacing,
		metrics:      deps.Metrics,
		logger:       deps.Logger,
		selfID:       cfg.SelfID,
		settings:     settings,
		timers:       timers,
		replyTargets: make(map[string]string),
	}
	s.orchestrator = newOrchestrator(deps, settings, cfg.Pacing, timers)
	s.debounce = NewDebouncer(deps.Clock, cfg.Pacing.Debounce, s.orchestrator.Trigger)
	s.userTyping = NewDebouncer(deps.Clock, cfg.Pacing.UserTypingIdle, func(conversationID string) {
		s.surface.SetTyping(conversationID, s.selfID, false)
	})
	return s
}

// SelfID returns the participant the human acts as.
func (s *Service) SelfID() string {
	return s.selfID
}

// SendUserMessage appends a message from the human. It returns nil and no
// error when both text and image are empty.
func (s *Service) SendUserMessage(ctx context.Context, conversationID, text, imageRef string) (*domain.Message, error) {
	text = strings.TrimSpace(text)
	imageRef = strings.TrimSpace(imageRef)
	if text == "" && imageRef == "" {
		return nil, nil
	}

	conv, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	msg := domain.Message{
		ID:        domain.NewMessageID(),
		SenderID:  s.selfID,
		Text:      text,
		ImageRef:  imageRef,
		Timestamp: s.clock.Now(),
		Status:    domain.StatusSent,
	}
	if targetID, ok := s.takeReplyTarget(conversationID); ok {
		if target, found := conv.Message(targetID); found {
			msg.ReplyTo = target.Quote(conv.SenderName(target.SenderID))
		}
	}

	if err := s.repo.AppendMessage(ctx, conversationID, msg); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	s.metrics.Messages.WithLabelValues(string(agent.RoleSelf)).Inc()

	delivered := s.jitter.Pick(s.pacing.Delivered)
	read := delivered + s.jitter.Pick(s.pacing.Read)
	s.timers.after(delivered, func() { s.advanceStatus(conversationID, msg.ID, domain.StatusDelivered) })
	s.timers.after(read, func() { s.advanceStatus(conversationID, msg.ID, domain.StatusRead) })

	if s.userTyping.Cancel(conversationID) {
		s.surface.SetTyping(conversationID, s.selfID, false)
	}
	s.debounce.Arm(conversationID)

	s.logger.Debug("user message sent",
		"conversation_id", conversationID,
		"message_id", msg.ID,
		"reply_to", msg.ReplyTo != nil,
		"has_image", imageRef != "",
	)
	return &msg, nil
}

func (s *Service) advanceStatus(conversationID, messageID string, status domain.DeliveryStatus) {
	_, _, err := s.repo.MutateMessage(context.Background(), conversationID, messageID, func(msg domain.Message) (domain.Message, bool) {
		return msg.AdvanceStatus(status)
	})
	if err != nil {
		s.logger.Warn("failed to advance message status",
			"conversation_id", conversationID,
			"message_id", messageID,
			"status", status,
			"error", err,
		)
	}
}

// ReactToMessage toggles the human's reaction on a message.
func (s *Service) ReactToMessage(ctx context.Context, conversationID, messageID, emoji string) (domain.Message, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return domain.Message{}, ErrEmptyReaction
	}
	msg, _, err := s.repo.MutateMessage(ctx, conversationID, messageID, func(msg domain.Message) (domain.Message, bool) {
		return msg.ToggleReaction(s.selfID, emoji), true
	})
	if err != nil {
		return domain.Message{}, err
	}
	s.metrics.Reactions.WithLabelValues(string(agent.RoleSelf)).Inc()
	return msg, nil
}

// PersonaInstruction returns the current persona instruction.
func (s *Service) PersonaInstruction() string {
	return s.settings.Instruction()
}

// SetPersonaInstruction replaces the persona instruction used by later turns.
func (s *Service) SetPersonaInstruction(instruction string) {
	s.settings.SetInstruction(instruction)
	s.logger.Info("persona instruction updated", "length", len(instruction))
}

// SetReplyTarget selects the message the next send will quote.
func (s *Service) SetReplyTarget(ctx context.Context, conversationID, messageID string) error {
	conv, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if _, ok := conv.Message(messageID); !ok {
		return store.ErrMessageNotFound
	}
	s.replyMu.Lock()
	defer s.replyMu.Unlock()
	s.replyTargets[conversationID] = messageID
	return nil
}

// ClearReplyTarget drops any pending reply selection.
func (s *Service) ClearReplyTarget(conversationID string) {
	s.replyMu.Lock()
	defer s.replyMu.Unlock()
	delete(s.replyTargets, conversationID)
}

// ReplyTarget returns the pending reply selection, if any.
func (s *Service) ReplyTarget(conversationID string) (string, bool) {
	s.replyMu.Lock()
	defer s.replyMu.Unlock()
	id, ok := s.replyTargets[conversationID]
	return id, ok
}

func (s *Service) takeReplyTarget(conversationID string) (string, bool) {
	s.replyMu.Lock()
	defer s.replyMu.Unlock()
	id, ok := s.replyTargets[conversationID]
	delete(s.replyTargets, conversationID)
	return id, ok
}

// UserTyping marks the human as typing until they go quiet.
func (s *Service) UserTyping(conversationID string) {
	s.surface.SetTyping(conversationID, s.selfID, true)
	s.userTyping.Arm(conversationID)
}

// Busy reports whether the persona is mid-turn in the conversation.
func (s *Service) Busy(conversationID string) bool {
	return s.orchestrator.Busy(conversationID)
}

// Close stops every timer and waits for running turns.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		s.debounce.Stop()
		s.userTyping.Stop()
		s.timers.stopAll()
		s.orchestrator.Close()
	})
}
