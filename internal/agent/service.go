package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Service runs generation calls against a Gateway and validates the result.
type Service struct {
	gateway Gateway
	timeout time.Duration
	logger  *slog.Logger
	log     ConversationLogger
}

// NewService creates an agent service. A nil gateway is allowed; every call
// then fails with ErrNoGateway.
func NewService(gateway Gateway, timeout time.Duration, logger *slog.Logger, convLog ConversationLogger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if convLog == nil {
		convLog = noopConversationLogger{}
	}
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}
	return &Service{
		gateway: gateway,
		timeout: timeout,
		logger:  logger,
		log:     convLog,
	}
}

// Available reports whether a model backend is configured.
func (s *Service) Available() bool {
	return s.gateway != nil
}

// Ping checks the backend when it supports health checks.
func (s *Service) Ping(ctx context.Context) error {
	if s.gateway == nil {
		return ErrNoGateway
	}
	if p, ok := s.gateway.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Respond performs one bounded generation call and parses the reply.
func (s *Service) Respond(ctx context.Context, req Request) (*Reply, error) {
	if s.gateway == nil {
		return nil, ErrNoGateway
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	last := ""
	if n := len(req.History); n > 0 {
		last = req.History[n-1].Text
	}
	s.log.Log(ConversationLogEvent{
		ConversationID: req.ConversationID,
		Channel:        "model",
		Direction:      "outbound",
		EventType:      "generate_request",
		ContentRaw:     last,
		Meta: map[string]any{
			"history_len": len(req.History),
		},
	})

	start := time.Now()
	raw, err := s.gateway.Generate(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
		}
		s.logger.Warn("model generation failed",
			"conversation_id", req.ConversationID,
			"elapsed", elapsed,
			"error", err,
		)
		s.logFailure(req.ConversationID, err, elapsed)
		return nil, err
	}

	reply, err := ParseReply(raw)
	if err != nil {
		s.logger.Warn("model reply rejected",
			"conversation_id", req.ConversationID,
			"error", err,
		)
		s.logFailure(req.ConversationID, err, elapsed)
		return nil, err
	}

	s.logger.Debug("model reply parsed",
		"conversation_id", req.ConversationID,
		"items", len(reply.Items),
		"reaction", reply.Reaction,
		"elapsed", elapsed,
	)
	s.log.Log(ConversationLogEvent{
		ConversationID: req.ConversationID,
		Channel:        "model",
		Direction:      "inbound",
		EventType:      "generate_reply",
		ContentRaw:     raw,
		Meta: map[string]any{
			"items":      len(reply.Items),
			"reaction":   reply.Reaction,
			"elapsed_ms": elapsed.Milliseconds(),
		},
	})
	return reply, nil
}

func (s *Service) logFailure(conversationID string, err error, elapsed time.Duration) {
	s.log.Log(ConversationLogEvent{
		ConversationID: conversationID,
		Channel:        "model",
		Direction:      "inbound",
		EventType:      "generate_error",
		Meta: map[string]any{
			"error":      err.Error(),
			"elapsed_ms": elapsed.Milliseconds(),
		},
	})
}

// Close releases the gateway and flushes the conversation log.
func (s *Service) Close() {
	if s.gateway != nil {
		if err := s.gateway.Close(); err != nil {
			s.logger.Warn("failed to close model gateway", "error", err)
		}
	}
	if err := s.log.Close(); err != nil {
		s.logger.Warn("failed to close conversation logger", "error", err)
	}
}
