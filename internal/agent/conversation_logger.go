package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

var (
	ansiPattern     = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)
	unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)
	errLoggerClosed = errors.New("conversation logger closed")
)

// ConversationLogger records model traffic per conversation.
type ConversationLogger interface {
	Log(event ConversationLogEvent)
	Close() error
}

// ConversationLogConfig configures the NDJSON conversation log.
type ConversationLogConfig struct {
	Enabled bool
	Dir     string
	// GlobalPath, when set, also receives every event.
	GlobalPath string
	QueueSize  int
}

// ConversationLogEvent is one NDJSON line.
type ConversationLogEvent struct {
	Timestamp      string         `json:"ts"`
	ConversationID string         `json:"conversation_id"`
	Channel        string         `json:"channel"`
	Direction      string         `json:"direction"`
	EventType      string         `json:"event_type"`
	ContentRaw     string         `json:"content_raw,omitempty"`
	Content        string         `json:"content,omitempty"`
	Meta           map[string]any `json:"meta,omitempty"`
}

type noopConversationLogger struct{}

func (noopConversationLogger) Log(ConversationLogEvent) {}
func (noopConversationLogger) Close() error            { return nil }

type fileConversationLogger struct {
	dir    string
	global *os.File
	queue  chan ConversationLogEvent
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	files  map[string]*os.File
	wg     sync.WaitGroup
}

// NewConversationLogger returns an asynchronous NDJSON logger, or a no-op
// logger when cfg.Enabled is false.
func NewConversationLogger(cfg ConversationLogConfig, logger *slog.Logger) (ConversationLogger, error) {
	if !cfg.Enabled {
		return noopConversationLogger{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dir == "" {
		cfg.Dir = "logs/conversations"
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create conversation log dir: %w", err)
	}

	l := &fileConversationLogger{
		dir:    cfg.Dir,
		queue:  make(chan ConversationLogEvent, cfg.QueueSize),
		logger: logger,
		files:  make(map[string]*os.File),
	}
	if cfg.GlobalPath != "" {
		f, err := os.OpenFile(cfg.GlobalPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			return nil, fmt.Errorf("open global conversation log: %w", err)
		}
		l.global = f
	}

	l.wg.Add(1)
	go l.run()
	return l, nil
}

// Log enqueues an event. Events are dropped when the queue is full.
func (l *fileConversationLogger) Log(event ConversationLogEvent) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if event.Content == "" && event.ContentRaw != "" {
		event.Content = cleanForReadability(event.ContentRaw)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- event:
	default:
		l.logger.Warn("conversation log queue full, dropping event",
			"conversation_id", event.ConversationID,
			"event_type", event.EventType,
		)
	}
}

func (l *fileConversationLogger) run() {
	defer l.wg.Done()
	for event := range l.queue {
		if err := l.write(event); err != nil {
			l.logger.Warn("failed to write conversation log", "error", err, "conversation_id", event.ConversationID)
		}
	}
}

func (l *fileConversationLogger) write(event ConversationLogEvent) error {
	line, err := json.Marshal(event)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	f, err := l.fileFor(event.ConversationID)
	if err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		return err
	}
	if l.global != nil {
		if _, err := l.global.Write(line); err != nil {
			return err
		}
	}
	return nil
}

func (l *fileConversationLogger) fileFor(conversationID string) (*os.File, error) {
	name := unsafeFileChars.ReplaceAllString(conversationID, "_")
	if name == "" {
		name = "unknown"
	}
	if f, ok := l.files[name]; ok {
		return f, nil
	}
	f, err := os.OpenFile(filepath.Join(l.dir, name+".ndjson"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, err
	}
	l.files[name] = f
	return f, nil
}

// Close drains pending events and closes every file.
func (l *fileConversationLogger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return errLoggerClosed
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	l.wg.Wait()

	var errs []error
	for _, f := range l.files {
		errs = append(errs, f.Close())
	}
	if l.global != nil {
		errs = append(errs, l.global.Close())
	}
	return errors.Join(errs...)
}

// cleanForReadability strips terminal escapes and control characters and
// collapses runs of whitespace.
func cleanForReadability(s string) string {
	s = ansiPattern.ReplaceAllString(s, "")
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return ' '
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
