package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/persona-chat/internal/domain"
	"github.com/ashureev/persona-chat/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // Serializes read-modify-write cycles to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		unread_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS participants (
		conversation_id TEXT NOT NULL,
		id TEXT NOT NULL,
		name TEXT NOT NULL,
		online INTEGER NOT NULL DEFAULT 0,
		position INTEGER NOT NULL,
		PRIMARY KEY (conversation_id, id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL,
		id TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		text TEXT NOT NULL,
		ts INTEGER NOT NULL,
		status TEXT NOT NULL,
		image_ref TEXT,
		reactions_json TEXT,
		reply_json TEXT,
		UNIQUE (conversation_id, id)
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, seq);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// CreateConversation stores a conversation, its participants and initial messages.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *domain.Conversation) error {
	if conv == nil || conv.ID == "" {
		return fmt.Errorf("create conversation: missing id")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create conversation: %w", err)
	}
	defer rollback(tx)

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, conv.ID).Scan(&exists)
	if err == nil {
		return ErrConversationExists
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("check conversation: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO conversations (id, unread_count, created_at) VALUES (?, ?, ?)`,
		conv.ID, conv.UnreadCount, time.Now().Unix(),
	); err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}

	for i, p := range conv.Participants {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO participants (conversation_id, id, name, online, position) VALUES (?, ?, ?, ?, ?)`,
			conv.ID, p.ID, p.Name, p.Online, i,
		); err != nil {
			return fmt.Errorf("insert participant %s: %w", p.ID, err)
		}
	}

	for _, msg := range conv.Messages {
		if err := insertMessage(ctx, tx, conv.ID, msg); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create conversation: %w", err)
	}
	return nil
}

// GetConversation loads a conversation snapshot.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	var conv domain.Conversation
	err := s.db.QueryRowContext(ctx, `SELECT id, unread_count FROM conversations WHERE id = ?`, id).
		Scan(&conv.ID, &conv.UnreadCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation row: %w", err)
	}

	participants, err := s.loadParticipants(ctx, id)
	if err != nil {
		return nil, err
	}
	conv.Participants = participants

	messages, err := s.loadMessages(ctx, id)
	if err != nil {
		return nil, err
	}
	conv.Messages = messages

	return &conv, nil
}

// ListConversations loads every conversation in creation order.
func (s *SQLiteStore) ListConversations(ctx context.Context) ([]*domain.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM conversations ORDER BY created_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			closeRows(rows)
			return nil, fmt.Errorf("scan conversation id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		closeRows(rows)
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	closeRows(rows)

	out := make([]*domain.Conversation, 0, len(ids))
	for _, id := range ids {
		conv, err := s.GetConversation(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	return out, nil
}

// AppendMessage inserts a message at the end of a conversation.
// Implements retry logic with exponential backoff to handle SQLITE_BUSY errors.
func (s *SQLiteStore) AppendMessage(ctx context.Context, conversationID string, msg domain.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	maxRetries := 3
	baseDelay := 50 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		err := s.appendMessageOnce(ctx, conversationID, msg)
		if err == nil {
			return nil
		}
		if shared.IsSQLiteConflictError(err) && i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i) // exponential backoff: 50ms, 100ms, 200ms
			slog.Debug("AppendMessage failed with SQLITE_BUSY, retrying",
				"conversation_id", conversationID,
				"attempt", i+1,
				"delay", delay)
			time.Sleep(delay)
			continue
		}
		return err
	}
	return nil
}

func (s *SQLiteStore) appendMessageOnce(ctx context.Context, conversationID string, msg domain.Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, conversationID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrConversationNotFound
	}
	if err != nil {
		return fmt.Errorf("check conversation: %w", err)
	}
	return insertMessage(ctx, s.db, conversationID, msg)
}

// MutateMessage applies fn to a message inside a transaction.
func (s *SQLiteStore) MutateMessage(ctx context.Context, conversationID, messageID string, fn MutateFunc) (domain.Message, bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Message{}, false, fmt.Errorf("begin mutate message: %w", err)
	}
	defer rollback(tx)

	row := tx.QueryRowContext(ctx, messageSelect+` WHERE conversation_id = ? AND id = ?`, conversationID, messageID)
	before, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		var exists int
		if convErr := tx.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, conversationID).Scan(&exists); errors.Is(convErr, sql.ErrNoRows) {
			return domain.Message{}, false, ErrConversationNotFound
		}
		return domain.Message{}, false, ErrMessageNotFound
	}
	if err != nil {
		return domain.Message{}, false, err
	}

	after, changed := fn(before.Clone())
	if !changed {
		return before, false, nil
	}
	if err := checkMutation(before, after); err != nil {
		return domain.Message{}, false, err
	}
	after = normalize(after)

	reactions, err := encodeReactions(after.Reactions)
	if err != nil {
		return domain.Message{}, false, fmt.Errorf("encode reactions: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE messages SET status = ?, reactions_json = ? WHERE conversation_id = ? AND id = ?`,
		string(after.Status), reactions, conversationID, messageID,
	); err != nil {
		return domain.Message{}, false, fmt.Errorf("update message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Message{}, false, fmt.Errorf("commit mutate message: %w", err)
	}
	return after, true, nil
}

func (s *SQLiteStore) loadParticipants(ctx context.Context, conversationID string) ([]domain.Participant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, online FROM participants WHERE conversation_id = ? ORDER BY position`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer closeRows(rows)

	var out []domain.Participant
	for rows.Next() {
		var p domain.Participant
		if err := rows.Scan(&p.ID, &p.Name, &p.Online); err != nil {
			return nil, fmt.Errorf("scan participant row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participants: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) loadMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, messageSelect+` WHERE conversation_id = ? ORDER BY seq`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer closeRows(rows)

	out := []domain.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

const messageSelect = `SELECT id, sender_id, text, ts, status, image_ref, reactions_json, reply_json FROM messages`

type rowScanner interface {
	Scan(dest ...any) error
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func scanMessage(row rowScanner) (domain.Message, error) {
	var msg domain.Message
	var ts int64
	var status string
	var imageRef, reactions, reply sql.NullString

	if err := row.Scan(&msg.ID, &msg.SenderID, &msg.Text, &ts, &status, &imageRef, &reactions, &reply); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return msg, err
		}
		return msg, fmt.Errorf("scan message row: %w", err)
	}

	msg.Timestamp = time.UnixMilli(ts).UTC()
	msg.Status = domain.DeliveryStatus(status)
	msg.ImageRef = imageRef.String
	if reactions.Valid && reactions.String != "" {
		if err := json.Unmarshal([]byte(reactions.String), &msg.Reactions); err != nil {
			return msg, fmt.Errorf("decode reactions for %s: %w", msg.ID, err)
		}
	}
	if reply.Valid && reply.String != "" {
		var ref domain.ReplyRef
		if err := json.Unmarshal([]byte(reply.String), &ref); err != nil {
			return msg, fmt.Errorf("decode reply ref for %s: %w", msg.ID, err)
		}
		msg.ReplyTo = &ref
	}
	return normalize(msg), nil
}

func insertMessage(ctx context.Context, db execer, conversationID string, msg domain.Message) error {
	reactions, err := encodeReactions(normalize(msg).Reactions)
	if err != nil {
		return fmt.Errorf("encode reactions: %w", err)
	}
	var reply interface{}
	if msg.ReplyTo != nil {
		data, err := json.Marshal(msg.ReplyTo)
		if err != nil {
			return fmt.Errorf("encode reply ref: %w", err)
		}
		reply = string(data)
	}
	var imageRef interface{}
	if msg.ImageRef != "" {
		imageRef = msg.ImageRef
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, id, sender_id, text, ts, status, image_ref, reactions_json, reply_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		conversationID, msg.ID, msg.SenderID, msg.Text, msg.Timestamp.UnixMilli(),
		string(msg.Status), imageRef, reactions, reply,
	)
	if err != nil {
		return fmt.Errorf("insert message %s: %w", msg.ID, err)
	}
	return nil
}

func encodeReactions(reactions map[string]string) (interface{}, error) {
	if len(reactions) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(reactions)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		slog.Warn("failed to rollback transaction", "error", err)
	}
}

func closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		slog.Warn("failed to close rows", "error", err)
	}
}
