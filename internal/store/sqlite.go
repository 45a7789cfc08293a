// ABOUTME: SQLite implementation of the conversation store using modernc.org/sqlite
// ABOUTME: Load/save keyed by conversation id with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/2389/parley-gateway/internal/chat"
)

// timeFormat is fixed-width UTC with a full 9-digit fraction, so stored
// timestamps sort lexicographically in chronological order. RFC3339Nano
// trims trailing zeros, which breaks string ORDER BY across mixed precision.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

// SQLiteStore persists conversations, participants, and presence pairs.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the database at path. The schema is
// created if it doesn't exist; parent directories are created as needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			visitor_id TEXT NOT NULL,
			last_message_text TEXT,
			last_message_at TEXT,
			seq INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS conversation_participants (
			conversation_id TEXT NOT NULL,
			participant_id TEXT NOT NULL,
			role TEXT NOT NULL,
			joined_at TEXT NOT NULL,
			PRIMARY KEY (conversation_id, participant_id),
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);

		CREATE INDEX IF NOT EXISTS idx_participants_participant
			ON conversation_participants(participant_id);

		CREATE TABLE IF NOT EXISTS participant_presence (
			conversation_id TEXT NOT NULL,
			participant_id TEXT NOT NULL,
			last_seen_at TEXT,
			last_unseen_at TEXT,
			PRIMARY KEY (conversation_id, participant_id),
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Save writes the conversation and its participants and presence pairs in
// one transaction. The roster is replaced wholesale; presence rows are
// upserted and never removed, matching the aggregate's semantics.
func (s *SQLiteStore) Save(ctx context.Context, conv *chat.Conversation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning save: %w", err)
	}
	defer tx.Rollback()

	var lastText, lastAt any
	if conv.LastMessage != nil {
		lastText = conv.LastMessage.Text
		lastAt = fmtTime(conv.LastMessage.At)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, status, visitor_id, last_message_text, last_message_at, seq, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			last_message_text = excluded.last_message_text,
			last_message_at = excluded.last_message_at,
			seq = excluded.seq,
			updated_at = excluded.updated_at
	`,
		conv.ID,
		string(conv.Status),
		conv.VisitorID,
		lastText,
		lastAt,
		conv.Seq,
		fmtTime(conv.CreatedAt),
		fmtTime(conv.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting conversation: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM conversation_participants WHERE conversation_id = ?`, conv.ID); err != nil {
		return fmt.Errorf("clearing participants: %w", err)
	}
	for _, p := range conv.Participants {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversation_participants (conversation_id, participant_id, role, joined_at)
			VALUES (?, ?, ?, ?)
		`, conv.ID, p.ID, string(p.Role), fmtTime(p.JoinedAt)); err != nil {
			return fmt.Errorf("inserting participant %s: %w", p.ID, err)
		}
	}

	for participantID, pr := range conv.Presence {
		var seenAt, unseenAt any
		if pr.LastSeenAt != nil {
			seenAt = fmtTime(*pr.LastSeenAt)
		}
		if pr.LastUnseenAt != nil {
			unseenAt = fmtTime(*pr.LastUnseenAt)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO participant_presence (conversation_id, participant_id, last_seen_at, last_unseen_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(conversation_id, participant_id) DO UPDATE SET
				last_seen_at = excluded.last_seen_at,
				last_unseen_at = excluded.last_unseen_at
		`, conv.ID, participantID, seenAt, unseenAt); err != nil {
			return fmt.Errorf("upserting presence for %s: %w", participantID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing save: %w", err)
	}

	s.logger.Debug("saved conversation",
		"conversation_id", conv.ID,
		"status", conv.Status,
		"seq", conv.Seq,
	)
	return nil
}

// Load reads a conversation by id. Returns chat.ErrNotFound if it does not exist.
func (s *SQLiteStore) Load(ctx context.Context, conversationID string) (*chat.Conversation, error) {
	conv := &chat.Conversation{ID: conversationID, Presence: make(map[string]*chat.Presence)}

	var status, createdAt, updatedAt string
	var lastText, lastAt sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT status, visitor_id, last_message_text, last_message_at, seq, created_at, updated_at
		FROM conversations WHERE id = ?
	`, conversationID).Scan(&status, &conv.VisitorID, &lastText, &lastAt, &conv.Seq, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, chat.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	conv.Status = chat.Status(status)
	if conv.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if conv.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	if lastText.Valid && lastAt.Valid {
		at, err := time.Parse(time.RFC3339Nano, lastAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_message_at: %w", err)
		}
		conv.LastMessage = &chat.LastMessage{Text: lastText.String, At: at}
	}

	if err := s.loadParticipants(ctx, conv); err != nil {
		return nil, err
	}
	if err := s.loadPresence(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *SQLiteStore) loadParticipants(ctx context.Context, conv *chat.Conversation) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT participant_id, role, joined_at
		FROM conversation_participants
		WHERE conversation_id = ?
		ORDER BY joined_at ASC, participant_id ASC
	`, conv.ID)
	if err != nil {
		return fmt.Errorf("querying participants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p chat.Participant
		var role, joinedAt string
		if err := rows.Scan(&p.ID, &role, &joinedAt); err != nil {
			return fmt.Errorf("scanning participant: %w", err)
		}
		p.Role = chat.Role(role)
		if p.JoinedAt, err = time.Parse(time.RFC3339Nano, joinedAt); err != nil {
			return fmt.Errorf("parsing joined_at: %w", err)
		}
		conv.Participants = append(conv.Participants, p)
	}
	return rows.Err()
}

func (s *SQLiteStore) loadPresence(ctx context.Context, conv *chat.Conversation) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT participant_id, last_seen_at, last_unseen_at
		FROM participant_presence
		WHERE conversation_id = ?
	`, conv.ID)
	if err != nil {
		return fmt.Errorf("querying presence: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var participantID string
		var seenAt, unseenAt sql.NullString
		if err := rows.Scan(&participantID, &seenAt, &unseenAt); err != nil {
			return fmt.Errorf("scanning presence: %w", err)
		}
		pr := &chat.Presence{}
		if seenAt.Valid {
			t, err := time.Parse(time.RFC3339Nano, seenAt.String)
			if err != nil {
				return fmt.Errorf("parsing last_seen_at: %w", err)
			}
			pr.LastSeenAt = &t
		}
		if unseenAt.Valid {
			t, err := time.Parse(time.RFC3339Nano, unseenAt.String)
			if err != nil {
				return fmt.Errorf("parsing last_unseen_at: %w", err)
			}
			pr.LastUnseenAt = &t
		}
		conv.Presence[participantID] = pr
	}
	return rows.Err()
}

// FindByParticipant returns every conversation the participant is attached
// to, most recent activity first with id-ascending tiebreak.
func (s *SQLiteStore) FindByParticipant(ctx context.Context, participantID string) ([]*chat.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id
		FROM conversations c
		JOIN conversation_participants p ON p.conversation_id = c.id
		WHERE p.participant_id = ?
		ORDER BY COALESCE(c.last_message_at, c.updated_at) DESC, c.id ASC
	`, participantID)
	if err != nil {
		return nil, fmt.Errorf("querying conversations by participant: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning conversation id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation ids: %w", err)
	}

	convs := make([]*chat.Conversation, 0, len(ids))
	for _, id := range ids {
		conv, err := s.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	return convs, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
