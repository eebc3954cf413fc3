// Package archive is the durable-storage collaborator: a SQLite mirror
// of conversation transcripts. The reconcile engine never touches it;
// the hosting loop saves conversations at whatever cadence it chooses,
// and the in-memory log in internal/chat remains the source of truth
// while the client runs.
package archive

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/parleylabs/parley/internal/chat"
)

// ErrNotFound is returned when a conversation is not archived
var ErrNotFound = errors.New("conversation not found in archive")

// Store persists conversation transcripts to SQLite
type Store struct {
	db *sql.DB
}

// Summary is one row of the archive listing
type Summary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewStore opens (or creates) the archive database under dataDir
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "transcripts.db")
	// WAL mode and busy timeout for concurrent access from the sweeper
	db, err := sql.Open("sqlite", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		parent_id TEXT,
		role TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		steps TEXT,
		interactions TEXT,
		errors TEXT,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, position);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Save mirrors a conversation into the archive. The message set is
// replaced wholesale inside one transaction, so a truncated suffix in
// the live log (edit/regenerate) is reflected faithfully.
func (s *Store) Save(conv *chat.Conversation) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
		INSERT INTO conversations (id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title, updated_at = excluded.updated_at`,
		conv.ID, conv.Title, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert conversation: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ?`, conv.ID); err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}

	for i, msg := range conv.Messages {
		steps, err := marshalOrNil(msg.Steps)
		if err != nil {
			return fmt.Errorf("failed to encode steps: %w", err)
		}
		interactions, err := marshalOrNil(msg.Interactions)
		if err != nil {
			return fmt.Errorf("failed to encode interactions: %w", err)
		}
		errRecords, err := marshalOrNil(msg.Errors)
		if err != nil {
			return fmt.Errorf("failed to encode errors: %w", err)
		}

		_, err = tx.Exec(`
			INSERT INTO messages (id, conversation_id, position, parent_id, role, content, steps, interactions, errors, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			msg.ID, conv.ID, i, msg.ParentID, string(msg.Role), msg.Content,
			steps, interactions, errRecords, msg.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
	}

	return tx.Commit()
}

// Load rehydrates an archived conversation
func (s *Store) Load(id string) (*chat.Conversation, error) {
	conv := &chat.Conversation{ID: id}
	err := s.db.QueryRow(`SELECT title, created_at, updated_at FROM conversations WHERE id = ?`, id).
		Scan(&conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	rows, err := s.db.Query(`
		SELECT id, parent_id, role, content, steps, interactions, errors, updated_at
		FROM messages WHERE conversation_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var msg chat.Message
		var parentID sql.NullString
		var role string
		var steps, interactions, errRecords sql.NullString
		if err := rows.Scan(&msg.ID, &parentID, &role, &msg.Content,
			&steps, &interactions, &errRecords, &msg.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.ParentID = parentID.String
		msg.Role = chat.Role(role)
		if steps.Valid {
			_ = json.Unmarshal([]byte(steps.String), &msg.Steps)
		}
		if interactions.Valid {
			_ = json.Unmarshal([]byte(interactions.String), &msg.Interactions)
		}
		if errRecords.Valid {
			_ = json.Unmarshal([]byte(errRecords.String), &msg.Errors)
		}
		conv.Messages = append(conv.Messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	if conv.Title != "" {
		conv.MarkTitleAssigned()
	}
	return conv, nil
}

// List returns archive summaries, most recently updated first
func (s *Store) List() ([]*Summary, error) {
	rows, err := s.db.Query(`
		SELECT c.id, c.title, c.updated_at, COUNT(m.id)
		FROM conversations c LEFT JOIN messages m ON m.conversation_id = c.id
		GROUP BY c.id ORDER BY c.updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Summary
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.ID, &s.Title, &s.UpdatedAt, &s.MessageCount); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		result = append(result, &s)
	}
	return result, rows.Err()
}

// Delete removes one archived conversation and its messages
func (s *Store) Delete(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM conversations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return tx.Commit()
}

// PruneOlderThan removes conversations not updated since the cutoff.
// Returns the number of conversations removed.
func (s *Store) PruneOlderThan(cutoff time.Time) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		DELETE FROM messages WHERE conversation_id IN
		(SELECT id FROM conversations WHERE updated_at < ?)`, cutoff); err != nil {
		return 0, fmt.Errorf("failed to prune messages: %w", err)
	}
	res, err := tx.Exec(`DELETE FROM conversations WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune conversations: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), tx.Commit()
}

func marshalOrNil(v any) (any, error) {
	switch val := v.(type) {
	case []*chat.IntermediateStep:
		if len(val) == 0 {
			return nil, nil
		}
	case []chat.InteractionRecord:
		if len(val) == 0 {
			return nil, nil
		}
	case []chat.ErrorRecord:
		if len(val) == 0 {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
