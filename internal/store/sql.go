package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/arvo-systems/agentloop/pkg/models"
	_ "modernc.org/sqlite"
)

// SQLStore is a Store backed by a SQL database, for callers that need
// message history to outlive the process. It stores one row per message in
// insertion order; Replace deletes the superseded range and inserts the
// summary row inside one transaction, preserving ordering.
type SQLStore struct {
	db *sql.DB
}

// OpenSQLStore opens (or creates) a sqlite database at path and ensures the
// messages table exists. Pass ":memory:" for an ephemeral store.
func OpenSQLStore(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	s := &SQLStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore wraps an already-open *sql.DB, for callers using go-sqlmock in
// tests or sharing a connection pool with other subsystems.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS messages (
			session_id TEXT NOT NULL,
			seq        INTEGER NOT NULL,
			payload    TEXT NOT NULL,
			PRIMARY KEY (session_id, seq)
		)
	`)
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Close releases the underlying database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) Append(ctx context.Context, sessionID string, msg *models.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("store: marshal message: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (session_id, seq, payload)
		VALUES (?, (SELECT COALESCE(MAX(seq), -1) + 1 FROM messages WHERE session_id = ?), ?)
	`, sessionID, sessionID, string(payload))
	if err != nil {
		return fmt.Errorf("store: append: %w", err)
	}
	return nil
}

func (s *SQLStore) Messages(ctx context.Context, sessionID string) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM messages WHERE session_id = ? ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: query messages: %w", err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		var msg models.Message
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			return nil, fmt.Errorf("store: unmarshal message: %w", err)
		}
		out = append(out, &msg)
	}
	return out, rows.Err()
}

func (s *SQLStore) Replace(ctx context.Context, sessionID string, start, end int, replacement *models.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT seq FROM messages WHERE session_id = ? ORDER BY seq ASC`, sessionID)
	if err != nil {
		return fmt.Errorf("store: query seqs: %w", err)
	}
	var seqs []int64
	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			rows.Close()
			return fmt.Errorf("store: scan seq: %w", err)
		}
		seqs = append(seqs, seq)
	}
	rows.Close()
	if start < 0 || end > len(seqs) || start > end {
		return fmt.Errorf("store: invalid replace range [%d:%d) for history of length %d", start, end, len(seqs))
	}

	for _, seq := range seqs[start:end] {
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ? AND seq = ?`, sessionID, seq); err != nil {
			return fmt.Errorf("store: delete superseded row: %w", err)
		}
	}

	payload, err := json.Marshal(replacement)
	if err != nil {
		return fmt.Errorf("store: marshal replacement: %w", err)
	}
	insertSeq := int64(start)
	if len(seqs) > 0 && start < len(seqs) {
		insertSeq = seqs[start]
	} else if len(seqs) > 0 {
		insertSeq = seqs[len(seqs)-1] + 1
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (session_id, seq, payload) VALUES (?, ?, ?)
	`, sessionID, insertSeq, string(payload)); err != nil {
		return fmt.Errorf("store: insert replacement: %w", err)
	}

	return tx.Commit()
}

// ReplaceAll overwrites sessionID's entire history with messages, renumbering
// sequence numbers from zero inside one transaction.
func (s *SQLStore) ReplaceAll(ctx context.Context, sessionID string, messages []*models.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("store: clear history: %w", err)
	}
	for i, msg := range messages {
		payload, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("store: marshal message: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (session_id, seq, payload) VALUES (?, ?, ?)
		`, sessionID, i, string(payload)); err != nil {
			return fmt.Errorf("store: insert message: %w", err)
		}
	}

	return tx.Commit()
}
