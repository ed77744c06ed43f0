package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// SQLite is a local conversation store backed by a SQLite database.
type SQLite struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewSQLite opens (or creates) the database at dbPath
func NewSQLite(dbPath string, logger zerolog.Logger) (*SQLite, error) {
	if dbPath == "" {
		return nil, errors.New("database path is required")
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &SQLite{
		db:     db,
		logger: logger,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.logger.Info().Str("path", dbPath).Msg("SQLite store opened")
	return s, nil
}

func (s *SQLite) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			session_id TEXT PRIMARY KEY,
			entries TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// FetchConversation returns the stored entry document for a session, or nil
// when no row exists.
func (s *SQLite) FetchConversation(ctx context.Context, sessionID string) (json.RawMessage, error) {
	var entries string
	err := s.db.QueryRowContext(ctx,
		"SELECT entries FROM conversations WHERE session_id = ?", sessionID,
	).Scan(&entries)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch conversation: %w", err)
	}

	return json.RawMessage(entries), nil
}

// ReplaceConversation upserts the full entry document for a session.
func (s *SQLite) ReplaceConversation(ctx context.Context, sessionID string, entries json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (session_id, entries, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			entries = excluded.entries,
			updated_at = excluded.updated_at
	`, sessionID, string(entries), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to replace conversation: %w", err)
	}

	return nil
}

// Ping verifies the database is reachable
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database
func (s *SQLite) Close() error {
	return s.db.Close()
}
