// Package store provides storage backends for CoachPipe.
//
// This file implements an SQLite-backed interaction store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/BTreeMap/CoachPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

const sqliteUpsert = `INSERT INTO interactions (` + interactionColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		parent_message = excluded.parent_message,
		child_message = excluded.child_message,
		decision = excluded.decision,
		decision_reasoning = excluded.decision_reasoning,
		coaching_feedback = excluded.coaching_feedback,
		blocked_message = excluded.blocked_message,
		stage = excluded.stage,
		summary = excluded.summary,
		positive_feedback = excluded.positive_feedback,
		negative_feedback = excluded.negative_feedback,
		message = excluded.message,
		created_at = excluded.created_at
	WHERE interactions.chat_id = excluded.chat_id`

type SQLiteStore struct {
	db *sql.DB
}

var _ InteractionStore = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// A single writer keeps read-then-append sequences consistent.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// FetchHistory returns the conversation's records in append order.
func (s *SQLiteStore) FetchHistory(ctx context.Context, conversationID string) ([]models.InteractionRecord, error) {
	if conversationID == "" {
		return nil, models.ErrEmptyConversationID
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+interactionColumns+` FROM interactions WHERE chat_id = ? ORDER BY seq ASC`, conversationID)
	if err != nil {
		slog.Error("SQLiteStore FetchHistory query failed", "error", err, "chat_id", conversationID)
		return nil, fmt.Errorf("failed to query interactions: %w", err)
	}
	defer rows.Close()

	records, err := scanInteractions(rows)
	if err != nil {
		slog.Error("SQLiteStore FetchHistory scan failed", "error", err, "chat_id", conversationID)
		return nil, err
	}
	slog.Debug("SQLiteStore FetchHistory succeeded", "chat_id", conversationID, "count", len(records))
	return records, nil
}

// AppendOrReplace upserts rec keyed by its ID.
func (s *SQLiteStore) AppendOrReplace(ctx context.Context, rec models.InteractionRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, sqliteUpsert, interactionArgs(rec)...)
	if err != nil {
		slog.Error("SQLiteStore AppendOrReplace failed", "error", err, "id", rec.ID, "chat_id", rec.ConversationID)
		return fmt.Errorf("failed to upsert interaction %s: %w", rec.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("interaction %s belongs to another conversation", rec.ID)
	}
	slog.Debug("SQLiteStore AppendOrReplace succeeded", "id", rec.ID, "chat_id", rec.ConversationID, "stage", rec.Stage)
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
