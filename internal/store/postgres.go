// Package store provides storage backends for CoachPipe.
//
// This file implements a PostgreSQL-backed interaction store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/CoachPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

const postgresUpsert = `INSERT INTO interactions (` + interactionColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	ON CONFLICT (id) DO UPDATE SET
		parent_message = EXCLUDED.parent_message,
		child_message = EXCLUDED.child_message,
		decision = EXCLUDED.decision,
		decision_reasoning = EXCLUDED.decision_reasoning,
		coaching_feedback = EXCLUDED.coaching_feedback,
		blocked_message = EXCLUDED.blocked_message,
		stage = EXCLUDED.stage,
		summary = EXCLUDED.summary,
		positive_feedback = EXCLUDED.positive_feedback,
		negative_feedback = EXCLUDED.negative_feedback,
		message = EXCLUDED.message,
		created_at = EXCLUDED.created_at
	WHERE interactions.chat_id = EXCLUDED.chat_id`

type PostgresStore struct {
	db *sql.DB
}

var _ InteractionStore = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("Postgres ping successful")

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// FetchHistory returns the conversation's records in append order.
func (s *PostgresStore) FetchHistory(ctx context.Context, conversationID string) ([]models.InteractionRecord, error) {
	if conversationID == "" {
		return nil, models.ErrEmptyConversationID
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+interactionColumns+` FROM interactions WHERE chat_id = $1 ORDER BY seq ASC`, conversationID)
	if err != nil {
		slog.Error("PostgresStore FetchHistory query failed", "error", err, "chat_id", conversationID)
		return nil, fmt.Errorf("failed to query interactions: %w", err)
	}
	defer rows.Close()

	records, err := scanInteractions(rows)
	if err != nil {
		slog.Error("PostgresStore FetchHistory scan failed", "error", err, "chat_id", conversationID)
		return nil, err
	}
	slog.Debug("PostgresStore FetchHistory succeeded", "chat_id", conversationID, "count", len(records))
	return records, nil
}

// AppendOrReplace upserts rec keyed by its ID.
func (s *PostgresStore) AppendOrReplace(ctx context.Context, rec models.InteractionRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, postgresUpsert, interactionArgs(rec)...)
	if err != nil {
		slog.Error("PostgresStore AppendOrReplace failed", "error", err, "id", rec.ID, "chat_id", rec.ConversationID)
		return fmt.Errorf("failed to upsert interaction %s: %w", rec.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("interaction %s belongs to another conversation", rec.ID)
	}
	slog.Debug("PostgresStore AppendOrReplace succeeded", "id", rec.ID, "chat_id", rec.ConversationID, "stage", rec.Stage)
	return nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
