// Package store provides storage backends for CoachPipe.
//
// Every backend keeps an ordered, per-conversation list of interaction records.
// Append order is the conversation order; AppendOrReplace with an existing record
// ID overwrites that record without moving it.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/BTreeMap/CoachPipe/internal/models"
)

// InteractionStore is the persistence contract used by the orchestrator.
type InteractionStore interface {
	// FetchHistory returns the conversation's records in append order. An unknown
	// conversation yields an empty slice.
	FetchHistory(ctx context.Context, conversationID string) ([]models.InteractionRecord, error)
	// AppendOrReplace upserts rec keyed by rec.ID.
	AppendOrReplace(ctx context.Context, rec models.InteractionRecord) error
	Close() error
}

// Opts holds configuration options for the stores.
type Opts struct {
	DSN       string // connection string or file path
	KeyPrefix string // Redis key namespace
}

// Option defines a configuration option for the stores.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithRedisURL sets the Redis URL (redis:// or rediss://).
func WithRedisURL(url string) Option {
	return func(o *Opts) { o.DSN = url }
}

// WithKeyPrefix namespaces every Redis key.
func WithKeyPrefix(prefix string) Option {
	return func(o *Opts) { o.KeyPrefix = prefix }
}

// DSN types returned by DetectDSNType.
const (
	DSNTypeMemory   = "memory"
	DSNTypeSQLite   = "sqlite"
	DSNTypePostgres = "postgres"
	DSNTypeRedis    = "redis"
)

// DetectDSNType classifies a DSN. An empty DSN means the in-memory store.
func DetectDSNType(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "":
		return DSNTypeMemory
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"), strings.Contains(dsn, "host="):
		return DSNTypePostgres
	case strings.HasPrefix(dsn, "redis://"), strings.HasPrefix(dsn, "rediss://"):
		return DSNTypeRedis
	default:
		return DSNTypeSQLite
	}
}

// New opens the backend matching the configured DSN.
func New(opts ...Option) (InteractionStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	kind := DetectDSNType(cfg.DSN)
	slog.Debug("store.New: selecting backend", "type", kind)
	switch kind {
	case DSNTypeMemory:
		return NewInMemoryStore(), nil
	case DSNTypePostgres:
		return NewPostgresStore(opts...)
	case DSNTypeRedis:
		return NewRedisStore(opts...)
	case DSNTypeSQLite:
		return NewSQLiteStore(opts...)
	}
	return nil, fmt.Errorf("unsupported DSN type %q", kind)
}

// InMemoryStore keeps records in process memory. Used for tests and the console simulator.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string][]models.InteractionRecord
	index   map[string]recordPos
}

type recordPos struct {
	conversationID string
	pos            int
}

var _ InteractionStore = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[string][]models.InteractionRecord),
		index:   make(map[string]recordPos),
	}
}

// FetchHistory returns a copy of the conversation's records.
func (s *InMemoryStore) FetchHistory(_ context.Context, conversationID string) ([]models.InteractionRecord, error) {
	if conversationID == "" {
		return nil, models.ErrEmptyConversationID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.records[conversationID]
	out := make([]models.InteractionRecord, len(recs))
	copy(out, recs)
	return out, nil
}

// AppendOrReplace appends rec, or replaces the record with the same ID in place.
func (s *InMemoryStore) AppendOrReplace(_ context.Context, rec models.InteractionRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.index[rec.ID]; ok {
		if p.conversationID != rec.ConversationID {
			return fmt.Errorf("record %s belongs to conversation %s", rec.ID, p.conversationID)
		}
		s.records[p.conversationID][p.pos] = rec
		return nil
	}
	s.records[rec.ConversationID] = append(s.records[rec.ConversationID], rec)
	s.index[rec.ID] = recordPos{conversationID: rec.ConversationID, pos: len(s.records[rec.ConversationID]) - 1}
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
