// Package store provides storage backends for CoachPipe.
//
// This file implements a Redis-backed interaction store. Each conversation is a
// list of record IDs; each record is a JSON string under its own key. Record
// keys are global so an ID cannot be reused by another conversation, which
// limits the store to single-node Redis: the upsert script spans two key slots.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/BTreeMap/CoachPipe/internal/models"
)

// DefaultRedisKeyPrefix namespaces keys when no prefix is configured.
const DefaultRedisKeyPrefix = "coachpipe:"

// upsertScript writes the record and appends its ID only on first insert, atomically.
// KEYS[1] record key, KEYS[2] conversation list key; ARGV[1] JSON, ARGV[2] record ID, ARGV[3] chat_id.
var upsertScript = goredis.NewScript(`
local existing = redis.call('GET', KEYS[1])
if existing then
	local ok, decoded = pcall(cjson.decode, existing)
	if ok and decoded['chat_id'] ~= ARGV[3] then
		return redis.error_reply('record belongs to another conversation')
	end
	redis.call('SET', KEYS[1], ARGV[1])
	return 0
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('RPUSH', KEYS[2], ARGV[2])
return 1
`)

type RedisStore struct {
	rdb    *goredis.Client
	prefix string
}

var _ InteractionStore = (*RedisStore)(nil)

// NewRedisStore connects to Redis using a redis:// or rediss:// URL.
func NewRedisStore(opts ...Option) (*RedisStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("RedisStore.NewRedisStore: creating Redis store", "DSN_set", cfg.DSN != "")
	if cfg.DSN == "" {
		return nil, fmt.Errorf("redis URL not set")
	}

	ropts, err := goredis.ParseURL(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if ropts.DialTimeout == 0 {
		ropts.DialTimeout = 5 * time.Second
	}
	rdb := goredis.NewClient(ropts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		slog.Error("Redis ping failed", "error", err)
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	info, err := rdb.Info(ctx, "cluster").Result()
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis info: %w", err)
	}
	if clusterEnabled(info) {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis cluster mode is not supported; use a single-node or replicated primary")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	slog.Debug("Redis ping successful", "prefix", prefix)
	return &RedisStore{rdb: rdb, prefix: prefix}, nil
}

// clusterEnabled reports whether an INFO cluster reply has cluster_enabled:1.
func clusterEnabled(info string) bool {
	for _, line := range strings.Split(info, "\n") {
		key, val, ok := strings.Cut(strings.TrimSpace(line), ":")
		if ok && key == "cluster_enabled" {
			return val == "1"
		}
	}
	return false
}

func (s *RedisStore) conversationKey(conversationID string) string {
	return s.prefix + "chat:" + conversationID
}

func (s *RedisStore) recordKey(id string) string {
	return s.prefix + "record:" + id
}

// FetchHistory returns the conversation's records in append order.
func (s *RedisStore) FetchHistory(ctx context.Context, conversationID string) ([]models.InteractionRecord, error) {
	if conversationID == "" {
		return nil, models.ErrEmptyConversationID
	}
	ids, err := s.rdb.LRange(ctx, s.conversationKey(conversationID), 0, -1).Result()
	if err != nil {
		slog.Error("RedisStore FetchHistory LRANGE failed", "error", err, "chat_id", conversationID)
		return nil, fmt.Errorf("failed to list interactions: %w", err)
	}
	records := make([]models.InteractionRecord, 0, len(ids))
	if len(ids) == 0 {
		return records, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.recordKey(id)
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		slog.Error("RedisStore FetchHistory MGET failed", "error", err, "chat_id", conversationID)
		return nil, fmt.Errorf("failed to load interactions: %w", err)
	}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("interaction %s listed but missing", ids[i])
		}
		var rec models.InteractionRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode interaction %s: %w", ids[i], err)
		}
		records = append(records, rec)
	}
	slog.Debug("RedisStore FetchHistory succeeded", "chat_id", conversationID, "count", len(records))
	return records, nil
}

// AppendOrReplace upserts rec keyed by its ID.
func (s *RedisStore) AppendOrReplace(ctx context.Context, rec models.InteractionRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode interaction %s: %w", rec.ID, err)
	}
	keys := []string{s.recordKey(rec.ID), s.conversationKey(rec.ConversationID)}
	inserted, err := upsertScript.Run(ctx, s.rdb, keys, string(data), rec.ID, rec.ConversationID).Int()
	if err != nil {
		slog.Error("RedisStore AppendOrReplace failed", "error", err, "id", rec.ID, "chat_id", rec.ConversationID)
		return fmt.Errorf("failed to upsert interaction %s: %w", rec.ID, err)
	}
	slog.Debug("RedisStore AppendOrReplace succeeded", "id", rec.ID, "chat_id", rec.ConversationID, "inserted", inserted == 1)
	return nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
