package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/agentrouter/core"
)

// DefaultRedisKeyPrefix namespaces history lists in Redis.
const DefaultRedisKeyPrefix = "agentrouter:history:"

// RedisStore keeps each conversation as a Redis list. RPUSH is atomic so
// concurrent appends from several router instances never lose entries.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// RedisStoreOptions configures a RedisStore.
type RedisStoreOptions struct {
	// KeyPrefix defaults to DefaultRedisKeyPrefix.
	KeyPrefix string
	// TTL expires idle conversations; zero keeps them forever.
	TTL time.Duration
}

// NewRedisStore creates a store backed by client.
func NewRedisStore(client redis.UniversalClient, optFns ...func(o *RedisStoreOptions)) *RedisStore {
	opts := RedisStoreOptions{KeyPrefix: DefaultRedisKeyPrefix}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &RedisStore{
		client: client,
		prefix: opts.KeyPrefix,
		ttl:    opts.TTL,
		now:    time.Now,
	}
}

type redisRecord struct {
	ID        string          `json:"id"`
	Actor     string          `json:"actor"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"ts"`
}

func (s *RedisStore) key(conversationID string) string { return s.prefix + conversationID }

// Append pushes one entry onto the conversation list.
func (s *RedisStore) Append(ctx context.Context, conversationID, actor string, payload core.Payload) (core.HistoryEntry, error) {
	raw, err := core.EncodePayload(payload)
	if err != nil {
		return core.HistoryEntry{}, fmt.Errorf("encode payload: %w", err)
	}

	ts := s.now().UTC()
	entry := core.HistoryEntry{
		ID:             newEntryID(ts),
		ConversationID: conversationID,
		Actor:          actor,
		Payload:        payload,
		Timestamp:      ts,
	}

	rec, err := json.Marshal(redisRecord{ID: entry.ID, Actor: actor, Payload: raw, Timestamp: ts})
	if err != nil {
		return core.HistoryEntry{}, fmt.Errorf("encode history record: %w", err)
	}

	key := s.key(conversationID)
	if err := s.client.RPush(ctx, key, rec).Err(); err != nil {
		return core.HistoryEntry{}, fmt.Errorf("redis rpush: %w", err)
	}
	if s.ttl > 0 {
		if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
			return core.HistoryEntry{}, fmt.Errorf("redis expire: %w", err)
		}
	}

	return entry, nil
}

// FetchLastN returns up to n most recent entries, oldest first.
func (s *RedisStore) FetchLastN(ctx context.Context, conversationID string, n int) ([]core.HistoryEntry, error) {
	if n <= 0 {
		return []core.HistoryEntry{}, nil
	}

	items, err := s.client.LRange(ctx, s.key(conversationID), int64(-n), -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis lrange: %w", err)
	}

	out := make([]core.HistoryEntry, 0, len(items))
	for _, item := range items {
		out = append(out, decodeRecord(conversationID, item))
	}

	return out, nil
}

// decodeRecord never fails: a corrupted record becomes a text entry holding
// the raw bytes.
func decodeRecord(conversationID, item string) core.HistoryEntry {
	var rec redisRecord
	if err := json.Unmarshal([]byte(item), &rec); err != nil {
		return core.HistoryEntry{
			ConversationID: conversationID,
			Payload:        core.TextPayload(item),
		}
	}
	return core.HistoryEntry{
		ID:             rec.ID,
		ConversationID: conversationID,
		Actor:          rec.Actor,
		Payload:        core.DecodePayload(rec.Payload),
		Timestamp:      rec.Timestamp,
	}
}

var _ core.ConversationStore = (*RedisStore)(nil)
