package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vango-go/vai-voice/pkg/core/types"
)

const maxTxRetries = 10

// RedisStore keeps sessions in Redis so several gateway replicas can share
// them. Expiry is delegated to the key TTL, refreshed on every Get and
// Append. Same-session appends use WATCH/MULTI and retry on conflict.
type RedisStore struct {
	cfg    storeConfig
	client redis.UniversalClient
}

type redisRecord struct {
	History      []types.Turn `json:"history"`
	LastAccessed time.Time    `json:"last_accessed"`
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore requires WithRedisClient.
func NewRedisStore(opts ...Option) (*RedisStore, error) {
	cfg := newStoreConfig(opts)
	if cfg.redisClient == nil {
		return nil, fmt.Errorf("%w: redis client is required", ErrInvalidConfig)
	}
	return &RedisStore{cfg: cfg, client: cfg.redisClient}, nil
}

func (s *RedisStore) key(id string) string {
	return s.cfg.redisPrefix + id
}

// Create implements Store.
func (s *RedisStore) Create(ctx context.Context, initial []types.Turn) (string, error) {
	rec := redisRecord{
		History:      trimHistory(types.CloneTurns(initial), s.cfg.maxHistory),
		LastAccessed: s.cfg.clock(),
	}
	if rec.History == nil {
		rec.History = []types.Turn{}
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshal session: %w", err)
	}

	for i := 0; i < maxTxRetries; i++ {
		id := s.cfg.newID()
		ok, err := s.client.SetNX(ctx, s.key(id), payload, s.cfg.ttl).Result()
		if err != nil {
			return "", fmt.Errorf("create session: %w", err)
		}
		if ok {
			return id, nil
		}
	}
	return "", fmt.Errorf("create session: %w", ErrConflict)
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, id string) ([]types.Turn, error) {
	// GETEX reads and slides the TTL in one command.
	raw, err := s.client.GetEx(ctx, s.key(id), s.cfg.ttl).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	var rec redisRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return rec.History, nil
}

// Append implements Store.
func (s *RedisStore) Append(ctx context.Context, id string, turn types.Turn) error {
	key := s.key(id)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var rec redisRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("decode session: %w", err)
		}
		rec.History = trimHistory(append(rec.History, turn), s.cfg.maxHistory)
		rec.LastAccessed = s.cfg.clock()
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.cfg.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, ErrNotFound):
			s.cfg.logger.Warn("append to unknown session dropped", "session_id", id)
			return nil
		default:
			return fmt.Errorf("append session: %w", err)
		}
	}
	return fmt.Errorf("append session: %w", ErrConflict)
}

// Ping checks connectivity; used by the readiness probe.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
