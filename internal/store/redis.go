package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/urska/config"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each record as a JSON string with a TTL and indexes ids in
// a sorted set scored by creation time.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects and pings Redis.
func NewRedisStore(ctx context.Context, cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr(),
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.Timeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisStoreWithClient(client, cfg.KeyPrefix, cfg.RunTTL), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "urska"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) runKey(id string) string { return s.prefix + ":run:" + id }
func (s *RedisStore) indexKey() string        { return s.prefix + ":runs" }

func (s *RedisStore) Save(ctx context.Context, rec RunRecord) error {
	if err := validate(rec); err != nil {
		return err
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal run %s: %w", rec.ID, err)
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.runKey(rec.ID), raw, s.ttl)
		p.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(rec.CreatedAt.UnixNano()), Member: rec.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("save run %s: %w", rec.ID, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (RunRecord, error) {
	raw, err := s.client.Get(ctx, s.runKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return RunRecord{}, ErrNotFound
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("get run %s: %w", id, err)
	}
	var rec RunRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return RunRecord{}, fmt.Errorf("decode run %s: %w", id, err)
	}
	return rec, nil
}

// List drops index entries whose record has expired.
func (s *RedisStore) List(ctx context.Context, limit int) ([]RunRecord, error) {
	limit = normalizeLimit(limit)
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.runKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load runs: %w", err)
	}
	out := make([]RunRecord, 0, len(vals))
	var expired []interface{}
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}
		var rec RunRecord
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			return nil, fmt.Errorf("decode run %s: %w", ids[i], err)
		}
		out = append(out, rec)
	}
	if len(expired) > 0 {
		_ = s.client.ZRem(ctx, s.indexKey(), expired...).Err()
	}
	return out, nil
}

func (s *RedisStore) Close() error { return s.client.Close() }
