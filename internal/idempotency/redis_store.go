package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisNamespace = "idempotency"

// RedisStore keeps records as JSON values whose TTL is the record expiry.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore connects to a single Redis node and checks it responds.
func NewRedisStore(ctx context.Context, addr, password string) (*RedisStore, error) {
	if addr == "" {
		return nil, errors.New("redis address is empty")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func redisKey(key string) string { return redisNamespace + ":" + key }

func (r *RedisStore) Get(ctx context.Context, key string) (*Record, error) {
	blob, err := r.client.Get(ctx, redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(blob, &rec); err != nil {
		return nil, err
	}
	if rec.expired(time.Now()) {
		return nil, nil
	}
	return &rec, nil
}

func (r *RedisStore) Reserve(ctx context.Context, key string, until time.Time) (bool, error) {
	now := time.Now()
	ttl := until.Sub(now)
	if ttl <= 0 {
		return false, errors.New("reservation already expired")
	}
	blob, err := json.Marshal(pendingRecord(now, until))
	if err != nil {
		return false, err
	}
	return r.client.SetNX(ctx, redisKey(key), blob, ttl).Result()
}

func (r *RedisStore) Save(ctx context.Context, key string, record Record) error {
	ttl := time.Until(record.ExpiresAt)
	if ttl <= 0 {
		return r.Release(ctx, key)
	}
	blob, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, redisKey(key), blob, ttl).Err()
}

func (r *RedisStore) Release(ctx context.Context, key string) error {
	return r.client.Del(ctx, redisKey(key)).Err()
}
