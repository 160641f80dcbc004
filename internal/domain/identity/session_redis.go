package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/mediclo/mediclo/internal/errs"
)

// redisSessionGrace keeps a session key around a little past its expiry so
// the service still sees it, reports it expired and deletes it.
const redisSessionGrace = time.Hour

const redisSessionPrefix = "mediclo:session:"

type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisSessionRepo stores sessions as JSON values in Redis.
type RedisSessionRepo struct {
	client redisClient
	now    func() time.Time
}

func NewRedisSessionRepo(client redisClient) *RedisSessionRepo {
	return &RedisSessionRepo{client: client, now: time.Now}
}

// NewRedisClient connects to the Redis server at url ("redis://host:6379/0").
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %v: %w", err, errs.ErrStoreUnavailable)
	}
	return client, nil
}

func redisKey(id string) string { return redisSessionPrefix + id }

func (r *RedisSessionRepo) Save(ctx context.Context, s *Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	ttl := s.ExpiresAt.Sub(r.now()) + redisSessionGrace
	if ttl < redisSessionGrace {
		ttl = redisSessionGrace
	}
	if err := r.client.Set(ctx, redisKey(s.ID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %v: %w", err, errs.ErrStoreUnavailable)
	}
	return nil
}

func (r *RedisSessionRepo) Get(ctx context.Context, id string) (*Session, error) {
	raw, err := r.client.Get(ctx, redisKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("session %q: %w", id, errs.ErrNotFound)
		}
		return nil, fmt.Errorf("redis get: %v: %w", err, errs.ErrStoreUnavailable)
	}
	s := &Session{}
	if err := json.Unmarshal(raw, s); err != nil {
		return nil, fmt.Errorf("decode session: %v: %w", err, errs.ErrStoreUnavailable)
	}
	s.ID = id
	return s, nil
}

// Touch rewrites the session with a new lastActivity, keeping the key TTL.
func (r *RedisSessionRepo) Touch(ctx context.Context, id string, at time.Time) error {
	s, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	s.LastActivity = at
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := r.client.Set(ctx, redisKey(id), raw, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("redis set: %v: %w", err, errs.ErrStoreUnavailable)
	}
	return nil
}

func (r *RedisSessionRepo) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, redisKey(id)).Err(); err != nil {
		return fmt.Errorf("redis del: %v: %w", err, errs.ErrStoreUnavailable)
	}
	return nil
}
