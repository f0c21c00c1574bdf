package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisKeyPrefix = "idempotency:"
	defaultReserveRetries = 3
)

type redisClient interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisOption customises the RedisStore behaviour.
type RedisOption func(*RedisStore)

// WithKeyPrefix namespaces the keys written by the store.
func WithKeyPrefix(prefix string) RedisOption {
	return func(store *RedisStore) {
		if prefix != "" {
			store.prefix = prefix
		}
	}
}

// WithPendingTTL bounds how long an unfinished reservation blocks retries.
func WithPendingTTL(ttl time.Duration) RedisOption {
	return func(store *RedisStore) {
		if ttl > 0 {
			store.pendingTTL = ttl
		}
	}
}

// RedisStore implements Store on Redis so every API instance shares the same reservations.
// Record expiry is delegated to Redis key TTLs.
type RedisStore struct {
	client     redisClient
	prefix     string
	pendingTTL time.Duration
}

// NewRedisStore constructs a Redis-backed idempotency store.
func NewRedisStore(client redisClient, opts ...RedisOption) *RedisStore {
	store := &RedisStore{
		client:     client,
		prefix:     defaultRedisKeyPrefix,
		pendingTTL: DefaultPendingTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

// Reserve claims key with SETNX; a losing caller reads the winner's record instead.
func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	lease := min(normalizeTTL(ttl), s.pendingTTL)
	pending := newPendingRecord(key, fingerprint, now, lease)
	data, err := json.Marshal(pending)
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: encode record: %w", err)
	}

	redisKey := s.redisKey(key)
	for range defaultReserveRetries {
		claimed, err := s.client.SetNX(ctx, redisKey, data, lease).Result()
		if err != nil {
			return Reservation{}, fmt.Errorf("idempotency: reserve: %w", err)
		}
		if claimed {
			return Reservation{State: ReservationStateNew, Record: pending}, nil
		}

		record, found, err := s.load(ctx, redisKey)
		if err != nil {
			return Reservation{}, err
		}
		if !found {
			// Expired between SETNX and GET; try to claim again.
			continue
		}
		return classify(record, fingerprint)
	}
	return Reservation{}, fmt.Errorf("idempotency: reserve %s: key kept expiring under contention", key)
}

// SaveResponse stores the completed response for replay.
func (s *RedisStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	ttl = normalizeTTL(ttl)
	redisKey := s.redisKey(key)

	record, found, err := s.load(ctx, redisKey)
	if err != nil {
		return err
	}
	if found && record.Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	if !found {
		record = Record{Key: key, Fingerprint: fingerprint}
	}

	data, err := json.Marshal(complete(record, resp, now, ttl))
	if err != nil {
		return fmt.Errorf("idempotency: encode record: %w", err)
	}
	if err := s.client.Set(ctx, redisKey, data, ttl).Err(); err != nil {
		return fmt.Errorf("idempotency: save response: %w", err)
	}
	return nil
}

// Release deletes the reservation so that the client may retry.
func (s *RedisStore) Release(ctx context.Context, key, fingerprint string) error {
	redisKey := s.redisKey(key)
	record, found, err := s.load(ctx, redisKey)
	if err != nil || !found {
		return err
	}
	if record.Fingerprint != fingerprint {
		return nil
	}
	if err := s.client.Del(ctx, redisKey).Err(); err != nil {
		return fmt.Errorf("idempotency: release: %w", err)
	}
	return nil
}

// CleanupExpired is a no-op: Redis evicts records when their TTL elapses.
func (s *RedisStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func (s *RedisStore) load(ctx context.Context, redisKey string) (Record, bool, error) {
	raw, err := s.client.Get(ctx, redisKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("idempotency: load: %w", err)
	}
	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return Record{}, false, fmt.Errorf("idempotency: decode record: %w", err)
	}
	return record, true, nil
}

func (s *RedisStore) redisKey(key string) string {
	return s.prefix + recordID(key)
}
