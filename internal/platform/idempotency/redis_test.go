package idempotency

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// fakeRedis implements the handful of commands RedisStore issues. TTLs are recorded, not enforced.
type fakeRedis struct {
	mu      sync.Mutex
	values  map[string]string
	ttls    map[string]time.Duration
	dropGet int
	err     error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	if _, ok := f.values[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.values[key] = string(value.([]byte))
	f.ttls[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dropGet > 0 {
		// Simulate the key expiring right after a lost SETNX.
		f.dropGet--
		delete(f.values, key)
	}
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = string(value.([]byte))
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.values[k]; ok {
			delete(f.values, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestRedisStoreReserveLifecycle(t *testing.T) {
	client := newFakeRedis()
	store := NewRedisStore(client, WithKeyPrefix("orderflow:idem:"), WithPendingTTL(time.Minute))
	ctx := context.Background()

	first, err := store.Reserve(ctx, "key|staff-1", "fp", fixedTime, time.Hour)
	if err != nil || first.State != ReservationStateNew {
		t.Fatalf("expected new reservation, got %+v %v", first, err)
	}
	redisKey := "orderflow:idem:" + recordID("key|staff-1")
	if client.ttls[redisKey] != time.Minute {
		t.Fatalf("expected pending lease of one minute, got %s", client.ttls[redisKey])
	}

	pending, err := store.Reserve(ctx, "key|staff-1", "fp", fixedTime, time.Hour)
	if err != nil || pending.State != ReservationStatePending {
		t.Fatalf("expected pending reservation, got %+v %v", pending, err)
	}
	if _, err := store.Reserve(ctx, "key|staff-1", "different", fixedTime, time.Hour); !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("expected fingerprint mismatch, got %v", err)
	}

	resp := Response{Status: http.StatusCreated, Headers: http.Header{"Content-Type": {"application/json"}, "Date": {"now"}}, Body: []byte(`{"ok":true}`)}
	if err := store.SaveResponse(ctx, "key|staff-1", "fp", resp, fixedTime, time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}
	if client.ttls[redisKey] != time.Hour {
		t.Fatalf("expected completed record to live for the full ttl, got %s", client.ttls[redisKey])
	}

	done, err := store.Reserve(ctx, "key|staff-1", "fp", fixedTime, time.Hour)
	if err != nil || done.State != ReservationStateCompleted {
		t.Fatalf("expected completed reservation, got %+v %v", done, err)
	}
	if string(done.Record.ResponseBody) != `{"ok":true}` || done.Record.ResponseStatus != http.StatusCreated {
		t.Fatalf("unexpected stored record %+v", done.Record)
	}
	if _, ok := done.Record.ResponseHeaders["Date"]; ok {
		t.Fatalf("hop-by-hop headers must not be stored")
	}
}

func TestRedisStoreReserveRetriesWhenKeyExpires(t *testing.T) {
	client := newFakeRedis()
	store := NewRedisStore(client)
	ctx := context.Background()

	if _, err := store.Reserve(ctx, "k", "fp", fixedTime, time.Hour); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	client.dropGet = 1

	res, err := store.Reserve(ctx, "k", "other", fixedTime, time.Hour)
	if err != nil || res.State != ReservationStateNew || res.Record.Fingerprint != "other" {
		t.Fatalf("expected the second caller to claim the expired key, got %+v %v", res, err)
	}
}

func TestRedisStoreReleaseOnlyOwnReservation(t *testing.T) {
	client := newFakeRedis()
	store := NewRedisStore(client)
	ctx := context.Background()

	if _, err := store.Reserve(ctx, "k", "fp", fixedTime, time.Hour); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := store.Release(ctx, "k", "someone-else"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if len(client.values) != 1 {
		t.Fatalf("foreign release must not delete the reservation")
	}
	if err := store.Release(ctx, "k", "fp"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if len(client.values) != 0 {
		t.Fatalf("expected reservation to be deleted")
	}
	if err := store.Release(ctx, "missing", "fp"); err != nil {
		t.Fatalf("releasing a missing key should succeed, got %v", err)
	}
}

func TestRedisStoreSurfacesClientErrors(t *testing.T) {
	client := newFakeRedis()
	client.err = errors.New("dial tcp: connection refused")
	store := NewRedisStore(client)

	if _, err := store.Reserve(context.Background(), "k", "fp", fixedTime, time.Hour); !errors.Is(err, client.err) {
		t.Fatalf("expected wrapped client error, got %v", err)
	}
}
