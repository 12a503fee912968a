// Package quota enforces per-tenant request quotas over a rolling fixed
// window backed by an external atomic counter store.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Policy is the quota configuration in effect. Read through a getter so a
// config reload takes effect without restarting the ledger.
type Policy struct {
	DefaultLimit    int
	Window          time.Duration
	TenantOverrides map[string]int
}

// LimitFor resolves the effective limit for a tenant.
func (p Policy) LimitFor(tenant string) int {
	if limit, ok := p.TenantOverrides[tenant]; ok {
		return limit
	}
	return p.DefaultLimit
}

// ExceededError means the tenant is over its window limit. Current is
// informational only.
type ExceededError struct {
	Limit   int
	Current int
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("tenant quota exceeded (limit %d, current %d)", e.Limit, e.Current)
}

// BackendError means the counter store could not be reached; callers must
// treat it as a server-side fault, not quota exhaustion.
type BackendError struct {
	Err error
}

func (e *BackendError) Error() string { return "quota backend error: " + e.Err.Error() }
func (e *BackendError) Unwrap() error { return e.Err }

// CounterStore is the atomic counter primitive the ledger needs from the
// external store.
type CounterStore interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// RedisStore adapts a go-redis client to CounterStore.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	return s.rdb.Incr(ctx, key).Result()
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.rdb.Expire(ctx, key, ttl).Err()
}

// Ledger tracks per-tenant request counts. It holds no local state: every
// check round-trips to the store so concurrent gateway replicas share one
// source of truth.
type Ledger struct {
	store  CounterStore
	policy func() Policy
}

// NewLedger creates a quota ledger. policy is re-read on every check.
func NewLedger(store CounterStore, policy func() Policy) *Ledger {
	return &Ledger{store: store, policy: policy}
}

// CheckAndIncrement charges one request against the tenant's window and
// reports whether it is admitted. A successful charge is never refunded,
// even if the request later fails upstream: the quota counts admitted
// attempts, not completions.
func (l *Ledger) CheckAndIncrement(ctx context.Context, tenant string) error {
	policy := l.policy()
	limit := policy.LimitFor(tenant)
	if limit == 0 {
		// A zero limit blocks the tenant outright.
		return &ExceededError{Limit: limit, Current: limit}
	}

	key := "quota:" + tenant
	count, err := l.store.Incr(ctx, key)
	if err != nil {
		return &BackendError{Err: err}
	}
	if count == 1 {
		// First increment of a fresh window. The expiry is a second
		// round trip, so a crash between the two leaves the key
		// without a TTL until store eviction reclaims it; accepted
		// and documented rather than papered over.
		if err := l.store.Expire(ctx, key, policy.Window); err != nil {
			return &BackendError{Err: err}
		}
	}
	if int(count) > limit {
		return &ExceededError{Limit: limit, Current: int(count)}
	}
	return nil
}
