package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeStore is an in-memory CounterStore with manually advanced time so
// window expiry is deterministic.
type fakeStore struct {
	mu      sync.Mutex
	counts  map[string]int64
	expires map[string]time.Time
	now     time.Time

	incrErr   error
	expireErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		counts:  make(map[string]int64),
		expires: make(map[string]time.Time),
		now:     time.Unix(1000, 0),
	}
}

func (f *fakeStore) Incr(_ context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.incrErr != nil {
		return 0, f.incrErr
	}
	if exp, ok := f.expires[key]; ok && !f.now.Before(exp) {
		delete(f.counts, key)
		delete(f.expires, key)
	}
	f.counts[key]++
	return f.counts[key], nil
}

func (f *fakeStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.expireErr != nil {
		return f.expireErr
	}
	f.expires[key] = f.now.Add(ttl)
	return nil
}

func (f *fakeStore) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func fixedPolicy(p Policy) func() Policy {
	return func() Policy { return p }
}

func TestLedger_AdmitsUnderLimit(t *testing.T) {
	store := newFakeStore()
	l := NewLedger(store, fixedPolicy(Policy{DefaultLimit: 2, Window: time.Minute}))

	for i := 1; i <= 2; i++ {
		if err := l.CheckAndIncrement(context.Background(), "t1"); err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
	}
}

func TestLedger_RejectsOverLimit(t *testing.T) {
	store := newFakeStore()
	l := NewLedger(store, fixedPolicy(Policy{DefaultLimit: 2, Window: time.Minute}))

	ctx := context.Background()
	_ = l.CheckAndIncrement(ctx, "t1")
	_ = l.CheckAndIncrement(ctx, "t1")

	err := l.CheckAndIncrement(ctx, "t1")
	var exceeded *ExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected ExceededError, got %v", err)
	}
	if exceeded.Limit != 2 || exceeded.Current != 3 {
		t.Errorf("expected limit=2 current=3, got limit=%d current=%d", exceeded.Limit, exceeded.Current)
	}
}

func TestLedger_WindowResets(t *testing.T) {
	store := newFakeStore()
	l := NewLedger(store, fixedPolicy(Policy{DefaultLimit: 2, Window: time.Minute}))

	ctx := context.Background()
	_ = l.CheckAndIncrement(ctx, "t1")
	_ = l.CheckAndIncrement(ctx, "t1")
	if err := l.CheckAndIncrement(ctx, "t1"); err == nil {
		t.Fatal("expected third call in window to fail")
	}

	store.advance(time.Minute + time.Second)

	if err := l.CheckAndIncrement(ctx, "t1"); err != nil {
		t.Fatalf("expected fresh window to admit, got %v", err)
	}
	if store.counts["quota:t1"] != 1 {
		t.Errorf("expected fresh count of 1, got %d", store.counts["quota:t1"])
	}
}

func TestLedger_ZeroLimitAlwaysBlocks(t *testing.T) {
	store := newFakeStore()
	l := NewLedger(store, fixedPolicy(Policy{
		DefaultLimit:    100,
		Window:          time.Minute,
		TenantOverrides: map[string]int{"blocked": 0},
	}))

	for i := 0; i < 3; i++ {
		err := l.CheckAndIncrement(context.Background(), "blocked")
		var exceeded *ExceededError
		if !errors.As(err, &exceeded) {
			t.Fatalf("expected ExceededError, got %v", err)
		}
	}
	if _, ok := store.counts["quota:blocked"]; ok {
		t.Error("zero-limit tenant must never touch the store")
	}
}

func TestLedger_TenantOverride(t *testing.T) {
	store := newFakeStore()
	l := NewLedger(store, fixedPolicy(Policy{
		DefaultLimit:    1,
		Window:          time.Minute,
		TenantOverrides: map[string]int{"vip": 3},
	}))

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		if err := l.CheckAndIncrement(ctx, "vip"); err != nil {
			t.Fatalf("vip call %d: unexpected error: %v", i, err)
		}
	}
	if err := l.CheckAndIncrement(ctx, "vip"); err == nil {
		t.Error("expected vip to be limited at 4th call")
	}

	_ = l.CheckAndIncrement(ctx, "other")
	if err := l.CheckAndIncrement(ctx, "other"); err == nil {
		t.Error("expected default limit of 1 for other tenants")
	}
}

func TestLedger_BackendFailure(t *testing.T) {
	store := newFakeStore()
	store.incrErr = errors.New("connection refused")
	l := NewLedger(store, fixedPolicy(Policy{DefaultLimit: 2, Window: time.Minute}))

	err := l.CheckAndIncrement(context.Background(), "t1")
	var backend *BackendError
	if !errors.As(err, &backend) {
		t.Fatalf("expected BackendError, got %v", err)
	}
	var exceeded *ExceededError
	if errors.As(err, &exceeded) {
		t.Error("backend failure must not be reported as quota exhaustion")
	}
}

func TestLedger_ExpireSetOnlyOnFirstIncrement(t *testing.T) {
	store := newFakeStore()
	l := NewLedger(store, fixedPolicy(Policy{DefaultLimit: 5, Window: time.Minute}))

	ctx := context.Background()
	_ = l.CheckAndIncrement(ctx, "t1")
	first := store.expires["quota:t1"]
	store.advance(10 * time.Second)
	_ = l.CheckAndIncrement(ctx, "t1")

	if store.expires["quota:t1"] != first {
		t.Error("expiry must only be set when the counter becomes 1")
	}
}
