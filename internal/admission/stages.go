package admission

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"
)

// Release returns a resource acquired during admission. It must be called
// exactly once on every exit path, normal or not.
type Release func()

// Stage is one admission decision. A stage may return a derived context
// (to annotate the request) and a Release for any capacity it holds.
// Returning an error rejects the request; later stages never run.
type Stage interface {
	Name() string
	Admit(ctx context.Context, r *http.Request) (context.Context, Release, error)
}

// RateLimitStage checks the caller's token bucket. Cheapest gate, always
// first: a rejection here touches neither quota nor worker capacity.
type RateLimitStage struct {
	store *BucketStore
}

func NewRateLimitStage(store *BucketStore) *RateLimitStage {
	return &RateLimitStage{store: store}
}

func (s *RateLimitStage) Name() string { return "rate_limit" }

func (s *RateLimitStage) Admit(ctx context.Context, r *http.Request) (context.Context, Release, error) {
	if !s.store.Get(RateLimitKey(r)).Allow() {
		return ctx, nil, ErrRateLimited
	}
	return ctx, nil, nil
}

// SlotPool is the process-wide concurrency budget: a channel semaphore plus
// a waiter count so the shed stage can see the backlog.
type SlotPool struct {
	sem        chan struct{}
	waiting    atomic.Int64
	maxBacklog int64
}

// NewSlotPool creates a pool of max slots that sheds once maxBacklog
// requests are already queued for one.
func NewSlotPool(max int, maxBacklog int) *SlotPool {
	return &SlotPool{sem: make(chan struct{}, max), maxBacklog: int64(maxBacklog)}
}

// Saturated reports whether all slots are taken and the queue is full.
func (p *SlotPool) Saturated() bool {
	return len(p.sem) == cap(p.sem) && p.waiting.Load() >= p.maxBacklog
}

// Acquire blocks for a slot until ctx is done. The returned Release is safe
// to call exactly once.
func (p *SlotPool) Acquire(ctx context.Context) (Release, error) {
	p.waiting.Add(1)
	defer p.waiting.Add(-1)
	select {
	case p.sem <- struct{}{}:
		return func() { <-p.sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ShedStage rejects outright when the pool is saturated, before the request
// consumes a queue position.
type ShedStage struct {
	pool *SlotPool
}

func NewShedStage(pool *SlotPool) *ShedStage { return &ShedStage{pool: pool} }

func (s *ShedStage) Name() string { return "load_shed" }

func (s *ShedStage) Admit(ctx context.Context, _ *http.Request) (context.Context, Release, error) {
	if s.pool.Saturated() {
		return ctx, nil, ErrOverloaded
	}
	return ctx, nil, nil
}

type deadlineKey struct{}

// TimeoutStage stamps the request with an absolute deadline. The deadline
// deliberately lives beside the request context rather than in it: a
// streamed response must outlive it once the first upstream item arrives,
// so enforcement is left to the bounded phases (queueing, buffered round
// trip, stream connect plus first item).
type TimeoutStage struct {
	d time.Duration
}

func NewTimeoutStage(d time.Duration) *TimeoutStage { return &TimeoutStage{d: d} }

func (s *TimeoutStage) Name() string { return "timeout" }

func (s *TimeoutStage) Admit(ctx context.Context, _ *http.Request) (context.Context, Release, error) {
	return context.WithValue(ctx, deadlineKey{}, time.Now().Add(s.d)), nil, nil
}

// DeadlineAt returns the admission deadline stamped by TimeoutStage.
func DeadlineAt(ctx context.Context) (time.Time, bool) {
	dl, ok := ctx.Value(deadlineKey{}).(time.Time)
	return dl, ok
}

// BoundedContext derives a context that expires at the admission deadline,
// or a plain cancellable context when no timeout stage is configured.
func BoundedContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if dl, ok := DeadlineAt(ctx); ok {
		return context.WithDeadline(ctx, dl)
	}
	return context.WithCancel(ctx)
}

// ConcurrencyStage queues for a global slot; queueing is bounded by the
// admission deadline when one is set, providing backpressure rather than
// rejection.
type ConcurrencyStage struct {
	pool *SlotPool
}

func NewConcurrencyStage(pool *SlotPool) *ConcurrencyStage {
	return &ConcurrencyStage{pool: pool}
}

func (s *ConcurrencyStage) Name() string { return "concurrency" }

func (s *ConcurrencyStage) Admit(ctx context.Context, _ *http.Request) (context.Context, Release, error) {
	bctx, cancel := BoundedContext(ctx)
	defer cancel()

	release, err := s.pool.Acquire(bctx)
	if err != nil {
		if ctx.Err() == nil {
			// The admission deadline, not the client, ended the wait.
			return ctx, nil, ErrTimedOut
		}
		return ctx, nil, err
	}
	return ctx, release, nil
}
