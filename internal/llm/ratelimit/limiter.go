// Package ratelimit provides a per-key token bucket with fair FIFO waiters.
// Keys are typically "<provider>:<model>". Unknown keys are unlimited.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/featherdev/feather/internal/llm"
)

// Limit configures one key's bucket. Burst defaults to RPS when zero.
type Limit struct {
	RPS   float64
	Burst float64
}

// Limiter manages one token bucket per configured key. Waiters blocked in
// Take are served strictly in enqueue order.
type Limiter struct {
	mu      sync.Mutex
	limits  map[string]Limit
	buckets map[string]*bucket
}

type bucket struct {
	limit      Limit
	tokens     float64
	lastRefill time.Time
	waiters    []*waiter
	pumping    bool
}

type waiter struct {
	ready chan struct{}
}

// New creates a limiter for the given per-key limits. Entries with a
// non-positive RPS are dropped: a bucket that never refills would block its
// waiters forever, so such keys are treated as unlimited.
func New(limits map[string]Limit) *Limiter {
	normalized := make(map[string]Limit, len(limits))
	for k, l := range limits {
		if l.RPS <= 0 {
			continue
		}
		if l.Burst <= 0 {
			l.Burst = l.RPS
		}
		normalized[k] = l
	}
	return &Limiter{
		limits:  normalized,
		buckets: make(map[string]*bucket),
	}
}

// CompositeKey joins provider and model into the canonical limiter key.
func CompositeKey(provider, model string) string {
	return provider + ":" + model
}

// TryTake consumes one token from key's bucket if available. Keys without a
// configured limit always succeed.
func (l *Limiter) TryTake(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.bucketFor(key)
	if !ok {
		return true
	}
	b.refill(time.Now())
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Take consumes one token, blocking in FIFO order until one is available or
// ctx is done. Cancelled waiters are removed from the queue and receive the
// canonical aborted error.
func (l *Limiter) Take(ctx context.Context, key string) error {
	l.mu.Lock()
	b, ok := l.bucketFor(key)
	if !ok {
		l.mu.Unlock()
		return nil
	}
	now := time.Now()
	b.refill(now)
	if len(b.waiters) == 0 && b.tokens >= 1 {
		b.tokens--
		l.mu.Unlock()
		return nil
	}

	w := &waiter{ready: make(chan struct{})}
	b.waiters = append(b.waiters, w)
	l.schedulePump(b, now)
	l.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		removed := b.remove(w)
		l.mu.Unlock()
		if !removed {
			// The pump granted a token concurrently with cancellation;
			// honor the grant so the accounting stays consistent.
			return nil
		}
		return llm.Abort(ctx.Err())
	}
}

// bucketFor returns the bucket for key, creating it lazily. The second
// return is false for unlimited keys.
func (l *Limiter) bucketFor(key string) (*bucket, bool) {
	limit, ok := l.limits[key]
	if !ok {
		return nil, false
	}
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limit: limit, tokens: limit.Burst, lastRefill: time.Now()}
		l.buckets[key] = b
	}
	return b, true
}

// schedulePump arms a timer that refills the bucket roughly when the next
// token becomes available and drains as many waiters as tokens permit.
// Caller holds l.mu.
func (l *Limiter) schedulePump(b *bucket, now time.Time) {
	if b.pumping || len(b.waiters) == 0 {
		return
	}
	b.pumping = true
	need := 1 - b.tokens
	if need < 0 {
		need = 0
	}
	delay := time.Duration(need / b.limit.RPS * float64(time.Second))
	time.AfterFunc(delay, func() { l.pump(b) })
}

func (l *Limiter) pump(b *bucket) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b.pumping = false
	b.refill(time.Now())
	for len(b.waiters) > 0 && b.tokens >= 1 {
		b.tokens--
		w := b.waiters[0]
		b.waiters = b.waiters[1:]
		close(w.ready)
	}
	l.schedulePump(b, time.Now())
}

// refill adds elapsed*rps tokens, capped at burst. Caller holds the lock.
func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.lastRefill = now
	b.tokens += elapsed * b.limit.RPS
	if b.tokens > b.limit.Burst {
		b.tokens = b.limit.Burst
	}
}

// remove deletes w from the queue, reporting whether it was still enqueued.
func (b *bucket) remove(w *waiter) bool {
	for i, q := range b.waiters {
		if q == w {
			b.waiters = append(b.waiters[:i], b.waiters[i+1:]...)
			return true
		}
	}
	return false
}
