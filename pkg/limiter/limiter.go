// Package limiter provides admission control for execution submissions.
package limiter

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Policy caps the submission rate per tenant.
type Policy struct {
	PerMinute int
	Burst     int
}

// DefaultPolicy admits 60 submissions per minute with a burst of 10.
func DefaultPolicy() Policy {
	return Policy{PerMinute: 60, Burst: 10}
}

func (p Policy) ratePerSec() float64 {
	rate := float64(p.PerMinute) / 60.0
	if rate <= 0 {
		rate = 1
	}
	return rate
}

// Store abstracts the bucket state so a shared backend can enforce limits
// across engine replicas.
type Store interface {
	Allow(ctx context.Context, tenantID string, policy Policy, cost int) (bool, error)
}

// Check admits or rejects one submission. A nil store fails closed.
func Check(ctx context.Context, store Store, tenantID string, policy Policy) error {
	if store == nil {
		return fmt.Errorf("admission: no limiter store configured")
	}
	allowed, err := store.Allow(ctx, tenantID, policy, 1)
	if err != nil {
		return fmt.Errorf("admission check: %w", err)
	}
	if !allowed {
		return fmt.Errorf("admission: rate limit exceeded for %s", tenantID)
	}
	return nil
}

type bucket struct {
	tokens     float64
	capacity   float64
	refillRate float64
	lastRefill time.Time
}

func (b *bucket) allow(cost int, now time.Time) bool {
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now

	if b.tokens >= float64(cost) {
		b.tokens -= float64(cost)
		return true
	}
	return false
}

// Memory is a single-process Store.
type Memory struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	clock   func() time.Time
}

// NewMemory creates an in-memory store.
func NewMemory() *Memory {
	return NewMemoryWithClock(time.Now)
}

// NewMemoryWithClock creates a store with an injectable clock.
func NewMemoryWithClock(clock func() time.Time) *Memory {
	return &Memory{buckets: make(map[string]*bucket), clock: clock}
}

// Allow implements Store.
func (m *Memory) Allow(ctx context.Context, tenantID string, policy Policy, cost int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[tenantID]
	if !ok {
		b = &bucket{
			tokens:     float64(policy.Burst),
			capacity:   float64(policy.Burst),
			refillRate: policy.ratePerSec(),
			lastRefill: m.clock(),
		}
		m.buckets[tenantID] = b
	}
	return b.allow(cost, m.clock()), nil
}
