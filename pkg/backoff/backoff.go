// Package backoff computes bounded exponential backoff with deterministic
// jitter. Given the same inputs the schedule is identical, which keeps
// retry timing reproducible across restarts.
package backoff

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// Policy bounds a retry loop.
type Policy struct {
	BaseMs      int64
	MaxMs       int64
	MaxJitterMs int64
	MaxAttempts int
}

// DefaultPolicy is suitable for transient transport and storage failures.
func DefaultPolicy() Policy {
	return Policy{BaseMs: 50, MaxMs: 2000, MaxJitterMs: 100, MaxAttempts: 5}
}

// Delay returns the delay before the given attempt (0-based). Attempt 0 has
// no delay.
func (p Policy) Delay(key string, attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	factor := int64(1)
	if attempt > 30 {
		factor = 1 << 30
	} else {
		factor = 1 << attempt
	}
	delay := p.BaseMs * factor
	if delay > p.MaxMs {
		delay = p.MaxMs
	}
	return time.Duration(delay+p.jitter(key, attempt)) * time.Millisecond
}

func (p Policy) jitter(key string, attempt int) int64 {
	if p.MaxJitterMs <= 0 {
		return 0
	}
	seed := fmt.Sprintf("%s:%d", key, attempt)
	sum := sha256.Sum256([]byte(seed))
	basis := binary.BigEndian.Uint64(sum[:8])
	return int64(basis % uint64(p.MaxJitterMs))
}

// Retry runs fn until it succeeds, the policy is exhausted, or ctx is done.
// retryable filters which errors are worth another attempt; a nil filter
// retries everything.
func Retry(ctx context.Context, p Policy, key string, retryable func(error) bool, fn func() error) error {
	var last error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if d := p.Delay(key, attempt); d > 0 {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		last = fn()
		if last == nil {
			return nil
		}
		if retryable != nil && !retryable(last) {
			return last
		}
	}
	return last
}
