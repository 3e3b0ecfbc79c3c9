package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_BurstThenExhaustion(t *testing.T) {
	now := time.Unix(1700000000, 0)
	m := NewMemoryWithClock(func() time.Time { return now })
	policy := Policy{PerMinute: 60, Burst: 3}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := m.Allow(ctx, "tenant-a", policy, 1)
		require.NoError(t, err)
		assert.True(t, ok, "request %d within burst", i)
	}
	ok, err := m.Allow(ctx, "tenant-a", policy, 1)
	require.NoError(t, err)
	assert.False(t, ok, "burst exhausted")
}

func TestMemory_RefillsOverTime(t *testing.T) {
	now := time.Unix(1700000000, 0)
	m := NewMemoryWithClock(func() time.Time { return now })
	policy := Policy{PerMinute: 60, Burst: 1} // one token per second
	ctx := context.Background()

	ok, err := m.Allow(ctx, "tenant-a", policy, 1)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.Allow(ctx, "tenant-a", policy, 1)
	require.NoError(t, err)
	require.False(t, ok)

	now = now.Add(1100 * time.Millisecond)
	ok, err = m.Allow(ctx, "tenant-a", policy, 1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemory_TenantsAreIsolated(t *testing.T) {
	now := time.Unix(1700000000, 0)
	m := NewMemoryWithClock(func() time.Time { return now })
	policy := Policy{PerMinute: 60, Burst: 1}
	ctx := context.Background()

	ok, err := m.Allow(ctx, "tenant-a", policy, 1)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.Allow(ctx, "tenant-b", policy, 1)
	require.NoError(t, err)
	assert.True(t, ok, "tenant-b has its own bucket")
}

func TestCheck_NilStoreFailsClosed(t *testing.T) {
	err := Check(context.Background(), nil, "tenant-a", DefaultPolicy())
	assert.Error(t, err)
}

func TestCheck_DeniedSubmission(t *testing.T) {
	now := time.Unix(1700000000, 0)
	m := NewMemoryWithClock(func() time.Time { return now })
	policy := Policy{PerMinute: 60, Burst: 1}

	require.NoError(t, Check(context.Background(), m, "tenant-a", policy))
	assert.Error(t, Check(context.Background(), m, "tenant-a", policy))
}
