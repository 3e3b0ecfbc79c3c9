package embeddings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odysseyhq/odyssey/pkg/contracts"
)

func TestDeterministic_PutIsIdempotentForSameSource(t *testing.T) {
	s := NewMemoryDeterministic()
	ctx := context.Background()
	at := time.Unix(1700000000, 0)

	require.NoError(t, s.Put(ctx, "e1", "sha256:aa", []float32{0.1, 0.2}, at))
	require.NoError(t, s.Put(ctx, "e1", "sha256:aa", []float32{0.1, 0.2}, at))

	rec, err := s.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "sha256:aa", rec.SourceHash)
	assert.Equal(t, []float32{0.1, 0.2}, rec.Vector)
}

func TestDeterministic_RejectsSourceHashChange(t *testing.T) {
	s := NewMemoryDeterministic()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "e1", "sha256:aa", []float32{0.1}, time.Now()))
	err := s.Put(ctx, "e1", "sha256:bb", []float32{0.9}, time.Now())
	assert.Error(t, err)
}

func TestDeterministic_GetUnknown(t *testing.T) {
	s := NewMemoryDeterministic()
	_, err := s.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, contracts.ErrNotFound))
}

func TestSemantic_PutMergesEdges(t *testing.T) {
	s := NewMemorySemantic()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "e1", []float32{0.1}, []string{"e2"}))
	require.NoError(t, s.Put(ctx, "e1", []float32{0.2}, []string{"e2", "e3"}))

	related, err := s.Related(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, []string{"e2", "e3"}, related)

	rec, err := s.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.2}, rec.Vector, "latest vector wins")
}

func TestSemantic_GetUnknown(t *testing.T) {
	s := NewMemorySemantic()
	_, err := s.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, contracts.ErrNotFound))
}
