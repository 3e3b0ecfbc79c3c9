// Package embeddings defines the write/read boundary toward the analytical
// and graph stores that hold execution embeddings. Concrete engines plug in
// behind these interfaces; this core ships only in-memory implementations.
package embeddings

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/odysseyhq/odyssey/pkg/contracts"
)

// DeterministicRecord is a reproducible embedding tied to its source bytes.
type DeterministicRecord struct {
	ID         string    `json:"id"`
	SourceHash string    `json:"source_hash"`
	Vector     []float32 `json:"vector"`
	CreatedAt  time.Time `json:"created_at"`
}

// SemanticRecord is an embedding with relationship edges for graph queries.
type SemanticRecord struct {
	ID         string    `json:"id"`
	Vector     []float32 `json:"vector"`
	RelatedIDs []string  `json:"related_ids,omitempty"`
}

// DeterministicStore is the analytical-store boundary.
type DeterministicStore interface {
	Put(ctx context.Context, id, sourceHash string, vector []float32, createdAt time.Time) error
	Get(ctx context.Context, id string) (DeterministicRecord, error)
}

// SemanticStore is the graph-store boundary.
type SemanticStore interface {
	Put(ctx context.Context, id string, vector []float32, relatedIDs []string) error
	Get(ctx context.Context, id string) (SemanticRecord, error)
	Related(ctx context.Context, id string) ([]string, error)
}

// MemoryDeterministic is an in-process DeterministicStore.
type MemoryDeterministic struct {
	mu      sync.RWMutex
	records map[string]DeterministicRecord
}

// NewMemoryDeterministic creates an empty store.
func NewMemoryDeterministic() *MemoryDeterministic {
	return &MemoryDeterministic{records: make(map[string]DeterministicRecord)}
}

// Put implements DeterministicStore. Writes for the same id and source hash
// are idempotent; a differing source hash for an existing id is rejected,
// deterministic embeddings never change for the same source.
func (m *MemoryDeterministic) Put(ctx context.Context, id, sourceHash string, vector []float32, createdAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.records[id]; ok {
		if existing.SourceHash != sourceHash {
			return fmt.Errorf("embedding %s: source hash mismatch", id)
		}
		return nil
	}
	m.records[id] = DeterministicRecord{
		ID:         id,
		SourceHash: sourceHash,
		Vector:     append([]float32(nil), vector...),
		CreatedAt:  createdAt,
	}
	return nil
}

// Get implements DeterministicStore.
func (m *MemoryDeterministic) Get(ctx context.Context, id string) (DeterministicRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return DeterministicRecord{}, fmt.Errorf("embedding %s: %w", id, contracts.ErrNotFound)
	}
	return r, nil
}

// MemorySemantic is an in-process SemanticStore.
type MemorySemantic struct {
	mu      sync.RWMutex
	records map[string]SemanticRecord
}

// NewMemorySemantic creates an empty store.
func NewMemorySemantic() *MemorySemantic {
	return &MemorySemantic{records: make(map[string]SemanticRecord)}
}

// Put implements SemanticStore. Re-putting an id replaces its vector and
// merges its edges.
func (m *MemorySemantic) Put(ctx context.Context, id string, vector []float32, relatedIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := SemanticRecord{ID: id, Vector: append([]float32(nil), vector...)}
	seen := make(map[string]bool)
	if existing, ok := m.records[id]; ok {
		for _, rid := range existing.RelatedIDs {
			if !seen[rid] {
				seen[rid] = true
				rec.RelatedIDs = append(rec.RelatedIDs, rid)
			}
		}
	}
	for _, rid := range relatedIDs {
		if !seen[rid] {
			seen[rid] = true
			rec.RelatedIDs = append(rec.RelatedIDs, rid)
		}
	}
	m.records[id] = rec
	return nil
}

// Get implements SemanticStore.
func (m *MemorySemantic) Get(ctx context.Context, id string) (SemanticRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return SemanticRecord{}, fmt.Errorf("embedding %s: %w", id, contracts.ErrNotFound)
	}
	return r, nil
}

// Related implements SemanticStore.
func (m *MemorySemantic) Related(ctx context.Context, id string) ([]string, error) {
	r, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.RelatedIDs, nil
}
