package surface

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/odysseyhq/odyssey/pkg/contracts"
)

// Memory is an in-memory Surface for tests and embedded use. Commits are
// atomic under a single mutex; the idempotency law and per-execution total
// order hold exactly as in the durable implementations.
type Memory struct {
	mu     sync.RWMutex
	chains map[string][]Record
	byIdem map[string]Record
	hub    *hub
	clock  func() time.Time
}

// NewMemory creates an empty in-memory surface.
func NewMemory() *Memory {
	return NewMemoryWithClock(time.Now)
}

// NewMemoryWithClock creates a surface with an injectable clock.
func NewMemoryWithClock(clock func() time.Time) *Memory {
	return &Memory{
		chains: make(map[string][]Record),
		byIdem: make(map[string]Record),
		hub:    newHub(),
		clock:  clock,
	}
}

func idemKey(executionID, key string) string {
	return executionID + "\x00" + key
}

// Propose implements Surface.
func (m *Memory) Propose(ctx context.Context, t Transition) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t.IdempotencyKey != "" {
		if rec, ok := m.byIdem[idemKey(t.ExecutionID, t.IdempotencyKey)]; ok {
			return rec, nil
		}
	}

	chain := m.chains[t.ExecutionID]
	var last *Record
	var prevHash string
	if len(chain) > 0 {
		last = &chain[len(chain)-1]
		prevHash = last.RecordHash
	}
	if err := validate(last, t); err != nil {
		return Record{}, err
	}

	rec, err := seal(t, prevHash, m.clock())
	if err != nil {
		return Record{}, err
	}
	m.chains[t.ExecutionID] = append(chain, rec)
	if rec.IdempotencyKey != "" {
		m.byIdem[idemKey(rec.ExecutionID, rec.IdempotencyKey)] = rec
	}
	m.hub.publish(rec)
	return rec, nil
}

// Read implements Surface.
func (m *Memory) Read(ctx context.Context, executionID string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chain, ok := m.chains[executionID]
	if !ok {
		return nil, contracts.ErrNotFound
	}
	out := make([]Record, len(chain))
	copy(out, chain)
	return out, nil
}

// ReadRange implements Surface. Results are ordered by execution id, then
// sequence; writes across executions carry no mutual order.
func (m *Memory) ReadRange(ctx context.Context, from, to time.Time) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Record
	for _, chain := range m.chains {
		for _, r := range chain {
			if r.Timestamp.Before(from) || r.Timestamp.After(to) {
				continue
			}
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExecutionID != out[j].ExecutionID {
			return out[i].ExecutionID < out[j].ExecutionID
		}
		return out[i].SequenceNo < out[j].SequenceNo
	})
	return out, nil
}

// Subscribe implements Surface. The channel delivers committed history
// followed by live records until cancel is called or ctx is done.
func (m *Memory) Subscribe(ctx context.Context, executionID string) (<-chan Record, func(), error) {
	// Register under the surface lock so no commit lands between the
	// history snapshot and the live subscription.
	m.mu.RLock()
	history := make([]Record, len(m.chains[executionID]))
	copy(history, m.chains[executionID])
	ch, cancel := m.hub.subscribe(ctx, executionID, history)
	m.mu.RUnlock()

	return ch, cancel, nil
}
