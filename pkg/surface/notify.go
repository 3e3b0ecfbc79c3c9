package surface

import (
	"context"
	"sync"
)

// subscriberBuffer bounds each live subscription channel. A subscriber that
// stops draining loses live records rather than blocking commits.
const subscriberBuffer = 256

// hub fans committed records out to process-local subscribers. SQL-backed
// surfaces share it; subscriptions there only observe commits made through
// the same process.
type hub struct {
	mu   sync.Mutex
	subs map[string]map[int]chan Record
	next int
}

func newHub() *hub {
	return &hub{subs: make(map[string]map[int]chan Record)}
}

func (h *hub) publish(rec Record) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[rec.ExecutionID] {
		select {
		case ch <- rec:
		default:
		}
	}
}

// subscribe registers a channel primed with history. The returned cancel is
// idempotent.
func (h *hub) subscribe(ctx context.Context, executionID string, history []Record) (<-chan Record, func()) {
	ch := make(chan Record, len(history)+subscriberBuffer)
	for _, r := range history {
		ch <- r
	}

	h.mu.Lock()
	id := h.next
	h.next++
	if h.subs[executionID] == nil {
		h.subs[executionID] = make(map[int]chan Record)
	}
	h.subs[executionID][id] = ch
	h.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[executionID], id)
			if len(h.subs[executionID]) == 0 {
				delete(h.subs, executionID)
			}
			h.mu.Unlock()
			close(done)
			close(ch)
		})
	}

	if ctx != nil {
		// The watcher must exit on manual cancel too, or it leaks for
		// the lifetime of a long-lived ctx.
		go func() {
			select {
			case <-ctx.Done():
				cancel()
			case <-done:
			}
		}()
	}
	return ch, cancel
}
