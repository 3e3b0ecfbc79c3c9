// Package capability resolves journey types to orchestrators and enforces
// the capability sets declared on intents before any side effect runs.
package capability

import (
	"context"
	"fmt"
	"sync"

	"github.com/odysseyhq/odyssey/pkg/contracts"
)

// Orchestrator drives one execution of a journey to a terminal outcome.
// Run blocks until the journey reaches a terminal state or ctx is done;
// the returned result carries the terminal status and failure reason.
type Orchestrator interface {
	Run(ctx context.Context, executionID string, journey *contracts.Journey, input map[string]any) (contracts.TerminalResult, error)
}

// Factory builds an orchestrator for one execution. Factories are invoked
// per submission so orchestrators may hold per-run state.
type Factory func() Orchestrator

// Registry maps journey type tags to orchestrator factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register binds a journey type tag to a factory, replacing any previous
// binding for the same tag.
func (r *Registry) Register(journeyType string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[journeyType] = f
}

// Resolve returns a fresh orchestrator for the journey type. An unknown
// tag is a contract resolution failure: the caller must reject the
// submission before any execution state is created.
func (r *Registry) Resolve(journeyType string) (Orchestrator, error) {
	r.mu.RLock()
	f, ok := r.factories[journeyType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("journey type %q has no registered orchestrator: %w",
			journeyType, contracts.ErrContractResolution)
	}
	return f(), nil
}

// Types lists the registered journey type tags.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for t := range r.factories {
		out = append(out, t)
	}
	return out
}
