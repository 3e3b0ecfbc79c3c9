package surface

import (
	"fmt"

	"github.com/odysseyhq/odyssey/pkg/contracts"
)

// Replay derives the canonical ExecutionContext view from a committed chain.
// This is the only way an in-memory view is ever constructed; no component
// keeps a divergent private copy.
func Replay(executionID string, records []Record) (*contracts.ExecutionContext, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("execution %s: %w", executionID, contracts.ErrNotFound)
	}
	if err := Verify(records); err != nil {
		return nil, fmt.Errorf("execution %s: %w", executionID, err)
	}

	ec := &contracts.ExecutionContext{
		ID:          executionID,
		CreatedAt:   records[0].Timestamp,
		RecordCount: len(records),
	}
	for _, r := range records {
		ec.Status = r.NewState
		ec.UpdatedAt = r.Timestamp
		if r.Reason != "" {
			ec.Reason = r.Reason
		}
		if r.Phase == PhasePost && r.IntentID != "" {
			ec.Frontier = append(ec.Frontier, r.IntentID)
		}
	}
	return ec, nil
}

// CompletedIntents returns the set of intents whose post records are
// committed. Used by the orchestrator to resume after a crash instead of
// re-running finished steps.
func CompletedIntents(records []Record) map[string]bool {
	done := make(map[string]bool)
	for _, r := range records {
		if r.Phase == PhasePost && r.IntentID != "" {
			done[r.IntentID] = true
		}
	}
	return done
}

// NextSequence returns the sequence number the next transition must carry.
func NextSequence(records []Record) uint64 {
	return uint64(len(records))
}

// LastState returns the committed lifecycle state of a chain.
func LastState(records []Record) contracts.Status {
	if len(records) == 0 {
		return ""
	}
	return records[len(records)-1].NewState
}
