// Package surface implements the State Surface: the authoritative
// append-only ledger of execution state transitions. For each execution the
// committed sequence numbers form a contiguous, strictly increasing chain
// starting at 0; records are appended, never modified or deleted.
package surface

import (
	"context"
	"fmt"
	"time"

	"github.com/odysseyhq/odyssey/pkg/canonicalize"
	"github.com/odysseyhq/odyssey/pkg/contracts"
)

// StepPhase marks the write-ahead discipline around a side-effecting step:
// a pre record is committed before the connector runs, a post record after.
type StepPhase string

const (
	PhaseNone StepPhase = ""
	PhasePre  StepPhase = "pre"
	PhasePost StepPhase = "post"
)

// Well-known actor identities written into records.
const (
	ActorEngine       = "ree"
	ActorOrchestrator = "orchestrator"
)

// Record is one committed entry in the ledger.
type Record struct {
	ExecutionID    string           `json:"execution_id"`
	SequenceNo     uint64           `json:"sequence_no"`
	PriorState     contracts.Status `json:"prior_state"`
	NewState       contracts.Status `json:"new_state"`
	Phase          StepPhase        `json:"phase,omitempty"`
	IntentID       string           `json:"intent_id,omitempty"`
	Actor          string           `json:"actor"`
	PayloadHash    string           `json:"payload_hash,omitempty"`
	IdempotencyKey string           `json:"idempotency_key,omitempty"`
	Reason         contracts.Reason `json:"reason,omitempty"`
	PrevHash       string           `json:"prev_hash"`
	RecordHash     string           `json:"record_hash"`
	Timestamp      time.Time        `json:"timestamp"`
}

// Transition is a proposed ledger entry. The surface assigns timestamp and
// hash chain fields on commit.
type Transition struct {
	ExecutionID    string
	SequenceNo     uint64
	PriorState     contracts.Status
	NewState       contracts.Status
	Phase          StepPhase
	IntentID       string
	Actor          string
	PayloadHash    string
	IdempotencyKey string
	Reason         contracts.Reason
}

// Surface is the ledger contract. Propose acknowledges only after the record
// is durably persisted; a matching idempotency key returns the committed
// record instead of erroring, so callers may safely retry.
type Surface interface {
	Propose(ctx context.Context, t Transition) (Record, error)
	Read(ctx context.Context, executionID string) ([]Record, error)
	ReadRange(ctx context.Context, from, to time.Time) ([]Record, error)
	Subscribe(ctx context.Context, executionID string) (<-chan Record, func(), error)
}

// validate checks a transition against the last committed record of its
// chain. last is nil for a fresh execution.
func validate(last *Record, t Transition) error {
	if t.ExecutionID == "" {
		return fmt.Errorf("%w: empty execution id", contracts.ErrSequenceConflict)
	}
	if last == nil {
		if t.SequenceNo != 0 {
			return fmt.Errorf("%w: first record for %s must have sequence 0, got %d",
				contracts.ErrSequenceConflict, t.ExecutionID, t.SequenceNo)
		}
		if t.PriorState != "" || t.NewState != contracts.StatusPending {
			return fmt.Errorf("%w: execution %s must start with PENDING",
				contracts.ErrSequenceConflict, t.ExecutionID)
		}
		return nil
	}
	if last.NewState.Terminal() {
		return fmt.Errorf("%w: execution %s is %s", contracts.ErrExecutionTerminal, t.ExecutionID, last.NewState)
	}
	if t.SequenceNo != last.SequenceNo+1 {
		return fmt.Errorf("%w: execution %s expected sequence %d, got %d",
			contracts.ErrSequenceConflict, t.ExecutionID, last.SequenceNo+1, t.SequenceNo)
	}
	if t.PriorState != last.NewState {
		return fmt.Errorf("%w: execution %s prior state %s does not match committed %s",
			contracts.ErrSequenceConflict, t.ExecutionID, t.PriorState, last.NewState)
	}
	if !contracts.CanTransition(t.PriorState, t.NewState) {
		return fmt.Errorf("%w: execution %s illegal transition %s -> %s",
			contracts.ErrSequenceConflict, t.ExecutionID, t.PriorState, t.NewState)
	}
	return nil
}

// seal turns a validated transition into a committed record, chaining its
// hash to the previous record.
func seal(t Transition, prevHash string, at time.Time) (Record, error) {
	if prevHash == "" {
		prevHash = "genesis"
	}
	rec := Record{
		ExecutionID:    t.ExecutionID,
		SequenceNo:     t.SequenceNo,
		PriorState:     t.PriorState,
		NewState:       t.NewState,
		Phase:          t.Phase,
		IntentID:       t.IntentID,
		Actor:          t.Actor,
		PayloadHash:    t.PayloadHash,
		IdempotencyKey: t.IdempotencyKey,
		Reason:         t.Reason,
		PrevHash:       prevHash,
		Timestamp:      at.UTC(),
	}
	hash, err := recordHash(rec)
	if err != nil {
		return Record{}, err
	}
	rec.RecordHash = hash
	return rec, nil
}

func recordHash(r Record) (string, error) {
	hash, err := canonicalize.CanonicalHash(map[string]any{
		"execution_id":    r.ExecutionID,
		"sequence_no":     r.SequenceNo,
		"prior_state":     string(r.PriorState),
		"new_state":       string(r.NewState),
		"phase":           string(r.Phase),
		"intent_id":       r.IntentID,
		"actor":           r.Actor,
		"payload_hash":    r.PayloadHash,
		"idempotency_key": r.IdempotencyKey,
		"reason":          string(r.Reason),
		"prev_hash":       r.PrevHash,
	})
	if err != nil {
		return "", fmt.Errorf("record hash: %w", err)
	}
	return hash, nil
}

// Verify walks a chain read from the ledger and checks contiguity and hash
// chain integrity.
func Verify(records []Record) error {
	prevHash := "genesis"
	for i, r := range records {
		if r.SequenceNo != uint64(i) {
			return fmt.Errorf("chain broken at index %d: sequence %d", i, r.SequenceNo)
		}
		if r.PrevHash != prevHash {
			return fmt.Errorf("chain broken at sequence %d: prev hash mismatch", r.SequenceNo)
		}
		want, err := recordHash(r)
		if err != nil {
			return err
		}
		if want != r.RecordHash {
			return fmt.Errorf("chain broken at sequence %d: record hash mismatch", r.SequenceNo)
		}
		prevHash = r.RecordHash
	}
	return nil
}
