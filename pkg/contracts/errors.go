package contracts

import "errors"

// Sentinel errors for the core failure taxonomy. Callers classify with
// errors.Is and persist the matching Reason in the ledger.
var (
	// ErrContractResolution means no orchestrator is registered for a
	// journey's declared type.
	ErrContractResolution = errors.New("contract resolution: no orchestrator registered for journey type")

	// ErrCapabilityViolation means an agent proposed an action outside the
	// intent's declared capability set. Never retried.
	ErrCapabilityViolation = errors.New("capability violation: proposal outside intent contract")

	// ErrSequenceConflict means a proposed transition does not extend the
	// committed chain for its execution. Never retried.
	ErrSequenceConflict = errors.New("sequence conflict: transition does not extend committed chain")

	// ErrExecutionTerminal means the execution already reached an absorbing
	// state and accepts no further transitions.
	ErrExecutionTerminal = errors.New("execution already terminal")

	// ErrOrchestratorTimeout means the per-execution deadline expired before
	// the orchestrator completed.
	ErrOrchestratorTimeout = errors.New("orchestrator timeout: execution deadline exceeded")

	// ErrTransportFailure is a telemetry transport failure. Retried with
	// bounded backoff, never surfaced to instrumented callers.
	ErrTransportFailure = errors.New("telemetry transport failure")

	// ErrStorageUnavailable means the state surface persistence layer is
	// down. Transient; retried with bounded backoff.
	ErrStorageUnavailable = errors.New("state surface storage unavailable")

	// ErrNotFound is returned when an execution or record is not found.
	ErrNotFound = errors.New("not found")
)

// Reason is a machine-readable reason code persisted in the ledger with
// every terminal non-success transition.
type Reason string

const (
	ReasonNone                Reason = ""
	ReasonContractResolution  Reason = "ContractResolutionError"
	ReasonCapabilityViolation Reason = "CapabilityViolation"
	ReasonSequenceConflict    Reason = "SequenceConflict"
	ReasonOrchestratorTimeout Reason = "OrchestratorTimeout"
	ReasonTransportFailure    Reason = "TransportFailure"
	ReasonStorageUnavailable  Reason = "StorageUnavailable"
	ReasonCancelled           Reason = "Cancelled"
	ReasonStepFailed          Reason = "StepFailed"
)

// ReasonForError maps a failure to its reason code. Unknown errors are
// recorded as StepFailed so status queries never see a reason-less failure.
func ReasonForError(err error) Reason {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, ErrContractResolution):
		return ReasonContractResolution
	case errors.Is(err, ErrCapabilityViolation):
		return ReasonCapabilityViolation
	case errors.Is(err, ErrSequenceConflict):
		return ReasonSequenceConflict
	case errors.Is(err, ErrOrchestratorTimeout):
		return ReasonOrchestratorTimeout
	case errors.Is(err, ErrTransportFailure):
		return ReasonTransportFailure
	case errors.Is(err, ErrStorageUnavailable):
		return ReasonStorageUnavailable
	default:
		return ReasonStepFailed
	}
}
