// File: internal/captcha/errors.go
package captcha

import (
	"errors"
	"fmt"
)

// Sentinel errors for the resolution orchestrator. Callers classify failures
// with errors.Is; reason codes for the registry come from FailureReason.
var (
	// ErrInvalidCoordinate marks malformed model output. The offending action
	// is dropped and the turn continues.
	ErrInvalidCoordinate = errors.New("normalized coordinate out of range")

	// ErrModelUnavailable marks an unreachable vision endpoint or a response
	// that could not be parsed. It terminates the agent loop.
	ErrModelUnavailable = errors.New("vision model unavailable")

	// ErrExhausted marks an agent loop that spent its iteration budget
	// without the model reporting completion.
	ErrExhausted = errors.New("iteration budget exhausted")

	// ErrTimeout marks an expired per-turn deadline or human wait ceiling.
	ErrTimeout = errors.New("resolution deadline exceeded")

	// ErrNoSession is returned by lookups for a minion with no registry entry.
	ErrNoSession = errors.New("no captcha session registered")
)

// ExecutionError wraps a provider or browser fault raised while executing a
// single action. It aborts the remaining actions of the current turn but does
// not terminate the loop.
type ExecutionError struct {
	Action ActionType
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("executing %s: %v", e.Action, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// FailureReason is the observability code stored alongside a failed session.
type FailureReason string

const (
	ReasonNone             FailureReason = ""
	ReasonModelUnavailable FailureReason = "model_unavailable"
	ReasonExhausted        FailureReason = "exhausted"
	ReasonTimeout          FailureReason = "timeout"
	ReasonCanceled         FailureReason = "canceled"
)

// failureReason maps a terminal loop error to its registry reason code.
func failureReason(err error) FailureReason {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, ErrExhausted):
		return ReasonExhausted
	case errors.Is(err, ErrTimeout):
		return ReasonTimeout
	case errors.Is(err, ErrModelUnavailable):
		return ReasonModelUnavailable
	default:
		return ReasonModelUnavailable
	}
}
