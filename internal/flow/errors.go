package flow

import (
	"errors"
	"fmt"
)

// ErrInvalidDecision matches any *InvalidDecisionError via errors.Is.
var ErrInvalidDecision = errors.New("invalid decision")

// InvalidDecisionError reports a classifier reply that cannot be routed, or a
// stored history whose last stage contradicts its decision.
type InvalidDecisionError struct {
	Reply  string
	Reason string
}

func (e *InvalidDecisionError) Error() string {
	return "invalid decision: " + e.Reason
}

// Is lets errors.Is(err, ErrInvalidDecision) match.
func (e *InvalidDecisionError) Is(target error) bool {
	return target == ErrInvalidDecision
}

// GenerationError wraps a failed capability call.
type GenerationError struct {
	Capability string
	Err        error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed (%s): %v", e.Capability, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// StoreUnavailableError wraps a failed history fetch or persist.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("store unavailable (%s): %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error {
	return e.Err
}
