// Package coreerr defines the shared error taxonomy used across the control
// core (spec §7). These are sentinel kinds, not a single monolithic error
// type: callers wrap them with fmt.Errorf("...: %w", coreerr.X) so errors.Is
// still matches while the message carries call-specific detail.
package coreerr

import (
	"errors"
	"strconv"
)

var (
	// ErrUnknownAlarmCode — ConfigurationError: raiseAlarm for a code not in
	// the catalog.
	ErrUnknownAlarmCode = errors.New("unknown alarm code")

	// ErrDuplicateAlarmCode — ConfigurationError: alarm catalog load found
	// two entries with the same code.
	ErrDuplicateAlarmCode = errors.New("duplicate alarm code in catalog")

	// ErrInvalidAlarmCode — ConfigurationError: code does not match [EWI]\d{3}.
	ErrInvalidAlarmCode = errors.New("alarm code does not match [EWI]\\d{3}")

	// ErrInvalidTransition — InvalidStateTransition: illegal mode change.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrAlreadyResolved — InvalidStateTransition: acknowledging/resolving an
	// alarm already in RESOLVED state.
	ErrAlreadyResolved = errors.New("alarm already resolved")

	// ErrNotActive — InvalidStateTransition: acknowledging an alarm that is
	// not ACTIVE.
	ErrNotActive = errors.New("alarm is not active")

	// ErrNotFound — generic not-found for alarms/behaviors/sequences.
	ErrNotFound = errors.New("not found")

	// ErrQueueFull — ResourceExhaustion: tryPush on a full queue.
	ErrQueueFull = errors.New("queue full")

	// ErrMalformedRequest — a BehaviorRequest with a nil task or invalid
	// priority.
	ErrMalformedRequest = errors.New("malformed behavior request")

	// ErrClosed — IoError: operation attempted on a closed bag writer/reader.
	ErrClosed = errors.New("closed")

	// ErrCorruptFooter — IoError: bag file footer failed to parse (bad magic,
	// unsupported version, truncated file).
	ErrCorruptFooter = errors.New("corrupt or unsupported bag footer")

	// ErrMissingParameter — ConfigurationError: sequence template
	// instantiation missing a required parameter.
	ErrMissingParameter = errors.New("missing required template parameter")

	// ErrInvalidRetryPolicy — ConfigurationError: retry policy with
	// non-positive max attempts or backoff parameters.
	ErrInvalidRetryPolicy = errors.New("invalid retry policy")

	// ErrCancelled — SequenceFailure: execution was cancelled before
	// completion.
	ErrCancelled = errors.New("cancelled")
)

// SequenceFailure carries the step index and underlying cause of a failed
// sequence execution, per spec §7's SequenceFailure kind.
type SequenceFailure struct {
	StepIndex int
	StepID    string
	Err       error
}

func (e *SequenceFailure) Error() string {
	idx := strconv.Itoa(e.StepIndex)
	if e.StepID != "" {
		return "sequence failed at step " + idx + " (" + e.StepID + "): " + e.Err.Error()
	}
	return "sequence failed at step " + idx + ": " + e.Err.Error()
}

func (e *SequenceFailure) Unwrap() error { return e.Err }
