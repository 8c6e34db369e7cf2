package workflow

import (
	"errors"
	"fmt"

	"takedown/core/store"
)

var (
	ErrCaseNotFound      = errors.New("case not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrPermissionDenied  = errors.New("permission denied")
	// ErrStaleState is returned when the state CAS loses to a concurrent
	// transition; callers re-read and retry.
	ErrStaleState = errors.New("stale case state")
)

// TransitionError wraps ErrInvalidTransition or ErrPermissionDenied with the
// edge that was attempted, so callers can report what would be valid.
type TransitionError struct {
	Err  error
	From store.State
	To   store.State
	Role store.Role
}

func (e *TransitionError) Error() string {
	if errors.Is(e.Err, ErrPermissionDenied) {
		return fmt.Sprintf("role %s is not authorized for transition %s -> %s", e.Role, e.From, e.To)
	}
	return fmt.Sprintf("transition %s -> %s is not allowed", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return e.Err }

// ValidationError reports a malformed submission.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }
