package session

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when a session doesn't exist
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidSession is returned when stored session data cannot be decoded
	ErrInvalidSession = errors.New("invalid session")
)

// ValidationError rejects caller input before any state is touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IllegalTransitionError is a state machine guard violation.
type IllegalTransitionError struct {
	From Status
	To   Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition from %s to %s", e.From, e.To)
}

// Precondition names used by PreconditionError.
const (
	ConditionNoPlan    = "no plan"
	ConditionEmptyPlan = "empty plan"
	ConditionNoResults = "no results"
)

// PreconditionError means the session is not ready for the requested operation.
type PreconditionError struct {
	Condition string
	Detail    string
}

func (e *PreconditionError) Error() string {
	if e.Detail == "" {
		return "precondition failed: " + e.Condition
	}
	return fmt.Sprintf("precondition failed: %s: %s", e.Condition, e.Detail)
}

// ProviderError wraps a failure of an external capability (search, generator).
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// PersistenceError wraps a Store failure.
type PersistenceError struct {
	Op  string
	ID  string
	Err error
}

func (e *PersistenceError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %s: %v", e.Op, e.ID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
