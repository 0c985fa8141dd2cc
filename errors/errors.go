// Package errors provides custom error types for the sync engine.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents the type of error that occurred
type ErrorCode string

const (
	ErrCodeSessionActive     ErrorCode = "SESSION_ACTIVE"
	ErrCodeFetchFailure      ErrorCode = "FETCH_FAILURE"
	ErrCodeTimeout           ErrorCode = "TIMEOUT"
	ErrCodeApplyFailure      ErrorCode = "APPLY_FAILURE"
	ErrCodeInvalidStrategy   ErrorCode = "INVALID_STRATEGY"
	ErrCodeStorageFailure    ErrorCode = "STORAGE_FAILURE"
	ErrCodeValidationFailure ErrorCode = "VALIDATION_FAILURE"
)

// Operation represents the type of sync operation
type Operation string

const (
	OpStartSync   Operation = "start_sync"
	OpStopSync    Operation = "stop_sync"
	OpFetch       Operation = "fetch"
	OpDiff        Operation = "diff"
	OpApply       Operation = "apply"
	OpResolve     Operation = "resolve"
	OpAutoResolve Operation = "auto_resolve"
	OpStore       Operation = "store"
	OpLoad        Operation = "load"
	OpNotify      Operation = "notify"
)

// Sentinel errors used for errors.Is checks across the engine.
var (
	// ErrSessionAlreadyActive is returned when a sync is started for an
	// agency that already has a session in {pending, running}.
	ErrSessionAlreadyActive = errors.New("sync session already active for agency")

	// ErrSessionNotFound is returned when a session id does not exist.
	ErrSessionNotFound = errors.New("sync session not found")

	// ErrSessionTerminal is returned on attempts to transition a session
	// out of a terminal state.
	ErrSessionTerminal = errors.New("sync session is in a terminal state")

	// ErrRecordNotFound is returned when a record id does not exist.
	ErrRecordNotFound = errors.New("record not found")

	// ErrConflictNotFound is returned when a conflict id does not exist.
	ErrConflictNotFound = errors.New("conflict not found")

	// ErrAlreadyResolved is returned when resolving a conflict that is no
	// longer pending.
	ErrAlreadyResolved = errors.New("conflict already resolved")

	// ErrFetchTimeout is returned when the remote snapshot fetch exceeds
	// the configured timeout.
	ErrFetchTimeout = errors.New("timeout")
)

// SyncError represents an error that occurred during synchronization
type SyncError struct {
	// Operation during which the error occurred
	Op Operation

	// Component that generated the error (e.g., "session", "fetcher")
	Component string

	// Underlying error
	Err error

	// Whether the operation can be retried
	Retryable bool

	// Error code for the error type
	Code ErrorCode

	// Metadata for additional context
	Metadata map[string]interface{}
}

func (e *SyncError) Error() string {
	var msg string
	if e.Component != "" {
		msg = fmt.Sprintf("%s operation failed in %s component", e.Op, e.Component)
	} else {
		msg = fmt.Sprintf("%s operation failed", e.Op)
	}

	if e.Code != "" {
		msg += fmt.Sprintf(" [%s]", e.Code)
	}

	return msg + fmt.Sprintf(": %v", e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// New creates a new SyncError
func New(op Operation, err error) *SyncError {
	return &SyncError{
		Op:  op,
		Err: err,
	}
}

// NewWithComponent creates a new SyncError tagged with a component name
func NewWithComponent(op Operation, component string, err error) *SyncError {
	return &SyncError{
		Op:        op,
		Component: component,
		Err:       err,
	}
}

// NewSessionActiveError creates a SyncError for the at-most-one-session guard
func NewSessionActiveError(agencyID string) *SyncError {
	return &SyncError{
		Code:      ErrCodeSessionActive,
		Op:        OpStartSync,
		Component: "session",
		Err:       fmt.Errorf("%w: %s", ErrSessionAlreadyActive, agencyID),
		Retryable: true,
	}
}

// NewFetchError creates a fetch-related SyncError. Timeouts carry their own
// code so callers can distinguish a slow source from an unreachable one.
func NewFetchError(cause error) *SyncError {
	code := ErrCodeFetchFailure
	if errors.Is(cause, ErrFetchTimeout) {
		code = ErrCodeTimeout
	}
	return &SyncError{
		Code:      code,
		Op:        OpFetch,
		Component: "fetcher",
		Err:       cause,
		Retryable: true,
	}
}

// NewApplyError creates a SyncError for a per-record write failure
func NewApplyError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeApplyFailure,
		Op:        op,
		Component: "store",
		Err:       cause,
		Retryable: false,
	}
}

// NewStorageError creates a new storage-related SyncError
func NewStorageError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeStorageFailure,
		Op:        op,
		Component: "store",
		Err:       cause,
		Retryable: true,
	}
}

// NewInvalidStrategyError creates a SyncError for an unrecognized resolution
// strategy
func NewInvalidStrategyError(op Operation, strategy string) *SyncError {
	return &SyncError{
		Code:      ErrCodeInvalidStrategy,
		Op:        op,
		Component: "resolver",
		Err:       fmt.Errorf("unknown resolution strategy %q", strategy),
		Retryable: false,
	}
}

// NewValidationError creates a new validation-related SyncError
func NewValidationError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeValidationFailure,
		Op:        op,
		Err:       cause,
		Retryable: false,
	}
}

// WithMetadata returns the error with additional context metadata attached
func (e *SyncError) WithMetadata(key string, value interface{}) *SyncError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// IsRetryable reports whether err (or any error it wraps) is a retryable SyncError
func IsRetryable(err error) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// CodeOf extracts the ErrorCode from err, or "" if err is not a SyncError
func CodeOf(err error) ErrorCode {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}
