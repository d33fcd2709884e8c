// Package types defines the failure taxonomy and structured error type shared
// across the engine.
package types

import "fmt"

// FailureCategory classifies a failure for the recovery path.
// The taxonomy is fixed; new categories may be added but existing ones are
// never repurposed.
type FailureCategory string

const (
	// CategoryTransient covers failures expected to resolve on their own
	// (timeouts, connection resets, temporary resource exhaustion). Retryable.
	CategoryTransient FailureCategory = "transient"
	// CategoryPermanent covers failures that will not resolve by retrying
	// (permission denied, not found, malformed input). Non-retryable.
	CategoryPermanent FailureCategory = "permanent"
	// CategoryUserCancelled marks a user-initiated abort. Non-retryable and
	// not counted as a failure for metrics purposes.
	CategoryUserCancelled FailureCategory = "user_cancelled"
	// CategoryGraphIntegrity marks cyclic or dangling dependencies. Fatal at
	// build time, never produced at runtime.
	CategoryGraphIntegrity FailureCategory = "graph_integrity"
	// CategoryIrreversibleOp is surfaced as a warning during rollback when an
	// operation cannot be reversed.
	CategoryIrreversibleOp FailureCategory = "irreversible_operation"
)

// ErrorCode identifies a specific failure within a category.
type ErrorCode string

// Transient codes
const (
	ErrTimeout             ErrorCode = "TIMEOUT"
	ErrConnectionReset     ErrorCode = "CONNECTION_RESET"
	ErrResourceUnavailable ErrorCode = "RESOURCE_UNAVAILABLE"
)

// Permanent codes
const (
	ErrPermissionDenied ErrorCode = "PERMISSION_DENIED"
	ErrNotFound         ErrorCode = "NOT_FOUND"
	ErrMalformedInput   ErrorCode = "MALFORMED_INPUT"
	ErrUnknownFailure   ErrorCode = "UNKNOWN_FAILURE"
)

// Engine codes
const (
	ErrUserCancelled          ErrorCode = "USER_CANCELLED"
	ErrCyclicDependency       ErrorCode = "CYCLIC_DEPENDENCY"
	ErrDuplicateStepID        ErrorCode = "DUPLICATE_STEP_ID"
	ErrDanglingDependency     ErrorCode = "DANGLING_DEPENDENCY"
	ErrRestoreConflict        ErrorCode = "RESTORE_CONFLICT"
	ErrIrreversibleOperation  ErrorCode = "IRREVERSIBLE_OPERATION"
	ErrExecutorUnavailable    ErrorCode = "EXECUTOR_UNAVAILABLE"
	ErrRecoveryCircuitOpen    ErrorCode = "RECOVERY_CIRCUIT_OPEN"
	ErrGlobalTimeoutExceeded  ErrorCode = "GLOBAL_TIMEOUT_EXCEEDED"
	ErrCheckpointStoreFailure ErrorCode = "CHECKPOINT_STORE_FAILURE"
)

// Error is the structured error type used across the engine.
type Error struct {
	Code     ErrorCode       `json:"code"`
	Category FailureCategory `json:"category"`
	Message  string          `json:"message"`
	// Retryable mirrors the category's retry semantics so callers can test
	// it without consulting the taxonomy.
	Retryable bool  `json:"retryable"`
	Cause     error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code, category and message.
// Retryable is derived from the category.
func NewError(code ErrorCode, category FailureCategory, message string) *Error {
	return &Error{
		Code:      code,
		Category:  category,
		Message:   message,
		Retryable: category == CategoryTransient,
	}
}

// WithCause attaches a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// IsRetryable reports whether an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// CategoryOf extracts the failure category from an error.
// Errors without a category are treated as permanent.
func CategoryOf(err error) FailureCategory {
	if e, ok := err.(*Error); ok {
		return e.Category
	}
	return CategoryPermanent
}
