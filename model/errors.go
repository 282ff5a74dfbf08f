package model

import "fmt"

// Standard error codes.
const (
	ErrBadRequest      = "BAD_REQUEST"
	ErrUnauthorized    = "UNAUTHORIZED"
	ErrForbidden       = "FORBIDDEN"
	ErrNotFound        = "NOT_FOUND"
	ErrConflict        = "CONFLICT"
	ErrValidationError = "VALIDATION_ERROR"
	ErrInternalError   = "INTERNAL_ERROR"
)

// Workflow engine error codes.
const (
	ErrInvalidDefinition      = "INVALID_DEFINITION"
	ErrTransitionNotFound     = "TRANSITION_NOT_FOUND"
	ErrGuardNotSatisfied      = "GUARD_NOT_SATISFIED"
	ErrConcurrentModification = "CONCURRENT_MODIFICATION"
	ErrNoTransitionsAvailable = "NO_TRANSITIONS_AVAILABLE"
	ErrUnknownGuardType       = "UNKNOWN_GUARD_TYPE"
	ErrUnknownActionType      = "UNKNOWN_ACTION_TYPE"
	ErrStorageUnavailable     = "STORAGE_UNAVAILABLE"
)

// ErrorEnvelope is the standard error response envelope returned by the
// engine and its HTTP surface. It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes one entry in a structured reason list. For guard
// rejections Field carries the guard type and Message the guard's
// user-facing explanation.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewForbiddenError returns a FORBIDDEN error.
func NewForbiddenError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrForbidden, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewInvalidDefinitionError returns an INVALID_DEFINITION error listing the
// violated invariants.
func NewInvalidDefinitionError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInvalidDefinition,
		Message: "Workflow definition violates structural invariants",
		Details: details,
	}
}

// NewTransitionNotFoundError returns a TRANSITION_NOT_FOUND error. It covers
// both unknown transition IDs and transitions whose source state no longer
// matches the case's current state (stale UI requests).
func NewTransitionNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrTransitionNotFound, Message: msg}
}

// NewGuardNotSatisfiedError returns a GUARD_NOT_SATISFIED error carrying one
// detail per failing guard, suitable for direct display.
func NewGuardNotSatisfiedError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrGuardNotSatisfied,
		Message: "One or more guard conditions are not satisfied",
		Details: details,
	}
}

// NewConcurrentModificationError returns a CONCURRENT_MODIFICATION error.
// The caller must re-read case state before retrying.
func NewConcurrentModificationError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConcurrentModification, Message: msg}
}

// NewNoTransitionsAvailableError returns a NO_TRANSITIONS_AVAILABLE error.
func NewNoTransitionsAvailableError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNoTransitionsAvailable, Message: msg}
}

// NewStorageUnavailableError returns a STORAGE_UNAVAILABLE error.
func NewStorageUnavailableError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrStorageUnavailable, Message: msg}
}
