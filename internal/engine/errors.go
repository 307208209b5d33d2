package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/tablet/internal/schema"
)

// RuntimeError represents an error detected by the host while running a
// reducer, view or procedure.
//
// Runtime errors include:
//   - Unknown routine: no reducer, view or procedure with the name
//   - Access: private table or view read by an external or anonymous caller
//   - Failure: the routine returned an error or panicked
//   - Retry budget: conflicts persisted past the configured attempts
//
// RuntimeError matches the package sentinels with errors.Is by Code.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Name is the reducer, view, procedure or table involved.
	Name string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	ErrCodeNoSuchReducer     RuntimeErrorCode = "NO_SUCH_REDUCER"
	ErrCodeNoSuchView        RuntimeErrorCode = "NO_SUCH_VIEW"
	ErrCodeNoSuchProcedure   RuntimeErrorCode = "NO_SUCH_PROCEDURE"
	ErrCodePrivateTable      RuntimeErrorCode = "PRIVATE_TABLE"
	ErrCodeAccessDenied      RuntimeErrorCode = "ACCESS_DENIED"
	ErrCodeReducerFailed     RuntimeErrorCode = "REDUCER_FAILED"
	ErrCodeViewFailed        RuntimeErrorCode = "VIEW_FAILED"
	ErrCodeProcedureFailed   RuntimeErrorCode = "PROCEDURE_FAILED"
	ErrCodeBadReturnShape    RuntimeErrorCode = "BAD_RETURN_SHAPE"
	ErrCodeAttemptsExhausted RuntimeErrorCode = "ATTEMPTS_EXHAUSTED"
	ErrCodeBadArguments      RuntimeErrorCode = "BAD_ARGUMENTS"

	// ErrCodeUnbound indicates a declared routine without a function, or a
	// function without a declaration. It also matches schema.ErrInvalidSchema.
	ErrCodeUnbound RuntimeErrorCode = "UNBOUND_ROUTINE"
)

// Sentinels for errors.Is.
var (
	ErrNoSuchReducer     = &RuntimeError{Code: ErrCodeNoSuchReducer}
	ErrNoSuchView        = &RuntimeError{Code: ErrCodeNoSuchView}
	ErrNoSuchProcedure   = &RuntimeError{Code: ErrCodeNoSuchProcedure}
	ErrPrivateTable      = &RuntimeError{Code: ErrCodePrivateTable}
	ErrAccessDenied      = &RuntimeError{Code: ErrCodeAccessDenied}
	ErrReducerFailed     = &RuntimeError{Code: ErrCodeReducerFailed}
	ErrViewFailed        = &RuntimeError{Code: ErrCodeViewFailed}
	ErrProcedureFailed   = &RuntimeError{Code: ErrCodeProcedureFailed}
	ErrBadReturnShape    = &RuntimeError{Code: ErrCodeBadReturnShape}
	ErrAttemptsExhausted = &RuntimeError{Code: ErrCodeAttemptsExhausted}
	ErrBadArguments      = &RuntimeError{Code: ErrCodeBadArguments}
	ErrUnbound           = &RuntimeError{Code: ErrCodeUnbound}
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := string(e.Code)
	if e.Name != "" {
		msg += " " + e.Name
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// Is matches sentinels by code.
func (e *RuntimeError) Is(target error) bool {
	if target == schema.ErrInvalidSchema {
		return e.Code == ErrCodeUnbound
	}
	t, ok := target.(*RuntimeError)
	return ok && t.Code == e.Code
}

func runtimeErrorf(code RuntimeErrorCode, name, format string, args ...any) *RuntimeError {
	return &RuntimeError{Code: code, Name: name, Message: fmt.Sprintf(format, args...)}
}

// IsAccessError returns true for ACCESS_DENIED and PRIVATE_TABLE errors.
// Uses errors.As to handle wrapped errors.
func IsAccessError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeAccessDenied || re.Code == ErrCodePrivateTable
	}
	return false
}
