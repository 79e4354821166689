package errors

import "fmt"

// ErrorCode represents a droplog error code.
type ErrorCode string

const (
	ErrInvalidRequest    ErrorCode = "INVALID_REQUEST"    // 400
	ErrUnauthorized      ErrorCode = "UNAUTHORIZED"       // 401
	ErrNotFound          ErrorCode = "NOT_FOUND"          // 404
	ErrRateLimited       ErrorCode = "RATE_LIMITED"       // 429
	ErrCancelled         ErrorCode = "CANCELLED"          // 499
	ErrInternal          ErrorCode = "INTERNAL"           // 500
	ErrUpstream          ErrorCode = "UPSTREAM"           // 502
	ErrSourceUnavailable ErrorCode = "SOURCE_UNAVAILABLE" // 503
)

// DropError represents a structured error with code, status, and details.
type DropError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *DropError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *DropError {
	return &DropError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewUnauthorized creates a 401 error for a missing or wrong API key.
func NewUnauthorized() *DropError {
	return &DropError{
		Code:    ErrUnauthorized,
		Status:  401,
		Message: "invalid API key",
	}
}

// NewNotFound creates a 404 error for an unknown record or resource.
func NewNotFound(identifier string) *DropError {
	return &DropError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewRateLimited creates a 429 error when a client exceeds its request budget.
func NewRateLimited(limit int) *DropError {
	return &DropError{
		Code:    ErrRateLimited,
		Status:  429,
		Message: "too many requests, please try again later",
		Details: map[string]any{"limit_per_minute": limit},
	}
}

// NewCancelled creates an error for an operation interrupted by context cancellation.
func NewCancelled(operation string) *DropError {
	return &DropError{
		Code:    ErrCancelled,
		Status:  499,
		Message: fmt.Sprintf("%s cancelled", operation),
		Details: map[string]any{"operation": operation},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *DropError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &DropError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
	}
}

// NewUpstream creates a 502 error when an external service fails.
// The upstream cause is kept out of Message so it is never echoed to clients.
func NewUpstream(service string) *DropError {
	return &DropError{
		Code:    ErrUpstream,
		Status:  502,
		Message: fmt.Sprintf("cannot fetch %s data at this time", service),
		Details: map[string]any{"service": service},
	}
}

// NewSourceUnavailable creates a 503 error when the chat capture source cannot be used.
func NewSourceUnavailable(source string, err error) *DropError {
	msg := fmt.Sprintf("capture source unavailable: %s", source)
	if err != nil {
		msg = fmt.Sprintf("%s (%v)", msg, err)
	}
	return &DropError{
		Code:    ErrSourceUnavailable,
		Status:  503,
		Message: msg,
		Details: map[string]any{"source": source},
	}
}

// Is checks if an error is a DropError with the given code.
func Is(err error, code ErrorCode) bool {
	if dErr, ok := err.(*DropError); ok {
		return dErr.Code == code
	}
	return false
}
