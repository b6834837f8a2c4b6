package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors
var (
	ErrNotFound           = errors.New("resource not found")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("actor is not a party to the order")
	ErrInvalidTransition  = errors.New("invalid state transition")
	ErrStorageUnavailable = errors.New("storage unavailable")

	// Business errors
	ErrAlreadyClaimed    = fmt.Errorf("%w: order already claimed", ErrInvalidTransition)
	ErrActiveOrderExists = errors.New("client already has an active order")
	ErrDriverBusy        = errors.New("driver is busy")
	ErrOfferNotFound     = fmt.Errorf("%w: no offer for this driver", ErrNotFound)

	// ErrNoDriversAvailable is recorded as the cancel reason of an order whose
	// dispatch ran out of rounds. It is never returned to a caller.
	ErrNoDriversAvailable = errors.New("no drivers available")
)

// APIError represents a structured API error
type APIError struct {
	Code       string `json:"error"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
}

func (e *APIError) Error() string {
	return e.Message
}

// NewAPIError creates a new API error
func NewAPIError(code, message string, statusCode int) *APIError {
	return &APIError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// InvalidRequest wraps ErrInvalidRequest with a caller-facing reason.
func InvalidRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// InvalidTransition reports an illegal move between two order statuses.
func InvalidTransition(from, to string) error {
	return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidTransition, from, to)
}

// Storage marks err as a persistence failure. The transition it guarded did not happen.
func Storage(err error) error {
	if err == nil || errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
}

// Common API errors
func NotFound(resource string) *APIError {
	return NewAPIError("not_found", fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func BadRequest(message string) *APIError {
	return NewAPIError("invalid_request", message, http.StatusBadRequest)
}

func InternalError(message string) *APIError {
	return NewAPIError("internal_error", message, http.StatusInternalServerError)
}

func Unauthorized(message string) *APIError {
	return NewAPIError("unauthorized", message, http.StatusUnauthorized)
}

func Forbidden(message string) *APIError {
	return NewAPIError("forbidden", message, http.StatusForbidden)
}

func IdempotencyConflict() *APIError {
	return NewAPIError("idempotency_conflict", "idempotency key already used with different request", http.StatusConflict)
}

// FromError maps any error returned by the services onto an APIError.
func FromError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	switch {
	case errors.Is(err, ErrAlreadyClaimed):
		return NewAPIError("already_claimed", "this order has been claimed by another driver", http.StatusConflict)
	case errors.Is(err, ErrInvalidTransition):
		return NewAPIError("invalid_transition", err.Error(), http.StatusConflict)
	case errors.Is(err, ErrInvalidRequest):
		return BadRequest(err.Error())
	case errors.Is(err, ErrForbidden):
		return Forbidden(err.Error())
	case errors.Is(err, ErrUnauthorized):
		return Unauthorized(err.Error())
	case errors.Is(err, ErrNotFound):
		return NewAPIError("not_found", err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrActiveOrderExists):
		return NewAPIError("active_order_exists", "you already have an active order", http.StatusConflict)
	case errors.Is(err, ErrDriverBusy):
		return NewAPIError("driver_busy", "driver already has an active order", http.StatusConflict)
	case errors.Is(err, ErrStorageUnavailable):
		return NewAPIError("storage_unavailable", "storage temporarily unavailable, the request was not applied", http.StatusServiceUnavailable)
	default:
		return InternalError("internal server error")
	}
}
