// Package apperror defines the error kinds handlers map to HTTP responses.
package apperror

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrValidation  = errors.New("validation error")
	ErrConflict    = errors.New("conflict")
	ErrPersistence = errors.New("persistence error")
)

// internalMessage is the only text a caller ever sees for a store failure
const internalMessage = "internal server error"

type AppError struct {
	Err     error  // one of the Err* kinds
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
	Cause   error  // Optional: underlying failure, logged but never returned to clients
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

// LogValue includes the cause so request logs show what the client did not see.
func (e *AppError) LogValue() slog.Value {
	attrs := []slog.Attr{slog.String("message", e.Message)}
	if e.Field != "" {
		attrs = append(attrs, slog.String("field", e.Field))
	}
	if e.Cause != nil {
		attrs = append(attrs, slog.String("cause", e.Cause.Error()))
	}
	return slog.GroupValue(attrs...)
}

// NotFound is returned both for missing rows and for rows owned by someone else.
func NotFound(resource string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: resource + " not found",
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(field, message string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: message,
		Field:   field,
	}
}

// Persistence wraps a store failure. op names what was being attempted.
func Persistence(op string, cause error) *AppError {
	return &AppError{
		Err:     ErrPersistence,
		Message: internalMessage,
		Cause:   fmt.Errorf("%s: %w", op, cause),
	}
}

// Status maps an error to its HTTP status code
func Status(err error) int {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrConflict):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// HTTP returns the status and JSON body for err. Anything that is not a
// validation, conflict or not-found error is reported opaquely.
func HTTP(err error) (int, map[string]any) {
	status := Status(err)
	if status == http.StatusInternalServerError {
		return status, map[string]any{"error": internalMessage}
	}

	body := map[string]any{"error": err.Error()}
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Field != "" {
		body["field"] = appErr.Field
	}
	return status, body
}
