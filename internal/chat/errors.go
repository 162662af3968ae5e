package chat

import (
	"errors"
	"net/http"
)

// Sentinel errors for the operation taxonomy. Callers wrap them with
// fmt.Errorf("...: %w", Err...) to attach a human-readable message; the
// websocket layer maps them to stable status codes with StatusCode.
var (
	ErrNotFound       = errors.New("not found")
	ErrForbidden      = errors.New("forbidden")
	ErrInvalidPayload = errors.New("invalid payload")
	ErrConflict       = errors.New("conflict")
)

// StatusCode maps an operation error to its wire status code. Anything
// outside the taxonomy is an internal (durable store) failure.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidPayload):
		return http.StatusBadRequest
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
