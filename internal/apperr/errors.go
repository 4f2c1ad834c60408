// Package apperr holds the error taxonomy shared by the chat core.
// Callers wrap these sentinels with fmt.Errorf("...: %w", ...) and test them with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrAuth         = errors.New("unauthenticated")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrTimeout      = errors.New("timeout")
	ErrUnavailable  = errors.New("unavailable")
)

var (
	ErrInvalidParticipants = fmt.Errorf("%w: a conversation needs two distinct participants", ErrInvalidInput)
	ErrEmptyMessage        = fmt.Errorf("%w: message text is empty", ErrInvalidInput)
	ErrMessageTooLong      = fmt.Errorf("%w: message text is too long", ErrInvalidInput)
)

// Code returns a short machine readable code for err, used on the websocket error frame.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrAuth):
		return "unauthenticated"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidInput):
		return "bad_request"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "internal_error"
	}
}

// Unavailable wraps a backing store failure.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}
