package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// Session lifecycle.
	ErrDuplicateConnection = fmt.Errorf("connection already registered")
	ErrUnknownSession      = fmt.Errorf("unknown session")

	// Validation.
	ErrInvalidDisplayName = fmt.Errorf("display name must be 2-30 chars (letters, digits, _ or -)")
	ErrInvalidRoomID      = fmt.Errorf("room id must be 1-50 lowercase chars (letters, digits or -)")
	ErrEmptyMessage       = fmt.Errorf("message content is empty")

	// Room capacity and policy.
	ErrRoomFull    = fmt.Errorf("room is full")
	ErrBanned      = fmt.Errorf("banned from this room")
	ErrNotMember   = fmt.Errorf("not a member of this room")
	ErrUnknownRoom = fmt.Errorf("unknown room")

	// Message mutations.
	ErrMessageNotFound  = fmt.Errorf("message not found")
	ErrNotMessageSender = fmt.Errorf("only the sender may modify a message")

	// Backend and delivery.
	ErrBackendUnavailable = fmt.Errorf("durable backend unavailable")
	ErrRateLimited        = fmt.Errorf("too many messages, slow down")

	ErrBackpressure = fmt.Errorf("recipient buffer full")

	ErrWorkerPanic = fmt.Errorf("worker panic")
)

// HTTPStatus maps a domain error to the status code used by the read-side API.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrMessageNotFound), errors.Is(err, ErrUnknownRoom):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidDisplayName),
		errors.Is(err, ErrInvalidRoomID),
		errors.Is(err, ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
