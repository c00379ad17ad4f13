package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, client-facing error code. Clients are expected to branch
// on the code, not the message.
type Code string

const (
	CodeUnauthorized   Code = "UNAUTHORIZED"
	CodeForbidden      Code = "FORBIDDEN"
	CodeNotFound       Code = "NOT_FOUND"
	CodeInvalidPayload Code = "INVALID_PAYLOAD"
	CodeRoomFull       Code = "ROOM_FULL"
	CodeConflict       Code = "CONFLICT"
	CodeInternal       Code = "INTERNAL"
)

// Error carries a stable code alongside a human-readable message.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is makes two coded errors equal when their codes match, so callers can use
// errors.Is(err, apperr.Forbidden("")) style sentinels.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// HTTPStatus maps the code to the HTTP status the REST surface responds with.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidPayload:
		return http.StatusBadRequest
	case CodeRoomFull, CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func Unauthorized(msg string) *Error   { return &Error{Code: CodeUnauthorized, Message: msg} }
func Forbidden(msg string) *Error      { return &Error{Code: CodeForbidden, Message: msg} }
func NotFound(msg string) *Error       { return &Error{Code: CodeNotFound, Message: msg} }
func InvalidPayload(msg string) *Error { return &Error{Code: CodeInvalidPayload, Message: msg} }
func RoomFull(msg string) *Error       { return &Error{Code: CodeRoomFull, Message: msg} }
func Conflict(msg string) *Error       { return &Error{Code: CodeConflict, Message: msg} }

// Internal wraps an unexpected failure. The cause is logged server-side; the
// client only ever sees the generic message.
func Internal(msg string, cause error) *Error {
	return &Error{Code: CodeInternal, Message: msg, cause: cause}
}

// From extracts a coded error, or wraps err as INTERNAL if it carries no code.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal("something went wrong", err)
}

// CodeOf returns the code carried by err, or CodeInternal.
func CodeOf(err error) Code {
	return From(err).Code
}
