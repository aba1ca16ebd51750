package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError represents an application error with HTTP status code
type AppError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	Err     error       `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError
func New(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails returns a copy of the error carrying details
func (e *AppError) WithDetails(details interface{}) *AppError {
	c := *e
	c.Details = details
	return &c
}

// Common errors
var (
	// 400 Bad Request
	ErrBadRequest = New(http.StatusBadRequest, "invalid request")
	ErrValidation = New(http.StatusBadRequest, "validation failed")

	// 401 Unauthorized
	ErrUnauthorized = New(http.StatusUnauthorized, "unauthorized")
	ErrInvalidToken = New(http.StatusUnauthorized, "invalid token")
	ErrTokenExpired = New(http.StatusUnauthorized, "token expired")

	// 403 Forbidden
	ErrForbidden       = New(http.StatusForbidden, "forbidden")
	ErrNotHost         = New(http.StatusForbidden, "only the host can perform this action")
	ErrBanned          = New(http.StatusForbidden, "you are not allowed to join this room")
	ErrCannotModerate  = New(http.StatusForbidden, "the host cannot be moderated")
	ErrGuestsDisabled  = New(http.StatusForbidden, "guest invites are disabled for this room")
	ErrCommentDisabled = New(http.StatusForbidden, "audience comments are disabled for this room")

	// 404 Not Found
	ErrNotFound        = New(http.StatusNotFound, "resource not found")
	ErrRoomNotFound    = New(http.StatusNotFound, "room not found")
	ErrRoomNotActive   = New(http.StatusNotFound, "room not available")
	ErrMemberNotFound  = New(http.StatusNotFound, "user not found in room")
	ErrMessageNotFound = New(http.StatusNotFound, "message not found")

	// 409 Conflict
	ErrConflict          = New(http.StatusConflict, "resource conflict")
	ErrRoomExists        = New(http.StatusConflict, "room already exists")
	ErrHostAlreadyInRoom = New(http.StatusConflict, "host is already a member of this room")
	ErrAlreadyGuest      = New(http.StatusConflict, "already a guest")
	ErrNotGuest          = New(http.StatusConflict, "member is not a guest")
	ErrTargetIsHost      = New(http.StatusConflict, "the host already publishes")

	// 422 Unprocessable Entity
	ErrGuestLimit = New(http.StatusUnprocessableEntity, "guest limit reached")

	// 429 Too Many Requests
	ErrTooManyRequests = New(http.StatusTooManyRequests, "too many requests, try again later")

	// 500 Internal Server Error
	ErrInternal = New(http.StatusInternalServerError, "internal server error")
)

// Is checks if an error is of a specific type
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// GetHTTPStatus returns the HTTP status code for an error
func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return http.StatusInternalServerError
}

// GetMessage returns the error message
func GetMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal server error"
}

// IsNotFound reports a missing room, membership or message
func IsNotFound(err error) bool {
	return GetHTTPStatus(err) == http.StatusNotFound
}

// IsForbidden reports missing host authority or a permanent ban
func IsForbidden(err error) bool {
	return GetHTTPStatus(err) == http.StatusForbidden
}

// IsConflict reports a uniqueness violation
func IsConflict(err error) bool {
	return GetHTTPStatus(err) == http.StatusConflict
}

// IsCapacity reports guest-slot exhaustion
func IsCapacity(err error) bool {
	return GetHTTPStatus(err) == http.StatusUnprocessableEntity
}

// IsTransient reports a server-side failure that may succeed on retry
func IsTransient(err error) bool {
	return err != nil && GetHTTPStatus(err) >= http.StatusInternalServerError
}
