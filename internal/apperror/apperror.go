// Package apperror defines the typed failures shared by the service layer and
// mapped to transport status codes by the handlers.
//
// Every constructor returns an *AppError that wraps one sentinel, so callers
// branch with errors.Is(err, apperror.ErrDuplicateEmail) no matter how many
// times the error was wrapped with fmt.Errorf("...: %w", err) on the way up.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("Validation Error")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")

	ErrUnauthorized      = errors.New("unauthorized")
	ErrDuplicateUsername = errors.New("duplicate username")
	ErrDuplicateEmail    = errors.New("duplicate email")
	ErrTokenNotFound     = errors.New("verification token not found")
	ErrTokenExpired      = errors.New("verification token expired")
	ErrTokenAlreadyUsed  = errors.New("verification token already used")

	// ErrStorage marks a failing storage collaborator. It is fatal for the
	// request; everything else in this list is recoverable by the caller.
	ErrStorage = errors.New("storage error")
	// ErrNotifier marks a failed outbound notification.
	ErrNotifier = errors.New("notifier error")
)

type AppError struct {
	Err     error  // actual error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
	cause   error
}

func (e *AppError) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

// Unwrap exposes both the sentinel and, when present, the collaborator
// failure that caused it.
func (e *AppError) Unwrap() []error {
	if e.cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.cause}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unauthorized is returned when the caller is anonymous or its credentials
// do not check out.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

func DuplicateUsername(username string) *AppError {
	return &AppError{
		Err:     ErrDuplicateUsername,
		Message: fmt.Sprintf("username %s is already taken", username),
		Field:   "username",
	}
}

func DuplicateEmail(email string) *AppError {
	return &AppError{
		Err:     ErrDuplicateEmail,
		Message: fmt.Sprintf("email %s is already registered", email),
		Field:   "email",
	}
}

func TokenNotFound() *AppError {
	return &AppError{
		Err:     ErrTokenNotFound,
		Message: "verification token is not valid",
		Field:   "token",
	}
}

func TokenExpired() *AppError {
	return &AppError{
		Err:     ErrTokenExpired,
		Message: "verification token has expired",
		Field:   "token",
	}
}

func TokenAlreadyUsed() *AppError {
	return &AppError{
		Err:     ErrTokenAlreadyUsed,
		Message: "verification token has already been used",
		Field:   "token",
	}
}

// Storage wraps a collaborator failure. The cause stays reachable through
// errors.Is / errors.As, the message is safe to show.
func Storage(op string, cause error) *AppError {
	return &AppError{
		Err:     ErrStorage,
		Message: fmt.Sprintf("storage failure while %s", op),
		cause:   cause,
	}
}

func Notifier(cause error) *AppError {
	return &AppError{
		Err:     ErrNotifier,
		Message: "verification email could not be sent",
		cause:   cause,
	}
}
