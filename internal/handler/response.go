package handler

// RESPONSE HELPERS:
// Every handler answers through writeJSON / writeError so that all bodies
// share one content type and every failure has the same shape:
//
//	{"error": "duplicate_email", "message": "email x@y is already registered", "field": "email"}

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/apicore/internal/apperror"
)

const contentTypeJSON = "application/json; charset=utf-8"

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`           // machine-readable kind, e.g. "token_expired"
	Message string `json:"message"`         // human-readable description
	Field   string `json:"field,omitempty"` // input field at fault, when known
}

// writeJSON sends data with the given status. Headers must be set before
// WriteHeader, so the order below matters.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// headers are already out; all we can do is log
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// errorMapping pairs each sentinel with its status and wire name. Order
// matters: the first sentinel found in the chain wins.
var errorMapping = []struct {
	sentinel error
	status   int
	kind     string
}{
	{apperror.ErrValidation, http.StatusBadRequest, "validation_error"},
	{apperror.ErrDuplicateUsername, http.StatusConflict, "duplicate_username"},
	{apperror.ErrDuplicateEmail, http.StatusConflict, "duplicate_email"},
	{apperror.ErrTokenNotFound, http.StatusNotFound, "token_not_found"},
	{apperror.ErrTokenExpired, http.StatusGone, "token_expired"},
	{apperror.ErrTokenAlreadyUsed, http.StatusGone, "token_already_used"},
	{apperror.ErrNotFound, http.StatusNotFound, "not_found"},
	{apperror.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{apperror.ErrForbidden, http.StatusForbidden, "forbidden"},
	{apperror.ErrConflict, http.StatusConflict, "conflict"},
	{apperror.ErrStorage, http.StatusInternalServerError, "storage_error"},
	{apperror.ErrNotifier, http.StatusBadGateway, "notifier_error"},
}

// writeError maps a service error to a status code and sends it.
//
// Only AppError messages reach the client. Anything else, and the cause
// behind a storage or notifier failure, stays in the log.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		for _, m := range errorMapping {
			if !errors.Is(err, m.sentinel) {
				continue
			}
			if m.status >= http.StatusInternalServerError {
				slog.Error("request failed", slog.String("kind", m.kind), slog.String("error", err.Error()))
			}
			writeJSON(w, m.status, ErrorResponse{
				Error:   m.kind,
				Message: appErr.Message,
				Field:   appErr.Field,
			})
			return
		}
	}

	slog.Error("unhandled error", slog.String("error", err.Error()))
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred",
	})
}
