package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/archon/internal/apperror"
	"github.com/sakif/archon/internal/auth"
)

// ErrorResponse is the body of every error the API returns:
//
//	{"error":"not_found","message":"project not found with id abc","retryable":false}
type ErrorResponse struct {
	Error     string               `json:"error"`
	Message   string               `json:"message"`
	Retryable bool                 `json:"retryable"`
	Details   []apperror.Rejection `json:"details,omitempty"`
}

// writeJSON sets the header and status before encoding; once the body
// starts, header changes are ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// errorStatus maps a domain error to its status code and machine-readable
// code. ok is false for errors outside the apperror taxonomy.
func errorStatus(err error) (status int, code string, ok bool) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError, "internal_error", false
	}

	switch {
	case errors.Is(err, apperror.ErrOAuthFailed):
		if appErr.Reason == apperror.ReasonProvider {
			return http.StatusBadGateway, "oauth_" + appErr.Reason, true
		}
		return http.StatusBadRequest, "oauth_" + appErr.Reason, true
	case errors.Is(err, apperror.ErrValidation):
		if appErr.Reason == "upload_rejected" {
			return http.StatusUnprocessableEntity, "upload_rejected", true
		}
		return http.StatusBadRequest, "validation_error", true
	case errors.Is(err, apperror.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized", true
	case errors.Is(err, apperror.ErrNotConnected):
		return http.StatusConflict, "not_connected", true
	case errors.Is(err, apperror.ErrDuplicate):
		return http.StatusConflict, "duplicate", true
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, "not_found", true
	case errors.Is(err, apperror.ErrForbidden):
		return http.StatusForbidden, "forbidden", true
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict, "conflict", true
	case errors.Is(err, apperror.ErrNotReady):
		return http.StatusConflict, "not_ready", true
	case errors.Is(err, apperror.ErrNotAvailable):
		return http.StatusNotFound, "not_available", true
	case errors.Is(err, apperror.ErrUpstreamTimeout):
		return http.StatusGatewayTimeout, "upstream_timeout", true
	case errors.Is(err, apperror.ErrUpstream):
		return http.StatusBadGateway, "upstream_error", true
	case errors.Is(err, apperror.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "too_large", true
	}
	return http.StatusInternalServerError, "internal_error", false
}

// writeError translates err into the error body. Anything unrecognised
// becomes a generic 500: raw errors can carry SQL or file paths.
func writeError(w http.ResponseWriter, err error) {
	status, code, ok := errorStatus(err)
	if !ok {
		slog.Error("unhandled error", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "An internal error occurred",
		})
		return
	}

	var appErr *apperror.AppError
	errors.As(err, &appErr)
	writeJSON(w, status, ErrorResponse{
		Error:     code,
		Message:   appErr.Message,
		Retryable: appErr.Retryable(),
		Details:   appErr.Details,
	})
}

// decodeJSON reads a JSON request body into dst.
func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperror.ValidationFailed("body", "invalid JSON body")
	}
	return nil
}

// userID returns the caller set by auth.RequireAuth.
func userID(r *http.Request) (string, error) {
	id, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		return "", apperror.Unauthorized("valid authentication required")
	}
	return id, nil
}
