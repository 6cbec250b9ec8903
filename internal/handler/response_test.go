package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/archon/internal/apperror"
)

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"unauthorized", apperror.Unauthorized("x"), http.StatusUnauthorized, "unauthorized"},
		{"not connected", apperror.NotConnected(), http.StatusConflict, "not_connected"},
		{"oauth cancelled", apperror.OAuthFailed(apperror.ReasonCancelled, "x"), http.StatusBadRequest, "oauth_cancelled"},
		{"oauth expired", apperror.OAuthFailed(apperror.ReasonExpiredState, "x"), http.StatusBadRequest, "oauth_expired_state"},
		{"oauth consumed", apperror.OAuthFailed(apperror.ReasonStateConsumed, "x"), http.StatusBadRequest, "oauth_state_consumed"},
		{"oauth provider", apperror.OAuthFailed(apperror.ReasonProvider, "x"), http.StatusBadGateway, "oauth_provider"},
		{"duplicate", apperror.Duplicate("project", "a/b"), http.StatusConflict, "duplicate"},
		{"validation", apperror.ValidationFailed("f", "x"), http.StatusBadRequest, "validation_error"},
		{"upload rejected", apperror.UploadRejected([]apperror.Rejection{{Path: "a", Reason: "b"}}), http.StatusUnprocessableEntity, "upload_rejected"},
		{"not found", apperror.NotFound("project", "1"), http.StatusNotFound, "not_found"},
		{"forbidden", apperror.Forbidden("x"), http.StatusForbidden, "forbidden"},
		{"conflict", apperror.Conflict("analysis", "1"), http.StatusConflict, "conflict"},
		{"not ready", apperror.NotReady("x"), http.StatusConflict, "not_ready"},
		{"not available", apperror.NotAvailable("x"), http.StatusNotFound, "not_available"},
		{"upstream timeout", apperror.UpstreamTimeout("GitHub"), http.StatusGatewayTimeout, "upstream_timeout"},
		{"upstream", apperror.Upstream("GitHub"), http.StatusBadGateway, "upstream_error"},
		{"too large", apperror.TooLarge("file", 10), http.StatusRequestEntityTooLarge, "too_large"},
		{"wrapped", fmt.Errorf("service/x: doing: %w", apperror.NotFound("project", "1")), http.StatusNotFound, "not_found"},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code, _ := errorStatus(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestWriteError_Body(t *testing.T) {
	rr := httptest.NewRecorder()
	writeError(rr, apperror.UploadRejected([]apperror.Rejection{{Path: "../x.py", Reason: "path traversal"}}))

	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, "upload_rejected", body.Error)
	assert.False(t, body.Retryable)
	require.Len(t, body.Details, 1)
	assert.Equal(t, "../x.py", body.Details[0].Path)
}

func TestWriteError_Retryable(t *testing.T) {
	rr := httptest.NewRecorder()
	writeError(rr, apperror.UpstreamTimeout("GitHub listing repositories"))

	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.True(t, body.Retryable)
}

func TestWriteError_HidesInternalText(t *testing.T) {
	rr := httptest.NewRecorder()
	writeError(rr, errors.New("sqlite: no such table: projects"))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "sqlite")
}
