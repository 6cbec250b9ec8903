package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/sakif/archon/internal/apperror"
	"github.com/sakif/archon/internal/model"
	"github.com/sakif/archon/internal/service"
)

// ConnectionStatuses reads a user's GitHub connection.
type ConnectionStatuses interface {
	GetConnectionStatus(ctx context.Context, userID string) (*model.ConnectionStatus, error)
}

// OAuthFlow is the connect/disconnect handshake.
type OAuthFlow interface {
	BeginConnect(ctx context.Context, userID string) (*service.Authorization, error)
	HandleCallback(ctx context.Context, cb service.Callback) (*model.ConnectionStatus, error)
	Disconnect(ctx context.Context, userID string) error
}

// ConnectionHandler links and unlinks the user's GitHub account.
type ConnectionHandler struct {
	statuses    ConnectionStatuses
	oauth       OAuthFlow
	frontendURL string
	logger      *slog.Logger
}

func NewConnectionHandler(statuses ConnectionStatuses, oauth OAuthFlow, frontendURL string, logger *slog.Logger) *ConnectionHandler {
	return &ConnectionHandler{
		statuses:    statuses,
		oauth:       oauth,
		frontendURL: frontendURL,
		logger:      logger,
	}
}

// HandleStatus reports whether the caller has a connected account.
//
// HTTP: GET /api/connection/status
func (h *ConnectionHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	status, err := h.statuses.GetConnectionStatus(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// HandleAuthorize starts a handshake and returns the GitHub URL. The client
// navigates there itself; a JSON API cannot redirect a fetch().
//
// HTTP: GET /api/connection/authorize
func (h *ConnectionHandler) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	authz, err := h.oauth.BeginConnect(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, authz)
}

// HandleCallback completes the handshake. It is public: the state value,
// not the session, identifies the user.
//
// Browsers are redirected to the frontend with ?connection=success or
// ?connection=error&reason=<reason>. Clients that ask for JSON get the
// status or the error body instead.
//
// HTTP: GET /api/connection/callback?code=&state=
func (h *ConnectionHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status, err := h.oauth.HandleCallback(r.Context(), service.Callback{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	})

	if wantsJSON(r) {
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
		return
	}

	params := url.Values{}
	if err != nil {
		params.Set("connection", "error")
		params.Set("reason", callbackReason(err))
	} else {
		params.Set("connection", "success")
	}
	http.Redirect(w, r, h.redirectURL(params), http.StatusSeeOther)
}

// HandleDisconnect removes the connection. Disconnecting twice succeeds.
//
// HTTP: DELETE /api/connection
func (h *ConnectionHandler) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.oauth.Disconnect(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ConnectionHandler) redirectURL(params url.Values) string {
	base := h.frontendURL
	if base == "" {
		base = "/"
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + params.Encode()
}

// callbackReason is the OAuth reason for handshake failures and the error
// code for everything else.
func callbackReason(err error) string {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) && appErr.Reason != "" {
		return appErr.Reason
	}
	_, code, _ := errorStatus(err)
	return code
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
