package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/sakif/archon/internal/auth"
	"github.com/sakif/archon/internal/model"
	"github.com/sakif/archon/internal/service"
)

// Accounts is the platform sign-up and sign-in logic.
type Accounts interface {
	Register(ctx context.Context, in service.Registration) (*service.Session, error)
	Login(ctx context.Context, email, password string) (*service.Session, error)
	Me(ctx context.Context, userID string) (*model.User, error)
}

// AccountHandler serves registration, login, logout and the current user.
//
// A successful login sets the session JWT as an HttpOnly cookie for the
// browser and also returns it in the body for archonctl.
type AccountHandler struct {
	accounts   Accounts
	sessionTTL time.Duration
	secure     bool
	logger     *slog.Logger
}

// NewAccountHandler creates an AccountHandler. secure marks the session
// cookie HTTPS-only.
func NewAccountHandler(accounts Accounts, sessionTTL time.Duration, secure bool, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		accounts:   accounts,
		sessionTTL: sessionTTL,
		secure:     secure,
		logger:     logger,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleRegister creates an account and signs it in.
//
// HTTP: POST /api/auth/register
func (h *AccountHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req service.Registration
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	sess, err := h.accounts.Register(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	h.setSession(w, sess.Token)
	writeJSON(w, http.StatusCreated, sess)
}

// HandleLogin checks the credentials and issues a session.
//
// HTTP: POST /api/auth/login
func (h *AccountHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	sess, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	h.setSession(w, sess.Token)
	writeJSON(w, http.StatusOK, sess)
}

// HandleLogout deletes the session cookie. The JWT itself stays valid until
// it expires; without the cookie the browser no longer sends it.
//
// HTTP: POST /api/auth/logout
func (h *AccountHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// HandleMe returns the signed-in user.
//
// HTTP: GET /api/me
func (h *AccountHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	user, err := h.accounts.Me(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *AccountHandler) setSession(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.sessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
