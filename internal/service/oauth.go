package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/archon/internal/apperror"
	"github.com/sakif/archon/internal/model"
	"github.com/sakif/archon/internal/repository"
)

const (
	DefaultStateTTL        = 10 * time.Minute
	DefaultExchangeTimeout = 15 * time.Second
)

// OAuthHandshake drives connect → callback → exchange → connected.
//
// The state parameter is stored server-side, bound to the initiating user
// and consumed atomically on callback, so a replayed callback fails with
// state_consumed and leaves the connection untouched.
type OAuthHandshake struct {
	provider        OAuthProvider
	states          repository.OAuthStateRepository
	conns           *IdentityConnectionStore
	stateTTL        time.Duration
	exchangeTimeout time.Duration
	now             func() time.Time
	logger          *slog.Logger
}

func NewOAuthHandshake(
	provider OAuthProvider,
	states repository.OAuthStateRepository,
	conns *IdentityConnectionStore,
	stateTTL, exchangeTimeout time.Duration,
	logger *slog.Logger,
) *OAuthHandshake {
	if stateTTL <= 0 {
		stateTTL = DefaultStateTTL
	}
	if exchangeTimeout <= 0 {
		exchangeTimeout = DefaultExchangeTimeout
	}
	return &OAuthHandshake{
		provider:        provider,
		states:          states,
		conns:           conns,
		stateTTL:        stateTTL,
		exchangeTimeout: exchangeTimeout,
		now:             time.Now,
		logger:          logger,
	}
}

// Authorization is the redirect target of a new handshake.
type Authorization struct {
	AuthorizationURL string `json:"authorizationUrl"`
	State            string `json:"state"`
}

// Callback carries the query parameters GitHub redirects back with.
type Callback struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// BeginConnect issues a fresh single-use state for userID and returns the
// provider URL to send the browser to. Expired states are purged first.
func (h *OAuthHandshake) BeginConnect(ctx context.Context, userID string) (*Authorization, error) {
	now := h.now().UTC()
	if n, err := h.states.PurgeExpiredStates(ctx, now); err != nil {
		h.logger.Warn("failed to purge expired oauth states", slog.String("error", err.Error()))
	} else if n > 0 {
		h.logger.Debug("purged expired oauth states", slog.Int64("count", n))
	}

	state := xid.New().String() + xid.New().String()
	if err := h.states.SaveState(ctx, &model.OAuthState{
		State:     state,
		UserID:    userID,
		ExpiresAt: now.Add(h.stateTTL),
		CreatedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("service/oauth: saving state: %w", err)
	}

	h.logger.Info("oauth handshake started",
		slog.String("userID", userID),
		slog.String("state", statePrefix(state)),
	)
	return &Authorization{AuthorizationURL: h.provider.AuthURL(state), State: state}, nil
}

// HandleCallback completes a handshake. Failures are distinct:
//   - cancelled: the user denied access on GitHub
//   - expired_state: unknown or expired state
//   - state_consumed: the callback was already processed
//   - provider: GitHub rejected the code (retryable)
//   - UpstreamTimeout / Upstream: GitHub unreachable (retryable)
//
// Nothing is written unless the exchange succeeds.
func (h *OAuthHandshake) HandleCallback(ctx context.Context, cb Callback) (*model.ConnectionStatus, error) {
	if cb.State == "" {
		return nil, apperror.OAuthFailed(apperror.ReasonExpiredState, "authorization state is missing")
	}

	st, err := h.states.ConsumeState(ctx, cb.State)
	switch {
	case errors.Is(err, apperror.ErrNotFound):
		return nil, apperror.OAuthFailed(apperror.ReasonExpiredState, "authorization request is unknown or expired")
	case err != nil:
		// state_consumed passes through unchanged
		return nil, fmt.Errorf("service/oauth: consuming state: %w", err)
	}
	log := h.logger.With(slog.String("userID", st.UserID), slog.String("state", statePrefix(cb.State)))

	if st.Expired(h.now()) {
		log.Info("oauth callback with expired state")
		return nil, apperror.OAuthFailed(apperror.ReasonExpiredState, "authorization request expired, please connect again")
	}

	if cb.Error != "" {
		if cb.Error == "access_denied" {
			log.Info("oauth authorization cancelled by user")
			return nil, apperror.OAuthFailed(apperror.ReasonCancelled, "authorization was cancelled")
		}
		log.Warn("oauth provider returned an error", slog.String("error", cb.Error))
		return nil, apperror.OAuthFailed(apperror.ReasonProvider, "GitHub reported an authorization error: "+cb.Error)
	}
	if cb.Code == "" {
		return nil, apperror.OAuthFailed(apperror.ReasonProvider, "authorization code is missing")
	}

	exCtx, cancel := context.WithTimeout(ctx, h.exchangeTimeout)
	defer cancel()
	grant, err := h.provider.Exchange(exCtx, cb.Code)
	if err != nil {
		log.Warn("oauth code exchange failed", slog.String("error", err.Error()))
		return nil, err
	}

	status, err := h.conns.Save(ctx, st.UserID, grant)
	if err != nil {
		return nil, err
	}
	log.Info("GitHub account connected", slog.String("username", grant.Login))
	return status, nil
}

// Disconnect clears the connection and its cached credential. Calling it
// again is not an error.
func (h *OAuthHandshake) Disconnect(ctx context.Context, userID string) error {
	if err := h.conns.Remove(ctx, userID); err != nil {
		return err
	}
	h.logger.Info("GitHub account disconnected", slog.String("userID", userID))
	return nil
}

// statePrefix keeps log lines correlatable without recording the whole
// state value.
func statePrefix(state string) string {
	if len(state) <= 6 {
		return state
	}
	return state[:6] + "…"
}
