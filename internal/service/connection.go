package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/archon/internal/apperror"
	"github.com/sakif/archon/internal/auth"
	"github.com/sakif/archon/internal/cache"
	"github.com/sakif/archon/internal/model"
	"github.com/sakif/archon/internal/repository"
)

// DefaultCredentialTTL is how long a decrypted credential stays cached.
const DefaultCredentialTTL = 5 * time.Minute

// IdentityConnectionStore owns the user's GitHub connection. It is the only
// place a credential is decrypted, and the decrypted value never leaves the
// service package except as the token argument of an outbound GitHub call.
type IdentityConnectionStore struct {
	repo   repository.ConnectionRepository
	sealer CredentialSealer
	creds  *cache.TTLCache[string, string]
	ttl    time.Duration
	logger *slog.Logger
}

func NewIdentityConnectionStore(
	repo repository.ConnectionRepository,
	sealer CredentialSealer,
	ttl time.Duration,
	logger *slog.Logger,
) *IdentityConnectionStore {
	if ttl <= 0 {
		ttl = DefaultCredentialTTL
	}
	return &IdentityConnectionStore{
		repo:   repo,
		sealer: sealer,
		creds:  cache.New[string, string](),
		ttl:    ttl,
		logger: logger,
	}
}

// GetConnectionStatus reports whether userID has a connection. A missing
// connection is connected=false, not an error.
func (s *IdentityConnectionStore) GetConnectionStatus(ctx context.Context, userID string) (*model.ConnectionStatus, error) {
	conn, err := s.repo.GetConnection(ctx, userID)
	if errors.Is(err, apperror.ErrNotFound) {
		return &model.ConnectionStatus{Connected: false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("service/connection: status: %w", err)
	}
	return statusOf(conn), nil
}

func statusOf(conn *model.IdentityConnection) *model.ConnectionStatus {
	connectedAt := conn.ConnectedAt
	return &model.ConnectionStatus{
		Connected:   true,
		Username:    conn.Username,
		AvatarURL:   conn.AvatarURL,
		ConnectedAt: &connectedAt,
	}
}

// GetCredential returns the decrypted access token for userID, cached per
// user for the configured TTL. It fails with NotConnected when there is no
// connection.
func (s *IdentityConnectionStore) GetCredential(ctx context.Context, userID string) (string, error) {
	return s.creds.GetOrRefresh(ctx, userID, s.ttl, func(ctx context.Context) (string, error) {
		conn, err := s.repo.GetConnection(ctx, userID)
		if errors.Is(err, apperror.ErrNotFound) {
			return "", apperror.NotConnected()
		}
		if err != nil {
			return "", fmt.Errorf("service/connection: load credential: %w", err)
		}
		plain, err := s.sealer.Open(conn.SealedToken)
		if err != nil {
			// A credential sealed under another key is unusable; treat the
			// account as disconnected rather than failing every call.
			s.logger.Error("stored credential cannot be opened", slog.String("userID", userID))
			return "", apperror.NotConnected()
		}
		return string(plain), nil
	})
}

// WithCredential runs fn with the user's token. When GitHub rejects the token
// (fn returns NotConnected) the connection is removed so the next status
// read shows the account as disconnected.
func (s *IdentityConnectionStore) WithCredential(ctx context.Context, userID string, fn func(token string) error) error {
	token, err := s.GetCredential(ctx, userID)
	if err != nil {
		return err
	}
	err = fn(token)
	if errors.Is(err, apperror.ErrNotConnected) {
		s.logger.Warn("GitHub rejected stored credential, dropping connection", slog.String("userID", userID))
		if rmErr := s.Remove(ctx, userID); rmErr != nil {
			s.logger.Error("failed to drop rejected connection",
				slog.String("userID", userID),
				slog.String("error", rmErr.Error()),
			)
		}
	}
	return err
}

// Save seals the grant's token and stores the connection, replacing any
// previous one. The cache entry is dropped so the new token is used next.
func (s *IdentityConnectionStore) Save(ctx context.Context, userID string, grant *auth.Grant) (*model.ConnectionStatus, error) {
	sealed, err := s.sealer.Seal([]byte(grant.AccessToken))
	if err != nil {
		return nil, fmt.Errorf("service/connection: seal credential: %w", err)
	}

	conn := &model.IdentityConnection{
		UserID:         userID,
		ProviderUserID: grant.UserID,
		Username:       grant.Login,
		AvatarURL:      grant.AvatarURL,
		Scopes:         grant.Scopes,
		SealedToken:    sealed,
	}
	if err := s.repo.SaveConnection(ctx, conn); err != nil {
		return nil, fmt.Errorf("service/connection: save: %w", err)
	}
	s.creds.Invalidate(userID)
	return statusOf(conn), nil
}

// Remove deletes the connection and evicts the cached credential. Removing
// a missing connection is not an error.
func (s *IdentityConnectionStore) Remove(ctx context.Context, userID string) error {
	s.creds.Invalidate(userID)
	if err := s.repo.DeleteConnection(ctx, userID); err != nil {
		return fmt.Errorf("service/connection: delete: %w", err)
	}
	// A refresh racing with the delete may have cached the old token.
	s.creds.Invalidate(userID)
	return nil
}
