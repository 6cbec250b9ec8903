package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/archon/internal/apperror"
	"github.com/sakif/archon/internal/model"
	"github.com/sakif/archon/internal/repository"
)

var (
	_ repository.ConnectionRepository = (*DB)(nil)
	_ repository.OAuthStateRepository = (*DB)(nil)
)

// ===== IDENTITY CONNECTIONS =====

// SaveConnection inserts or replaces the user's connection in a single
// statement, so a reconnect never leaves a half-updated row.
func (db *DB) SaveConnection(ctx context.Context, conn *model.IdentityConnection) error {
	now := time.Now().UTC()
	if conn.ConnectedAt.IsZero() {
		conn.ConnectedAt = now
	}
	conn.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO identity_connections
			(user_id, provider_user_id, username, avatar_url, scopes, sealed_token, connected_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			provider_user_id = excluded.provider_user_id,
			username         = excluded.username,
			avatar_url       = excluded.avatar_url,
			scopes           = excluded.scopes,
			sealed_token     = excluded.sealed_token,
			connected_at     = excluded.connected_at,
			updated_at       = excluded.updated_at`,
		conn.UserID,
		conn.ProviderUserID,
		conn.Username,
		conn.AvatarURL,
		conn.Scopes,
		conn.SealedToken,
		conn.ConnectedAt,
		conn.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: saving connection for user %s: %w", conn.UserID, err)
	}
	return nil
}

func (db *DB) GetConnection(ctx context.Context, userID string) (*model.IdentityConnection, error) {
	var c model.IdentityConnection
	err := db.conn.QueryRowContext(ctx,
		`SELECT user_id, provider_user_id, username, avatar_url, scopes, sealed_token, connected_at, updated_at
		 FROM identity_connections WHERE user_id = ?`, userID,
	).Scan(
		&c.UserID,
		&c.ProviderUserID,
		&c.Username,
		&c.AvatarURL,
		&c.Scopes,
		&c.SealedToken,
		&c.ConnectedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("connection", userID)
		}
		return nil, fmt.Errorf("sqlite: getting connection for user %s: %w", userID, err)
	}
	return &c, nil
}

func (db *DB) DeleteConnection(ctx context.Context, userID string) error {
	if _, err := db.conn.ExecContext(ctx,
		`DELETE FROM identity_connections WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("sqlite: deleting connection for user %s: %w", userID, err)
	}
	return nil
}

// ===== OAUTH STATES =====

func (db *DB) SaveState(ctx context.Context, s *model.OAuthState) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO oauth_states (state, user_id, expires_at, created_at) VALUES (?, ?, ?, ?)`,
		s.State, s.UserID, s.ExpiresAt, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: saving oauth state: %w", err)
	}
	return nil
}

// ConsumeState flips consumed_at in one guarded UPDATE. Two concurrent
// callbacks with the same state race on that statement and exactly one wins.
func (db *DB) ConsumeState(ctx context.Context, state string) (*model.OAuthState, error) {
	s := model.OAuthState{State: state}
	err := db.conn.QueryRowContext(ctx,
		`UPDATE oauth_states SET consumed_at = ?
		 WHERE state = ? AND consumed_at IS NULL
		 RETURNING user_id, expires_at, created_at`,
		time.Now().UTC(), state,
	).Scan(&s.UserID, &s.ExpiresAt, &s.CreatedAt)
	if err == nil {
		return &s, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sqlite: consuming oauth state: %w", err)
	}

	// Nothing updated: either unknown or already used.
	var consumed int
	err = db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM oauth_states WHERE state = ? AND consumed_at IS NOT NULL`, state,
	).Scan(&consumed)
	if err != nil {
		return nil, fmt.Errorf("sqlite: checking oauth state: %w", err)
	}
	if consumed > 0 {
		return nil, apperror.OAuthFailed(apperror.ReasonStateConsumed, "this authorization has already been completed")
	}
	return nil, apperror.NotFound("oauth state", "(redacted)")
}

// PurgeExpiredStates deletes states past their deadline, consumed or not.
func (db *DB) PurgeExpiredStates(ctx context.Context, now time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM oauth_states WHERE expires_at < ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("sqlite: purging oauth states: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
