package model

import "time"

// IdentityConnection links a platform user to a GitHub account.
//
// SealedToken holds the encrypted access token. It is tagged out of JSON and
// only ever decrypted inside the service layer when an outbound GitHub call
// needs it.
type IdentityConnection struct {
	UserID         string    `json:"-"`
	ProviderUserID int64     `json:"providerUserId"`
	Username       string    `json:"username"`
	AvatarURL      string    `json:"avatarUrl"`
	Scopes         string    `json:"scopes"`
	SealedToken    []byte    `json:"-"`
	ConnectedAt    time.Time `json:"connectedAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// ConnectionStatus is the only read model of a connection exposed to
// clients. It has no credential field at all.
type ConnectionStatus struct {
	Connected   bool       `json:"connected"`
	Username    string     `json:"username,omitempty"`
	AvatarURL   string     `json:"avatarUrl,omitempty"`
	ConnectedAt *time.Time `json:"connectedAt,omitempty"`
}

// OAuthState is a pending authorization request. The state value is
// single-use: consuming it deletes the row.
type OAuthState struct {
	State     string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the state is past its deadline at now.
func (s *OAuthState) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
