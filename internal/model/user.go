// Package model defines the data structures used throughout the application.
package model

import "time"

// User is a platform account. Platform identity is email + password; the
// GitHub identity is attached separately through an IdentityConnection.
//
// PasswordHash never leaves the server: the json tag drops it.
type User struct {
	ID           string    `json:"id"          db:"id"`
	Email        string    `json:"email"       db:"email"`
	DisplayName  string    `json:"displayName" db:"display_name"`
	PasswordHash string    `json:"-"           db:"password_hash"`
	CreatedAt    time.Time `json:"createdAt"   db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt"   db:"updated_at"`
}
