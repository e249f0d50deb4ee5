// Package models contains shared server-side data structures.
package models

import "time"

// User is the single durable entity the auth lifecycle operates on. Token and
// expiry fields come in pairs that are always set and cleared together:
// RefreshToken/RefreshTokenExpiry and PasswordResetToken/PasswordResetTokenExpiry.
type User struct {
	ID           int64
	Email        string
	Username     string
	PasswordHash string
	Role         string

	IsEmailVerified        bool
	EmailVerificationToken *string

	PasswordResetToken       *string
	PasswordResetTokenExpiry *time.Time

	RefreshToken       *string
	RefreshTokenExpiry *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}
