// Package password implements one-way salted password hashing on top of
// bcrypt. The salt is generated per call and embedded in the output, so two
// hashes of the same plaintext never match byte-for-byte.
package password

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrEmptyPassword is returned when an empty plaintext is passed to Hash.
var ErrEmptyPassword = errors.New("password must not be empty")

// Hash generates a salted bcrypt hash of the plaintext.
func Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrEmptyPassword
	}
	h, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("error hashing password: %w", err)
	}
	return string(h), nil
}

// Verify reports whether the plaintext matches the stored hash.
func Verify(plaintext, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}
