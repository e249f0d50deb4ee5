package common

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// MakeRandHexString generates a random hexadecimal string of the given size.
// The size parameter specifies the number of random bytes drawn from the
// crypto/rand source before hex encoding, so the resulting string is twice
// that length. Used for refresh tokens and password-reset tokens, which must
// be unguessable.
func MakeRandHexString(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// NewOpaqueToken returns a fresh unique identifier string. Used for
// email-verification tokens, where global uniqueness matters more than
// unguessability (the link is only ever delivered to the owner's mailbox).
func NewOpaqueToken() string {
	return uuid.NewString()
}
