// Package auth implements signing and validation of access tokens (JWT,
// HS256). Access tokens are short-lived and carry the subject user id plus
// email, username, and role claims, so resource services can authorize
// requests without a store lookup.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/avolkau/wayfinder-auth/internal/common"
)

// Claims is the claim set embedded in access tokens. Subject holds the user
// id in decimal form.
type Claims struct {
	jwt.RegisteredClaims
	Email    string `json:"email"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// Signer issues and validates access tokens with a symmetric secret.
// Validation enforces signature, issuer, audience, and expiry with zero
// clock-skew tolerance.
type Signer struct {
	secret   []byte
	issuer   string
	audience string
	validity time.Duration
}

// NewSigner constructs a Signer. The secret, issuer, and audience come from
// service configuration and are fixed for the process lifetime.
func NewSigner(secret []byte, issuer, audience string, validity time.Duration) *Signer {
	return &Signer{
		secret:   secret,
		issuer:   issuer,
		audience: audience,
		validity: validity,
	}
}

// Issue signs a new access token for the given user and returns it together
// with its expiry time.
func (s *Signer) Issue(userID int64, email, username, role string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.validity)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email:    email,
		Username: username,
		Role:     role,
	})

	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("error signing token: %w", err)
	}

	return signed, expiresAt, nil
}

// Parse validates a token string and returns its claims. Tokens with a bad
// signature, wrong issuer or audience, or a past expiry are rejected with
// common.ErrInvalidToken.
func (s *Signer) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, common.ErrInvalidToken
	}

	return claims, nil
}

// UserID extracts the subject user id from the claims.
func (c *Claims) UserID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return 0, errors.New("malformed subject claim")
	}
	return id, nil
}
