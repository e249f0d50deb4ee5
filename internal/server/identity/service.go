// Package identity implements the auth lifecycle: registration, login,
// refresh-token rotation, logout, password reset, and email verification.
// Each operation is a single unit of work against the user record store.
package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/avolkau/wayfinder-auth/internal/auth"
	"github.com/avolkau/wayfinder-auth/internal/common"
	"github.com/avolkau/wayfinder-auth/internal/dbx"
	"github.com/avolkau/wayfinder-auth/internal/logging"
	"github.com/avolkau/wayfinder-auth/internal/password"
	"github.com/avolkau/wayfinder-auth/internal/roles"
	"github.com/avolkau/wayfinder-auth/internal/server/config"
	"github.com/avolkau/wayfinder-auth/internal/server/models"
	"github.com/avolkau/wayfinder-auth/internal/server/repositories/repomanager"
	"github.com/avolkau/wayfinder-auth/internal/server/repositories/users"
)

// TokenPair bundles a short-lived access token and a long-lived opaque
// refresh token. ExpiresAt is the access token expiry.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Notifier is the best-effort side channel for verification and reset
// emails. Calls must not block and their outcome is never inspected.
type Notifier interface {
	SendVerificationEmail(email, token string)
	SendPasswordResetEmail(email, token string)
}

const minPasswordLength = 6

// Service provides the auth lifecycle operations. All state lives in the
// user record store; the service itself keeps only read-only configuration.
type Service struct {
	db                   *sql.DB
	repomanager          repomanager.RepositoryManager
	signer               *auth.Signer
	notifier             Notifier
	logger               logging.Logger
	refreshTokenValidity time.Duration
	resetTokenValidity   time.Duration
}

// NewService constructs a Service using repositories and server config.
func NewService(db *sql.DB, m repomanager.RepositoryManager, signer *auth.Signer, notifier Notifier, logger logging.Logger, cfg *config.Config) *Service {
	return &Service{
		db:                   db,
		repomanager:          m,
		signer:               signer,
		notifier:             notifier,
		logger:               logger.With("module", "identity"),
		refreshTokenValidity: cfg.RefreshTokenValidity,
		resetTokenValidity:   cfg.ResetTokenValidity,
	}
}

// Register creates a new user and immediately issues a token pair, as if the
// user had logged in. Email verification is pending at this point; a
// verification email is queued after the row is persisted.
func (s *Service) Register(ctx context.Context, email, username, plaintext string) (*TokenPair, error) {
	email = normalizeEmail(email)
	if err := validateRegistration(email, username, plaintext); err != nil {
		return nil, err
	}

	repo := s.repomanager.Users(s.db)

	if err := s.checkNotTaken(ctx, repo, email, username); err != nil {
		return nil, err
	}

	hash, err := password.Hash(plaintext)
	if err != nil {
		return nil, common.ErrorInternal
	}

	verificationToken := common.NewOpaqueToken()
	user := &models.User{
		Email:                  email,
		Username:               username,
		PasswordHash:           hash,
		Role:                   string(roles.RoleUser),
		IsEmailVerified:        false,
		EmailVerificationToken: &verificationToken,
	}

	user, err = repo.Create(ctx, user)
	if err != nil {
		if errors.Is(err, common.ErrorDuplicate) {
			return nil, common.ErrorDuplicate
		}
		return nil, fmt.Errorf("error creating user: %w", err)
	}

	pair, err := s.issueTokens(ctx, repo, user)
	if err != nil {
		return nil, err
	}

	s.notifier.SendVerificationEmail(user.Email, verificationToken)
	s.logger.Info(ctx, "user registered", "user_id", user.ID, "username", user.Username)

	return pair, nil
}

// Login verifies credentials and issues a fresh token pair, overwriting any
// previously stored refresh token. Unknown email and wrong password are
// indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, plaintext string) (*TokenPair, error) {
	repo := s.repomanager.Users(s.db)

	user, err := repo.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrInvalidCredentials
		}
		return nil, common.ErrorInternal
	}

	if !password.Verify(plaintext, user.PasswordHash) {
		return nil, common.ErrInvalidCredentials
	}

	return s.issueTokens(ctx, repo, user)
}

// Refresh rotates a refresh token: the presented value is validated against
// the store, discarded, and replaced within one transaction. The row lock
// taken by FindByRefreshTokenForUpdate guarantees that of two concurrent
// calls with the same token at most one succeeds.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	var pair *TokenPair

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Users(tx)

		user, err := repo.FindByRefreshTokenForUpdate(ctx, refreshToken)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.ErrInvalidOrExpiredToken
			}
			return fmt.Errorf("error searching refresh token: %w", err)
		}

		if user.RefreshTokenExpiry == nil || !user.RefreshTokenExpiry.After(time.Now()) {
			return common.ErrInvalidOrExpiredToken
		}

		pair, err = s.issueTokens(ctx, repo, user)
		return err
	})
	if err != nil {
		return nil, err
	}

	return pair, nil
}

// Logout clears the stored refresh token pair. It is idempotent: logging out
// a user with no active session still succeeds. Only a nonexistent user id
// is an error.
func (s *Service) Logout(ctx context.Context, userID int64) error {
	repo := s.repomanager.Users(s.db)

	user, err := repo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrorNotFound
		}
		return common.ErrorInternal
	}

	user.RefreshToken = nil
	user.RefreshTokenExpiry = nil

	if err := repo.Update(ctx, user); err != nil {
		return fmt.Errorf("error clearing session: %w", err)
	}

	return nil
}

// ForgotPassword starts the reset flow. It reports success whether or not
// the email exists, so callers cannot probe for accounts. When the user
// exists, a reset token valid for ResetTokenValidity is stored and a reset
// email is queued.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	repo := s.repomanager.Users(s.db)

	user, err := repo.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.logger.Debug(ctx, "password reset requested for unknown email")
			return nil
		}
		return common.ErrorInternal
	}

	token, err := common.MakeRandHexString(32)
	if err != nil {
		return common.ErrorInternal
	}
	expiry := time.Now().Add(s.resetTokenValidity)

	user.PasswordResetToken = &token
	user.PasswordResetTokenExpiry = &expiry

	if err := repo.Update(ctx, user); err != nil {
		return fmt.Errorf("error storing reset token: %w", err)
	}

	s.notifier.SendPasswordResetEmail(user.Email, token)
	return nil
}

// ResetPassword consumes a reset token: the password hash is replaced and
// both reset fields are cleared in one transaction, so a token can never be
// used twice.
func (s *Service) ResetPassword(ctx context.Context, token, newPlaintext string) error {
	if len(newPlaintext) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", common.ErrorValidation, minPasswordLength)
	}

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Users(tx)

		user, err := repo.FindByResetToken(ctx, token)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.ErrInvalidOrExpiredToken
			}
			return fmt.Errorf("error searching reset token: %w", err)
		}

		if user.PasswordResetTokenExpiry == nil || !user.PasswordResetTokenExpiry.After(time.Now()) {
			return common.ErrInvalidOrExpiredToken
		}

		hash, err := password.Hash(newPlaintext)
		if err != nil {
			return common.ErrorInternal
		}

		user.PasswordHash = hash
		user.PasswordResetToken = nil
		user.PasswordResetTokenExpiry = nil

		if err := repo.Update(ctx, user); err != nil {
			return fmt.Errorf("error updating password: %w", err)
		}

		s.logger.Info(ctx, "password reset completed", "user_id", user.ID)
		return nil
	})
}

// VerifyEmail consumes a verification token, marking the user verified and
// clearing the token so the link works exactly once. Verification tokens do
// not expire.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	repo := s.repomanager.Users(s.db)

	user, err := repo.FindByVerificationToken(ctx, token)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrInvalidToken
		}
		return common.ErrorInternal
	}

	user.IsEmailVerified = true
	user.EmailVerificationToken = nil

	if err := repo.Update(ctx, user); err != nil {
		return fmt.Errorf("error marking email verified: %w", err)
	}

	s.logger.Info(ctx, "email verified", "user_id", user.ID)
	return nil
}

// GetUserByID returns the user record for the given id.
func (s *Service) GetUserByID(ctx context.Context, userID int64) (*models.User, error) {
	repo := s.repomanager.Users(s.db)

	user, err := repo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorNotFound
		}
		return nil, common.ErrorInternal
	}

	return user, nil
}

// issueTokens mints an access token and a fresh refresh token for the user
// and persists the refresh pair, replacing whatever was stored before.
func (s *Service) issueTokens(ctx context.Context, repo users.Repository, user *models.User) (*TokenPair, error) {
	accessToken, expiresAt, err := s.signer.Issue(user.ID, user.Email, user.Username, user.Role)
	if err != nil {
		return nil, common.ErrorInternal
	}

	refreshToken, err := common.MakeRandHexString(32)
	if err != nil {
		return nil, common.ErrorInternal
	}
	refreshExpiry := time.Now().Add(s.refreshTokenValidity)

	user.RefreshToken = &refreshToken
	user.RefreshTokenExpiry = &refreshExpiry

	if err := repo.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("error storing refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) checkNotTaken(ctx context.Context, repo users.Repository, email, username string) error {
	if _, err := repo.FindByEmail(ctx, email); err == nil {
		return common.ErrorDuplicate
	} else if !errors.Is(err, common.ErrorNotFound) {
		return common.ErrorInternal
	}

	if _, err := repo.FindByUsername(ctx, username); err == nil {
		return common.ErrorDuplicate
	} else if !errors.Is(err, common.ErrorNotFound) {
		return common.ErrorInternal
	}

	return nil
}

func validateRegistration(email, username, plaintext string) error {
	if _, err := mail.ParseAddress(email); err != nil {
		return fmt.Errorf("%w: invalid email address", common.ErrorValidation)
	}
	if username == "" {
		return fmt.Errorf("%w: username must not be empty", common.ErrorValidation)
	}
	if len(plaintext) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", common.ErrorValidation, minPasswordLength)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
