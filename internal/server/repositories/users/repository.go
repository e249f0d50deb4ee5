// Package users declares the server-side repository contract for the user
// record store.
package users

import (
	"context"

	"github.com/avolkau/wayfinder-auth/internal/server/models"
)

// Repository defines single-row operations over the users table. All Find
// methods return common.ErrorNotFound when no row matches.
type Repository interface {
	// Create inserts a new user and returns it with the store-assigned id and
	// timestamps populated. Returns common.ErrorDuplicate when the email or
	// username is already taken.
	Create(ctx context.Context, user *models.User) (*models.User, error)

	// Update persists all mutable fields of the user row and refreshes
	// updated_at.
	Update(ctx context.Context, user *models.User) error

	FindByID(ctx context.Context, id int64) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	FindByRefreshToken(ctx context.Context, token string) (*models.User, error)
	FindByResetToken(ctx context.Context, token string) (*models.User, error)
	FindByVerificationToken(ctx context.Context, token string) (*models.User, error)

	// FindByRefreshTokenForUpdate is FindByRefreshToken with a row lock. Must
	// run inside a transaction; it serializes concurrent rotations of the
	// same token so at most one caller observes the pre-rotation value.
	FindByRefreshTokenForUpdate(ctx context.Context, token string) (*models.User, error)
}
