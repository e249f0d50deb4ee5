package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/avolkau/wayfinder-auth/internal/common"
	"github.com/avolkau/wayfinder-auth/internal/dbx"
	"github.com/avolkau/wayfinder-auth/internal/server/models"
)

const uniqueViolation = "23505"

const userColumns = `id, email, username, password_hash, role, is_email_verified,
	email_verification_token, password_reset_token, password_reset_token_expires_at,
	refresh_token, refresh_token_expires_at, created_at, updated_at`

// PostgresRepository implements Repository over dbx.DBTX (satisfied by
// *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new user row. Unique violations on email or username map
// to common.ErrorDuplicate.
func (r *PostgresRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	query := `
		INSERT INTO users (email, username, password_hash, role, is_email_verified, email_verification_token)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		user.Email, user.Username, user.PasswordHash, user.Role,
		user.IsEmailVerified, user.EmailVerificationToken,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, common.ErrorDuplicate
		}
		return nil, fmt.Errorf("error performing sql request: %v", err)
	}

	return user, nil
}

// Update persists all mutable fields of the row identified by user.ID.
func (r *PostgresRepository) Update(ctx context.Context, user *models.User) error {
	query := `
		UPDATE users
		SET email = $2,
		    username = $3,
		    password_hash = $4,
		    role = $5,
		    is_email_verified = $6,
		    email_verification_token = $7,
		    password_reset_token = $8,
		    password_reset_token_expires_at = $9,
		    refresh_token = $10,
		    refresh_token_expires_at = $11,
		    updated_at = now()
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query,
		user.ID, user.Email, user.Username, user.PasswordHash, user.Role,
		user.IsEmailVerified, user.EmailVerificationToken,
		user.PasswordResetToken, user.PasswordResetTokenExpiry,
		user.RefreshToken, user.RefreshTokenExpiry,
	)
	if err != nil {
		return fmt.Errorf("error performing sql request: %v", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error performing sql request: %v", err)
	}
	if affected == 0 {
		return common.ErrorNotFound
	}

	return nil
}

func (r *PostgresRepository) FindByID(ctx context.Context, id int64) (*models.User, error) {
	return r.findBy(ctx, "id", id)
}

func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findBy(ctx, "email", email)
}

func (r *PostgresRepository) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.findBy(ctx, "username", username)
}

func (r *PostgresRepository) FindByRefreshToken(ctx context.Context, token string) (*models.User, error) {
	return r.findBy(ctx, "refresh_token", token)
}

func (r *PostgresRepository) FindByResetToken(ctx context.Context, token string) (*models.User, error) {
	return r.findBy(ctx, "password_reset_token", token)
}

func (r *PostgresRepository) FindByVerificationToken(ctx context.Context, token string) (*models.User, error) {
	return r.findBy(ctx, "email_verification_token", token)
}

// FindByRefreshTokenForUpdate locks the matched row until the surrounding
// transaction ends.
func (r *PostgresRepository) FindByRefreshTokenForUpdate(ctx context.Context, token string) (*models.User, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM users
		WHERE refresh_token = $1
		FOR UPDATE
	`, userColumns)
	return r.scanUser(r.db.QueryRowContext(ctx, query, token))
}

func (r *PostgresRepository) findBy(ctx context.Context, column string, value any) (*models.User, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM users
		WHERE %s = $1
	`, userColumns, column)
	return r.scanUser(r.db.QueryRowContext(ctx, query, value))
}

func (r *PostgresRepository) scanUser(row *sql.Row) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(
		&user.ID, &user.Email, &user.Username, &user.PasswordHash, &user.Role,
		&user.IsEmailVerified, &user.EmailVerificationToken,
		&user.PasswordResetToken, &user.PasswordResetTokenExpiry,
		&user.RefreshToken, &user.RefreshTokenExpiry,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("error performing sql request: %v", err)
	}
	return user, nil
}
