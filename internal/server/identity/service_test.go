package identity

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/avolkau/wayfinder-auth/internal/auth"
	"github.com/avolkau/wayfinder-auth/internal/common"
	"github.com/avolkau/wayfinder-auth/internal/dbx"
	"github.com/avolkau/wayfinder-auth/internal/logging"
	"github.com/avolkau/wayfinder-auth/internal/server/config"
	"github.com/avolkau/wayfinder-auth/internal/server/models"
	"github.com/avolkau/wayfinder-auth/internal/server/repositories/users"
)

// --- fakes ---

// fakeUsersRepo is an in-memory user record store. It clones rows on every
// read and write, so service-side mutations only become visible via Update,
// like with a real database.
type fakeUsersRepo struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*models.User
}

func newFakeUsersRepo() *fakeUsersRepo {
	return &fakeUsersRepo{nextID: 1, byID: make(map[int64]*models.User)}
}

func cloneUser(u *models.User) *models.User {
	c := *u
	if u.EmailVerificationToken != nil {
		v := *u.EmailVerificationToken
		c.EmailVerificationToken = &v
	}
	if u.PasswordResetToken != nil {
		v := *u.PasswordResetToken
		c.PasswordResetToken = &v
	}
	if u.PasswordResetTokenExpiry != nil {
		v := *u.PasswordResetTokenExpiry
		c.PasswordResetTokenExpiry = &v
	}
	if u.RefreshToken != nil {
		v := *u.RefreshToken
		c.RefreshToken = &v
	}
	if u.RefreshTokenExpiry != nil {
		v := *u.RefreshTokenExpiry
		c.RefreshTokenExpiry = &v
	}
	return &c
}

func (r *fakeUsersRepo) Create(ctx context.Context, user *models.User) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.byID {
		if u.Email == user.Email || u.Username == user.Username {
			return nil, common.ErrorDuplicate
		}
	}
	now := time.Now()
	user.ID = r.nextID
	r.nextID++
	user.CreatedAt = now
	user.UpdatedAt = now
	r.byID[user.ID] = cloneUser(user)
	return cloneUser(user), nil
}

func (r *fakeUsersRepo) Update(ctx context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[user.ID]; !ok {
		return common.ErrorNotFound
	}
	user.UpdatedAt = time.Now()
	r.byID[user.ID] = cloneUser(user)
	return nil
}

func (r *fakeUsersRepo) findWhere(match func(*models.User) bool) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.byID {
		if match(u) {
			return cloneUser(u), nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *fakeUsersRepo) FindByID(ctx context.Context, id int64) (*models.User, error) {
	return r.findWhere(func(u *models.User) bool { return u.ID == id })
}

func (r *fakeUsersRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findWhere(func(u *models.User) bool { return u.Email == email })
}

func (r *fakeUsersRepo) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.findWhere(func(u *models.User) bool { return u.Username == username })
}

func (r *fakeUsersRepo) FindByRefreshToken(ctx context.Context, token string) (*models.User, error) {
	return r.findWhere(func(u *models.User) bool { return u.RefreshToken != nil && *u.RefreshToken == token })
}

func (r *fakeUsersRepo) FindByRefreshTokenForUpdate(ctx context.Context, token string) (*models.User, error) {
	return r.FindByRefreshToken(ctx, token)
}

func (r *fakeUsersRepo) FindByResetToken(ctx context.Context, token string) (*models.User, error) {
	return r.findWhere(func(u *models.User) bool { return u.PasswordResetToken != nil && *u.PasswordResetToken == token })
}

func (r *fakeUsersRepo) FindByVerificationToken(ctx context.Context, token string) (*models.User, error) {
	return r.findWhere(func(u *models.User) bool { return u.EmailVerificationToken != nil && *u.EmailVerificationToken == token })
}

// mutate edits a stored row in place, bypassing the service. Used to age
// tokens in expiry tests.
func (r *fakeUsersRepo) mutate(id int64, fn func(*models.User)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok {
		fn(u)
	}
}

type fakeRepoManager struct {
	users *fakeUsersRepo
}

func (m *fakeRepoManager) RunMigrations(ctx context.Context, db *sql.DB) error { return nil }

func (m *fakeRepoManager) Users(db dbx.DBTX) users.Repository { return m.users }

type recordingNotifier struct {
	mu            sync.Mutex
	verifications []string
	resets        []string
}

func (n *recordingNotifier) SendVerificationEmail(email, token string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.verifications = append(n.verifications, token)
}

func (n *recordingNotifier) SendPasswordResetEmail(email, token string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resets = append(n.resets, token)
}

// --- helpers ---

type testEnv struct {
	svc      *Service
	repo     *fakeUsersRepo
	notifier *recordingNotifier
	mock     sqlmock.Sqlmock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{
		RefreshTokenValidity: 7 * 24 * time.Hour,
		ResetTokenValidity:   time.Hour,
	}
	signer := auth.NewSigner([]byte("test-secret"), "wayfinder-auth", "wayfinder", 15*time.Minute)
	repo := newFakeUsersRepo()
	notifier := &recordingNotifier{}
	logger := logging.NewSlogLogger(slog.New(slog.DiscardHandler))

	svc := NewService(db, &fakeRepoManager{users: repo}, signer, notifier, logger, cfg)
	return &testEnv{svc: svc, repo: repo, notifier: notifier, mock: mock}
}

// expectTx arms the underlying connection for one transactional operation.
func (e *testEnv) expectTx(commits bool) {
	e.mock.ExpectBegin()
	if commits {
		e.mock.ExpectCommit()
	} else {
		e.mock.ExpectRollback()
	}
}

func (e *testEnv) register(t *testing.T, email, username, pass string) *TokenPair {
	t.Helper()
	pair, err := e.svc.Register(context.Background(), email, username, pass)
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}
	return pair
}

// --- registration ---

func TestRegister_IssuesTokensAndQueuesVerification(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pair := env.register(t, "a@x.com", "alice", "secret1")
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("expected both tokens, got %+v", pair)
	}
	if time.Until(pair.ExpiresAt) <= 0 {
		t.Fatalf("access token expiry must be in the future")
	}

	user, err := env.svc.GetUserByID(ctx, 1)
	if err != nil {
		t.Fatalf("GetUserByID error: %v", err)
	}
	if user.IsEmailVerified {
		t.Fatalf("new user must start unverified")
	}
	if user.EmailVerificationToken == nil {
		t.Fatalf("new user must carry a verification token")
	}
	if user.RefreshToken == nil || user.RefreshTokenExpiry == nil {
		t.Fatalf("refresh token pair must be set after registration")
	}
	if user.PasswordHash == "" || user.PasswordHash == "secret1" {
		t.Fatalf("password must be stored hashed")
	}

	if len(env.notifier.verifications) != 1 || env.notifier.verifications[0] != *user.EmailVerificationToken {
		t.Fatalf("expected one verification email carrying the stored token")
	}
}

func TestRegister_DuplicateEmailOrUsername(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.register(t, "a@x.com", "alice", "secret1")

	if _, err := env.svc.Register(ctx, "a@x.com", "alice2", "secret1"); !errors.Is(err, common.ErrorDuplicate) {
		t.Fatalf("expected duplicate error for taken email, got %v", err)
	}
	if _, err := env.svc.Register(ctx, "other@x.com", "alice", "secret1"); !errors.Is(err, common.ErrorDuplicate) {
		t.Fatalf("expected duplicate error for taken username, got %v", err)
	}
}

func TestRegister_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.svc.Register(ctx, "not-an-email", "alice", "secret1"); !errors.Is(err, common.ErrorValidation) {
		t.Fatalf("expected validation error for bad email, got %v", err)
	}
	if _, err := env.svc.Register(ctx, "a@x.com", "", "secret1"); !errors.Is(err, common.ErrorValidation) {
		t.Fatalf("expected validation error for empty username, got %v", err)
	}
	if _, err := env.svc.Register(ctx, "a@x.com", "alice", "short"); !errors.Is(err, common.ErrorValidation) {
		t.Fatalf("expected validation error for short password, got %v", err)
	}
}

// --- login ---

func TestLogin_UnknownEmailAndWrongPasswordIndistinguishable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.register(t, "a@x.com", "alice", "secret1")

	_, errUnknown := env.svc.Login(ctx, "nobody@x.com", "whatever")
	_, errWrongPass := env.svc.Login(ctx, "a@x.com", "wrongpass")

	if !errors.Is(errUnknown, common.ErrInvalidCredentials) || !errors.Is(errWrongPass, common.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for both, got %v / %v", errUnknown, errWrongPass)
	}
	if errUnknown.Error() != errWrongPass.Error() {
		t.Fatalf("error payloads must be byte-identical: %q vs %q", errUnknown.Error(), errWrongPass.Error())
	}
}

func TestLogin_IssuesFreshRefreshToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	registered := env.register(t, "a@x.com", "alice", "secret1")

	pair, err := env.svc.Login(ctx, "a@x.com", "secret1")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}
	if pair.RefreshToken == registered.RefreshToken {
		t.Fatalf("login must overwrite the previous refresh token")
	}

	// the pre-login refresh token is no longer stored
	if _, err := env.repo.FindByRefreshToken(ctx, registered.RefreshToken); !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("old refresh token must be gone from the store, got %v", err)
	}
}

// --- refresh rotation ---

func TestRefresh_RotatesToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	registered := env.register(t, "a@x.com", "alice", "secret1")

	env.expectTx(true)
	rotated, err := env.svc.Refresh(ctx, registered.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
	if rotated.RefreshToken == registered.RefreshToken {
		t.Fatalf("rotation must produce a new refresh token")
	}

	// a used refresh token can never be replayed
	env.expectTx(false)
	if _, err := env.svc.Refresh(ctx, registered.RefreshToken); !errors.Is(err, common.ErrInvalidOrExpiredToken) {
		t.Fatalf("expected ErrInvalidOrExpiredToken for replayed token, got %v", err)
	}

	// the rotated token still works
	env.expectTx(true)
	if _, err := env.svc.Refresh(ctx, rotated.RefreshToken); err != nil {
		t.Fatalf("rotated token must be usable: %v", err)
	}
}

func TestRefresh_ExpiredToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	registered := env.register(t, "a@x.com", "alice", "secret1")

	past := time.Now().Add(-time.Minute)
	env.repo.mutate(1, func(u *models.User) { u.RefreshTokenExpiry = &past })

	env.expectTx(false)
	if _, err := env.svc.Refresh(ctx, registered.RefreshToken); !errors.Is(err, common.ErrInvalidOrExpiredToken) {
		t.Fatalf("expected ErrInvalidOrExpiredToken for expired token, got %v", err)
	}
}

func TestRefresh_UnknownToken(t *testing.T) {
	env := newTestEnv(t)

	env.expectTx(false)
	if _, err := env.svc.Refresh(context.Background(), "deadbeef"); !errors.Is(err, common.ErrInvalidOrExpiredToken) {
		t.Fatalf("expected ErrInvalidOrExpiredToken for unknown token, got %v", err)
	}
}

// --- logout ---

func TestLogout_ClearsSessionAndIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.register(t, "a@x.com", "alice", "secret1")

	if err := env.svc.Logout(ctx, 1); err != nil {
		t.Fatalf("Logout error: %v", err)
	}

	user, err := env.svc.GetUserByID(ctx, 1)
	if err != nil {
		t.Fatalf("GetUserByID error: %v", err)
	}
	if user.RefreshToken != nil || user.RefreshTokenExpiry != nil {
		t.Fatalf("refresh token pair must be cleared, got %+v", user)
	}

	// second logout with no active session still succeeds
	if err := env.svc.Logout(ctx, 1); err != nil {
		t.Fatalf("second Logout must succeed: %v", err)
	}
}

func TestLogout_UnknownUser(t *testing.T) {
	env := newTestEnv(t)

	if err := env.svc.Logout(context.Background(), 404); !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("expected ErrorNotFound, got %v", err)
	}
}

// --- forgot / reset password ---

func TestForgotPassword_UnknownEmailStillSucceeds(t *testing.T) {
	env := newTestEnv(t)

	if err := env.svc.ForgotPassword(context.Background(), "nobody@x.com"); err != nil {
		t.Fatalf("ForgotPassword must not reveal unknown emails: %v", err)
	}
	if len(env.notifier.resets) != 0 {
		t.Fatalf("no reset email must be sent for unknown email")
	}
}

func TestForgotPassword_SetsTokenWithHourExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.register(t, "a@x.com", "alice", "secret1")

	if err := env.svc.ForgotPassword(ctx, "a@x.com"); err != nil {
		t.Fatalf("ForgotPassword error: %v", err)
	}

	user, _ := env.repo.FindByEmail(ctx, "a@x.com")
	if user.PasswordResetToken == nil || user.PasswordResetTokenExpiry == nil {
		t.Fatalf("reset token pair must be set, got %+v", user)
	}
	until := time.Until(*user.PasswordResetTokenExpiry)
	if until < 55*time.Minute || until > 65*time.Minute {
		t.Fatalf("reset expiry must be about an hour ahead, got %v", until)
	}
	if len(env.notifier.resets) != 1 || env.notifier.resets[0] != *user.PasswordResetToken {
		t.Fatalf("expected one reset email carrying the stored token")
	}
}

func TestResetPassword_ConsumesTokenOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.register(t, "a@x.com", "alice", "secret1")
	if err := env.svc.ForgotPassword(ctx, "a@x.com"); err != nil {
		t.Fatalf("ForgotPassword error: %v", err)
	}
	token := env.notifier.resets[0]

	env.expectTx(true)
	if err := env.svc.ResetPassword(ctx, token, "newpass1"); err != nil {
		t.Fatalf("ResetPassword error: %v", err)
	}

	// old password no longer works, new one does
	if _, err := env.svc.Login(ctx, "a@x.com", "secret1"); !errors.Is(err, common.ErrInvalidCredentials) {
		t.Fatalf("old password must be rejected, got %v", err)
	}
	if _, err := env.svc.Login(ctx, "a@x.com", "newpass1"); err != nil {
		t.Fatalf("new password must be accepted: %v", err)
	}

	// reset fields cleared, token single-use
	user, _ := env.repo.FindByEmail(ctx, "a@x.com")
	if user.PasswordResetToken != nil || user.PasswordResetTokenExpiry != nil {
		t.Fatalf("reset token pair must be cleared, got %+v", user)
	}

	env.expectTx(false)
	if err := env.svc.ResetPassword(ctx, token, "again123"); !errors.Is(err, common.ErrInvalidOrExpiredToken) {
		t.Fatalf("expected ErrInvalidOrExpiredToken for reused token, got %v", err)
	}
}

func TestResetPassword_ExpiredToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.register(t, "a@x.com", "alice", "secret1")
	if err := env.svc.ForgotPassword(ctx, "a@x.com"); err != nil {
		t.Fatalf("ForgotPassword error: %v", err)
	}
	token := env.notifier.resets[0]

	past := time.Now().Add(-time.Second)
	env.repo.mutate(1, func(u *models.User) { u.PasswordResetTokenExpiry = &past })

	env.expectTx(false)
	if err := env.svc.ResetPassword(ctx, token, "newpass1"); !errors.Is(err, common.ErrInvalidOrExpiredToken) {
		t.Fatalf("expected ErrInvalidOrExpiredToken for expired token, got %v", err)
	}
}

// --- email verification ---

func TestVerifyEmail_ConsumesTokenOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.register(t, "a@x.com", "alice", "secret1")
	token := env.notifier.verifications[0]

	if err := env.svc.VerifyEmail(ctx, token); err != nil {
		t.Fatalf("VerifyEmail error: %v", err)
	}

	user, err := env.svc.GetUserByID(ctx, 1)
	if err != nil {
		t.Fatalf("GetUserByID error: %v", err)
	}
	if !user.IsEmailVerified {
		t.Fatalf("user must be verified")
	}
	if user.EmailVerificationToken != nil {
		t.Fatalf("verification token must be cleared")
	}

	if err := env.svc.VerifyEmail(ctx, token); !errors.Is(err, common.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for reused token, got %v", err)
	}
}

// --- lookup ---

func TestGetUserByID_NotFound(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.svc.GetUserByID(context.Background(), 404); !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("expected ErrorNotFound, got %v", err)
	}
}
