// Package web exposes the auth lifecycle over a thin JSON HTTP surface.
// Handlers only decode requests, call the identity service, and translate
// its errors into status codes; no business logic lives here.
package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/avolkau/wayfinder-auth/internal/auth"
	"github.com/avolkau/wayfinder-auth/internal/common"
	"github.com/avolkau/wayfinder-auth/internal/logging"
	"github.com/avolkau/wayfinder-auth/internal/server/identity"
)

// Handler carries the dependencies of the HTTP endpoints.
type Handler struct {
	svc     *identity.Service
	signer  *auth.Signer
	logger  logging.Logger
	metrics *Collector
	limiter *PerKeyLimiter
}

// NewHandler constructs the endpoint handler set.
func NewHandler(svc *identity.Service, signer *auth.Signer, logger logging.Logger, metrics *Collector, limiter *PerKeyLimiter) *Handler {
	return &Handler{
		svc:     svc,
		signer:  signer,
		logger:  logger.With("module", "web"),
		metrics: metrics,
		limiter: limiter,
	}
}

type tokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type userResponse struct {
	ID              int64     `json:"id"`
	Email           string    `json:"email"`
	Username        string    `json:"username"`
	Role            string    `json:"role"`
	IsEmailVerified bool      `json:"is_email_verified"`
	CreatedAt       time.Time `json:"created_at"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	pair, err := h.svc.Register(r.Context(), req.Email, req.Username, req.Password)
	if err != nil {
		h.serviceError(w, r, "register", err)
		return
	}

	h.metrics.RecordTokensIssued("register")
	h.metrics.RecordRequest("register", "201")
	writeJSON(w, http.StatusCreated, tokenPayload(pair))
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	if !h.limiter.Allow(req.Email) {
		h.metrics.RecordRequest("login", "429")
		writeError(w, http.StatusTooManyRequests, "too many attempts, try again later")
		return
	}

	pair, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, common.ErrInvalidCredentials) {
			h.metrics.RecordTokenRejection("credentials")
		}
		h.serviceError(w, r, "login", err)
		return
	}

	h.metrics.RecordTokensIssued("login")
	h.metrics.RecordRequest("login", "200")
	writeJSON(w, http.StatusOK, tokenPayload(pair))
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	pair, err := h.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, common.ErrInvalidOrExpiredToken) {
			h.metrics.RecordTokenRejection("refresh")
		}
		h.serviceError(w, r, "refresh", err)
		return
	}

	h.metrics.RecordTokensIssued("refresh")
	h.metrics.RecordRequest("refresh", "200")
	writeJSON(w, http.StatusOK, tokenPayload(pair))
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}
	userID, err := claims.UserID()
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	if err := h.svc.Logout(r.Context(), userID); err != nil {
		h.serviceError(w, r, "logout", err)
		return
	}

	h.metrics.RecordRequest("logout", "204")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	if !h.limiter.Allow(req.Email) {
		h.metrics.RecordRequest("forgot_password", "429")
		writeError(w, http.StatusTooManyRequests, "too many attempts, try again later")
		return
	}

	if err := h.svc.ForgotPassword(r.Context(), req.Email); err != nil {
		h.serviceError(w, r, "forgot_password", err)
		return
	}

	// always reports success so callers cannot probe for accounts
	h.metrics.RecordRequest("forgot_password", "200")
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.svc.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		if errors.Is(err, common.ErrInvalidOrExpiredToken) {
			h.metrics.RecordTokenRejection("reset")
		}
		h.serviceError(w, r, "reset_password", err)
		return
	}

	h.metrics.RecordRequest("reset_password", "204")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.svc.VerifyEmail(r.Context(), req.Token); err != nil {
		h.serviceError(w, r, "verify_email", err)
		return
	}

	h.metrics.RecordRequest("verify_email", "204")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}
	userID, err := claims.UserID()
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	user, err := h.svc.GetUserByID(r.Context(), userID)
	if err != nil {
		h.serviceError(w, r, "me", err)
		return
	}

	h.metrics.RecordRequest("me", "200")
	writeJSON(w, http.StatusOK, userResponse{
		ID:              user.ID,
		Email:           user.Email,
		Username:        user.Username,
		Role:            user.Role,
		IsEmailVerified: user.IsEmailVerified,
		CreatedAt:       user.CreatedAt,
	})
}

// getUser is the admin-only user lookup.
func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	user, err := h.svc.GetUserByID(r.Context(), userID)
	if err != nil {
		h.serviceError(w, r, "get_user", err)
		return
	}

	h.metrics.RecordRequest("get_user", "200")
	writeJSON(w, http.StatusOK, userResponse{
		ID:              user.ID,
		Email:           user.Email,
		Username:        user.Username,
		Role:            user.Role,
		IsEmailVerified: user.IsEmailVerified,
		CreatedAt:       user.CreatedAt,
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- helpers ---

func tokenPayload(pair *identity.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.ExpiresAt,
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}

// serviceError translates identity service errors into HTTP responses.
func (h *Handler) serviceError(w http.ResponseWriter, r *http.Request, handler string, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"

	switch {
	case errors.Is(err, common.ErrorValidation):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, common.ErrorDuplicate):
		status, msg = http.StatusConflict, "email or username already taken"
	case errors.Is(err, common.ErrInvalidCredentials):
		status, msg = http.StatusUnauthorized, err.Error()
	case errors.Is(err, common.ErrInvalidOrExpiredToken):
		status, msg = http.StatusUnauthorized, err.Error()
	case errors.Is(err, common.ErrInvalidToken):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, common.ErrorNotFound):
		status, msg = http.StatusNotFound, "not found"
	default:
		h.logger.Error(r.Context(), "handler failed", "handler", handler, "error", err.Error())
	}

	h.metrics.RecordRequest(handler, strconv.Itoa(status))
	writeError(w, status, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
