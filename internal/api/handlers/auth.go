package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/minjaeko/chatrelay/internal/api/ctxkeys"
	domainauth "github.com/minjaeko/chatrelay/internal/domain/auth"
	pkgauth "github.com/minjaeko/chatrelay/pkg/auth"
)

// AuthHandler handles account and token endpoints.
type AuthHandler struct {
	service domainauth.Service
}

func NewAuthHandler(service domainauth.Service) *AuthHandler {
	return &AuthHandler{service: service}
}

// RegisterRequest is the body for POST /auth/register. UserID is the
// user-chosen login identifier.
type RegisterRequest struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// LoginRequest is the body for POST /auth/login. Identifier is the user
// id or the email address.
type LoginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

// LoginResponse combines the user and the issued token pair.
type LoginResponse struct {
	User   *domainauth.User      `json:"user"`
	Tokens *domainauth.TokenPair `json:"tokens"`
}

// Register handles POST /auth/register.
//
// Response codes: 201 created, 400 invalid body or weak password,
// 409 id/email already taken.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.service.Register(r.Context(), domainauth.RegisterInput{
		ID:       req.UserID,
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	})
	if err != nil {
		switch {
		case errors.Is(err, domainauth.ErrUserExists):
			writeError(w, http.StatusConflict, "user id or email already registered")
		case errors.Is(err, domainauth.ErrWeakPassword), errors.Is(err, domainauth.ErrInvalidCredentials):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "registration failed")
		}
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, tokens, err := h.service.Login(r.Context(), req.Identifier, req.Password)
	if err != nil {
		if errors.Is(err, domainauth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{User: user, Tokens: tokens})
}

// Refresh handles POST /auth/refresh. Public: it authenticates with the
// refresh token itself, which is rotated on success.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	tokens, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, domainauth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "invalid refresh token")
			return
		}
		writeError(w, http.StatusInternalServerError, "refresh failed")
		return
	}

	writeJSON(w, http.StatusOK, tokens)
}

// Logout handles POST /api/v1/auth/logout: revokes the presented access
// token by its jti.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	claims := &pkgauth.Claims{
		UserID:    ctxkeys.Value(ctx, ctxkeys.UserID),
		TokenType: ctxkeys.Value(ctx, ctxkeys.TokenType),
	}
	claims.ID = ctxkeys.Value(ctx, ctxkeys.TokenID)
	if claims.ID == "" {
		writeError(w, http.StatusUnauthorized, "missing token context")
		return
	}

	if err := h.service.Logout(ctx, claims); err != nil {
		writeError(w, http.StatusInternalServerError, "logout failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// GetUser handles GET /api/v1/auth/user.
func (h *AuthHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing user context")
		return
	}

	user, err := h.service.Get(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// UpdateUser handles PUT /api/v1/auth/user.
func (h *AuthHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing user context")
		return
	}

	var req struct {
		Email *string `json:"email"`
		Name  *string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.service.Update(r.Context(), userID, domainauth.UpdateInput{
		Email: req.Email,
		Name:  req.Name,
	})
	if err != nil {
		switch {
		case errors.Is(err, domainauth.ErrUserExists):
			writeError(w, http.StatusConflict, "email already in use")
		case errors.Is(err, domainauth.ErrInvalidCredentials):
			writeError(w, http.StatusBadRequest, "invalid email")
		default:
			writeError(w, http.StatusInternalServerError, "update failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// ChangePassword handles POST /api/v1/auth/change-password.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing user context")
		return
	}

	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err = h.service.ChangePassword(r.Context(), userID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		switch {
		case errors.Is(err, domainauth.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "current password is incorrect")
		case errors.Is(err, domainauth.ErrWeakPassword):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "password change failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "password changed"})
}

// VerifyPassword handles POST /api/v1/auth/verify-password. Used by the
// client before destructive account actions.
func (h *AuthHandler) VerifyPassword(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing user context")
		return
	}

	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ok, err := h.service.VerifyPassword(r.Context(), userID, req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "verification failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"valid": ok})
}
