// Package auth implements account management: registration, login with
// access/refresh token pairs, token revocation, and password changes.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	pkgauth "github.com/minjaeko/chatrelay/pkg/auth"
)

// ErrInvalidCredentials covers both unknown identifier and wrong
// password, so login responses never reveal which accounts exist.
var ErrInvalidCredentials = errors.New("auth: invalid credentials")

// ErrUserExists is returned when the user id or email is already taken.
var ErrUserExists = errors.New("auth: user already exists")

// ErrUserNotFound is returned for lookups of missing or inactive users.
var ErrUserNotFound = errors.New("auth: user not found")

// ErrInvalidToken is returned for malformed, expired, revoked, or
// wrong-type tokens.
var ErrInvalidToken = errors.New("auth: invalid token")

// ErrWeakPassword is returned when a password fails the minimum rules.
var ErrWeakPassword = errors.New("auth: password must be at least 8 characters")

const minPasswordLen = 8

// User is an account as exposed to handlers; never carries the hash.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	IsActive  bool   `json:"is_active"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// RegisterInput holds the data for a new account. ID is the user-chosen
// login identifier.
type RegisterInput struct {
	ID       string
	Email    string
	Password string
	Name     string
}

// UpdateInput holds partial profile updates; nil fields stay unchanged.
type UpdateInput struct {
	Email *string
	Name  *string
}

// TokenPair is issued on login and refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// Service defines the account operations.
type Service interface {
	Register(ctx context.Context, input RegisterInput) (*User, error)
	Login(ctx context.Context, identifier, password string) (*User, *TokenPair, error)
	Logout(ctx context.Context, claims *pkgauth.Claims) error
	Refresh(ctx context.Context, refreshToken string) (*TokenPair, error)
	IsRevoked(ctx context.Context, jti string) (bool, error)

	Get(ctx context.Context, userID string) (*User, error)
	Update(ctx context.Context, userID string, input UpdateInput) (*User, error)
	ChangePassword(ctx context.Context, userID, current, next string) error
	VerifyPassword(ctx context.Context, userID, password string) (bool, error)
}

type service struct {
	db *sql.DB
}

// NewService creates an auth service backed by db.
func NewService(db *sql.DB) Service {
	return &service{db: db}
}

// Register creates the account. The id doubles as a login identifier, so
// it must not collide with another user's id or email.
func (s *service) Register(ctx context.Context, input RegisterInput) (*User, error) {
	id := strings.TrimSpace(input.ID)
	email := strings.ToLower(strings.TrimSpace(input.Email))

	if id == "" || email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: id and email are required", ErrInvalidCredentials)
	}
	if len(input.Password) < minPasswordLen {
		return nil, ErrWeakPassword
	}

	var count int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM users WHERE id = ? OR email = ?", id, email,
	).Scan(&count); err != nil {
		return nil, fmt.Errorf("auth: check existing: %w", err)
	}
	if count > 0 {
		return nil, ErrUserExists
	}

	hash, err := pkgauth.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, name, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?)
	`, id, email, hash, input.Name, now, now); err != nil {
		return nil, fmt.Errorf("auth: create user: %w", err)
	}

	return &User{ID: id, Email: email, Name: input.Name, IsActive: true, CreatedAt: now, UpdatedAt: now}, nil
}

// Login authenticates by user id or email and issues a token pair.
func (s *service) Login(ctx context.Context, identifier, password string) (*User, *TokenPair, error) {
	identifier = strings.TrimSpace(identifier)

	var u User
	var hash string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, name, is_active, created_at, updated_at
		FROM users WHERE (id = ? OR email = ?) AND is_active = 1
	`, identifier, strings.ToLower(identifier)).Scan(
		&u.ID, &u.Email, &hash, &u.Name, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, nil, fmt.Errorf("auth: load user: %w", err)
	}

	if !pkgauth.VerifyPassword(hash, password) {
		return nil, nil, ErrInvalidCredentials
	}

	pair, err := s.issuePair(u.ID)
	if err != nil {
		return nil, nil, err
	}

	return &u, pair, nil
}

// Logout revokes the presented token by blacklisting its jti.
func (s *service) Logout(ctx context.Context, claims *pkgauth.Claims) error {
	return s.revoke(ctx, claims.ID, claims.UserID, claims.TokenType)
}

// Refresh rotates a refresh token: the old jti is revoked and a fresh
// pair is issued. A revoked or non-refresh token is rejected.
func (s *service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := pkgauth.ParseToken(refreshToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.TokenType != pkgauth.TokenTypeRefresh {
		return nil, fmt.Errorf("%w: not a refresh token", ErrInvalidToken)
	}

	revoked, err := s.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, fmt.Errorf("%w: token revoked", ErrInvalidToken)
	}

	if err := s.revoke(ctx, claims.ID, claims.UserID, claims.TokenType); err != nil {
		return nil, err
	}

	return s.issuePair(claims.UserID)
}

// IsRevoked reports whether jti has been blacklisted.
func (s *service) IsRevoked(ctx context.Context, jti string) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM blacklist_tokens WHERE jti = ?", jti,
	).Scan(&count); err != nil {
		return false, fmt.Errorf("auth: check blacklist: %w", err)
	}
	return count > 0, nil
}

func (s *service) Get(ctx context.Context, userID string) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, name, is_active, created_at, updated_at
		FROM users WHERE id = ? AND is_active = 1
	`, userID).Scan(&u.ID, &u.Email, &u.Name, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("auth: load user: %w", err)
	}
	return &u, nil
}

func (s *service) Update(ctx context.Context, userID string, input UpdateInput) (*User, error) {
	u, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if input.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*input.Email))
		if !strings.Contains(email, "@") {
			return nil, fmt.Errorf("%w: invalid email", ErrInvalidCredentials)
		}
		var count int
		if err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM users WHERE email = ? AND id != ?", email, userID,
		).Scan(&count); err != nil {
			return nil, fmt.Errorf("auth: check email: %w", err)
		}
		if count > 0 {
			return nil, ErrUserExists
		}
		u.Email = email
	}
	if input.Name != nil {
		u.Name = *input.Name
	}
	u.UpdatedAt = time.Now().UTC().Format(time.RFC3339)

	if _, err := s.db.ExecContext(ctx,
		"UPDATE users SET email = ?, name = ?, updated_at = ? WHERE id = ?",
		u.Email, u.Name, u.UpdatedAt, userID); err != nil {
		return nil, fmt.Errorf("auth: update user: %w", err)
	}

	return u, nil
}

// ChangePassword verifies the current password before replacing it.
func (s *service) ChangePassword(ctx context.Context, userID, current, next string) error {
	ok, err := s.VerifyPassword(ctx, userID, current)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCredentials
	}
	if len(next) < minPasswordLen {
		return ErrWeakPassword
	}

	hash, err := pkgauth.HashPassword(next)
	if err != nil {
		return fmt.Errorf("auth: hash password: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := s.db.ExecContext(ctx,
		"UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?",
		hash, now, userID); err != nil {
		return fmt.Errorf("auth: update password: %w", err)
	}

	return nil
}

func (s *service) VerifyPassword(ctx context.Context, userID, password string) (bool, error) {
	var hash string
	err := s.db.QueryRowContext(ctx,
		"SELECT password_hash FROM users WHERE id = ? AND is_active = 1", userID,
	).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrUserNotFound
	}
	if err != nil {
		return false, fmt.Errorf("auth: load hash: %w", err)
	}
	return pkgauth.VerifyPassword(hash, password), nil
}

func (s *service) issuePair(userID string) (*TokenPair, error) {
	access, err := pkgauth.GenerateAccessToken(userID)
	if err != nil {
		return nil, fmt.Errorf("auth: issue access token: %w", err)
	}
	refresh, err := pkgauth.GenerateRefreshToken(userID)
	if err != nil {
		return nil, fmt.Errorf("auth: issue refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    pkgauth.AccessExpirySeconds(),
	}, nil
}

func (s *service) revoke(ctx context.Context, jti, userID, tokenType string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blacklist_tokens (jti, user_id, token_type, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (jti) DO NOTHING
	`, jti, userID, tokenType, now)
	if err != nil {
		return fmt.Errorf("auth: revoke token: %w", err)
	}
	return nil
}
