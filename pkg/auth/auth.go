// Package auth provides bcrypt password hashing and JWT generation/parsing.
// Leaf package with no domain dependencies; used by internal/domain/auth and
// internal/api/middleware.
package auth

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/minjaeko/chatrelay/pkg/uuid"
)

// BCryptCost is the bcrypt work factor. 12 balances login latency against
// brute-force resistance.
const BCryptCost = 12

// Token lifetimes. Access tokens are short-lived; refresh tokens rotate on
// every use and the old jti is blacklisted.
const (
	DefaultAccessExpiryMinutes = 30
	DefaultRefreshExpiryDays   = 7
)

// Token type discriminators carried in the "typ" claim.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

const (
	envJWTSecret          = "CHATRELAY_JWT_SECRET"
	envAccessExpiryMins   = "CHATRELAY_JWT_ACCESS_EXPIRY_MINUTES"
	envRefreshExpiryDays  = "CHATRELAY_JWT_REFRESH_EXPIRY_DAYS"
)

// getJWTSecret reads the signing secret from the environment. Panics if not
// set so the process cannot start issuing unverifiable tokens.
func getJWTSecret() []byte {
	secret := os.Getenv(envJWTSecret)
	if secret == "" {
		panic(envJWTSecret + " environment variable not set — cannot initialize auth")
	}
	return []byte(secret)
}

// parseExpiry parses a numeric env string into a Duration of the given unit,
// falling back to def on empty or invalid input.
func parseExpiry(raw string, unit time.Duration, def int) time.Duration {
	if raw == "" {
		return time.Duration(def) * unit
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return time.Duration(def) * unit
	}
	return time.Duration(n) * unit
}

func accessExpiry() time.Duration {
	return parseExpiry(os.Getenv(envAccessExpiryMins), time.Minute, DefaultAccessExpiryMinutes)
}

func refreshExpiry() time.Duration {
	return parseExpiry(os.Getenv(envRefreshExpiryDays), 24*time.Hour, DefaultRefreshExpiryDays)
}

// HashPassword hashes a plaintext password with bcrypt.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BCryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword checks a plaintext password against a bcrypt hash.
// Returns false (not an error) for malformed hashes so responses never leak
// hash format details.
func VerifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Claims are the JWT claims for chatrelay. UserID and TokenType are custom;
// the jti registered claim identifies the token for blacklisting.
type Claims struct {
	UserID    string `json:"user_id"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// GenerateAccessToken issues a short-lived signed access token for userID.
func GenerateAccessToken(userID string) (string, error) {
	return generate(userID, TokenTypeAccess, accessExpiry())
}

// GenerateRefreshToken issues a long-lived signed refresh token for userID.
func GenerateRefreshToken(userID string) (string, error) {
	return generate(userID, TokenTypeRefresh, refreshExpiry())
}

// AccessExpirySeconds reports the configured access-token lifetime; surfaced
// to clients as expires_in on login responses.
func AccessExpirySeconds() int {
	return int(accessExpiry().Seconds())
}

func generate(userID, tokenType string, expiry time.Duration) (string, error) {
	now := time.Now()

	claims := &Claims{
		UserID:    userID,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewV7().String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(getJWTSecret())
	if err != nil {
		return "", fmt.Errorf("failed to sign JWT: %w", err)
	}
	return signed, nil
}

// ParseToken validates a signed token and extracts its claims. Blacklist
// checks are the caller's job — this package stays storage-free.
func ParseToken(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("token is empty")
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Pin HMAC-SHA256 to prevent algorithm substitution.
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return getJWTSecret(), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse JWT: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid JWT claims or signature")
	}
	return claims, nil
}
