// Package middleware holds HTTP middleware for the API layer.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/minjaeko/chatrelay/internal/api/ctxkeys"
	pkgauth "github.com/minjaeko/chatrelay/pkg/auth"
)

// Revocations answers whether a token id has been blacklisted.
// Satisfied by the auth domain service.
type Revocations interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// Auth validates the Bearer JWT on every request and injects the user id
// and token identity into the context. Refresh tokens are rejected here;
// they are only accepted by the refresh endpoint itself.
func Auth(revocations Revocations) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearerToken(r)
			if token == "" {
				writeUnauthorized(w, "missing or invalid Authorization header")
				return
			}

			claims, err := pkgauth.ParseToken(token)
			if err != nil {
				writeUnauthorized(w, "invalid or expired token")
				return
			}
			if claims.TokenType != pkgauth.TokenTypeAccess {
				writeUnauthorized(w, "access token required")
				return
			}

			revoked, err := revocations.IsRevoked(r.Context(), claims.ID)
			if err != nil || revoked {
				writeUnauthorized(w, "token revoked")
				return
			}

			ctx := r.Context()
			ctx = ctxkeys.WithValue(ctx, ctxkeys.UserID, claims.UserID)
			ctx = ctxkeys.WithValue(ctx, ctxkeys.TokenID, claims.ID)
			ctx = ctxkeys.WithValue(ctx, ctxkeys.TokenType, claims.TokenType)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractBearerToken reads "Authorization: Bearer <token>", empty when
// the header is missing or malformed.
func extractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")

	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": message}) //nolint:errcheck
}
