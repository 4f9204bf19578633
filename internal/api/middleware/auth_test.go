package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/minjaeko/chatrelay/internal/api/ctxkeys"
	pkgauth "github.com/minjaeko/chatrelay/pkg/auth"
)

type stubRevocations struct {
	revoked map[string]bool
}

func (s *stubRevocations) IsRevoked(_ context.Context, jti string) (bool, error) {
	return s.revoked[jti], nil
}

func testHandler(t *testing.T, wantUserID string) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := ctxkeys.Value(r.Context(), ctxkeys.UserID); got != wantUserID {
			t.Errorf("UserID in context = %q, want %q", got, wantUserID)
		}
		if ctxkeys.Value(r.Context(), ctxkeys.TokenID) == "" {
			t.Error("TokenID missing from context")
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuth_ValidToken(t *testing.T) {
	t.Setenv("CHATRELAY_JWT_SECRET", "test-secret")

	token, err := pkgauth.GenerateAccessToken("u1")
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}

	handler := Auth(&stubRevocations{})(testHandler(t, "u1"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestAuth_Rejections(t *testing.T) {
	t.Setenv("CHATRELAY_JWT_SECRET", "test-secret")

	access, _ := pkgauth.GenerateAccessToken("u1")
	refresh, _ := pkgauth.GenerateRefreshToken("u1")

	accessClaims, _ := pkgauth.ParseToken(access)
	revocations := &stubRevocations{revoked: map[string]bool{}}

	cases := []struct {
		name   string
		header string
		setup  func()
	}{
		{name: "missing header", header: ""},
		{name: "not bearer", header: "Basic abc"},
		{name: "garbage token", header: "Bearer not.a.jwt"},
		{name: "refresh token", header: "Bearer " + refresh},
		{name: "revoked token", header: "Bearer " + access, setup: func() {
			revocations.revoked[accessClaims.ID] = true
		}},
	}

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler reached despite invalid auth")
	})
	handler := Auth(revocations)(next)

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setup != nil {
				tc.setup()
			}
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
		})
	}
}
