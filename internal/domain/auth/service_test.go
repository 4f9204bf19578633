package auth

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/minjaeko/chatrelay/internal/infra/sqlite"
	pkgauth "github.com/minjaeko/chatrelay/pkg/auth"
)

func newTestService(t *testing.T) Service {
	t.Helper()

	t.Setenv("CHATRELAY_JWT_SECRET", "test-secret-do-not-use-in-production")

	db, err := sqlite.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := sqlite.MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp: %v", err)
	}

	return NewService(db)
}

func register(t *testing.T, svc Service) *User {
	t.Helper()
	u, err := svc.Register(context.Background(), RegisterInput{
		ID:       "minjae",
		Email:    "minjae@example.com",
		Password: "correct-horse",
		Name:     "Minjae Ko",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return u
}

func TestRegister_DuplicateRejected(t *testing.T) {
	svc := newTestService(t)
	register(t, svc)

	// Same id, different email.
	_, err := svc.Register(context.Background(), RegisterInput{
		ID: "minjae", Email: "other@example.com", Password: "password1",
	})
	if !errors.Is(err, ErrUserExists) {
		t.Errorf("duplicate id error = %v, want ErrUserExists", err)
	}

	// Same email, different id.
	_, err = svc.Register(context.Background(), RegisterInput{
		ID: "someone", Email: "Minjae@Example.com", Password: "password1",
	})
	if !errors.Is(err, ErrUserExists) {
		t.Errorf("duplicate email error = %v, want ErrUserExists", err)
	}
}

func TestRegister_WeakPassword(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Register(context.Background(), RegisterInput{
		ID: "u", Email: "u@example.com", Password: "short",
	})
	if !errors.Is(err, ErrWeakPassword) {
		t.Errorf("error = %v, want ErrWeakPassword", err)
	}
}

func TestLogin_ByIDAndEmail(t *testing.T) {
	svc := newTestService(t)
	register(t, svc)
	ctx := context.Background()

	for _, identifier := range []string{"minjae", "minjae@example.com", "MINJAE@example.com"} {
		u, pair, err := svc.Login(ctx, identifier, "correct-horse")
		if err != nil {
			t.Errorf("Login(%q): %v", identifier, err)
			continue
		}
		if u.ID != "minjae" {
			t.Errorf("Login(%q) user = %q", identifier, u.ID)
		}
		if pair.AccessToken == "" || pair.RefreshToken == "" || pair.TokenType != "bearer" {
			t.Errorf("Login(%q) pair = %+v", identifier, pair)
		}
		if pair.ExpiresIn <= 0 {
			t.Errorf("ExpiresIn = %d", pair.ExpiresIn)
		}
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	svc := newTestService(t)
	register(t, svc)

	if _, _, err := svc.Login(context.Background(), "minjae", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("error = %v, want ErrInvalidCredentials", err)
	}
	if _, _, err := svc.Login(context.Background(), "nobody", "whatever"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user error = %v, want ErrInvalidCredentials", err)
	}
}

func TestLogout_RevokesToken(t *testing.T) {
	svc := newTestService(t)
	register(t, svc)
	ctx := context.Background()

	_, pair, err := svc.Login(ctx, "minjae", "correct-horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	claims, err := pkgauth.ParseToken(pair.AccessToken)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}

	if err := svc.Logout(ctx, claims); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	revoked, err := svc.IsRevoked(ctx, claims.ID)
	if err != nil {
		t.Fatalf("IsRevoked: %v", err)
	}
	if !revoked {
		t.Error("token not revoked after logout")
	}

	// Logout is idempotent.
	if err := svc.Logout(ctx, claims); err != nil {
		t.Errorf("second Logout: %v", err)
	}
}

func TestRefresh_RotatesToken(t *testing.T) {
	svc := newTestService(t)
	register(t, svc)
	ctx := context.Background()

	_, pair, err := svc.Login(ctx, "minjae", "correct-horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	next, err := svc.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Error("refresh token not rotated")
	}

	// The consumed token must be dead.
	if _, err := svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("reused refresh token error = %v, want ErrInvalidToken", err)
	}
}

func TestRefresh_RejectsAccessToken(t *testing.T) {
	svc := newTestService(t)
	register(t, svc)
	ctx := context.Background()

	_, pair, _ := svc.Login(ctx, "minjae", "correct-horse")

	if _, err := svc.Refresh(ctx, pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("access-as-refresh error = %v, want ErrInvalidToken", err)
	}
}

func TestChangePassword(t *testing.T) {
	svc := newTestService(t)
	register(t, svc)
	ctx := context.Background()

	if err := svc.ChangePassword(ctx, "minjae", "wrong", "new-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong current error = %v, want ErrInvalidCredentials", err)
	}
	if err := svc.ChangePassword(ctx, "minjae", "correct-horse", "tiny"); !errors.Is(err, ErrWeakPassword) {
		t.Errorf("weak new error = %v, want ErrWeakPassword", err)
	}
	if err := svc.ChangePassword(ctx, "minjae", "correct-horse", "new-password"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	if _, _, err := svc.Login(ctx, "minjae", "correct-horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Error("old password still accepted")
	}
	if _, _, err := svc.Login(ctx, "minjae", "new-password"); err != nil {
		t.Errorf("new password rejected: %v", err)
	}
}

func TestUpdate_EmailConflict(t *testing.T) {
	svc := newTestService(t)
	register(t, svc)
	ctx := context.Background()

	if _, err := svc.Register(ctx, RegisterInput{
		ID: "other", Email: "other@example.com", Password: "password1",
	}); err != nil {
		t.Fatalf("Register other: %v", err)
	}

	email := "other@example.com"
	if _, err := svc.Update(ctx, "minjae", UpdateInput{Email: &email}); !errors.Is(err, ErrUserExists) {
		t.Errorf("conflicting email error = %v, want ErrUserExists", err)
	}

	name := "New Name"
	u, err := svc.Update(ctx, "minjae", UpdateInput{Name: &name})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if u.Name != "New Name" || u.Email != "minjae@example.com" {
		t.Errorf("updated = %+v", u)
	}
}
