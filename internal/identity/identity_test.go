package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openledger/invitegate/internal/cache/memory"
)

func newTestAuth(t *testing.T) *Auth {
	t.Helper()
	sessions := memory.New(time.Minute, 0)
	t.Cleanup(func() { sessions.Close() })
	auth, err := NewAuth("admin", "correct horse battery staple", sessions)
	if err != nil {
		t.Fatalf("NewAuth() error = %v", err)
	}
	return auth
}

func TestLogin(t *testing.T) {
	auth := newTestAuth(t)
	ctx := context.Background()

	session, err := auth.Login(ctx, "admin", "correct horse battery staple")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if session.Token == "" {
		t.Error("session token empty")
	}
	if session.Username != "admin" {
		t.Errorf("username = %q, want admin", session.Username)
	}
	if !session.ExpiresAt.After(time.Now()) {
		t.Error("session already expired")
	}

	got, err := auth.Validate(ctx, session.Token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if got.Username != "admin" {
		t.Errorf("validated username = %q", got.Username)
	}
}

func TestLoginRejections(t *testing.T) {
	auth := newTestAuth(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		username string
		password string
	}{
		{"wrong password", "admin", "wrong"},
		{"unknown username", "root", "correct horse battery staple"},
		{"empty password", "admin", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := auth.Login(ctx, tt.username, tt.password); !errors.Is(err, ErrInvalidCredentials) {
				t.Errorf("Login() error = %v, want ErrInvalidCredentials", err)
			}
		})
	}
}

func TestValidateUnknownToken(t *testing.T) {
	auth := newTestAuth(t)
	if _, err := auth.Validate(context.Background(), "nonexistent"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Validate() error = %v, want ErrSessionNotFound", err)
	}
}

func TestLogout(t *testing.T) {
	auth := newTestAuth(t)
	ctx := context.Background()

	session, err := auth.Login(ctx, "admin", "correct horse battery staple")
	if err != nil {
		t.Fatal(err)
	}
	if err := auth.Logout(ctx, session.Token); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if _, err := auth.Validate(ctx, session.Token); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Validate() after logout error = %v, want ErrSessionNotFound", err)
	}
}

func TestGenerateSessionToken(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		token, err := GenerateSessionToken()
		if err != nil {
			t.Fatal(err)
		}
		if len(token) != 44 { // 32 bytes base64
			t.Fatalf("token length = %d, want 44", len(token))
		}
		if seen[token] {
			t.Fatal("duplicate session token")
		}
		seen[token] = true
	}
}
