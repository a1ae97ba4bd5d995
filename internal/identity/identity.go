// Package identity provides authentication for the administrative surface: a
// bootstrap admin credential (bcrypt-verified) and cache-backed sessions.
// The public signup flow never touches this package.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/openledger/invitegate/internal/cache"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSessionNotFound    = errors.New("session not found")
)

// DefaultSessionTTL is how long an admin session stays valid.
const DefaultSessionTTL = 12 * time.Hour

// SessionCookieName is the admin session cookie.
const SessionCookieName = "invitegate_session"

// Session represents an active admin session.
type Session struct {
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired returns true if the session has expired.
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// GenerateSessionToken creates a cryptographically secure random token.
func GenerateSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// Auth verifies the bootstrap admin credentials and manages sessions in the
// cache, which gives session expiry for free via TTL.
type Auth struct {
	username     string
	passwordHash string
	sessions     cache.Cache
	ttl          time.Duration
}

// NewAuth creates an Auth for the bootstrap admin. The password is hashed
// once at startup so the plaintext never outlives configuration loading.
func NewAuth(username, password string, sessions cache.Cache) (*Auth, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return &Auth{
		username:     username,
		passwordHash: string(hash),
		sessions:     sessions,
		ttl:          DefaultSessionTTL,
	}, nil
}

// Login verifies credentials and creates a session.
func (a *Auth) Login(ctx context.Context, username, password string) (*Session, error) {
	if username != a.username {
		// Burn the same bcrypt cost for unknown usernames so login timing
		// does not reveal which username exists.
		bcrypt.CompareHashAndPassword([]byte(a.passwordHash), []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(a.passwordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	token, err := GenerateSessionToken()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	session := &Session{
		Token:     token,
		Username:  username,
		CreatedAt: now,
		ExpiresAt: now.Add(a.ttl),
	}

	b, err := json.Marshal(session)
	if err != nil {
		return nil, err
	}
	if err := a.sessions.Set(ctx, sessionKey(token), b, a.ttl); err != nil {
		return nil, err
	}
	return session, nil
}

// Validate resolves a session token.
func (a *Auth) Validate(ctx context.Context, token string) (*Session, error) {
	b, err := a.sessions.Get(ctx, sessionKey(token))
	if err != nil {
		return nil, ErrSessionNotFound
	}
	var session Session
	if err := json.Unmarshal(b, &session); err != nil {
		return nil, ErrSessionNotFound
	}
	if session.IsExpired() {
		return nil, ErrSessionNotFound
	}
	return &session, nil
}

// Logout removes a session.
func (a *Auth) Logout(ctx context.Context, token string) error {
	return a.sessions.Delete(ctx, sessionKey(token))
}

func sessionKey(token string) string {
	return "session:" + token
}
