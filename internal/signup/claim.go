package signup

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ClaimCookieName is the cookie carrying the staked claim across the external
// signup flow.
const ClaimCookieName = "invitegate_claim"

var (
	ErrClaimInvalid = errors.New("claim is invalid")
	ErrClaimExpired = errors.New("claim is expired")
)

// claimJWT is the signed cookie payload: which invitation token a human is
// mid-signup for, expiring with the invitation itself.
type claimJWT struct {
	jwt.RegisteredClaims
	InviteToken string `json:"invite_token"`
}

// ClaimCodec signs and verifies claim cookies. The claim is tamper-evident,
// not secret, and never a source of authorization: the webhook gate
// re-validates the underlying invitation and uses the claim only as a hint.
type ClaimCodec struct {
	secret []byte
	secure bool
}

// NewClaimCodec creates a codec with the given HMAC secret. secure controls
// the cookie's Secure attribute (disabled only in dev mode behind plain HTTP).
func NewClaimCodec(secret []byte, secure bool) *ClaimCodec {
	return &ClaimCodec{secret: secret, secure: secure}
}

// Issue builds the claim cookie for an invitation token, expiring at the
// invitation's own expiry.
func (c *ClaimCodec) Issue(inviteToken string, expiresAt time.Time) (*http.Cookie, error) {
	claims := claimJWT{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		InviteToken: inviteToken,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign claim: %w", err)
	}

	return &http.Cookie{
		Name:     ClaimCookieName,
		Value:    signed,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	}, nil
}

// Verify parses a claim cookie value and returns the invitation token it
// stakes. Expired or tampered claims return an error; callers treat both the
// same way (no hint available).
func (c *ClaimCodec) Verify(value string) (string, error) {
	var claims claimJWT
	_, err := jwt.ParseWithClaims(value, &claims, func(token *jwt.Token) (any, error) {
		return c.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrClaimExpired
		}
		return "", ErrClaimInvalid
	}
	if claims.InviteToken == "" {
		return "", ErrClaimInvalid
	}
	return claims.InviteToken, nil
}

// Clear returns an expired cookie that removes the claim. The gate clears it
// on both success and failure; a consumed claim is never re-read.
func (c *ClaimCodec) Clear() *http.Cookie {
	return &http.Cookie{
		Name:     ClaimCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	}
}
