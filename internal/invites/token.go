package invites

import (
	"crypto/rand"
	"encoding/hex"
)

// TokenLength is the exact length of an invitation token: 32 random bytes,
// hex-encoded. 256 bits of entropy makes offline guessing infeasible.
const TokenLength = 64

// GenerateToken creates a cryptographically secure random token.
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// IsWellFormedToken is a cheap structural check (length, charset) run before
// any store lookup, so malformed input never costs a query. It is an
// enumeration mitigation, not a security boundary.
func IsWellFormedToken(candidate string) bool {
	if len(candidate) != TokenLength {
		return false
	}
	for i := 0; i < len(candidate); i++ {
		c := candidate[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
