package invites

import (
	"strings"
	"testing"
)

func TestGenerateToken(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token, err := GenerateToken()
		if err != nil {
			t.Fatalf("GenerateToken() error = %v", err)
		}
		if len(token) != TokenLength {
			t.Fatalf("token length = %d, want %d", len(token), TokenLength)
		}
		if !IsWellFormedToken(token) {
			t.Fatalf("generated token %q is not well-formed", token)
		}
		if seen[token] {
			t.Fatalf("duplicate token generated: %q", token)
		}
		seen[token] = true
	}
}

func TestIsWellFormedToken(t *testing.T) {
	valid := strings.Repeat("0123456789abcdef", 4)

	tests := []struct {
		name  string
		token string
		want  bool
	}{
		{"valid", valid, true},
		{"empty", "", false},
		{"too short", valid[:TokenLength-1], false},
		{"too long", valid + "a", false},
		{"uppercase hex", strings.ToUpper(valid), false},
		{"non-hex char", valid[:TokenLength-1] + "g", false},
		{"whitespace", valid[:TokenLength-1] + " ", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsWellFormedToken(tt.token); got != tt.want {
				t.Errorf("IsWellFormedToken(%q) = %v, want %v", tt.token, got, tt.want)
			}
		})
	}
}
