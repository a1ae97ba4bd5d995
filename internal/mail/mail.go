// Package mail delivers invitation emails. The Mailer interface keeps the
// admin surface testable; delivery is optional and a missing configuration
// falls back to the noop mailer.
package mail

import (
	"context"
	"time"
)

// Invite is everything the invitation email needs.
type Invite struct {
	To               string
	OrganizationName string
	Role             string
	AcceptLink       string
	ExpiresAt        time.Time
}

// Mailer sends invitation emails.
type Mailer interface {
	SendInvite(ctx context.Context, invite Invite) error
}

// Noop discards all mail. Used when no mail configuration is present and in
// tests.
type Noop struct{}

func (Noop) SendInvite(ctx context.Context, invite Invite) error { return nil }

var _ Mailer = Noop{}
