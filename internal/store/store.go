// Package store provides persistence primitives and driver abstractions for
// organizations, invitations, and accounts.
package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Common errors for store operations.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrClosed        = errors.New("store closed")
)

// Accept failure tags. AcceptInvitation returns exactly one of these when the
// transaction rolls back; anything else is an infrastructure error.
var (
	ErrNoInvitation         = errors.New("no pending invitation")
	ErrInviteExpired        = errors.New("invitation expired")
	ErrOrganizationInactive = errors.New("organization inactive")
	ErrSeatLimitReached     = errors.New("organization seat limit reached")
)

// InvitationStatus is the closed invitation state enumeration.
// pending is the only non-terminal state; accepted, expired, and revoked
// are sinks.
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationExpired  InvitationStatus = "expired"
	InvitationRevoked  InvitationStatus = "revoked"
)

// Organization is a tenant that invitations admit members into.
type Organization struct {
	ID        string `json:"id" gorm:"primaryKey"`
	Name      string `json:"name"`
	Active    bool   `json:"active"`
	SeatLimit int    `json:"seatLimit"` // 0 = unlimited
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Invitation authorizes one email to join one organization with one role.
type Invitation struct {
	ID             string           `json:"id" gorm:"primaryKey"`
	Token          string           `json:"-" gorm:"uniqueIndex"`
	OrganizationID string           `json:"organizationId" gorm:"index"`
	Email          string           `json:"email" gorm:"index"` // stored lowercased
	Role           string           `json:"role"`
	InviterID      string           `json:"inviterId"`
	Status         InvitationStatus `json:"status"`
	InvitedAt      time.Time        `json:"invitedAt"`
	ExpiresAt      time.Time        `json:"expiresAt"`
	AcceptedAt     *time.Time       `json:"acceptedAt,omitempty"`
	AcceptedBy     *string          `json:"acceptedBy,omitempty"` // account id
}

// IsExpired reports whether a pending invitation's expiry has passed.
// Terminal states never flip back, so the check only applies to pending.
func (i *Invitation) IsExpired(now time.Time) bool {
	return i.Status == InvitationPending && now.After(i.ExpiresAt)
}

// Account is a member record bound to an external identity. Role and
// organization are copied from the invitation at accept time.
type Account struct {
	ID             string    `json:"id" gorm:"primaryKey"`
	ExternalID     string    `json:"externalId" gorm:"uniqueIndex"`
	Email          string    `json:"email" gorm:"index"`
	Name           string    `json:"name"`
	Role           string    `json:"role"`
	OrganizationID string    `json:"organizationId" gorm:"index"`
	InvitationID   string    `json:"invitationId"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// NormalizeEmail lowercases and trims an email for case-insensitive compare.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// AcceptParams are the inputs to the atomic accept transaction.
type AcceptParams struct {
	// Email of the freshly created external identity; matched against
	// pending invitations case-insensitively.
	Email string

	// ExternalID is the identity provider's id for the new account.
	ExternalID string

	// Name is the display name from the provider payload, copied onto the
	// account record.
	Name string

	// PreferredToken is an advisory hint (from the claim cookie) used only
	// to pick between several matching pending invitations. It grants no
	// authorization on its own.
	PreferredToken string
}

// OrganizationStore defines operations for organization persistence.
type OrganizationStore interface {
	CreateOrganization(ctx context.Context, org *Organization) error
	GetOrganization(ctx context.Context, id string) (*Organization, error)
	UpdateOrganization(ctx context.Context, org *Organization) error
}

// InvitationStore defines operations for invitation persistence and the
// state transitions over it. AcceptInvitation is the single mutating
// operation allowed to create accounts.
type InvitationStore interface {
	CreateInvitation(ctx context.Context, inv *Invitation) error
	GetInvitationByToken(ctx context.Context, token string) (*Invitation, error)
	GetInvitationByID(ctx context.Context, id string) (*Invitation, error)

	// GetPendingInvitationByOrgEmail returns the pending invitation for an
	// (organization, email) pair, used by the creation path to enforce the
	// at-most-one-pending invariant.
	GetPendingInvitationByOrgEmail(ctx context.Context, organizationID, email string) (*Invitation, error)

	ListInvitations(ctx context.Context, organizationID string) ([]*Invitation, error)
	UpdateInvitation(ctx context.Context, inv *Invitation) error

	// ExpireInvitation transitions pending → expired. It is a no-op (without
	// error) when the invitation is no longer pending, so concurrent lazy
	// expiry observers cannot clobber an accept.
	ExpireInvitation(ctx context.Context, id string) error

	// RevokeInvitation transitions a pending invitation to revoked.
	// Returns ErrNotFound for unknown ids and ErrNoInvitation when the
	// invitation is not pending.
	RevokeInvitation(ctx context.Context, id string) error

	// AcceptInvitation runs the atomic accept-or-reject transaction: lock
	// the matching pending invitation, re-check expiry, organization
	// activity, and seat limit, then create the account and flip the
	// invitation to accepted. On failure everything rolls back and one of
	// the accept failure tags is returned. Concurrent calls for the same
	// email yield exactly one account; losers get ErrNoInvitation.
	AcceptInvitation(ctx context.Context, params AcceptParams) (*Account, error)
}

// AccountStore defines operations for account persistence.
type AccountStore interface {
	GetAccountByExternalID(ctx context.Context, externalID string) (*Account, error)
	UpdateAccount(ctx context.Context, account *Account) error
	CountActiveAccounts(ctx context.Context, organizationID string) (int64, error)
}

// Store combines all persistence interfaces a driver must implement.
type Store interface {
	Driver
	OrganizationStore
	InvitationStore
	AccountStore
}

// Driver defines the lifecycle of a persistence backend.
// Implementations must be safe for concurrent use.
type Driver interface {
	// Init initializes the driver (create tables, load data, etc).
	Init(ctx context.Context) error

	// Close releases resources held by the driver.
	Close() error

	// Name returns the driver name (memory, sqlite).
	Name() string
}
