// Package invites provides the invitation lifecycle: creation, token
// resolution with lazy expiry, revocation, and the accept passthrough used by
// the webhook gate.
package invites

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openledger/invitegate/internal/logutil"
	"github.com/openledger/invitegate/internal/store"
)

// DefaultInviteTTL is the default time-to-live for invitations.
const DefaultInviteTTL = 7 * 24 * time.Hour // 7 days

var (
	ErrDuplicatePending    = errors.New("a pending invitation already exists for this email")
	ErrNotPending          = errors.New("invitation is not pending")
	ErrUnknownRole         = errors.New("unknown role")
	ErrUnknownOrganization = errors.New("unknown organization")
)

// Roles an invitation may grant.
var validRoles = map[string]bool{
	"owner":  true,
	"admin":  true,
	"member": true,
}

// ResolutionStatus classifies a token lookup.
type ResolutionStatus string

const (
	ResolutionValid                ResolutionStatus = "valid"
	ResolutionNotFound             ResolutionStatus = "not_found"
	ResolutionExpired              ResolutionStatus = "expired"
	ResolutionAlreadyUsed          ResolutionStatus = "already_used"
	ResolutionRevoked              ResolutionStatus = "revoked"
	ResolutionOrganizationInactive ResolutionStatus = "organization_inactive"
)

// Projection is the minimal invitation view safe to show an unauthenticated
// caller. It never carries the token, internal ids, or anything about other
// invitations.
type Projection struct {
	Email            string    `json:"email"`
	OrganizationName string    `json:"organizationName"`
	Role             string    `json:"role"`
	ExpiresAt        time.Time `json:"expiresAt"`
}

// Resolution is the outcome of a token lookup. Invitation is populated only
// for ResolutionValid and stays server-side.
type Resolution struct {
	Status     ResolutionStatus
	Projection *Projection
	Invitation *store.Invitation
}

// Service owns invitation state transitions over the store.
type Service struct {
	store  store.Store
	logger *slog.Logger
}

// NewService creates an invitation service.
func NewService(st store.Store, logger *slog.Logger) *Service {
	return &Service{
		store:  st,
		logger: logutil.NoopIfNil(logger),
	}
}

// Lookup resolves a token to its current usability. A pending invitation
// whose expiry has passed is persisted as expired on first observation, so
// correctness never depends on a background sweep.
func (s *Service) Lookup(ctx context.Context, token string) (*Resolution, error) {
	inv, err := s.store.GetInvitationByToken(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &Resolution{Status: ResolutionNotFound}, nil
		}
		return nil, err
	}

	switch inv.Status {
	case store.InvitationRevoked:
		return &Resolution{Status: ResolutionRevoked}, nil
	case store.InvitationAccepted:
		return &Resolution{Status: ResolutionAlreadyUsed}, nil
	case store.InvitationExpired:
		return &Resolution{Status: ResolutionExpired}, nil
	}

	if inv.IsExpired(time.Now()) {
		if err := s.store.ExpireInvitation(ctx, inv.ID); err != nil {
			// The read already decided the answer; a failed persist only
			// delays tidiness until the next observer.
			s.logger.Warn("failed to persist lazy expiry", "invitation_id", inv.ID, "error", err)
		}
		return &Resolution{Status: ResolutionExpired}, nil
	}

	org, err := s.store.GetOrganization(ctx, inv.OrganizationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &Resolution{Status: ResolutionOrganizationInactive}, nil
		}
		return nil, err
	}
	if !org.Active {
		// Read-only outcome: the invitation stays pending in case the
		// organization is reactivated before expiry.
		return &Resolution{Status: ResolutionOrganizationInactive}, nil
	}

	return &Resolution{
		Status: ResolutionValid,
		Projection: &Projection{
			Email:            inv.Email,
			OrganizationName: org.Name,
			Role:             inv.Role,
			ExpiresAt:        inv.ExpiresAt,
		},
		Invitation: inv,
	}, nil
}

// Accept runs the store's atomic accept transaction. Only the webhook gate
// calls this.
func (s *Service) Accept(ctx context.Context, p store.AcceptParams) (*store.Account, error) {
	return s.store.AcceptInvitation(ctx, p)
}

// CreateParams are the administrator inputs for a new invitation.
type CreateParams struct {
	OrganizationID string
	Email          string
	Role           string
	InviterID      string
	ExpiresIn      time.Duration // 0 = DefaultInviteTTL
}

// Create issues a new invitation. At most one pending invitation may exist
// per (organization, email) pair; a second request is rejected here on the
// creation path.
func (s *Service) Create(ctx context.Context, p CreateParams) (*store.Invitation, error) {
	if !validRoles[p.Role] {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRole, p.Role)
	}

	org, err := s.store.GetOrganization(ctx, p.OrganizationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnknownOrganization
		}
		return nil, err
	}

	email := store.NormalizeEmail(p.Email)
	existing, err := s.store.GetPendingInvitationByOrgEmail(ctx, org.ID, email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		// A stale pending row past its expiry does not block a re-invite.
		if !existing.IsExpired(time.Now()) {
			return nil, ErrDuplicatePending
		}
		if err := s.store.ExpireInvitation(ctx, existing.ID); err != nil {
			return nil, err
		}
	}

	token, err := GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate invitation token: %w", err)
	}

	ttl := p.ExpiresIn
	if ttl <= 0 {
		ttl = DefaultInviteTTL
	}

	now := time.Now()
	inv := &store.Invitation{
		Token:          token,
		OrganizationID: org.ID,
		Email:          email,
		Role:           p.Role,
		InviterID:      p.InviterID,
		Status:         store.InvitationPending,
		InvitedAt:      now,
		ExpiresAt:      now.Add(ttl),
	}
	if err := s.store.CreateInvitation(ctx, inv); err != nil {
		return nil, err
	}

	// The token is a secret; log only the id.
	s.logger.Info("invitation created",
		"invitation_id", inv.ID,
		"organization_id", org.ID,
		"role", inv.Role)

	return inv, nil
}

// Resend refreshes a pending invitation's expiry so its accept link can be
// re-sent. Non-pending invitations are a conflict.
func (s *Service) Resend(ctx context.Context, id string) (*store.Invitation, error) {
	inv, err := s.store.GetInvitationByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.Status != store.InvitationPending || inv.IsExpired(time.Now()) {
		return nil, ErrNotPending
	}

	inv.ExpiresAt = time.Now().Add(DefaultInviteTTL)
	if err := s.store.UpdateInvitation(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// Revoke transitions a pending invitation to revoked.
func (s *Service) Revoke(ctx context.Context, id string) error {
	err := s.store.RevokeInvitation(ctx, id)
	if errors.Is(err, store.ErrNoInvitation) {
		return ErrNotPending
	}
	if err != nil {
		return err
	}
	s.logger.Info("invitation revoked", "invitation_id", id)
	return nil
}

// List returns invitations for an organization, newest first.
func (s *Service) List(ctx context.Context, organizationID string) ([]*store.Invitation, error) {
	return s.store.ListInvitations(ctx, organizationID)
}
