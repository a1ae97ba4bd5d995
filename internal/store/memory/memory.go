// Package memory provides an in-memory store driver for tests and dev mode.
// A single mutex guards all state, which trivially gives AcceptInvitation its
// exactly-one-winner guarantee.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openledger/invitegate/internal/store"
)

func init() {
	store.Register("memory", func(cfg *store.DriverConfig) (store.Store, error) {
		return New(), nil
	})
}

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu            sync.Mutex
	organizations map[string]*store.Organization
	invitations   map[string]*store.Invitation
	accounts      map[string]*store.Account
	byToken       map[string]string // token -> invitation id
	byExternalID  map[string]string // external id -> account id
	closed        bool
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		organizations: make(map[string]*store.Organization),
		invitations:   make(map[string]*store.Invitation),
		accounts:      make(map[string]*store.Account),
		byToken:       make(map[string]string),
		byExternalID:  make(map[string]string),
	}
}

func (s *Store) Name() string                  { return "memory" }
func (s *Store) Init(ctx context.Context) error { return nil }

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Organization operations

func (s *Store) CreateOrganization(ctx context.Context, org *store.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if org.ID == "" {
		org.ID = uuid.NewString()
	}
	if _, ok := s.organizations[org.ID]; ok {
		return store.ErrAlreadyExists
	}
	cp := *org
	s.organizations[org.ID] = &cp
	return nil
}

func (s *Store) GetOrganization(ctx context.Context, id string) (*store.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	org, ok := s.organizations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *org
	return &cp, nil
}

func (s *Store) UpdateOrganization(ctx context.Context, org *store.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.organizations[org.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *org
	s.organizations[org.ID] = &cp
	return nil
}

// Invitation operations

func (s *Store) CreateInvitation(ctx context.Context, inv *store.Invitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	if _, ok := s.invitations[inv.ID]; ok {
		return store.ErrAlreadyExists
	}
	if _, ok := s.byToken[inv.Token]; ok {
		return store.ErrAlreadyExists
	}
	inv.Email = store.NormalizeEmail(inv.Email)
	cp := *inv
	s.invitations[inv.ID] = &cp
	s.byToken[inv.Token] = inv.ID
	return nil
}

func (s *Store) GetInvitationByToken(ctx context.Context, token string) (*store.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byToken[token]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s.invitations[id]
	return &cp, nil
}

func (s *Store) GetInvitationByID(ctx context.Context, id string) (*store.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invitations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (s *Store) GetPendingInvitationByOrgEmail(ctx context.Context, organizationID, email string) (*store.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email = store.NormalizeEmail(email)
	for _, inv := range s.invitations {
		if inv.OrganizationID == organizationID && inv.Email == email && inv.Status == store.InvitationPending {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListInvitations(ctx context.Context, organizationID string) ([]*store.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*store.Invitation
	for _, inv := range s.invitations {
		if organizationID != "" && inv.OrganizationID != organizationID {
			continue
		}
		cp := *inv
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].InvitedAt.After(result[j].InvitedAt)
	})
	return result, nil
}

func (s *Store) UpdateInvitation(ctx context.Context, inv *store.Invitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.invitations[inv.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *inv
	s.invitations[inv.ID] = &cp
	return nil
}

func (s *Store) ExpireInvitation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invitations[id]
	if !ok {
		return store.ErrNotFound
	}
	if inv.Status == store.InvitationPending {
		inv.Status = store.InvitationExpired
	}
	return nil
}

func (s *Store) RevokeInvitation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invitations[id]
	if !ok {
		return store.ErrNotFound
	}
	if inv.Status != store.InvitationPending {
		return store.ErrNoInvitation
	}
	inv.Status = store.InvitationRevoked
	return nil
}

// AcceptInvitation performs the atomic accept under the store mutex.
func (s *Store) AcceptInvitation(ctx context.Context, p store.AcceptParams) (*store.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := store.NormalizeEmail(p.Email)
	now := time.Now()

	// An expired invitation is never a candidate. A newer expired one must
	// not shadow an older still-valid one for the same email.
	var candidates []*store.Invitation
	sawPending := false
	for _, inv := range s.invitations {
		if inv.Email != email || inv.Status != store.InvitationPending {
			continue
		}
		sawPending = true
		if now.After(inv.ExpiresAt) {
			continue
		}
		candidates = append(candidates, inv)
	}
	if len(candidates) == 0 {
		if sawPending {
			return nil, store.ErrInviteExpired
		}
		return nil, store.ErrNoInvitation
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].InvitedAt.After(candidates[j].InvitedAt)
	})

	inv := candidates[0]
	if p.PreferredToken != "" {
		for _, c := range candidates {
			if c.Token == p.PreferredToken {
				inv = c
				break
			}
		}
	}

	org, ok := s.organizations[inv.OrganizationID]
	if !ok || !org.Active {
		return nil, store.ErrOrganizationInactive
	}

	if org.SeatLimit > 0 {
		var members int64
		for _, a := range s.accounts {
			if a.OrganizationID == org.ID && a.Active {
				members++
			}
		}
		if members >= int64(org.SeatLimit) {
			return nil, store.ErrSeatLimitReached
		}
	}

	account := &store.Account{
		ID:             uuid.NewString(),
		ExternalID:     p.ExternalID,
		Email:          email,
		Name:           p.Name,
		Role:           inv.Role,
		OrganizationID: inv.OrganizationID,
		InvitationID:   inv.ID,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.accounts[account.ID] = account
	s.byExternalID[account.ExternalID] = account.ID

	inv.Status = store.InvitationAccepted
	inv.AcceptedAt = &now
	inv.AcceptedBy = &account.ID

	cp := *account
	return &cp, nil
}

// Account operations

func (s *Store) GetAccountByExternalID(ctx context.Context, externalID string) (*store.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byExternalID[externalID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s.accounts[id]
	return &cp, nil
}

func (s *Store) UpdateAccount(ctx context.Context, account *store.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[account.ID]; !ok {
		return store.ErrNotFound
	}
	account.UpdatedAt = time.Now()
	cp := *account
	s.accounts[account.ID] = &cp
	return nil
}

func (s *Store) CountActiveAccounts(ctx context.Context, organizationID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, a := range s.accounts {
		if a.OrganizationID == organizationID && a.Active {
			count++
		}
	}
	return count, nil
}

// Ensure Store implements the full store interface.
var _ store.Store = (*Store)(nil)
