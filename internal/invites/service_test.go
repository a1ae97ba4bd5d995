package invites

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openledger/invitegate/internal/store"
	"github.com/openledger/invitegate/internal/store/memory"
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	st := memory.New()
	return NewService(st, nil), st
}

func createOrg(t *testing.T, st *memory.Store, active bool, seatLimit int) *store.Organization {
	t.Helper()
	org := &store.Organization{Name: "Acme", Active: active, SeatLimit: seatLimit}
	if err := st.CreateOrganization(context.Background(), org); err != nil {
		t.Fatalf("CreateOrganization() error = %v", err)
	}
	return org
}

func TestCreateInvitation(t *testing.T) {
	svc, st := newTestService(t)
	org := createOrg(t, st, true, 0)
	ctx := context.Background()

	inv, err := svc.Create(ctx, CreateParams{
		OrganizationID: org.ID,
		Email:          "Alice@Example.COM",
		Role:           "member",
		InviterID:      "admin",
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if inv.Email != "alice@example.com" {
		t.Errorf("email not normalized: %q", inv.Email)
	}
	if !IsWellFormedToken(inv.Token) {
		t.Errorf("token not well-formed: %q", inv.Token)
	}
	if inv.Status != store.InvitationPending {
		t.Errorf("status = %q, want pending", inv.Status)
	}
	want := time.Now().Add(DefaultInviteTTL)
	if inv.ExpiresAt.Before(want.Add(-time.Minute)) || inv.ExpiresAt.After(want.Add(time.Minute)) {
		t.Errorf("expiry %v not near default TTL", inv.ExpiresAt)
	}
}

func TestCreateInvitationValidation(t *testing.T) {
	svc, st := newTestService(t)
	org := createOrg(t, st, true, 0)
	ctx := context.Background()

	if _, err := svc.Create(ctx, CreateParams{OrganizationID: org.ID, Email: "a@b.c", Role: "superuser"}); !errors.Is(err, ErrUnknownRole) {
		t.Errorf("unknown role error = %v, want ErrUnknownRole", err)
	}
	if _, err := svc.Create(ctx, CreateParams{OrganizationID: "nope", Email: "a@b.c", Role: "member"}); !errors.Is(err, ErrUnknownOrganization) {
		t.Errorf("unknown org error = %v, want ErrUnknownOrganization", err)
	}
}

func TestCreateInvitationDuplicatePending(t *testing.T) {
	svc, st := newTestService(t)
	org := createOrg(t, st, true, 0)
	ctx := context.Background()

	if _, err := svc.Create(ctx, CreateParams{OrganizationID: org.ID, Email: "a@b.c", Role: "member"}); err != nil {
		t.Fatalf("first Create() error = %v", err)
	}
	_, err := svc.Create(ctx, CreateParams{OrganizationID: org.ID, Email: "A@B.C", Role: "member"})
	if !errors.Is(err, ErrDuplicatePending) {
		t.Fatalf("second Create() error = %v, want ErrDuplicatePending", err)
	}
}

func TestCreateInvitationReinviteAfterStaleExpiry(t *testing.T) {
	svc, st := newTestService(t)
	org := createOrg(t, st, true, 0)
	ctx := context.Background()

	first, err := svc.Create(ctx, CreateParams{OrganizationID: org.ID, Email: "a@b.c", Role: "member"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// Push the pending row past its expiry without touching its status.
	first.ExpiresAt = time.Now().Add(-time.Hour)
	if err := st.UpdateInvitation(ctx, first); err != nil {
		t.Fatalf("UpdateInvitation() error = %v", err)
	}

	second, err := svc.Create(ctx, CreateParams{OrganizationID: org.ID, Email: "a@b.c", Role: "member"})
	if err != nil {
		t.Fatalf("re-invite Create() error = %v", err)
	}
	if second.ID == first.ID {
		t.Fatal("re-invite returned the stale invitation")
	}

	got, err := st.GetInvitationByID(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetInvitationByID() error = %v", err)
	}
	if got.Status != store.InvitationExpired {
		t.Errorf("stale invitation status = %q, want expired", got.Status)
	}
}

func TestLookupStatuses(t *testing.T) {
	svc, st := newTestService(t)
	org := createOrg(t, st, true, 0)
	ctx := context.Background()

	mk := func(email string) *store.Invitation {
		inv, err := svc.Create(ctx, CreateParams{OrganizationID: org.ID, Email: email, Role: "member"})
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		return inv
	}

	valid := mk("valid@example.com")

	revoked := mk("revoked@example.com")
	if err := svc.Revoke(ctx, revoked.ID); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}

	accepted := mk("accepted@example.com")
	if _, err := st.AcceptInvitation(ctx, store.AcceptParams{
		Email: "accepted@example.com", ExternalID: "ext-1", Name: "A",
	}); err != nil {
		t.Fatalf("AcceptInvitation() error = %v", err)
	}

	unknown, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	tests := []struct {
		name  string
		token string
		want  ResolutionStatus
	}{
		{"valid", valid.Token, ResolutionValid},
		{"unknown", unknown, ResolutionNotFound},
		{"revoked", revoked.Token, ResolutionRevoked},
		{"accepted", accepted.Token, ResolutionAlreadyUsed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := svc.Lookup(ctx, tt.token)
			if err != nil {
				t.Fatalf("Lookup() error = %v", err)
			}
			if res.Status != tt.want {
				t.Errorf("status = %q, want %q", res.Status, tt.want)
			}
		})
	}
}

func TestLookupValidProjection(t *testing.T) {
	svc, st := newTestService(t)
	org := createOrg(t, st, true, 0)
	ctx := context.Background()

	inv, err := svc.Create(ctx, CreateParams{OrganizationID: org.ID, Email: "alice@example.com", Role: "admin"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	res, err := svc.Lookup(ctx, inv.Token)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if res.Status != ResolutionValid {
		t.Fatalf("status = %q, want valid", res.Status)
	}
	p := res.Projection
	if p.Email != "alice@example.com" || p.OrganizationName != "Acme" || p.Role != "admin" {
		t.Errorf("unexpected projection: %+v", p)
	}
	if !p.ExpiresAt.Equal(inv.ExpiresAt) {
		t.Errorf("projection expiry = %v, want %v", p.ExpiresAt, inv.ExpiresAt)
	}
}

func TestLookupLazyExpiryPersists(t *testing.T) {
	svc, st := newTestService(t)
	org := createOrg(t, st, true, 0)
	ctx := context.Background()

	inv, err := svc.Create(ctx, CreateParams{OrganizationID: org.ID, Email: "a@b.c", Role: "member"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	inv.ExpiresAt = time.Now().Add(-time.Second)
	if err := st.UpdateInvitation(ctx, inv); err != nil {
		t.Fatalf("UpdateInvitation() error = %v", err)
	}

	res, err := svc.Lookup(ctx, inv.Token)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if res.Status != ResolutionExpired {
		t.Fatalf("status = %q, want expired", res.Status)
	}

	// The expiry must have been written back, not just reported.
	got, err := st.GetInvitationByID(ctx, inv.ID)
	if err != nil {
		t.Fatalf("GetInvitationByID() error = %v", err)
	}
	if got.Status != store.InvitationExpired {
		t.Errorf("persisted status = %q, want expired", got.Status)
	}
}

func TestLookupOrganizationInactiveIsReadOnly(t *testing.T) {
	svc, st := newTestService(t)
	org := createOrg(t, st, true, 0)
	ctx := context.Background()

	inv, err := svc.Create(ctx, CreateParams{OrganizationID: org.ID, Email: "a@b.c", Role: "member"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	org.Active = false
	if err := st.UpdateOrganization(ctx, org); err != nil {
		t.Fatalf("UpdateOrganization() error = %v", err)
	}

	res, err := svc.Lookup(ctx, inv.Token)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if res.Status != ResolutionOrganizationInactive {
		t.Fatalf("status = %q, want organization_inactive", res.Status)
	}

	// Invitation stays pending so reactivation restores it.
	got, _ := st.GetInvitationByID(ctx, inv.ID)
	if got.Status != store.InvitationPending {
		t.Errorf("invitation status = %q, want pending", got.Status)
	}

	org.Active = true
	if err := st.UpdateOrganization(ctx, org); err != nil {
		t.Fatalf("UpdateOrganization() error = %v", err)
	}
	res, err = svc.Lookup(ctx, inv.Token)
	if err != nil {
		t.Fatalf("Lookup() after reactivation error = %v", err)
	}
	if res.Status != ResolutionValid {
		t.Errorf("status after reactivation = %q, want valid", res.Status)
	}
}

func TestResend(t *testing.T) {
	svc, st := newTestService(t)
	org := createOrg(t, st, true, 0)
	ctx := context.Background()

	inv, err := svc.Create(ctx, CreateParams{OrganizationID: org.ID, Email: "a@b.c", Role: "member", ExpiresIn: time.Hour})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	oldExpiry := inv.ExpiresAt

	refreshed, err := svc.Resend(ctx, inv.ID)
	if err != nil {
		t.Fatalf("Resend() error = %v", err)
	}
	if !refreshed.ExpiresAt.After(oldExpiry) {
		t.Errorf("expiry not extended: %v -> %v", oldExpiry, refreshed.ExpiresAt)
	}

	if err := svc.Revoke(ctx, inv.ID); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if _, err := svc.Resend(ctx, inv.ID); !errors.Is(err, ErrNotPending) {
		t.Errorf("Resend() after revoke error = %v, want ErrNotPending", err)
	}
}

func TestRevokeNonPending(t *testing.T) {
	svc, st := newTestService(t)
	org := createOrg(t, st, true, 0)
	ctx := context.Background()

	inv, err := svc.Create(ctx, CreateParams{OrganizationID: org.ID, Email: "a@b.c", Role: "member"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := svc.Revoke(ctx, inv.ID); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if err := svc.Revoke(ctx, inv.ID); !errors.Is(err, ErrNotPending) {
		t.Errorf("second Revoke() error = %v, want ErrNotPending", err)
	}
	if err := svc.Revoke(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Revoke(missing) error = %v, want ErrNotFound", err)
	}
}
