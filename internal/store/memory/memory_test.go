package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/openledger/invitegate/internal/store"
)

func seedOrg(t *testing.T, s *Store, seatLimit int) *store.Organization {
	t.Helper()
	org := &store.Organization{Name: "Acme", Active: true, SeatLimit: seatLimit}
	if err := s.CreateOrganization(context.Background(), org); err != nil {
		t.Fatalf("CreateOrganization() error = %v", err)
	}
	return org
}

func seedInvitation(t *testing.T, s *Store, orgID, email, token string) *store.Invitation {
	t.Helper()
	now := time.Now()
	inv := &store.Invitation{
		Token:          token,
		OrganizationID: orgID,
		Email:          email,
		Role:           "member",
		Status:         store.InvitationPending,
		InvitedAt:      now,
		ExpiresAt:      now.Add(time.Hour),
	}
	if err := s.CreateInvitation(context.Background(), inv); err != nil {
		t.Fatalf("CreateInvitation() error = %v", err)
	}
	return inv
}

func TestAcceptInvitation(t *testing.T) {
	s := New()
	org := seedOrg(t, s, 0)
	inv := seedInvitation(t, s, org.ID, "alice@example.com", "tok-1")
	ctx := context.Background()

	account, err := s.AcceptInvitation(ctx, store.AcceptParams{
		Email:      "Alice@Example.com",
		ExternalID: "ext-1",
		Name:       "Alice",
	})
	if err != nil {
		t.Fatalf("AcceptInvitation() error = %v", err)
	}
	if account.Role != "member" || account.OrganizationID != org.ID || !account.Active {
		t.Errorf("unexpected account: %+v", account)
	}
	if account.InvitationID != inv.ID {
		t.Errorf("account bound to invitation %q, want %q", account.InvitationID, inv.ID)
	}

	got, _ := s.GetInvitationByID(ctx, inv.ID)
	if got.Status != store.InvitationAccepted {
		t.Errorf("invitation status = %q, want accepted", got.Status)
	}
	if got.AcceptedAt == nil || got.AcceptedBy == nil || *got.AcceptedBy != account.ID {
		t.Errorf("acceptance audit fields not set: %+v", got)
	}
}

func TestAcceptInvitationFailureTags(t *testing.T) {
	ctx := context.Background()

	t.Run("no invitation", func(t *testing.T) {
		s := New()
		seedOrg(t, s, 0)
		_, err := s.AcceptInvitation(ctx, store.AcceptParams{Email: "nobody@x.y", ExternalID: "e"})
		if !errors.Is(err, store.ErrNoInvitation) {
			t.Errorf("error = %v, want ErrNoInvitation", err)
		}
	})

	t.Run("expired", func(t *testing.T) {
		s := New()
		org := seedOrg(t, s, 0)
		inv := seedInvitation(t, s, org.ID, "a@x.y", "tok-exp")
		inv.ExpiresAt = time.Now().Add(-time.Minute)
		if err := s.UpdateInvitation(ctx, inv); err != nil {
			t.Fatal(err)
		}
		_, err := s.AcceptInvitation(ctx, store.AcceptParams{Email: "a@x.y", ExternalID: "e"})
		if !errors.Is(err, store.ErrInviteExpired) {
			t.Errorf("error = %v, want ErrInviteExpired", err)
		}
		// Rolled back: no account, invitation untouched.
		if _, err := s.GetAccountByExternalID(ctx, "e"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("account exists after rollback")
		}
	})

	t.Run("organization inactive", func(t *testing.T) {
		s := New()
		org := seedOrg(t, s, 0)
		seedInvitation(t, s, org.ID, "a@x.y", "tok-inact")
		org.Active = false
		if err := s.UpdateOrganization(ctx, org); err != nil {
			t.Fatal(err)
		}
		_, err := s.AcceptInvitation(ctx, store.AcceptParams{Email: "a@x.y", ExternalID: "e"})
		if !errors.Is(err, store.ErrOrganizationInactive) {
			t.Errorf("error = %v, want ErrOrganizationInactive", err)
		}
	})

	t.Run("seat limit", func(t *testing.T) {
		s := New()
		org := seedOrg(t, s, 1)
		seedInvitation(t, s, org.ID, "first@x.y", "tok-a")
		seedInvitation(t, s, org.ID, "second@x.y", "tok-b")

		if _, err := s.AcceptInvitation(ctx, store.AcceptParams{Email: "first@x.y", ExternalID: "e1"}); err != nil {
			t.Fatalf("first accept error = %v", err)
		}
		_, err := s.AcceptInvitation(ctx, store.AcceptParams{Email: "second@x.y", ExternalID: "e2"})
		if !errors.Is(err, store.ErrSeatLimitReached) {
			t.Errorf("error = %v, want ErrSeatLimitReached", err)
		}
		// The second invitation survives for when a seat frees up.
		inv, _ := s.GetInvitationByToken(ctx, "tok-b")
		if inv.Status != store.InvitationPending {
			t.Errorf("loser invitation status = %q, want pending", inv.Status)
		}
	})
}

func TestAcceptInvitationSkipsExpiredCandidates(t *testing.T) {
	s := New()
	orgOld := seedOrg(t, s, 0)
	orgNew := &store.Organization{Name: "Newer Org", Active: true}
	ctx := context.Background()
	if err := s.CreateOrganization(ctx, orgNew); err != nil {
		t.Fatal(err)
	}

	// Older invitation is still valid; the newer one for the same email has
	// already lapsed. The lapsed one must not shadow the valid one.
	valid := seedInvitation(t, s, orgOld.ID, "a@x.y", "tok-valid")
	valid.InvitedAt = time.Now().Add(-48 * time.Hour)
	if err := s.UpdateInvitation(ctx, valid); err != nil {
		t.Fatal(err)
	}
	expired := seedInvitation(t, s, orgNew.ID, "a@x.y", "tok-expired")
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	if err := s.UpdateInvitation(ctx, expired); err != nil {
		t.Fatal(err)
	}

	account, err := s.AcceptInvitation(ctx, store.AcceptParams{Email: "a@x.y", ExternalID: "e1"})
	if err != nil {
		t.Fatalf("AcceptInvitation() error = %v", err)
	}
	if account.InvitationID != valid.ID {
		t.Errorf("accepted invitation = %q, want the still-valid %q", account.InvitationID, valid.ID)
	}
	if account.OrganizationID != orgOld.ID {
		t.Errorf("organization = %q, want %q", account.OrganizationID, orgOld.ID)
	}

	got, _ := s.GetInvitationByID(ctx, expired.ID)
	if got.Status != store.InvitationPending {
		t.Errorf("lapsed invitation status = %q, want pending", got.Status)
	}

	// With the valid one spent, only the lapsed invitation remains.
	if _, err := s.AcceptInvitation(ctx, store.AcceptParams{Email: "a@x.y", ExternalID: "e2"}); !errors.Is(err, store.ErrInviteExpired) {
		t.Errorf("accept with only lapsed candidates error = %v, want ErrInviteExpired", err)
	}
}

func TestAcceptInvitationPreferredToken(t *testing.T) {
	s := New()
	org := seedOrg(t, s, 0)
	ctx := context.Background()

	older := seedInvitation(t, s, org.ID, "a@x.y", "tok-old")
	older.InvitedAt = time.Now().Add(-time.Hour)
	if err := s.UpdateInvitation(ctx, older); err != nil {
		t.Fatal(err)
	}
	seedInvitation(t, s, org.ID, "a@x.y", "tok-new")

	account, err := s.AcceptInvitation(ctx, store.AcceptParams{
		Email:          "a@x.y",
		ExternalID:     "e",
		PreferredToken: "tok-old",
	})
	if err != nil {
		t.Fatalf("AcceptInvitation() error = %v", err)
	}
	if account.InvitationID != older.ID {
		t.Errorf("accepted invitation %q, want preferred %q", account.InvitationID, older.ID)
	}
}

func TestAcceptInvitationUnknownPreferredTokenFallsBack(t *testing.T) {
	s := New()
	org := seedOrg(t, s, 0)
	inv := seedInvitation(t, s, org.ID, "a@x.y", "tok-only")

	account, err := s.AcceptInvitation(context.Background(), store.AcceptParams{
		Email:          "a@x.y",
		ExternalID:     "e",
		PreferredToken: "tok-elsewhere",
	})
	if err != nil {
		t.Fatalf("AcceptInvitation() error = %v", err)
	}
	if account.InvitationID != inv.ID {
		t.Errorf("accepted invitation %q, want %q", account.InvitationID, inv.ID)
	}
}

func TestAcceptInvitationConcurrentExactlyOneWinner(t *testing.T) {
	s := New()
	org := seedOrg(t, s, 0)
	seedInvitation(t, s, org.ID, "race@x.y", "tok-race")
	ctx := context.Background()

	const attempts = 32
	var wg sync.WaitGroup
	errs := make([]error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.AcceptInvitation(ctx, store.AcceptParams{
				Email:      "race@x.y",
				ExternalID: fmt.Sprintf("ext-%d", i),
			})
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else if !errors.Is(err, store.ErrNoInvitation) {
			t.Errorf("loser error = %v, want ErrNoInvitation", err)
		}
	}
	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}

	count, err := s.CountActiveAccounts(ctx, org.ID)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("active accounts = %d, want 1", count)
	}
}

func TestAcceptInvitationSeatLimitRace(t *testing.T) {
	s := New()
	org := seedOrg(t, s, 3)
	ctx := context.Background()

	const attempts = 16
	for i := 0; i < attempts; i++ {
		seedInvitation(t, s, org.ID, fmt.Sprintf("u%d@x.y", i), fmt.Sprintf("tok-%d", i))
	}

	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.AcceptInvitation(ctx, store.AcceptParams{
				Email:      fmt.Sprintf("u%d@x.y", i),
				ExternalID: fmt.Sprintf("ext-%d", i),
			})
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		}
	}
	if winners != 3 {
		t.Fatalf("winners = %d, want seat limit 3", winners)
	}
	count, _ := s.CountActiveAccounts(ctx, org.ID)
	if count != 3 {
		t.Errorf("active accounts = %d, want 3", count)
	}
}

func TestExpireInvitationNoOpOnTerminal(t *testing.T) {
	s := New()
	org := seedOrg(t, s, 0)
	inv := seedInvitation(t, s, org.ID, "a@x.y", "tok")
	ctx := context.Background()

	if _, err := s.AcceptInvitation(ctx, store.AcceptParams{Email: "a@x.y", ExternalID: "e"}); err != nil {
		t.Fatal(err)
	}

	// A racing lazy-expiry observer must not clobber the accept.
	if err := s.ExpireInvitation(ctx, inv.ID); err != nil {
		t.Fatalf("ExpireInvitation() error = %v", err)
	}
	got, _ := s.GetInvitationByID(ctx, inv.ID)
	if got.Status != store.InvitationAccepted {
		t.Errorf("status = %q, want accepted", got.Status)
	}
}

func TestListInvitationsNewestFirst(t *testing.T) {
	s := New()
	org := seedOrg(t, s, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		inv := seedInvitation(t, s, org.ID, fmt.Sprintf("u%d@x.y", i), fmt.Sprintf("tok-%d", i))
		inv.InvitedAt = time.Now().Add(time.Duration(i) * time.Minute)
		if err := s.UpdateInvitation(ctx, inv); err != nil {
			t.Fatal(err)
		}
	}

	list, err := s.ListInvitations(ctx, org.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("len = %d, want 3", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i].InvitedAt.After(list[i-1].InvitedAt) {
			t.Errorf("list not newest-first at index %d", i)
		}
	}
}

func TestReturnedCopiesAreIsolated(t *testing.T) {
	s := New()
	org := seedOrg(t, s, 0)
	inv := seedInvitation(t, s, org.ID, "a@x.y", "tok")
	ctx := context.Background()

	got, _ := s.GetInvitationByID(ctx, inv.ID)
	got.Status = store.InvitationRevoked

	again, _ := s.GetInvitationByID(ctx, inv.ID)
	if again.Status != store.InvitationPending {
		t.Errorf("mutating a returned copy leaked into the store")
	}
}
