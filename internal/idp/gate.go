package idp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/openledger/invitegate/internal/api"
	"github.com/openledger/invitegate/internal/appctx"
	"github.com/openledger/invitegate/internal/invites"
	"github.com/openledger/invitegate/internal/logutil"
	"github.com/openledger/invitegate/internal/signup"
	"github.com/openledger/invitegate/internal/store"
)

// maxEventBytes bounds the webhook body read.
const maxEventBytes = 1 << 20

// Event kinds the gate understands. Anything else is acknowledged and
// ignored so the provider does not retry forever.
const (
	EventAccountCreated = "account.created"
	EventAccountUpdated = "account.updated"
	EventAccountDeleted = "account.deleted"
)

// EmailAddress is one address on the provider's account payload.
type EmailAddress struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// AccountPayload is the provider's account representation in events.
type AccountPayload struct {
	ID                    string         `json:"id"`
	Name                  string         `json:"name"`
	EmailAddresses        []EmailAddress `json:"emailAddresses"`
	PrimaryEmailAddressID string         `json:"primaryEmailAddressId"`
}

// primaryEmail resolves the payload's primary address, empty when absent.
func (a *AccountPayload) primaryEmail() string {
	for _, e := range a.EmailAddresses {
		if e.ID == a.PrimaryEmailAddressID {
			return e.Email
		}
	}
	return ""
}

// Event is the webhook envelope.
type Event struct {
	Type    string         `json:"type"`
	Account AccountPayload `json:"account"`
}

// Gate is the enforcement boundary: the only component that treats "an
// external account now exists" as trustworthy, and the only caller of the
// atomic accept. Unauthorized accounts are compensated away via the provider
// client.
type Gate struct {
	verifier *SignatureVerifier
	invites  *invites.Service
	accounts store.AccountStore
	client   Client
	claims   *signup.ClaimCodec
	logger   *slog.Logger
}

// NewGate creates the webhook authorization gate.
func NewGate(verifier *SignatureVerifier, svc *invites.Service, accounts store.AccountStore, client Client, claims *signup.ClaimCodec, logger *slog.Logger) *Gate {
	return &Gate{
		verifier: verifier,
		invites:  svc,
		accounts: accounts,
		client:   client,
		claims:   claims,
		logger:   logutil.NoopIfNil(logger),
	}
}

// HandleEvent handles POST /webhooks/idp.
//
// Signature verification happens before anything else: an unverified event
// gets a bare 401 with zero store access and zero provider calls, since it
// might not even be real.
func (g *Gate) HandleEvent(w http.ResponseWriter, r *http.Request) {
	log := appctx.GetLogger(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBytes))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := g.verifier.Verify(
		r.Header.Get(HeaderWebhookID),
		r.Header.Get(HeaderWebhookTimestamp),
		r.Header.Get(HeaderWebhookSignature),
		body,
	); err != nil {
		// Deliberately bodyless; nothing about this service leaks to an
		// unauthenticated caller.
		log.Warn("webhook signature rejected",
			"error", err,
			"source", r.RemoteAddr)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		log.Warn("webhook payload unparseable", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	switch event.Type {
	case EventAccountCreated:
		g.handleCreated(w, r, &event.Account)
	case EventAccountUpdated:
		g.handleUpdated(w, r, &event.Account)
	case EventAccountDeleted:
		g.handleDeleted(w, r, &event.Account)
	default:
		// Unknown kinds are acknowledged so the provider stops retrying.
		api.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
	}
}

// handleCreated runs the accept-or-reject protocol for a fresh external
// account.
func (g *Gate) handleCreated(w http.ResponseWriter, r *http.Request, account *AccountPayload) {
	log := appctx.GetLogger(r.Context())

	if account.ID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	email := account.primaryEmail()
	if email == "" {
		// An account without a usable email cannot be bound to any
		// invitation; undo it.
		log.Warn("account created without primary email", "external_id", account.ID)
		http.SetCookie(w, g.claims.Clear())
		g.compensate(r.Context(), account.ID)
		g.reject(w)
		return
	}

	// The claim cookie is a hint for picking between multiple pending
	// invitations, nothing more. Absent or invalid claims change nothing:
	// the email lookup stays authoritative.
	var preferredToken string
	if cookie, err := r.Cookie(signup.ClaimCookieName); err == nil {
		if token, err := g.claims.Verify(cookie.Value); err == nil {
			preferredToken = token
		} else {
			log.Info("claim cookie ignored", "reason", err)
		}
	}

	created, err := g.invites.Accept(r.Context(), store.AcceptParams{
		Email:          email,
		ExternalID:     account.ID,
		Name:           account.Name,
		PreferredToken: preferredToken,
	})

	// The claim is consumed either way.
	http.SetCookie(w, g.claims.Clear())

	if err != nil {
		switch {
		case errors.Is(err, store.ErrNoInvitation),
			errors.Is(err, store.ErrInviteExpired),
			errors.Is(err, store.ErrOrganizationInactive),
			errors.Is(err, store.ErrSeatLimitReached):
			// Expected policy rejection.
			log.Info("registration rejected", "reason", err, "external_id", account.ID)
		default:
			// Infrastructure failure: the transaction rolled back, so from
			// the provider's point of view this is still "not authorized".
			log.Error("accept transaction failed", "error", err, "external_id", account.ID)
		}
		g.compensate(r.Context(), account.ID)
		g.reject(w)
		return
	}

	log.Info("registration authorized",
		"account_id", created.ID,
		"organization_id", created.OrganizationID,
		"external_id", account.ID)
	api.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// handleUpdated is a pass-through profile sync; invitation state is never
// touched.
func (g *Gate) handleUpdated(w http.ResponseWriter, r *http.Request, account *AccountPayload) {
	log := appctx.GetLogger(r.Context())

	local, err := g.accounts.GetAccountByExternalID(r.Context(), account.ID)
	if err != nil {
		// Updates for unbound accounts (created before this service, or
		// rejected ones racing the delete) are acknowledged and dropped.
		api.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	if email := account.primaryEmail(); email != "" {
		local.Email = store.NormalizeEmail(email)
	}
	if account.Name != "" {
		local.Name = account.Name
	}
	if err := g.accounts.UpdateAccount(r.Context(), local); err != nil {
		log.Error("profile sync failed", "account_id", local.ID, "error", err)
		api.WriteInternalError(w)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// handleDeleted deactivates the bound local account; rows are kept for audit.
func (g *Gate) handleDeleted(w http.ResponseWriter, r *http.Request, account *AccountPayload) {
	log := appctx.GetLogger(r.Context())

	local, err := g.accounts.GetAccountByExternalID(r.Context(), account.ID)
	if err != nil {
		api.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	local.Active = false
	if err := g.accounts.UpdateAccount(r.Context(), local); err != nil {
		log.Error("account deactivation failed", "account_id", local.ID, "error", err)
		api.WriteInternalError(w)
		return
	}

	log.Info("account deactivated", "account_id", local.ID)
	api.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// compensate deletes the externally-created identity, retrying once. A
// double failure leaves an unauthorized identity live, which is a security
// incident, not a routine error; it is logged for operator alerting.
func (g *Gate) compensate(ctx context.Context, externalID string) {
	// The delete must proceed even if the provider hangs up on the request.
	ctx = context.WithoutCancel(ctx)

	err := g.client.DeleteIdentity(ctx, externalID)
	if err == nil {
		return
	}
	g.logger.Warn("compensating delete failed, retrying", "external_id", externalID, "error", err)

	if err := g.client.DeleteIdentity(ctx, externalID); err != nil {
		g.logger.Error("compensating delete failed twice; unauthorized identity left live",
			"external_id", externalID,
			"error", err,
			"alert", true)
	}
}

// reject answers every authorization failure identically so a replayed
// webhook cannot probe invitation state.
func (g *Gate) reject(w http.ResponseWriter) {
	api.WriteForbidden(w, api.ReasonUnauthorized, "registration rejected")
}
