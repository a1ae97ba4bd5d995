// Package signup provides the public, unauthenticated signup surface: token
// verification and the acceptance handoff that stakes a claim and redirects
// into the identity provider's signup flow.
package signup

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/openledger/invitegate/internal/appctx"
	"github.com/openledger/invitegate/internal/invites"
	"github.com/openledger/invitegate/internal/logutil"
)

// DefaultRequestTimeout bounds the cheap read paths. No retries: a timed-out
// verify simply re-renders as unavailable.
const DefaultRequestTimeout = 5 * time.Second

// VerifyResponse is the public verification contract.
type VerifyResponse struct {
	Valid      bool                `json:"valid"`
	Reason     string              `json:"reason,omitempty"`
	Invitation *invites.Projection `json:"invitation,omitempty"`
}

// AcceptRequest is the acceptance handoff request body.
type AcceptRequest struct {
	Token string `json:"token"`
}

// AcceptResponse is returned on a successful handoff.
type AcceptResponse struct {
	Success     bool   `json:"success"`
	RedirectURL string `json:"redirectUrl"`
}

// acceptError is the handoff failure body: {error, reason} with status 400.
type acceptError struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

// Handler serves the public verification and acceptance endpoints.
type Handler struct {
	invites   *invites.Service
	claims    *ClaimCodec
	signupURL string // identity provider signup UI
	timeout   time.Duration
	logger    *slog.Logger
}

// NewHandler creates a signup handler. signupURL is the external identity
// provider's signup page; the handoff appends the invited email.
func NewHandler(svc *invites.Service, claims *ClaimCodec, signupURL string, logger *slog.Logger) *Handler {
	return &Handler{
		invites:   svc,
		claims:    claims,
		signupURL: signupURL,
		timeout:   DefaultRequestTimeout,
		logger:    logutil.NoopIfNil(logger),
	}
}

// HandleVerify handles GET /api/invitations/verify?token=...
//
// Rate limiting runs in middleware before this handler, so a rate-limited
// caller never reaches the store. Responses for malformed and unknown tokens
// are shaped identically so the endpoint leaks nothing about which tokens
// exist.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	log := appctx.GetLogger(r.Context())

	token := r.URL.Query().Get("token")
	if !invites.IsWellFormedToken(token) {
		// Malformed: rejected without a lookup. Log only the shape.
		log.Info("verify rejected malformed token", "token_len", len(token))
		writeVerify(w, &VerifyResponse{Valid: false, Reason: string(invites.ResolutionNotFound)})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	res, err := h.invites.Lookup(ctx, token)
	if err != nil {
		log.Error("verify lookup failed", "error", err)
		writeVerify(w, &VerifyResponse{Valid: false, Reason: string(invites.ResolutionNotFound)})
		return
	}

	if res.Status != invites.ResolutionValid {
		writeVerify(w, &VerifyResponse{Valid: false, Reason: string(res.Status)})
		return
	}

	writeVerify(w, &VerifyResponse{Valid: true, Invitation: res.Projection})
}

// HandleAccept handles POST /api/invitations/accept with body {token}.
//
// It re-runs the lookup (a token valid at verify-time may have expired in the
// meantime), stakes the claim cookie, and returns the identity provider
// redirect. No invitation state changes here; the token is only spent by the
// webhook gate.
func (h *Handler) HandleAccept(w http.ResponseWriter, r *http.Request) {
	log := appctx.GetLogger(r.Context())

	ct := r.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "application/json") {
		writeAcceptError(w, string(invites.ResolutionNotFound))
		return
	}

	var req AcceptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAcceptError(w, string(invites.ResolutionNotFound))
		return
	}
	if !invites.IsWellFormedToken(req.Token) {
		log.Info("accept rejected malformed token", "token_len", len(req.Token))
		writeAcceptError(w, string(invites.ResolutionNotFound))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	res, err := h.invites.Lookup(ctx, req.Token)
	if err != nil {
		log.Error("accept lookup failed", "error", err)
		writeAcceptError(w, string(invites.ResolutionNotFound))
		return
	}
	if res.Status != invites.ResolutionValid {
		writeAcceptError(w, string(res.Status))
		return
	}

	cookie, err := h.claims.Issue(req.Token, res.Invitation.ExpiresAt)
	if err != nil {
		log.Error("failed to issue claim cookie", "error", err)
		writeAcceptError(w, string(invites.ResolutionNotFound))
		return
	}
	http.SetCookie(w, cookie)

	redirect := h.signupRedirect(res.Projection.Email)
	log.Info("acceptance handoff staked", "invitation_id", res.Invitation.ID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(AcceptResponse{
		Success:     true,
		RedirectURL: redirect,
	})
}

// signupRedirect builds the identity provider signup URL with the invited
// email pre-filled.
func (h *Handler) signupRedirect(email string) string {
	u, err := url.Parse(h.signupURL)
	if err != nil {
		return h.signupURL
	}
	q := u.Query()
	q.Set("email", email)
	u.RawQuery = q.Encode()
	return u.String()
}

func writeVerify(w http.ResponseWriter, resp *VerifyResponse) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func writeAcceptError(w http.ResponseWriter, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(acceptError{
		Error:  "invitation not usable",
		Reason: reason,
	})
}
