// Package admin implements the authenticated administrative surface:
// session login, invitation management, and organization provisioning.
package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/openledger/invitegate/internal/api"
	"github.com/openledger/invitegate/internal/appctx"
	"github.com/openledger/invitegate/internal/identity"
	"github.com/openledger/invitegate/internal/invites"
	"github.com/openledger/invitegate/internal/mail"
	"github.com/openledger/invitegate/internal/store"
)

// Handler serves the /api/admin routes.
type Handler struct {
	auth      *identity.Auth
	invites   *invites.Service
	store     store.Store
	mailer    mail.Mailer
	appOrigin string
	secure    bool
	logger    *slog.Logger
}

// NewHandler creates the admin handler. appOrigin is the external origin used
// to build accept links in invitation emails.
func NewHandler(auth *identity.Auth, svc *invites.Service, st store.Store, mailer mail.Mailer, appOrigin string, secure bool, logger *slog.Logger) *Handler {
	if mailer == nil {
		mailer = mail.Noop{}
	}
	return &Handler{
		auth:      auth,
		invites:   svc,
		store:     st,
		mailer:    mailer,
		appOrigin: appOrigin,
		secure:    secure,
		logger:    logger,
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// HandleLogin verifies credentials and sets the session cookie.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, api.ReasonBadRequest, "invalid JSON body")
		return
	}
	if req.Username == "" || req.Password == "" {
		api.WriteBadRequest(w, api.ReasonMissingField, "username and password are required")
		return
	}

	session, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			api.WriteUnauthorized(w, api.ReasonInvalidCredentials, "invalid credentials")
			return
		}
		appctx.GetLogger(r.Context()).Error("login failed", "error", err)
		api.WriteInternalError(w)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     identity.SessionCookieName,
		Value:    session.Token,
		Path:     "/api/admin",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteStrictMode,
	})
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"username":   session.Username,
		"expires_at": session.ExpiresAt,
	})
}

// HandleLogout removes the session and clears the cookie.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(identity.SessionCookieName); err == nil {
		if err := h.auth.Logout(r.Context(), c.Value); err != nil {
			appctx.GetLogger(r.Context()).Warn("logout failed", "error", err)
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     identity.SessionCookieName,
		Value:    "",
		Path:     "/api/admin",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteStrictMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

type createInvitationRequest struct {
	OrganizationID string `json:"organizationId"`
	Email          string `json:"email"`
	Role           string `json:"role"`
	ExpiresInHours int    `json:"expiresInHours,omitempty"`
}

// invitationView is the admin-facing invitation shape. Unlike the stored
// model it carries the token, which the administrator needs to build or
// re-send accept links.
type invitationView struct {
	*store.Invitation
	Token      string `json:"token"`
	AcceptLink string `json:"acceptLink"`
}

func (h *Handler) view(inv *store.Invitation) invitationView {
	return invitationView{
		Invitation: inv,
		Token:      inv.Token,
		AcceptLink: h.acceptLink(inv.Token),
	}
}

func (h *Handler) acceptLink(token string) string {
	return fmt.Sprintf("%s/accept-invitation?token=%s", h.appOrigin, url.QueryEscape(token))
}

// HandleCreateInvitation issues an invitation and emails its accept link.
func (h *Handler) HandleCreateInvitation(w http.ResponseWriter, r *http.Request) {
	logger := appctx.GetLogger(r.Context())

	var req createInvitationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, api.ReasonBadRequest, "invalid JSON body")
		return
	}
	if req.OrganizationID == "" || req.Email == "" || req.Role == "" {
		api.WriteBadRequest(w, api.ReasonMissingField, "organizationId, email, and role are required")
		return
	}

	session := SessionFromContext(r.Context())
	inviterID := ""
	if session != nil {
		inviterID = session.Username
	}

	inv, err := h.invites.Create(r.Context(), invites.CreateParams{
		OrganizationID: req.OrganizationID,
		Email:          req.Email,
		Role:           req.Role,
		InviterID:      inviterID,
		ExpiresIn:      time.Duration(req.ExpiresInHours) * time.Hour,
	})
	if err != nil {
		switch {
		case errors.Is(err, invites.ErrUnknownRole):
			api.WriteBadRequest(w, api.ReasonInvalidField, "unknown role")
		case errors.Is(err, invites.ErrUnknownOrganization):
			api.WriteBadRequest(w, api.ReasonInvalidField, "unknown organization")
		case errors.Is(err, invites.ErrDuplicatePending):
			api.WriteError(w, http.StatusConflict, api.ReasonConflict, "a pending invitation already exists for this email")
		default:
			logger.Error("failed to create invitation", "error", err)
			api.WriteInternalError(w)
		}
		return
	}

	h.sendInviteMail(r, inv)
	api.WriteJSON(w, http.StatusCreated, h.view(inv))
}

// HandleListInvitations lists invitations for an organization, newest first.
// Tokens are omitted from listings; they surface only in the create and resend
// responses.
func (h *Handler) HandleListInvitations(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("organizationId")
	if orgID == "" {
		api.WriteBadRequest(w, api.ReasonMissingField, "organizationId query parameter is required")
		return
	}

	list, err := h.invites.List(r.Context(), orgID)
	if err != nil {
		appctx.GetLogger(r.Context()).Error("failed to list invitations", "error", err)
		api.WriteInternalError(w)
		return
	}
	if list == nil {
		list = []*store.Invitation{}
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"invitations": list})
}

// HandleResendInvitation refreshes a pending invitation's expiry and re-sends
// its email. The response carries the token so an operator can relay the
// accept link out of band when mail delivery is unavailable.
func (h *Handler) HandleResendInvitation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	inv, err := h.invites.Resend(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			api.WriteError(w, http.StatusNotFound, api.ReasonNotFound, "invitation not found")
		case errors.Is(err, invites.ErrNotPending):
			api.WriteError(w, http.StatusConflict, api.ReasonConflict, "invitation is not pending")
		default:
			appctx.GetLogger(r.Context()).Error("failed to resend invitation", "error", err)
			api.WriteInternalError(w)
		}
		return
	}

	h.sendInviteMail(r, inv)
	api.WriteJSON(w, http.StatusOK, h.view(inv))
}

// HandleRevokeInvitation transitions a pending invitation to revoked.
func (h *Handler) HandleRevokeInvitation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := h.invites.Revoke(r.Context(), id)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, store.ErrNotFound):
		api.WriteError(w, http.StatusNotFound, api.ReasonNotFound, "invitation not found")
	case errors.Is(err, invites.ErrNotPending):
		api.WriteError(w, http.StatusConflict, api.ReasonConflict, "invitation is not pending")
	default:
		appctx.GetLogger(r.Context()).Error("failed to revoke invitation", "error", err)
		api.WriteInternalError(w)
	}
}

func (h *Handler) sendInviteMail(r *http.Request, inv *store.Invitation) {
	logger := appctx.GetLogger(r.Context())

	org, err := h.store.GetOrganization(r.Context(), inv.OrganizationID)
	if err != nil {
		logger.Warn("skipping invitation mail, organization lookup failed",
			"invitation_id", inv.ID, "error", err)
		return
	}
	err = h.mailer.SendInvite(r.Context(), mail.Invite{
		To:               inv.Email,
		OrganizationName: org.Name,
		Role:             inv.Role,
		AcceptLink:       h.acceptLink(inv.Token),
		ExpiresAt:        inv.ExpiresAt,
	})
	if err != nil {
		// Mail is best effort; the accept link is still in the API response.
		logger.Warn("failed to send invitation mail", "invitation_id", inv.ID, "error", err)
	}
}

type createOrganizationRequest struct {
	Name      string `json:"name"`
	SeatLimit int    `json:"seatLimit,omitempty"`
}

// HandleCreateOrganization provisions a new, active organization.
func (h *Handler) HandleCreateOrganization(w http.ResponseWriter, r *http.Request) {
	var req createOrganizationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, api.ReasonBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" {
		api.WriteBadRequest(w, api.ReasonMissingField, "name is required")
		return
	}
	if req.SeatLimit < 0 {
		api.WriteBadRequest(w, api.ReasonInvalidField, "seatLimit must not be negative")
		return
	}

	org := &store.Organization{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Active:    true,
		SeatLimit: req.SeatLimit,
	}
	if err := h.store.CreateOrganization(r.Context(), org); err != nil {
		appctx.GetLogger(r.Context()).Error("failed to create organization", "error", err)
		api.WriteInternalError(w)
		return
	}
	api.WriteJSON(w, http.StatusCreated, org)
}

// HandleGetOrganization returns one organization with its active seat count.
func (h *Handler) HandleGetOrganization(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	org, err := h.store.GetOrganization(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			api.WriteError(w, http.StatusNotFound, api.ReasonNotFound, "organization not found")
			return
		}
		appctx.GetLogger(r.Context()).Error("failed to get organization", "error", err)
		api.WriteInternalError(w)
		return
	}

	seats, err := h.store.CountActiveAccounts(r.Context(), org.ID)
	if err != nil {
		appctx.GetLogger(r.Context()).Error("failed to count accounts", "error", err)
		api.WriteInternalError(w)
		return
	}

	api.WriteJSON(w, http.StatusOK, map[string]any{
		"organization": org,
		"activeSeats":  seats,
	})
}

// HandleDeactivateOrganization marks an organization inactive. Pending
// invitations stay pending and resolve as organization_inactive until the
// organization is reactivated or they expire.
func (h *Handler) HandleDeactivateOrganization(w http.ResponseWriter, r *http.Request) {
	h.setOrganizationActive(w, r, false)
}

// HandleActivateOrganization reactivates an organization.
func (h *Handler) HandleActivateOrganization(w http.ResponseWriter, r *http.Request) {
	h.setOrganizationActive(w, r, true)
}

func (h *Handler) setOrganizationActive(w http.ResponseWriter, r *http.Request, active bool) {
	id := chi.URLParam(r, "id")

	org, err := h.store.GetOrganization(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			api.WriteError(w, http.StatusNotFound, api.ReasonNotFound, "organization not found")
			return
		}
		appctx.GetLogger(r.Context()).Error("failed to get organization", "error", err)
		api.WriteInternalError(w)
		return
	}

	org.Active = active
	if err := h.store.UpdateOrganization(r.Context(), org); err != nil {
		appctx.GetLogger(r.Context()).Error("failed to update organization", "error", err)
		api.WriteInternalError(w)
		return
	}
	api.WriteJSON(w, http.StatusOK, org)
}
