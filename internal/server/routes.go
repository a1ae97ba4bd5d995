package server

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/openledger/invitegate/internal/api"
)

// setupRoutes creates the chi router with all endpoint groups mounted.
//
// Three exposure levels:
//   - public, rate limited: token verification and accept handoff
//   - shared secret: the identity provider webhook
//   - session auth: the /api/admin management surface
func (s *Server) setupRoutes() chi.Router {
	r := chi.NewRouter()

	// RequestID must come first so the request logger sees it. The access
	// log wraps the response writer so Recoverer panics are logged with the
	// status they produced.
	r.Use(middleware.RequestID)
	r.Use(s.requestLoggerMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/api/healthz", api.HealthHandler)

	// Public invitation surface. Only verification is rate limited; the
	// accept handoff re-verifies the token but is driven by a prior
	// successful verification. The limiter keys on the trusted-proxy-resolved
	// client address, never on raw forwarding headers.
	r.Group(func(r chi.Router) {
		r.With(s.limiter.Middleware(s.trustedProxies.ClientIPString)).Get("/api/invitations/verify", s.signup.HandleVerify)
		r.Post("/api/invitations/accept", s.signup.HandleAccept)
	})

	// Identity provider webhook. Signature verification happens inside the
	// gate so a failure can answer with a bare 401.
	r.Post("/webhooks/idp", s.gate.HandleEvent)

	// Management surface.
	r.Route("/api/admin", func(r chi.Router) {
		r.Post("/login", s.admin.HandleLogin)
		r.Post("/logout", s.admin.HandleLogout)

		r.Group(func(r chi.Router) {
			r.Use(s.admin.RequireSession)

			r.Post("/invitations", s.admin.HandleCreateInvitation)
			r.Get("/invitations", s.admin.HandleListInvitations)
			r.Post("/invitations/{id}/resend", s.admin.HandleResendInvitation)
			r.Delete("/invitations/{id}", s.admin.HandleRevokeInvitation)

			r.Post("/organizations", s.admin.HandleCreateOrganization)
			r.Get("/organizations/{id}", s.admin.HandleGetOrganization)
			r.Post("/organizations/{id}/deactivate", s.admin.HandleDeactivateOrganization)
			r.Post("/organizations/{id}/activate", s.admin.HandleActivateOrganization)
		})
	})

	return r
}
