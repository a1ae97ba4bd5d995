package admin

import (
	"context"
	"net/http"

	"github.com/openledger/invitegate/internal/api"
	"github.com/openledger/invitegate/internal/identity"
)

type contextKey string

const sessionContextKey contextKey = "admin-session"

// SessionFromContext returns the authenticated session, or nil outside the
// RequireSession middleware.
func SessionFromContext(ctx context.Context) *identity.Session {
	s, _ := ctx.Value(sessionContextKey).(*identity.Session)
	return s
}

// RequireSession rejects requests without a valid session cookie.
func (h *Handler) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(identity.SessionCookieName)
		if err != nil || c.Value == "" {
			api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
			return
		}
		session, err := h.auth.Validate(r.Context(), c.Value)
		if err != nil {
			api.WriteUnauthorized(w, api.ReasonSessionExpired, "session expired or invalid")
			return
		}
		ctx := context.WithValue(r.Context(), sessionContextKey, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
