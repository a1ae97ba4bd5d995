package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/openledger/invitegate/internal/admin"
	"github.com/openledger/invitegate/internal/config"
	"github.com/openledger/invitegate/internal/httptls"
	"github.com/openledger/invitegate/internal/idp"
	"github.com/openledger/invitegate/internal/logutil"
	"github.com/openledger/invitegate/internal/ratelimit"
	"github.com/openledger/invitegate/internal/signup"
)

var ErrMissingDep = errors.New("missing required dependency")

// Deps holds all server dependencies.
type Deps struct {
	Signup  *signup.Handler
	Gate    *idp.Gate
	Admin   *admin.Handler
	Limiter *ratelimit.Limiter
}

// Server wraps the HTTP server and its dependencies.
type Server struct {
	cfg            *config.Config
	httpServer     *http.Server
	challengeSrv   *http.Server
	logger         *slog.Logger
	trustedProxies *TrustedProxies
	signup         *signup.Handler
	gate           *idp.Gate
	admin          *admin.Handler
	limiter        *ratelimit.Limiter
}

// New creates a Server. Returns an error if a required dependency is missing.
func New(cfg *config.Config, logger *slog.Logger, deps *Deps) (*Server, error) {
	if deps == nil || deps.Signup == nil || deps.Gate == nil || deps.Admin == nil || deps.Limiter == nil {
		return nil, ErrMissingDep
	}

	s := &Server{
		cfg:            cfg,
		logger:         logutil.NoopIfNil(logger),
		trustedProxies: NewTrustedProxies(cfg.Server.TrustedProxies),
		signup:         deps.Signup,
		gate:           deps.Gate,
		admin:          deps.Admin,
		limiter:        deps.Limiter,
	}

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return s, nil
}

// Start runs the server until it fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting server",
		"addr", s.cfg.ListenAddr,
		"tls_mode", s.cfg.TLS.Mode,
		"external_origin", s.cfg.ExternalOrigin)

	if s.cfg.TLS.Mode == "off" {
		return s.httpServer.ListenAndServe()
	}

	manager := httptls.NewManager(&s.cfg.TLS, s.logger)
	tlsConfig, err := manager.Config(extractHostname(s.cfg.ExternalOrigin))
	if err != nil {
		return fmt.Errorf("failed to configure TLS: %w", err)
	}
	if tlsConfig == nil {
		return s.httpServer.ListenAndServe()
	}

	if acme := manager.ACME(); acme != nil {
		if err := acme.Init(ctx); err != nil {
			return fmt.Errorf("ACME initialization failed: %w", err)
		}
		s.startChallengeListener(acme)
	}

	s.httpServer.TLSConfig = tlsConfig

	// Empty file names mean TLSConfig carries the certificates.
	return s.httpServer.ListenAndServeTLS("", "")
}

// startChallengeListener serves ACME HTTP-01 challenges on the plain HTTP
// port and redirects everything else to HTTPS.
func (s *Server) startChallengeListener(acme *httptls.ACMEManager) {
	challenge := acme.ChallengeHandler()
	mux := http.NewServeMux()
	mux.Handle("/.well-known/acme-challenge/", challenge)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		target := s.cfg.ExternalOrigin + r.URL.RequestURI()
		http.Redirect(w, r, target, http.StatusMovedPermanently)
	})

	s.challengeSrv = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.TLS.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.challengeSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("challenge listener failed", "error", err)
		}
	}()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	if s.challengeSrv != nil {
		if err := s.challengeSrv.Shutdown(ctx); err != nil {
			s.logger.Warn("challenge listener shutdown failed", "error", err)
		}
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// extractHostname pulls the host (without port) out of an origin URL.
func extractHostname(origin string) string {
	u, err := url.Parse(origin)
	if err != nil || u.Hostname() == "" {
		return "localhost"
	}
	return u.Hostname()
}
