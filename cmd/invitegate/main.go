// Package main is the entrypoint for the invitegate server.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openledger/invitegate/internal/admin"
	"github.com/openledger/invitegate/internal/cache"
	"github.com/openledger/invitegate/internal/config"
	"github.com/openledger/invitegate/internal/identity"
	"github.com/openledger/invitegate/internal/idp"
	"github.com/openledger/invitegate/internal/invites"
	"github.com/openledger/invitegate/internal/mail"
	"github.com/openledger/invitegate/internal/ratelimit"
	"github.com/openledger/invitegate/internal/server"
	"github.com/openledger/invitegate/internal/signup"
	"github.com/openledger/invitegate/internal/store"

	// Register cache and store drivers
	_ "github.com/openledger/invitegate/internal/cache/loader"
	_ "github.com/openledger/invitegate/internal/store/loader"
)

func main() {
	configPath := flag.String("config", "", "Path to TOML config file (optional)")
	modeFlag := flag.String("mode", "", "Operating mode: strict or dev (overrides config)")
	listenAddr := flag.String("listen", "", "Listen address (overrides config)")
	externalOrigin := flag.String("external-origin", "", "External origin (overrides config)")
	storeDriver := flag.String("store-driver", "", "Store driver: memory or sqlite (overrides config)")
	dataDir := flag.String("data-dir", "", "Data directory for the sqlite store (overrides config)")
	cacheDriver := flag.String("cache-driver", "", "Cache driver: memory or valkey (overrides config)")
	tlsMode := flag.String("tls-mode", "", "TLS mode: off, static, selfsigned, or acme (overrides config)")
	adminUsername := flag.String("admin-username", "", "Bootstrap admin username (overrides config)")
	adminPassword := flag.String("admin-password", "", "Bootstrap admin password (overrides config)")
	flag.Parse()

	// Bootstrap logger for config loading errors
	bootstrapLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(config.LoaderOptions{
		ConfigPath: *configPath,
		ModeFlag:   *modeFlag,
		FlagOverrides: config.FlagOverrides{
			ListenAddr:     listenAddr,
			ExternalOrigin: externalOrigin,
			StoreDriver:    storeDriver,
			DataDir:        dataDir,
			CacheDriver:    cacheDriver,
			TLSMode:        tlsMode,
			AdminUsername:  adminUsername,
			AdminPassword:  adminPassword,
		},
		Logger: bootstrapLogger,
	})
	if err != nil {
		bootstrapLogger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Mode == string(config.ModeDev) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Cache (rate limit counters and admin sessions)
	cacheName := cfg.Cache.Driver
	if cacheName == "" {
		cacheName = "memory"
	}
	cacheInstance, err := cache.New(cacheName, driverOptions(cfg.Cache.Drivers, cacheName))
	if err != nil {
		logger.Error("failed to create cache", "driver", cacheName, "error", err)
		os.Exit(1)
	}
	defer cacheInstance.Close()

	// Store
	st, err := store.New(&store.DriverConfig{
		Driver:  cfg.Store.Driver,
		DataDir: cfg.Store.DataDir,
	})
	if err != nil {
		logger.Error("failed to create store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	if err := st.Init(ctx); err != nil {
		logger.Error("failed to initialize store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// Bootstrap admin credentials
	username := cfg.Server.BootstrapAdmin.Username
	if username == "" {
		username = "admin"
	}
	password := cfg.Server.BootstrapAdmin.Password
	if password == "" {
		generated, err := identity.GenerateSessionToken()
		if err != nil {
			logger.Error("failed to generate bootstrap password", "error", err)
			os.Exit(1)
		}
		password = generated
		logger.Warn("no bootstrap admin password configured, generated one",
			"username", username,
			"password", password)
	}
	auth, err := identity.NewAuth(username, password, cacheInstance)
	if err != nil {
		logger.Error("failed to create admin auth", "error", err)
		os.Exit(1)
	}

	// Invitation email delivery
	var mailer mail.Mailer = mail.Noop{}
	if cfg.Mail.Enabled {
		sesMailer, err := mail.NewSESMailer(ctx, mail.SESConfig{
			Region:    cfg.Mail.Region,
			AccessKey: cfg.Mail.AccessKey,
			SecretKey: cfg.Mail.SecretKey,
			From:      cfg.Mail.From,
		})
		if err != nil {
			logger.Error("failed to create mailer", "error", err)
			os.Exit(1)
		}
		mailer = sesMailer
	}

	secure := cfg.TLS.Mode != "off"

	svc := invites.NewService(st, logger)
	claims := signup.NewClaimCodec([]byte(cfg.Claim.Secret), secure)
	signupHandler := signup.NewHandler(svc, claims, cfg.IDP.SignupURL, logger)

	verifier := idp.NewSignatureVerifier(cfg.IDP.WebhookSecret)
	idpClient := idp.NewOryClient(cfg.IDP.AdminURL, cfg.IDP.APIKey, nil)
	gate := idp.NewGate(verifier, svc, st, idpClient, claims, logger)

	adminHandler := admin.NewHandler(auth, svc, st, mailer, cfg.ExternalOrigin, secure, logger)

	limiter := ratelimit.New(cacheInstance, &ratelimit.Config{
		RequestsPerWindow: cfg.RateLimit.RequestsPerWindow,
		Window:            time.Duration(cfg.RateLimit.WindowSeconds) * time.Second,
		KeyPrefix:         "ratelimit:",
	})

	srv, err := server.New(cfg, logger, &server.Deps{
		Signup:  signupHandler,
		Gate:    gate,
		Admin:   adminHandler,
		Limiter: limiter,
	})
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	go func() {
		if err := srv.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	logger.Info("server started, press Ctrl+C to stop")

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// driverOptions resolves the per-driver option map from the [cache.drivers]
// configuration table.
func driverOptions(drivers map[string]any, name string) map[string]any {
	if drivers == nil {
		return nil
	}
	if opts, ok := drivers[name].(map[string]any); ok {
		return opts
	}
	return nil
}
