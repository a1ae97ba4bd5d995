// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Environment variables that override file-provided secrets so they never
// have to live on disk.
const (
	EnvWebhookSecret = "INVITEGATE_WEBHOOK_SECRET"
	EnvClaimSecret   = "INVITEGATE_CLAIM_SECRET"
)

// Mode represents the server operating mode.
type Mode string

const (
	ModeStrict Mode = "strict"
	ModeDev    Mode = "dev"
)

// ParseMode parses a mode string, returning an error for invalid values.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strict", "":
		return ModeStrict, nil
	case "dev":
		return ModeDev, nil
	default:
		return "", fmt.Errorf("invalid mode %q: must be one of strict, dev", s)
	}
}

// LoaderOptions controls how configuration is loaded.
type LoaderOptions struct {
	// ConfigPath is the path to a TOML config file (optional).
	// If provided but file is missing or invalid, loading fails.
	ConfigPath string

	// ModeFlag is the --mode flag value (overrides config file mode).
	ModeFlag string

	// FlagOverrides are CLI flag values that override config file values.
	FlagOverrides FlagOverrides

	// Logger is used for warning messages (e.g., undecoded keys).
	// If nil, slog.Default() is used.
	Logger *slog.Logger
}

// FlagOverrides holds CLI flag values that override config file values.
type FlagOverrides struct {
	ListenAddr     *string
	ExternalOrigin *string
	StoreDriver    *string
	DataDir        *string
	CacheDriver    *string
	TLSMode        *string
	AdminUsername  *string
	AdminPassword  *string
}

// fileConfig mirrors Config but with pointer sections to detect presence.
type fileConfig struct {
	Mode string `toml:"mode"`

	ExternalOrigin string `toml:"external_origin"`
	ListenAddr     string `toml:"listen_addr"`

	Server    *serverConfig    `toml:"server"`
	TLS       *TLSConfig       `toml:"tls"`
	Store     *StoreConfig     `toml:"store"`
	Cache     *cacheConfig     `toml:"cache"`
	RateLimit *rateLimitConfig `toml:"ratelimit"`
	IDP       *idpConfig       `toml:"idp"`
	Claim     *claimConfig     `toml:"claim"`
	Mail      *mailConfig      `toml:"mail"`
}

type serverConfig struct {
	TrustedProxies []string        `toml:"trusted_proxies"`
	BootstrapAdmin *bootstrapAdmin `toml:"bootstrap_admin"`
}

type bootstrapAdmin struct {
	Username string `toml:"username"`
	Password string `toml:"password"`
}

type cacheConfig struct {
	Driver  string         `toml:"driver"`
	Drivers map[string]any `toml:"drivers"`
}

type rateLimitConfig struct {
	RequestsPerWindow int64 `toml:"requests_per_window"`
	WindowSeconds     int   `toml:"window_seconds"`
}

type idpConfig struct {
	AdminURL      string `toml:"admin_url"`
	APIKey        string `toml:"api_key"`
	SignupURL     string `toml:"signup_url"`
	WebhookSecret string `toml:"webhook_secret"`
}

type claimConfig struct {
	Secret string `toml:"secret"`
}

type mailConfig struct {
	Enabled   bool   `toml:"enabled"`
	Region    string `toml:"region"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	From      string `toml:"from"`
}

// Load loads configuration with the following precedence:
//  1. Determine effective mode: --mode flag > mode in config file > default (strict)
//  2. Start from mode preset defaults
//  3. Overlay TOML config file values
//  4. Overlay CLI flags
//  5. Overlay secret environment variables
//  6. Validate enum fields and required secrets
//
// If ConfigPath is provided but the file is missing, unreadable, or invalid
// TOML, Load returns an error (fail fast). Unknown TOML keys produce a
// warning but do not fail the load.
func Load(opts LoaderOptions) (*Config, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var fc fileConfig

	if opts.ConfigPath != "" {
		data, err := os.ReadFile(opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", opts.ConfigPath, err)
		}
		md, err := toml.Decode(string(data), &fc)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", opts.ConfigPath, err)
		}

		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			logger.Warn("config file contains undecoded keys", "path", opts.ConfigPath, "keys", keys)
		}
	}

	modeStr := "strict"
	if fc.Mode != "" {
		modeStr = fc.Mode
	}
	if opts.ModeFlag != "" {
		modeStr = opts.ModeFlag
	}

	mode, err := ParseMode(modeStr)
	if err != nil {
		return nil, err
	}

	cfg := presetForMode(mode)

	if opts.ConfigPath != "" {
		overlayFileConfig(cfg, &fc)
	}

	overlayFlags(cfg, opts.FlagOverrides)
	overlayEnv(cfg)

	if err := validate(cfg, mode); err != nil {
		return nil, err
	}

	return cfg, nil
}

func presetForMode(mode Mode) *Config {
	if mode == ModeDev {
		return DevConfig()
	}
	return StrictConfig()
}

// StrictConfig returns production-safe strict defaults.
func StrictConfig() *Config {
	return &Config{
		Mode:           string(ModeStrict),
		ExternalOrigin: "https://localhost:9400",
		ListenAddr:     ":9400",
		Server: ServerConfig{
			TrustedProxies: []string{"127.0.0.0/8", "::1/128"},
		},
		TLS: TLSConfig{
			Mode:          "selfsigned",
			HTTPPort:      9480,
			HTTPSPort:     9400,
			SelfSignedDir: ".invitegate/certs",
			ACME: ACMEConfig{
				Directory:  "https://acme-v02.api.letsencrypt.org/directory",
				StorageDir: ".invitegate/acme",
				UseStaging: false,
			},
		},
		Store: StoreConfig{
			Driver:  "sqlite",
			DataDir: ".invitegate/data",
		},
		Cache: CacheConfig{
			Driver: "memory",
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: 5,
			WindowSeconds:     60,
		},
	}
}

// DevConfig returns development mode defaults.
func DevConfig() *Config {
	cfg := StrictConfig()
	cfg.Mode = string(ModeDev)
	cfg.ExternalOrigin = "http://localhost:9400"
	cfg.TLS.Mode = "off"
	cfg.TLS.ACME.Directory = "https://acme-staging-v02.api.letsencrypt.org/directory"
	cfg.TLS.ACME.UseStaging = true
	cfg.Store.Driver = "memory"
	return cfg
}

// overlayFileConfig applies TOML file values onto cfg.
func overlayFileConfig(cfg *Config, fc *fileConfig) {
	if fc.ExternalOrigin != "" {
		cfg.ExternalOrigin = fc.ExternalOrigin
	}
	if fc.ListenAddr != "" {
		cfg.ListenAddr = fc.ListenAddr
	}

	if fc.Server != nil {
		if len(fc.Server.TrustedProxies) > 0 {
			cfg.Server.TrustedProxies = fc.Server.TrustedProxies
		}
		if fc.Server.BootstrapAdmin != nil {
			cfg.Server.BootstrapAdmin.Username = fc.Server.BootstrapAdmin.Username
			cfg.Server.BootstrapAdmin.Password = fc.Server.BootstrapAdmin.Password
		}
	}

	if fc.TLS != nil {
		if fc.TLS.Mode != "" {
			cfg.TLS.Mode = fc.TLS.Mode
		}
		if fc.TLS.CertFile != "" {
			cfg.TLS.CertFile = fc.TLS.CertFile
		}
		if fc.TLS.KeyFile != "" {
			cfg.TLS.KeyFile = fc.TLS.KeyFile
		}
		if fc.TLS.HTTPPort != 0 {
			cfg.TLS.HTTPPort = fc.TLS.HTTPPort
		}
		if fc.TLS.HTTPSPort != 0 {
			cfg.TLS.HTTPSPort = fc.TLS.HTTPSPort
		}
		if fc.TLS.SelfSignedDir != "" {
			cfg.TLS.SelfSignedDir = fc.TLS.SelfSignedDir
		}
		if fc.TLS.ACME.Email != "" {
			cfg.TLS.ACME.Email = fc.TLS.ACME.Email
		}
		if fc.TLS.ACME.Domain != "" {
			cfg.TLS.ACME.Domain = fc.TLS.ACME.Domain
		}
		if fc.TLS.ACME.Directory != "" {
			cfg.TLS.ACME.Directory = fc.TLS.ACME.Directory
		}
		if fc.TLS.ACME.StorageDir != "" {
			cfg.TLS.ACME.StorageDir = fc.TLS.ACME.StorageDir
		}
		// UseStaging is a bool, overlay it whenever the TLS section is present
		cfg.TLS.ACME.UseStaging = fc.TLS.ACME.UseStaging
	}

	if fc.Store != nil {
		if fc.Store.Driver != "" {
			cfg.Store.Driver = fc.Store.Driver
		}
		if fc.Store.DataDir != "" {
			cfg.Store.DataDir = fc.Store.DataDir
		}
	}

	if fc.Cache != nil {
		if fc.Cache.Driver != "" {
			cfg.Cache.Driver = fc.Cache.Driver
		}
		if len(fc.Cache.Drivers) > 0 {
			cfg.Cache.Drivers = fc.Cache.Drivers
		}
	}

	if fc.RateLimit != nil {
		if fc.RateLimit.RequestsPerWindow > 0 {
			cfg.RateLimit.RequestsPerWindow = fc.RateLimit.RequestsPerWindow
		}
		if fc.RateLimit.WindowSeconds > 0 {
			cfg.RateLimit.WindowSeconds = fc.RateLimit.WindowSeconds
		}
	}

	if fc.IDP != nil {
		if fc.IDP.AdminURL != "" {
			cfg.IDP.AdminURL = fc.IDP.AdminURL
		}
		if fc.IDP.APIKey != "" {
			cfg.IDP.APIKey = fc.IDP.APIKey
		}
		if fc.IDP.SignupURL != "" {
			cfg.IDP.SignupURL = fc.IDP.SignupURL
		}
		if fc.IDP.WebhookSecret != "" {
			cfg.IDP.WebhookSecret = fc.IDP.WebhookSecret
		}
	}

	if fc.Claim != nil && fc.Claim.Secret != "" {
		cfg.Claim.Secret = fc.Claim.Secret
	}

	if fc.Mail != nil {
		cfg.Mail.Enabled = fc.Mail.Enabled
		if fc.Mail.Region != "" {
			cfg.Mail.Region = fc.Mail.Region
		}
		if fc.Mail.AccessKey != "" {
			cfg.Mail.AccessKey = fc.Mail.AccessKey
		}
		if fc.Mail.SecretKey != "" {
			cfg.Mail.SecretKey = fc.Mail.SecretKey
		}
		if fc.Mail.From != "" {
			cfg.Mail.From = fc.Mail.From
		}
	}
}

// overlayFlags applies CLI flag values onto cfg.
func overlayFlags(cfg *Config, f FlagOverrides) {
	if f.ListenAddr != nil && *f.ListenAddr != "" {
		cfg.ListenAddr = *f.ListenAddr
	}
	if f.ExternalOrigin != nil && *f.ExternalOrigin != "" {
		cfg.ExternalOrigin = *f.ExternalOrigin
	}
	if f.StoreDriver != nil && *f.StoreDriver != "" {
		cfg.Store.Driver = *f.StoreDriver
	}
	if f.DataDir != nil && *f.DataDir != "" {
		cfg.Store.DataDir = *f.DataDir
	}
	if f.CacheDriver != nil && *f.CacheDriver != "" {
		cfg.Cache.Driver = *f.CacheDriver
	}
	if f.TLSMode != nil && *f.TLSMode != "" {
		cfg.TLS.Mode = *f.TLSMode
	}
	if f.AdminUsername != nil && *f.AdminUsername != "" {
		cfg.Server.BootstrapAdmin.Username = *f.AdminUsername
	}
	if f.AdminPassword != nil && *f.AdminPassword != "" {
		cfg.Server.BootstrapAdmin.Password = *f.AdminPassword
	}
}

// overlayEnv applies secret environment variables onto cfg.
func overlayEnv(cfg *Config) {
	if v := os.Getenv(EnvWebhookSecret); v != "" {
		cfg.IDP.WebhookSecret = v
	}
	if v := os.Getenv(EnvClaimSecret); v != "" {
		cfg.Claim.Secret = v
	}
}

// validate checks enum fields and required secrets.
func validate(cfg *Config, mode Mode) error {
	switch cfg.TLS.Mode {
	case "off", "static", "selfsigned", "acme":
	default:
		return fmt.Errorf("invalid tls.mode %q: must be one of off, static, selfsigned, acme", cfg.TLS.Mode)
	}

	switch cfg.Store.Driver {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("invalid store.driver %q: must be one of memory, sqlite", cfg.Store.Driver)
	}

	switch cfg.Cache.Driver {
	case "", "memory", "valkey":
	default:
		return fmt.Errorf("invalid cache.driver %q: must be one of memory, valkey", cfg.Cache.Driver)
	}

	// Secrets are mandatory outside dev: a missing webhook secret would turn
	// the authorization gate into an open door.
	if mode == ModeStrict {
		if cfg.IDP.WebhookSecret == "" {
			return fmt.Errorf("idp.webhook_secret is required in strict mode (or set %s)", EnvWebhookSecret)
		}
		if cfg.Claim.Secret == "" {
			return fmt.Errorf("claim.secret is required in strict mode (or set %s)", EnvClaimSecret)
		}
		if cfg.IDP.SignupURL == "" {
			return fmt.Errorf("idp.signup_url is required in strict mode")
		}
	}

	if cfg.Mail.Enabled {
		if cfg.Mail.Region == "" || cfg.Mail.From == "" {
			return fmt.Errorf("mail.region and mail.from are required when mail is enabled")
		}
	}

	if cfg.RateLimit.RequestsPerWindow <= 0 || cfg.RateLimit.WindowSeconds <= 0 {
		return fmt.Errorf("ratelimit.requests_per_window and ratelimit.window_seconds must be positive")
	}

	return nil
}
