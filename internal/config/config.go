// Package config provides configuration loading and validation.
package config

// Config holds the server configuration.
type Config struct {
	// Mode is the effective operating mode: strict or dev.
	Mode string `json:"mode"`

	// ExternalOrigin is the public origin (scheme + host + port) for this
	// instance, used to build the accept links in invitation emails.
	// Example: "https://accounts.example.com"
	ExternalOrigin string `json:"external_origin"`

	// ListenAddr is the address to listen on.
	// Example: ":9400"
	ListenAddr string `json:"listen_addr"`

	Server    ServerConfig    `json:"server"`
	TLS       TLSConfig       `json:"tls"`
	Store     StoreConfig     `json:"store"`
	Cache     CacheConfig     `json:"cache"`
	RateLimit RateLimitConfig `json:"ratelimit"`
	IDP       IDPConfig       `json:"idp"`
	Claim     ClaimConfig     `json:"claim"`
	Mail      MailConfig      `json:"mail"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// TrustedProxies are CIDRs whose X-Forwarded-For is believed.
	TrustedProxies []string `json:"trusted_proxies"`

	// BootstrapAdmin is the single admin credential for the management API.
	BootstrapAdmin BootstrapAdmin `json:"bootstrap_admin"`
}

// BootstrapAdmin holds the bootstrap admin credentials.
type BootstrapAdmin struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TLSConfig holds TLS-related settings.
type TLSConfig struct {
	// Mode is one of: off, static, selfsigned, acme
	Mode string `json:"mode"`

	// CertFile and KeyFile for static mode
	CertFile string `json:"cert_file"`
	KeyFile  string `json:"key_file"`

	// HTTPPort for HTTP listener (used for ACME challenges and redirects)
	HTTPPort int `json:"http_port"`

	// HTTPSPort for HTTPS listener
	HTTPSPort int `json:"https_port"`

	// SelfSignedDir is where generated certificates are stored
	SelfSignedDir string `json:"self_signed_dir"`

	ACME ACMEConfig `json:"acme"`
}

// ACMEConfig holds ACME (Let's Encrypt) settings.
type ACMEConfig struct {
	Email      string `json:"email"`
	Domain     string `json:"domain"`
	Directory  string `json:"directory"`
	StorageDir string `json:"storage_dir"`
	UseStaging bool   `json:"use_staging"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	// Driver is one of: memory, sqlite
	Driver string `json:"driver" toml:"driver"`

	// DataDir is the directory for data files (sqlite db)
	DataDir string `json:"data_dir" toml:"data_dir"`
}

// CacheConfig holds cache settings.
type CacheConfig struct {
	// Driver is one of: memory, valkey
	Driver string `json:"driver"`

	// Drivers holds per-driver options keyed by driver name.
	Drivers map[string]any `json:"drivers"`
}

// RateLimitConfig holds the verification-endpoint rate limit policy.
type RateLimitConfig struct {
	RequestsPerWindow int64 `json:"requests_per_window"`
	WindowSeconds     int   `json:"window_seconds"`
}

// IDPConfig holds identity provider settings: the admin API used for
// compensating deletes and the webhook shared secret.
type IDPConfig struct {
	// AdminURL is the base URL of the provider's admin API.
	AdminURL string `json:"admin_url"`

	// APIKey authenticates admin API calls (optional for providers that
	// authenticate by network position).
	APIKey string `json:"api_key"`

	// SignupURL is the provider-hosted signup page the accept handoff
	// redirects to.
	SignupURL string `json:"signup_url"`

	// WebhookSecret is the svix-style shared secret ("whsec_..." or raw
	// base64). Overridden by INVITEGATE_WEBHOOK_SECRET.
	WebhookSecret string `json:"webhook_secret"`
}

// ClaimConfig holds the claim cookie signing settings.
type ClaimConfig struct {
	// Secret signs the claim cookie JWT. Overridden by
	// INVITEGATE_CLAIM_SECRET.
	Secret string `json:"secret"`
}

// MailConfig holds invitation email delivery settings. When Enabled is false
// the noop mailer is used.
type MailConfig struct {
	Enabled   bool   `json:"enabled"`
	Region    string `json:"region"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	From      string `json:"from"`
}
