// Package valkey provides a Valkey/Redis cache driver. It exists so the
// rate-limit counters can be shared across processes; a single-process
// deployment can stay on the memory driver.
package valkey

import (
	"context"
	"fmt"
	"net"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/openledger/invitegate/internal/cache"
	"github.com/openledger/invitegate/internal/cfg"
)

func init() {
	cache.RegisterDriver("valkey", func(config map[string]any) (cache.CacheWithCounter, error) {
		c := &Config{}
		if err := cfg.Decode(config, c); err != nil {
			return nil, fmt.Errorf("invalid valkey config: %w", err)
		}
		return New(c)
	})
}

// Config holds Valkey connection configuration.
type Config struct {
	Addr          string `mapstructure:"addr"`     // host:port
	Password      string `mapstructure:"password"` // optional
	DB            int    `mapstructure:"db"`       // database number
	DialTimeoutMS int    `mapstructure:"dial_timeout_ms"`
}

// ApplyDefaults fills unset fields with local-Valkey defaults.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if c.DialTimeoutMS <= 0 {
		c.DialTimeoutMS = 5000
	}
}

func (c *Config) dialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutMS) * time.Millisecond
}

// DefaultConfig returns sensible defaults for a local Valkey.
func DefaultConfig() *Config {
	c := &Config{}
	c.ApplyDefaults()
	return c
}

// Cache is a Valkey-backed cache with atomic counters.
type Cache struct {
	client valkeygo.Client
}

// New connects to Valkey and verifies the connection with a PING.
// It fails fast when the server is unreachable.
func New(c *Config) (*Cache, error) {
	if c == nil {
		c = DefaultConfig()
	}
	c.ApplyDefaults()

	client, err := valkeygo.NewClient(valkeygo.ClientOption{
		InitAddress: []string{c.Addr},
		Password:    c.Password,
		SelectDB:    c.DB,
		Dialer:      net.Dialer{Timeout: c.dialTimeout()},
		// Counters are write-heavy; server-assisted client-side caching
		// buys nothing here and is not universally supported.
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.dialTimeout())
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("valkey health check failed: %w", err)
	}

	return &Cache{client: client}, nil
}

// Get retrieves a value by key.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.client.Do(ctx, c.client.B().Get().Key(key).Build()).AsBytes()
	if err != nil {
		if valkeygo.IsValkeyNil(err) {
			return nil, cache.ErrNotFound
		}
		return nil, err
	}
	return b, nil
}

// Set stores a value with the given TTL.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = cache.TTLDefault
	}
	return c.client.Do(ctx,
		c.client.B().Set().Key(key).Value(valkeygo.BinaryString(value)).Ex(ttl).Build(),
	).Error()
}

// Delete removes a key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.client.Do(ctx, c.client.B().Del().Key(key).Build()).Error()
}

// Exists checks if a key exists.
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Do(ctx, c.client.B().Exists().Key(key).Build()).AsInt64()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Increment adds delta to a counter and returns the new value and reset time.
// The TTL is set only when the increment creates the key, so an existing
// window is never extended.
func (c *Cache) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, time.Time, error) {
	if ttl == 0 {
		ttl = cache.TTLDefault
	}

	count, err := c.client.Do(ctx, c.client.B().Incrby().Key(key).Increment(delta).Build()).AsInt64()
	if err != nil {
		return 0, time.Time{}, err
	}

	if count == delta {
		// First increment in this window
		if err := c.client.Do(ctx,
			c.client.B().Expire().Key(key).Seconds(int64(ttl.Seconds())).Build(),
		).Error(); err != nil {
			return 0, time.Time{}, err
		}
		return count, time.Now().Add(ttl), nil
	}

	ms, err := c.client.Do(ctx, c.client.B().Pttl().Key(key).Build()).AsInt64()
	if err != nil || ms < 0 {
		// Missing TTL (key created without expiry); fall back to full window.
		return count, time.Now().Add(ttl), nil
	}
	return count, time.Now().Add(time.Duration(ms) * time.Millisecond), nil
}

// GetCount returns the current counter value.
func (c *Cache) GetCount(ctx context.Context, key string) (int64, error) {
	n, err := c.client.Do(ctx, c.client.B().Get().Key(key).Build()).AsInt64()
	if err != nil {
		if valkeygo.IsValkeyNil(err) {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

// Reset clears a counter.
func (c *Cache) Reset(ctx context.Context, key string) error {
	return c.Delete(ctx, key)
}

// Close releases the client.
func (c *Cache) Close() error {
	c.client.Close()
	return nil
}

// Ensure Cache implements CacheWithCounter.
var _ cache.CacheWithCounter = (*Cache)(nil)
