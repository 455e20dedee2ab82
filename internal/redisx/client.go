// Package redisx opens the shared Redis client used by the stream queue and
// the event bus.
package redisx

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oremus-labs/agent-dispatch/config"
)

const (
	defaultPingTimeout = 5 * time.Second
	// A Lambda instance serves one invocation at a time.
	lambdaPoolSize = 2
)

// Config configures the Redis client.
type Config struct {
	Addr        string
	Username    string
	Password    string
	DB          int
	TLSEnabled  bool
	TLSInsecure bool
	// PoolSize of 0 keeps the go-redis default.
	PoolSize    int
	PingTimeout time.Duration
}

// ConfigFrom extracts the Redis settings from the application config.
func ConfigFrom(cfg *config.Config) Config {
	c := Config{
		Addr:        cfg.RedisAddr,
		Username:    cfg.RedisUsername,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		TLSEnabled:  cfg.RedisTLSEnabled,
		TLSInsecure: cfg.RedisTLSInsecure,
	}
	if cfg.IsLambda() {
		c.PoolSize = lambdaPoolSize
	}
	return c
}

func (c Config) options() *redis.Options {
	opts := &redis.Options{
		Addr:     c.Addr,
		Username: c.Username,
		Password: c.Password,
		DB:       c.DB,
		PoolSize: c.PoolSize,
	}
	if c.TLSEnabled {
		host, _, err := net.SplitHostPort(c.Addr)
		if err != nil {
			host = c.Addr
		}
		opts.TLSConfig = &tls.Config{
			MinVersion:         tls.VersionTLS12,
			ServerName:         host,
			InsecureSkipVerify: c.TLSInsecure, // #nosec G402 -- opt-in via REDIS_TLS_INSECURE_SKIP_VERIFY
		}
	}
	return opts
}

// NewClient returns a connected Redis client, or nil when no address is
// configured so callers can fall back to in-process components.
func NewClient(ctx context.Context, cfg Config) (redis.UniversalClient, error) {
	if cfg.Addr == "" {
		return nil, nil
	}

	client := redis.NewClient(cfg.options())
	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}
