package kv

import "time"

// Config controls the connection manager and facade.
type Config struct {
	// URL is the remote store URL (redis:// or rediss://).
	URL string
	// Password overrides the password from URL when non-empty.
	Password string
	// DB overrides the database number from URL when >= 0.
	DB int
	// PoolSize overrides the client connection pool size when > 0.
	PoolSize int

	// InMemory forces the in-process engine and disables the remote store
	// entirely. Used by tests and single-node deployments.
	InMemory bool

	// KeyPrefix is prepended to every key by the Store facade.
	KeyPrefix string

	// ConnectTimeout bounds one connection attempt end to end.
	ConnectTimeout time.Duration
	// PingTimeout bounds the liveness ping inside a connection attempt and
	// each keepalive probe. It is the shorter of the two attempt timeouts.
	PingTimeout time.Duration
	// KeepaliveInterval is how often an established connection is probed.
	KeepaliveInterval time.Duration

	// MaxReconnectAttempts is the number of attempts in one reconnect cycle
	// before the manager falls back to the engine.
	MaxReconnectAttempts int
	// ReconnectBase is the delay before the first reconnect attempt;
	// subsequent delays grow by a factor of 1.5.
	ReconnectBase time.Duration
	// ReconnectCap is the upper bound on any single reconnect delay.
	ReconnectCap time.Duration
	// MinReconnectInterval is the throttle guard: a new reconnect cycle
	// started less than this long after the previous one is rejected.
	MinReconnectInterval time.Duration
}

// DefaultConfig returns production defaults. The remote store URL still has
// to be set by the caller.
func DefaultConfig() Config {
	return Config{
		URL:                  "redis://localhost:6379/0",
		DB:                   -1,
		KeyPrefix:            "curator:",
		ConnectTimeout:       5 * time.Second,
		PingTimeout:          2 * time.Second,
		KeepaliveInterval:    15 * time.Second,
		MaxReconnectAttempts: 10,
		ReconnectBase:        200 * time.Millisecond,
		ReconnectCap:         10 * time.Second,
		MinReconnectInterval: 30 * time.Second,
	}
}
