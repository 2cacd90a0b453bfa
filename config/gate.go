package config

import "time"

const (
	minReadyTimeout    = 100 * time.Millisecond
	minClientCacheSize = 16
)

// GateConfig controls the navigation gate and its per-session caches.
type GateConfig struct {
	// ReadyTimeout bounds how long a navigation waits for the first identity resolution.
	ReadyTimeout time.Duration `env:"READY_TIMEOUT" envDefault:"5s"`

	// FetchTimeout bounds a single record-store lookup made by the identity listener.
	FetchTimeout time.Duration `env:"FETCH_TIMEOUT" envDefault:"3s"`

	// CacheTTL is the lifetime of a cached authorization record in Redis.
	// Zero disables expiry; the entry then lives until sign-out.
	CacheTTL time.Duration `env:"CACHE_TTL" envDefault:"15m"`

	// ClientCacheSize is the maximum number of live navigation clients kept in memory.
	ClientCacheSize int `env:"CLIENT_CACHE_SIZE" envDefault:"10000"`

	// ClientIdleTTL evicts navigation clients that have not been used for this long.
	ClientIdleTTL time.Duration `env:"CLIENT_IDLE_TTL" envDefault:"30m"`

	// RoutesFile optionally overrides the embedded route table with a YAML file.
	RoutesFile string `env:"ROUTES_FILE"`
}

// Sanitize applies guardrails to gate configuration values.
func (g *GateConfig) Sanitize() {
	if g.ReadyTimeout < minReadyTimeout {
		g.ReadyTimeout = minReadyTimeout
	}
	if g.FetchTimeout <= 0 {
		g.FetchTimeout = 3 * time.Second
	}
	if g.CacheTTL < 0 {
		g.CacheTTL = 0
	}
	if g.ClientCacheSize < minClientCacheSize {
		g.ClientCacheSize = minClientCacheSize
	}
	if g.ClientIdleTTL <= 0 {
		g.ClientIdleTTL = 30 * time.Minute
	}
}
