// Package cache stores prior provider responses keyed by a deterministic
// hash of provider, endpoint, and normalized input. TTL policy belongs to
// the caller: the same store backs providers with hour-scale and week-scale
// volatility.
package cache

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Entry is one cached provider response. Entries are read-only after
// creation except for the hit counter and expiry extension.
type Entry struct {
	Key       string    `json:"key"`
	Provider  string    `json:"provider"`
	Endpoint  string    `json:"endpoint"`
	Payload   []byte    `json:"payload"`
	ExpiresAt time.Time `json:"expires_at"`
	HitCount  int64     `json:"hit_count"`
	CreatedAt time.Time `json:"created_at"`
}

// Stats is an aggregate view of the store for the stats surface.
type Stats struct {
	Entries   int64 `json:"entries"`
	TotalHits int64 `json:"total_hits"`
}

// Store is the cache contract. Get must treat an expired entry identically
// to a miss and return (nil, nil). Put is an idempotent upsert: two
// concurrent resolutions writing the same key is harmless last-write-wins.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Put(ctx context.Context, e Entry, ttl time.Duration) error
	BumpHit(ctx context.Context, key string) error
	ExtendTTL(ctx context.Context, key string, ttl time.Duration) error
	Stats(ctx context.Context) (*Stats, error)
	Close() error
}

// Key builds the namespaced cache key. Provider and endpoint are part of
// the key so a lookup can never be served by another provider's data.
func Key(provider, endpoint, normalized string) string {
	h := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(normalized))))
	return fmt.Sprintf("%s:%s:%x", provider, endpoint, h)
}

// Config selects and configures a cache driver.
type Config struct {
	Driver     string `yaml:"driver" mapstructure:"driver"` // postgres, sqlite, redis
	SQLitePath string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	RedisAddr  string `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisDB    int    `yaml:"redis_db" mapstructure:"redis_db"`
}

// ErrUnknownDriver is returned by Open for an unrecognized driver name.
var ErrUnknownDriver = eris.New("cache: unknown driver")
