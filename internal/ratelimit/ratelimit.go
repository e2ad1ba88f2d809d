// Package ratelimit enforces a per-identity sliding window over the request
// log. The log rows themselves are the counter: no token buckets to persist,
// and a restart loses nothing.
package ratelimit

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Counter answers how many requests an identity has made since cutoff.
// *apilog.Logger satisfies it.
type Counter interface {
	CountIdentitySince(ctx context.Context, identity string, cutoff time.Time) (int, error)
}

// Config holds the window size and the per-identity-class limits.
type Config struct {
	Window    time.Duration `yaml:"window" mapstructure:"window"`
	AuthLimit int           `yaml:"auth_limit" mapstructure:"auth_limit"`
	AnonLimit int           `yaml:"anon_limit" mapstructure:"anon_limit"`
}

// Defaults applied when a field is zero.
const (
	DefaultWindow    = time.Minute
	DefaultAuthLimit = 60
	DefaultAnonLimit = 10
)

// AnonPrefix marks identities derived from a caller address rather than a
// credential. Anonymous callers get the tighter limit.
const AnonPrefix = "anon:"

// Decision is the outcome of a limit check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter checks identities against the sliding window.
type Limiter struct {
	counter Counter
	cfg     Config
}

func New(counter Counter, cfg Config) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.AuthLimit <= 0 {
		cfg.AuthLimit = DefaultAuthLimit
	}
	if cfg.AnonLimit <= 0 {
		cfg.AnonLimit = DefaultAnonLimit
	}
	return &Limiter{counter: counter, cfg: cfg}
}

// Check counts the identity's requests inside the window and compares
// against its limit. Counter errors fail open: an unavailable log must not
// take resolution down with it.
func (l *Limiter) Check(ctx context.Context, identity string) Decision {
	limit := l.cfg.AuthLimit
	if strings.HasPrefix(identity, AnonPrefix) {
		limit = l.cfg.AnonLimit
	}

	cutoff := time.Now().UTC().Add(-l.cfg.Window)
	n, err := l.counter.CountIdentitySince(ctx, identity, cutoff)
	if err != nil {
		zap.L().Warn("rate counter unavailable, allowing request",
			zap.String("identity", identity),
			zap.Error(err))
		return Decision{Allowed: true, Remaining: limit}
	}

	if n >= limit {
		return Decision{Allowed: false, RetryAfter: l.cfg.Window}
	}
	return Decision{Allowed: true, Remaining: limit - n}
}
