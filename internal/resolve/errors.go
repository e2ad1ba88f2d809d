// Package resolve implements the resolution orchestrator: classify, gate,
// walk the provider chain, cache, enrich, log.
package resolve

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
)

// The closed error taxonomy the engine exposes. Provider-level failures are
// recovered by chain fallback and never reach the caller directly; only the
// classes below cross the package boundary.
var (
	// ErrInvalidInput means the query was rejected before any provider ran.
	ErrInvalidInput = eris.New("resolve: invalid input")

	// ErrInternal marks an infrastructure fault (cache store unreachable).
	// The only class that maps to a 5xx-equivalent.
	ErrInternal = eris.New("resolve: internal fault")
)

// RateLimitedError carries the retry hint for a denied identity.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("resolve: rate limited, retry after %s", e.RetryAfter)
}
