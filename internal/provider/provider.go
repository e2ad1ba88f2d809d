// Package provider holds the upstream location adapters. Each adapter wraps
// one external API behind a common interface so the resolution chain can
// treat them uniformly: call, normalize, score.
package provider

import (
	"context"
	"math"

	"github.com/rotisserie/eris"
	geom "github.com/twpayne/go-geom"

	"github.com/buildsmarter/siteintel-resolve/internal/model"
)

// Sentinel errors adapters return so the chain can distinguish transient
// upstream trouble from quota exhaustion. Anything else wrapping these is
// still matched with errors.Is.
var (
	// ErrNotConfigured means the adapter is missing a credential and should
	// be skipped, not retried.
	ErrNotConfigured = eris.New("provider: not configured")

	// ErrQuota means the upstream rejected the call for quota or billing
	// reasons. The chain moves on; the operator gets a metric.
	ErrQuota = eris.New("provider: quota exceeded")

	// ErrUnavailable means the upstream failed transiently (network error,
	// 5xx, timeout).
	ErrUnavailable = eris.New("provider: unavailable")
)

// Request carries the per-call inputs an adapter needs beyond the query
// text itself.
type Request struct {
	Kind         model.QueryKind
	Limit        int
	County       string // set for parcel lookups when the identifier format names one
	SessionToken string // provider-side billing grouping, passed through verbatim
}

// Adapter is a single upstream backend.
type Adapter interface {
	Name() string

	// Paid reports whether calls cost money. The cost governor only gates
	// paid adapters.
	Paid() bool

	// CostPerCall is the flat estimated dollar cost of one call.
	CostPerCall() float64

	// Supports reports whether the adapter can serve the given query kind.
	Supports(kind model.QueryKind) bool

	// Fetch resolves the sanitized query. An empty slice with a nil error
	// means the upstream answered and found nothing; that outcome is
	// cacheable, an error is not.
	Fetch(ctx context.Context, query string, req Request) ([]model.Result, error)
}

// Registry maps adapter names to adapters, preserving nothing about order;
// ordering lives in the chain configuration.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

// Get returns the named adapter, or nil when unknown.
func (r *Registry) Get(name string) Adapter {
	return r.adapters[name]
}

// Names returns the registered adapter names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}

// clampConfidence bounds a score to [0, 1] and zeroes NaN so a malformed
// upstream field can never leak an unbounded confidence.
func clampConfidence(c float64) float64 {
	if math.IsNaN(c) {
		return 0
	}
	return math.Max(0, math.Min(1, c))
}

// Region bounds results to an operating area. Providers biased toward the
// region still return far-flung matches for ambiguous queries; those are
// noise for a regional product.
type Region struct {
	bounds *geom.Bounds
}

// NewRegion builds a region from a lon/lat bounding box. A nil receiver
// accepts everything.
func NewRegion(minLng, minLat, maxLng, maxLat float64) *Region {
	b := geom.NewBounds(geom.XY)
	b.Set(minLng, minLat, maxLng, maxLat)
	return &Region{bounds: b}
}

// Contains reports whether the coordinate falls inside the region.
func (r *Region) Contains(lat, lng float64) bool {
	if r == nil || r.bounds == nil {
		return true
	}
	return r.bounds.OverlapsPoint(geom.XY, geom.Coord{lng, lat})
}

// FilterRegion drops results outside the region, preserving order.
func FilterRegion(results []model.Result, region *Region) []model.Result {
	if region == nil {
		return results
	}
	kept := results[:0]
	for _, res := range results {
		if region.Contains(res.Latitude, res.Longitude) {
			kept = append(kept, res)
		}
	}
	return kept
}
