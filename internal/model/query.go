// Package model defines the core types exchanged between the resolution
// engine's components: queries, results, parcel records, and the wire
// request/response shapes.
package model

// QueryKind is the classification bucket driving which provider chain runs.
type QueryKind string

// Query kinds.
const (
	KindAddress      QueryKind = "address"
	KindParcelID     QueryKind = "parcel_id"
	KindIntersection QueryKind = "intersection"
	KindPoint        QueryKind = "point"
)

// Valid reports whether k is one of the known query kinds.
func (k QueryKind) Valid() bool {
	switch k {
	case KindAddress, KindParcelID, KindIntersection, KindPoint:
		return true
	}
	return false
}

// Query is the immutable input to a single resolution.
type Query struct {
	// Raw is the user-supplied text. For point queries it holds "lat,lng".
	Raw string

	// Kind, when set by the caller, overrides classification.
	Kind QueryKind

	// Identity is the authenticated account id, or empty for anonymous
	// callers (the transport falls back to the client network address).
	Identity string

	// PreferredProvider moves the named adapter to the front of its chain.
	// It never bypasses the cost governor.
	PreferredProvider string

	// Limit caps the number of candidates returned. Zero means the
	// configured default.
	Limit int

	// Bounds, when set, drops candidates outside the box. It narrows the
	// configured operating region; it never widens it.
	Bounds *BBox

	// SessionToken groups provider-side billing, passed through verbatim.
	SessionToken string
}

// BBox is a lng/lat bounding box: min longitude, min latitude, max
// longitude, max latitude.
type BBox struct {
	MinLng float64 `json:"min_lng"`
	MinLat float64 `json:"min_lat"`
	MaxLng float64 `json:"max_lng"`
	MaxLat float64 `json:"max_lat"`
}
