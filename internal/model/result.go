package model

// ParcelRecord is the land-parcel attribute set attached to a resolved
// location. Fields the jurisdiction's dataset does not carry stay nil.
type ParcelRecord struct {
	ID            string   `json:"id"`
	OwnerName     *string  `json:"owner_name"`
	Acreage       *float64 `json:"acreage"`
	SitusAddress  *string  `json:"situs_address"`
	AssessedValue *float64 `json:"assessed_value"`
	GeometryRef   *string  `json:"geometry_ref"`
}

// Result is the engine's normalized output for one candidate location.
// Confidence is always within [0,1]; adapters map vendor-specific ranges
// before a Result leaves the provider layer.
type Result struct {
	Kind         QueryKind     `json:"kind"`
	Confidence   float64       `json:"confidence"`
	Latitude     float64       `json:"latitude"`
	Longitude    float64       `json:"longitude"`
	Label        string        `json:"label"`
	Jurisdiction string        `json:"jurisdiction,omitempty"`
	Parcel       *ParcelRecord `json:"parcel,omitempty"`
}

// EnrichmentStatus records what happened to the best-effort parcel
// enrichment step, so callers and tests can distinguish the three
// outcomes without reading logs.
type EnrichmentStatus string

// Enrichment outcomes.
const (
	EnrichmentSucceeded    EnrichmentStatus = "succeeded"
	EnrichmentSkipped      EnrichmentStatus = "skipped"
	EnrichmentNotAttempted EnrichmentStatus = "not_attempted"
)

// Response is the wire shape returned for every resolution attempt,
// including denials and empty outcomes.
type Response struct {
	Results      []Result         `json:"results"`
	KindUsed     QueryKind        `json:"kind_used"`
	Provider     string           `json:"provider"`
	CacheHit     bool             `json:"cache_hit"`
	CostEstimate float64          `json:"cost_estimate"`
	TraceID      string           `json:"trace_id"`
	Enrichment   EnrichmentStatus `json:"enrichment,omitempty"`
	Error        string           `json:"error,omitempty"`
	RetryAfter   int              `json:"retry_after,omitempty"`
}
