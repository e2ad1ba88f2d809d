package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/buildsmarter/siteintel-resolve/internal/model"
)

const mapboxGeocodeURL = "https://api.mapbox.com/geocoding/v5/mapbox.places"

// MapboxCostPerCall is the flat per-request estimate at the temporary
// geocoding tier.
const MapboxCostPerCall = 0.0007

// Mapbox wraps the Mapbox Geocoding API: the mid-tier choice, an order of
// magnitude cheaper than Google with near-parity on urban addresses.
type Mapbox struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	token      string
	baseURL    string
	region     *Region

	// proximity biases ranking toward a point, typically the metro center.
	proximityLng float64
	proximityLat float64
	hasProximity bool

	// bbox constrains results server-side.
	bbox    [4]float64
	hasBBox bool
}

// MapboxOption configures the adapter.
type MapboxOption func(*Mapbox)

// WithMapboxBaseURL overrides the API endpoint, for tests.
func WithMapboxBaseURL(u string) MapboxOption {
	return func(m *Mapbox) { m.baseURL = u }
}

// WithMapboxHTTPClient overrides the HTTP client.
func WithMapboxHTTPClient(c *http.Client) MapboxOption {
	return func(m *Mapbox) { m.httpClient = c }
}

// WithMapboxRegion bounds results to an operating area.
func WithMapboxRegion(r *Region) MapboxOption {
	return func(m *Mapbox) { m.region = r }
}

// WithMapboxProximity biases result ranking toward the given point.
func WithMapboxProximity(lng, lat float64) MapboxOption {
	return func(m *Mapbox) {
		m.proximityLng, m.proximityLat = lng, lat
		m.hasProximity = true
	}
}

// WithMapboxBBox constrains results to minLng,minLat,maxLng,maxLat.
func WithMapboxBBox(minLng, minLat, maxLng, maxLat float64) MapboxOption {
	return func(m *Mapbox) {
		m.bbox = [4]float64{minLng, minLat, maxLng, maxLat}
		m.hasBBox = true
	}
}

// NewMapbox creates the adapter. An empty token leaves it registered but
// unavailable; the chain skips it.
func NewMapbox(token string, opts ...MapboxOption) *Mapbox {
	m := &Mapbox{
		httpClient: http.DefaultClient,
		limiter:    rate.NewLimiter(rate.Limit(10), 5),
		token:      token,
		baseURL:    mapboxGeocodeURL,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name implements Adapter.
func (m *Mapbox) Name() string { return "mapbox" }

// Paid implements Adapter.
func (m *Mapbox) Paid() bool { return true }

// CostPerCall implements Adapter.
func (m *Mapbox) CostPerCall() float64 { return MapboxCostPerCall }

// Supports implements Adapter.
func (m *Mapbox) Supports(kind model.QueryKind) bool {
	return kind == model.KindAddress || kind == model.KindIntersection
}

type mapboxResponse struct {
	Features []mapboxFeature `json:"features"`
}

type mapboxFeature struct {
	PlaceName string    `json:"place_name"`
	Relevance float64   `json:"relevance"`
	Center    []float64 `json:"center"`
	PlaceType []string  `json:"place_type"`
	Context   []struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"context"`
}

// Fetch implements Adapter.
func (m *Mapbox) Fetch(ctx context.Context, query string, req Request) ([]model.Result, error) {
	if m.token == "" {
		return nil, eris.Wrap(ErrNotConfigured, "mapbox: access token missing")
	}

	if err := m.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "mapbox: rate limit")
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 1
	}
	params := url.Values{
		"access_token": {m.token},
		"limit":        {fmt.Sprintf("%d", limit)},
		"types":        {"address,poi,place"},
	}
	if m.hasProximity {
		params.Set("proximity", fmt.Sprintf("%f,%f", m.proximityLng, m.proximityLat))
	}
	if m.hasBBox {
		params.Set("bbox", fmt.Sprintf("%f,%f,%f,%f", m.bbox[0], m.bbox[1], m.bbox[2], m.bbox[3]))
	}
	if req.SessionToken != "" {
		params.Set("session_token", req.SessionToken)
	}

	reqURL := fmt.Sprintf("%s/%s.json?%s", m.baseURL, url.PathEscape(query), params.Encode())
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "mapbox: build request")
	}

	resp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(ErrUnavailable, err.Error())
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, eris.Wrap(ErrQuota, "mapbox: rate limited")
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, eris.Wrap(ErrNotConfigured, "mapbox: unauthorized")
	case resp.StatusCode != http.StatusOK:
		return nil, eris.Wrapf(ErrUnavailable, "mapbox: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(ErrUnavailable, "mapbox: read body")
	}

	var mr mapboxResponse
	if err := json.Unmarshal(body, &mr); err != nil {
		return nil, eris.Wrap(err, "mapbox: parse response")
	}

	results := make([]model.Result, 0, len(mr.Features))
	for _, f := range mr.Features {
		if len(f.Center) < 2 {
			continue
		}
		results = append(results, model.Result{
			Kind:         req.Kind,
			Confidence:   mapboxConfidence(f.Relevance, f.PlaceType),
			Latitude:     f.Center[1],
			Longitude:    f.Center[0],
			Label:        f.PlaceName,
			Jurisdiction: mapboxCounty(f),
		})
	}
	return FilterRegion(results, m.region), nil
}

// mapboxConfidence maps relevance to the unified scale. Relevance measures
// text-match quality rather than positional precision, so it is discounted
// and a type boost rewards street-addressable results. Capped at 0.95: a
// text-match score never beats a verified rooftop fix.
func mapboxConfidence(relevance float64, placeTypes []string) float64 {
	c := relevance * 0.85
	for _, pt := range placeTypes {
		switch pt {
		case "address":
			c += 0.1
		case "poi":
			c += 0.05
		}
	}
	if c > 0.95 {
		c = 0.95
	}
	return clampConfidence(c)
}

// mapboxCounty pulls the district (county) entry from the feature context.
func mapboxCounty(f mapboxFeature) string {
	for _, c := range f.Context {
		if len(c.ID) >= 8 && c.ID[:8] == "district" {
			return c.Text
		}
	}
	return ""
}
