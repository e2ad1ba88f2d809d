package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/buildsmarter/siteintel-resolve/internal/model"
)

const nominatimSearchURL = "https://nominatim.openstreetmap.org/search"

// Nominatim is the free OSM geocoder. It sits first in the default address
// chain because it costs nothing, at the price of lower positional quality
// and a hard 1 req/s usage policy.
type Nominatim struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	userAgent  string
	baseURL    string
	region     *Region
}

// NominatimOption configures the adapter.
type NominatimOption func(*Nominatim)

// WithNominatimBaseURL overrides the API endpoint, for self-hosted
// instances and tests.
func WithNominatimBaseURL(u string) NominatimOption {
	return func(n *Nominatim) { n.baseURL = u }
}

// WithNominatimHTTPClient overrides the HTTP client.
func WithNominatimHTTPClient(c *http.Client) NominatimOption {
	return func(n *Nominatim) { n.httpClient = c }
}

// WithNominatimRegion bounds results to an operating area.
func WithNominatimRegion(r *Region) NominatimOption {
	return func(n *Nominatim) { n.region = r }
}

// NewNominatim creates the adapter. userAgent is mandatory per the OSM
// usage policy; requests without one get blocked.
func NewNominatim(userAgent string, opts ...NominatimOption) *Nominatim {
	n := &Nominatim{
		httpClient: http.DefaultClient,
		limiter:    rate.NewLimiter(rate.Limit(1), 1),
		userAgent:  userAgent,
		baseURL:    nominatimSearchURL,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Name implements Adapter.
func (n *Nominatim) Name() string { return "nominatim" }

// Paid implements Adapter.
func (n *Nominatim) Paid() bool { return false }

// CostPerCall implements Adapter.
func (n *Nominatim) CostPerCall() float64 { return 0 }

// Supports implements Adapter.
func (n *Nominatim) Supports(kind model.QueryKind) bool {
	return kind == model.KindAddress || kind == model.KindIntersection
}

type nominatimResult struct {
	Lat         string  `json:"lat"`
	Lon         string  `json:"lon"`
	DisplayName string  `json:"display_name"`
	Importance  float64 `json:"importance"`
	Type        string  `json:"type"`
	Address     struct {
		County string `json:"county"`
	} `json:"address"`
}

// Fetch implements Adapter.
func (n *Nominatim) Fetch(ctx context.Context, query string, req Request) ([]model.Result, error) {
	if err := n.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "nominatim: rate limit")
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 1
	}
	params := url.Values{
		"q":              {query},
		"format":         {"json"},
		"addressdetails": {"1"},
		"limit":          {strconv.Itoa(limit)},
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "nominatim: build request")
	}
	httpReq.Header.Set("User-Agent", n.userAgent)

	resp, err := n.httpClient.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(ErrUnavailable, err.Error())
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, eris.Wrap(ErrQuota, "nominatim: usage policy limit")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Wrapf(ErrUnavailable, "nominatim: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(ErrUnavailable, "nominatim: read body")
	}

	var raw []nominatimResult
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, eris.Wrap(err, "nominatim: parse response")
	}

	results := make([]model.Result, 0, len(raw))
	for _, r := range raw {
		lat, latErr := strconv.ParseFloat(r.Lat, 64)
		lng, lonErr := strconv.ParseFloat(r.Lon, 64)
		if latErr != nil || lonErr != nil {
			continue
		}
		results = append(results, model.Result{
			Kind:         req.Kind,
			Confidence:   nominatimConfidence(r.Importance, r.Type),
			Latitude:     lat,
			Longitude:    lng,
			Label:        r.DisplayName,
			Jurisdiction: r.Address.County,
		})
	}
	return FilterRegion(results, n.region), nil
}

// nominatimConfidence maps OSM importance onto the unified scale. Importance
// measures prominence, not positional precision, so the output is compressed
// into [0.5, 0.9]: precise-looking result types get a boost, and nothing
// from this source can outrank a rooftop-quality paid result.
func nominatimConfidence(importance float64, osmType string) float64 {
	c := 0.5 + importance*0.4
	switch osmType {
	case "house", "building":
		c += 0.15
	case "residential", "road":
		c += 0.05
	}
	if c > 0.9 {
		c = 0.9
	}
	return clampConfidence(c)
}
