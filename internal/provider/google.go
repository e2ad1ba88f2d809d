package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/buildsmarter/siteintel-resolve/internal/model"
)

const googleGeocodeURL = "https://maps.googleapis.com/maps/api/geocode/json"

// GoogleCostPerCall is the flat per-request estimate for the Geocoding API.
const GoogleCostPerCall = 0.005

// Google wraps the Google Geocoding API. Most expensive and most precise;
// it sits last in the default chains and first only when a caller opts in.
type Google struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	apiKey     string
	baseURL    string
	region     *Region
}

// GoogleOption configures the adapter.
type GoogleOption func(*Google)

// WithGoogleBaseURL overrides the API endpoint, for tests.
func WithGoogleBaseURL(u string) GoogleOption {
	return func(g *Google) { g.baseURL = u }
}

// WithGoogleHTTPClient overrides the HTTP client.
func WithGoogleHTTPClient(c *http.Client) GoogleOption {
	return func(g *Google) { g.httpClient = c }
}

// WithGoogleRegion bounds results to an operating area.
func WithGoogleRegion(r *Region) GoogleOption {
	return func(g *Google) { g.region = r }
}

// NewGoogle creates the adapter. An empty apiKey leaves it registered but
// unavailable; the chain skips it.
func NewGoogle(apiKey string, opts ...GoogleOption) *Google {
	g := &Google{
		httpClient: http.DefaultClient,
		limiter:    rate.NewLimiter(rate.Limit(50), 10),
		apiKey:     apiKey,
		baseURL:    googleGeocodeURL,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Name implements Adapter.
func (g *Google) Name() string { return "google" }

// Paid implements Adapter.
func (g *Google) Paid() bool { return true }

// CostPerCall implements Adapter.
func (g *Google) CostPerCall() float64 { return GoogleCostPerCall }

// Supports implements Adapter.
func (g *Google) Supports(kind model.QueryKind) bool {
	return kind == model.KindAddress || kind == model.KindIntersection
}

type googleResponse struct {
	Results []googleResult `json:"results"`
	Status  string         `json:"status"`
}

type googleResult struct {
	Geometry struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
		LocationType string `json:"location_type"`
	} `json:"geometry"`
	FormattedAddress  string `json:"formatted_address"`
	AddressComponents []struct {
		LongName string   `json:"long_name"`
		Types    []string `json:"types"`
	} `json:"address_components"`
}

// Fetch implements Adapter.
func (g *Google) Fetch(ctx context.Context, query string, req Request) ([]model.Result, error) {
	if g.apiKey == "" {
		return nil, eris.Wrap(ErrNotConfigured, "google: api key missing")
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "google: rate limit")
	}

	params := url.Values{
		"address": {query},
		"key":     {g.apiKey},
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "google: build request")
	}

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(ErrUnavailable, err.Error())
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Wrapf(ErrUnavailable, "google: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(ErrUnavailable, "google: read body")
	}

	var gr googleResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return nil, eris.Wrap(err, "google: parse response")
	}

	switch gr.Status {
	case "OK":
	case "ZERO_RESULTS":
		return []model.Result{}, nil
	case "OVER_QUERY_LIMIT", "OVER_DAILY_LIMIT":
		return nil, eris.Wrapf(ErrQuota, "google: status %s", gr.Status)
	case "REQUEST_DENIED":
		return nil, eris.Wrap(ErrNotConfigured, "google: request denied")
	default:
		return nil, eris.Wrapf(ErrUnavailable, "google: status %s", gr.Status)
	}

	limit := req.Limit
	if limit <= 0 || limit > len(gr.Results) {
		limit = len(gr.Results)
	}

	results := make([]model.Result, 0, limit)
	for _, r := range gr.Results[:limit] {
		results = append(results, model.Result{
			Kind:         req.Kind,
			Confidence:   googleConfidence(r.Geometry.LocationType),
			Latitude:     r.Geometry.Location.Lat,
			Longitude:    r.Geometry.Location.Lng,
			Label:        r.FormattedAddress,
			Jurisdiction: googleCounty(r),
		})
	}
	return FilterRegion(results, g.region), nil
}

// googleConfidence maps location_type to the unified scale. Google reports
// positional precision directly, so this source spans the full upper range.
func googleConfidence(locType string) float64 {
	switch strings.ToUpper(locType) {
	case "ROOFTOP":
		return 1.0
	case "RANGE_INTERPOLATED":
		return 0.85
	case "GEOMETRIC_CENTER":
		return 0.7
	case "APPROXIMATE":
		return 0.5
	default:
		return 0.5
	}
}

// googleCounty extracts the county name from the address components.
func googleCounty(r googleResult) string {
	for _, comp := range r.AddressComponents {
		for _, t := range comp.Types {
			if t == "administrative_area_level_2" {
				return strings.TrimSuffix(comp.LongName, " County")
			}
		}
	}
	return ""
}
