package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/buildsmarter/siteintel-resolve/internal/model"
)

// CountyEndpoint describes one county appraisal district's ArcGIS parcel
// layer: where it lives and which attribute fields carry what.
type CountyEndpoint struct {
	URL          string `yaml:"url" mapstructure:"url"`
	IDField      string `yaml:"id_field" mapstructure:"id_field"`
	OwnerField   string `yaml:"owner_field" mapstructure:"owner_field"`
	AddressField string `yaml:"address_field" mapstructure:"address_field"`
	AcreageField string `yaml:"acreage_field" mapstructure:"acreage_field"`
	ValueField   string `yaml:"value_field" mapstructure:"value_field"`
}

// DefaultCountyEndpoints covers the counties currently onboarded. The map
// key must match the jurisdiction keys the classifier emits.
func DefaultCountyEndpoints() map[string]CountyEndpoint {
	return map[string]CountyEndpoint{
		"harris": {
			URL:          "https://gis.hcad.org/arcgis/rest/services/public/Parcels/MapServer/0",
			IDField:      "HCAD_NUM",
			OwnerField:   "owner_name",
			AddressField: "site_addr_1",
			AcreageField: "ACREAGE",
			ValueField:   "TOTAL_VAL",
		},
		"fort_bend": {
			URL:          "https://gisweb.fbcad.org/arcgis/rest/services/Parcels/MapServer/0",
			IDField:      "QuickRefID",
			OwnerField:   "OwnerName",
			AddressField: "SitusAddress",
			AcreageField: "LegalAcreage",
			ValueField:   "TotalValue",
		},
		"montgomery": {
			URL:          "https://gis.mctx.org/arcgis/rest/services/Parcels/MapServer/0",
			IDField:      "PROP_ID",
			OwnerField:   "NAME",
			AddressField: "SITUS",
			AcreageField: "ACREAGE",
			ValueField:   "MARKET_VAL",
		},
	}
}

// CAD resolves parcel identifiers against county appraisal district ArcGIS
// services. Free, authoritative for its kind, and useless for anything that
// is not a parcel identifier.
type CAD struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	endpoints  map[string]CountyEndpoint
}

// CADOption configures the adapter.
type CADOption func(*CAD)

// WithCADHTTPClient overrides the HTTP client.
func WithCADHTTPClient(c *http.Client) CADOption {
	return func(a *CAD) { a.httpClient = c }
}

// WithCADEndpoints replaces the county endpoint table.
func WithCADEndpoints(eps map[string]CountyEndpoint) CADOption {
	return func(a *CAD) { a.endpoints = eps }
}

// NewCAD creates the adapter with the default county table.
func NewCAD(opts ...CADOption) *CAD {
	a := &CAD{
		httpClient: http.DefaultClient,
		limiter:    rate.NewLimiter(rate.Limit(5), 2),
		endpoints:  DefaultCountyEndpoints(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name implements Adapter.
func (a *CAD) Name() string { return "cad" }

// Paid implements Adapter.
func (a *CAD) Paid() bool { return false }

// CostPerCall implements Adapter.
func (a *CAD) CostPerCall() float64 { return 0 }

// Supports implements Adapter.
func (a *CAD) Supports(kind model.QueryKind) bool {
	return kind == model.KindParcelID
}

type arcgisResponse struct {
	Features []arcgisFeature `json:"features"`
	Error    *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type arcgisFeature struct {
	Attributes map[string]json.RawMessage `json:"attributes"`
	Geometry   struct {
		X     float64       `json:"x"`
		Y     float64       `json:"y"`
		Rings [][][]float64 `json:"rings"`
	} `json:"geometry"`
}

// Fetch implements Adapter. When the request does not name a county, every
// configured county is tried in turn; identifier formats collide rarely
// enough that the first hit wins.
func (a *CAD) Fetch(ctx context.Context, query string, req Request) ([]model.Result, error) {
	counties := make([]string, 0, len(a.endpoints))
	if req.County != "" {
		if _, ok := a.endpoints[req.County]; !ok {
			return []model.Result{}, nil
		}
		counties = append(counties, req.County)
	} else {
		for name := range a.endpoints {
			counties = append(counties, name)
		}
	}

	var lastErr error
	for _, county := range counties {
		results, err := a.queryCounty(ctx, county, query, req)
		if err != nil {
			lastErr = err
			continue
		}
		if len(results) > 0 {
			return results, nil
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return []model.Result{}, nil
}

func (a *CAD) queryCounty(ctx context.Context, county, id string, req Request) ([]model.Result, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "cad: rate limit")
	}

	ep := a.endpoints[county]
	params := url.Values{
		"where":          {fmt.Sprintf("%s='%s'", ep.IDField, strings.ReplaceAll(id, "'", "''"))},
		"outFields":      {"*"},
		"returnGeometry": {"true"},
		"outSR":          {"4326"},
		"f":              {"json"},
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.URL+"/query?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "cad: build request")
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(ErrUnavailable, err.Error())
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Wrapf(ErrUnavailable, "cad: %s status %d", county, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(ErrUnavailable, "cad: read body")
	}

	var ar arcgisResponse
	if err := json.Unmarshal(body, &ar); err != nil {
		return nil, eris.Wrap(err, "cad: parse response")
	}
	if ar.Error != nil {
		return nil, eris.Wrapf(ErrUnavailable, "cad: %s error %d: %s", county, ar.Error.Code, ar.Error.Message)
	}

	results := make([]model.Result, 0, len(ar.Features))
	for _, f := range ar.Features {
		lat, lng, ok := featureCentroid(f)
		if !ok {
			continue
		}
		parcel := &model.ParcelRecord{ID: id}
		if v := attrString(f.Attributes, ep.OwnerField); v != "" {
			parcel.OwnerName = &v
		}
		situs := attrString(f.Attributes, ep.AddressField)
		if situs != "" {
			parcel.SitusAddress = &situs
		}
		if v, ok := attrFloat(f.Attributes, ep.AcreageField); ok {
			parcel.Acreage = &v
		}
		if v, ok := attrFloat(f.Attributes, ep.ValueField); ok {
			parcel.AssessedValue = &v
		}

		label := situs
		if label == "" {
			label = fmt.Sprintf("Parcel %s (%s)", id, county)
		}
		results = append(results, model.Result{
			Kind:         req.Kind,
			Confidence:   0.95,
			Latitude:     lat,
			Longitude:    lng,
			Label:        label,
			Jurisdiction: county,
			Parcel:       parcel,
		})
	}
	return results, nil
}

// featureCentroid returns a representative point: the point geometry when
// present, otherwise the vertex average of the first polygon ring.
func featureCentroid(f arcgisFeature) (lat, lng float64, ok bool) {
	if f.Geometry.X != 0 || f.Geometry.Y != 0 {
		return f.Geometry.Y, f.Geometry.X, true
	}
	if len(f.Geometry.Rings) == 0 || len(f.Geometry.Rings[0]) == 0 {
		return 0, 0, false
	}
	ring := f.Geometry.Rings[0]
	var sumX, sumY float64
	for _, pt := range ring {
		if len(pt) < 2 {
			continue
		}
		sumX += pt[0]
		sumY += pt[1]
	}
	n := float64(len(ring))
	return sumY / n, sumX / n, true
}

func attrString(attrs map[string]json.RawMessage, field string) string {
	raw, ok := attrs[field]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func attrFloat(attrs map[string]json.RawMessage, field string) (float64, bool) {
	raw, ok := attrs[field]
	if !ok {
		return 0, false
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	return v, true
}
