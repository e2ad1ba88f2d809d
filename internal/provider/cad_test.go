package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildsmarter/siteintel-resolve/internal/model"
)

func testCADEndpoints(url string) map[string]CountyEndpoint {
	return map[string]CountyEndpoint{
		"harris": {
			URL:          url,
			IDField:      "HCAD_NUM",
			OwnerField:   "owner_name",
			AddressField: "site_addr_1",
			AcreageField: "ACREAGE",
			ValueField:   "TOTAL_VAL",
		},
	}
}

func TestCADFetch_ParcelHit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Query().Get("where"), "HCAD_NUM='0660640130020'")
		w.Write([]byte(`{
			"features": [{
				"attributes": {
					"HCAD_NUM": "0660640130020",
					"owner_name": "ACME HOLDINGS LLC",
					"site_addr_1": "1234 MAIN ST",
					"ACREAGE": 0.25,
					"TOTAL_VAL": 450000
				},
				"geometry": {"x": -95.3698, "y": 29.7604}
			}]
		}`))
	}))
	defer srv.Close()

	cad := NewCAD(WithCADEndpoints(testCADEndpoints(srv.URL)))
	results, err := cad.Fetch(context.Background(), "0660640130020", Request{Kind: model.KindParcelID, County: "harris"})

	require.NoError(t, err)
	require.Len(t, results, 1)

	res := results[0]
	assert.Equal(t, 0.95, res.Confidence)
	assert.Equal(t, "harris", res.Jurisdiction)
	require.NotNil(t, res.Parcel)
	assert.Equal(t, "0660640130020", res.Parcel.ID)
	require.NotNil(t, res.Parcel.OwnerName)
	assert.Equal(t, "ACME HOLDINGS LLC", *res.Parcel.OwnerName)
	require.NotNil(t, res.Parcel.Acreage)
	assert.InDelta(t, 0.25, *res.Parcel.Acreage, 0.001)
}

func TestCADFetch_NullOwnerStaysNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"features": [{
				"attributes": {"HCAD_NUM": "1234567890123", "owner_name": null},
				"geometry": {"x": -95.3, "y": 29.7}
			}]
		}`))
	}))
	defer srv.Close()

	cad := NewCAD(WithCADEndpoints(testCADEndpoints(srv.URL)))
	results, err := cad.Fetch(context.Background(), "1234567890123", Request{Kind: model.KindParcelID, County: "harris"})

	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NotNil(t, results[0].Parcel)
	assert.Nil(t, results[0].Parcel.OwnerName, "a missing owner is null, not an error")
}

func TestCADFetch_NoFeaturesIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"features": []}`))
	}))
	defer srv.Close()

	cad := NewCAD(WithCADEndpoints(testCADEndpoints(srv.URL)))
	results, err := cad.Fetch(context.Background(), "9999999999999", Request{Kind: model.KindParcelID, County: "harris"})

	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestCADFetch_UnknownCountyIsEmpty(t *testing.T) {
	cad := NewCAD(WithCADEndpoints(testCADEndpoints("http://unused")))
	results, err := cad.Fetch(context.Background(), "123456", Request{Kind: model.KindParcelID, County: "travis"})

	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestCADFetch_ArcGISErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error": {"code": 500, "message": "layer not found"}}`))
	}))
	defer srv.Close()

	cad := NewCAD(WithCADEndpoints(testCADEndpoints(srv.URL)))
	_, err := cad.Fetch(context.Background(), "1234567890123", Request{Kind: model.KindParcelID, County: "harris"})

	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestCADFetch_PolygonCentroid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"features": [{
				"attributes": {"HCAD_NUM": "1234567890123"},
				"geometry": {"rings": [[[-95.0, 29.0], [-95.0, 30.0], [-94.0, 30.0], [-94.0, 29.0]]]}
			}]
		}`))
	}))
	defer srv.Close()

	cad := NewCAD(WithCADEndpoints(testCADEndpoints(srv.URL)))
	results, err := cad.Fetch(context.Background(), "1234567890123", Request{Kind: model.KindParcelID, County: "harris"})

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 29.5, results[0].Latitude, 0.001)
	assert.InDelta(t, -94.5, results[0].Longitude, 0.001)
}

func TestCADAdapterShape(t *testing.T) {
	cad := NewCAD()
	assert.Equal(t, "cad", cad.Name())
	assert.False(t, cad.Paid())
	assert.Zero(t, cad.CostPerCall())
	assert.True(t, cad.Supports(model.KindParcelID))
	assert.False(t, cad.Supports(model.KindAddress))
}
