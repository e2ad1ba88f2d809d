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

func TestNominatimFetch(t *testing.T) {
	var gotUserAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserAgent = r.Header.Get("User-Agent")
		assert.Equal(t, "1234 Main St", r.URL.Query().Get("q"))
		w.Write([]byte(`[
			{"lat":"29.76","lon":"-95.36","display_name":"1234 Main St, Houston","importance":0.6,"type":"house","address":{"county":"Harris"}},
			{"lat":"29.70","lon":"-95.40","display_name":"Main St, Houston","importance":0.4,"type":"road","address":{}}
		]`))
	}))
	defer srv.Close()

	n := NewNominatim("siteintel-test/1.0", WithNominatimBaseURL(srv.URL))
	results, err := n.Fetch(context.Background(), "1234 Main St", Request{Kind: model.KindAddress, Limit: 5})

	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "siteintel-test/1.0", gotUserAgent)

	// 0.5 + 0.6*0.4 + 0.15 house boost = 0.89
	assert.InDelta(t, 0.89, results[0].Confidence, 0.001)
	assert.Equal(t, "Harris", results[0].Jurisdiction)
	assert.InDelta(t, 29.76, results[0].Latitude, 0.001)

	// 0.5 + 0.4*0.4 + 0.05 road boost = 0.71
	assert.InDelta(t, 0.71, results[1].Confidence, 0.001)
}

func TestNominatimConfidence_CappedAtPointNine(t *testing.T) {
	assert.Equal(t, 0.9, nominatimConfidence(1.0, "house"))
	assert.LessOrEqual(t, nominatimConfidence(0.99, "building"), 0.9)
}

func TestNominatimFetch_EmptyIsNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	n := NewNominatim("test", WithNominatimBaseURL(srv.URL))
	results, err := n.Fetch(context.Background(), "nowhere at all", Request{Kind: model.KindAddress})

	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestNominatimFetch_TooManyRequestsIsQuota(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	n := NewNominatim("test", WithNominatimBaseURL(srv.URL))
	_, err := n.Fetch(context.Background(), "1234 Main St", Request{Kind: model.KindAddress})

	assert.True(t, errors.Is(err, ErrQuota))
}

func TestNominatimFetch_ServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewNominatim("test", WithNominatimBaseURL(srv.URL))
	_, err := n.Fetch(context.Background(), "1234 Main St", Request{Kind: model.KindAddress})

	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestNominatimFetch_RegionFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"lat":"29.76","lon":"-95.36","display_name":"Houston","importance":0.5},
			{"lat":"40.71","lon":"-74.00","display_name":"New York","importance":0.9}
		]`))
	}))
	defer srv.Close()

	region := NewRegion(-106.65, 25.84, -93.51, 36.5)
	n := NewNominatim("test", WithNominatimBaseURL(srv.URL), WithNominatimRegion(region))
	results, err := n.Fetch(context.Background(), "main st", Request{Kind: model.KindAddress, Limit: 5})

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Houston", results[0].Label)
}

func TestNominatimSupports(t *testing.T) {
	n := NewNominatim("test")
	assert.True(t, n.Supports(model.KindAddress))
	assert.True(t, n.Supports(model.KindIntersection))
	assert.False(t, n.Supports(model.KindParcelID))
	assert.False(t, n.Paid())
	assert.Zero(t, n.CostPerCall())
}
