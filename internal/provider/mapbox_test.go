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

func TestMapboxFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.URL.Query().Get("access_token"))
		assert.NotEmpty(t, r.URL.Query().Get("proximity"))
		w.Write([]byte(`{
			"features": [{
				"place_name": "1234 Main St, Houston, Texas 77002",
				"relevance": 1.0,
				"center": [-95.3698, 29.7604],
				"place_type": ["address"],
				"context": [{"id": "district.123", "text": "Harris County"}]
			}]
		}`))
	}))
	defer srv.Close()

	m := NewMapbox("test-token",
		WithMapboxBaseURL(srv.URL),
		WithMapboxProximity(-95.3698, 29.7604))
	results, err := m.Fetch(context.Background(), "1234 Main St", Request{Kind: model.KindAddress, Limit: 1})

	require.NoError(t, err)
	require.Len(t, results, 1)
	// 1.0*0.85 + 0.1 address boost = 0.95 (the cap)
	assert.InDelta(t, 0.95, results[0].Confidence, 0.001)
	assert.Equal(t, "Harris County", results[0].Jurisdiction)
	assert.InDelta(t, 29.7604, results[0].Latitude, 0.0001)
	assert.InDelta(t, -95.3698, results[0].Longitude, 0.0001)
}

func TestMapboxFetch_SessionTokenPassedThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sess-42", r.URL.Query().Get("session_token"))
		w.Write([]byte(`{"features": []}`))
	}))
	defer srv.Close()

	m := NewMapbox("test-token", WithMapboxBaseURL(srv.URL))
	_, err := m.Fetch(context.Background(), "1234 Main St", Request{Kind: model.KindAddress, SessionToken: "sess-42"})

	require.NoError(t, err)
}

func TestMapboxConfidence(t *testing.T) {
	// Discounted relevance plus type boost, capped under rooftop quality.
	assert.InDelta(t, 0.85, mapboxConfidence(1.0, nil), 0.001)
	assert.InDelta(t, 0.95, mapboxConfidence(1.0, []string{"address"}), 0.001)
	assert.InDelta(t, 0.475, mapboxConfidence(0.5, []string{"poi"}), 0.001)
	assert.LessOrEqual(t, mapboxConfidence(1.0, []string{"address", "poi"}), 0.95)
}

func TestMapboxFetch_EmptyFeaturesIsNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"features": []}`))
	}))
	defer srv.Close()

	m := NewMapbox("test-token", WithMapboxBaseURL(srv.URL))
	results, err := m.Fetch(context.Background(), "nowhere", Request{Kind: model.KindAddress})

	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMapboxFetch_UnauthorizedIsNotConfigured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	m := NewMapbox("bad-token", WithMapboxBaseURL(srv.URL))
	_, err := m.Fetch(context.Background(), "main st", Request{Kind: model.KindAddress})

	assert.True(t, errors.Is(err, ErrNotConfigured))
}

func TestMapboxFetch_TooManyRequestsIsQuota(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	m := NewMapbox("test-token", WithMapboxBaseURL(srv.URL))
	_, err := m.Fetch(context.Background(), "main st", Request{Kind: model.KindAddress})

	assert.True(t, errors.Is(err, ErrQuota))
}

func TestMapboxAdapterShape(t *testing.T) {
	m := NewMapbox("tok")
	assert.Equal(t, "mapbox", m.Name())
	assert.True(t, m.Paid())
	assert.Equal(t, MapboxCostPerCall, m.CostPerCall())
	assert.True(t, m.Supports(model.KindIntersection))
	assert.False(t, m.Supports(model.KindParcelID))
}
