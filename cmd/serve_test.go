package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildsmarter/siteintel-resolve/internal/cache"
	"github.com/buildsmarter/siteintel-resolve/internal/model"
	"github.com/buildsmarter/siteintel-resolve/internal/provider"
	"github.com/buildsmarter/siteintel-resolve/internal/ratelimit"
	"github.com/buildsmarter/siteintel-resolve/internal/resolve"
)

// stubAdapter returns one fixed Houston match.
type stubAdapter struct {
	name    string
	results []model.Result
}

func (s *stubAdapter) Name() string                    { return s.name }
func (s *stubAdapter) Paid() bool                      { return false }
func (s *stubAdapter) CostPerCall() float64            { return 0 }
func (s *stubAdapter) Supports(k model.QueryKind) bool { return k != model.KindPoint }
func (s *stubAdapter) Fetch(_ context.Context, _ string, _ provider.Request) ([]model.Result, error) {
	return s.results, nil
}

// testStore is a minimal in-memory cache.Store.
type testStore struct {
	mu      sync.Mutex
	entries map[string]cache.Entry
}

func newTestStore() *testStore { return &testStore{entries: make(map[string]cache.Entry)} }

func (s *testStore) Get(_ context.Context, key string) (*cache.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		return &e, nil
	}
	return nil, nil
}

func (s *testStore) Put(_ context.Context, e cache.Entry, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.Key] = e
	return nil
}

func (s *testStore) BumpHit(_ context.Context, _ string) error { return nil }

func (s *testStore) ExtendTTL(_ context.Context, _ string, _ time.Duration) error { return nil }

func (s *testStore) Stats(_ context.Context) (*cache.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &cache.Stats{Entries: int64(len(s.entries)), TotalHits: 9}, nil
}

func (s *testStore) Close() error { return nil }

type denyAllLimiter struct{}

func (denyAllLimiter) Check(_ context.Context, _ string) ratelimit.Decision {
	return ratelimit.Decision{Allowed: false, RetryAfter: time.Minute}
}

func testEnv(opts ...resolve.Option) *engineEnv {
	store := newTestStore()
	adapter := &stubAdapter{name: "nominatim", results: []model.Result{{
		Kind:       model.KindAddress,
		Confidence: 0.8,
		Latitude:   29.7604,
		Longitude:  -95.3698,
		Label:      "1234 Main St, Houston",
	}}}
	base := []resolve.Option{resolve.WithChains(resolve.Chains{
		model.KindAddress:      {{Provider: "nominatim", TTL: time.Hour}},
		model.KindIntersection: {{Provider: "nominatim", TTL: time.Hour}},
	})}
	return &engineEnv{
		store:        store,
		orchestrator: resolve.New(provider.NewRegistry(adapter), store, append(base, opts...)...),
	}
}

func TestHealthEndpoint(t *testing.T) {
	router := newRouter(testEnv())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestResolveEndpoint_Success(t *testing.T) {
	router := newRouter(testEnv())

	body, _ := json.Marshal(map[string]interface{}{"query": "1234 Main St, Houston TX"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/resolve", bytes.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp model.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "nominatim", resp.Provider)
	assert.Equal(t, model.KindAddress, resp.KindUsed)
	require.Len(t, resp.Results, 1)
	assert.NotEmpty(t, resp.TraceID)
}

func TestResolveEndpoint_BadBody(t *testing.T) {
	router := newRouter(testEnv())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/resolve", bytes.NewReader([]byte("{not json"))))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResolveEndpoint_TooShortIs400(t *testing.T) {
	router := newRouter(testEnv())

	body, _ := json.Marshal(map[string]interface{}{"query": "ab"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/resolve", bytes.NewReader(body)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResolveEndpoint_RateLimitedIs429WithRetryAfter(t *testing.T) {
	router := newRouter(testEnv(resolve.WithRateLimiter(denyAllLimiter{})))

	body, _ := json.Marshal(map[string]interface{}{"query": "1234 Main St", "identity": "account-1"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/resolve", bytes.NewReader(body)))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.EqualValues(t, 60, resp["retry_after"])
}

func TestBatchEndpoint(t *testing.T) {
	router := newRouter(testEnv())

	body, _ := json.Marshal(map[string]interface{}{
		"queries": []map[string]interface{}{
			{"query": "1234 Main St, Houston TX"},
			{"query": "29.7604,-95.3698"},
		},
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/resolve/batch", bytes.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Responses []model.Response `json:"responses"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Responses, 2)
	assert.Equal(t, "nominatim", resp.Responses[0].Provider)
	assert.Equal(t, "local", resp.Responses[1].Provider)
}

func TestBatchEndpoint_EmptyQueriesIs400(t *testing.T) {
	router := newRouter(testEnv())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/resolve/batch", bytes.NewReader([]byte(`{"queries":[]}`))))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCacheStatsEndpoint(t *testing.T) {
	router := newRouter(testEnv())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/cache/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var stats cache.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(9), stats.TotalHits)
}

func TestCallerIdentity(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/v1/resolve", nil)
	req.RemoteAddr = "10.1.2.3:52114"

	assert.Equal(t, "account-1", callerIdentity("account-1", req))

	req.Header.Set("X-Identity", "header-id")
	assert.Equal(t, "header-id", callerIdentity("", req))

	req.Header.Del("X-Identity")
	assert.Equal(t, ratelimit.AnonPrefix+"10.1.2.3", callerIdentity("", req))
}
