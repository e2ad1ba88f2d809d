package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteRoundTrip(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	e := Entry{
		Key:      Key("nominatim", "address", "1234 main st"),
		Provider: "nominatim",
		Endpoint: "address",
		Payload:  []byte(`[{"confidence":0.8}]`),
	}
	require.NoError(t, s.Put(ctx, e, time.Hour))

	got, err := s.Get(ctx, e.Key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "nominatim", got.Provider)
	assert.Equal(t, e.Payload, got.Payload)
	assert.Equal(t, int64(0), got.HitCount)
}

func TestSQLiteGet_Miss(t *testing.T) {
	s := newTestSQLite(t)

	got, err := s.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteGet_ExpiredIsMiss(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	e := Entry{Key: "expired", Provider: "google", Endpoint: "address", Payload: []byte(`[]`)}
	require.NoError(t, s.Put(ctx, e, -time.Minute))

	got, err := s.Get(ctx, "expired")
	require.NoError(t, err)
	assert.Nil(t, got, "an expired entry must read as a miss")
}

func TestSQLitePut_OverwritesExisting(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, Entry{Key: "k", Provider: "google", Endpoint: "address", Payload: []byte(`["old"]`)}, time.Hour))
	require.NoError(t, s.Put(ctx, Entry{Key: "k", Provider: "google", Endpoint: "address", Payload: []byte(`["new"]`)}, time.Hour))

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []byte(`["new"]`), got.Payload)
}

func TestSQLiteBumpHit(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, Entry{Key: "k", Provider: "cad", Endpoint: "parcel_id", Payload: []byte(`[]`)}, time.Hour))
	require.NoError(t, s.BumpHit(ctx, "k"))
	require.NoError(t, s.BumpHit(ctx, "k"))

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(2), got.HitCount)
}

func TestSQLiteExtendTTL(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, Entry{Key: "k", Provider: "google", Endpoint: "address", Payload: []byte(`[]`)}, time.Second))
	require.NoError(t, s.ExtendTTL(ctx, "k", time.Hour))

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.ExpiresAt.After(time.Now().UTC().Add(30*time.Minute)))
}

func TestSQLiteStats(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, Entry{Key: "live1", Provider: "google", Endpoint: "address", Payload: []byte(`[]`)}, time.Hour))
	require.NoError(t, s.Put(ctx, Entry{Key: "live2", Provider: "google", Endpoint: "address", Payload: []byte(`[]`)}, time.Hour))
	require.NoError(t, s.Put(ctx, Entry{Key: "dead", Provider: "google", Endpoint: "address", Payload: []byte(`[]`)}, -time.Hour))
	require.NoError(t, s.BumpHit(ctx, "live1"))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Entries, "expired entries do not count")
	assert.Equal(t, int64(1), stats.TotalHits)
}
