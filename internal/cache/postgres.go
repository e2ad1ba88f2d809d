package cache

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/buildsmarter/siteintel-resolve/internal/db"
)

// PostgresStore implements Store on the api_cache_universal table.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgres wraps an existing pool. The pool is shared with the rate
// counter and governor, so Close is a no-op here.
func NewPostgres(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS api_cache_universal (
	cache_key  TEXT PRIMARY KEY,
	provider   TEXT NOT NULL,
	endpoint   TEXT NOT NULL,
	response   BYTEA NOT NULL,
	hit_count  BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_api_cache_expires_at ON api_cache_universal(expires_at);
CREATE INDEX IF NOT EXISTS idx_api_cache_provider ON api_cache_universal(provider);
`

// Migrate creates the cache table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "cache: postgres migrate")
}

// Get returns the entry for key, or (nil, nil) when absent or expired.
func (s *PostgresStore) Get(ctx context.Context, key string) (*Entry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT cache_key, provider, endpoint, response, hit_count, created_at, expires_at
		FROM api_cache_universal
		WHERE cache_key = $1 AND expires_at > now()`,
		key,
	)

	var e Entry
	err := row.Scan(&e.Key, &e.Provider, &e.Endpoint, &e.Payload, &e.HitCount, &e.CreatedAt, &e.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "cache: postgres get")
	}

	zap.L().Debug("cache hit", zap.String("key", keyPrefix(key)), zap.String("provider", e.Provider))
	return &e, nil
}

// Put upserts the entry with the caller-supplied TTL.
func (s *PostgresStore) Put(ctx context.Context, e Entry, ttl time.Duration) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO api_cache_universal (cache_key, provider, endpoint, response, hit_count, created_at, expires_at)
		VALUES ($1, $2, $3, $4, 0, now(), now() + $5)
		ON CONFLICT (cache_key) DO UPDATE SET
			provider = EXCLUDED.provider,
			endpoint = EXCLUDED.endpoint,
			response = EXCLUDED.response,
			created_at = now(),
			expires_at = EXCLUDED.expires_at`,
		e.Key, e.Provider, e.Endpoint, e.Payload, ttl,
	)
	return eris.Wrap(err, "cache: postgres put")
}

// BumpHit increments the hit counter for key.
func (s *PostgresStore) BumpHit(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_cache_universal SET hit_count = hit_count + 1 WHERE cache_key = $1`,
		key,
	)
	return eris.Wrap(err, "cache: postgres bump hit")
}

// ExtendTTL pushes the expiry forward from now, used when an upstream
// signals its data is unchanged.
func (s *PostgresStore) ExtendTTL(ctx context.Context, key string, ttl time.Duration) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_cache_universal SET expires_at = now() + $1 WHERE cache_key = $2`,
		ttl, key,
	)
	return eris.Wrap(err, "cache: postgres extend ttl")
}

// Stats returns live-entry and cumulative hit counts.
func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT count(*), coalesce(sum(hit_count), 0)
		FROM api_cache_universal
		WHERE expires_at > now()`,
	)

	var st Stats
	if err := row.Scan(&st.Entries, &st.TotalHits); err != nil {
		return nil, eris.Wrap(err, "cache: postgres stats")
	}
	return &st, nil
}

// Close is a no-op; the shared pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// keyPrefix shortens a cache key for log lines.
func keyPrefix(key string) string {
	if len(key) > 24 {
		return key[:24]
	}
	return key
}
