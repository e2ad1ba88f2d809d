package cache

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store for single-node deployments and local
// development, using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens the database at dsn and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sdb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "cache: sqlite open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := sdb.Exec(pragma); err != nil {
			sdb.Close()
			return nil, eris.Wrapf(err, "cache: sqlite exec %s", pragma)
		}
	}

	s := &SQLiteStore{db: sdb}
	if err := s.migrate(context.Background()); err != nil {
		sdb.Close()
		return nil, err
	}
	return s, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS api_cache_universal (
	cache_key  TEXT PRIMARY KEY,
	provider   TEXT NOT NULL,
	endpoint   TEXT NOT NULL,
	response   BLOB NOT NULL,
	hit_count  INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	expires_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_api_cache_expires_at ON api_cache_universal(expires_at);
`

func (s *SQLiteStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "cache: sqlite migrate")
}

// Get returns the entry for key, or (nil, nil) when absent or expired.
func (s *SQLiteStore) Get(ctx context.Context, key string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT cache_key, provider, endpoint, response, hit_count, created_at, expires_at
		FROM api_cache_universal
		WHERE cache_key = ? AND expires_at > ?`,
		key, time.Now().UTC(),
	)

	var e Entry
	err := row.Scan(&e.Key, &e.Provider, &e.Endpoint, &e.Payload, &e.HitCount, &e.CreatedAt, &e.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "cache: sqlite get")
	}
	return &e, nil
}

// Put upserts the entry with the caller-supplied TTL.
func (s *SQLiteStore) Put(ctx context.Context, e Entry, ttl time.Duration) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_cache_universal (cache_key, provider, endpoint, response, hit_count, created_at, expires_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT (cache_key) DO UPDATE SET
			provider = excluded.provider,
			endpoint = excluded.endpoint,
			response = excluded.response,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`,
		e.Key, e.Provider, e.Endpoint, e.Payload, now, now.Add(ttl),
	)
	return eris.Wrap(err, "cache: sqlite put")
}

// BumpHit increments the hit counter for key.
func (s *SQLiteStore) BumpHit(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_cache_universal SET hit_count = hit_count + 1 WHERE cache_key = ?`,
		key,
	)
	return eris.Wrap(err, "cache: sqlite bump hit")
}

// ExtendTTL pushes the expiry forward from now.
func (s *SQLiteStore) ExtendTTL(ctx context.Context, key string, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_cache_universal SET expires_at = ? WHERE cache_key = ?`,
		time.Now().UTC().Add(ttl), key,
	)
	return eris.Wrap(err, "cache: sqlite extend ttl")
}

// Stats returns live-entry and cumulative hit counts.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT count(*), coalesce(sum(hit_count), 0)
		FROM api_cache_universal
		WHERE expires_at > ?`,
		time.Now().UTC(),
	)

	var st Stats
	if err := row.Scan(&st.Entries, &st.TotalHits); err != nil {
		return nil, eris.Wrap(err, "cache: sqlite stats")
	}
	return &st, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
