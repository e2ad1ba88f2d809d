// Package apilog records one row per resolution in api_logs. The table is
// double-duty: an audit trail for operators, and the source of truth for the
// sliding-window rate counter and the daily spend ledger. Writes are
// fire-and-forget so a logging outage can never fail a resolution.
package apilog

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/buildsmarter/siteintel-resolve/internal/db"
)

// Record is one api_logs row.
type Record struct {
	TraceID   string
	Identity  string
	QueryKind string
	Provider  string
	Endpoint  string
	CacheHit  bool
	Cost      float64
	Status    string
	Error     string
	LatencyMS int64
}

// Logger writes records and answers the aggregate queries built on them.
type Logger struct {
	pool db.Pool
}

func New(pool db.Pool) *Logger {
	return &Logger{pool: pool}
}

const migration = `
CREATE TABLE IF NOT EXISTS api_logs (
	id         BIGSERIAL PRIMARY KEY,
	trace_id   TEXT NOT NULL,
	identity   TEXT NOT NULL,
	query_kind TEXT NOT NULL,
	provider   TEXT NOT NULL,
	endpoint   TEXT NOT NULL DEFAULT '',
	cache_hit  BOOLEAN NOT NULL DEFAULT false,
	cost       DOUBLE PRECISION NOT NULL DEFAULT 0,
	status     TEXT NOT NULL,
	error      TEXT NOT NULL DEFAULT '',
	latency_ms BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_api_logs_identity_created ON api_logs(identity, created_at);
CREATE INDEX IF NOT EXISTS idx_api_logs_created ON api_logs(created_at);
`

// Migrate creates the api_logs table if it does not exist.
func (l *Logger) Migrate(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, migration)
	return eris.Wrap(err, "apilog: migrate")
}

// Write inserts the record asynchronously. Failures are logged and dropped:
// the caller has already produced its response by the time this runs, and
// the rate counter degrades gracefully on missing rows.
func (l *Logger) Write(rec Record) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_, err := l.pool.Exec(ctx, `
			INSERT INTO api_logs (trace_id, identity, query_kind, provider, endpoint, cache_hit, cost, status, error, latency_ms)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			rec.TraceID, rec.Identity, rec.QueryKind, rec.Provider, rec.Endpoint,
			rec.CacheHit, rec.Cost, rec.Status, rec.Error, rec.LatencyMS,
		)
		if err != nil {
			zap.L().Warn("api log write failed",
				zap.String("trace_id", rec.TraceID),
				zap.Error(err))
		}
	}()
}

// WriteSync inserts the record on the caller's goroutine. One-shot CLI
// commands use this so the process does not exit before the insert lands.
func (l *Logger) WriteSync(ctx context.Context, rec Record) error {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO api_logs (trace_id, identity, query_kind, provider, endpoint, cache_hit, cost, status, error, latency_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.TraceID, rec.Identity, rec.QueryKind, rec.Provider, rec.Endpoint,
		rec.CacheHit, rec.Cost, rec.Status, rec.Error, rec.LatencyMS,
	)
	return eris.Wrap(err, "apilog: write")
}

// CountIdentitySince counts rows for identity with created_at after cutoff.
// This is the sliding-window rate counter: no separate bucket state, just
// the log itself. Denied requests are excluded so a saturated identity can
// recover once it backs off.
func (l *Logger) CountIdentitySince(ctx context.Context, identity string, cutoff time.Time) (int, error) {
	var n int
	err := l.pool.QueryRow(ctx,
		`SELECT count(*) FROM api_logs WHERE identity = $1 AND created_at > $2 AND status <> 'rate_limited'`,
		identity, cutoff,
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "apilog: count identity")
	}
	return n, nil
}

// SpendSince sums provider cost across all identities after cutoff.
func (l *Logger) SpendSince(ctx context.Context, cutoff time.Time) (float64, error) {
	var total float64
	err := l.pool.QueryRow(ctx,
		`SELECT coalesce(sum(cost), 0) FROM api_logs WHERE created_at > $1`,
		cutoff,
	).Scan(&total)
	if err != nil {
		return 0, eris.Wrap(err, "apilog: spend since")
	}
	return total, nil
}
