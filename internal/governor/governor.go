// Package governor implements the emergency cost mode: a single flag in
// system_config that, when set, blocks paid providers mid-chain. The flag is
// read fresh on every check so an operator toggle takes effect immediately,
// with no process restart and no cache staleness.
package governor

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/buildsmarter/siteintel-resolve/internal/db"
)

// ConfigKey is the system_config row holding the flag.
const ConfigKey = "emergency_cost_mode"

// Spender reports total provider spend since a cutoff. *apilog.Logger
// satisfies it.
type Spender interface {
	SpendSince(ctx context.Context, cutoff time.Time) (float64, error)
}

// Thresholds configure Evaluate. Spend at or above Critical engages the
// governor; spend below Warn disengages it; in between it holds its state.
type Thresholds struct {
	Warn     float64 `yaml:"warn" mapstructure:"warn"`
	Critical float64 `yaml:"critical" mapstructure:"critical"`
}

// Governor reads and writes the emergency cost flag.
type Governor struct {
	pool db.Pool
}

func New(pool db.Pool) *Governor {
	return &Governor{pool: pool}
}

const migration = `
CREATE TABLE IF NOT EXISTS system_config (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Migrate creates the system_config table if it does not exist.
func (g *Governor) Migrate(ctx context.Context) error {
	_, err := g.pool.Exec(ctx, migration)
	return eris.Wrap(err, "governor: migrate")
}

// Active reports whether emergency cost mode is engaged. A missing row or a
// read error both mean inactive: the governor is a brake, and a broken brake
// sensor should not stop the car.
func (g *Governor) Active(ctx context.Context) bool {
	var value string
	err := g.pool.QueryRow(ctx,
		`SELECT value FROM system_config WHERE key = $1`, ConfigKey,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return false
	}
	if err != nil {
		zap.L().Warn("governor flag read failed, treating as inactive", zap.Error(err))
		return false
	}
	return value == "true"
}

// Set writes the flag.
func (g *Governor) Set(ctx context.Context, active bool) error {
	value := "false"
	if active {
		value = "true"
	}
	_, err := g.pool.Exec(ctx, `
		INSERT INTO system_config (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		ConfigKey, value,
	)
	return eris.Wrap(err, "governor: set flag")
}

// Evaluate compares spend since midnight UTC against the thresholds and
// flips the flag when a boundary is crossed. It returns the new state and
// the measured spend.
func (g *Governor) Evaluate(ctx context.Context, spender Spender, t Thresholds) (bool, float64, error) {
	now := time.Now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	spend, err := spender.SpendSince(ctx, midnight)
	if err != nil {
		return g.Active(ctx), 0, eris.Wrap(err, "governor: evaluate")
	}

	active := g.Active(ctx)
	switch {
	case t.Critical > 0 && spend >= t.Critical && !active:
		if err := g.Set(ctx, true); err != nil {
			return active, spend, err
		}
		zap.L().Warn("cost governor engaged",
			zap.Float64("spend", spend),
			zap.Float64("critical", t.Critical))
		return true, spend, nil
	case t.Warn > 0 && spend < t.Warn && active:
		if err := g.Set(ctx, false); err != nil {
			return active, spend, err
		}
		zap.L().Info("cost governor disengaged", zap.Float64("spend", spend))
		return false, spend, nil
	default:
		if t.Warn > 0 && spend >= t.Warn {
			zap.L().Warn("daily spend above warning threshold",
				zap.Float64("spend", spend),
				zap.Float64("warn", t.Warn))
		}
		return active, spend, nil
	}
}
