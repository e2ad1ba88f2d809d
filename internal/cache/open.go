package cache

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/buildsmarter/siteintel-resolve/internal/db"
)

// Open constructs the configured driver. The postgres driver shares the
// caller's pool; sqlite and redis own their connections.
func Open(ctx context.Context, cfg Config, pool db.Pool) (Store, error) {
	switch cfg.Driver {
	case "", "postgres":
		if pool == nil {
			return nil, eris.New("cache: postgres driver requires a database pool")
		}
		s := NewPostgres(pool)
		if err := s.Migrate(ctx); err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite":
		path := cfg.SQLitePath
		if path == "" {
			path = "siteintel-cache.db"
		}
		return NewSQLite(path)
	case "redis":
		return NewRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
	default:
		return nil, eris.Wrapf(ErrUnknownDriver, "%q", cfg.Driver)
	}
}
