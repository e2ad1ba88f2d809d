package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/buildsmarter/siteintel-resolve/internal/apilog"
	"github.com/buildsmarter/siteintel-resolve/internal/cache"
	"github.com/buildsmarter/siteintel-resolve/internal/db"
	"github.com/buildsmarter/siteintel-resolve/internal/governor"
	"github.com/buildsmarter/siteintel-resolve/internal/parcel"
	"github.com/buildsmarter/siteintel-resolve/internal/provider"
	"github.com/buildsmarter/siteintel-resolve/internal/ratelimit"
	"github.com/buildsmarter/siteintel-resolve/internal/resolve"
)

// engineEnv bundles the wired components a command needs.
type engineEnv struct {
	pool         db.Pool
	store        cache.Store
	logger       *apilog.Logger
	gov          *governor.Governor
	metrics      *apilog.Metrics
	orchestrator *resolve.Orchestrator
}

// initEngine wires the resolution engine from config. A missing database
// URL degrades gracefully: caching can still run on sqlite or redis, but
// rate limiting, the cost governor, request logging, and parcel enrichment
// all need Postgres and are disabled without it.
func initEngine(ctx context.Context, withMetrics bool) (*engineEnv, error) {
	env := &engineEnv{}

	if cfg.Database.URL != "" {
		pool, err := db.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		env.pool = pool
	} else {
		zap.L().Warn("no database configured; rate limiting, cost governor, logging, and enrichment disabled")
	}

	store, err := cache.Open(ctx, cfg.Cache, env.pool)
	if err != nil {
		env.Close()
		return nil, eris.Wrap(err, "init cache store")
	}
	env.store = store

	region := provider.NewRegion(cfg.Region.MinLng, cfg.Region.MinLat, cfg.Region.MaxLng, cfg.Region.MaxLat)

	nominatimOpts := []provider.NominatimOption{provider.WithNominatimRegion(region)}
	if cfg.Providers.NominatimBaseURL != "" {
		nominatimOpts = append(nominatimOpts, provider.WithNominatimBaseURL(cfg.Providers.NominatimBaseURL))
	}
	registry := provider.NewRegistry(
		provider.NewNominatim(cfg.Providers.NominatimUserAgent, nominatimOpts...),
		provider.NewGoogle(cfg.Providers.GoogleKey, provider.WithGoogleRegion(region)),
		provider.NewMapbox(cfg.Providers.MapboxToken,
			provider.WithMapboxRegion(region),
			provider.WithMapboxProximity(cfg.Region.ProximityLng, cfg.Region.ProximityLat),
			provider.WithMapboxBBox(cfg.Region.MinLng, cfg.Region.MinLat, cfg.Region.MaxLng, cfg.Region.MaxLat)),
		provider.NewCAD(),
	)

	chains, err := resolve.LoadChains(cfg.Resolve.ChainsFile)
	if err != nil {
		env.Close()
		return nil, err
	}

	opts := []resolve.Option{
		resolve.WithChains(chains),
		resolve.WithMinQueryLength(cfg.Resolve.MinQueryLength),
		resolve.WithDefaultLimit(cfg.Resolve.DefaultLimit),
		resolve.WithIntersectionSuffix(cfg.Resolve.IntersectionSuffix),
		resolve.WithBatchConcurrency(cfg.Resolve.BatchConcurrency),
	}

	if env.pool != nil {
		env.logger = apilog.New(env.pool)
		if err := env.logger.Migrate(ctx); err != nil {
			env.Close()
			return nil, err
		}
		env.gov = governor.New(env.pool)
		if err := env.gov.Migrate(ctx); err != nil {
			env.Close()
			return nil, err
		}
		opts = append(opts,
			resolve.WithLogger(env.logger),
			resolve.WithCostGate(env.gov),
			resolve.WithRateLimiter(ratelimit.New(env.logger, cfg.RateLimit)),
			resolve.WithEnricher(parcel.NewEnricher(env.pool)),
		)
	}

	if withMetrics {
		env.metrics = apilog.NewMetrics()
		opts = append(opts, resolve.WithMetrics(env.metrics))
	}

	env.orchestrator = resolve.New(registry, store, opts...)
	return env, nil
}

// Close releases the engine's connections.
func (e *engineEnv) Close() {
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			zap.L().Warn("cache store close failed", zap.Error(err))
		}
	}
	if e.pool != nil {
		e.pool.Close()
	}
}
