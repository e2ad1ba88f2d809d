package resolve

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/buildsmarter/siteintel-resolve/internal/apilog"
	"github.com/buildsmarter/siteintel-resolve/internal/cache"
	"github.com/buildsmarter/siteintel-resolve/internal/classify"
	"github.com/buildsmarter/siteintel-resolve/internal/model"
	"github.com/buildsmarter/siteintel-resolve/internal/parcel"
	"github.com/buildsmarter/siteintel-resolve/internal/provider"
	"github.com/buildsmarter/siteintel-resolve/internal/ratelimit"
	"github.com/buildsmarter/siteintel-resolve/internal/sanitize"
)

// RateChecker gates identities. *ratelimit.Limiter satisfies it.
type RateChecker interface {
	Check(ctx context.Context, identity string) ratelimit.Decision
}

// CostGate reports whether paid adapters are currently blocked.
// *governor.Governor satisfies it.
type CostGate interface {
	Active(ctx context.Context) bool
}

// Enricher finds the parcel nearest a resolved point. *parcel.Enricher
// satisfies it.
type Enricher interface {
	Nearest(ctx context.Context, lat, lng float64) (*parcel.Match, error)
}

// RequestLogger records one row per resolution, fire-and-forget.
// *apilog.Logger satisfies it.
type RequestLogger interface {
	Write(rec apilog.Record)
}

// Orchestrator runs the resolution control loop: classify, sanitize, gate,
// walk the chain, cache, enrich, log. One instance serves all requests; all
// per-request state lives on the stack.
type Orchestrator struct {
	registry *provider.Registry
	store    cache.Store
	limiter  RateChecker
	gate     CostGate
	enricher Enricher
	logger   RequestLogger
	metrics  *apilog.Metrics
	chains   Chains

	minQueryLength     int
	defaultLimit       int
	intersectionSuffix string
	batchConcurrency   int

	sf singleflight.Group
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

// WithRateLimiter sets the per-identity gate. Nil disables rate limiting.
func WithRateLimiter(rc RateChecker) Option {
	return func(o *Orchestrator) { o.limiter = rc }
}

// WithCostGate sets the paid-provider gate. Nil means never governed.
func WithCostGate(g CostGate) Option {
	return func(o *Orchestrator) { o.gate = g }
}

// WithEnricher sets the parcel enrichment backend.
func WithEnricher(e Enricher) Option {
	return func(o *Orchestrator) { o.enricher = e }
}

// WithLogger sets the request log sink.
func WithLogger(l RequestLogger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *apilog.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithChains replaces the provider chain policy.
func WithChains(c Chains) Option {
	return func(o *Orchestrator) { o.chains = c }
}

// WithMinQueryLength sets the sanitized-input length floor.
func WithMinQueryLength(n int) Option {
	return func(o *Orchestrator) { o.minQueryLength = n }
}

// WithDefaultLimit sets the result count used when the query does not ask.
func WithDefaultLimit(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.defaultLimit = n
		}
	}
}

// WithIntersectionSuffix sets the city/state text appended to intersection
// queries so bare cross-street pairs geocode inside the operating region.
func WithIntersectionSuffix(s string) Option {
	return func(o *Orchestrator) { o.intersectionSuffix = s }
}

// WithBatchConcurrency caps parallel resolutions in ResolveBatch.
func WithBatchConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.batchConcurrency = n
		}
	}
}

// New creates an Orchestrator over the adapter registry and cache store.
func New(registry *provider.Registry, store cache.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:           registry,
		store:              store,
		chains:             DefaultChains(),
		minQueryLength:     sanitize.MinQueryLength,
		defaultLimit:       1,
		intersectionSuffix: "Houston, TX",
		batchConcurrency:   10,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Resolve runs one resolution. The returned error is one of the taxonomy
// classes: ErrInvalidInput, *RateLimitedError, or ErrInternal. Chain
// exhaustion is not an error; it produces an empty result set, with the
// Error field set when the chain failed rather than simply found nothing.
func (o *Orchestrator) Resolve(ctx context.Context, q model.Query) (*model.Response, error) {
	start := time.Now()
	traceID := uuid.NewString()[:8]

	kind := q.Kind
	if !kind.Valid() {
		kind = classify.Kind(q.Raw)
	}

	text := sanitize.Query(q.Raw)
	if sanitize.TooShort(text, o.minQueryLength) {
		o.countResolution(kind, "rejected")
		return nil, eris.Wrapf(ErrInvalidInput, "query shorter than %d characters after sanitization", o.minQueryLength)
	}

	identity := q.Identity
	if identity == "" {
		identity = ratelimit.AnonPrefix + "unknown"
	}
	if o.limiter != nil {
		d := o.limiter.Check(ctx, identity)
		if !d.Allowed {
			if o.metrics != nil {
				o.metrics.RateLimited.Inc()
			}
			o.countResolution(kind, "rejected")
			o.logAttempt(traceID, identity, kind, "", false, 0, "rate_limited", "", start)
			return nil, &RateLimitedError{RetryAfter: d.RetryAfter}
		}
	}

	resp := &model.Response{
		Results:    []model.Result{},
		KindUsed:   kind,
		TraceID:    traceID,
		Enrichment: model.EnrichmentNotAttempted,
	}

	if kind == model.KindPoint {
		res, err := parsePoint(text)
		if err != nil {
			o.countResolution(kind, "rejected")
			return nil, err
		}
		resp.Provider = "local"
		resp.Results = []model.Result{*res}
	} else if err := o.walkChain(ctx, resp, q, kind, text); err != nil {
		return nil, err
	}

	o.enrich(ctx, resp)

	outcome := "resolved"
	if len(resp.Results) == 0 {
		outcome = "empty"
		if resp.Error != "" {
			outcome = "error"
		}
	}
	o.countResolution(kind, outcome)
	if o.metrics != nil {
		o.metrics.ResolveDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
	}
	o.logAttempt(traceID, identity, kind, resp.Provider, resp.CacheHit, resp.CostEstimate, outcome, resp.Error, start)

	return resp, nil
}

// walkChain tries each provider for the kind in order, honoring cache and
// cost gates, and fills the response from the first non-empty outcome.
func (o *Orchestrator) walkChain(ctx context.Context, resp *model.Response, q model.Query, kind model.QueryKind, text string) error {
	limit := q.Limit
	if limit <= 0 {
		limit = o.defaultLimit
	}

	query := text
	if kind == model.KindIntersection {
		query = o.suffixIntersection(query)
	}

	county := ""
	if kind == model.KindParcelID {
		county = classify.DetectCounty(text)
	}
	req := provider.Request{Kind: kind, Limit: limit, County: county, SessionToken: q.SessionToken}

	var boundsRegion *provider.Region
	if q.Bounds != nil {
		boundsRegion = provider.NewRegion(q.Bounds.MinLng, q.Bounds.MinLat, q.Bounds.MaxLng, q.Bounds.MaxLat)
	}

	var lastErr error
	for _, entry := range o.chains.forKind(kind, q.PreferredProvider) {
		adapter := o.registry.Get(entry.Provider)
		if adapter == nil || !adapter.Supports(kind) {
			continue
		}

		key := cache.Key(entry.Provider, string(kind), query)
		if o.store != nil {
			cached, err := o.store.Get(ctx, key)
			if err != nil {
				return eris.Wrap(ErrInternal, err.Error())
			}
			if cached != nil {
				var results []model.Result
				if uerr := json.Unmarshal(cached.Payload, &results); uerr == nil && len(results) > 0 {
					if kept := provider.FilterRegion(results, boundsRegion); len(kept) > 0 {
						if berr := o.store.BumpHit(ctx, key); berr != nil {
							zap.L().Warn("cache hit count update failed", zap.Error(berr))
						}
						o.countCache("hit")
						o.maybeRevalidate(ctx, adapter, entry, key, cached, query, req)
						resp.Results = capResults(kept, limit)
						resp.Provider = entry.Provider
						resp.CacheHit = true
						return nil
					}
					// Every cached candidate is outside the requested bounds;
					// a later provider may still cover them.
				}
				// Corrupt payload reads as a miss and gets overwritten below.
			}
			o.countCache("miss")
		}

		if adapter.Paid() && o.gate != nil {
			active := o.gate.Active(ctx)
			o.setGovernorGauge(active)
			if active {
				zap.L().Debug("paid provider skipped, cost governor active",
					zap.String("provider", entry.Provider))
				o.countProvider(entry.Provider, "governed")
				continue
			}
		}

		results, err := o.fetchShared(ctx, key, adapter, query, req)
		if err != nil {
			lastErr = err
			outcome := "error"
			if errors.Is(err, provider.ErrQuota) {
				outcome = "quota"
			}
			o.countProvider(entry.Provider, outcome)
			zap.L().Warn("provider failed, trying next",
				zap.String("provider", entry.Provider),
				zap.Error(err))
			continue
		}

		// The call happened, so the spend did, whatever comes back.
		resp.CostEstimate += adapter.CostPerCall()
		if o.metrics != nil {
			o.metrics.ProviderCost.WithLabelValues(entry.Provider).Add(adapter.CostPerCall())
		}

		if len(results) == 0 {
			o.countProvider(entry.Provider, "empty")
			continue
		}

		// Rank by confidence; equal scores keep provider-reported order.
		sort.SliceStable(results, func(i, j int) bool {
			return results[i].Confidence > results[j].Confidence
		})

		if o.store != nil {
			if payload, merr := json.Marshal(results); merr == nil {
				putErr := o.store.Put(ctx, cache.Entry{
					Key:      key,
					Provider: entry.Provider,
					Endpoint: string(kind),
					Payload:  payload,
				}, entry.TTL)
				if putErr != nil {
					zap.L().Warn("cache write failed", zap.Error(putErr))
				}
			}
		}

		o.countProvider(entry.Provider, "success")

		results = provider.FilterRegion(results, boundsRegion)
		if len(results) == 0 {
			continue
		}
		resp.Results = capResults(results, limit)
		resp.Provider = entry.Provider
		return nil
	}

	if lastErr != nil {
		resp.Error = "no provider could resolve the query"
	}
	return nil
}

// maybeRevalidate refreshes a near-expiry entry while it is still being
// served. An upstream payload identical to the cached one extends the expiry
// in place; a changed payload overwrites it; an upstream failure leaves the
// entry alone. Paid providers never run for revalidation.
func (o *Orchestrator) maybeRevalidate(ctx context.Context, adapter provider.Adapter, entry ChainEntry, key string, cached *cache.Entry, query string, req provider.Request) {
	if adapter.Paid() || cached.ExpiresAt.IsZero() || entry.TTL <= 0 {
		return
	}
	remaining := time.Until(cached.ExpiresAt)
	if remaining <= 0 || remaining > entry.TTL/10 {
		return
	}

	results, err := o.fetchShared(ctx, key, adapter, query, req)
	if err != nil || len(results) == 0 {
		return
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Confidence > results[j].Confidence
	})
	payload, err := json.Marshal(results)
	if err != nil {
		return
	}

	if bytes.Equal(payload, cached.Payload) {
		if err := o.store.ExtendTTL(ctx, key, entry.TTL); err != nil {
			zap.L().Warn("cache expiry extension failed", zap.Error(err))
		}
		return
	}
	if err := o.store.Put(ctx, cache.Entry{
		Key:      key,
		Provider: entry.Provider,
		Endpoint: cached.Endpoint,
		Payload:  payload,
	}, entry.TTL); err != nil {
		zap.L().Warn("cache rewrite failed", zap.Error(err))
	}
}

// fetchShared collapses concurrent identical cache misses into one upstream
// call. Every waiter gets its own copy of the result: callers sort, filter,
// and write enrichment into the slice, so handing them the shared one would
// race.
func (o *Orchestrator) fetchShared(ctx context.Context, key string, adapter provider.Adapter, query string, req provider.Request) ([]model.Result, error) {
	v, err, _ := o.sf.Do(key, func() (interface{}, error) {
		return adapter.Fetch(ctx, query, req)
	})
	if err != nil {
		return nil, err
	}
	shared := v.([]model.Result)
	results := make([]model.Result, len(shared))
	copy(results, shared)
	return results, nil
}

// enrich attaches a parcel record to the top result, best-effort. Failure
// downgrades the status, never the resolution.
func (o *Orchestrator) enrich(ctx context.Context, resp *model.Response) {
	if len(resp.Results) == 0 {
		return
	}

	top := &resp.Results[0]
	if top.Jurisdiction == "" {
		top.Jurisdiction = parcel.DetectJurisdiction(top.Latitude, top.Longitude)
	}
	if top.Parcel != nil {
		resp.Enrichment = model.EnrichmentSucceeded
		return
	}
	if o.enricher == nil || top.Jurisdiction == "" {
		return
	}

	m, err := o.enricher.Nearest(ctx, top.Latitude, top.Longitude)
	if err != nil {
		resp.Enrichment = model.EnrichmentSkipped
		zap.L().Warn("parcel enrichment failed",
			zap.String("trace_id", resp.TraceID),
			zap.Error(err))
		return
	}
	resp.Enrichment = model.EnrichmentSucceeded
	if m != nil {
		rec := m.Record
		top.Parcel = &rec
	}
}

// ResolveBatch resolves queries in parallel, bounded by the configured
// concurrency. Individual failures become error-carrying responses; the
// batch itself never fails.
func (o *Orchestrator) ResolveBatch(ctx context.Context, queries []model.Query) []*model.Response {
	if len(queries) == 0 {
		return nil
	}

	responses := make([]*model.Response, len(queries))

	eg, gCtx := errgroup.WithContext(ctx)
	eg.SetLimit(o.batchConcurrency)

	for i, q := range queries {
		i, q := i, q
		eg.Go(func() error {
			resp, err := o.Resolve(gCtx, q)
			if err != nil {
				resp = &model.Response{Results: []model.Result{}, Error: err.Error()}
				var rl *RateLimitedError
				if errors.As(err, &rl) {
					resp.RetryAfter = int(rl.RetryAfter.Seconds())
				}
			}
			responses[i] = resp
			return nil
		})
	}

	_ = eg.Wait()
	return responses
}

// suffixIntersection appends the configured city/state unless the query
// already ends with the city, so "Main & Elm" geocodes inside the region.
// The city must appear as a trailing token: a street named "Houston Ave"
// or "Houstonian Dr" does not count as the city.
func (o *Orchestrator) suffixIntersection(query string) string {
	if o.intersectionSuffix == "" {
		return query
	}
	city := o.intersectionSuffix
	if i := strings.IndexByte(city, ','); i > 0 {
		city = city[:i]
	}
	if endsWithCity(query, city) {
		return query
	}
	return query + ", " + o.intersectionSuffix
}

// endsWithCity reports whether the city's token run appears among the
// query's trailing tokens, allowing one state token after the city.
func endsWithCity(query, city string) bool {
	words := tokenize(query)
	want := tokenize(city)
	if len(want) == 0 || len(words) < len(want) {
		return false
	}
	start := len(words) - len(want) - 1
	if start < 0 {
		start = 0
	}
	for i := start; i+len(want) <= len(words); i++ {
		match := true
		for j, w := range want {
			if !strings.EqualFold(words[i+j], w) {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// tokenize splits on anything that is not a letter or digit.
func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// parsePoint resolves a coordinate-pair query locally. No provider runs for
// point inputs.
func parsePoint(text string) (*model.Result, error) {
	parts := strings.SplitN(text, ",", 2)
	if len(parts) != 2 {
		return nil, eris.Wrap(ErrInvalidInput, "point: expected lat,lng")
	}
	lat, latErr := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lng, lngErr := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if latErr != nil || lngErr != nil {
		return nil, eris.Wrap(ErrInvalidInput, "point: malformed coordinates")
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return nil, eris.Wrap(ErrInvalidInput, "point: coordinates out of range")
	}
	return &model.Result{
		Kind:         model.KindPoint,
		Confidence:   1.0,
		Latitude:     lat,
		Longitude:    lng,
		Label:        fmt.Sprintf("%.6f, %.6f", lat, lng),
		Jurisdiction: parcel.DetectJurisdiction(lat, lng),
	}, nil
}

// capResults bounds the candidate list without copying.
func capResults(results []model.Result, limit int) []model.Result {
	if limit > 0 && len(results) > limit {
		return results[:limit]
	}
	return results
}

func (o *Orchestrator) countResolution(kind model.QueryKind, outcome string) {
	if o.metrics != nil {
		o.metrics.Resolutions.WithLabelValues(string(kind), outcome).Inc()
	}
}

func (o *Orchestrator) countCache(result string) {
	if o.metrics != nil {
		o.metrics.CacheLookups.WithLabelValues(result).Inc()
	}
}

func (o *Orchestrator) countProvider(name, outcome string) {
	if o.metrics != nil {
		o.metrics.ProviderCalls.WithLabelValues(name, outcome).Inc()
	}
}

func (o *Orchestrator) setGovernorGauge(active bool) {
	if o.metrics == nil {
		return
	}
	if active {
		o.metrics.GovernorActive.Set(1)
	} else {
		o.metrics.GovernorActive.Set(0)
	}
}

func (o *Orchestrator) logAttempt(traceID, identity string, kind model.QueryKind, providerName string, cacheHit bool, cost float64, status, errMsg string, start time.Time) {
	if o.logger == nil {
		return
	}
	o.logger.Write(apilog.Record{
		TraceID:   traceID,
		Identity:  identity,
		QueryKind: string(kind),
		Provider:  providerName,
		Endpoint:  string(kind),
		CacheHit:  cacheHit,
		Cost:      cost,
		Status:    status,
		Error:     errMsg,
		LatencyMS: time.Since(start).Milliseconds(),
	})
}
