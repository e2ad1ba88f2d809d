package parcel

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/buildsmarter/siteintel-resolve/internal/db"
	"github.com/buildsmarter/siteintel-resolve/internal/model"
)

// Search radii in meters, tried smallest-first. Expanding only on miss keeps
// the common urban case to one cheap indexed query.
var searchRadii = []float64{10, 50, 100, 200, 500}

// Match is a parcel hit with its distance from the query point.
type Match struct {
	Record     model.ParcelRecord
	DistanceM  float64
	Confidence float64
}

// Enricher finds the parcel containing or nearest a resolved coordinate.
type Enricher struct {
	pool db.Pool
}

func NewEnricher(pool db.Pool) *Enricher {
	return &Enricher{pool: pool}
}

// Nearest returns the closest parcel within the widest search radius, or
// (nil, nil) when no parcel is near the point. Enrichment is best-effort:
// callers treat any error as "no parcel data" and still return the resolved
// coordinate.
func (e *Enricher) Nearest(ctx context.Context, lat, lng float64) (*Match, error) {
	for _, radius := range searchRadii {
		m, err := e.within(ctx, lat, lng, radius)
		if err != nil {
			return nil, err
		}
		if m != nil {
			m.Confidence = distanceConfidence(m.DistanceM)
			zap.L().Debug("parcel match",
				zap.String("parcel_id", m.Record.ID),
				zap.Float64("distance_m", m.DistanceM),
				zap.Float64("radius_m", radius))
			return m, nil
		}
	}
	return nil, nil
}

func (e *Enricher) within(ctx context.Context, lat, lng, radius float64) (*Match, error) {
	row := e.pool.QueryRow(ctx, `
		SELECT parcel_id, owner_name, situs_address, acreage, assessed_value,
		       ST_AsText(geom) AS geometry,
		       ST_Distance(geom::geography, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography) AS distance_m
		FROM canonical_parcels
		WHERE ST_DWithin(geom::geography, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, $3)
		ORDER BY distance_m
		LIMIT 1`,
		lng, lat, radius,
	)

	var m Match
	var owner, situs, geometry *string
	var acreage, value *float64
	err := row.Scan(&m.Record.ID, &owner, &situs, &acreage, &value, &geometry, &m.DistanceM)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "parcel: nearest query")
	}

	m.Record.OwnerName = owner
	m.Record.SitusAddress = situs
	m.Record.Acreage = acreage
	m.Record.AssessedValue = value
	m.Record.GeometryRef = geometry
	return &m, nil
}

// distanceConfidence maps match distance onto the unified confidence scale.
// Inside 10m the point is effectively on the parcel; past 200m the
// association is a guess and scored accordingly.
func distanceConfidence(meters float64) float64 {
	switch {
	case meters < 10:
		return 0.95
	case meters < 50:
		return 0.85
	case meters < 100:
		return 0.7
	case meters < 200:
		return 0.5
	default:
		return 0.3
	}
}
