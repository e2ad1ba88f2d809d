// Package parcel enriches resolved coordinates with parcel records from the
// canonical parcel table and assigns jurisdictions by bounding box.
package parcel

import (
	geom "github.com/twpayne/go-geom"
)

// countyBox pairs a jurisdiction key with its lon/lat bounding box. Boxes
// overlap at the edges; first match wins, so order larger counties last.
type countyBox struct {
	county string
	bounds *geom.Bounds
}

func box(minLng, minLat, maxLng, maxLat float64) *geom.Bounds {
	b := geom.NewBounds(geom.XY)
	b.Set(minLng, minLat, maxLng, maxLat)
	return b
}

var countyBoxes = []countyBox{
	{"fort_bend", box(-96.09, 29.25, -95.44, 29.79)},
	{"montgomery", box(-95.83, 30.03, -95.07, 30.63)},
	{"harris", box(-95.96, 29.49, -94.91, 30.17)},
}

// DetectJurisdiction returns the jurisdiction key containing the point, or
// "" when the point falls outside every configured county.
func DetectJurisdiction(lat, lng float64) string {
	pt := geom.Coord{lng, lat}
	for _, cb := range countyBoxes {
		if cb.bounds.OverlapsPoint(geom.XY, pt) {
			return cb.county
		}
	}
	return ""
}
