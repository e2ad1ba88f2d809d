package parcel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectJurisdiction(t *testing.T) {
	tests := []struct {
		name string
		lat  float64
		lng  float64
		want string
	}{
		{"downtown houston", 29.7604, -95.3698, "harris"},
		{"sugar land", 29.6197, -95.6349, "fort_bend"},
		{"conroe", 30.3119, -95.4561, "montgomery"},
		{"austin outside coverage", 30.2672, -97.7431, ""},
		{"new york outside coverage", 40.7128, -74.006, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectJurisdiction(tt.lat, tt.lng))
		})
	}
}
