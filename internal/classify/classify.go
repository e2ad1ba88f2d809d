// Package classify assigns a query kind to raw location input. Classification
// is pure and total: every string maps to exactly one kind.
package classify

import (
	"regexp"
	"strings"

	"github.com/buildsmarter/siteintel-resolve/internal/model"
)

var (
	// "29.7604,-95.3698" with optional signs and decimals.
	pointPattern = regexp.MustCompile(`^-?\d+\.?\d*\s*,\s*-?\d+\.?\d*$`)

	// "&" or a standalone "and" between street tokens.
	conjunctionPattern = regexp.MustCompile(`(?i)\S\s*(&|\band\b)\s*\S`)

	digitsOnly = regexp.MustCompile(`^\d+$`)
)

// Parcel identifier length bounds for the global digit-count fallback.
// Observed jurisdiction formats range from 6 to 15 digits; below 8 the
// collision rate with house numbers is too high, so the global rule
// starts at 8 and per-county patterns cover the shorter formats.
const (
	parcelIDMinDigits = 8
	parcelIDMaxDigits = 15
)

// Kind classifies raw input in priority order: point, intersection,
// parcel identifier, address.
func Kind(raw string) model.QueryKind {
	trimmed := strings.TrimSpace(raw)

	if pointPattern.MatchString(trimmed) {
		return model.KindPoint
	}

	if conjunctionPattern.MatchString(trimmed) {
		return model.KindIntersection
	}

	digits := stripSeparators(trimmed)
	if digitsOnly.MatchString(digits) && len(digits) >= parcelIDMinDigits && len(digits) <= parcelIDMaxDigits {
		return model.KindParcelID
	}

	// The county table also covers formats the global rule misses, like
	// Montgomery's letter-prefixed identifiers and Fort Bend's short ones.
	if DetectCounty(trimmed) != "" {
		return model.KindParcelID
	}

	return model.KindAddress
}

// countyPattern pairs a jurisdiction key with its parcel-identifier format.
type countyPattern struct {
	county  string
	pattern *regexp.Regexp
}

// Per-jurisdiction identifier patterns, checked against both the raw input
// and its separator-stripped form. This is the policy table refining the
// global digit-count heuristic; extend it as jurisdictions are onboarded.
var countyPatterns = []countyPattern{
	{"harris", regexp.MustCompile(`^\d{13}$|^\d{3}-\d{3}-\d{3}-\d{4}$`)},
	{"fort_bend", regexp.MustCompile(`^\d{6,12}$`)},
	{"montgomery", regexp.MustCompile(`^[A-Z]\d{6,10}$|^\d{8,12}$`)},
}

// DetectCounty returns the jurisdiction key whose parcel-identifier pattern
// matches the input, or "" when none does. Harris's fixed 13-digit format is
// checked first because the broader Fort Bend range would otherwise shadow it.
func DetectCounty(id string) string {
	stripped := stripSeparators(id)
	for _, cp := range countyPatterns {
		if cp.pattern.MatchString(stripped) || cp.pattern.MatchString(id) {
			return cp.county
		}
	}
	return ""
}

// stripSeparators removes whitespace, hyphens, and dots so formatted parcel
// identifiers compare against their canonical digit runs.
func stripSeparators(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '-', '.':
			return -1
		}
		return r
	}, s)
}
