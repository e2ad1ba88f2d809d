// Package sanitize normalizes raw query text before it reaches any provider.
package sanitize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MinQueryLength is the default minimum sanitized input length. Anything
// shorter is rejected before a single provider call is made.
const MinQueryLength = 3

// permitted reports whether r belongs to the address/identifier character
// set: letters, digits, spaces, and the punctuation that appears in street
// addresses, intersections, and formatted parcel identifiers.
func permitted(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case ' ', ',', '.', '-', '#', '&', '/', '\'':
		return true
	}
	return false
}

// foldTransformer decomposes to NFKD, drops combining marks, and recomposes,
// so accented input matches the ASCII forms upstream datasets store.
var foldTransformer = transform.Chain(
	norm.NFKD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// Query strips impermissible characters, folds diacritics, and collapses
// runs of whitespace. The result may be empty; length policy is the
// caller's concern.
func Query(raw string) string {
	folded, _, err := transform.String(foldTransformer, raw)
	if err != nil {
		folded = raw
	}

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if permitted(r) {
			b.WriteRune(r)
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

// TooShort reports whether the sanitized query falls below the minimum
// length. A zero min applies the package default.
func TooShort(sanitized string, min int) bool {
	if min <= 0 {
		min = MinQueryLength
	}
	return len(sanitized) < min
}
