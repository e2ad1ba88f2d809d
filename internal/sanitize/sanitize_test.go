package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuery(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"passthrough", "1234 Main St, Houston TX", "1234 Main St, Houston TX"},
		{"collapses whitespace", "1234   Main \t St", "1234 Main St"},
		{"trims edges", "  77002  ", "77002"},
		{"strips control characters", "Main\x00 St\x07", "Main St"},
		{"strips angle brackets", "<script>Main St</script>", "scriptMain St/script"},
		{"keeps address punctuation", "100 N. Main St #4, Apt 1/2 - O'Brien & Co", "100 N. Main St #4, Apt 1/2 - O'Brien & Co"},
		{"folds diacritics", "Peñasco Cañón", "Penasco Canon"},
		{"empty", "", ""},
		{"only stripped characters", "@!%^*", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Query(tt.raw))
		})
	}
}

func TestTooShort(t *testing.T) {
	assert.True(t, TooShort("ab", 0), "default minimum is 3")
	assert.False(t, TooShort("abc", 0))
	assert.True(t, TooShort("abcd", 5))
	assert.False(t, TooShort("abcde", 5))
	assert.True(t, TooShort("", 0))
}
