package cache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey_Deterministic(t *testing.T) {
	k1 := Key("nominatim", "address", "1234 Main St, Houston TX")
	k2 := Key("nominatim", "address", "1234 Main St, Houston TX")
	assert.Equal(t, k1, k2)
	assert.True(t, strings.HasPrefix(k1, "nominatim:address:"))
	// provider:endpoint: prefix + 64-char SHA-256 hex.
	assert.Len(t, k1, len("nominatim:address:")+64)
}

func TestKey_CaseAndSpaceInsensitive(t *testing.T) {
	assert.Equal(t,
		Key("google", "address", "100 Main St"),
		Key("google", "address", "  100 MAIN ST  "),
	)
}

func TestKey_ProviderNamespacing(t *testing.T) {
	input := "1234 Main St"
	assert.NotEqual(t, Key("google", "address", input), Key("nominatim", "address", input))
	assert.NotEqual(t, Key("google", "address", input), Key("google", "intersection", input))
}
