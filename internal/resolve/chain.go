package resolve

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/buildsmarter/siteintel-resolve/internal/model"
)

// ChainEntry is one step of a provider chain: which adapter to try and how
// long its responses stay cached. TTL is per-provider because the sources
// differ wildly in volatility and price.
type ChainEntry struct {
	Provider string
	TTL      time.Duration
}

// Chains maps each query kind to its ordered provider chain. Order is data,
// not code: the orchestrator walks whatever list it is given.
type Chains map[model.QueryKind][]ChainEntry

// DefaultChains is the shipped policy: free sources first, the cheap paid
// source second, the expensive one last. Parcel lookups go straight to the
// county services. Point queries resolve locally and have no chain.
func DefaultChains() Chains {
	geocode := []ChainEntry{
		{Provider: "nominatim", TTL: 30 * 24 * time.Hour},
		{Provider: "mapbox", TTL: 7 * 24 * time.Hour},
		{Provider: "google", TTL: 24 * time.Hour},
	}
	return Chains{
		model.KindAddress:      geocode,
		model.KindIntersection: geocode,
		model.KindParcelID: {
			{Provider: "cad", TTL: 30 * 24 * time.Hour},
		},
	}
}

// chainFile is the on-disk YAML shape. TTLs are duration strings ("720h").
type chainFile struct {
	Chains map[string][]struct {
		Provider string `yaml:"provider"`
		TTL      string `yaml:"ttl"`
	} `yaml:"chains"`
}

// LoadChains reads the chain policy file. An empty path returns the
// defaults; a named file must parse completely or the load fails, so a
// typo'd policy cannot silently fall back to shipping defaults.
func LoadChains(path string) (Chains, error) {
	if path == "" {
		return DefaultChains(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "resolve: read chain policy %s", path)
	}

	var f chainFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "resolve: parse chain policy %s", path)
	}

	chains := make(Chains, len(f.Chains))
	for kind, entries := range f.Chains {
		k := model.QueryKind(kind)
		if !k.Valid() {
			return nil, eris.Errorf("resolve: chain policy: unknown query kind %q", kind)
		}
		chain := make([]ChainEntry, 0, len(entries))
		for _, e := range entries {
			ttl, err := time.ParseDuration(e.TTL)
			if err != nil {
				return nil, eris.Wrapf(err, "resolve: chain policy: ttl for %s/%s", kind, e.Provider)
			}
			chain = append(chain, ChainEntry{Provider: e.Provider, TTL: ttl})
		}
		chains[k] = chain
	}
	return chains, nil
}

// forKind returns the chain for kind with the preferred provider, when it
// appears in the chain, moved to the front. Preference reorders; it never
// adds an adapter the policy did not include.
func (c Chains) forKind(kind model.QueryKind, preferred string) []ChainEntry {
	chain := c[kind]
	if preferred == "" {
		return chain
	}
	for i, e := range chain {
		if e.Provider == preferred && i > 0 {
			reordered := make([]ChainEntry, 0, len(chain))
			reordered = append(reordered, e)
			reordered = append(reordered, chain[:i]...)
			reordered = append(reordered, chain[i+1:]...)
			return reordered
		}
	}
	return chain
}
