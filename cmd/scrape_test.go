package cmd

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mowaffer/grocery-scraper/internal/config"
	"github.com/mowaffer/grocery-scraper/internal/ratelimit"
)

func TestBuildRegistryCoversSupportedDomains(t *testing.T) {
	cfg := config.Config{
		Oscar:  config.OscarConfig{MaxPages: 100, CountTolerance: 0.8},
		Seoudi: config.SeoudiConfig{MaxLoadMoreClicks: 50, MinPayloadBytes: 2048},
	}
	clicks := ratelimit.NewClickPacer(ratelimit.Range{Min: 1, Max: 1}, nil, &ratelimit.TimerPauser{})

	reg := buildRegistry(cfg, clicks, nil, nil)

	ext, ok := reg.Resolve("www.oscarstores.com", "dairy")
	require.True(t, ok)
	require.NotNil(t, ext)

	ext, ok = reg.Resolve("seoudisupermarket.com", "bakery")
	require.True(t, ok)
	require.NotNil(t, ext)

	// Registered but not implemented: fails as unsupported, not unknown.
	_, ok = reg.Resolve("spinneys.com", "produce")
	require.False(t, ok)

	_, ok = reg.Resolve("example.org", "misc")
	require.False(t, ok)
}

func TestRootCommandWiring(t *testing.T) {
	root := newRootCmd()

	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	require.True(t, names["scrape"])
	require.True(t, names["stats"])

	flag := root.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)
}
