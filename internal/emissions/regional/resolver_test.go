package regional

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"agricarbon/impact-portal/impact-portal-backend/internal/emissions/factors"
	"agricarbon/impact-portal/impact-portal-backend/internal/events"
)

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	registry := factors.NewRegistry(zap.NewNop())
	return NewResolver(registry, zap.NewNop())
}

func TestResolveExactStateCropMethod(t *testing.T) {
	resolver := newTestResolver(t)

	adjusted, err := resolver.Resolve("nitrogen", events.Location{State: "Florida"}, "citrus", "broadcast")
	require.NoError(t, err)

	assert.Equal(t, ResolutionExact, adjusted.Metadata.Resolution)
	assert.Equal(t, 1.12, adjusted.Multiplier)
	assert.InDelta(t, 5.86*1.12, adjusted.Value, 1e-9)
	assert.False(t, adjusted.Metadata.FallbackUsed)
}

func TestResolveStateCropDefaultMethod(t *testing.T) {
	resolver := newTestResolver(t)

	// No injection-specific row for florida/citrus; falls to state+crop default
	adjusted, err := resolver.Resolve("nitrogen", events.Location{State: "florida"}, "citrus", "injection")
	require.NoError(t, err)

	assert.Equal(t, ResolutionStateCrop, adjusted.Metadata.Resolution)
	assert.Equal(t, 1.08, adjusted.Multiplier)
}

func TestResolveClimateZoneFromState(t *testing.T) {
	resolver := newTestResolver(t)

	// Minnesota has no adjustment rows; resolution falls to its climate zone
	adjusted, err := resolver.Resolve("nitrogen", events.Location{State: "minnesota"}, "grain", "broadcast")
	require.NoError(t, err)

	assert.Equal(t, ResolutionClimateZone, adjusted.Metadata.Resolution)
	assert.Equal(t, "cold", adjusted.Metadata.ClimateZone)
	assert.Equal(t, 0.95, adjusted.Multiplier)
}

func TestResolveClimateZoneFromCoordinates(t *testing.T) {
	resolver := newTestResolver(t)

	lat, lon := 27.9, -81.5
	adjusted, err := resolver.Resolve("nitrogen", events.Location{Latitude: &lat, Longitude: &lon}, "citrus", "broadcast")
	require.NoError(t, err)

	assert.Equal(t, ResolutionClimateZone, adjusted.Metadata.Resolution)
	assert.Equal(t, "subtropical", adjusted.Metadata.ClimateZone)
	assert.Equal(t, 1.05, adjusted.Multiplier)
	assert.False(t, adjusted.Metadata.FallbackUsed)
}

func TestResolveMissingLocationUsesFallback(t *testing.T) {
	resolver := newTestResolver(t)

	adjusted, err := resolver.Resolve("nitrogen", events.Location{}, "grain", "broadcast")
	require.NoError(t, err)

	assert.Equal(t, ResolutionBase, adjusted.Metadata.Resolution)
	assert.True(t, adjusted.Metadata.FallbackUsed)
	assert.Equal(t, FallbackRegion, adjusted.Metadata.FallbackRegion)
	assert.Equal(t, 5.86, adjusted.Value)
}

func TestResolveNeverZero(t *testing.T) {
	resolver := newTestResolver(t)
	registry := factors.NewRegistry(zap.NewNop())

	locations := []events.Location{
		{},
		{State: "iowa"},
		{State: "unknown state"},
	}
	for _, substance := range registry.Substances() {
		for _, loc := range locations {
			adjusted, err := resolver.Resolve(substance, loc, "grain", "broadcast")
			require.NoError(t, err)
			assert.Greater(t, adjusted.Value, 0.0,
				"substance %s must resolve to a positive factor", substance)
		}
	}
}

func TestResolveUnknownSubstance(t *testing.T) {
	resolver := newTestResolver(t)

	_, err := resolver.Resolve("unobtainium", events.Location{State: "iowa"}, "grain", "broadcast")
	assert.ErrorIs(t, err, factors.ErrUnknownSubstance)
}

func TestMethodEfficiencyVocabulary(t *testing.T) {
	// Broadcast is the least efficient baseline; every refined method loses
	// less nutrient per unit applied
	broadcast := MethodEfficiency("broadcast")
	assert.Equal(t, 0.70, broadcast)

	for _, method := range []string{"injection", "slow_release", "incorporated", "precision", "split", "fertigation"} {
		assert.Less(t, MethodEfficiency(method), broadcast, method)
	}

	// Unrecognized methods are treated as broadcast
	assert.Equal(t, broadcast, MethodEfficiency("catapult"))
}

func TestMetadataWithoutFactorLookup(t *testing.T) {
	resolver := newTestResolver(t)

	meta := resolver.Metadata(events.Location{State: "Iowa", County: "Polk"})
	assert.Equal(t, "iowa", meta.State)
	assert.Equal(t, "Polk", meta.County)
	assert.Equal(t, "temperate", meta.ClimateZone)
	assert.False(t, meta.FallbackUsed)

	meta = resolver.Metadata(events.Location{})
	assert.True(t, meta.FallbackUsed)
	assert.Equal(t, FallbackRegion, meta.FallbackRegion)
}
