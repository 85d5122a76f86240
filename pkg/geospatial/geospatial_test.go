package geospatial

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const squareGeometry = `{
	"type": "Polygon",
	"coordinates": [[[0, 0], [0.01, 0], [0.01, 0.01], [0, 0.01], [0, 0]]]
}`

const wrappedFeature = `{
	"type": "Feature",
	"properties": {"name": "north field"},
	"geometry": {
		"type": "Polygon",
		"coordinates": [[[-83.1, 40.0], [-83.09, 40.0], [-83.09, 40.01], [-83.1, 40.01], [-83.1, 40.0]]]
	}
}`

func TestParseBoundaryGeometry(t *testing.T) {
	b, err := ParseBoundary(squareGeometry)
	require.NoError(t, err)

	// 0.01° × 0.01° square at the equator is roughly 1113 m on a side
	assert.InDelta(t, 123.9, b.AreaHectares, 0.5)
	assert.InDelta(t, 0.005, b.Latitude, 1e-9)
	assert.InDelta(t, 0.005, b.Longitude, 1e-9)
}

func TestParseBoundaryFeatureWrapper(t *testing.T) {
	b, err := ParseBoundary(wrappedFeature)
	require.NoError(t, err)

	assert.InDelta(t, 40.005, b.Latitude, 1e-6)
	assert.InDelta(t, -83.095, b.Longitude, 1e-6)
	assert.Greater(t, b.AreaHectares, 0.0)
}

func TestParseBoundaryInvalid(t *testing.T) {
	_, err := ParseBoundary("not geojson")
	assert.Error(t, err)

	_, err = ParseBoundary(`{"type": "Feature", "properties": {}, "geometry": null}`)
	assert.Error(t, err)
}
