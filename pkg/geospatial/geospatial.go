package geospatial

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// ErrNoGeometry indicates a GeoJSON document without a usable geometry
var ErrNoGeometry = errors.New("geojson carries no geometry")

// metersPerDegree approximates one degree of latitude. Field boundaries are
// small enough that a local equirectangular projection is adequate for area.
const metersPerDegree = 111320.0

// Boundary is a parsed field boundary with the derived quantities the
// calculation pipeline needs
type Boundary struct {
	Geometry     orb.Geometry
	AreaHectares float64
	Latitude     float64
	Longitude    float64
}

// ParseBoundary parses a GeoJSON field boundary and derives its area and
// centroid. Both a bare geometry and a feature wrapper are accepted, since
// upstream mapping tools export either.
func ParseBoundary(raw string) (*Boundary, error) {
	geometry, err := parseGeometry([]byte(raw))
	if err != nil {
		return nil, err
	}

	centroid, _ := planar.CentroidArea(geometry)

	return &Boundary{
		Geometry:     geometry,
		AreaHectares: areaHectares(geometry, centroid.Lat()),
		Latitude:     centroid.Lat(),
		Longitude:    centroid.Lon(),
	}, nil
}

func parseGeometry(raw []byte) (orb.Geometry, error) {
	if feature, err := geojson.UnmarshalFeature(raw); err == nil {
		if feature.Geometry == nil {
			return nil, ErrNoGeometry
		}
		return feature.Geometry, nil
	}
	geometry, err := geojson.UnmarshalGeometry(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing boundary geojson: %w", err)
	}
	if geometry.Geometry() == nil {
		return nil, ErrNoGeometry
	}
	return geometry.Geometry(), nil
}

// areaHectares converts the geometry's planar area from square degrees to
// hectares at the boundary's latitude
func areaHectares(geometry orb.Geometry, lat float64) float64 {
	area := planar.Area(geometry)
	if area < 0 {
		area = -area
	}
	sqMeters := area * metersPerDegree * metersPerDegree * math.Cos(lat*math.Pi/180)
	return sqMeters / 10000
}
