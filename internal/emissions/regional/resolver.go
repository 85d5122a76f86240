package regional

import (
	"strings"

	"go.uber.org/zap"

	"agricarbon/impact-portal/impact-portal-backend/internal/emissions/factors"
	"agricarbon/impact-portal/impact-portal-backend/internal/events"
)

// FallbackRegion is used when an event carries no resolvable location. Its
// use is recorded in ClimateMetadata so confidence scoring can penalize it.
const FallbackRegion = "us_average"

// Resolution identifies which step of the lookup chain produced a factor
type Resolution string

const (
	ResolutionExact       Resolution = "state_crop_method"
	ResolutionStateCrop   Resolution = "state_crop"
	ResolutionClimateZone Resolution = "climate_zone"
	ResolutionBase        Resolution = "base_factor"
)

// Adjustment is a regional multiplier applied to a base emission factor,
// keyed by state, crop category, and application method. Empty key fields
// act as wildcards at their step of the resolution chain.
type Adjustment struct {
	State             string  `json:"state"`
	CropCategory      string  `json:"crop_category"`
	ApplicationMethod string  `json:"application_method"`
	Multiplier        float64 `json:"multiplier"`
}

// ClimateMetadata records how a factor's regional context was resolved.
// It travels with every calculation result for auditability.
type ClimateMetadata struct {
	State          string     `json:"state,omitempty"`
	County         string     `json:"county,omitempty"`
	ClimateZone    string     `json:"climate_zone,omitempty"`
	Resolution     Resolution `json:"resolution"`
	FallbackUsed   bool       `json:"fallback_used"`
	FallbackRegion string     `json:"fallback_region,omitempty"`
}

// AdjustedFactor is a base emission factor with its regional multiplier and
// application-method efficiency applied context attached
type AdjustedFactor struct {
	Factor           factors.EmissionFactor `json:"factor"`
	Multiplier       float64                `json:"multiplier"`
	Value            float64                `json:"value"` // Factor.Value × Multiplier
	MethodEfficiency float64                `json:"method_efficiency"`
	Metadata         ClimateMetadata        `json:"metadata"`
}

// Resolver adjusts base emission factors for state, climate zone, crop
// category, and application method
type Resolver struct {
	registry    *factors.Registry
	adjustments []Adjustment
	zoneFactors map[string]float64
	logger      *zap.Logger
}

// NewResolver creates a resolver backed by the given factor registry and
// seeded with the static regional adjustment table. The static table doubles
// as the local fallback when no external regional refresh is available.
func NewResolver(registry *factors.Registry, logger *zap.Logger) *Resolver {
	return &Resolver{
		registry:    registry,
		adjustments: defaultAdjustments(),
		zoneFactors: defaultZoneFactors(),
		logger:      logger,
	}
}

// NewResolverWithAdjustments creates a resolver with an explicit adjustment
// table. Used by tests and by deployments loading adjustments from storage.
func NewResolverWithAdjustments(registry *factors.Registry, adjustments []Adjustment, logger *zap.Logger) *Resolver {
	return &Resolver{
		registry:    registry,
		adjustments: adjustments,
		zoneFactors: defaultZoneFactors(),
		logger:      logger,
	}
}

// Resolve returns the regionally adjusted factor for a substance. The lookup
// chain is: exact state+crop+method match, state+crop default, climate-zone
// multiplier, unadjusted base factor. A missing location never fails; the
// documented fallback region is used and flagged in the metadata.
func (r *Resolver) Resolve(substance string, loc events.Location, cropCategory, applicationMethod string) (AdjustedFactor, error) {
	base, err := r.registry.GetFactor(substance)
	if err != nil {
		return AdjustedFactor{}, err
	}

	state := strings.ToLower(strings.TrimSpace(loc.State))
	meta := ClimateMetadata{State: state, County: loc.County}

	multiplier := 1.0
	resolution := ResolutionBase

	if state != "" {
		if m, ok := r.lookupAdjustment(state, cropCategory, applicationMethod); ok {
			multiplier = m
			resolution = ResolutionExact
		} else if m, ok := r.lookupAdjustment(state, cropCategory, ""); ok {
			multiplier = m
			resolution = ResolutionStateCrop
		}
		meta.ClimateZone = stateClimateZone(state)
	}

	if resolution == ResolutionBase {
		zone := meta.ClimateZone
		if zone == "" && loc.HasCoordinates() {
			zone = zoneFromLatitude(*loc.Latitude)
			meta.ClimateZone = zone
		}
		if zone != "" {
			if m, ok := r.zoneFactors[zone]; ok {
				multiplier = m
				resolution = ResolutionClimateZone
			}
		}
	}

	if !loc.IsResolvable() {
		meta.FallbackUsed = true
		meta.FallbackRegion = FallbackRegion
	}
	meta.Resolution = resolution

	adjusted := AdjustedFactor{
		Factor:           base,
		Multiplier:       multiplier,
		Value:            base.Value * multiplier,
		MethodEfficiency: MethodEfficiency(applicationMethod),
		Metadata:         meta,
	}

	r.logger.Debug("Resolved regional factor",
		zap.String("substance", substance),
		zap.String("state", state),
		zap.String("resolution", string(resolution)),
		zap.Float64("multiplier", multiplier))

	return adjusted, nil
}

// Metadata resolves the regional context of a location without a factor
// lookup. Used by strategies whose factors carry no regional adjustment.
func (r *Resolver) Metadata(loc events.Location) ClimateMetadata {
	state := strings.ToLower(strings.TrimSpace(loc.State))
	meta := ClimateMetadata{State: state, County: loc.County, Resolution: ResolutionBase}
	if state != "" {
		meta.ClimateZone = stateClimateZone(state)
	} else if loc.HasCoordinates() {
		meta.ClimateZone = zoneFromLatitude(*loc.Latitude)
	}
	if !loc.IsResolvable() {
		meta.FallbackUsed = true
		meta.FallbackRegion = FallbackRegion
	}
	return meta
}

// lookupAdjustment finds an adjustment row; an empty method argument matches
// only rows that declare no method (the state+crop default)
func (r *Resolver) lookupAdjustment(state, cropCategory, method string) (float64, bool) {
	for _, a := range r.adjustments {
		if a.State != state || a.CropCategory != cropCategory {
			continue
		}
		if a.ApplicationMethod == method {
			return a.Multiplier, true
		}
	}
	return 0, false
}

// MethodEfficiency returns the effective emissions multiplier for a
// canonicalized application method. Broadcast is the least efficient
// baseline; injection, slow-release, incorporation, and precision/split
// application lose less nutrient per unit applied.
func MethodEfficiency(method string) float64 {
	switch method {
	case "broadcast":
		return 0.70
	case "incorporated":
		return 0.60
	case "fertigation":
		return 0.55
	case "injection":
		return 0.50
	case "slow_release":
		return 0.45
	case "split":
		return 0.45
	case "precision":
		return 0.40
	default:
		// Unrecognized methods are treated as the broadcast baseline
		return 0.70
	}
}

// zoneFromLatitude derives a coarse climate zone when state is absent
func zoneFromLatitude(lat float64) string {
	abs := lat
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs < 23.5:
		return "tropical"
	case abs < 35:
		return "subtropical"
	case abs < 45:
		return "temperate"
	default:
		return "cold"
	}
}

// stateClimateZone maps US states to climate zones. States absent from the
// table resolve through coordinates or the fallback region.
func stateClimateZone(state string) string {
	zones := map[string]string{
		"florida":      "subtropical",
		"hawaii":       "tropical",
		"california":   "mediterranean",
		"arizona":      "arid",
		"nevada":       "arid",
		"new mexico":   "arid",
		"texas":        "subtropical",
		"louisiana":    "subtropical",
		"georgia":      "subtropical",
		"iowa":         "temperate",
		"illinois":     "temperate",
		"indiana":      "temperate",
		"kansas":       "temperate",
		"nebraska":     "temperate",
		"ohio":         "temperate",
		"washington":   "temperate",
		"oregon":       "temperate",
		"minnesota":    "cold",
		"north dakota": "cold",
		"wisconsin":    "cold",
		"montana":      "cold",
		"alaska":       "cold",
	}
	return zones[state]
}

// defaultZoneFactors holds multipliers for climate-zone-only resolution.
// Warmer, wetter zones see higher N2O conversion of applied nitrogen.
func defaultZoneFactors() map[string]float64 {
	return map[string]float64{
		"tropical":      1.10,
		"subtropical":   1.05,
		"mediterranean": 1.00,
		"temperate":     1.00,
		"arid":          1.15,
		"cold":          0.95,
	}
}

// defaultAdjustments is the static state/crop adjustment table. It is the
// local fallback whenever no refreshed regional dataset has been loaded.
func defaultAdjustments() []Adjustment {
	return []Adjustment{
		{State: "california", CropCategory: "citrus", ApplicationMethod: "fertigation", Multiplier: 0.92},
		{State: "california", CropCategory: "citrus", Multiplier: 0.98},
		{State: "california", CropCategory: "nuts", Multiplier: 1.04},
		{State: "california", CropCategory: "vineyard", Multiplier: 0.95},
		{State: "florida", CropCategory: "citrus", ApplicationMethod: "broadcast", Multiplier: 1.12},
		{State: "florida", CropCategory: "citrus", Multiplier: 1.08},
		{State: "florida", CropCategory: "vegetable", Multiplier: 1.10},
		{State: "iowa", CropCategory: "grain", ApplicationMethod: "injection", Multiplier: 0.94},
		{State: "iowa", CropCategory: "grain", Multiplier: 1.02},
		{State: "kansas", CropCategory: "grain", Multiplier: 1.05},
		{State: "texas", CropCategory: "grain", Multiplier: 1.07},
		{State: "washington", CropCategory: "orchard", Multiplier: 0.96},
	}
}
