package calculator

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"agricarbon/impact-portal/impact-portal-backend/internal/emissions/defaults"
	"agricarbon/impact-portal/impact-portal-backend/internal/emissions/factors"
	"agricarbon/impact-portal/impact-portal-backend/internal/emissions/regional"
	"agricarbon/impact-portal/impact-portal-backend/internal/events"
)

// MethodologyVersion identifies the calculation methodology revision. Every
// result carries it so audits can be re-derived against the right rules.
const MethodologyVersion = "AGC-2.1"

// ProcessorVersion identifies the engine build that produced a result
const ProcessorVersion = "1.4.0"

// DataSource identifies the provenance of the factor set used
const DataSource = "agricarbon_factor_registry"

// VerificationStatus describes how much trust a calculation result carries
type VerificationStatus string

const (
	StatusEstimated        VerificationStatus = "estimated"
	StatusFactorsVerified  VerificationStatus = "factors_verified"
	StatusUSDACertified    VerificationStatus = "usda_certified"
	StatusCalculationError VerificationStatus = "calculation_error"
)

// Component is one named contribution to a result's CO2e total. The nutrient
// split is persisted here at calculation time so factor corrections never
// need to reconstruct it from substance names.
type Component struct {
	Name  string  `json:"name"`
	CO2e  float64 `json:"co2e"`
	Basis string  `json:"basis,omitempty"`
}

// CalculationResult is the signed CO2e outcome of a single event. Positive
// values are emissions; negative values are sequestration or avoided
// emissions. Results are pure values: the same event, location, and factor
// set always produce an identical result.
type CalculationResult struct {
	CO2e               float64                  `json:"co2e"` // kg CO2e
	EfficiencyScore    float64                  `json:"efficiency_score"`
	Breakdown          []Component              `json:"breakdown"`
	ConfidenceScore    float64                  `json:"confidence_score"`
	MethodologyVersion string                   `json:"methodology_version"`
	DataSource         string                   `json:"data_source"`
	ClimateMetadata    regional.ClimateMetadata `json:"climate_metadata"`
	Recommendations    []string                 `json:"recommendations,omitempty"`
	VerificationStatus VerificationStatus       `json:"verification_status"`
	FactorVersions     map[string]int           `json:"factor_versions,omitempty"`
	FactorsCalibrated  bool                     `json:"factors_calibrated"`
	Inputs             defaults.NormalizedInputs `json:"inputs"`
	CalculationError   string                   `json:"calculation_error,omitempty"`
}

// strategyOutcome is the raw product of one category strategy before
// scoring and provenance stamping
type strategyOutcome struct {
	co2e            float64
	components      []Component
	metadata        regional.ClimateMetadata
	factorVersions  map[string]int
	calibrated      bool
	recommendations []string
}

// Calculator computes per-event CO2e impacts. It dispatches on the closed
// event category enum, one pure strategy per variant.
type Calculator struct {
	registry *factors.Registry
	regional *regional.Resolver
	defaults *defaults.Resolver
	scorer   *ConfidenceScorer
	logger   *zap.Logger
}

// NewCalculator creates an event impact calculator. All reference data comes
// in through the registry and resolver; the calculator holds no state of its
// own, so independent events may be calculated concurrently.
func NewCalculator(registry *factors.Registry, resolver *regional.Resolver, defaultsResolver *defaults.Resolver, logger *zap.Logger) *Calculator {
	return &Calculator{
		registry: registry,
		regional: resolver,
		defaults: defaultsResolver,
		scorer:   NewConfidenceScorer(),
		logger:   logger,
	}
}

// Calculate computes the CO2e impact of a single event. Internal failures do
// not propagate as panics: the returned result is always usable, with
// verification status calculation_error and the failure recorded when the
// strategy could not complete. The error return lets batch callers tally
// failures without losing the safe result.
func (c *Calculator) Calculate(event events.AgriculturalEvent, loc events.Location) (*CalculationResult, error) {
	inputs := c.defaults.Normalize(event, event.CropName)

	outcome, err := c.dispatch(event, loc, inputs)
	if err != nil {
		c.logger.Warn("Event calculation failed",
			zap.String("event_id", event.ID.String()),
			zap.String("category", string(event.Category)),
			zap.Error(err))
		return c.safeResult(loc, inputs, err), err
	}

	result := &CalculationResult{
		CO2e:               round4(outcome.co2e),
		Breakdown:          outcome.components,
		MethodologyVersion: MethodologyVersion,
		DataSource:         DataSource,
		ClimateMetadata:    outcome.metadata,
		Recommendations:    outcome.recommendations,
		FactorVersions:     outcome.factorVersions,
		FactorsCalibrated:  outcome.calibrated,
		Inputs:             inputs,
		VerificationStatus: StatusEstimated,
	}
	if outcome.calibrated && len(inputs.Defaulted) == 0 {
		result.VerificationStatus = StatusFactorsVerified
	}

	result.EfficiencyScore = efficiencyScore(inputs, result.CO2e)
	result.ConfidenceScore = c.scorer.Score(event, inputs, result)

	// A zero result for an event with declared inputs is suspicious: it
	// historically meant an "unknown" field slipped through unresolved.
	if result.CO2e == 0 && hasDeclaredInputs(event) {
		result.VerificationStatus = StatusEstimated
		result.Recommendations = append(result.Recommendations,
			"Calculated impact is zero despite declared inputs; flagged for manual review")
		c.logger.Warn("Zero CO2e result for event with declared inputs",
			zap.String("event_id", event.ID.String()),
			zap.String("category", string(event.Category)))
	}

	return result, nil
}

// dispatch selects the calculation strategy for the event's category. The
// switch is exhaustive over the closed category enum.
func (c *Calculator) dispatch(event events.AgriculturalEvent, loc events.Location, inputs defaults.NormalizedInputs) (strategyOutcome, error) {
	switch event.Category {
	case events.CategoryFertilization, events.CategoryPestOrDisease:
		return c.calculateFertilizationOrChemical(event, loc, inputs)
	case events.CategoryIrrigation:
		return c.calculateIrrigation(event, loc, inputs)
	case events.CategoryHarvest:
		return c.calculateFieldOperation(event, loc, inputs)
	case events.CategoryEquipment:
		return c.calculateEquipment(event, loc, inputs)
	case events.CategorySoilManagement:
		return c.calculateSoilManagement(event, loc, inputs)
	case events.CategoryWeatherResponse:
		return c.calculateWeatherResponse(event, loc, inputs)
	case events.CategoryBusiness:
		return c.calculateBusiness(event, loc, inputs)
	default:
		return strategyOutcome{}, fmt.Errorf("unsupported event category: %q", event.Category)
	}
}

// safeResult builds the minimal result returned when a calculation fails.
// The zero CO2e here is an explicit error marker, not a measurement.
func (c *Calculator) safeResult(loc events.Location, inputs defaults.NormalizedInputs, err error) *CalculationResult {
	return &CalculationResult{
		CO2e:               0,
		EfficiencyScore:    0,
		ConfidenceScore:    0,
		MethodologyVersion: MethodologyVersion,
		DataSource:         DataSource,
		ClimateMetadata:    c.regional.Metadata(loc),
		VerificationStatus: StatusCalculationError,
		Inputs:             inputs,
		CalculationError:   err.Error(),
	}
}

// hasDeclaredInputs reports whether the user actually reported any quantity
func hasDeclaredInputs(event events.AgriculturalEvent) bool {
	for _, raw := range []string{event.Volume, event.Area, event.WaterVolume, event.FuelAmount, event.Quantity} {
		if !events.IsUnknown(raw) {
			return true
		}
	}
	return false
}

// efficiencyScore rates agronomic efficiency on a 0-100 scale from the
// application method used and how much of the input had to be estimated
func efficiencyScore(inputs defaults.NormalizedInputs, co2e float64) float64 {
	score := 70.0

	switch inputs.ApplicationMethod {
	case "precision", "split", "slow_release":
		score += 20
	case "injection", "fertigation", "incorporated":
		score += 10
	case "broadcast":
		score -= 10
	}

	score -= float64(len(inputs.Defaulted)) * 5

	// Net sequestration is the best possible outcome
	if co2e < 0 {
		score = 95
	}

	return clamp(score, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
