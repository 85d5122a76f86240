package calculator

import (
	"agricarbon/impact-portal/impact-portal-backend/internal/emissions/defaults"
	"agricarbon/impact-portal/impact-portal-backend/internal/events"
)

// ConfidenceScorer quantifies how much the inputs and methodology justify
// trusting a calculation. The score gates downstream trust decisions such as
// whether a ledger entry may be marked verified.
type ConfidenceScorer struct{}

// NewConfidenceScorer creates a confidence scorer
func NewConfidenceScorer() *ConfidenceScorer {
	return &ConfidenceScorer{}
}

// Score computes a weighted confidence score in [0, 1]:
//   - data completeness: 0-0.3, fraction of category-required fields reported
//   - calibrated factors vs flat estimates: 0.4 or 0.1
//   - regional specificity: 0-0.2, plus 0.05 county bonus, 0 when the
//     location could not be resolved
//   - method precision: 0.1 for a detailed method, 0.05 generic
//
// The sum is capped at 1.0.
func (s *ConfidenceScorer) Score(event events.AgriculturalEvent, inputs defaults.NormalizedInputs, result *CalculationResult) float64 {
	score := s.completeness(event) * 0.3

	if result.FactorsCalibrated {
		score += 0.4
	} else {
		score += 0.1
	}

	meta := result.ClimateMetadata
	if !meta.FallbackUsed {
		if meta.State != "" {
			score += 0.2
		} else if meta.ClimateZone != "" {
			score += 0.1
		}
		if meta.County != "" {
			score += 0.05
		}
	}

	if isDetailedMethod(inputs.ApplicationMethod) && !inputs.WasDefaulted("application_method") {
		score += 0.1
	} else {
		score += 0.05
	}

	return round4(clamp(score, 0, 1))
}

// completeness is the fraction of the category's required fields the user
// actually reported
func (s *ConfidenceScorer) completeness(event events.AgriculturalEvent) float64 {
	required := requiredFields(event)
	if len(required) == 0 {
		return 1.0
	}
	present := 0
	for _, raw := range required {
		if !events.IsUnknown(raw) {
			present++
		}
	}
	return float64(present) / float64(len(required))
}

// requiredFields lists the raw values each event category must report for a
// fully specified calculation
func requiredFields(event events.AgriculturalEvent) []string {
	switch event.Category {
	case events.CategoryFertilization:
		return []string{event.Volume, event.Area, event.Concentration, event.ApplicationMethod}
	case events.CategoryPestOrDisease:
		return []string{event.Volume, event.Area, event.ProductType}
	case events.CategoryIrrigation:
		return []string{event.WaterVolume, event.Area}
	case events.CategoryHarvest:
		return []string{event.Area, event.Operation}
	case events.CategoryEquipment:
		return []string{event.FuelAmount, event.FuelType}
	case events.CategorySoilManagement:
		return []string{event.Practice, event.Area}
	case events.CategoryWeatherResponse:
		return []string{event.Description, event.Area}
	case events.CategoryBusiness:
		return []string{event.Description}
	default:
		return nil
	}
}

// isDetailedMethod reports whether the application method conveys real
// agronomic precision beyond the broadcast baseline
func isDetailedMethod(method string) bool {
	switch method {
	case "precision", "injection", "slow_release", "split", "fertigation", "incorporated":
		return true
	}
	return false
}
