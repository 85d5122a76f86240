package compliance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrBenchmarkUnavailable signals that no regional/crop benchmark exists.
// It is not a failure: validation records needs_review instead.
var ErrBenchmarkUnavailable = errors.New("no benchmark available")

// Status is the compliance verdict for a calculation
type Status string

const (
	StatusCompliant    Status = "compliant"
	StatusNonCompliant Status = "non_compliant"
	StatusNeedsReview  Status = "needs_review"
)

// nonCompliantMargin is the material margin above the regional average that
// turns a result non-compliant
const nonCompliantMargin = 1.2

// Benchmark is the carbon-intensity band for a crop in a region, in
// kg CO2e per hectare
type Benchmark struct {
	CropType        string  `json:"crop_type" db:"crop_type"`
	State           string  `json:"state" db:"state"`
	BestPractice    float64 `json:"best_practice" db:"best_practice"`
	RegionalAverage float64 `json:"regional_average" db:"regional_average"`
	SampleSize      int     `json:"sample_size" db:"sample_size"`
	Source          string  `json:"source,omitempty" db:"source"`
}

// Record is the verdict of comparing a calculation's carbon intensity to a
// regional/crop benchmark
type Record struct {
	ID               uuid.UUID `json:"id"`
	CalculationID    uuid.UUID `json:"calculation_id"`
	Status           Status    `json:"status"`
	ConfidenceScore  float64   `json:"confidence_score"`
	ValidationMethod string    `json:"validation_method"`
	CarbonIntensity  float64   `json:"carbon_intensity"` // kg CO2e/ha
	Recommendations  []string  `json:"recommendations,omitempty"`
}

// Repository supplies benchmark bands. Implementations must be safe for
// concurrent readers.
type Repository interface {
	GetBenchmark(ctx context.Context, cropType, state string) (*Benchmark, error)
}

// Validator benchmarks calculation results against regional/crop norms
type Validator struct {
	repo     Repository
	fallback Repository
	logger   *zap.Logger
}

// NewValidator creates a compliance validator. The fallback repository is
// consulted when the primary store is unreachable, so validation degrades to
// static benchmark data instead of stalling calculations.
func NewValidator(repo Repository, fallback Repository, logger *zap.Logger) *Validator {
	return &Validator{repo: repo, fallback: fallback, logger: logger}
}

// Validate computes carbon intensity (co2e/areaHectares) and compares it to
// the benchmark band. A missing benchmark yields needs_review, never an
// error. Breakdown maps component names to their CO2e contribution and
// drives the recommendations.
func (v *Validator) Validate(ctx context.Context, cropType, state string, co2e, areaHectares float64, factorsBased bool, method string, breakdown map[string]float64) (*Record, error) {
	record := &Record{
		ID:               uuid.New(),
		ValidationMethod: validationMethod(factorsBased),
	}

	if areaHectares <= 0 {
		record.Status = StatusNeedsReview
		record.Recommendations = append(record.Recommendations,
			"No treated area available; carbon intensity could not be computed")
		return record, nil
	}

	intensity := co2e / areaHectares
	record.CarbonIntensity = math.Round(intensity*10000) / 10000

	// Net sequestration always clears the benchmark
	if intensity <= 0 {
		record.Status = StatusCompliant
		return record, nil
	}

	benchmark, err := v.lookupBenchmark(ctx, cropType, state)
	if err != nil {
		record.Status = StatusNeedsReview
		record.Recommendations = append(record.Recommendations,
			fmt.Sprintf("No benchmark available for %s in %s; manual review required", cropType, state))
		return record, nil
	}

	switch {
	case intensity <= benchmark.BestPractice:
		record.Status = StatusCompliant
	case intensity > benchmark.RegionalAverage*nonCompliantMargin:
		record.Status = StatusNonCompliant
	default:
		record.Status = StatusNeedsReview
	}

	record.Recommendations = append(record.Recommendations,
		recommendationsFromBreakdown(breakdown, intensity, benchmark)...)

	v.logger.Debug("Compliance validated",
		zap.String("crop_type", cropType),
		zap.String("state", state),
		zap.Float64("intensity", intensity),
		zap.String("status", string(record.Status)))

	return record, nil
}

// lookupBenchmark tries the primary store and falls back to static data
func (v *Validator) lookupBenchmark(ctx context.Context, cropType, state string) (*Benchmark, error) {
	b, err := v.repo.GetBenchmark(ctx, cropType, state)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, ErrBenchmarkUnavailable) && v.fallback != nil {
		v.logger.Warn("Benchmark store unavailable, using static fallback", zap.Error(err))
		return v.fallback.GetBenchmark(ctx, cropType, state)
	}
	return nil, err
}

// recommendationsFromBreakdown suggests improvements for the components that
// most exceed their expected share of the benchmark
func recommendationsFromBreakdown(breakdown map[string]float64, intensity float64, benchmark *Benchmark) []string {
	if len(breakdown) == 0 || intensity <= benchmark.BestPractice {
		return nil
	}

	type share struct {
		name  string
		co2e  float64
		ratio float64
	}
	var total float64
	for _, v := range breakdown {
		if v > 0 {
			total += v
		}
	}
	if total == 0 {
		return nil
	}

	var shares []share
	for name, v := range breakdown {
		if v <= 0 {
			continue
		}
		shares = append(shares, share{name: name, co2e: v, ratio: v / total})
	}
	sort.Slice(shares, func(i, j int) bool { return shares[i].ratio > shares[j].ratio })

	var recs []string
	for _, s := range shares {
		if s.ratio < 0.4 {
			break
		}
		switch {
		case s.name == "nitrogen" || s.name == "phosphorus" || s.name == "potassium":
			recs = append(recs, fmt.Sprintf(
				"Fertilizer %s accounts for %.0f%% of emissions; precision or split application would reduce it",
				s.name, s.ratio*100))
		case s.name == "irrigation_energy":
			recs = append(recs, fmt.Sprintf(
				"Irrigation energy accounts for %.0f%% of emissions; drip irrigation and pump maintenance would reduce it",
				s.ratio*100))
		case strings.HasSuffix(s.name, "_fuel") || strings.HasSuffix(s.name, "_combustion"):
			recs = append(recs, fmt.Sprintf(
				"Fuel combustion accounts for %.0f%% of emissions; equipment maintenance and route planning would reduce it",
				s.ratio*100))
		default:
			recs = append(recs, fmt.Sprintf(
				"%s accounts for %.0f%% of emissions and exceeds the regional norm", s.name, s.ratio*100))
		}
	}
	return recs
}

func validationMethod(factorsBased bool) string {
	if factorsBased {
		return "calibrated_factor_benchmark"
	}
	return "flat_estimate_benchmark"
}

// BandFromSamples derives a benchmark band from raw regional intensity
// samples when no pre-computed band is stored: best practice is the 25th
// percentile, the regional average is the mean.
func BandFromSamples(cropType, state string, samples []float64) (*Benchmark, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no samples for %s/%s", ErrBenchmarkUnavailable, cropType, state)
	}

	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	return &Benchmark{
		CropType:        cropType,
		State:           state,
		BestPractice:    percentile(sorted, 25),
		RegionalAverage: sum / float64(len(sorted)),
		SampleSize:      len(sorted),
		Source:          "derived_from_samples",
	}, nil
}

// percentile calculates the p-th percentile of a sorted slice
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	index := (p / 100) * float64(len(sorted)-1)
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))

	if lower == upper {
		return sorted[lower]
	}

	weight := index - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}
