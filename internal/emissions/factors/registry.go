package factors

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrUnknownSubstance is returned when no factor is registered for a substance
var ErrUnknownSubstance = errors.New("unknown substance")

// EmissionFactor converts a quantity of an input (fertilizer mass, fuel
// volume) into kg CO2e. Factors are immutable once published; a correction
// publishes a new version and records the ratio new/old so historical
// calculations can be rescaled without re-deriving their inputs.
type EmissionFactor struct {
	Substance        string    `json:"substance"`
	Version          int       `json:"version"`
	Value            float64   `json:"value"` // kg CO2e per Unit
	Unit             string    `json:"unit"`
	CorrectionFactor float64   `json:"correction_factor"` // newValue/oldValue vs. prior version, 1.0 for the first
	SourceCitation   string    `json:"source_citation"`
	Verified         bool      `json:"verified"`
	PublishedAt      time.Time `json:"published_at"`
}

// Registry holds versioned emission factors. Reads are concurrent; factor
// corrections are rare administrative writes applied under a single writer,
// so readers always observe either the old or the new version.
type Registry struct {
	mu      sync.RWMutex
	factors map[string][]EmissionFactor // append-only version history per substance
	logger  *zap.Logger
}

// NewRegistry creates a registry seeded with the calibrated base factors
func NewRegistry(logger *zap.Logger) *Registry {
	r := &Registry{
		factors: make(map[string][]EmissionFactor),
		logger:  logger,
	}
	r.seed()
	return r
}

// seed loads the peer-cited base factor set
func (r *Registry) seed() {
	published := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	base := []EmissionFactor{
		{Substance: "nitrogen", Value: 5.86, Unit: "kg CO2e/kg N", SourceCitation: "IPCC 2019 Refinement, Vol. 4 Ch. 11", Verified: true},
		{Substance: "phosphorus", Value: 1.8, Unit: "kg CO2e/kg P2O5", SourceCitation: "Ecoinvent v3.9 fertilizer production", Verified: true},
		{Substance: "potassium", Value: 0.96, Unit: "kg CO2e/kg K2O", SourceCitation: "Ecoinvent v3.9 fertilizer production", Verified: true},
		{Substance: "pesticide", Value: 5.1, Unit: "kg CO2e/L", SourceCitation: "Audsley et al. 2009, pesticide LCA", Verified: true},
		{Substance: "herbicide", Value: 6.3, Unit: "kg CO2e/L", SourceCitation: "Audsley et al. 2009, pesticide LCA", Verified: true},
		{Substance: "fungicide", Value: 3.9, Unit: "kg CO2e/L", SourceCitation: "Audsley et al. 2009, pesticide LCA", Verified: true},
		{Substance: "diesel", Value: 2.68, Unit: "kg CO2e/L", SourceCitation: "EPA GHG Emission Factors Hub 2024", Verified: true},
		{Substance: "gasoline", Value: 2.31, Unit: "kg CO2e/L", SourceCitation: "EPA GHG Emission Factors Hub 2024", Verified: true},
		{Substance: "natural_gas", Value: 2.03, Unit: "kg CO2e/m3", SourceCitation: "EPA GHG Emission Factors Hub 2024", Verified: true},
		{Substance: "electricity", Value: 0.42, Unit: "kg CO2e/kWh", SourceCitation: "EPA eGRID 2024 US average", Verified: true},
	}
	for _, f := range base {
		f.Version = 1
		f.CorrectionFactor = 1.0
		f.PublishedAt = published
		r.factors[f.Substance] = []EmissionFactor{f}
	}
}

// Register publishes the first version of a factor for a new substance
func (r *Registry) Register(factor EmissionFactor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factors[factor.Substance]; exists {
		return fmt.Errorf("substance already registered: %s", factor.Substance)
	}
	factor.Version = 1
	factor.CorrectionFactor = 1.0
	if factor.PublishedAt.IsZero() {
		factor.PublishedAt = time.Now().UTC()
	}
	r.factors[factor.Substance] = []EmissionFactor{factor}
	return nil
}

// GetFactor returns the current version of a substance's factor. Every lookup
// logs the version used so audits can tie results back to factor revisions.
func (r *Registry) GetFactor(substance string) (EmissionFactor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	history, exists := r.factors[substance]
	if !exists || len(history) == 0 {
		return EmissionFactor{}, fmt.Errorf("%w: %s", ErrUnknownSubstance, substance)
	}

	factor := history[len(history)-1]
	r.logger.Debug("Emission factor lookup",
		zap.String("substance", substance),
		zap.Int("version", factor.Version),
		zap.Float64("value", factor.Value))
	return factor, nil
}

// GetFactorVersion returns a specific historical version of a factor
func (r *Registry) GetFactorVersion(substance string, version int) (EmissionFactor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	history, exists := r.factors[substance]
	if !exists || len(history) == 0 {
		return EmissionFactor{}, fmt.Errorf("%w: %s", ErrUnknownSubstance, substance)
	}
	for _, f := range history {
		if f.Version == version {
			return f, nil
		}
	}
	return EmissionFactor{}, fmt.Errorf("no version %d for substance %s", version, substance)
}

// Correct publishes a new version of a factor and returns it together with
// the correction ratio newValue/oldValue. Prior versions are never mutated;
// consumers rescale historical calculations by the returned ratio.
func (r *Registry) Correct(substance string, newValue float64, citation string) (EmissionFactor, float64, error) {
	if newValue <= 0 {
		return EmissionFactor{}, 0, fmt.Errorf("corrected factor value must be positive, got %f", newValue)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	history, exists := r.factors[substance]
	if !exists || len(history) == 0 {
		return EmissionFactor{}, 0, fmt.Errorf("%w: %s", ErrUnknownSubstance, substance)
	}

	prior := history[len(history)-1]
	ratio := newValue / prior.Value

	corrected := EmissionFactor{
		Substance:        substance,
		Version:          prior.Version + 1,
		Value:            newValue,
		Unit:             prior.Unit,
		CorrectionFactor: math.Round(ratio*10000) / 10000,
		SourceCitation:   citation,
		Verified:         true,
		PublishedAt:      time.Now().UTC(),
	}
	r.factors[substance] = append(history, corrected)

	r.logger.Info("Emission factor corrected",
		zap.String("substance", substance),
		zap.Int("version", corrected.Version),
		zap.Float64("old_value", prior.Value),
		zap.Float64("new_value", newValue),
		zap.Float64("correction_factor", ratio))

	return corrected, ratio, nil
}

// History returns the full version history for a substance, oldest first
func (r *Registry) History(substance string) ([]EmissionFactor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	history, exists := r.factors[substance]
	if !exists || len(history) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSubstance, substance)
	}
	out := make([]EmissionFactor, len(history))
	copy(out, history)
	return out, nil
}

// Substances returns every registered substance name
func (r *Registry) Substances() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factors))
	for s := range r.factors {
		names = append(names, s)
	}
	return names
}
