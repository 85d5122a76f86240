package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"agricarbon/impact-portal/impact-portal-backend/internal/compliance"
	"agricarbon/impact-portal/impact-portal-backend/internal/emissions/calculator"
	"agricarbon/impact-portal/impact-portal-backend/internal/emissions/factors"
	"agricarbon/impact-portal/impact-portal-backend/internal/events"
	"agricarbon/impact-portal/impact-portal-backend/internal/ledger"
	"agricarbon/impact-portal/impact-portal-backend/pkg/geospatial"
)

// Service orchestrates the calculation pipeline: impact calculation,
// confidence scoring, compliance validation, and atomic audit recording.
// Calculations are pure per event, so independent events may be processed
// concurrently; the registry is the only shared resource.
type Service struct {
	registry   *factors.Registry
	calculator *calculator.Calculator
	validator  *compliance.Validator
	recorder   *ledger.Recorder
	corrector  *ledger.Corrector
	db         *gorm.DB
	logger     *zap.Logger
}

// NewService creates the calculation engine service
func NewService(registry *factors.Registry, calc *calculator.Calculator, validator *compliance.Validator, recorder *ledger.Recorder, corrector *ledger.Corrector, db *gorm.DB, logger *zap.Logger) *Service {
	return &Service{
		registry:   registry,
		calculator: calc,
		validator:  validator,
		recorder:   recorder,
		corrector:  corrector,
		db:         db,
		logger:     logger,
	}
}

// ProcessOutcome bundles everything produced for one event
type ProcessOutcome struct {
	Result           *calculator.CalculationResult `json:"result"`
	LedgerEntry      *ledger.CarbonLedgerEntry     `json:"ledger_entry"`
	Audit            *ledger.CalculationAudit      `json:"audit"`
	ComplianceRecord *ledger.ComplianceRecord      `json:"compliance_record"`
}

// Calculate runs the pure calculation pipeline without persisting anything
func (s *Service) Calculate(event events.AgriculturalEvent, loc events.Location) (*calculator.CalculationResult, error) {
	event, loc = s.enrichFromBoundary(event, loc)
	return s.calculator.Calculate(event, loc)
}

// enrichFromBoundary derives coordinates and treated area from the field's
// GeoJSON boundary when they were not reported directly. An unparseable
// boundary is logged and ignored rather than failing the calculation.
func (s *Service) enrichFromBoundary(event events.AgriculturalEvent, loc events.Location) (events.AgriculturalEvent, events.Location) {
	if loc.Boundary == "" {
		return event, loc
	}

	boundary, err := geospatial.ParseBoundary(loc.Boundary)
	if err != nil {
		s.logger.Warn("Ignoring unparseable field boundary",
			zap.String("event_id", event.ID.String()), zap.Error(err))
		return event, loc
	}

	if !loc.HasCoordinates() {
		loc.Latitude = &boundary.Latitude
		loc.Longitude = &boundary.Longitude
	}
	if events.IsUnknown(event.Area) && boundary.AreaHectares > 0 {
		event.Area = fmt.Sprintf("%.4f hectares", boundary.AreaHectares)
	}
	return event, loc
}

// Process calculates an event's impact, validates compliance, and records
// ledger entry + audit + compliance record in one transaction. A failed
// calculation is still recorded so the ledger reflects the error, but the
// error is surfaced to the caller for tallying.
func (s *Service) Process(ctx context.Context, event events.AgriculturalEvent, loc events.Location) (*ProcessOutcome, error) {
	event, loc = s.enrichFromBoundary(event, loc)
	result, calcErr := s.calculator.Calculate(event, loc)

	breakdown := make(map[string]float64, len(result.Breakdown))
	for _, c := range result.Breakdown {
		breakdown[c.Name] = c.CO2e
	}

	verdict, err := s.validator.Validate(ctx,
		result.Inputs.CropCategory,
		result.ClimateMetadata.State,
		result.CO2e,
		result.Inputs.AreaHectares,
		result.FactorsCalibrated,
		result.Inputs.ApplicationMethod,
		breakdown,
	)
	if err != nil {
		return nil, fmt.Errorf("validating compliance: %w", err)
	}
	verdict.ConfidenceScore = result.ConfidenceScore
	result.Recommendations = append(result.Recommendations, verdict.Recommendations...)

	recorded, err := s.recorder.Record(ctx, event, result, verdict)
	if err != nil {
		return nil, fmt.Errorf("recording calculation: %w", err)
	}

	outcome := &ProcessOutcome{
		Result:           result,
		LedgerEntry:      recorded.LedgerEntry,
		Audit:            recorded.Audit,
		ComplianceRecord: recorded.ComplianceRecord,
	}
	return outcome, calcErr
}

// EventError pairs a failed event with its error message
type EventError struct {
	EventID uuid.UUID `json:"event_id"`
	Error   string    `json:"error"`
}

// BatchSummary reports a batch run. Failed events are reported distinctly
// from successes and never block the rest of the batch.
type BatchSummary struct {
	Processed int               `json:"processed"`
	Failed    int               `json:"failed"`
	Outcomes  []*ProcessOutcome `json:"outcomes,omitempty"`
	Errors    []EventError      `json:"errors,omitempty"`
}

// ProcessBatch processes events independently, tallying failures without
// aborting the run
func (s *Service) ProcessBatch(ctx context.Context, evts []events.AgriculturalEvent, loc events.Location) BatchSummary {
	var summary BatchSummary
	for _, event := range evts {
		outcome, err := s.Process(ctx, event, loc)
		if err != nil {
			summary.Failed++
			summary.Errors = append(summary.Errors, EventError{EventID: event.ID, Error: err.Error()})
			if outcome != nil {
				summary.Outcomes = append(summary.Outcomes, outcome)
			}
			continue
		}
		summary.Processed++
		summary.Outcomes = append(summary.Outcomes, outcome)
	}
	return summary
}

// CorrectionRequest is an administrative factor correction
type CorrectionRequest struct {
	Substance string  `json:"substance"`
	NewValue  float64 `json:"new_value"`
	Citation  string  `json:"citation"`
}

// CorrectFactor publishes a new factor version and enqueues the bulk
// recalculation job that rescales affected ledger entries. The job is
// drained asynchronously by the correction worker.
func (s *Service) CorrectFactor(ctx context.Context, req CorrectionRequest) (*ledger.FactorCorrection, error) {
	prior, err := s.registry.GetFactor(req.Substance)
	if err != nil {
		return nil, err
	}

	corrected, ratio, err := s.registry.Correct(req.Substance, req.NewValue, req.Citation)
	if err != nil {
		return nil, err
	}

	job := &ledger.FactorCorrection{
		ID:        uuid.New(),
		Substance: req.Substance,
		OldValue:  prior.Value,
		NewValue:  corrected.Value,
		Ratio:     ratio,
		Citation:  req.Citation,
		Status:    ledger.CorrectionStatusPending,
	}
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, fmt.Errorf("enqueueing correction job: %w", err)
	}

	s.logger.Info("Factor correction enqueued",
		zap.String("substance", req.Substance),
		zap.Float64("ratio", ratio),
		zap.String("job_id", job.ID.String()))

	return job, nil
}

// Recalculate runs a bulk correction synchronously. Exposed for the
// correction worker and for administrative re-runs.
func (s *Service) Recalculate(ctx context.Context, filter ledger.CorrectionFilter, ratio float64, note string) (ledger.CorrectionSummary, error) {
	return s.corrector.Recalculate(ctx, filter, ratio, note)
}

// FactorHistory returns the version history for a substance
func (s *Service) FactorHistory(substance string) ([]factors.EmissionFactor, error) {
	history, err := s.registry.History(substance)
	if err != nil {
		if errors.Is(err, factors.ErrUnknownSubstance) {
			return nil, err
		}
		return nil, fmt.Errorf("loading factor history: %w", err)
	}
	return history, nil
}
