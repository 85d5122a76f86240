package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"agricarbon/impact-portal/impact-portal-backend/internal/compliance"
	"agricarbon/impact-portal/impact-portal-backend/internal/emissions/calculator"
	"agricarbon/impact-portal/impact-portal-backend/internal/emissions/defaults"
	"agricarbon/impact-portal/impact-portal-backend/internal/emissions/factors"
	"agricarbon/impact-portal/impact-portal-backend/internal/emissions/regional"
	"agricarbon/impact-portal/impact-portal-backend/internal/events"
	"agricarbon/impact-portal/impact-portal-backend/internal/ledger"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	logger := zap.NewNop()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, ledger.Migrate(db))

	registry := factors.NewRegistry(logger)
	calc := calculator.NewCalculator(registry, regional.NewResolver(registry, logger), defaults.NewResolver(logger), logger)
	static := compliance.NewStaticRepository()
	validator := compliance.NewValidator(static, static, logger)
	recorder := ledger.NewRecorder(db, logger)
	corrector := ledger.NewCorrector(db, 50, logger)

	return NewService(registry, calc, validator, recorder, corrector, db, logger), db
}

func fertilizationEvent() events.AgriculturalEvent {
	return events.AgriculturalEvent{
		ID:                uuid.New(),
		EstablishmentID:   uuid.New(),
		Category:          events.CategoryFertilization,
		CropName:          "orange",
		ProductType:       "fertilizer",
		Volume:            "50 liters",
		Concentration:     "10-10-10",
		Area:              "2 hectares",
		ApplicationMethod: "broadcast",
	}
}

func TestProcessRecordsFullPipeline(t *testing.T) {
	svc, db := newTestService(t)

	outcome, err := svc.Process(context.Background(), fertilizationEvent(), events.Location{State: "Florida"})
	require.NoError(t, err)

	require.NotNil(t, outcome.Result)
	require.NotNil(t, outcome.LedgerEntry)
	require.NotNil(t, outcome.Audit)
	require.NotNil(t, outcome.ComplianceRecord)

	assert.Equal(t, outcome.Result.CO2e, outcome.LedgerEntry.Amount)
	assert.Equal(t, outcome.LedgerEntry.ID, outcome.Audit.LedgerEntryID)
	assert.NotEmpty(t, outcome.ComplianceRecord.Status)

	var entries int64
	require.NoError(t, db.Model(&ledger.CarbonLedgerEntry{}).Count(&entries).Error)
	assert.Equal(t, int64(1), entries)
}

func TestProcessRecordsFailedCalculation(t *testing.T) {
	svc, db := newTestService(t)

	event := events.AgriculturalEvent{
		ID:       uuid.New(),
		Category: events.Category("unsupported"),
	}

	outcome, err := svc.Process(context.Background(), event, events.Location{})
	require.Error(t, err)
	require.NotNil(t, outcome)

	// The error is still recorded in the ledger for review
	assert.Equal(t, string(calculator.StatusCalculationError), outcome.LedgerEntry.VerificationStatus)
	assert.Zero(t, outcome.LedgerEntry.Amount)

	var entries int64
	require.NoError(t, db.Model(&ledger.CarbonLedgerEntry{}).Count(&entries).Error)
	assert.Equal(t, int64(1), entries)
}

func TestProcessBatchTalliesFailures(t *testing.T) {
	svc, _ := newTestService(t)

	batch := []events.AgriculturalEvent{
		fertilizationEvent(),
		{ID: uuid.New(), Category: events.Category("unsupported")},
		fertilizationEvent(),
	}

	summary := svc.ProcessBatch(context.Background(), batch, events.Location{State: "Florida"})

	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, batch[1].ID, summary.Errors[0].EventID)
	assert.Len(t, summary.Outcomes, 3) // failed event still yields a safe outcome
}

func TestCorrectFactorEnqueuesJob(t *testing.T) {
	svc, db := newTestService(t)

	job, err := svc.CorrectFactor(context.Background(), CorrectionRequest{
		Substance: "nitrogen",
		NewValue:  5.5,
		Citation:  "IPCC 2024 supplement",
	})
	require.NoError(t, err)

	assert.Equal(t, "nitrogen", job.Substance)
	assert.Equal(t, 5.86, job.OldValue)
	assert.Equal(t, 5.5, job.NewValue)
	assert.InDelta(t, 5.5/5.86, job.Ratio, 1e-4)
	assert.Equal(t, ledger.CorrectionStatusPending, job.Status)

	var stored ledger.FactorCorrection
	require.NoError(t, db.First(&stored, "id = ?", job.ID).Error)
	assert.Equal(t, ledger.CorrectionStatusPending, stored.Status)

	// The registry now serves the corrected value
	factor, err := svc.registry.GetFactor("nitrogen")
	require.NoError(t, err)
	assert.Equal(t, 5.5, factor.Value)
	assert.Equal(t, 2, factor.Version)
}

func TestCorrectFactorUnknownSubstance(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CorrectFactor(context.Background(), CorrectionRequest{
		Substance: "unobtainium",
		NewValue:  1.0,
		Citation:  "n/a",
	})
	assert.ErrorIs(t, err, factors.ErrUnknownSubstance)
}

func TestCalculateDerivesAreaAndCoordinatesFromBoundary(t *testing.T) {
	svc, _ := newTestService(t)

	event := fertilizationEvent()
	event.Area = "unknown"
	loc := events.Location{
		Boundary: `{
			"type": "Polygon",
			"coordinates": [[[-81.5, 27.9], [-81.49, 27.9], [-81.49, 27.91], [-81.5, 27.91], [-81.5, 27.9]]]
		}`,
	}

	result, err := svc.Calculate(event, loc)
	require.NoError(t, err)

	// Area came from the boundary, not from crop defaults
	assert.False(t, result.Inputs.WasDefaulted("area"))
	assert.Greater(t, result.Inputs.AreaHectares, 0.0)

	// The centroid placed the event in the subtropical zone
	assert.Equal(t, "subtropical", result.ClimateMetadata.ClimateZone)
	assert.False(t, result.ClimateMetadata.FallbackUsed)
}

func TestCalculateIgnoresUnparseableBoundary(t *testing.T) {
	svc, _ := newTestService(t)

	result, err := svc.Calculate(fertilizationEvent(), events.Location{State: "Ohio", Boundary: "not geojson"})
	require.NoError(t, err)
	assert.Equal(t, "ohio", result.ClimateMetadata.State)
}

func TestCorrectionEndToEnd(t *testing.T) {
	svc, _ := newTestService(t)

	outcome, err := svc.Process(context.Background(), fertilizationEvent(), events.Location{State: "Ohio"})
	require.NoError(t, err)
	originalAmount := outcome.LedgerEntry.Amount

	job, err := svc.CorrectFactor(context.Background(), CorrectionRequest{
		Substance: "nitrogen",
		NewValue:  5.0,
		Citation:  "revised factor",
	})
	require.NoError(t, err)

	summary, err := svc.Recalculate(context.Background(),
		ledger.CorrectionFilter{Substance: "nitrogen"}, job.Ratio, "nitrogen corrected")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Updated)

	history, err := svc.FactorHistory("nitrogen")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 5.86, history[0].Value)
	assert.Equal(t, 5.0, history[1].Value)

	// New calculations use the corrected factor and come out lower
	fresh, err := svc.Calculate(fertilizationEvent(), events.Location{State: "Ohio"})
	require.NoError(t, err)
	assert.Less(t, fresh.CO2e, originalAmount)
}
