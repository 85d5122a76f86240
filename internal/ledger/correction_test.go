package ledger

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"agricarbon/impact-portal/impact-portal-backend/internal/emissions/calculator"
)

// seedEntry inserts a ledger entry plus its original audit row
func seedEntry(t *testing.T, db *gorm.DB, amount float64, factorsUsed map[string]int, components []calculator.Component) *CarbonLedgerEntry {
	t.Helper()

	factorsJSON, err := json.Marshal(factorsUsed)
	require.NoError(t, err)
	breakdownJSON, err := json.Marshal(components)
	require.NoError(t, err)

	entry := &CarbonLedgerEntry{
		ID:                 uuid.New(),
		EstablishmentID:    uuid.New(),
		EventID:            uuid.New(),
		Amount:             amount,
		Unit:               "kg CO2e",
		CropType:           "citrus",
		State:              "florida",
		VerificationStatus: "factors_verified",
		DataSource:         calculator.DataSource,
		MethodologyVersion: calculator.MethodologyVersion,
	}
	require.NoError(t, db.Create(entry).Error)

	audit := &CalculationAudit{
		ID:                 uuid.New(),
		LedgerEntryID:      entry.ID,
		EventID:            entry.EventID,
		FactorsUsed:        datatypes.JSON(factorsJSON),
		Breakdown:          datatypes.JSON(breakdownJSON),
		MethodologyVersion: calculator.MethodologyVersion,
		ProcessorVersion:   calculator.ProcessorVersion,
		CO2e:               amount,
		ConfidenceScore:    0.95,
	}
	require.NoError(t, db.Create(audit).Error)

	// Keep creation timestamps strictly ordered for cursor pagination
	time.Sleep(time.Millisecond)

	return entry
}

func nitrogenComponents(nitrogen float64) []calculator.Component {
	return []calculator.Component{
		{Name: "nitrogen", CO2e: nitrogen},
		{Name: "phosphorus", CO2e: 4.725},
		{Name: "potassium", CO2e: 2.52},
	}
}

func TestRecalculateRescalesAmountAndAppendsAudit(t *testing.T) {
	db := openTestDB(t)
	corrector := NewCorrector(db, 10, zap.NewNop())

	entry := seedEntry(t, db, 100.0, map[string]int{"nitrogen": 1}, nitrogenComponents(80))

	summary, err := corrector.Recalculate(context.Background(),
		CorrectionFilter{Substance: "nitrogen"}, 0.8746, "nitrogen factor corrected 6.7 -> 5.86")
	require.NoError(t, err)
	assert.Equal(t, CorrectionSummary{Updated: 1}, summary)

	var updated CarbonLedgerEntry
	require.NoError(t, db.First(&updated, "id = ?", entry.ID).Error)
	assert.InDelta(t, 87.46, updated.Amount, 1e-4)
	assert.True(t, updated.CorrectionApplied)
	assert.Contains(t, updated.Notes, "nitrogen factor corrected")

	// Exactly one correction audit referencing the original, which is intact
	var audits []CalculationAudit
	require.NoError(t, db.Order("created_at ASC").Find(&audits, "ledger_entry_id = ?", entry.ID).Error)
	require.Len(t, audits, 2)

	original, correction := audits[0], audits[1]
	assert.Nil(t, original.SupersedesAuditID)
	assert.Equal(t, 100.0, original.CO2e)

	require.NotNil(t, correction.SupersedesAuditID)
	assert.Equal(t, original.ID, *correction.SupersedesAuditID)
	require.NotNil(t, correction.CorrectionFactor)
	assert.Equal(t, 0.8746, *correction.CorrectionFactor)
	assert.InDelta(t, 87.46, correction.CO2e, 1e-4)
}

func TestRecalculateRescalesOnlyMatchingComponent(t *testing.T) {
	db := openTestDB(t)
	corrector := NewCorrector(db, 10, zap.NewNop())

	entry := seedEntry(t, db, 100.0, map[string]int{"nitrogen": 1}, nitrogenComponents(80))

	_, err := corrector.Recalculate(context.Background(),
		CorrectionFilter{Substance: "nitrogen"}, 0.5, "halved")
	require.NoError(t, err)

	var correction CalculationAudit
	require.NoError(t, db.First(&correction,
		"ledger_entry_id = ? AND supersedes_audit_id IS NOT NULL", entry.ID).Error)

	var components []calculator.Component
	require.NoError(t, json.Unmarshal(correction.Breakdown, &components))
	require.Len(t, components, 3)
	assert.Equal(t, 40.0, components[0].CO2e)  // nitrogen rescaled
	assert.Equal(t, 4.725, components[1].CO2e) // phosphorus untouched
	assert.NotContains(t, correction.CorrectionNote, "approximate")
}

func TestRecalculateSkipsEntriesNotUsingSubstance(t *testing.T) {
	db := openTestDB(t)
	corrector := NewCorrector(db, 10, zap.NewNop())

	affected := seedEntry(t, db, 100.0, map[string]int{"nitrogen": 1}, nitrogenComponents(80))
	unaffected := seedEntry(t, db, 50.0, map[string]int{"diesel": 1},
		[]calculator.Component{{Name: "harvest_fuel", CO2e: 50}})

	summary, err := corrector.Recalculate(context.Background(),
		CorrectionFilter{Substance: "nitrogen"}, 0.8746, "corrected")
	require.NoError(t, err)
	assert.Equal(t, CorrectionSummary{Updated: 1, Skipped: 1}, summary)

	var untouched CarbonLedgerEntry
	require.NoError(t, db.First(&untouched, "id = ?", unaffected.ID).Error)
	assert.Equal(t, 50.0, untouched.Amount)
	assert.False(t, untouched.CorrectionApplied)

	var flagged CarbonLedgerEntry
	require.NoError(t, db.First(&flagged, "id = ?", affected.ID).Error)
	assert.True(t, flagged.CorrectionApplied)
}

func TestRecalculateIsResumable(t *testing.T) {
	db := openTestDB(t)
	// Batch size 2 forces multiple cursor pages over 5 entries
	corrector := NewCorrector(db, 2, zap.NewNop())

	for i := 0; i < 5; i++ {
		seedEntry(t, db, 100.0, map[string]int{"nitrogen": 1}, nitrogenComponents(80))
	}

	jobID := uuid.New()
	summary, err := corrector.Recalculate(context.Background(),
		CorrectionFilter{Substance: "nitrogen", JobID: jobID}, 0.9, "corrected")
	require.NoError(t, err)
	assert.Equal(t, CorrectionSummary{Updated: 5}, summary)

	// Resuming the same job finds nothing left to correct
	summary, err = corrector.Recalculate(context.Background(),
		CorrectionFilter{Substance: "nitrogen", JobID: jobID}, 0.9, "corrected")
	require.NoError(t, err)
	assert.Equal(t, CorrectionSummary{}, summary)
}

func TestSequentialCorrectionsReachSameEntry(t *testing.T) {
	db := openTestDB(t)
	corrector := NewCorrector(db, 10, zap.NewNop())

	entry := seedEntry(t, db, 100.0,
		map[string]int{"nitrogen": 1, "phosphorus": 1}, nitrogenComponents(80))

	summary, err := corrector.Recalculate(context.Background(),
		CorrectionFilter{Substance: "nitrogen"}, 0.9, "nitrogen corrected")
	require.NoError(t, err)
	assert.Equal(t, CorrectionSummary{Updated: 1}, summary)

	// A later phosphorus correction must still reach the entry
	summary, err = corrector.Recalculate(context.Background(),
		CorrectionFilter{Substance: "phosphorus"}, 0.5, "phosphorus corrected")
	require.NoError(t, err)
	assert.Equal(t, CorrectionSummary{Updated: 1}, summary)

	var updated CarbonLedgerEntry
	require.NoError(t, db.First(&updated, "id = ?", entry.ID).Error)
	assert.InDelta(t, 45.0, updated.Amount, 1e-4)

	var audits []CalculationAudit
	require.NoError(t, db.Order("created_at ASC").Find(&audits, "ledger_entry_id = ?", entry.ID).Error)
	require.Len(t, audits, 3)
	require.NotNil(t, audits[1].CorrectionJobID)
	require.NotNil(t, audits[2].CorrectionJobID)
	assert.NotEqual(t, *audits[1].CorrectionJobID, *audits[2].CorrectionJobID)
}

func TestRepeatCorrectionAppliesSecondRevision(t *testing.T) {
	db := openTestDB(t)
	corrector := NewCorrector(db, 10, zap.NewNop())

	entry := seedEntry(t, db, 100.0, map[string]int{"nitrogen": 1}, nitrogenComponents(80))

	for i := 0; i < 2; i++ {
		summary, err := corrector.Recalculate(context.Background(),
			CorrectionFilter{Substance: "nitrogen"}, 0.9, "revised again")
		require.NoError(t, err)
		assert.Equal(t, CorrectionSummary{Updated: 1}, summary)
	}

	var updated CarbonLedgerEntry
	require.NoError(t, db.First(&updated, "id = ?", entry.ID).Error)
	assert.InDelta(t, 81.0, updated.Amount, 1e-4)
}

func TestRecalculateFiltersByEstablishment(t *testing.T) {
	db := openTestDB(t)
	corrector := NewCorrector(db, 10, zap.NewNop())

	target := seedEntry(t, db, 100.0, map[string]int{"nitrogen": 1}, nitrogenComponents(80))
	other := seedEntry(t, db, 100.0, map[string]int{"nitrogen": 1}, nitrogenComponents(80))

	summary, err := corrector.Recalculate(context.Background(),
		CorrectionFilter{Substance: "nitrogen", EstablishmentID: &target.EstablishmentID},
		0.9, "corrected")
	require.NoError(t, err)
	assert.Equal(t, CorrectionSummary{Updated: 1}, summary)

	var untouched CarbonLedgerEntry
	require.NoError(t, db.First(&untouched, "id = ?", other.ID).Error)
	assert.Equal(t, 100.0, untouched.Amount)
}

func TestRecalculateLegacyAuditWithoutBreakdown(t *testing.T) {
	db := openTestDB(t)
	corrector := NewCorrector(db, 10, zap.NewNop())

	// Audit written before breakdown persistence: rescale is approximate
	entry := seedEntry(t, db, 100.0, map[string]int{"nitrogen": 1}, nil)

	summary, err := corrector.Recalculate(context.Background(),
		CorrectionFilter{Substance: "nitrogen"}, 0.8746, "corrected")
	require.NoError(t, err)
	assert.Equal(t, CorrectionSummary{Updated: 1}, summary)

	var correction CalculationAudit
	require.NoError(t, db.First(&correction,
		"ledger_entry_id = ? AND supersedes_audit_id IS NOT NULL", entry.ID).Error)
	assert.Contains(t, correction.CorrectionNote, "approximate")
}

func TestRecalculateRejectsInvalidInput(t *testing.T) {
	db := openTestDB(t)
	corrector := NewCorrector(db, 10, zap.NewNop())

	_, err := corrector.Recalculate(context.Background(), CorrectionFilter{Substance: "nitrogen"}, 0, "x")
	assert.Error(t, err)

	_, err = corrector.Recalculate(context.Background(), CorrectionFilter{}, 0.9, "x")
	assert.Error(t, err)
}

func TestRecalculateFailedBatchCountsWholeBatchAsErrors(t *testing.T) {
	db := openTestDB(t)
	corrector := NewCorrector(db, 10, zap.NewNop())

	first := seedEntry(t, db, 100.0, map[string]int{"nitrogen": 1}, nitrogenComponents(80))
	second := seedEntry(t, db, 100.0, map[string]int{"nitrogen": 1}, nitrogenComponents(80))

	// Make the batch transaction fail on the entry update
	require.NoError(t, db.Exec(`
		CREATE TRIGGER reject_correction_notes BEFORE UPDATE ON carbon_ledger_entries
		WHEN NEW.notes LIKE '%rejected upstream%'
		BEGIN SELECT RAISE(ABORT, 'correction rejected'); END`).Error)

	summary, err := corrector.Recalculate(context.Background(),
		CorrectionFilter{Substance: "nitrogen"}, 0.9, "rejected upstream")
	require.NoError(t, err)

	// The rolled-back batch reports nothing as updated
	assert.Equal(t, CorrectionSummary{Errors: 2}, summary)

	for _, id := range []uuid.UUID{first.ID, second.ID} {
		var entry CarbonLedgerEntry
		require.NoError(t, db.First(&entry, "id = ?", id).Error)
		assert.Equal(t, 100.0, entry.Amount)

		var audits int64
		require.NoError(t, db.Model(&CalculationAudit{}).
			Where("ledger_entry_id = ?", id).Count(&audits).Error)
		assert.Equal(t, int64(1), audits)
	}
}
