package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"agricarbon/impact-portal/impact-portal-backend/internal/compliance"
	"agricarbon/impact-portal/impact-portal-backend/internal/emissions/calculator"
	"agricarbon/impact-portal/impact-portal-backend/internal/events"
)

// Recorder persists the output of a calculation as one atomic unit: ledger
// entry, audit row, and compliance record are created together or not at all
type Recorder struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewRecorder creates an audit trail recorder
func NewRecorder(db *gorm.DB, logger *zap.Logger) *Recorder {
	return &Recorder{db: db, logger: logger}
}

// RecordOutcome is the persisted projection of one calculation
type RecordOutcome struct {
	LedgerEntry      *CarbonLedgerEntry `json:"ledger_entry"`
	Audit            *CalculationAudit  `json:"audit"`
	ComplianceRecord *ComplianceRecord  `json:"compliance_record"`
}

// Record projects a calculation result into a CarbonLedgerEntry, a
// CalculationAudit, and a ComplianceRecord inside a single transaction. The
// audit row snapshots every input used so the result can be re-derived after
// a factor correction.
func (r *Recorder) Record(ctx context.Context, event events.AgriculturalEvent, result *calculator.CalculationResult, verdict *compliance.Record) (*RecordOutcome, error) {
	inputSnapshot, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshaling input snapshot: %w", err)
	}
	factorsUsed, err := json.Marshal(result.FactorVersions)
	if err != nil {
		return nil, fmt.Errorf("marshaling factor versions: %w", err)
	}
	breakdown, err := json.Marshal(result.Breakdown)
	if err != nil {
		return nil, fmt.Errorf("marshaling breakdown: %w", err)
	}
	climateMeta, err := json.Marshal(result.ClimateMetadata)
	if err != nil {
		return nil, fmt.Errorf("marshaling climate metadata: %w", err)
	}
	recommendations, err := json.Marshal(verdict.Recommendations)
	if err != nil {
		return nil, fmt.Errorf("marshaling recommendations: %w", err)
	}

	entry := &CarbonLedgerEntry{
		ID:                 uuid.New(),
		EstablishmentID:    event.EstablishmentID,
		ProductionID:       event.ProductionID,
		EventID:            event.ID,
		Amount:             result.CO2e,
		Unit:               "kg CO2e",
		CropType:           result.Inputs.CropCategory,
		State:              result.ClimateMetadata.State,
		VerificationStatus: string(result.VerificationStatus),
		DataSource:         result.DataSource,
		MethodologyVersion: result.MethodologyVersion,
	}
	audit := &CalculationAudit{
		ID:                 uuid.New(),
		LedgerEntryID:      entry.ID,
		EventID:            event.ID,
		InputSnapshot:      datatypes.JSON(inputSnapshot),
		FactorsUsed:        datatypes.JSON(factorsUsed),
		Breakdown:          datatypes.JSON(breakdown),
		ClimateMetadata:    datatypes.JSON(climateMeta),
		MethodologyVersion: result.MethodologyVersion,
		ProcessorVersion:   calculator.ProcessorVersion,
		CO2e:               result.CO2e,
		ConfidenceScore:    result.ConfidenceScore,
	}
	record := &ComplianceRecord{
		ID:               verdict.ID,
		LedgerEntryID:    entry.ID,
		AuditID:          audit.ID,
		Status:           string(verdict.Status),
		ConfidenceScore:  result.ConfidenceScore,
		ValidationMethod: verdict.ValidationMethod,
		CarbonIntensity:  verdict.CarbonIntensity,
		Recommendations:  datatypes.JSON(recommendations),
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(entry).Error; err != nil {
			return fmt.Errorf("creating ledger entry: %w", err)
		}
		if err := tx.Create(audit).Error; err != nil {
			return fmt.Errorf("creating calculation audit: %w", err)
		}
		if err := tx.Create(record).Error; err != nil {
			return fmt.Errorf("creating compliance record: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("Recorded calculation",
		zap.String("ledger_entry_id", entry.ID.String()),
		zap.String("event_id", event.ID.String()),
		zap.Float64("co2e", result.CO2e),
		zap.String("compliance_status", record.Status))

	return &RecordOutcome{LedgerEntry: entry, Audit: audit, ComplianceRecord: record}, nil
}

// LatestAudit returns the most recent audit row for a ledger entry
func (r *Recorder) LatestAudit(ctx context.Context, ledgerEntryID uuid.UUID) (*CalculationAudit, error) {
	var audit CalculationAudit
	err := r.db.WithContext(ctx).
		Where("ledger_entry_id = ?", ledgerEntryID).
		Order("created_at DESC").
		First(&audit).Error
	if err != nil {
		return nil, fmt.Errorf("loading latest audit: %w", err)
	}
	return &audit, nil
}

// AuditChain returns the full audit history for a ledger entry, oldest
// first, including all correction rows
func (r *Recorder) AuditChain(ctx context.Context, ledgerEntryID uuid.UUID) ([]CalculationAudit, error) {
	var audits []CalculationAudit
	err := r.db.WithContext(ctx).
		Where("ledger_entry_id = ?", ledgerEntryID).
		Order("created_at ASC").
		Find(&audits).Error
	if err != nil {
		return nil, fmt.Errorf("loading audit chain: %w", err)
	}
	return audits, nil
}
