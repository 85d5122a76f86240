package ledger

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// =====================================================
// Enums and Constants
// =====================================================

// CorrectionStatus tracks the lifecycle of a bulk factor correction job
type CorrectionStatus string

const (
	CorrectionStatusPending   CorrectionStatus = "pending"
	CorrectionStatusRunning   CorrectionStatus = "running"
	CorrectionStatusCompleted CorrectionStatus = "completed"
	CorrectionStatusFailed    CorrectionStatus = "failed"
)

// CarbonLedgerEntry is the persisted, signed CO2e contribution of one event.
// Amounts are rescaled by factor corrections; the audit trail records every
// such change.
type CarbonLedgerEntry struct {
	ID                 uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	EstablishmentID    uuid.UUID `gorm:"type:uuid;index" json:"establishment_id"`
	ProductionID       uuid.UUID `gorm:"type:uuid;index" json:"production_id"`
	EventID            uuid.UUID `gorm:"type:uuid;index" json:"event_id"`
	Amount             float64   `json:"amount"` // signed kg CO2e
	Unit               string    `json:"unit"`
	CropType           string    `json:"crop_type"`
	State              string    `json:"state"`
	VerificationStatus string    `gorm:"index" json:"verification_status"`
	DataSource         string    `json:"data_source"`
	MethodologyVersion string    `json:"methodology_version"`
	Notes              string    `json:"notes,omitempty"`
	CorrectionApplied  bool      `gorm:"index" json:"correction_applied"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// TableName overrides the gorm table name
func (CarbonLedgerEntry) TableName() string {
	return "carbon_ledger_entries"
}

// CalculationAudit is one immutable row of the calculation audit trail. Rows
// are only ever inserted: a factor correction appends a new row that
// references the superseded one by ID together with the applied correction
// factor, so any historical amount can be re-derived forensically.
type CalculationAudit struct {
	ID                 uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	LedgerEntryID      uuid.UUID      `gorm:"type:uuid;index" json:"ledger_entry_id"`
	EventID            uuid.UUID      `gorm:"type:uuid;index" json:"event_id"`
	InputSnapshot      datatypes.JSON `json:"input_snapshot"`
	FactorsUsed        datatypes.JSON `json:"factors_used"` // substance to factor version
	Breakdown          datatypes.JSON `json:"breakdown"`    // persisted nutrient/component split
	ClimateMetadata    datatypes.JSON `json:"climate_metadata"`
	MethodologyVersion string         `json:"methodology_version"`
	ProcessorVersion   string         `json:"processor_version"`
	CO2e               float64        `json:"co2e"`
	ConfidenceScore    float64        `json:"confidence_score"`
	SupersedesAuditID  *uuid.UUID     `gorm:"type:uuid;index" json:"supersedes_audit_id,omitempty"`
	CorrectionFactor   *float64       `json:"correction_factor,omitempty"`
	CorrectionJobID    *uuid.UUID     `gorm:"type:uuid;index" json:"correction_job_id,omitempty"`
	CorrectionNote     string         `json:"correction_note,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
}

// TableName overrides the gorm table name
func (CalculationAudit) TableName() string {
	return "calculation_audits"
}

// ComplianceRecord is the persisted compliance verdict for a ledger entry
type ComplianceRecord struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	LedgerEntryID    uuid.UUID      `gorm:"type:uuid;index" json:"ledger_entry_id"`
	AuditID          uuid.UUID      `gorm:"type:uuid" json:"audit_id"`
	Status           string         `gorm:"index" json:"status"`
	ConfidenceScore  float64        `json:"confidence_score"`
	ValidationMethod string         `json:"validation_method"`
	CarbonIntensity  float64        `json:"carbon_intensity"`
	Recommendations  datatypes.JSON `json:"recommendations,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// TableName overrides the gorm table name
func (ComplianceRecord) TableName() string {
	return "compliance_records"
}

// FactorCorrection is a queued bulk recalculation job created when an
// emission factor is corrected. The correction worker drains pending jobs
// and rescales affected ledger entries in bounded batches.
type FactorCorrection struct {
	ID           uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	Substance    string           `gorm:"index" json:"substance"`
	OldValue     float64          `json:"old_value"`
	NewValue     float64          `json:"new_value"`
	Ratio        float64          `json:"ratio"`
	Citation     string           `json:"citation"`
	Status       CorrectionStatus `gorm:"index" json:"status"`
	UpdatedCount int              `json:"updated_count"`
	SkippedCount int              `json:"skipped_count"`
	ErrorCount   int              `json:"error_count"`
	CreatedAt    time.Time        `json:"created_at"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
}

// TableName overrides the gorm table name
func (FactorCorrection) TableName() string {
	return "factor_corrections"
}

// Migrate creates the ledger tables
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&CarbonLedgerEntry{},
		&CalculationAudit{},
		&ComplianceRecord{},
		&FactorCorrection{},
	)
}
