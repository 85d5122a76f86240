package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"agricarbon/impact-portal/impact-portal-backend/internal/emissions/calculator"
)

// DefaultCorrectionBatchSize bounds how many ledger entries a single
// correction transaction touches
const DefaultCorrectionBatchSize = 100

// CorrectionFilter selects the ledger entries a bulk correction applies to.
// JobID identifies the correction run: an entry is excluded only once THIS
// job has corrected it, so a later correction for another substance, or a
// second revision of the same one, still reaches it. A zero JobID gets a
// fresh one assigned.
type CorrectionFilter struct {
	Substance       string     `json:"substance"`
	EstablishmentID *uuid.UUID `json:"establishment_id,omitempty"`
	JobID           uuid.UUID  `json:"job_id,omitempty"`
}

// CorrectionSummary reports the outcome of a bulk recalculation. Failed
// entries never abort the run; they are tallied and reported separately.
type CorrectionSummary struct {
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

// Corrector rescales ledger entries after an emission factor correction. It
// processes bounded batches with per-batch transactional commit, so a
// failure partway through leaves committed batches durable and the rest
// resumable by re-querying entries not yet corrected.
type Corrector struct {
	db        *gorm.DB
	batchSize int
	logger    *zap.Logger
}

// NewCorrector creates a bulk correction processor
func NewCorrector(db *gorm.DB, batchSize int, logger *zap.Logger) *Corrector {
	if batchSize <= 0 {
		batchSize = DefaultCorrectionBatchSize
	}
	return &Corrector{db: db, batchSize: batchSize, logger: logger}
}

// Recalculate rescales every matching ledger entry by the correction ratio
// newValue/oldValue. Each affected entry gets its amount multiplied by the
// ratio, a note appended describing the correction, and a new audit row
// referencing the superseded one. Original audit rows are never edited or
// deleted.
func (c *Corrector) Recalculate(ctx context.Context, filter CorrectionFilter, ratio float64, note string) (CorrectionSummary, error) {
	if ratio <= 0 {
		return CorrectionSummary{}, fmt.Errorf("correction ratio must be positive, got %f", ratio)
	}
	if filter.Substance == "" {
		return CorrectionSummary{}, fmt.Errorf("correction filter requires a substance")
	}
	if filter.JobID == uuid.Nil {
		filter.JobID = uuid.New()
	}

	var summary CorrectionSummary
	var cursor time.Time

	for {
		batch, err := c.nextBatch(ctx, filter, cursor)
		if err != nil {
			return summary, fmt.Errorf("querying correction batch: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		cursor = batch[len(batch)-1].CreatedAt

		batchSummary, err := c.processBatch(ctx, batch, filter, ratio, note)
		if err != nil {
			// A failed batch rolls back as a unit, so nothing in it was
			// committed. Its in-transaction tallies are void.
			summary.Errors += len(batch)
			c.logger.Error("Correction batch failed",
				zap.String("substance", filter.Substance),
				zap.Int("batch_size", len(batch)),
				zap.Error(err))
			continue
		}
		summary.Updated += batchSummary.Updated
		summary.Skipped += batchSummary.Skipped
		summary.Errors += batchSummary.Errors
	}

	c.logger.Info("Bulk recalculation finished",
		zap.String("substance", filter.Substance),
		zap.Float64("ratio", ratio),
		zap.Int("updated", summary.Updated),
		zap.Int("skipped", summary.Skipped),
		zap.Int("errors", summary.Errors))

	return summary, nil
}

// nextBatch pages entries this job has not corrected yet by creation time,
// so an interrupted run resumes where it left off
func (c *Corrector) nextBatch(ctx context.Context, filter CorrectionFilter, after time.Time) ([]CarbonLedgerEntry, error) {
	correctedByJob := c.db.Session(&gorm.Session{NewDB: true}).
		Model(&CalculationAudit{}).
		Select("ledger_entry_id").
		Where("correction_job_id = ?", filter.JobID)

	query := c.db.WithContext(ctx).
		Where("id NOT IN (?)", correctedByJob).
		Where("created_at > ?", after).
		Order("created_at ASC").
		Limit(c.batchSize)
	if filter.EstablishmentID != nil {
		query = query.Where("establishment_id = ?", *filter.EstablishmentID)
	}

	var batch []CarbonLedgerEntry
	if err := query.Find(&batch).Error; err != nil {
		return nil, err
	}
	return batch, nil
}

// processBatch applies the correction to one batch inside a transaction
func (c *Corrector) processBatch(ctx context.Context, batch []CarbonLedgerEntry, filter CorrectionFilter, ratio float64, note string) (CorrectionSummary, error) {
	var summary CorrectionSummary

	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range batch {
			entry := &batch[i]

			audit, err := c.currentAudit(tx, entry.ID)
			if err != nil {
				summary.Errors++
				c.logger.Warn("Skipping entry with unreadable audit trail",
					zap.String("ledger_entry_id", entry.ID.String()), zap.Error(err))
				continue
			}

			var factorsUsed map[string]int
			if len(audit.FactorsUsed) > 0 {
				if err := json.Unmarshal(audit.FactorsUsed, &factorsUsed); err != nil {
					summary.Errors++
					continue
				}
			}
			if _, uses := factorsUsed[filter.Substance]; !uses {
				summary.Skipped++
				continue
			}

			if err := c.correctEntry(tx, entry, audit, filter, ratio, note); err != nil {
				return err
			}
			summary.Updated++
		}
		return nil
	})

	return summary, err
}

// correctEntry rescales one ledger entry and appends its correction audit
func (c *Corrector) correctEntry(tx *gorm.DB, entry *CarbonLedgerEntry, audit *CalculationAudit, filter CorrectionFilter, ratio float64, note string) error {
	newAmount := math.Round(entry.Amount*ratio*10000) / 10000

	correctionNote := note
	breakdown, approximate := rescaleBreakdown(audit.Breakdown, filter.Substance, ratio)
	if approximate {
		correctionNote += " (nutrient split not persisted at calculation time; rescale is approximate)"
	}

	correctionFactor := ratio
	jobID := filter.JobID
	newAudit := &CalculationAudit{
		ID:                 uuid.New(),
		LedgerEntryID:      entry.ID,
		EventID:            audit.EventID,
		InputSnapshot:      audit.InputSnapshot,
		FactorsUsed:        audit.FactorsUsed,
		Breakdown:          breakdown,
		ClimateMetadata:    audit.ClimateMetadata,
		MethodologyVersion: calculator.MethodologyVersion,
		ProcessorVersion:   calculator.ProcessorVersion,
		CO2e:               newAmount,
		ConfidenceScore:    audit.ConfidenceScore,
		SupersedesAuditID:  &audit.ID,
		CorrectionFactor:   &correctionFactor,
		CorrectionJobID:    &jobID,
		CorrectionNote:     correctionNote,
	}
	if err := tx.Create(newAudit).Error; err != nil {
		return fmt.Errorf("creating correction audit: %w", err)
	}

	notes := entry.Notes
	if notes != "" {
		notes += "; "
	}
	notes += correctionNote

	return tx.Model(&CarbonLedgerEntry{}).
		Where("id = ?", entry.ID).
		Updates(map[string]interface{}{
			"amount":             newAmount,
			"notes":              notes,
			"correction_applied": true,
		}).Error
}

// currentAudit returns the audit row that has not been superseded yet
func (c *Corrector) currentAudit(tx *gorm.DB, ledgerEntryID uuid.UUID) (*CalculationAudit, error) {
	var audit CalculationAudit
	err := tx.
		Where("ledger_entry_id = ?", ledgerEntryID).
		Where("id NOT IN (?)", tx.Session(&gorm.Session{NewDB: true}).
			Model(&CalculationAudit{}).
			Select("supersedes_audit_id").
			Where("ledger_entry_id = ? AND supersedes_audit_id IS NOT NULL", ledgerEntryID)).
		First(&audit).Error
	if err != nil {
		return nil, err
	}
	return &audit, nil
}

// rescaleBreakdown multiplies the corrected substance's component by the
// ratio. Audits written before breakdown persistence get the historical
// 60/20/20 nitrogen/phosphorus/potassium estimate, which is inherently
// lossy; the second return value marks that approximation.
func rescaleBreakdown(raw datatypes.JSON, substance string, ratio float64) (datatypes.JSON, bool) {
	var components []calculator.Component
	if len(raw) == 0 || json.Unmarshal(raw, &components) != nil || len(components) == 0 {
		return raw, nutrientSubstance(substance)
	}

	found := false
	for i := range components {
		if components[i].Name == substance {
			components[i].CO2e = math.Round(components[i].CO2e*ratio*10000) / 10000
			found = true
		}
	}
	if !found {
		return raw, nutrientSubstance(substance)
	}

	out, err := json.Marshal(components)
	if err != nil {
		return raw, false
	}
	return datatypes.JSON(out), false
}

// nutrientSubstance reports whether a substance participates in the legacy
// 60/20/20 split heuristic
func nutrientSubstance(substance string) bool {
	switch strings.ToLower(substance) {
	case "nitrogen", "phosphorus", "potassium":
		return true
	}
	return false
}
