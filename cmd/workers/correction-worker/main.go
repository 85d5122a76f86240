package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"agricarbon/impact-portal/impact-portal-backend/internal/config"
	"agricarbon/impact-portal/impact-portal-backend/internal/ledger"
	"agricarbon/impact-portal/impact-portal-backend/pkg/workflows"
)

// CorrectionWorker drains pending factor-correction jobs and rescales the
// affected ledger entries in bounded batches
type CorrectionWorker struct {
	db        *gorm.DB
	corrector *ledger.Corrector
	lifecycle *workflows.StateMachine
	logger    *zap.Logger
	config    CorrectionWorkerConfig
}

// CorrectionWorkerConfig configuration for the correction worker
type CorrectionWorkerConfig struct {
	SweepSchedule string // cron expression
	BatchSize     int
}

// DefaultCorrectionWorkerConfig returns default configuration
func DefaultCorrectionWorkerConfig() CorrectionWorkerConfig {
	return CorrectionWorkerConfig{
		SweepSchedule: "@every 1m",
		BatchSize:     ledger.DefaultCorrectionBatchSize,
	}
}

// NewCorrectionWorker creates a correction worker
func NewCorrectionWorker(db *gorm.DB, logger *zap.Logger, cfg CorrectionWorkerConfig) *CorrectionWorker {
	return &CorrectionWorker{
		db:        db,
		corrector: ledger.NewCorrector(db, cfg.BatchSize, logger),
		lifecycle: workflows.NewCorrectionLifecycle(),
		logger:    logger,
		config:    cfg,
	}
}

// Sweep processes every pending correction job once. Job failures are
// recorded on the job row and never abort the sweep.
func (w *CorrectionWorker) Sweep(ctx context.Context) {
	var jobs []ledger.FactorCorrection
	err := w.db.WithContext(ctx).
		Where("status = ?", ledger.CorrectionStatusPending).
		Order("created_at ASC").
		Find(&jobs).Error
	if err != nil {
		w.logger.Error("Failed to load pending correction jobs", zap.Error(err))
		return
	}
	if len(jobs) == 0 {
		return
	}

	w.logger.Info("Processing correction jobs", zap.Int("pending", len(jobs)))

	for i := range jobs {
		w.processJob(ctx, &jobs[i])
	}
}

// processJob runs one bulk recalculation and records its outcome
func (w *CorrectionWorker) processJob(ctx context.Context, job *ledger.FactorCorrection) {
	if err := w.transition(ctx, job, ledger.CorrectionStatusRunning); err != nil {
		w.logger.Error("Failed to claim correction job",
			zap.String("job_id", job.ID.String()), zap.Error(err))
		return
	}

	note := fmt.Sprintf("Factor correction for %s: %.4f -> %.4f (ratio %.4f), %s",
		job.Substance, job.OldValue, job.NewValue, job.Ratio, job.Citation)

	summary, err := w.corrector.Recalculate(ctx,
		ledger.CorrectionFilter{Substance: job.Substance, JobID: job.ID}, job.Ratio, note)

	status := ledger.CorrectionStatusCompleted
	if err != nil {
		status = ledger.CorrectionStatusFailed
		w.logger.Error("Correction job failed",
			zap.String("job_id", job.ID.String()),
			zap.String("substance", job.Substance),
			zap.Error(err))
	}

	if err := w.finalize(ctx, job, status, summary); err != nil {
		w.logger.Error("Failed to finalize correction job",
			zap.String("job_id", job.ID.String()), zap.Error(err))
		return
	}

	w.logger.Info("Correction job finished",
		zap.String("job_id", job.ID.String()),
		zap.String("substance", job.Substance),
		zap.Int("updated", summary.Updated),
		zap.Int("skipped", summary.Skipped),
		zap.Int("errors", summary.Errors))
}

// transition moves a job to a new status, enforcing the lifecycle
func (w *CorrectionWorker) transition(ctx context.Context, job *ledger.FactorCorrection, to ledger.CorrectionStatus) error {
	if !w.lifecycle.CanTransition(string(job.Status), string(to)) {
		return fmt.Errorf("illegal job transition %s -> %s (allowed: %s)",
			job.Status, to, strings.Join(w.lifecycle.AllowedTransitions(string(job.Status)), ", "))
	}
	if err := w.db.WithContext(ctx).Model(job).Update("status", to).Error; err != nil {
		return err
	}
	job.Status = to
	return nil
}

// finalize records the run outcome on the job row
func (w *CorrectionWorker) finalize(ctx context.Context, job *ledger.FactorCorrection, status ledger.CorrectionStatus, summary ledger.CorrectionSummary) error {
	if !w.lifecycle.CanTransition(string(job.Status), string(status)) {
		return fmt.Errorf("illegal job transition %s -> %s (allowed: %s)",
			job.Status, status, strings.Join(w.lifecycle.AllowedTransitions(string(job.Status)), ", "))
	}

	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":        status,
		"updated_count": summary.Updated,
		"skipped_count": summary.Skipped,
		"error_count":   summary.Errors,
		"completed_at":  &now,
	}
	if err := w.db.WithContext(ctx).Model(job).Updates(updates).Error; err != nil {
		return err
	}
	job.Status = status
	return nil
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	_ = godotenv.Load()

	cfg, err := config.LoadConfig("config.json")
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	db, err := gorm.Open(postgres.Open(cfg.Database.GetDatabaseURL()), &gorm.Config{})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := ledger.Migrate(db); err != nil {
		logger.Fatal("Failed to migrate ledger schema", zap.Error(err))
	}

	workerCfg := DefaultCorrectionWorkerConfig()
	workerCfg.BatchSize = cfg.Engine.CorrectionBatchSize
	worker := NewCorrectionWorker(db, logger, workerCfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(workerCfg.SweepSchedule, func() { worker.Sweep(ctx) }); err != nil {
		logger.Fatal("Failed to schedule correction sweep", zap.Error(err))
	}
	scheduler.Start()
	logger.Info("Correction worker started", zap.String("schedule", workerCfg.SweepSchedule))

	// Run an immediate sweep so queued jobs are not delayed a full interval
	worker.Sweep(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Correction worker shutting down")
	stopCtx := scheduler.Stop()
	<-stopCtx.Done()
}
