package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"agricarbon/impact-portal/impact-portal-backend/internal/compliance"
	"agricarbon/impact-portal/impact-portal-backend/internal/config"
)

// BenchmarkAggregator periodically re-derives regional benchmark bands from
// the carbon intensities recorded with each compliance verdict, so the
// validator compares new calculations against current regional practice
// instead of a stale static table.
type BenchmarkAggregator struct {
	db     *sqlx.DB
	logger *zap.Logger
	config AggregatorConfig
	done   chan struct{}
}

// AggregatorConfig configuration for the benchmark aggregator
type AggregatorConfig struct {
	RefreshInterval time.Duration
	MinSamples      int
	MaxConcurrent   int
}

// DefaultAggregatorConfig returns default configuration
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		RefreshInterval: 15 * time.Minute,
		MinSamples:      25,
		MaxConcurrent:   5,
	}
}

// NewBenchmarkAggregator creates a benchmark aggregator
func NewBenchmarkAggregator(db *sqlx.DB, logger *zap.Logger, config AggregatorConfig) *BenchmarkAggregator {
	return &BenchmarkAggregator{
		db:     db,
		logger: logger,
		config: config,
		done:   make(chan struct{}),
	}
}

// Start runs the refresh loop until the context is cancelled
func (a *BenchmarkAggregator) Start(ctx context.Context) error {
	a.logger.Info("Starting benchmark aggregator",
		zap.Duration("refresh_interval", a.config.RefreshInterval),
		zap.Int("min_samples", a.config.MinSamples))

	ticker := time.NewTicker(a.config.RefreshInterval)
	defer ticker.Stop()

	a.refreshBands(ctx)

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("Benchmark aggregator shutting down")
			return nil
		case <-a.done:
			a.logger.Info("Benchmark aggregator stopped")
			return nil
		case <-ticker.C:
			a.refreshBands(ctx)
		}
	}
}

// Stop stops the aggregator
func (a *BenchmarkAggregator) Stop() {
	close(a.done)
}

// bandKey identifies one crop/state band to refresh
type bandKey struct {
	CropType string `db:"crop_type"`
	State    string `db:"state"`
}

// refreshBands recomputes every crop/state band with enough samples
func (a *BenchmarkAggregator) refreshBands(ctx context.Context) {
	keys, err := a.eligibleBands(ctx)
	if err != nil {
		a.logger.Error("Failed to list eligible benchmark bands", zap.Error(err))
		return
	}
	if len(keys) == 0 {
		return
	}

	a.logger.Info("Refreshing benchmark bands", zap.Int("count", len(keys)))

	sem := make(chan struct{}, a.config.MaxConcurrent)
	for _, key := range keys {
		sem <- struct{}{}
		go func(key bandKey) {
			defer func() { <-sem }()
			a.refreshBand(ctx, key)
		}(key)
	}
	for i := 0; i < a.config.MaxConcurrent; i++ {
		sem <- struct{}{}
	}
}

// eligibleBands lists the crop/state pairs with enough recorded intensities
// to derive a statistically useful band
func (a *BenchmarkAggregator) eligibleBands(ctx context.Context) ([]bandKey, error) {
	query := `
		SELECT e.crop_type, e.state
		FROM carbon_ledger_entries e
		JOIN compliance_records c ON c.ledger_entry_id = e.id
		WHERE c.carbon_intensity > 0 AND e.crop_type <> ''
		GROUP BY e.crop_type, e.state
		HAVING COUNT(*) >= $1
	`

	var keys []bandKey
	if err := a.db.SelectContext(ctx, &keys, query, a.config.MinSamples); err != nil {
		return nil, fmt.Errorf("querying eligible bands: %w", err)
	}
	return keys, nil
}

// refreshBand re-derives one band from its intensity samples and upserts it
func (a *BenchmarkAggregator) refreshBand(ctx context.Context, key bandKey) {
	start := time.Now()

	var samples []float64
	err := a.db.SelectContext(ctx, &samples, `
		SELECT c.carbon_intensity
		FROM compliance_records c
		JOIN carbon_ledger_entries e ON e.id = c.ledger_entry_id
		WHERE e.crop_type = $1 AND e.state = $2 AND c.carbon_intensity > 0`,
		key.CropType, key.State)
	if err != nil {
		a.logger.Error("Failed to load intensity samples",
			zap.String("crop_type", key.CropType),
			zap.String("state", key.State),
			zap.Error(err))
		return
	}

	band, err := compliance.BandFromSamples(key.CropType, key.State, samples)
	if err != nil {
		a.logger.Warn("Band derivation failed",
			zap.String("crop_type", key.CropType),
			zap.String("state", key.State),
			zap.Error(err))
		return
	}

	_, err = a.db.ExecContext(ctx, `
		INSERT INTO carbon_benchmarks (crop_type, state, best_practice, regional_average, sample_size, source, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (crop_type, state) DO UPDATE SET
			best_practice = EXCLUDED.best_practice,
			regional_average = EXCLUDED.regional_average,
			sample_size = EXCLUDED.sample_size,
			source = EXCLUDED.source,
			computed_at = NOW()`,
		band.CropType, band.State, band.BestPractice, band.RegionalAverage, band.SampleSize, band.Source)
	if err != nil {
		a.logger.Error("Failed to upsert benchmark band",
			zap.String("crop_type", key.CropType),
			zap.String("state", key.State),
			zap.Error(err))
		return
	}

	a.logger.Debug("Benchmark band refreshed",
		zap.String("crop_type", key.CropType),
		zap.String("state", key.State),
		zap.Int("sample_size", band.SampleSize),
		zap.Duration("duration", time.Since(start)))
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	_ = godotenv.Load()

	cfg, err := config.LoadConfig("config.json")
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	db, err := sqlx.Connect("postgres", cfg.Database.GetDatabaseURL())
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	aggregator := NewBenchmarkAggregator(db, logger, DefaultAggregatorConfig())

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received")
		cancel()
	}()

	if err := aggregator.Start(ctx); err != nil {
		logger.Error("Aggregator error", zap.Error(err))
	}
}
