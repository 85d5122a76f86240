package compliance

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubRepository serves a fixed benchmark or a fixed error
type stubRepository struct {
	benchmark *Benchmark
	err       error
}

func (s *stubRepository) GetBenchmark(_ context.Context, _, _ string) (*Benchmark, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.benchmark, nil
}

var testBenchmark = &Benchmark{
	CropType:        "citrus",
	State:           "florida",
	BestPractice:    50,
	RegionalAverage: 100,
	SampleSize:      240,
}

func newTestValidator(primary, fallback Repository) *Validator {
	return NewValidator(primary, fallback, zap.NewNop())
}

func TestValidateCompliantAtBestPractice(t *testing.T) {
	v := newTestValidator(&stubRepository{benchmark: testBenchmark}, nil)

	record, err := v.Validate(context.Background(), "citrus", "florida", 100, 2, true, "broadcast", nil)
	require.NoError(t, err)

	assert.Equal(t, StatusCompliant, record.Status) // 50 kg/ha == best practice
	assert.Equal(t, 50.0, record.CarbonIntensity)
	assert.Equal(t, "calibrated_factor_benchmark", record.ValidationMethod)
}

func TestValidateNonCompliantAboveMargin(t *testing.T) {
	v := newTestValidator(&stubRepository{benchmark: testBenchmark}, nil)

	// 125 kg/ha > 100 × 1.2 margin
	record, err := v.Validate(context.Background(), "citrus", "florida", 250, 2, true, "broadcast", nil)
	require.NoError(t, err)

	assert.Equal(t, StatusNonCompliant, record.Status)
}

func TestValidateNeedsReviewBetweenBands(t *testing.T) {
	v := newTestValidator(&stubRepository{benchmark: testBenchmark}, nil)

	// 80 kg/ha sits between best practice and the non-compliance margin
	record, err := v.Validate(context.Background(), "citrus", "florida", 160, 2, false, "broadcast", nil)
	require.NoError(t, err)

	assert.Equal(t, StatusNeedsReview, record.Status)
	assert.Equal(t, "flat_estimate_benchmark", record.ValidationMethod)
}

func TestValidateSequestrationAlwaysCompliant(t *testing.T) {
	v := newTestValidator(&stubRepository{err: ErrBenchmarkUnavailable}, nil)

	// Negative intensity clears the benchmark even when none exists
	record, err := v.Validate(context.Background(), "citrus", "florida", -6, 3, true, "", nil)
	require.NoError(t, err)

	assert.Equal(t, StatusCompliant, record.Status)
	assert.Equal(t, -2.0, record.CarbonIntensity)
}

func TestValidateMissingBenchmarkNeedsReview(t *testing.T) {
	v := newTestValidator(&stubRepository{err: ErrBenchmarkUnavailable}, nil)

	record, err := v.Validate(context.Background(), "durian", "alaska", 100, 2, true, "", nil)
	require.NoError(t, err)

	assert.Equal(t, StatusNeedsReview, record.Status)
	assert.NotEmpty(t, record.Recommendations)
}

func TestValidateZeroAreaNeedsReview(t *testing.T) {
	v := newTestValidator(&stubRepository{benchmark: testBenchmark}, nil)

	record, err := v.Validate(context.Background(), "citrus", "florida", 100, 0, true, "", nil)
	require.NoError(t, err)

	assert.Equal(t, StatusNeedsReview, record.Status)
	assert.Zero(t, record.CarbonIntensity)
}

func TestValidateFallsBackWhenStoreUnreachable(t *testing.T) {
	primary := &stubRepository{err: errors.New("dial tcp: connection refused")}
	fallback := &stubRepository{benchmark: testBenchmark}
	v := newTestValidator(primary, fallback)

	record, err := v.Validate(context.Background(), "citrus", "florida", 100, 2, true, "broadcast", nil)
	require.NoError(t, err)

	assert.Equal(t, StatusCompliant, record.Status)
}

func TestValidateRecommendsDominantComponent(t *testing.T) {
	v := newTestValidator(&stubRepository{benchmark: testBenchmark}, nil)

	breakdown := map[string]float64{
		"nitrogen":        130,
		"phosphorus":      20,
		"potassium":       10,
		"crop_production": 0.4,
	}
	record, err := v.Validate(context.Background(), "citrus", "florida", 160, 2, true, "broadcast", breakdown)
	require.NoError(t, err)

	require.NotEmpty(t, record.Recommendations)
	assert.Contains(t, record.Recommendations[0], "nitrogen")
}

func TestStaticRepositoryFallbackChain(t *testing.T) {
	repo := NewStaticRepository()

	// Exact crop+state band
	b, err := repo.GetBenchmark(context.Background(), "citrus", "florida")
	require.NoError(t, err)
	assert.Equal(t, "citrus", b.CropType)

	// Unknown state falls back to the crop's national band
	b, err = repo.GetBenchmark(context.Background(), "citrus", "alaska")
	require.NoError(t, err)
	assert.Equal(t, "citrus", b.CropType)

	// Unknown crop falls back to the all-crop default band
	b, err = repo.GetBenchmark(context.Background(), "durian", "alaska")
	require.NoError(t, err)
	assert.Equal(t, "default", b.CropType)
}

func TestBandFromSamples(t *testing.T) {
	samples := []float64{40, 60, 80, 100, 120}

	b, err := BandFromSamples("grain", "iowa", samples)
	require.NoError(t, err)

	assert.Equal(t, 60.0, b.BestPractice) // 25th percentile
	assert.Equal(t, 80.0, b.RegionalAverage)
	assert.Equal(t, 5, b.SampleSize)
}

func TestBandFromSamplesEmpty(t *testing.T) {
	_, err := BandFromSamples("grain", "iowa", nil)
	assert.ErrorIs(t, err, ErrBenchmarkUnavailable)
}
