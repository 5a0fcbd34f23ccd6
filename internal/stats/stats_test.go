package stats

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/rainfallqc/internal/series"
)

func TestPettittStepSeries(t *testing.T) {
	x := make([]float64, 40)
	for i := 20; i < len(x); i++ {
		x[i] = 5
	}
	tau, p := PettittTest(x)
	assert.InDelta(t, 20, tau, 1)
	assert.Less(t, p, 0.05)

	flat := make([]float64, 40)
	_, p = PettittTest(flat)
	assert.InDelta(t, 2.0, p, 1e-12, "no change gives K=0")
}

func TestFitExponentialPercentiles(t *testing.T) {
	// loc 1, scale 2: quantile(p) = 1 - 2*ln(1-p)
	got, err := FitExponentialPercentiles([]float64{1, 2, 3, 4, 5, math.NaN()}, []float64{0.95, 0.99})
	require.NoError(t, err)
	assert.InDelta(t, 1-2*math.Log(0.05), got[0.95], 1e-9)
	assert.InDelta(t, 1-2*math.Log(0.01), got[0.99], 1e-9)

	_, err = FitExponentialPercentiles([]float64{1}, []float64{0.95})
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestAffinityIndex(t *testing.T) {
	a := []float64{0, 1, 2, 0, math.NaN()}
	b := []float64{0, 3, 0, 1, 4}
	got, counts := AffinityIndex(a, b, 0)
	assert.InDelta(t, 0.5, got, 1e-12)
	assert.Equal(t, AffinityCounts{Match: 2, Mismatch: 2}, counts)
}

func TestCorrelation(t *testing.T) {
	r, err := Correlation([]float64{1, 2, 3, math.NaN()}, []float64{2, 4, 6, 1})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, r, 1e-12)
}

func TestFactorDiff(t *testing.T) {
	target := []float64{2, 4, 0, 9}
	other := []float64{1, 1, 5, 3}

	mean, err := FactorDiff(target, other, AverageMean)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, mean, 1e-12)

	median, err := FactorDiff(target, other, AverageMedian)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, median, 1e-12)

	_, err = FactorDiff(target, other, "mode")
	assert.ErrorIs(t, err, ErrUnsupportedAveraging)
	assert.Contains(t, err.Error(), `"mode"`)
}

func TestSimplePrecipitationIntensityIndex(t *testing.T) {
	assert.InDelta(t, 3.0, SimplePrecipitationIntensityIndex([]float64{0, 2, 4, math.NaN()}, 1), 1e-12)
	assert.True(t, math.IsNaN(SimplePrecipitationIntensityIndex([]float64{0, 0}, 1)))
}

func TestDryFractionRequiresIsDry(t *testing.T) {
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	times := []time.Time{base, base.AddDate(0, 0, 1), base.AddDate(0, 0, 2), base.AddDate(0, 0, 3)}
	f, err := series.FromColumns(times, []string{"rain_mm"}, []float64{0, 0, 1, 0})
	require.NoError(t, err)

	_, err = DryFraction(f, 2, 1)
	require.ErrorIs(t, err, ErrPrecondition)

	f, err = f.WithFlags(IsDryColumn, []int{1, 1, 0, 1})
	require.NoError(t, err)
	got, err := DryFraction(f, 2, 1)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(got[0]))
	assert.Equal(t, []float64{1, 0.5, 0.5}, got[1:])
}

func TestOneSampleTTest(t *testing.T) {
	_, p, err := OneSampleTTest([]float64{5.1, 4.9, 5.0, 5.2, 4.8}, 5)
	require.NoError(t, err)
	assert.Greater(t, p, 0.5)

	tstat, p, err := OneSampleTTest([]float64{10.1, 9.9, 10.0, 10.2, 9.8}, 5)
	require.NoError(t, err)
	assert.Greater(t, tstat, 0.0)
	assert.Less(t, p, 0.001)
}

func TestNormalize(t *testing.T) {
	got := Normalize([]float64{1, 3, math.NaN()})
	assert.InDelta(t, -1/math.Sqrt2, got[0], 1e-12)
	assert.InDelta(t, 1/math.Sqrt2, got[1], 1e-12)
	assert.True(t, math.IsNaN(got[2]))

	assert.Equal(t, []float64{0, 0}, Normalize([]float64{4, 4}))
}

func TestNanReducers(t *testing.T) {
	x := []float64{1, math.NaN(), 3}
	assert.Equal(t, 2.0, NanMean(x))
	assert.Equal(t, 3.0, NanMax(x))
	assert.Equal(t, 4.0, NanSum(x))
	assert.Equal(t, 2.0, NanMedian(x))
	assert.True(t, math.IsNaN(NanSum([]float64{math.NaN()})))
	assert.Equal(t, 0.0, Quantile([]float64{0, 0, 0, 5}, 0.5))
}
