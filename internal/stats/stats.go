// Package stats holds the statistical routines the QC checks rely on. It is
// not a general statistics library: every function here exists because a
// check needs it. Missing values are NaN and are skipped rather than treated
// as zero.
package stats

import (
	"errors"
	"fmt"
	"math"
	"sort"

	mstats "github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/lox/rainfallqc/internal/series"
)

var (
	ErrPrecondition         = errors.New("precondition not met")
	ErrUnsupportedAveraging = errors.New("unsupported averaging method")
	ErrInsufficientData     = errors.New("insufficient data")
)

// IsDryColumn is the derived flag column DryFraction depends on.
const IsDryColumn = "is_dry"

// PettittTest locates the most likely single change point in x following
// Pettitt (1979). tau is the first index of the second segment and p the
// approximate significance of the change.
func PettittTest(x []float64) (tau int, p float64) {
	n := len(x)
	if n == 0 {
		return 0, 1
	}
	// K[t] = sum over i<t, j>=t of sign(x[i]-x[j]); K[0] = 0 and
	// K[t+1] = K[t] + sum over all j of sign(x[t]-x[j]).
	var k, best float64
	for t := 0; t < n; t++ {
		if t > 0 {
			var s float64
			for j := 0; j < n; j++ {
				s += sign(x[t-1] - x[j])
			}
			k += s
		}
		if math.Abs(k) > best {
			best = math.Abs(k)
			tau = t
		}
	}
	nf := float64(n)
	p = 2 * math.Exp(-6*best*best/(nf*nf*nf+nf*nf))
	return tau, p
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

// FitExponentialPercentiles fits a location+scale exponential to values by
// maximum likelihood (location = sample minimum, scale = mean - minimum) and
// returns the fitted quantile for each requested percentile in (0, 1).
func FitExponentialPercentiles(values []float64, percentiles []float64) (map[float64]float64, error) {
	x := DropNaN(values)
	if len(x) < 2 {
		return nil, fmt.Errorf("%w: exponential fit needs at least 2 values, got %d", ErrInsufficientData, len(x))
	}
	loc := x[0]
	for _, v := range x {
		loc = math.Min(loc, v)
	}
	scale := stat.Mean(x, nil) - loc
	out := make(map[float64]float64, len(percentiles))
	for _, p := range percentiles {
		if p <= 0 || p >= 1 {
			return nil, fmt.Errorf("percentile %v outside (0, 1)", p)
		}
		if scale <= 0 {
			out[p] = loc
			continue
		}
		out[p] = loc + distuv.Exponential{Rate: 1 / scale}.Quantile(p)
	}
	return out, nil
}

// AffinityCounts are the raw wet/dry agreement tallies behind AffinityIndex.
type AffinityCounts struct {
	Match    int
	Mismatch int
}

// AffinityIndex is the fraction of steps, among those where both series are
// present, on which target and other agree about being wet (> wetThreshold).
func AffinityIndex(target, other []float64, wetThreshold float64) (float64, AffinityCounts) {
	var c AffinityCounts
	n := min(len(target), len(other))
	for i := 0; i < n; i++ {
		if math.IsNaN(target[i]) || math.IsNaN(other[i]) {
			continue
		}
		if (target[i] > wetThreshold) == (other[i] > wetThreshold) {
			c.Match++
		} else {
			c.Mismatch++
		}
	}
	total := c.Match + c.Mismatch
	if total == 0 {
		return math.NaN(), c
	}
	return float64(c.Match) / float64(total), c
}

// Correlation is the Pearson correlation over pairwise non-missing values.
func Correlation(a, b []float64) (float64, error) {
	x, y := pairwise(a, b)
	if len(x) < 2 {
		return math.NaN(), fmt.Errorf("%w: correlation needs at least 2 pairs, got %d", ErrInsufficientData, len(x))
	}
	r, err := mstats.Correlation(x, y)
	if err != nil {
		return math.NaN(), fmt.Errorf("correlation: %w", err)
	}
	return r, nil
}

// Averaging selects how FactorDiff summarises per-step ratios.
type Averaging string

const (
	AverageMean   Averaging = "mean"
	AverageMedian Averaging = "median"
)

// FactorDiff summarises target/other ratios over the steps where both are
// positive.
func FactorDiff(target, other []float64, method Averaging) (float64, error) {
	if method != AverageMean && method != AverageMedian {
		return math.NaN(), fmt.Errorf("%w: %q (use %q or %q)", ErrUnsupportedAveraging, method, AverageMean, AverageMedian)
	}
	var ratios []float64
	n := min(len(target), len(other))
	for i := 0; i < n; i++ {
		if target[i] > 0 && other[i] > 0 {
			ratios = append(ratios, target[i]/other[i])
		}
	}
	if len(ratios) == 0 {
		return math.NaN(), nil
	}
	if method == AverageMedian {
		return mstats.Median(ratios)
	}
	return stat.Mean(ratios, nil), nil
}

// SimplePrecipitationIntensityIndex is the mean amount on wet steps
// (>= wetThreshold). It returns NaN when there are no wet steps.
func SimplePrecipitationIntensityIndex(values []float64, wetThreshold float64) float64 {
	var sum float64
	var n int
	for _, v := range values {
		if !math.IsNaN(v) && v >= wetThreshold {
			sum += v
			n++
		}
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

// DryFraction is the rolling fraction of dry steps over a window of
// dryPeriodDays * stepsPerDay rows, aligned on the window's last row. Rows
// before the first complete window are NaN. The frame must already carry the
// is_dry flag column.
func DryFraction(f *series.Frame, dryPeriodDays, stepsPerDay int) ([]float64, error) {
	if !f.HasFlags(IsDryColumn) {
		return nil, fmt.Errorf("%w: dry fraction requires the %q column", ErrPrecondition, IsDryColumn)
	}
	window := dryPeriodDays * stepsPerDay
	if window <= 0 {
		return nil, fmt.Errorf("dry period window must be positive, got %d days x %d steps", dryPeriodDays, stepsPerDay)
	}
	isDry, err := f.Flags(IsDryColumn)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(isDry))
	var sum int
	for i, d := range isDry {
		sum += d
		if i >= window {
			sum -= isDry[i-window]
		}
		if i < window-1 {
			out[i] = math.NaN()
			continue
		}
		out[i] = float64(sum) / float64(window)
	}
	return out, nil
}

// OneSampleTTest tests whether the mean of samples differs from mu and
// returns the t statistic with its two-sided p-value.
func OneSampleTTest(samples []float64, mu float64) (t, p float64, err error) {
	x := DropNaN(samples)
	if len(x) < 2 {
		return math.NaN(), math.NaN(), fmt.Errorf("%w: t-test needs at least 2 samples, got %d", ErrInsufficientData, len(x))
	}
	mean, sd := stat.MeanStdDev(x, nil)
	df := float64(len(x) - 1)
	if sd == 0 {
		if mean == mu {
			return 0, 1, nil
		}
		return math.Copysign(math.Inf(1), mean-mu), 0, nil
	}
	t = (mean - mu) / (sd / math.Sqrt(float64(len(x))))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	p = 2 * (1 - dist.CDF(math.Abs(t)))
	return t, p, nil
}

// Normalize returns (x - mean) / std with NaN-aware moments. Missing values
// stay NaN; a constant series normalises to zeros.
func Normalize(values []float64) []float64 {
	x := DropNaN(values)
	out := make([]float64, len(values))
	if len(x) == 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	mean, sd := stat.MeanStdDev(x, nil)
	for i, v := range values {
		switch {
		case math.IsNaN(v):
			out[i] = math.NaN()
		case sd == 0 || math.IsNaN(sd):
			out[i] = 0
		default:
			out[i] = (v - mean) / sd
		}
	}
	return out
}

// Quantile is the empirical q-quantile (0 <= q <= 1) of the non-missing
// values, or NaN if none are present.
func Quantile(values []float64, q float64) float64 {
	x := DropNaN(values)
	if len(x) == 0 {
		return math.NaN()
	}
	sort.Float64s(x)
	return stat.Quantile(q, stat.Empirical, x, nil)
}

// NanMean is the mean of the non-missing values.
func NanMean(values []float64) float64 {
	x := DropNaN(values)
	if len(x) == 0 {
		return math.NaN()
	}
	return stat.Mean(x, nil)
}

// NanMax is the maximum of the non-missing values.
func NanMax(values []float64) float64 {
	m := math.NaN()
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		if math.IsNaN(m) || v > m {
			m = v
		}
	}
	return m
}

// NanSum sums the non-missing values; all-missing input sums to NaN.
func NanSum(values []float64) float64 {
	var s float64
	var n int
	for _, v := range values {
		if !math.IsNaN(v) {
			s += v
			n++
		}
	}
	if n == 0 {
		return math.NaN()
	}
	return s
}

// NanMedian is the median of the non-missing values.
func NanMedian(values []float64) float64 {
	x := DropNaN(values)
	if len(x) == 0 {
		return math.NaN()
	}
	m, err := mstats.Median(x)
	if err != nil {
		return math.NaN()
	}
	return m
}

// DropNaN returns a copy of values without missing entries.
func DropNaN(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

func pairwise(a, b []float64) ([]float64, []float64) {
	n := min(len(a), len(b))
	x := make([]float64, 0, n)
	y := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		if math.IsNaN(a[i]) || math.IsNaN(b[i]) {
			continue
		}
		x = append(x, a[i])
		y = append(y, b[i])
	}
	return x, y
}
