package checks

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/lox/rainfallqc/internal/models"
	"github.com/lox/rainfallqc/internal/series"
	"github.com/lox/rainfallqc/internal/stats"
)

// Granularities accepted by TemporalBias.
const (
	GranularityWeekday = "weekday"
	GranularityHour    = "hour"
)

// DefaultBreakpointWindowDays is the window the Pettitt test is applied over
// when scanning a long record.
const DefaultBreakpointWindowDays = 3650

// YearsWherePercentileIsZero returns the years whose quantile-th quantile
// (0 <= quantile <= 1) of non-missing rainfall is exactly 0.
func YearsWherePercentileIsZero(f *series.Frame, col string, quantile float64) ([]int, error) {
	if quantile < 0 || quantile > 1 || math.IsNaN(quantile) {
		return nil, fmt.Errorf("%w: quantile %v outside [0, 1]", ErrInvalidArgument, quantile)
	}
	vals, err := column(f, col)
	if err != nil {
		return nil, err
	}
	var years []int
	for _, g := range series.GroupByYear(f.Times()) {
		q := stats.Quantile(pick(vals, g.Rows), quantile)
		if q == 0 {
			years = append(years, g.Year)
		}
	}
	return years, nil
}

// YearsWhereTopKAreZero returns the years in which even the smallest of the
// k largest values is 0, i.e. fewer than k steps recorded any rain. When a
// year has fewer than k values all of them are used.
func YearsWhereTopKAreZero(f *series.Frame, col string, k int) ([]int, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w: k must be at least 1, got %d", ErrInvalidArgument, k)
	}
	vals, err := column(f, col)
	if err != nil {
		return nil, err
	}
	var years []int
	for _, g := range series.GroupByYear(f.Times()) {
		x := stats.DropNaN(pick(vals, g.Rows))
		if len(x) == 0 {
			continue
		}
		sort.Sort(sort.Reverse(sort.Float64Slice(x)))
		top := x[:min(k, len(x))]
		if top[len(top)-1] == 0 {
			years = append(years, g.Year)
		}
	}
	return years, nil
}

// TemporalBias tests whether rainfall on some weekday (or hour of day) is
// biased. The mean of each group is taken and the group means are t-tested
// once against the mean of the whole record; the result is 1 when
// p < pThreshold.
func TemporalBias(f *series.Frame, col, granularity string, pThreshold float64) (int, error) {
	var key func(time.Time) int
	switch granularity {
	case GranularityWeekday:
		key = func(t time.Time) int { return int(t.Weekday()) }
	case GranularityHour:
		if _, err := requireSubDaily(f, "hourly temporal bias"); err != nil {
			return models.FlagUnevaluated, err
		}
		key = func(t time.Time) int { return t.Hour() }
	default:
		return models.FlagUnevaluated, fmt.Errorf("%w: %q (use %q or %q)", ErrInvalidGranularity, granularity, GranularityWeekday, GranularityHour)
	}
	vals, err := column(f, col)
	if err != nil {
		return models.FlagUnevaluated, err
	}

	groups := map[int][]float64{}
	for i, t := range f.Times() {
		groups[key(t)] = append(groups[key(t)], vals[i])
	}
	keys := make([]int, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	means := make([]float64, 0, len(keys))
	for _, k := range keys {
		means = append(means, stats.NanMean(groups[k]))
	}
	_, p, err := stats.OneSampleTTest(means, stats.NanMean(vals))
	if err != nil {
		return models.FlagUnevaluated, fmt.Errorf("%s temporal bias: %w", granularity, err)
	}
	if p < pThreshold {
		return 1, nil
	}
	return models.FlagNone, nil
}

// IntermittentYears returns the years with more than annualCountThreshold
// no-data periods, where a no-data period is a run of at least
// noDataThreshold consecutive missing steps. A period counts towards the
// year it starts in.
func IntermittentYears(f *series.Frame, col string, noDataThreshold, annualCountThreshold int) ([]int, error) {
	if noDataThreshold < 1 || annualCountThreshold < 0 {
		return nil, fmt.Errorf("%w: no data threshold must be positive and annual count not negative (no data %d, annual count %d)",
			ErrInvalidArgument, noDataThreshold, annualCountThreshold)
	}
	vals, err := column(f, col)
	if err != nil {
		return nil, err
	}
	missing := make([]bool, len(vals))
	for i, v := range vals {
		missing[i] = math.IsNaN(v)
	}
	counts := map[int]int{}
	for _, r := range series.RunsWhere(missing) {
		if r.Len() >= noDataThreshold {
			counts[f.Time(r.Start).Year()]++
		}
	}
	var years []int
	for y, n := range counts {
		if n > annualCountThreshold {
			years = append(years, y)
		}
	}
	sort.Ints(years)
	return years, nil
}

// Breakpoints applies the Pettitt test to consecutive windows of
// windowDays daily totals and returns 1 if any window has a change point
// with p < pThreshold. A trailing partial window is tested too.
func Breakpoints(f *series.Frame, col string, windowDays int, pThreshold float64) (int, error) {
	if windowDays < 2 {
		return models.FlagUnevaluated, fmt.Errorf("%w: breakpoint window must be at least 2 days, got %d", ErrInvalidArgument, windowDays)
	}
	res, err := resolution(f)
	if err != nil {
		return models.FlagUnevaluated, err
	}
	daily := f
	if res != models.ResolutionDaily && res != models.ResolutionMonthly {
		if daily, err = series.ResampleDaily(f, col, series.DefaultCompleteness, 0); err != nil {
			return models.FlagUnevaluated, err
		}
	}
	vals, err := column(daily, col)
	if err != nil {
		return models.FlagUnevaluated, err
	}

	for start := 0; start < len(vals); start += windowDays {
		window := stats.DropNaN(vals[start:min(start+windowDays, len(vals))])
		if len(window) < 2 {
			continue
		}
		if _, p := stats.PettittTest(window); p < pThreshold {
			return 1, nil
		}
	}
	return models.FlagNone, nil
}

// MinValueChangeYears returns the years whose smallest non-zero value
// differs from the gauge's expected resolution expectedMinVal.
func MinValueChangeYears(f *series.Frame, col string, expectedMinVal float64) ([]int, error) {
	if !(expectedMinVal > 0) {
		return nil, fmt.Errorf("%w: expected minimum value must be positive, got %v", ErrInvalidArgument, expectedMinVal)
	}
	vals, err := column(f, col)
	if err != nil {
		return nil, err
	}
	var years []int
	for _, g := range series.GroupByYear(f.Times()) {
		m := math.Inf(1)
		for _, i := range g.Rows {
			if v := vals[i]; v > 0 && v < m {
				m = v
			}
		}
		if math.IsInf(m, 1) {
			continue
		}
		if math.Abs(m-expectedMinVal) > 1e-9 {
			years = append(years, g.Year)
		}
	}
	return years, nil
}

func pick(vals []float64, rows []int) []float64 {
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = vals[r]
	}
	return out
}
