package checks

import (
	"fmt"
	"math"

	"github.com/lox/rainfallqc/internal/climate"
	"github.com/lox/rainfallqc/internal/models"
	"github.com/lox/rainfallqc/internal/series"
	"github.com/lox/rainfallqc/internal/stats"
)

// Streak flag column names.
const (
	StreakFlag1Column = "streak_flag1"
	StreakFlag2Column = "streak_flag2"
)

// MonthlyAccumulationDays is the window length of the monthly accumulation
// scan.
const MonthlyAccumulationDays = 30

// MarkDry adds the is_dry flag column (1 where col is exactly 0, missing
// values are not dry).
func MarkDry(f *series.Frame, col string) (*series.Frame, error) {
	vals, err := column(f, col)
	if err != nil {
		return nil, err
	}
	dry := make([]int, len(vals))
	for i, v := range vals {
		if v == 0 {
			dry[i] = 1
		}
	}
	return f.WithFlags(stats.IsDryColumn, dry)
}

// DrySpellFlags bands every dry spell's length in days against refDays and
// gives each step of the spell that band. Steps outside a dry spell are 0.
func DrySpellFlags(f *series.Frame, col string, refDays float64) ([]int, error) {
	res, err := resolution(f)
	if err != nil {
		return nil, err
	}
	days, err := stepDays(res)
	if err != nil {
		return nil, err
	}
	marked, err := MarkDry(f, col)
	if err != nil {
		return nil, err
	}
	isDry, err := marked.Flags(stats.IsDryColumn)
	if err != nil {
		return nil, err
	}
	mask := make([]bool, len(isDry))
	for i, d := range isDry {
		mask[i] = d == 1
	}

	flags := make([]int, len(isDry))
	for _, r := range series.RunsWhere(mask) {
		raiseTo(flags, r.Start, r.End, ExceedanceFlag(float64(r.Len())*days, refDays))
	}
	return flags, nil
}

// CDDExceedance is DrySpellFlags against the largest local CDD reference.
func CDDExceedance(f *series.Frame, col string, ref climate.Reference, loc Location) ([]int, error) {
	refDays, err := climate.LocalMax(ref, models.IndexCDD, loc.Lat, loc.Lon, loc.maxDistance())
	if err != nil {
		return nil, err
	}
	return DrySpellFlags(f, col, refDays)
}

// AccumulationThreshold is the larger of the climatological SDII and the
// gauge's own daily SDII, times factor. Either may be NaN; if both are the
// threshold is undefined.
func AccumulationThreshold(f *series.Frame, col string, climateSDII, factor, wetThreshold float64) (float64, error) {
	_, daily, err := dailyTotals(f, col)
	if err != nil {
		return math.NaN(), err
	}
	gauge := stats.SimplePrecipitationIntensityIndex(daily, wetThreshold) * factor
	clim := climateSDII * factor
	switch {
	case math.IsNaN(gauge) && math.IsNaN(clim):
		return math.NaN(), fmt.Errorf("%w: no SDII from the gauge or the climate grid", climate.ErrNoReference)
	case math.IsNaN(gauge):
		return clim, nil
	case math.IsNaN(clim):
		return gauge, nil
	}
	return math.Max(gauge, clim), nil
}

// DailyAccumulations flags day-long windows [i, i+stepsPerDay) of sub-daily
// data whose last value is above threshold after a fully dry remainder, the
// signature of a gauge dumping a day's rain in one step. Every step of a
// flagged window is 1; missing values break a window.
func DailyAccumulations(f *series.Frame, col string, threshold float64) ([]int, error) {
	res, err := requireSubDaily(f, "daily accumulation check")
	if err != nil {
		return nil, err
	}
	vals, err := column(f, col)
	if err != nil {
		return nil, err
	}
	return accumulationFlags(vals, res.StepsPerDay(), threshold), nil
}

// MonthlyAccumulations is the same scan as DailyAccumulations over a
// 30 day window, for daily or sub-daily data.
func MonthlyAccumulations(f *series.Frame, col string, threshold float64) ([]int, error) {
	res, err := resolution(f)
	if err != nil {
		return nil, err
	}
	if res == models.ResolutionMonthly {
		return nil, fmt.Errorf("%w: monthly accumulation check needs daily or finer data", ErrInvalidArgument)
	}
	vals, err := column(f, col)
	if err != nil {
		return nil, err
	}
	return accumulationFlags(vals, MonthlyAccumulationDays*res.StepsPerDay(), threshold), nil
}

func accumulationFlags(vals []float64, window int, threshold float64) []int {
	flags := make([]int, len(vals))
	if window < 2 {
		return flags
	}
	// dryRun[j] is the number of consecutive non-missing values <= 0
	// ending at j.
	dryRun := make([]int, len(vals))
	for j, v := range vals {
		if !math.IsNaN(v) && v <= 0 {
			dryRun[j] = 1
			if j > 0 {
				dryRun[j] += dryRun[j-1]
			}
		}
	}
	for j := window - 1; j < len(vals); j++ {
		if math.IsNaN(vals[j]) || vals[j] <= threshold {
			continue
		}
		if dryRun[j-1] >= window-1 {
			raiseTo(flags, j-window+1, j+1, 1)
		}
	}
	return flags
}

// StreakFlags are the independent rules applied to runs of repeated values.
type StreakFlags struct {
	// ExceedsResolution marks streaks of a value above the gauge's
	// smallest measurable amount.
	ExceedsResolution []int
	// ExceedsWetDay marks streaks of a value above the wet-day intensity
	// threshold.
	ExceedsWetDay []int
}

// Streaks finds runs of at least minLength identical non-zero values and
// applies each rule to them. A streak can trip either rule, both or
// neither.
func Streaks(f *series.Frame, col string, minLength int, resolutionAmount, wetDayThreshold float64) (StreakFlags, error) {
	if minLength < 2 {
		return StreakFlags{}, fmt.Errorf("%w: minimum streak length must be at least 2, got %d", ErrInvalidArgument, minLength)
	}
	vals, err := column(f, col)
	if err != nil {
		return StreakFlags{}, err
	}
	out := StreakFlags{
		ExceedsResolution: make([]int, len(vals)),
		ExceedsWetDay:     make([]int, len(vals)),
	}
	for _, r := range series.EqualRuns(vals) {
		v := vals[r.Start]
		if r.Len() < minLength || v <= 0 {
			continue
		}
		if v > resolutionAmount {
			raiseTo(out.ExceedsResolution, r.Start, r.End, 1)
		}
		if !math.IsNaN(wetDayThreshold) && v > wetDayThreshold {
			raiseTo(out.ExceedsWetDay, r.Start, r.End, 1)
		}
	}
	return out, nil
}
