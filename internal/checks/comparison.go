package checks

import (
	"fmt"
	"math"
	"time"

	"github.com/lox/rainfallqc/internal/climate"
	"github.com/lox/rainfallqc/internal/models"
	"github.com/lox/rainfallqc/internal/series"
	"github.com/lox/rainfallqc/internal/stats"
)

// World record rainfall totals in mm.
const (
	WorldRecordHourly = 401.0
	WorldRecordDaily  = 1825.0
)

// FlagColumn is the flag column name used in frames returned by checks.
const FlagColumn = "flag"

// Location is where a gauge sits and how far away a climate grid cell may be
// to stand in for it.
type Location struct {
	Lat           float64
	Lon           float64
	MaxDistanceKm float64
}

func (l Location) maxDistance() float64 {
	if l.MaxDistanceKm > 0 {
		return l.MaxDistanceKm
	}
	return climate.DefaultMaxDistanceKm
}

// ExceedanceFlag bands value against ref: 0 below ref, then 1, 2, 3 and 4 at
// 1, 1.2, 1.33 and 1.5 times ref. Missing value or reference gives
// FlagUnevaluated.
func ExceedanceFlag(value, ref float64) int {
	switch {
	case math.IsNaN(value) || math.IsNaN(ref):
		return models.FlagUnevaluated
	case value >= ref*1.5:
		return 4
	case value >= ref*1.33:
		return 3
	case value >= ref*1.2:
		return 2
	case value >= ref:
		return 1
	}
	return models.FlagNone
}

// WorldRecord returns the world record total for one step at res. 15 minute
// data is held to the hourly record.
func WorldRecord(res models.Resolution) (float64, error) {
	switch res {
	case models.Resolution15Min, models.ResolutionHourly:
		return WorldRecordHourly, nil
	case models.ResolutionDaily:
		return WorldRecordDaily, nil
	}
	return math.NaN(), fmt.Errorf("%w: no world record for %s data", ErrInvalidArgument, res)
}

// FilterWorldRecords replaces values above the world record for res with NaN.
func FilterWorldRecords(values []float64, res models.Resolution) ([]float64, error) {
	record, err := WorldRecord(res)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(values))
	for i, v := range values {
		if v > record {
			out[i] = math.NaN()
			continue
		}
		out[i] = v
	}
	return out, nil
}

// WorldRecordExceedance flags each step against the world record for the
// frame's resolution.
func WorldRecordExceedance(f *series.Frame, col string) ([]int, error) {
	res, err := resolution(f)
	if err != nil {
		return nil, err
	}
	record, err := WorldRecord(res)
	if err != nil {
		return nil, err
	}
	vals, err := column(f, col)
	if err != nil {
		return nil, err
	}
	flags := make([]int, len(vals))
	for i, v := range vals {
		flags[i] = ExceedanceFlag(v, record)
	}
	return flags, nil
}

// AnnualR99pExceedance sums, per year, the daily totals above that year's
// 99th percentile and bands the sum against the largest local R99p.
func AnnualR99pExceedance(f *series.Frame, col string, ref climate.Reference, loc Location) (*series.Frame, error) {
	return annualExceedance(f, col, ref, loc, models.IndexR99p, func(x []float64) float64 {
		x = stats.DropNaN(x)
		if len(x) == 0 {
			return math.NaN()
		}
		q := stats.Quantile(x, 0.99)
		var sum float64
		for _, v := range x {
			if v > q {
				sum += v
			}
		}
		return sum
	})
}

// AnnualPRCPTOTExceedance bands each year's total against the largest local
// PRCPTOT.
func AnnualPRCPTOTExceedance(f *series.Frame, col string, ref climate.Reference, loc Location) (*series.Frame, error) {
	return annualExceedance(f, col, ref, loc, models.IndexPRCPTOT, stats.NanSum)
}

func annualExceedance(
	f *series.Frame,
	col string,
	ref climate.Reference,
	loc Location,
	index string,
	reduce func([]float64) float64,
) (*series.Frame, error) {
	refMax, err := climate.LocalMax(ref, index, loc.Lat, loc.Lon, loc.maxDistance())
	if err != nil {
		return nil, err
	}
	daily, vals, err := dailyTotals(f, col)
	if err != nil {
		return nil, err
	}

	var times []time.Time
	var flags []int
	for _, g := range series.GroupByYear(daily.Times()) {
		times = append(times, time.Date(g.Year, 1, 1, 0, 0, 0, 0, daily.Time(0).Location()))
		flags = append(flags, ExceedanceFlag(reduce(pick(vals, g.Rows)), refMax))
	}
	out, err := series.New(times)
	if err != nil {
		return nil, err
	}
	return out.WithFlags(FlagColumn, flags)
}

// Rx1dayExceedance bands each day's total against the largest local Rx1day
// and spreads each day's flag over that day's steps.
func Rx1dayExceedance(f *series.Frame, col string, ref climate.Reference, loc Location) ([]int, error) {
	refMax, err := climate.LocalMax(ref, models.IndexRx1day, loc.Lat, loc.Lon, loc.maxDistance())
	if err != nil {
		return nil, err
	}
	daily, vals, err := dailyTotals(f, col)
	if err != nil {
		return nil, err
	}
	byDay := make(map[time.Time]int, daily.Len())
	for i, t := range daily.Times() {
		byDay[calendarDay(t)] = ExceedanceFlag(vals[i], refMax)
	}
	flags := make([]int, f.Len())
	for i, t := range f.Times() {
		flag, ok := byDay[calendarDay(t)]
		if !ok {
			flag = models.FlagUnevaluated
		}
		flags[i] = flag
	}
	return flags, nil
}

func calendarDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// dailyTotals drops values above the world record for the frame's
// resolution, resamples what is left to days and drops totals above the
// daily world record.
func dailyTotals(f *series.Frame, col string) (*series.Frame, []float64, error) {
	res, err := resolution(f)
	if err != nil {
		return nil, nil, err
	}
	if res == models.ResolutionMonthly {
		return nil, nil, fmt.Errorf("%w: daily totals need daily or finer data, got %s", ErrInvalidArgument, res)
	}
	native, err := column(f, col)
	if err != nil {
		return nil, nil, err
	}
	if native, err = FilterWorldRecords(native, res); err != nil {
		return nil, nil, err
	}
	if f, err = f.WithValues(col, native); err != nil {
		return nil, nil, err
	}
	daily, err := series.ResampleDaily(f, col, series.DefaultCompleteness, 0)
	if err != nil {
		return nil, nil, err
	}
	vals, err := column(daily, col)
	if err != nil {
		return nil, nil, err
	}
	vals, err = FilterWorldRecords(vals, models.ResolutionDaily)
	if err != nil {
		return nil, nil, err
	}
	return daily, vals, nil
}
