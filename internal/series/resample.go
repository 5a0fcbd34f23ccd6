package series

import (
	"fmt"
	"math"
	"time"

	"github.com/lox/rainfallqc/internal/models"
)

// DefaultCompleteness is the minimum fraction of present sub-periods for an
// aggregated period to be valid.
const DefaultCompleteness = 0.95

// ResampleDaily sums a value column into calendar days. Days start at
// midnight plus offset (e.g. 7h for 07:00-07:00 gauge days). A day is NaN when
// fewer than completeness of its expected sub-periods are present. The result
// is a continuous daily grid holding only the resampled column.
func ResampleDaily(f *Frame, col string, completeness float64, offset time.Duration) (*Frame, error) {
	vals, err := f.Values(col)
	if err != nil {
		return nil, err
	}
	res, err := DetectResolution(f)
	if err != nil {
		return nil, err
	}
	if res == models.ResolutionMonthly {
		return nil, fmt.Errorf("cannot resample %s data to daily", res)
	}
	if res == models.ResolutionDaily && offset == 0 {
		return f.Select(col)
	}
	perDay := res.StepsPerDay()

	dayOf := func(t time.Time) time.Time {
		s := t.Add(-offset)
		return time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, s.Location()).Add(offset)
	}
	return aggregate(f.times, vals, col, completeness, dayOf,
		func(t time.Time) time.Time { return t.AddDate(0, 0, 1) },
		func(time.Time) int { return perDay })
}

// ResampleMonthly sums a value column into calendar months. The expected
// count per month follows the month length, so 28, 29, 30 and 31 day months
// are all valid periods.
func ResampleMonthly(f *Frame, col string, completeness float64) (*Frame, error) {
	vals, err := f.Values(col)
	if err != nil {
		return nil, err
	}
	res, err := DetectResolution(f)
	if err != nil {
		return nil, err
	}
	if res == models.ResolutionMonthly {
		return f.Select(col)
	}
	perDay := res.StepsPerDay()

	monthOf := func(t time.Time) time.Time {
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	}
	return aggregate(f.times, vals, col, completeness, monthOf,
		func(t time.Time) time.Time { return t.AddDate(0, 1, 0) },
		func(start time.Time) int { return DaysInMonth(start) * perDay })
}

// DaysInMonth returns the length of t's calendar month.
func DaysInMonth(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
}

func aggregate(
	times []time.Time,
	vals []float64,
	col string,
	completeness float64,
	periodOf func(time.Time) time.Time,
	next func(time.Time) time.Time,
	expected func(time.Time) int,
) (*Frame, error) {
	if completeness < 0 || completeness > 1 {
		return nil, fmt.Errorf("completeness %v outside [0, 1]", completeness)
	}
	if len(times) == 0 {
		return FromColumns(nil, []string{col}, nil)
	}

	type bucket struct {
		sum     float64
		present int
	}
	buckets := map[time.Time]*bucket{}
	for i, t := range times {
		p := periodOf(t)
		b := buckets[p]
		if b == nil {
			b = &bucket{}
			buckets[p] = b
		}
		if !math.IsNaN(vals[i]) {
			b.sum += vals[i]
			b.present++
		}
	}

	var outTimes []time.Time
	var outVals []float64
	last := periodOf(times[len(times)-1])
	for p := periodOf(times[0]); !p.After(last); p = next(p) {
		outTimes = append(outTimes, p)
		b := buckets[p]
		if b == nil || b.present == 0 {
			outVals = append(outVals, math.NaN())
			continue
		}
		if float64(b.present)/float64(expected(p)) < completeness {
			outVals = append(outVals, math.NaN())
			continue
		}
		outVals = append(outVals, b.sum)
	}
	return FromColumns(outTimes, []string{col}, outVals)
}
