package series

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/rainfallqc/internal/models"
)

func hourly(start time.Time, n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = start.Add(time.Duration(i) * time.Hour)
	}
	return out
}

func TestNewRejectsDuplicateTimestamps(t *testing.T) {
	ts := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := New([]time.Time{ts, ts.Add(time.Hour), ts.Add(time.Hour)})
	require.ErrorIs(t, err, ErrUnsortedTime)
}

func TestWithValuesDoesNotMutateOriginal(t *testing.T) {
	f, err := FromColumns(hourly(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), 3), []string{"rain_mm"}, []float64{1, 2, 3})
	require.NoError(t, err)

	g, err := f.WithValues("rain_mm", []float64{9, 9, 9})
	require.NoError(t, err)
	g, err = g.WithFlags("flag", []int{1, 0, 1})
	require.NoError(t, err)

	orig, _ := f.Values("rain_mm")
	assert.Equal(t, []float64{1, 2, 3}, orig)
	assert.False(t, f.HasFlags("flag"))
	assert.Equal(t, []string{"rain_mm", "flag"}, g.Columns())

	_, err = f.WithValues("short", []float64{1})
	assert.ErrorIs(t, err, ErrLengthMismatch)
	_, err = f.Values("missing")
	assert.ErrorIs(t, err, ErrColumnNotFound)
}

func TestCheckConsistentTimeStep(t *testing.T) {
	base := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	f, err := FromColumns([]time.Time{
		base,
		base.Add(1 * time.Minute),
		base.Add(4 * time.Minute),
		base.Add(5 * time.Minute),
		base.Add(10 * time.Minute),
	}, []string{"rain_mm"}, []float64{0, 1.2, 1.3, 1.4, 1.6})
	require.NoError(t, err)

	err = CheckConsistentTimeStep(f)
	var te *TimingError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, []time.Duration{time.Minute, 3 * time.Minute, 5 * time.Minute}, te.Steps)
	assert.Contains(t, err.Error(), "1m, 3m, 5m")

	ok, err := FromColumns(hourly(base, 4), []string{"rain_mm"}, []float64{0, 0, 0, 0})
	require.NoError(t, err)
	assert.NoError(t, CheckConsistentTimeStep(ok))
}

func TestDetectResolution(t *testing.T) {
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		times []time.Time
		want  models.Resolution
	}{
		{"15 minute", []time.Time{base, base.Add(15 * time.Minute), base.Add(30 * time.Minute)}, models.Resolution15Min},
		{"hourly", hourly(base, 3), models.ResolutionHourly},
		{"daily", []time.Time{base, base.AddDate(0, 0, 1), base.AddDate(0, 0, 2)}, models.ResolutionDaily},
		{"monthly", []time.Time{base, base.AddDate(0, 1, 0), base.AddDate(0, 2, 0), base.AddDate(0, 3, 0)}, models.ResolutionMonthly},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := New(tt.times)
			require.NoError(t, err)
			got, err := DetectResolution(f)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResampleDailyCompleteness(t *testing.T) {
	base := time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC)
	vals := make([]float64, 48)
	for i := range vals {
		vals[i] = 0.5
	}
	vals[3] = math.NaN()
	vals[4] = math.NaN()
	f, err := FromColumns(hourly(base, 48), []string{"rain_mm"}, vals)
	require.NoError(t, err)

	daily, err := ResampleDaily(f, "rain_mm", DefaultCompleteness, 0)
	require.NoError(t, err)
	require.Equal(t, 2, daily.Len())
	got, _ := daily.Values("rain_mm")
	assert.True(t, math.IsNaN(got[0]), "22 of 24 hours is below 95%% completeness")
	assert.InDelta(t, 12.0, got[1], 1e-9)

	lenient, err := ResampleDaily(f, "rain_mm", 0.9, 0)
	require.NoError(t, err)
	got, _ = lenient.Values("rain_mm")
	assert.InDelta(t, 11.0, got[0], 1e-9)
}

func TestResampleDailyWithOffset(t *testing.T) {
	base := time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC)
	vals := make([]float64, 72)
	for i := range vals {
		vals[i] = 1
	}
	f, err := FromColumns(hourly(base, 72), []string{"rain_mm"}, vals)
	require.NoError(t, err)

	daily, err := ResampleDaily(f, "rain_mm", 0, 7*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2021, 5, 31, 7, 0, 0, 0, time.UTC), daily.Time(0))
	got, _ := daily.Values("rain_mm")
	assert.InDelta(t, 7.0, got[0], 1e-9)
	assert.InDelta(t, 24.0, got[1], 1e-9)
}

func TestResampleKeepsCalendarMonthLengths(t *testing.T) {
	start := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	n := int(end.Sub(start) / time.Hour)
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = 0.1
	}
	f, err := FromColumns(hourly(start, n), []string{"rain_mm"}, vals)
	require.NoError(t, err)

	daily, err := ResampleDaily(f, "rain_mm", DefaultCompleteness, 0)
	require.NoError(t, err)
	require.NoError(t, CheckConsistentTimeStep(daily))

	monthly, err := ResampleMonthly(daily, "rain_mm", DefaultCompleteness)
	require.NoError(t, err)
	require.Equal(t, 24, monthly.Len())

	steps := TimeSteps(monthly)
	day := 24 * time.Hour
	assert.Equal(t, []time.Duration{28 * day, 29 * day, 30 * day, 31 * day}, steps)

	res, err := DetectResolution(monthly)
	require.NoError(t, err)
	assert.Equal(t, models.ResolutionMonthly, res)

	got, _ := monthly.Values("rain_mm")
	assert.InDelta(t, 0.1*24*28, got[1], 1e-6)
	assert.InDelta(t, 0.1*24*29, got[13], 1e-6)
}

func TestOffset(t *testing.T) {
	vals := []float64{1, 2, 3, 4}
	ahead := Offset(vals, 1)
	assert.Equal(t, []float64{2, 3, 4}, ahead[:3])
	assert.True(t, math.IsNaN(ahead[3]))

	behind := Offset(vals, -2)
	assert.True(t, math.IsNaN(behind[0]))
	assert.True(t, math.IsNaN(behind[1]))
	assert.Equal(t, []float64{1, 2}, behind[2:])
}

func TestRuns(t *testing.T) {
	runs := RunsWhere([]bool{true, true, false, true, false, false, true})
	require.Len(t, runs, 3)
	assert.Equal(t, Run{Start: 0, End: 2}, runs[0])
	assert.Equal(t, Run{Start: 6, End: 7}, runs[2])

	eq := EqualRuns([]float64{0.2, 0.2, 0.2, math.NaN(), 0.2, 1, 1})
	require.Len(t, eq, 3)
	assert.Equal(t, 3, eq[0].Len())
	assert.Equal(t, 4, eq[1].Start)
	assert.Equal(t, 2, eq[2].Len())
}

func TestReplaceSentinel(t *testing.T) {
	got := ReplaceSentinel([]float64{-999, 1, math.Inf(1), 2}, -999)
	assert.True(t, math.IsNaN(got[0]))
	assert.True(t, math.IsNaN(got[2]))
	assert.Equal(t, 1.0, got[1])
}
