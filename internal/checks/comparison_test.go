package checks

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/rainfallqc/internal/climate"
	"github.com/lox/rainfallqc/internal/models"
)

func TestExceedanceFlag(t *testing.T) {
	tests := []struct {
		value, ref float64
		want       int
	}{
		{0.9, 1, 0},
		{1.0, 1, 1},
		{1.1, 1, 1},
		{1.2, 1, 2},
		{1.33, 1, 3},
		{1.5, 1, 4},
		{3, 1, 4},
		{math.NaN(), 1, models.FlagUnevaluated},
		{1, math.NaN(), models.FlagUnevaluated},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExceedanceFlag(tt.value, tt.ref), "value %v ref %v", tt.value, tt.ref)
	}

	prev := 0
	for v := 0.0; v < 3; v += 0.01 {
		got := ExceedanceFlag(v, 1.7)
		assert.GreaterOrEqual(t, got, prev, "not monotone at %v", v)
		prev = got
	}
}

func TestWorldRecordExceedance(t *testing.T) {
	times := stepTimes(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), time.Hour, 4)
	f := frame(t, times, map[string][]float64{rain: {10, 401, 700, math.NaN()}})

	flags, err := WorldRecordExceedance(f, rain)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 4, models.FlagUnevaluated}, flags)

	filtered, err := FilterWorldRecords([]float64{10, 402, 1800}, models.ResolutionDaily)
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 402, 1800}, filtered)

	filtered, err = FilterWorldRecords([]float64{10, 402}, models.ResolutionHourly)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(filtered[1]))

	_, err = WorldRecord(models.ResolutionMonthly)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func referenceGrid(t *testing.T, index string, values ...float64) *climate.Grid {
	t.Helper()
	g, err := climate.NewGrid([]float64{52}, []float64{0}, []int{2000, 2001})
	require.NoError(t, err)
	require.NoError(t, g.SetIndex(index, [][][]float64{{values}}))
	return g
}

func TestRx1dayExceedance(t *testing.T) {
	g := referenceGrid(t, models.IndexRx1day, 40, 50)
	times := dayTimes(time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC), 3)
	f := frame(t, times, map[string][]float64{rain: {10, 62, 80}})

	flags, err := Rx1dayExceedance(f, rain, g, Location{Lat: 52.1, Lon: 0.1})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 4}, flags)

	_, err = Rx1dayExceedance(f, rain, g, Location{Lat: 10, Lon: 10})
	assert.ErrorIs(t, err, climate.ErrNoReference)
}

func TestRx1daySpreadsOverSubDailySteps(t *testing.T) {
	g := referenceGrid(t, models.IndexRx1day, 40, 50)
	times := stepTimes(time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC), time.Hour, 48)
	vals := filled(48, 0)
	vals[30] = 80
	// Above the hourly world record, so dropped before the daily total.
	vals[5] = 500
	f := frame(t, times, map[string][]float64{rain: vals})

	flags, err := Rx1dayExceedance(f, rain, g, Location{Lat: 52, Lon: 0})
	require.NoError(t, err)
	assert.Equal(t, 0, countNonZero(flags[:24]))
	for _, fl := range flags[24:] {
		assert.Equal(t, 4, fl)
	}
}

func TestAnnualPRCPTOTExceedance(t *testing.T) {
	g := referenceGrid(t, models.IndexPRCPTOT, 300, 400)
	times := dayTimes(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), 366+365)
	vals := make([]float64, len(times))
	for i := range vals {
		if i < 366 {
			vals[i] = 0.5
		} else {
			vals[i] = 2
		}
	}
	f := frame(t, times, map[string][]float64{rain: vals})

	annual, err := AnnualPRCPTOTExceedance(f, rain, g, Location{Lat: 52, Lon: 0})
	require.NoError(t, err)
	require.Equal(t, 2, annual.Len())
	assert.Equal(t, 2021, annual.Time(1).Year())
	flags, err := annual.Flags(FlagColumn)
	require.NoError(t, err)
	// 183 mm is below 400; 730 mm is over 1.5x.
	assert.Equal(t, []int{0, 4}, flags)
}

func TestAnnualR99pExceedance(t *testing.T) {
	g := referenceGrid(t, models.IndexR99p, 50, 60)
	times := dayTimes(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), 366)
	vals := filled(len(times), 1)
	vals[100], vals[200], vals[300] = 40, 40, 40
	f := frame(t, times, map[string][]float64{rain: vals})

	annual, err := AnnualR99pExceedance(f, rain, g, Location{Lat: 52, Lon: 0})
	require.NoError(t, err)
	flags, err := annual.Flags(FlagColumn)
	require.NoError(t, err)
	// The 99th percentile is 1 mm, so the three 40 mm days sum to 120 mm,
	// over 1.5x the reference of 60.
	assert.Equal(t, []int{4}, flags)
}
