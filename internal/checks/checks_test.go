package checks

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lox/rainfallqc/internal/series"
)

const rain = "rain_mm"

func stepTimes(start time.Time, step time.Duration, n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = start.Add(time.Duration(i) * step)
	}
	return out
}

func dayTimes(start time.Time, n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = start.AddDate(0, 0, i)
	}
	return out
}

func frame(t *testing.T, times []time.Time, cols map[string][]float64) *series.Frame {
	t.Helper()
	f, err := series.New(times)
	require.NoError(t, err)
	names := make([]string, 0, len(cols))
	for n := range cols {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		f, err = f.WithValues(n, cols[n])
		require.NoError(t, err)
	}
	return f
}

func filled(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func countNonZero(flags []int) int {
	n := 0
	for _, f := range flags {
		if f != 0 {
			n++
		}
	}
	return n
}
