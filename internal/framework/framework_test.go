package framework

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/rainfallqc/internal/series"
)

const (
	targetCol = "rain_mm_t"
	nearCol   = "rain_mm_n"
)

var dayZero = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// dailyNetwork is two years of daily data where the target rains 2 mm every
// third day and its neighbour records half as much on the same days.
func dailyNetwork(t *testing.T) *series.Frame {
	t.Helper()
	n := 366 + 365
	times := make([]time.Time, n)
	target := make([]float64, n)
	near := make([]float64, n)
	for i := range times {
		times[i] = dayZero.AddDate(0, 0, i)
		if i%3 == 0 {
			target[i], near[i] = 2, 1
		}
	}
	f, err := series.FromColumns(times, []string{targetCol, nearCol}, target, near)
	require.NoError(t, err)
	return f
}

func stubCheck(name string, run RunFunc) Check {
	return Check{Name: name, Params: []string{"target_gauge_col", "time_res"}, Run: run}
}

func TestBuiltins(t *testing.T) {
	reg := Builtins()
	assert.Equal(t, []string{IntenseQCName, PyPWSQCName}, reg.Names())

	fw, err := reg.Lookup(IntenseQCName)
	require.NoError(t, err)
	names := fw.Names()
	require.Len(t, names, 25)
	assert.Equal(t, "QC1", names[0])
	assert.Equal(t, "QC25", names[24])

	_, err = reg.Lookup("WrongQC")
	require.ErrorIs(t, err, ErrUnknownFramework)
	assert.Contains(t, err.Error(), "IntenseQC")
	assert.Contains(t, err.Error(), "pypwsqc")
}

func TestNewFrameworkValidation(t *testing.T) {
	ok := func(context.Context, Env, Options) (Result, error) { return ScalarResult{}, nil }

	_, err := NewFramework("custom", stubCheck("a", ok), stubCheck("a", ok))
	assert.ErrorIs(t, err, ErrInvalidFramework)

	_, err = NewFramework("custom", Check{Name: "a"})
	assert.ErrorIs(t, err, ErrInvalidFramework)

	_, err = NewFramework("custom", Check{Name: SharedKey, Run: ok})
	assert.ErrorIs(t, err, ErrInvalidFramework)

	_, err = NewFramework("custom", Check{Name: "a", Run: ok, Required: []string{"gauge_lat"}})
	assert.ErrorIs(t, err, ErrInvalidFramework)

	fw, err := NewFramework("custom", stubCheck("b", ok), stubCheck("a", ok))
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, fw.Names())
	_, err = fw.Check("c")
	assert.ErrorIs(t, err, ErrUnknownCheck)

	_, err = NewRegistry(fw, fw)
	assert.ErrorIs(t, err, ErrInvalidFramework)
}

func TestBind(t *testing.T) {
	c := Check{
		Name:     "QC1",
		Params:   []string{"target_gauge_col", "quantile"},
		Required: []string{"target_gauge_col"},
	}

	tests := []struct {
		name    string
		kw      Kwargs
		want    func(t *testing.T, o Options)
		wantErr bool
	}{
		{
			name: "shared and per check",
			kw: Kwargs{
				SharedKey: {"target_gauge_col": "x", "wet_threshold": 2.5},
				"QC1":     {"quantile": 5},
			},
			want: func(t *testing.T, o Options) {
				assert.Equal(t, "x", o.TargetGaugeCol)
				assert.Equal(t, 5.0, o.Quantile)
				assert.Equal(t, DefaultOptions().WetThreshold, o.WetThreshold, "undeclared shared keys are dropped")
			},
		},
		{
			name: "per check overrides shared",
			kw: Kwargs{
				SharedKey: {"target_gauge_col": "x", "quantile": 10},
				"QC1":     {"quantile": 5, "target_gauge_col": "y"},
			},
			want: func(t *testing.T, o Options) {
				assert.Equal(t, "y", o.TargetGaugeCol)
				assert.Equal(t, 5.0, o.Quantile)
			},
		},
		{
			name: "defaults fill the rest",
			kw:   Kwargs{SharedKey: {"target_gauge_col": "x"}},
			want: func(t *testing.T, o Options) {
				assert.Equal(t, 99.0, o.Quantile)
			},
		},
		{
			name:    "undeclared per check key",
			kw:      Kwargs{SharedKey: {"target_gauge_col": "x"}, "QC1": {"wet_threshold": 1}},
			wantErr: true,
		},
		{
			name:    "missing required key",
			kw:      Kwargs{"QC1": {"quantile": 5}},
			wantErr: true,
		},
		{
			name:    "wrong type",
			kw:      Kwargs{SharedKey: {"target_gauge_col": "x"}, "QC1": {"quantile": "lots"}},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := tt.kw.bind(c)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidOption)
				return
			}
			require.NoError(t, err)
			tt.want(t, o)
		})
	}
}

func TestValidateSharedRejectsUnknownKeys(t *testing.T) {
	err := Kwargs{SharedKey: {"target_gauge_col": "x", "projection": "EPSG:25832"}}.validateShared()
	require.ErrorIs(t, err, ErrInvalidOption)
	assert.Contains(t, err.Error(), "projection")

	assert.NoError(t, Kwargs{}.validateShared())
}

func TestBindDecodesStations(t *testing.T) {
	fw := PyPWSQC()
	c, err := fw.Check("FZ")
	require.NoError(t, err)

	o, err := Kwargs{SharedKey: {
		"neighbour_metadata": []map[string]any{
			{"column": "A", "latitude": 52.0, "longitude": 0},
			{"column": "B", "latitude": 52.01, "longitude": 0.5},
		},
		"n_stat": 3,
	}}.bind(c)
	require.NoError(t, err)
	require.Len(t, o.NeighbourMetadata, 2)
	assert.Equal(t, "B", o.NeighbourMetadata[1].Column)
	assert.Equal(t, 0.5, o.NeighbourMetadata[1].Longitude)
	assert.Equal(t, 3, o.NStat)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("continue")
	require.NoError(t, err)
	assert.Equal(t, Continue, p)

	p, err = ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, FailFast, p)

	_, err = ParsePolicy("ignore")
	assert.ErrorIs(t, err, ErrInvalidOption)
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "0.5", Summarize(ScalarResult{Value: 0.5}))
	assert.Equal(t, "no years", Summarize(YearsResult{}))
	assert.Equal(t, "years [2001 2003]", Summarize(YearsResult{Years: []int{2001, 2003}}))

	f, err := series.New([]time.Time{dayZero, dayZero.AddDate(0, 0, 1), dayZero.AddDate(0, 0, 2)})
	require.NoError(t, err)
	f, err = f.WithFlags("flag", []int{-1, 0, 3})
	require.NoError(t, err)
	assert.Equal(t, "3 rows, flag: 1 flagged, 1 unevaluated", Summarize(SeriesResult{Frame: f, Flags: []string{"flag"}}))
}

func TestReportErr(t *testing.T) {
	boom := errors.New("boom")
	rep := &Report{Methods: []string{"a", "b"}, Failures: map[string]error{"b": boom}}
	err := rep.Err()
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "b: boom")

	assert.NoError(t, (&Report{Methods: []string{"a"}}).Err())
}
