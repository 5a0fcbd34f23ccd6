package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/rainfallqc/internal/framework"
)

const sampleRun = `
framework: IntenseQC
methods: [QC1, QC8, QC10]
on_fail: continue
data: testdata/DE_00044.csv
no_data_value: -999
database: reference.db
kwargs:
  shared:
    target_gauge_col: rain_mm
    gauge_lat: 52.9336
    gauge_lon: 8.237
    time_res: hourly
  QC1:
    quantile: 5
`

func TestParse(t *testing.T) {
	run, err := Parse(strings.NewReader(sampleRun))
	require.NoError(t, err)

	assert.Equal(t, framework.IntenseQCName, run.Framework)
	assert.Equal(t, []string{"QC1", "QC8", "QC10"}, run.Methods)
	require.NotNil(t, run.NoDataValue)
	assert.Equal(t, -999.0, *run.NoDataValue)
	assert.Equal(t, "testdata/DE_00044.csv", run.TargetRecord())

	assert.Equal(t, "rain_mm", run.Kwargs[framework.SharedKey]["target_gauge_col"])
	assert.Equal(t, 52.9336, run.Kwargs[framework.SharedKey]["gauge_lat"])
	assert.Equal(t, 5, run.Kwargs["QC1"]["quantile"])

	p, err := run.Policy()
	require.NoError(t, err)
	assert.Equal(t, framework.Continue, p)
}

func TestParseNeighbourDefaults(t *testing.T) {
	run, err := Parse(strings.NewReader(`
framework: IntenseQC
database: ref.db
neighbours:
  target: DE_00044
  column: rain_mm
  records:
    DE_00044: a.csv
    DE_00073: b.csv
`))
	require.NoError(t, err)
	n := run.Neighbours
	assert.Equal(t, DefaultNeighbourCount, n.Count)
	assert.Equal(t, DefaultNeighbourRadiusKm, n.MaxDistanceKm)
	assert.Equal(t, DefaultMinOverlapDays, n.MinOverlapDays)
	assert.Equal(t, DefaultNeighbourPrefix, n.Prefix)
	assert.Equal(t, "a.csv", run.TargetRecord(), "target record falls back to neighbours.records")
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", "empty file"},
		{"unknown key", "framework: IntenseQC\ndata: a.csv\nthreads: 4\n", "threads"},
		{"no framework", "data: a.csv\n", "framework is required"},
		{"no data", "framework: IntenseQC\n", "data is required"},
		{"bad policy", "framework: IntenseQC\ndata: a.csv\non_fail: shrug\n", "on_fail"},
		{
			"neighbours without database",
			"framework: IntenseQC\ndata: a.csv\nneighbours: {target: A, column: rain}\n",
			"needs a database",
		},
		{
			"neighbours without target record",
			"framework: IntenseQC\ndatabase: ref.db\nneighbours: {target: A, column: rain, records: {B: b.csv}}\n",
			"no entry for target",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.input))
			require.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadNamesRunAfterFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gauge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("framework: pypwsqc\ndata: net.csv\n"), 0o644))

	run, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, run.Name)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
