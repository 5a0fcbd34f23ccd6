package neighbour

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/rainfallqc/internal/models"
	"github.com/lox/rainfallqc/internal/series"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestDistanceKm(t *testing.T) {
	assert.InDelta(t, 0, DistanceKm(51.5, -0.1, 51.5, -0.1), 1e-9)
	// One degree of latitude is ~111.2 km on the mean sphere.
	assert.InDelta(t, 111.19, DistanceKm(50, 0, 51, 0), 0.05)
	// London to Paris.
	assert.InDelta(t, 343.5, DistanceKm(51.5074, -0.1278, 48.8566, 2.3522), 1.0)
}

func TestNClosestIncludesTies(t *testing.T) {
	cands := []Candidate{
		{Gauge: models.Gauge{StationID: "a"}, DistanceKm: 5},
		{Gauge: models.Gauge{StationID: "b"}, DistanceKm: 10},
		{Gauge: models.Gauge{StationID: "c"}, DistanceKm: 10},
		{Gauge: models.Gauge{StationID: "d"}, DistanceKm: 20},
	}
	got := NClosest(cands, 50, 2)
	require.Len(t, got, 3)
	assert.Equal(t, "c", got[2].Gauge.StationID)

	assert.Len(t, NClosest(cands, 50, 10), 4, "fewer than n returns all")
	assert.Len(t, NClosest(cands, 10, 10), 3, "threshold is inclusive")
}

func TestNClosestDropsSelf(t *testing.T) {
	cands := []Candidate{
		{Gauge: models.Gauge{StationID: "self"}, DistanceKm: 0},
		{Gauge: models.Gauge{StationID: "a"}, DistanceKm: 3},
	}
	got := NClosest(cands, 10, 1)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Gauge.StationID)
}

func TestOverlapDays(t *testing.T) {
	assert.Equal(t, 485, OverlapDays(date(2001, 1, 1), date(2004, 5, 1), date(1997, 1, 1), date(2002, 5, 1)))
	assert.Equal(t, 485, OverlapDays(date(1997, 1, 1), date(2002, 5, 1), date(2001, 1, 1), date(2004, 5, 1)))
	assert.Equal(t, 0, OverlapDays(date(2001, 1, 1), date(2002, 1, 1), date(2003, 1, 1), date(2004, 1, 1)))
}

func TestResolve(t *testing.T) {
	gauges := []models.Gauge{
		{StationID: "target", Latitude: 52.0, Longitude: 0.0, Start: date(2000, 1, 1), End: date(2010, 1, 1)},
		{StationID: "near", Latitude: 52.05, Longitude: 0.0, Start: date(2000, 1, 1), End: date(2010, 1, 1)},
		{StationID: "near-short", Latitude: 52.01, Longitude: 0.0, Start: date(2009, 12, 1), End: date(2012, 1, 1)},
		{StationID: "far", Latitude: 53.5, Longitude: 0.0, Start: date(2000, 1, 1), End: date(2010, 1, 1)},
	}

	got, err := Resolve(gauges, "target", 50, 5, 365)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "near", got[0].Gauge.StationID)

	_, err = Resolve(gauges, "target", 1, 5, 365)
	assert.ErrorIs(t, err, ErrNoNeighbours)

	_, err = Resolve(gauges, "nope", 50, 5, 365)
	assert.ErrorIs(t, err, ErrUnknownGauge)
}

func TestAssembleOuterJoin(t *testing.T) {
	base := date(2020, 1, 1)
	a, err := series.FromColumns([]time.Time{base, base.Add(time.Hour)}, []string{"rain_mm"}, []float64{1, 2})
	require.NoError(t, err)
	b, err := series.FromColumns([]time.Time{base.Add(time.Hour), base.Add(2 * time.Hour)}, []string{"rain_mm"}, []float64{3, 4})
	require.NoError(t, err)

	net, err := Assemble([]Record{
		{Gauge: models.Gauge{StationID: "A"}, Frame: a, Column: "rain_mm"},
		{Gauge: models.Gauge{StationID: "B"}, Frame: b, Column: "rain_mm"},
	}, "rain_mm")
	require.NoError(t, err)

	assert.Equal(t, 3, net.Frame.Len())
	assert.Equal(t, []string{"rain_mm_A", "rain_mm_B"}, net.Columns())

	colA, err := net.Frame.Values("rain_mm_A")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, colA[:2])
	assert.True(t, math.IsNaN(colA[2]))

	colB, err := net.Frame.Values(net.Column("B"))
	require.NoError(t, err)
	assert.True(t, math.IsNaN(colB[0]))
	assert.Equal(t, []float64{3, 4}, colB[1:])
}
