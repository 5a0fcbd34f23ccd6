// Package climate provides gridded climate-index reference values (ETCCDI
// style R99p, PRCPTOT, CDD, SDII, Rx1day, CWD) looked up at a gauge
// location.
package climate

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/lox/rainfallqc/internal/neighbour"
	"github.com/lox/rainfallqc/internal/stats"
)

// DefaultMaxDistanceKm bounds how far from a gauge a grid cell may be and
// still count as a local reference.
const DefaultMaxDistanceKm = 250.0

var (
	ErrNoReference  = errors.New("no climate reference available")
	ErrUnknownIndex = errors.New("unknown climate index")
)

// Reference is what the comparison checks need from a climate grid.
type Reference interface {
	// Local returns the per-year index values at the nearest valid cell.
	Local(index string, lat, lon, maxDistanceKm float64) ([]float64, error)
}

// Cell is one value of one index at one grid point and year. It is the
// flat form used for storage.
type Cell struct {
	Index string
	Lat   float64
	Lon   float64
	Year  int
	Value float64
}

// Grid holds per-index cubes laid out lat × lon × year. NaN marks cells with
// no data (sea, or missing years).
type Grid struct {
	lats    []float64
	lons    []float64
	years   []int
	indices map[string][][][]float64
}

// NewGrid makes an empty grid over the given axes.
func NewGrid(lats, lons []float64, years []int) (*Grid, error) {
	if len(lats) == 0 || len(lons) == 0 || len(years) == 0 {
		return nil, fmt.Errorf("grid axes must be non-empty (lat %d, lon %d, year %d)", len(lats), len(lons), len(years))
	}
	return &Grid{
		lats:    append([]float64(nil), lats...),
		lons:    append([]float64(nil), lons...),
		years:   append([]int(nil), years...),
		indices: map[string][][][]float64{},
	}, nil
}

// SetIndex stores a cube for name, replacing any existing one.
func (g *Grid) SetIndex(name string, cube [][][]float64) error {
	if len(cube) != len(g.lats) {
		return fmt.Errorf("index %s: cube has %d lat rows, grid has %d", name, len(cube), len(g.lats))
	}
	for i, row := range cube {
		if len(row) != len(g.lons) {
			return fmt.Errorf("index %s: lat row %d has %d lon cells, grid has %d", name, i, len(row), len(g.lons))
		}
		for j, ys := range row {
			if len(ys) != len(g.years) {
				return fmt.Errorf("index %s: cell (%d,%d) has %d years, grid has %d", name, i, j, len(ys), len(g.years))
			}
		}
	}
	g.indices[name] = cube
	return nil
}

func (g *Grid) Years() []int { return append([]int(nil), g.years...) }

// Indices lists the index names present, sorted.
func (g *Grid) Indices() []string {
	out := make([]string, 0, len(g.indices))
	for k := range g.indices {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Local returns the per-year values of index at the nearest cell holding at
// least one valid value. It fails with ErrNoReference when that cell is
// further than maxDistanceKm away, or when the grid has no valid cells.
func (g *Grid) Local(index string, lat, lon, maxDistanceKm float64) ([]float64, error) {
	cube, ok := g.indices[index]
	if !ok {
		return nil, fmt.Errorf("%w: %q (have %v)", ErrUnknownIndex, index, g.Indices())
	}
	bestI, bestJ := -1, -1
	best := math.Inf(1)
	for i, la := range g.lats {
		for j, lo := range g.lons {
			if !anyValid(cube[i][j]) {
				continue
			}
			if d := neighbour.DistanceKm(lat, lon, la, lo); d < best {
				best, bestI, bestJ = d, i, j
			}
		}
	}
	if bestI < 0 {
		return nil, fmt.Errorf("%w: index %s has no valid cells", ErrNoReference, index)
	}
	if best > maxDistanceKm {
		return nil, fmt.Errorf("%w: nearest %s cell (%.2f, %.2f) is %.1f km from (%.4f, %.4f), limit %.1f km",
			ErrNoReference, index, g.lats[bestI], g.lons[bestJ], best, lat, lon, maxDistanceKm)
	}
	return append([]float64(nil), cube[bestI][bestJ]...), nil
}

// LocalMax is the maximum over years of Local.
func LocalMax(ref Reference, index string, lat, lon, maxDistanceKm float64) (float64, error) {
	vals, err := ref.Local(index, lat, lon, maxDistanceKm)
	if err != nil {
		return math.NaN(), err
	}
	return stats.NanMax(vals), nil
}

// LocalMean is the mean over years of Local.
func LocalMean(ref Reference, index string, lat, lon, maxDistanceKm float64) (float64, error) {
	vals, err := ref.Local(index, lat, lon, maxDistanceKm)
	if err != nil {
		return math.NaN(), err
	}
	return stats.NanMean(vals), nil
}

// Cells flattens the grid, skipping NaN values.
func (g *Grid) Cells() []Cell {
	var out []Cell
	for _, name := range g.Indices() {
		cube := g.indices[name]
		for i, la := range g.lats {
			for j, lo := range g.lons {
				for k, y := range g.years {
					v := cube[i][j][k]
					if math.IsNaN(v) {
						continue
					}
					out = append(out, Cell{Index: name, Lat: la, Lon: lo, Year: y, Value: v})
				}
			}
		}
	}
	return out
}

// FromCells rebuilds a grid from flat cells. Axes are the sorted distinct
// coordinates and years; absent combinations are NaN.
func FromCells(cells []Cell) (*Grid, error) {
	if len(cells) == 0 {
		return nil, fmt.Errorf("%w: no cells", ErrNoReference)
	}
	latSet, lonSet, yearSet := map[float64]int{}, map[float64]int{}, map[int]int{}
	for _, c := range cells {
		latSet[c.Lat] = 0
		lonSet[c.Lon] = 0
		yearSet[c.Year] = 0
	}
	lats, lons, years := sortedFloats(latSet), sortedFloats(lonSet), sortedInts(yearSet)

	g, err := NewGrid(lats, lons, years)
	if err != nil {
		return nil, err
	}
	cubes := map[string][][][]float64{}
	for _, c := range cells {
		cube, ok := cubes[c.Index]
		if !ok {
			cube = nanCube(len(lats), len(lons), len(years))
			cubes[c.Index] = cube
		}
		cube[latSet[c.Lat]][lonSet[c.Lon]][yearSet[c.Year]] = c.Value
	}
	for name, cube := range cubes {
		if err := g.SetIndex(name, cube); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func nanCube(nLat, nLon, nYear int) [][][]float64 {
	cube := make([][][]float64, nLat)
	for i := range cube {
		cube[i] = make([][]float64, nLon)
		for j := range cube[i] {
			ys := make([]float64, nYear)
			for k := range ys {
				ys[k] = math.NaN()
			}
			cube[i][j] = ys
		}
	}
	return cube
}

// sortedFloats sorts the keys and records each key's position as its value.
func sortedFloats(set map[float64]int) []float64 {
	out := make([]float64, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Float64s(out)
	for i, k := range out {
		set[k] = i
	}
	return out
}

func sortedInts(set map[int]int) []int {
	out := make([]int, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Ints(out)
	for i, k := range out {
		set[k] = i
	}
	return out
}

func anyValid(vals []float64) bool {
	for _, v := range vals {
		if !math.IsNaN(v) {
			return true
		}
	}
	return false
}
