package checks

import (
	"fmt"
	"math"

	"github.com/lox/rainfallqc/internal/models"
	"github.com/lox/rainfallqc/internal/neighbour"
	"github.com/lox/rainfallqc/internal/series"
	"github.com/lox/rainfallqc/internal/stats"
)

// Filter defaults for personal weather station networks.
const (
	DefaultPWSMaxDistanceM    = 10e3
	DefaultHighInfluxThresA   = 0.4
	DefaultHighInfluxThresB   = 10.0
	DefaultFaultyZeroInterval = 6
	DefaultPWSMinNeighbours   = 5
	DefaultOutlierPeriod      = 4032
	DefaultOutlierMatches     = 200
	DefaultOutlierGamma       = 0.15
)

// Station places a network column.
type Station struct {
	Column    string  `mapstructure:"column" yaml:"column"`
	Latitude  float64 `mapstructure:"latitude" yaml:"latitude"`
	Longitude float64 `mapstructure:"longitude" yaml:"longitude"`
}

// PWSReference summarises a station's neighbourhood at each step.
type PWSReference struct {
	Columns []string  // neighbour columns within range
	Median  []float64 // median of the neighbours online, NaN if none
	Online  []int     // number of neighbours online
}

// PWSNeighbourhood builds the reference for target from every other station
// strictly within maxDistanceM metres.
func PWSNeighbourhood(f *series.Frame, target string, stations []Station, maxDistanceM float64) (PWSReference, error) {
	var self *Station
	for i := range stations {
		if stations[i].Column == target {
			self = &stations[i]
			break
		}
	}
	if self == nil {
		return PWSReference{}, fmt.Errorf("%w: no station metadata for target column %q", ErrInvalidArgument, target)
	}
	var cols []string
	for _, s := range stations {
		d := neighbour.DistanceKm(self.Latitude, self.Longitude, s.Latitude, s.Longitude) * 1000
		if s.Column != target && d > 0 && d < maxDistanceM {
			cols = append(cols, s.Column)
		}
	}
	if len(cols) == 0 {
		return PWSReference{}, fmt.Errorf("%w: no stations within %.0f m of %q", neighbour.ErrNoNeighbours, maxDistanceM, target)
	}
	nbs, err := neighbourValues(f, target, cols)
	if err != nil {
		return PWSReference{}, err
	}

	ref := PWSReference{
		Columns: cols,
		Median:  make([]float64, f.Len()),
		Online:  make([]int, f.Len()),
	}
	row := make([]float64, len(nbs))
	for i := range ref.Median {
		for k, vals := range nbs {
			row[k] = vals[i]
		}
		ref.Median[i] = stats.NanMedian(row)
		ref.Online[i] = len(nbs) - countNaN(row)
	}
	return ref, nil
}

// FaultyZeros flags a station reporting zero while its neighbourhood median
// reports rain. A station is flagged once it has been dry for nint+1
// consecutive steps during which the reference was wet throughout, and stays
// flagged until it reports rain again. Steps with fewer than nStat
// neighbours online, or a missing station value, are unevaluated.
func FaultyZeros(pws []float64, ref PWSReference, nint, nStat int) ([]int, error) {
	if nint < 1 {
		return nil, fmt.Errorf("%w: nint must be positive, got %d", ErrInvalidArgument, nint)
	}
	if len(pws) != len(ref.Median) {
		return nil, fmt.Errorf("%w: station has %d steps, reference %d", series.ErrLengthMismatch, len(pws), len(ref.Median))
	}
	flags := filledFlags(len(pws), models.FlagUnevaluated)
	dryRun, refWetRun := 0, 0
	for i, v := range pws {
		if v == 0 {
			dryRun++
		} else {
			dryRun = 0
		}
		if ref.Median[i] > 0 {
			refWetRun++
		} else {
			refWetRun = 0
		}
		if i < nint {
			continue
		}
		switch {
		case v > 0:
			flags[i] = models.FlagNone
		case flags[i-1] == 1:
			flags[i] = 1
		case dryRun > nint && refWetRun > nint:
			flags[i] = 1
		default:
			flags[i] = models.FlagNone
		}
	}
	return maskPWS(flags, pws, ref, nStat), nil
}

// HighInflux flags implausibly large station values given the neighbourhood
// median: above thresB when the median is below thresA, otherwise above
// median*thresB/thresA.
func HighInflux(pws []float64, ref PWSReference, thresA, thresB float64, nStat int) ([]int, error) {
	if !(thresA > 0) || !(thresB > 0) {
		return nil, fmt.Errorf("%w: high influx thresholds must be positive (a %v, b %v)", ErrInvalidArgument, thresA, thresB)
	}
	if len(pws) != len(ref.Median) {
		return nil, fmt.Errorf("%w: station has %d steps, reference %d", series.ErrLengthMismatch, len(pws), len(ref.Median))
	}
	flags := make([]int, len(pws))
	for i, v := range pws {
		m := ref.Median[i]
		if (m < thresA && v > thresB) || (m >= thresA && v > m*thresB/thresA) {
			flags[i] = 1
		}
	}
	return maskPWS(flags, pws, ref, nStat), nil
}

// OutlierParams configures StationOutlier.
type OutlierParams struct {
	EvaluationPeriod int     // trailing window length in steps
	MinMatches       int     // joint wet steps needed for a neighbour to count
	Gamma            float64 // median correlation below this flags
	MinNeighbours    int
}

// StationOutlier flags steps where the station's correlation with its
// neighbours over the trailing evaluation period is poor. Neighbours
// sharing fewer than MinMatches wet steps with the station in the window are
// skipped; if fewer than MinNeighbours remain the step is unevaluated.
func StationOutlier(f *series.Frame, target string, ref PWSReference, p OutlierParams) ([]int, error) {
	if p.EvaluationPeriod < 2 || p.MinMatches < 1 {
		return nil, fmt.Errorf("%w: evaluation period %d and mmatch %d must be positive", ErrInvalidArgument, p.EvaluationPeriod, p.MinMatches)
	}
	pws, err := column(f, target)
	if err != nil {
		return nil, err
	}
	nbs, err := neighbourValues(f, target, ref.Columns)
	if err != nil {
		return nil, err
	}

	windows := make([]*rollingPearson, len(nbs))
	for k := range windows {
		windows[k] = &rollingPearson{}
	}
	flags := filledFlags(len(pws), models.FlagUnevaluated)
	corrs := make([]float64, 0, len(nbs))
	for i := range pws {
		corrs = corrs[:0]
		for k, nv := range nbs {
			w := windows[k]
			w.add(pws[i], nv[i])
			if i >= p.EvaluationPeriod {
				w.remove(pws[i-p.EvaluationPeriod], nv[i-p.EvaluationPeriod])
			}
			if w.matches < p.MinMatches {
				continue
			}
			if r := w.corr(); !math.IsNaN(r) {
				corrs = append(corrs, r)
			}
		}
		if i < p.EvaluationPeriod-1 || len(corrs) < p.MinNeighbours {
			continue
		}
		if stats.NanMedian(corrs) < p.Gamma {
			flags[i] = 1
		} else {
			flags[i] = models.FlagNone
		}
	}
	return flags, nil
}

// rollingPearson keeps the sums behind a Pearson correlation over a sliding
// window of pairs. Pairs with a missing side are ignored.
type rollingPearson struct {
	n, matches            int
	sx, sy, sxx, syy, sxy float64
}

func (r *rollingPearson) add(x, y float64)    { r.update(x, y, 1) }
func (r *rollingPearson) remove(x, y float64) { r.update(x, y, -1) }

func (r *rollingPearson) update(x, y float64, sign int) {
	if math.IsNaN(x) || math.IsNaN(y) {
		return
	}
	s := float64(sign)
	r.n += sign
	if x > 0 && y > 0 {
		r.matches += sign
	}
	r.sx += s * x
	r.sy += s * y
	r.sxx += s * x * x
	r.syy += s * y * y
	r.sxy += s * x * y
}

func (r *rollingPearson) corr() float64 {
	if r.n < 2 {
		return math.NaN()
	}
	n := float64(r.n)
	cov := r.sxy - r.sx*r.sy/n
	vx := r.sxx - r.sx*r.sx/n
	vy := r.syy - r.sy*r.sy/n
	if vx <= 0 || vy <= 0 {
		return math.NaN()
	}
	return cov / math.Sqrt(vx*vy)
}

func maskPWS(flags []int, pws []float64, ref PWSReference, nStat int) []int {
	for i := range flags {
		if math.IsNaN(pws[i]) || ref.Online[i] < nStat {
			flags[i] = models.FlagUnevaluated
		}
	}
	return flags
}

func countNaN(x []float64) int {
	n := 0
	for _, v := range x {
		if math.IsNaN(v) {
			n++
		}
	}
	return n
}
