// Package neighbour selects and assembles the gauges surrounding a target
// gauge.
package neighbour

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/golang/geo/s2"

	"github.com/lox/rainfallqc/internal/models"
	"github.com/lox/rainfallqc/internal/series"
)

// EarthRadiusKm is the mean Earth radius.
const EarthRadiusKm = 6371.0

var (
	ErrNoNeighbours = errors.New("no neighbouring gauges")
	ErrUnknownGauge = errors.New("unknown gauge")
)

// DistanceKm is the great-circle distance between two points in degrees.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	a := s2.LatLngFromDegrees(lat1, lon1)
	b := s2.LatLngFromDegrees(lat2, lon2)
	return a.Distance(b).Radians() * EarthRadiusKm
}

// Candidate is a gauge with its distance from the target.
type Candidate struct {
	Gauge      models.Gauge
	DistanceKm float64
}

// DistancesFrom measures every gauge other than the target from the target's
// location. The result is sorted by distance, closest first.
func DistancesFrom(gauges []models.Gauge, targetID string) (models.Gauge, []Candidate, error) {
	var target models.Gauge
	found := false
	for _, g := range gauges {
		if g.StationID == targetID {
			target, found = g, true
			break
		}
	}
	if !found {
		return models.Gauge{}, nil, fmt.Errorf("%w: %q not in catalogue of %d gauges", ErrUnknownGauge, targetID, len(gauges))
	}

	out := make([]Candidate, 0, len(gauges)-1)
	for _, g := range gauges {
		if g.StationID == targetID {
			continue
		}
		out = append(out, Candidate{
			Gauge:      g,
			DistanceKm: DistanceKm(target.Latitude, target.Longitude, g.Latitude, g.Longitude),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	return target, out, nil
}

// NClosest keeps the candidates within thresholdKm, dropping any at zero
// distance (the target itself or a co-located duplicate). If more than n
// remain it keeps the n closest, plus every candidate tied with the n-th.
func NClosest(cands []Candidate, thresholdKm float64, n int) []Candidate {
	var within []Candidate
	for _, c := range cands {
		if c.DistanceKm > 0 && c.DistanceKm <= thresholdKm {
			within = append(within, c)
		}
	}
	sort.SliceStable(within, func(i, j int) bool { return within[i].DistanceKm < within[j].DistanceKm })
	if n <= 0 || len(within) <= n {
		return within
	}
	cut := within[n-1].DistanceKm
	end := n
	for end < len(within) && within[end].DistanceKm == cut {
		end++
	}
	return within[:end]
}

// OverlapDays is the number of whole days two date ranges share, or 0 if
// they don't overlap.
func OverlapDays(startA, endA, startB, endB time.Time) int {
	start := startA
	if startB.After(start) {
		start = startB
	}
	end := endA
	if endB.Before(end) {
		end = endB
	}
	if !end.After(start) {
		return 0
	}
	return int(end.Sub(start) / (24 * time.Hour))
}

// Resolve picks the neighbours of targetID: gauges sharing at least
// minOverlapDays of record with the target, then the n closest of those
// within thresholdKm (ties included).
func Resolve(gauges []models.Gauge, targetID string, thresholdKm float64, n, minOverlapDays int) ([]Candidate, error) {
	target, cands, err := DistancesFrom(gauges, targetID)
	if err != nil {
		return nil, err
	}
	overlapping := cands[:0:0]
	for _, c := range cands {
		if OverlapDays(target.Start, target.End, c.Gauge.Start, c.Gauge.End) >= minOverlapDays {
			overlapping = append(overlapping, c)
		}
	}
	out := NClosest(overlapping, thresholdKm, n)
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: none of %d gauges within %.1f km of %q with %d days overlap",
			ErrNoNeighbours, len(cands), thresholdKm, targetID, minOverlapDays)
	}
	return out, nil
}

// Record is one gauge's series and the value column holding its rainfall.
type Record struct {
	Gauge  models.Gauge
	Frame  *series.Frame
	Column string
}

// Network is a set of gauge records joined onto one time index. Each gauge's
// rainfall lives in the column ColumnName(Prefix, StationID).
type Network struct {
	Prefix string
	Gauges []models.Gauge
	Frame  *series.Frame
}

// Column returns the network column name for a station.
func (n *Network) Column(stationID string) string {
	return series.ColumnName(n.Prefix, stationID)
}

// Columns returns the network's value columns in gauge order.
func (n *Network) Columns() []string {
	out := make([]string, len(n.Gauges))
	for i, g := range n.Gauges {
		out[i] = n.Column(g.StationID)
	}
	return out
}

// Assemble outer-joins the records on time. Timestamps missing from a
// record are NaN in that record's column.
func Assemble(records []Record, prefix string) (*Network, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: nothing to assemble", ErrNoNeighbours)
	}

	seen := map[time.Time]bool{}
	var times []time.Time
	cols := make([][]float64, len(records))
	for i, r := range records {
		vals, err := r.Frame.Values(r.Column)
		if err != nil {
			return nil, fmt.Errorf("gauge %s: %w", r.Gauge.StationID, err)
		}
		cols[i] = vals
		for _, t := range r.Frame.Times() {
			if !seen[t] {
				seen[t] = true
				times = append(times, t)
			}
		}
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	row := make(map[time.Time]int, len(times))
	for i, t := range times {
		row[t] = i
	}

	f, err := series.New(times)
	if err != nil {
		return nil, err
	}
	net := &Network{Prefix: prefix}
	ids := map[string]bool{}
	for i, r := range records {
		id := r.Gauge.StationID
		if ids[id] {
			return nil, fmt.Errorf("gauge %q appears twice in network", id)
		}
		ids[id] = true

		joined := make([]float64, len(times))
		for j := range joined {
			joined[j] = math.NaN()
		}
		for j, t := range r.Frame.Times() {
			joined[row[t]] = cols[i][j]
		}
		if f, err = f.WithValues(series.ColumnName(prefix, id), joined); err != nil {
			return nil, err
		}
		net.Gauges = append(net.Gauges, r.Gauge)
	}
	net.Frame = f
	return net, nil
}
