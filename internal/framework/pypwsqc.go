package framework

import (
	"context"
	"errors"
	"fmt"

	"github.com/lox/rainfallqc/internal/checks"
	"github.com/lox/rainfallqc/internal/models"
	"github.com/lox/rainfallqc/internal/neighbour"
	"github.com/lox/rainfallqc/internal/series"
)

// PyPWSQCName is the registry name of the PWS filter framework.
const PyPWSQCName = "pypwsqc"

// Flag column prefixes of PWS results; columns are <prefix>_<station>.
const (
	FaultyZeroFlag     = "fz_flag"
	HighInfluxFlag     = "hi_flag"
	StationOutlierFlag = "so_flag"
)

var pwsParams = []string{
	"neighbour_metadata", "neighbouring_gauge_ids", "max_distance_for_neighbours", "n_stat", "time_res",
}

// pwsFilter computes one station's flags given its neighbourhood.
type pwsFilter func(data *series.Frame, station string, ref checks.PWSReference, o Options) ([]int, error)

// PyPWSQC returns the personal weather station filters: faulty zeros, high
// influx and station outlier. Each runs over every station in the network.
func PyPWSQC() *Framework {
	fw, err := NewFramework(PyPWSQCName,
		Check{
			Name:        "FZ",
			Description: "Faulty zeros: station reports no rain while its neighbours do.",
			Params:      params(pwsParams, []string{"nint"}),
			Required:    []string{"neighbour_metadata"},
			Run: pwsCheck(FaultyZeroFlag, func(data *series.Frame, station string, ref checks.PWSReference, o Options) ([]int, error) {
				vals, err := data.Values(station)
				if err != nil {
					return nil, err
				}
				return checks.FaultyZeros(vals, ref, o.Nint, o.NStat)
			}),
		},
		Check{
			Name:        "HI",
			Description: "High influx: station reports far more rain than its neighbourhood median.",
			Params:      params(pwsParams, []string{"high_influx_a", "high_influx_b"}),
			Required:    []string{"neighbour_metadata"},
			Run: pwsCheck(HighInfluxFlag, func(data *series.Frame, station string, ref checks.PWSReference, o Options) ([]int, error) {
				vals, err := data.Values(station)
				if err != nil {
					return nil, err
				}
				return checks.HighInflux(vals, ref, o.HighInfluxA, o.HighInfluxB, o.NStat)
			}),
		},
		Check{
			Name:        "SO",
			Description: "Station outlier: rolling correlation with neighbours is poor.",
			Params:      params(pwsParams, []string{"evaluation_period", "mmatch", "gamma"}),
			Required:    []string{"neighbour_metadata"},
			Run: pwsCheck(StationOutlierFlag, func(data *series.Frame, station string, ref checks.PWSReference, o Options) ([]int, error) {
				return checks.StationOutlier(data, station, ref, checks.OutlierParams{
					EvaluationPeriod: o.EvaluationPeriod,
					MinMatches:       o.MMatch,
					Gamma:            o.Gamma,
					MinNeighbours:    o.NStat,
				})
			}),
		},
	)
	if err != nil {
		panic(err)
	}
	return fw
}

// pwsCheck runs filter for each station and returns one flag column per
// station. A station with no neighbours in range is unevaluated throughout.
func pwsCheck(prefix string, filter pwsFilter) RunFunc {
	return func(ctx context.Context, env Env, o Options) (Result, error) {
		stations, err := pwsStations(env.Data, o)
		if err != nil {
			return nil, err
		}
		meta := withData(env.Data, o.NeighbourMetadata)
		out, err := series.New(env.Data.Times())
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(stations))
		for _, station := range stations {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			var flags []int
			ref, err := checks.PWSNeighbourhood(env.Data, station, meta, o.MaxDistanceForNeighbours)
			switch {
			case errors.Is(err, neighbour.ErrNoNeighbours):
				flags = make([]int, env.Data.Len())
				for i := range flags {
					flags[i] = models.FlagUnevaluated
				}
			case err != nil:
				return nil, fmt.Errorf("station %s: %w", station, err)
			default:
				if flags, err = filter(env.Data, station, ref, o); err != nil {
					return nil, fmt.Errorf("station %s: %w", station, err)
				}
			}
			name := series.ColumnName(prefix, station)
			if out, err = out.WithFlags(name, flags); err != nil {
				return nil, err
			}
			names = append(names, name)
		}
		return SeriesResult{Frame: out, Flags: names}, nil
	}
}

// pwsStations is the explicit station list, or every station in the
// metadata that has a data column.
func pwsStations(data *series.Frame, o Options) ([]string, error) {
	if len(o.NeighbouringGaugeIDs) > 0 {
		for _, id := range o.NeighbouringGaugeIDs {
			if !data.HasValues(id) {
				return nil, fmt.Errorf("%w: neighbouring_gauge_ids: %q", series.ErrColumnNotFound, id)
			}
		}
		return o.NeighbouringGaugeIDs, nil
	}
	var out []string
	for _, s := range withData(data, o.NeighbourMetadata) {
		out = append(out, s.Column)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no station in neighbour_metadata has a data column", neighbour.ErrNoNeighbours)
	}
	return out, nil
}

// withData drops stations without a data column.
func withData(data *series.Frame, stations []checks.Station) []checks.Station {
	var out []checks.Station
	for _, s := range stations {
		if data.HasValues(s.Column) {
			out = append(out, s)
		}
	}
	return out
}
