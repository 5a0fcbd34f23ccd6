package ingest

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/lox/rainfallqc/internal/models"
	"github.com/lox/rainfallqc/internal/neighbour"
	"github.com/lox/rainfallqc/internal/series"
)

// NetworkSpec says how to build a target gauge's neighbour network.
type NetworkSpec struct {
	Target         string
	Column         string            // rainfall column in every record
	Records        map[string]string // station id → path or URL
	Count          int
	MaxDistanceKm  float64
	MinOverlapDays int
	Prefix         string
	NoData         sql.NullFloat64 // used when the catalogue has no sentinel for a gauge
}

// LoadNetwork resolves the target's neighbours from the catalogue, fetches
// the records of the target and of every neighbour with a record source,
// and joins them on time. Neighbours without a source are skipped.
func LoadNetwork(ctx context.Context, f Fetcher, gauges []models.Gauge, spec NetworkSpec, logger *slog.Logger) (*neighbour.Network, models.Gauge, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cands, err := neighbour.Resolve(gauges, spec.Target, spec.MaxDistanceKm, spec.Count, spec.MinOverlapDays)
	if err != nil {
		return nil, models.Gauge{}, err
	}
	target, _, err := neighbour.DistancesFrom(gauges, spec.Target)
	if err != nil {
		return nil, models.Gauge{}, err
	}

	members := []models.Gauge{target}
	for _, c := range cands {
		if _, ok := spec.Records[c.Gauge.StationID]; !ok {
			logger.Warn("neighbour has no record source, skipping", "station", c.Gauge.StationID, "distance_km", c.DistanceKm)
			continue
		}
		members = append(members, c.Gauge)
	}
	if len(members) == 1 {
		return nil, target, fmt.Errorf("%w: none of %d neighbours of %q has a record source",
			neighbour.ErrNoNeighbours, len(cands), spec.Target)
	}
	if _, ok := spec.Records[spec.Target]; !ok {
		return nil, target, fmt.Errorf("no record source for target %q", spec.Target)
	}

	records := make([]neighbour.Record, len(members))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, m := range members {
		g.Go(func() error {
			src := spec.Records[m.StationID]
			body, err := f.Fetch(gctx, src)
			if err != nil {
				return fmt.Errorf("fetch %s record %s: %w", m.StationID, src, err)
			}
			noData := spec.NoData
			if m.NoDataValue.Valid {
				noData = m.NoDataValue
			}
			frame, err := ReadRecord(bytes.NewReader(body), noData)
			if err != nil {
				return fmt.Errorf("read %s record %s: %w", m.StationID, src, err)
			}
			if !frame.HasValues(spec.Column) {
				return fmt.Errorf("%s record %s: %w: %q", m.StationID, src, series.ErrColumnNotFound, spec.Column)
			}
			records[i] = neighbour.Record{Gauge: m, Frame: frame, Column: spec.Column}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, target, err
	}

	net, err := neighbour.Assemble(records, spec.Prefix)
	if err != nil {
		return nil, target, err
	}
	logger.Info("neighbour network assembled", "target", spec.Target, "neighbours", len(members)-1, "rows", net.Frame.Len())
	return net, target, nil
}
