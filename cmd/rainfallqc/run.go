package main

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lox/rainfallqc/internal/climate"
	"github.com/lox/rainfallqc/internal/config"
	"github.com/lox/rainfallqc/internal/framework"
	"github.com/lox/rainfallqc/internal/ingest"
	"github.com/lox/rainfallqc/internal/series"
	"github.com/lox/rainfallqc/internal/store"
)

type RunCmd struct {
	Configs     []string `arg:"" type:"existingfile" help:"YAML run files, one per gauge or network."`
	Concurrency int      `help:"Run files processed at once." default:"4" env:"RAINFALLQC_CONCURRENCY"`
	DB          string   `help:"Reference store used when a run file names none." type:"path" env:"RAINFALLQC_DB"`
}

func (c *RunCmd) Run(g *Globals) error {
	stores := map[string]*store.Store{}
	var closers []func()
	defer func() {
		for _, closeFn := range closers {
			closeFn()
		}
	}()
	openCached := func(path string) (*store.Store, error) {
		if st, ok := stores[path]; ok {
			return st, nil
		}
		st, closeFn, err := openStore(path, g.Logger)
		if err != nil {
			return nil, err
		}
		closers = append(closers, closeFn)
		stores[path] = st
		return st, nil
	}

	var (
		jobs []framework.Job
		runs []*config.Run
	)
	for _, path := range c.Configs {
		run, err := config.Load(path)
		if err != nil {
			return err
		}
		if run.Database == "" {
			run.Database = c.DB
		}
		var st *store.Store
		if run.Database != "" {
			if st, err = openCached(run.Database); err != nil {
				return err
			}
		}
		job, err := buildJob(g.Ctx, g.Fetcher, st, run, g.Logger)
		if err != nil {
			return fmt.Errorf("%s: %w", run.Name, err)
		}
		jobs = append(jobs, job)
		runs = append(runs, run)
	}

	runner := framework.NewRunner(g.Registry)
	runner.Logger = g.Logger
	reports, err := runner.RunBatch(g.Ctx, jobs, c.Concurrency)

	failed := []error{err}
	for i, rep := range reports {
		if rep == nil {
			continue
		}
		printReport(os.Stdout, jobs[i].Name, rep)
		if out := runs[i].Output; out != "" {
			if werr := writeFlags(out, rep); werr != nil {
				failed = append(failed, fmt.Errorf("%s: %w", jobs[i].Name, werr))
			}
		}
		if ferr := rep.Err(); ferr != nil {
			failed = append(failed, fmt.Errorf("%s: %w", jobs[i].Name, ferr))
		}
	}
	return errors.Join(failed...)
}

// buildJob loads the data a run file points at: the target record alone,
// or the target's neighbour network resolved from the catalogue.
func buildJob(ctx context.Context, f ingest.Fetcher, st *store.Store, run *config.Run, logger *slog.Logger) (framework.Job, error) {
	if logger == nil {
		logger = slog.Default()
	}
	policy, err := run.Policy()
	if err != nil {
		return framework.Job{}, err
	}
	job := framework.Job{
		Name:      run.Name,
		Framework: run.Framework,
		Methods:   run.Methods,
		Kwargs:    run.Kwargs,
		Policy:    policy,
	}
	if job.Kwargs == nil {
		job.Kwargs = framework.Kwargs{}
	}

	var noData sql.NullFloat64
	if run.NoDataValue != nil {
		noData = sql.NullFloat64{Float64: *run.NoDataValue, Valid: true}
	}

	if n := run.Neighbours; n != nil {
		gauges, err := st.Gauges()
		if err != nil {
			return job, fmt.Errorf("load gauge catalogue: %w", err)
		}
		records := make(map[string]string, len(n.Records)+1)
		for k, v := range n.Records {
			records[k] = v
		}
		if src := run.TargetRecord(); src != "" {
			records[n.Target] = src
		}
		net, target, err := ingest.LoadNetwork(ctx, f, gauges, ingest.NetworkSpec{
			Target:         n.Target,
			Column:         n.Column,
			Records:        records,
			Count:          n.Count,
			MaxDistanceKm:  n.MaxDistanceKm,
			MinOverlapDays: n.MinOverlapDays,
			Prefix:         n.Prefix,
			NoData:         noData,
		}, logger)
		if err != nil {
			return job, err
		}
		job.Env.Data = net.Frame

		targetCol := net.Column(target.StationID)
		var nearest []string
		for _, col := range net.Columns() {
			if col != targetCol {
				nearest = append(nearest, col)
			}
		}
		if err := logMissing(logger, run.Name, net.Frame, targetCol); err != nil {
			return job, err
		}
		setDefault(job.Kwargs, "target_gauge_col", targetCol)
		setDefault(job.Kwargs, "list_of_nearest_stations", nearest)
		setDefault(job.Kwargs, "gauge_lat", target.Latitude)
		setDefault(job.Kwargs, "gauge_lon", target.Longitude)
	} else {
		src := run.TargetRecord()
		body, err := f.Fetch(ctx, src)
		if err != nil {
			return job, err
		}
		if job.Env.Data, err = ingest.ReadRecord(bytes.NewReader(body), noData); err != nil {
			return job, fmt.Errorf("read %s: %w", src, err)
		}
		if err := logMissing(logger, run.Name, job.Env.Data, job.Env.Data.Columns()...); err != nil {
			return job, err
		}
	}

	if st != nil {
		grid, err := st.LoadClimateGrid()
		switch {
		case errors.Is(err, climate.ErrNoReference):
			logger.Info("reference store has no climate grid", "database", run.Database)
		case err != nil:
			return job, fmt.Errorf("load climate grid: %w", err)
		default:
			job.Env.Climate = grid
		}
	}
	return job, nil
}

func logMissing(logger *slog.Logger, job string, f *series.Frame, cols ...string) error {
	for _, col := range cols {
		missing, err := f.CountMissing(col)
		if err != nil {
			return err
		}
		logger.Info("record loaded", "job", job, "column", col, "rows", f.Len(), "missing", missing)
	}
	return nil
}

// setDefault fills a shared option the run file left unset.
func setDefault(kw framework.Kwargs, key string, v any) {
	shared := kw[framework.SharedKey]
	if shared == nil {
		shared = map[string]any{}
		kw[framework.SharedKey] = shared
	}
	if _, ok := shared[key]; !ok {
		shared[key] = v
	}
}

func printReport(w io.Writer, name string, rep *framework.Report) {
	fmt.Fprintf(w, "%s: %s run %s (%s)\n", name, rep.Framework, rep.RunID, rep.Duration.Round(time.Millisecond))
	for _, m := range rep.Methods {
		if err, ok := rep.Failures[m]; ok {
			fmt.Fprintf(w, "  %-5s FAILED: %v\n", m, err)
			continue
		}
		if res, ok := rep.Results[m]; ok {
			fmt.Fprintf(w, "  %-5s %s\n", m, framework.Summarize(res))
		}
	}
}

// writeFlags writes each series result to <dir>/<check>.csv.
func writeFlags(dir string, rep *framework.Report) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, m := range rep.Methods {
		sr, ok := rep.Results[m].(framework.SeriesResult)
		if !ok {
			continue
		}
		path := filepath.Join(dir, m+".csv")
		fh, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := ingest.WriteFrame(fh, sr.Frame); err != nil {
			fh.Close()
			return fmt.Errorf("write %s: %w", path, err)
		}
		if err := fh.Close(); err != nil {
			return err
		}
	}
	return nil
}
