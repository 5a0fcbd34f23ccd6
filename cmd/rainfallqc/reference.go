package main

import (
	"bytes"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/lox/rainfallqc/internal/climate"
	"github.com/lox/rainfallqc/internal/ingest"
	"github.com/lox/rainfallqc/internal/models"
	"github.com/lox/rainfallqc/internal/store"
)

type StoreFlags struct {
	DB    string `help:"Reference store path." default:"rainfallqc.db" type:"path" env:"RAINFALLQC_DB"`
	Force bool   `help:"Import even if the same payload was imported before."`
}

type ImportCmd struct {
	Gauges  ImportGaugesCmd  `cmd:"" help:"Import a gauge catalogue CSV (station_id,latitude,longitude,...)."`
	Climate ImportClimateCmd `cmd:"" help:"Import climate index cells (index,lat,lon,year,value)."`
}

type ImportGaugesCmd struct {
	StoreFlags `embed:""`
	Source     string `arg:"" help:"Path or URL of the catalogue."`
}

func (c *ImportGaugesCmd) Run(g *Globals) error {
	return importPayload(g, c.StoreFlags, "gauges", c.Source, func(st *store.Store, body []byte) (int, int, error) {
		gauges, err := ingest.ReadGauges(bytes.NewReader(body))
		if err != nil {
			return 0, 0, err
		}
		valid := make([]models.Gauge, 0, len(gauges))
		for _, gauge := range gauges {
			if flags := ingest.ValidateGauge(gauge); len(flags) > 0 {
				g.Logger.Warn("skipping gauge", "station", gauge.StationID, "flags", flags)
				continue
			}
			valid = append(valid, gauge)
		}
		if err := st.UpsertGauges(valid); err != nil {
			return len(gauges), 0, err
		}
		return len(gauges), len(valid), nil
	})
}

type ImportClimateCmd struct {
	StoreFlags `embed:""`
	Source     string `arg:"" help:"Path or URL of the cell table."`
}

func (c *ImportClimateCmd) Run(g *Globals) error {
	return importPayload(g, c.StoreFlags, "climate", c.Source, func(st *store.Store, body []byte) (int, int, error) {
		cells, err := ingest.ReadClimateCells(bytes.NewReader(body))
		if err != nil {
			return 0, 0, err
		}
		grid, err := climate.FromCells(cells)
		if err != nil {
			return len(cells), 0, err
		}
		n, err := st.SaveClimateGrid(grid)
		return len(cells), n, err
	})
}

type loadFunc func(st *store.Store, body []byte) (read, stored int, err error)

// importPayload fetches source and loads it under an audited import run.
func importPayload(g *Globals, flags StoreFlags, kind, source string, load loadFunc) error {
	st, closeFn, err := openStore(flags.DB, g.Logger)
	if err != nil {
		return err
	}
	defer closeFn()

	body, err := g.Fetcher.Fetch(g.Ctx, source)
	if err != nil {
		return err
	}
	if !flags.Force {
		done, err := st.AlreadyImported(kind, store.PayloadHash(body))
		if err != nil {
			return err
		}
		if done {
			g.Logger.Info("payload already imported, use --force to reload", "kind", kind, "source", source)
			return nil
		}
	}

	run, err := st.StartImportRun(kind, source, body)
	if err != nil {
		return err
	}
	read, stored, loadErr := load(st, body)
	run.RecordsRead = sql.NullInt64{Int64: int64(read), Valid: true}
	run.RecordsStored = sql.NullInt64{Int64: int64(stored), Valid: true}
	if err := st.CompleteImportRun(run, loadErr); err != nil {
		g.Logger.Error("record import run", "error", err)
	}
	if loadErr != nil {
		return fmt.Errorf("import %s from %s: %w", kind, source, loadErr)
	}
	fmt.Printf("imported %d of %d %s records from %s\n", stored, read, kind, source)
	return nil
}

type HistoryCmd struct {
	DB    string `help:"Reference store path." default:"rainfallqc.db" type:"path" env:"RAINFALLQC_DB"`
	Limit int    `help:"Number of import runs to show." default:"20"`
}

func (c *HistoryCmd) Run(g *Globals) error {
	st, closeFn, err := openStore(c.DB, g.Logger)
	if err != nil {
		return err
	}
	defer closeFn()
	return printHistory(os.Stdout, st, c.Limit)
}

func printHistory(w io.Writer, st *store.Store, limit int) error {
	version, err := st.MigrationVersion()
	if err != nil {
		return err
	}
	runs, err := st.RecentImportRuns(limit)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "schema version %d\n", version)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tKIND\tSTORED\tSTATUS\tSOURCE")
	for _, r := range runs {
		status := "ok"
		switch {
		case !r.FinishedAt.Valid:
			status = "running"
		case !r.Success:
			status = "failed: " + r.ErrorMessage.String
		}
		stored := "-"
		if r.RecordsStored.Valid {
			stored = fmt.Sprintf("%d/%d", r.RecordsStored.Int64, r.RecordsRead.Int64)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.StartedAt.Format(time.RFC3339), r.Kind, stored, status, r.Source)
	}
	return tw.Flush()
}

type FetchCmd struct {
	URL string `arg:"" help:"http(s), ftp or file URL."`
	Out string `help:"Output file (default: last path element of the URL)." short:"o" type:"path"`
}

func (c *FetchCmd) Run(g *Globals) error {
	body, err := g.Fetcher.Fetch(g.Ctx, c.URL)
	if err != nil {
		return err
	}
	out := c.Out
	if out == "" {
		out = path.Base(strings.TrimRight(c.URL, "/"))
	}
	if err := os.WriteFile(out, body, 0o644); err != nil {
		return err
	}
	g.Logger.Info("fetched", "url", c.URL, "out", out, "bytes", len(body))
	return nil
}

type ChecksCmd struct {
	Framework string `arg:"" optional:"" help:"Framework to list (default: all)."`
}

func (c *ChecksCmd) Run(g *Globals) error {
	names := g.Registry.Names()
	if c.Framework != "" {
		names = []string{c.Framework}
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, name := range names {
		fw, err := g.Registry.Lookup(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\n", fw.Name())
		for _, check := range fw.Names() {
			ch, _ := fw.Check(check)
			fmt.Fprintf(tw, "  %s\t%s\trequires: %s\n", ch.Name, ch.Description, strings.Join(ch.Required, ", "))
		}
	}
	return tw.Flush()
}
