package store

import (
	"database/sql"
	"errors"
	"math"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lox/rainfallqc/internal/climate"
	"github.com/lox/rainfallqc/internal/models"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	// Each :memory: connection is its own database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store := New(db, nil)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestMigrateIsIdempotent(t *testing.T) {
	store := setupTestStore(t)
	if err := store.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	v, err := store.MigrationVersion()
	if err != nil {
		t.Fatalf("MigrationVersion: %v", err)
	}
	if v != len(migrations) {
		t.Errorf("version = %d, want %d", v, len(migrations))
	}
}

func TestUpsertAndGetGauge(t *testing.T) {
	store := setupTestStore(t)

	gauge := models.Gauge{
		StationID:   "DE_00044",
		Name:        "Grossenkneten",
		Latitude:    52.9336,
		Longitude:   8.237,
		Start:       time.Date(1981, 1, 1, 0, 0, 0, 0, time.UTC),
		End:         time.Date(2010, 12, 31, 0, 0, 0, 0, time.UTC),
		Units:       "mm",
		Elevation:   sql.NullFloat64{Float64: 44, Valid: true},
		NoDataValue: sql.NullFloat64{Float64: -999, Valid: true},
	}
	if err := store.UpsertGauges([]models.Gauge{gauge}); err != nil {
		t.Fatalf("UpsertGauges: %v", err)
	}

	got, err := store.Gauge("DE_00044")
	if err != nil {
		t.Fatalf("Gauge: %v", err)
	}
	if got == nil {
		t.Fatal("Gauge returned nil")
	}
	if got.Name != gauge.Name || got.Latitude != gauge.Latitude || got.Longitude != gauge.Longitude {
		t.Errorf("got %+v, want %+v", *got, gauge)
	}
	if !got.Start.Equal(gauge.Start) || !got.End.Equal(gauge.End) {
		t.Errorf("record period = %v..%v, want %v..%v", got.Start, got.End, gauge.Start, gauge.End)
	}
	if got.NoDataValue != gauge.NoDataValue {
		t.Errorf("NoDataValue = %+v, want %+v", got.NoDataValue, gauge.NoDataValue)
	}

	missing, err := store.Gauge("NOPE")
	if err != nil {
		t.Fatalf("Gauge(NOPE): %v", err)
	}
	if missing != nil {
		t.Errorf("Gauge(NOPE) = %+v, want nil", missing)
	}
}

func TestUpsertGauge_Update(t *testing.T) {
	store := setupTestStore(t)

	if err := store.UpsertGauges([]models.Gauge{{StationID: "G1", Name: "Original"}}); err != nil {
		t.Fatalf("UpsertGauges: %v", err)
	}
	if err := store.UpsertGauges([]models.Gauge{{StationID: "G1", Name: "Renamed"}}); err != nil {
		t.Fatalf("UpsertGauges update: %v", err)
	}

	gauges, err := store.Gauges()
	if err != nil {
		t.Fatalf("Gauges: %v", err)
	}
	if len(gauges) != 1 {
		t.Fatalf("len(gauges) = %d, want 1", len(gauges))
	}
	if gauges[0].Name != "Renamed" {
		t.Errorf("Name = %q, want Renamed", gauges[0].Name)
	}
	if !gauges[0].Start.IsZero() || gauges[0].Elevation.Valid {
		t.Errorf("unset fields should stay empty, got %+v", gauges[0])
	}
}

func TestUpsertGauges_RollsBack(t *testing.T) {
	store := setupTestStore(t)

	err := store.UpsertGauges([]models.Gauge{{StationID: "A"}, {StationID: ""}})
	if err == nil {
		t.Fatal("expected error for empty station id")
	}
	gauges, err := store.Gauges()
	if err != nil {
		t.Fatalf("Gauges: %v", err)
	}
	if len(gauges) != 0 {
		t.Errorf("len(gauges) = %d, want 0 after rollback", len(gauges))
	}

	if err := store.UpsertGauges([]models.Gauge{{StationID: "B"}, {StationID: "A"}}); err != nil {
		t.Fatalf("UpsertGauges: %v", err)
	}
	gauges, _ = store.Gauges()
	if len(gauges) != 2 || gauges[0].StationID != "A" {
		t.Errorf("gauges = %+v, want A then B", gauges)
	}
}

func testGrid(t *testing.T) *climate.Grid {
	t.Helper()
	nan := math.NaN()
	g, err := climate.NewGrid([]float64{50, 51}, []float64{0, 1}, []int{2000, 2001})
	if err != nil {
		t.Fatal(err)
	}
	if err := g.SetIndex(models.IndexRx1day, [][][]float64{
		{{40, 55}, {nan, nan}},
		{{30, 35}, {20, nan}},
	}); err != nil {
		t.Fatal(err)
	}
	if err := g.SetIndex(models.IndexSDII, [][][]float64{
		{{4, 5}, {nan, nan}},
		{{3, 3}, {2, 2}},
	}); err != nil {
		t.Fatal(err)
	}
	return g
}

func TestClimateGridRoundTrip(t *testing.T) {
	store := setupTestStore(t)

	n, err := store.SaveClimateGrid(testGrid(t))
	if err != nil {
		t.Fatalf("SaveClimateGrid: %v", err)
	}
	if n != 11 {
		t.Errorf("stored %d cells, want 11", n)
	}

	g, err := store.LoadClimateGrid()
	if err != nil {
		t.Fatalf("LoadClimateGrid: %v", err)
	}
	vals, err := g.Local(models.IndexRx1day, 50, 0, climate.DefaultMaxDistanceKm)
	if err != nil {
		t.Fatalf("Local: %v", err)
	}
	if vals[0] != 40 || vals[1] != 55 {
		t.Errorf("Rx1day at (50, 0) = %v, want [40 55]", vals)
	}

	only, err := store.LoadClimateGrid(models.IndexSDII)
	if err != nil {
		t.Fatalf("LoadClimateGrid(SDII): %v", err)
	}
	if idx := only.Indices(); len(idx) != 1 || idx[0] != models.IndexSDII {
		t.Errorf("indices = %v, want [SDII]", idx)
	}
}

func TestSaveClimateGrid_ReplacesIndex(t *testing.T) {
	store := setupTestStore(t)
	if _, err := store.SaveClimateGrid(testGrid(t)); err != nil {
		t.Fatal(err)
	}

	g, err := climate.NewGrid([]float64{50}, []float64{0}, []int{2000})
	if err != nil {
		t.Fatal(err)
	}
	if err := g.SetIndex(models.IndexRx1day, [][][]float64{{{99}}}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.SaveClimateGrid(g); err != nil {
		t.Fatalf("SaveClimateGrid: %v", err)
	}

	back, err := store.LoadClimateGrid(models.IndexRx1day)
	if err != nil {
		t.Fatal(err)
	}
	if cells := back.Cells(); len(cells) != 1 || cells[0].Value != 99 {
		t.Errorf("Rx1day cells = %+v, want one cell of 99", cells)
	}
	sdii, err := store.LoadClimateGrid(models.IndexSDII)
	if err != nil {
		t.Fatal(err)
	}
	if len(sdii.Cells()) != 6 {
		t.Errorf("SDII cells = %d, want 6 untouched", len(sdii.Cells()))
	}
}

func TestLoadClimateGrid_Empty(t *testing.T) {
	store := setupTestStore(t)
	_, err := store.LoadClimateGrid()
	if !errors.Is(err, climate.ErrNoReference) {
		t.Errorf("err = %v, want ErrNoReference", err)
	}
}

func TestImportRuns(t *testing.T) {
	store := setupTestStore(t)
	payload := []byte("station_id,latitude,longitude\nA,52,0\n")

	run, err := store.StartImportRun("gauges", "gauges.csv", payload)
	if err != nil {
		t.Fatalf("StartImportRun: %v", err)
	}
	done, err := store.AlreadyImported("gauges", PayloadHash(payload))
	if err != nil {
		t.Fatal(err)
	}
	if done {
		t.Error("unfinished run should not count as imported")
	}

	run.RecordsRead = sql.NullInt64{Int64: 1, Valid: true}
	run.RecordsStored = sql.NullInt64{Int64: 1, Valid: true}
	if err := store.CompleteImportRun(run, nil); err != nil {
		t.Fatalf("CompleteImportRun: %v", err)
	}
	done, err = store.AlreadyImported("gauges", PayloadHash(payload))
	if err != nil {
		t.Fatal(err)
	}
	if !done {
		t.Error("completed run should count as imported")
	}
	if done, _ := store.AlreadyImported("climate", PayloadHash(payload)); done {
		t.Error("hash is scoped by kind")
	}

	failed, err := store.StartImportRun("climate", "cells.csv", []byte("bad"))
	if err != nil {
		t.Fatal(err)
	}
	if err := store.CompleteImportRun(failed, errors.New("parse error")); err != nil {
		t.Fatal(err)
	}

	runs, err := store.RecentImportRuns(10)
	if err != nil {
		t.Fatalf("RecentImportRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("len(runs) = %d, want 2", len(runs))
	}
	if runs[0].Kind != "climate" || runs[0].Success || runs[0].ErrorMessage.String != "parse error" {
		t.Errorf("newest run = %+v, want failed climate import", runs[0])
	}
	if !runs[1].Success || runs[1].RecordsStored.Int64 != 1 {
		t.Errorf("oldest run = %+v, want successful gauges import", runs[1])
	}
}
