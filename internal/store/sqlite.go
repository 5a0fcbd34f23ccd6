// Package store keeps the read-only reference data a QC run draws on: the
// gauge catalogue used to pick neighbours and the gridded climate indices
// used by the comparison checks.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lox/rainfallqc/internal/models"
)

type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// New wraps an open database. A nil logger uses slog.Default.
func New(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, log: logger.With("component", "store")}
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func upsertGauge(e execer, g models.Gauge) error {
	if g.StationID == "" {
		return fmt.Errorf("upsert gauge: empty station id")
	}
	_, err := e.Exec(`
		INSERT INTO gauges (station_id, name, latitude, longitude, record_start, record_end, units, elevation, no_data_value)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(station_id) DO UPDATE SET
			name = excluded.name,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			record_start = excluded.record_start,
			record_end = excluded.record_end,
			units = excluded.units,
			elevation = excluded.elevation,
			no_data_value = excluded.no_data_value
	`, g.StationID, g.Name, g.Latitude, g.Longitude, nullTime(g.Start), nullTime(g.End), g.Units, g.Elevation, g.NoDataValue)
	return err
}

// UpsertGauges writes all gauges in one transaction.
func (s *Store) UpsertGauges(gauges []models.Gauge) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	for _, g := range gauges {
		if err := upsertGauge(tx, g); err != nil {
			tx.Rollback()
			return fmt.Errorf("gauge %q: %w", g.StationID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.log.Info("gauges stored", "count", len(gauges))
	return nil
}

const gaugeColumns = `station_id, name, latitude, longitude, record_start, record_end, units, elevation, no_data_value`

// Gauges returns the whole catalogue ordered by station id.
func (s *Store) Gauges() ([]models.Gauge, error) {
	rows, err := s.db.Query(`SELECT ` + gaugeColumns + ` FROM gauges ORDER BY station_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var gauges []models.Gauge
	for rows.Next() {
		g, err := scanGauge(rows)
		if err != nil {
			return nil, err
		}
		gauges = append(gauges, g)
	}
	return gauges, rows.Err()
}

// Gauge returns one gauge, or nil if the catalogue has no such station.
func (s *Store) Gauge(stationID string) (*models.Gauge, error) {
	row := s.db.QueryRow(`SELECT `+gaugeColumns+` FROM gauges WHERE station_id = ?`, stationID)
	g, err := scanGauge(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGauge(row scanner) (models.Gauge, error) {
	var (
		g          models.Gauge
		name       sql.NullString
		units      sql.NullString
		start, end sql.NullTime
	)
	if err := row.Scan(&g.StationID, &name, &g.Latitude, &g.Longitude, &start, &end, &units, &g.Elevation, &g.NoDataValue); err != nil {
		return g, err
	}
	g.Name = name.String
	g.Units = units.String
	if start.Valid {
		g.Start = start.Time.UTC()
	}
	if end.Valid {
		g.End = end.Time.UTC()
	}
	return g, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
