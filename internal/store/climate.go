package store

import (
	"fmt"
	"strings"

	"github.com/lox/rainfallqc/internal/climate"
)

// SaveClimateGrid replaces every index present in g with g's cells. Indices
// not in g are left alone.
func (s *Store) SaveClimateGrid(g *climate.Grid) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	for _, idx := range g.Indices() {
		if _, err := tx.Exec(`DELETE FROM climate_cells WHERE idx = ?`, idx); err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("clear index %s: %w", idx, err)
		}
	}

	stmt, err := tx.Prepare(`INSERT INTO climate_cells (idx, lat, lon, year, value) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	defer stmt.Close()

	cells := g.Cells()
	for _, c := range cells {
		if _, err := stmt.Exec(c.Index, c.Lat, c.Lon, c.Year, c.Value); err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("insert %s cell (%g, %g, %d): %w", c.Index, c.Lat, c.Lon, c.Year, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	s.log.Info("climate grid stored", "indices", g.Indices(), "cells", len(cells))
	return len(cells), nil
}

// LoadClimateGrid rebuilds a grid from stored cells, restricted to the named
// indices when any are given. An empty table yields climate.ErrNoReference.
func (s *Store) LoadClimateGrid(indices ...string) (*climate.Grid, error) {
	query := `SELECT idx, lat, lon, year, value FROM climate_cells`
	args := make([]any, len(indices))
	if len(indices) > 0 {
		query += ` WHERE idx IN (?` + strings.Repeat(", ?", len(indices)-1) + `)`
		for i, idx := range indices {
			args[i] = idx
		}
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cells []climate.Cell
	for rows.Next() {
		var c climate.Cell
		if err := rows.Scan(&c.Index, &c.Lat, &c.Lon, &c.Year, &c.Value); err != nil {
			return nil, err
		}
		cells = append(cells, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return climate.FromCells(cells)
}
