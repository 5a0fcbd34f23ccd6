package ingest

import (
	"github.com/lox/rainfallqc/internal/models"
)

const (
	FlagStationIDMissing  = "station_id_missing"
	FlagLatitudeInvalid   = "latitude_invalid"
	FlagLongitudeInvalid  = "longitude_invalid"
	FlagRecordPeriodEmpty = "record_period_empty"
	FlagUnitsUnknown      = "units_unknown"
	FlagElevationUnlikely = "elevation_unlikely"
)

var knownUnits = map[string]bool{"": true, "mm": true, "in": true}

// ValidateGauge returns the problems found in a catalogue entry. Gauges
// with any flag are not usable for neighbour selection.
func ValidateGauge(g models.Gauge) []string {
	var flags []string

	if g.StationID == "" {
		flags = append(flags, FlagStationIDMissing)
	}

	if g.Latitude < -90 || g.Latitude > 90 {
		flags = append(flags, FlagLatitudeInvalid)
	}

	if g.Longitude < -180 || g.Longitude > 180 {
		flags = append(flags, FlagLongitudeInvalid)
	}

	if !g.Start.IsZero() && !g.End.IsZero() && !g.End.After(g.Start) {
		flags = append(flags, FlagRecordPeriodEmpty)
	}

	if !knownUnits[g.Units] {
		flags = append(flags, FlagUnitsUnknown)
	}

	// Dead Sea shore to Everest.
	if g.Elevation.Valid && (g.Elevation.Float64 < -450 || g.Elevation.Float64 > 8850) {
		flags = append(flags, FlagElevationUnlikely)
	}

	return flags
}
