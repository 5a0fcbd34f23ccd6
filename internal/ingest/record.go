package ingest

import (
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/lox/rainfallqc/internal/climate"
	"github.com/lox/rainfallqc/internal/models"
	"github.com/lox/rainfallqc/internal/series"
)

var ErrMalformed = errors.New("malformed input")

var timeLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"}

// ParseTime accepts RFC3339, "2006-01-02 15:04:05" or a bare date. Times
// without a zone are UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: timestamp %q", ErrMalformed, s)
}

// parseValue maps empty and NaN cells to NaN.
func parseValue(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "nan") || strings.EqualFold(s, "na") {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

// ReadRecord parses a CSV gauge record with header time,<col>,... into a
// frame. Cells equal to noData become NaN.
func ReadRecord(r io.Reader, noData sql.NullFloat64) (*series.Frame, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrMalformed, err)
	}
	if len(header) < 2 || !strings.EqualFold(strings.TrimSpace(header[0]), "time") {
		return nil, fmt.Errorf("%w: header must be time,<column>,... got %v", ErrMalformed, header)
	}
	names := make([]string, len(header)-1)
	seen := map[string]bool{}
	for i, h := range header[1:] {
		h = strings.TrimSpace(h)
		if h == "" || seen[h] {
			return nil, fmt.Errorf("%w: column %d name %q is empty or repeated", ErrMalformed, i+2, h)
		}
		seen[h] = true
		names[i] = h
	}

	var times []time.Time
	cols := make([][]float64, len(names))
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		t, err := ParseTime(rec[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		times = append(times, t)
		for i := range names {
			v, err := parseValue(rec[i+1])
			if err != nil {
				return nil, fmt.Errorf("%w: line %d column %s: %q", ErrMalformed, line, names[i], rec[i+1])
			}
			cols[i] = append(cols[i], v)
		}
	}
	if noData.Valid {
		for i := range cols {
			cols[i] = series.ReplaceSentinel(cols[i], noData.Float64)
		}
	}
	return series.FromColumns(times, names, cols...)
}

// WriteFrame writes f as CSV in the ReadRecord layout. Missing values are
// empty cells and flag columns are written as integers.
func WriteFrame(w io.Writer, f *series.Frame) error {
	cw := csv.NewWriter(w)
	cols := f.Columns()
	if err := cw.Write(append([]string{"time"}, cols...)); err != nil {
		return err
	}

	values := make([][]float64, len(cols))
	flags := make([][]int, len(cols))
	for i, c := range cols {
		if f.HasFlags(c) {
			flags[i], _ = f.Flags(c)
			continue
		}
		values[i], _ = f.Values(c)
	}

	row := make([]string, len(cols)+1)
	for r := 0; r < f.Len(); r++ {
		row[0] = f.Time(r).Format(time.RFC3339)
		for i := range cols {
			switch {
			case flags[i] != nil:
				row[i+1] = strconv.Itoa(flags[i][r])
			case math.IsNaN(values[i][r]):
				row[i+1] = ""
			default:
				row[i+1] = strconv.FormatFloat(values[i][r], 'g', -1, 64)
			}
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// table reads a headed CSV into rows keyed by lower-cased column name.
func table(r io.Reader, required ...string) ([]map[string]string, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrMalformed, err)
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}
	for _, req := range required {
		if !slices.Contains(header, req) {
			return nil, fmt.Errorf("%w: missing column %q", ErrMalformed, req)
		}
	}

	var rows []map[string]string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		row := make(map[string]string, len(header))
		for i, h := range header {
			row[h] = strings.TrimSpace(rec[i])
		}
		rows = append(rows, row)
	}
}

func optionalFloat(s string) (sql.NullFloat64, error) {
	if s == "" {
		return sql.NullFloat64{}, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return sql.NullFloat64{}, err
	}
	return sql.NullFloat64{Float64: v, Valid: true}, nil
}

// ReadGauges parses a gauge catalogue CSV. station_id, latitude and
// longitude are required; name, start, end, units, elevation and
// no_data_value are optional.
func ReadGauges(r io.Reader) ([]models.Gauge, error) {
	rows, err := table(r, "station_id", "latitude", "longitude")
	if err != nil {
		return nil, err
	}
	gauges := make([]models.Gauge, 0, len(rows))
	for i, row := range rows {
		line := i + 2
		g := models.Gauge{StationID: row["station_id"], Name: row["name"], Units: row["units"]}
		if g.Latitude, err = strconv.ParseFloat(row["latitude"], 64); err != nil {
			return nil, fmt.Errorf("%w: line %d latitude %q", ErrMalformed, line, row["latitude"])
		}
		if g.Longitude, err = strconv.ParseFloat(row["longitude"], 64); err != nil {
			return nil, fmt.Errorf("%w: line %d longitude %q", ErrMalformed, line, row["longitude"])
		}
		if s := row["start"]; s != "" {
			if g.Start, err = ParseTime(s); err != nil {
				return nil, fmt.Errorf("line %d start: %w", line, err)
			}
		}
		if s := row["end"]; s != "" {
			if g.End, err = ParseTime(s); err != nil {
				return nil, fmt.Errorf("line %d end: %w", line, err)
			}
		}
		if g.Elevation, err = optionalFloat(row["elevation"]); err != nil {
			return nil, fmt.Errorf("%w: line %d elevation %q", ErrMalformed, line, row["elevation"])
		}
		if g.NoDataValue, err = optionalFloat(row["no_data_value"]); err != nil {
			return nil, fmt.Errorf("%w: line %d no_data_value %q", ErrMalformed, line, row["no_data_value"])
		}
		gauges = append(gauges, g)
	}
	return gauges, nil
}

// ReadClimateCells parses index,lat,lon,year,value rows. Missing values
// are skipped, matching climate.Grid.Cells.
func ReadClimateCells(r io.Reader) ([]climate.Cell, error) {
	rows, err := table(r, "index", "lat", "lon", "year", "value")
	if err != nil {
		return nil, err
	}
	cells := make([]climate.Cell, 0, len(rows))
	for i, row := range rows {
		line := i + 2
		c := climate.Cell{Index: row["index"]}
		lat, errLat := strconv.ParseFloat(row["lat"], 64)
		lon, errLon := strconv.ParseFloat(row["lon"], 64)
		year, errYear := strconv.Atoi(row["year"])
		val, errVal := parseValue(row["value"])
		if err := errors.Join(errLat, errLon, errYear, errVal); err != nil || c.Index == "" {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformed, line, row)
		}
		if math.IsNaN(val) {
			continue
		}
		c.Lat, c.Lon, c.Year, c.Value = lat, lon, year, val
		cells = append(cells, c)
	}
	return cells, nil
}
