// Package config loads YAML run files for the rainfallqc command.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lox/rainfallqc/internal/framework"
)

var ErrInvalid = errors.New("invalid run configuration")

const (
	DefaultNeighbourCount    = 10
	DefaultNeighbourRadiusKm = 50.0
	DefaultMinOverlapDays    = 3 * 365
	DefaultNeighbourPrefix   = "rain_mm"
)

// Run describes one QC run: which framework and checks to apply to which
// record, and how to bind their options.
type Run struct {
	Name        string           `yaml:"name,omitempty"`
	Framework   string           `yaml:"framework"`
	Methods     []string         `yaml:"methods,omitempty"`
	OnFail      string           `yaml:"on_fail,omitempty"` // error (default) or continue
	Data        string           `yaml:"data"`              // path or URL of the target record CSV
	NoDataValue *float64         `yaml:"no_data_value,omitempty"`
	Database    string           `yaml:"database,omitempty"` // reference store for climate grids and gauges
	Output      string           `yaml:"output,omitempty"`   // directory for per-check flag CSVs
	Neighbours  *Neighbours      `yaml:"neighbours,omitempty"`
	Kwargs      framework.Kwargs `yaml:"kwargs,omitempty"`
}

// Neighbours selects and joins neighbouring gauge records from the
// catalogue. Records maps station id to a path or URL; each record's value
// column is taken from Column.
type Neighbours struct {
	Target         string            `yaml:"target"`
	Column         string            `yaml:"column"`
	Records        map[string]string `yaml:"records"`
	Count          int               `yaml:"count,omitempty"`
	MaxDistanceKm  float64           `yaml:"max_distance_km,omitempty"`
	MinOverlapDays int               `yaml:"min_overlap_days,omitempty"`
	Prefix         string            `yaml:"prefix,omitempty"`
}

// Load reads and validates a run file.
func Load(path string) (*Run, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	run, err := Parse(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if run.Name == "" {
		run.Name = path
	}
	return run, nil
}

// Parse decodes a run file. Unknown top-level keys are an error.
func Parse(r io.Reader) (*Run, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var run Run
	if err := dec.Decode(&run); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty file", ErrInvalid)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	run.applyDefaults()
	if err := run.Validate(); err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *Run) applyDefaults() {
	if n := r.Neighbours; n != nil {
		if n.Count == 0 {
			n.Count = DefaultNeighbourCount
		}
		if n.MaxDistanceKm == 0 {
			n.MaxDistanceKm = DefaultNeighbourRadiusKm
		}
		if n.MinOverlapDays == 0 {
			n.MinOverlapDays = DefaultMinOverlapDays
		}
		if n.Prefix == "" {
			n.Prefix = DefaultNeighbourPrefix
		}
	}
}

// Validate checks the parts of a run that do not need the data. Option
// binding is left to the framework runner.
func (r *Run) Validate() error {
	var errs []error
	if r.Framework == "" {
		errs = append(errs, errors.New("framework is required"))
	}
	if r.Data == "" && r.Neighbours == nil {
		errs = append(errs, errors.New("data is required"))
	}
	if _, err := r.Policy(); err != nil {
		errs = append(errs, err)
	}
	if n := r.Neighbours; n != nil {
		if r.Database == "" {
			errs = append(errs, errors.New("neighbours needs a database holding the gauge catalogue"))
		}
		if n.Target == "" {
			errs = append(errs, errors.New("neighbours.target is required"))
		}
		if n.Column == "" {
			errs = append(errs, errors.New("neighbours.column is required"))
		}
		if _, ok := n.Records[n.Target]; !ok && r.Data == "" {
			errs = append(errs, fmt.Errorf("neighbours.records has no entry for target %q and data is empty", n.Target))
		}
		if n.Count < 1 || n.MaxDistanceKm <= 0 || n.MinOverlapDays < 0 {
			errs = append(errs, fmt.Errorf("neighbours: count %d, max_distance_km %g, min_overlap_days %d out of range",
				n.Count, n.MaxDistanceKm, n.MinOverlapDays))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Policy is the runner failure policy named by on_fail.
func (r *Run) Policy() (framework.FailurePolicy, error) {
	return framework.ParsePolicy(r.OnFail)
}

// TargetRecord is where the target gauge's record comes from: Data, or the
// target's entry in neighbours.records.
func (r *Run) TargetRecord() string {
	if r.Data != "" {
		return r.Data
	}
	if r.Neighbours != nil {
		return r.Neighbours.Records[r.Neighbours.Target]
	}
	return ""
}
