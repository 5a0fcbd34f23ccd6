// Package checks implements the rainfall QC rules: gauge-level sanity checks,
// comparisons against climate references and world records, neighbour
// comparisons, time-series pattern detectors and the PWS filters.
//
// Checks never modify their input frames. Per-timestep results use the
// models.Flag* convention: -1 unevaluated, 0 clean, positive values are
// increasing severity.
package checks

import (
	"errors"
	"fmt"

	"github.com/lox/rainfallqc/internal/models"
	"github.com/lox/rainfallqc/internal/series"
)

var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidGranularity = errors.New("invalid granularity")
)

// column fetches a value column, failing with a message naming the check.
func column(f *series.Frame, col string) ([]float64, error) {
	vals, err := f.Values(col)
	if err != nil {
		return nil, fmt.Errorf("target column: %w", err)
	}
	return vals, nil
}

// resolution detects the frame's resolution after checking its steps are
// consistent.
func resolution(f *series.Frame) (models.Resolution, error) {
	res, err := series.DetectResolution(f)
	if err != nil {
		return "", err
	}
	return res, nil
}

// requireSubDaily fails unless the frame is 15 minute or hourly.
func requireSubDaily(f *series.Frame, name string) (models.Resolution, error) {
	res, err := resolution(f)
	if err != nil {
		return "", err
	}
	if res != models.Resolution15Min && res != models.ResolutionHourly {
		return "", fmt.Errorf("%w: %s needs sub-daily data, got %s", ErrInvalidArgument, name, res)
	}
	return res, nil
}

// stepDays is the length of one step in days.
func stepDays(res models.Resolution) (float64, error) {
	step := res.Step()
	if step == 0 {
		return 0, fmt.Errorf("%w: %s data has no fixed step", ErrInvalidArgument, res)
	}
	return step.Hours() / 24, nil
}

func filledFlags(n, v int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// raiseTo sets flags[from:to] to at least v.
func raiseTo(flags []int, from, to, v int) {
	for i := from; i < to; i++ {
		if v > flags[i] {
			flags[i] = v
		}
	}
}
