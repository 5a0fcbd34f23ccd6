package series

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrColumnNotFound = errors.New("column not found")
	ErrLengthMismatch = errors.New("column length does not match time index")
	ErrUnsortedTime   = errors.New("time index is not strictly ascending")
)

// Frame is an ordered table keyed by a timestamp index. Value columns hold
// rainfall amounts with NaN marking missing data; flag columns hold integer
// QC flags. A Frame is never modified after construction: the With* methods
// return a new Frame that shares the untouched columns.
type Frame struct {
	times  []time.Time
	names  []string
	values map[string][]float64
	flags  map[string][]int
}

// New builds an empty Frame over the given timestamps, which must be strictly
// ascending (no duplicates).
func New(times []time.Time) (*Frame, error) {
	for i := 1; i < len(times); i++ {
		if !times[i].After(times[i-1]) {
			return nil, fmt.Errorf("%w: %s follows %s", ErrUnsortedTime, times[i].Format(time.RFC3339), times[i-1].Format(time.RFC3339))
		}
	}
	ts := make([]time.Time, len(times))
	copy(ts, times)
	return &Frame{
		times:  ts,
		values: map[string][]float64{},
		flags:  map[string][]int{},
	}, nil
}

// FromColumns is a convenience constructor for a Frame with value columns
// added in the given order.
func FromColumns(times []time.Time, names []string, cols ...[]float64) (*Frame, error) {
	if len(names) != len(cols) {
		return nil, fmt.Errorf("got %d names for %d columns", len(names), len(cols))
	}
	f, err := New(times)
	if err != nil {
		return nil, err
	}
	for i, name := range names {
		if f, err = f.WithValues(name, cols[i]); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func (f *Frame) Len() int { return len(f.times) }

// Times returns a copy of the time index.
func (f *Frame) Times() []time.Time {
	out := make([]time.Time, len(f.times))
	copy(out, f.times)
	return out
}

func (f *Frame) Time(i int) time.Time { return f.times[i] }

// Columns returns all column names, values and flags, in insertion order.
func (f *Frame) Columns() []string {
	out := make([]string, len(f.names))
	copy(out, f.names)
	return out
}

func (f *Frame) HasValues(name string) bool {
	_, ok := f.values[name]
	return ok
}

func (f *Frame) HasFlags(name string) bool {
	_, ok := f.flags[name]
	return ok
}

// Values returns a copy of a value column.
func (f *Frame) Values(name string) ([]float64, error) {
	col, ok := f.values[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrColumnNotFound, name)
	}
	out := make([]float64, len(col))
	copy(out, col)
	return out, nil
}

// Flags returns a copy of a flag column.
func (f *Frame) Flags(name string) ([]int, error) {
	col, ok := f.flags[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrColumnNotFound, name)
	}
	out := make([]int, len(col))
	copy(out, col)
	return out, nil
}

// WithValues returns a new Frame with the value column set (added or replaced).
func (f *Frame) WithValues(name string, vals []float64) (*Frame, error) {
	if len(vals) != len(f.times) {
		return nil, fmt.Errorf("%w: %q has %d rows, index has %d", ErrLengthMismatch, name, len(vals), len(f.times))
	}
	if _, ok := f.flags[name]; ok {
		return nil, fmt.Errorf("column %q already exists as a flag column", name)
	}
	out := f.shallowCopy()
	col := make([]float64, len(vals))
	copy(col, vals)
	if _, ok := out.values[name]; !ok {
		out.names = append(out.names, name)
	}
	out.values[name] = col
	return out, nil
}

// WithFlags returns a new Frame with the flag column set (added or replaced).
func (f *Frame) WithFlags(name string, flags []int) (*Frame, error) {
	if len(flags) != len(f.times) {
		return nil, fmt.Errorf("%w: %q has %d rows, index has %d", ErrLengthMismatch, name, len(flags), len(f.times))
	}
	if _, ok := f.values[name]; ok {
		return nil, fmt.Errorf("column %q already exists as a value column", name)
	}
	out := f.shallowCopy()
	col := make([]int, len(flags))
	copy(col, flags)
	if _, ok := out.flags[name]; !ok {
		out.names = append(out.names, name)
	}
	out.flags[name] = col
	return out, nil
}

// Select returns a Frame restricted to the named columns.
func (f *Frame) Select(names ...string) (*Frame, error) {
	out := &Frame{
		times:  f.times,
		values: map[string][]float64{},
		flags:  map[string][]int{},
	}
	for _, n := range names {
		switch {
		case f.values[n] != nil:
			out.values[n] = f.values[n]
		case f.flags[n] != nil:
			out.flags[n] = f.flags[n]
		default:
			return nil, fmt.Errorf("%w: %q", ErrColumnNotFound, n)
		}
		out.names = append(out.names, n)
	}
	return out, nil
}

// CountMissing returns the number of NaN rows in a value column.
func (f *Frame) CountMissing(name string) (int, error) {
	col, ok := f.values[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrColumnNotFound, name)
	}
	n := 0
	for _, v := range col {
		if math.IsNaN(v) {
			n++
		}
	}
	return n, nil
}

func (f *Frame) shallowCopy() *Frame {
	out := &Frame{
		times:  f.times,
		names:  append([]string(nil), f.names...),
		values: make(map[string][]float64, len(f.values)+1),
		flags:  make(map[string][]int, len(f.flags)+1),
	}
	for n, c := range f.values {
		out.values[n] = c
	}
	for n, c := range f.flags {
		out.flags[n] = c
	}
	return out
}

// ColumnName namespaces a rain column by gauge id, e.g. "rain_mm_DE_02483".
func ColumnName(prefix, stationID string) string {
	if prefix == "" {
		return stationID
	}
	return prefix + "_" + stationID
}
