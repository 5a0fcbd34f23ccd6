package framework

import (
	"fmt"
	"strconv"

	"github.com/lox/rainfallqc/internal/series"
)

// Result is what a check produced. The implementations are ScalarResult,
// SeriesResult and YearsResult.
type Result interface {
	isResult()
}

// ScalarResult is a single diagnostic value or flag.
type ScalarResult struct {
	Value float64
}

// SeriesResult is a frame holding the checked data, or its resampled
// totals, plus one or more flag columns.
type SeriesResult struct {
	Frame *series.Frame
	Flags []string // flag columns added by the check
}

// YearsResult lists the years a check found suspect.
type YearsResult struct {
	Years []int
}

func (ScalarResult) isResult() {}
func (SeriesResult) isResult() {}
func (YearsResult) isResult()  {}

// FlagCounts counts each flag value in the named column.
func (r SeriesResult) FlagCounts(col string) (map[int]int, error) {
	flags, err := r.Frame.Flags(col)
	if err != nil {
		return nil, err
	}
	out := map[int]int{}
	for _, f := range flags {
		out[f]++
	}
	return out, nil
}

// Summarize renders a one-line description of r.
func Summarize(r Result) string {
	switch r := r.(type) {
	case ScalarResult:
		return strconv.FormatFloat(r.Value, 'g', 6, 64)
	case SeriesResult:
		s := fmt.Sprintf("%d rows", r.Frame.Len())
		for _, col := range r.Flags {
			counts, err := r.FlagCounts(col)
			if err != nil {
				continue
			}
			flagged := 0
			for v, n := range counts {
				if v > 0 {
					flagged += n
				}
			}
			s += fmt.Sprintf(", %s: %d flagged, %d unevaluated", col, flagged, counts[-1])
		}
		return s
	case YearsResult:
		if len(r.Years) == 0 {
			return "no years"
		}
		return fmt.Sprintf("years %v", r.Years)
	}
	return fmt.Sprintf("unknown result %T", r)
}

func scalar(v float64, err error) (Result, error) {
	if err != nil {
		return nil, err
	}
	return ScalarResult{Value: v}, nil
}

func scalarInt(v int, err error) (Result, error) {
	if err != nil {
		return nil, err
	}
	return ScalarResult{Value: float64(v)}, nil
}

func years(y []int, err error) (Result, error) {
	if err != nil {
		return nil, err
	}
	return YearsResult{Years: y}, nil
}

type flagColumn struct {
	name  string
	flags []int
}

// flagged returns the target column of data with the flag columns attached.
func flagged(data *series.Frame, target string, cols ...flagColumn) (Result, error) {
	out, err := data.Select(target)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(cols))
	for _, c := range cols {
		if out, err = out.WithFlags(c.name, c.flags); err != nil {
			return nil, err
		}
		names = append(names, c.name)
	}
	return SeriesResult{Frame: out, Flags: names}, nil
}

// frameResult wraps a frame a check built itself.
func frameResult(f *series.Frame, err error) (Result, error) {
	if err != nil {
		return nil, err
	}
	var flags []string
	for _, c := range f.Columns() {
		if f.HasFlags(c) {
			flags = append(flags, c)
		}
	}
	return SeriesResult{Frame: f, Flags: flags}, nil
}
