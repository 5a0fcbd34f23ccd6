package series

import (
	"math"
	"time"
)

// Offset shifts values by steps positions. Positive steps look ahead: out[i]
// holds values[i+steps], so a record stamped later than the real event lines
// up with it again. Positions shifted in from outside the record are NaN.
func Offset(values []float64, steps int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		j := i + steps
		if j < 0 || j >= len(values) {
			out[i] = math.NaN()
			continue
		}
		out[i] = values[j]
	}
	return out
}

// ReplaceSentinel returns a copy with the no-data sentinel, ±Inf and NaN all
// unified to NaN.
func ReplaceSentinel(values []float64, sentinel float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		if v == sentinel || math.IsInf(v, 0) {
			out[i] = math.NaN()
			continue
		}
		out[i] = v
	}
	return out
}

// YearGroup is the row indices falling in one calendar year.
type YearGroup struct {
	Year int
	Rows []int
}

// GroupByYear splits row indices by calendar year, in time order.
func GroupByYear(times []time.Time) []YearGroup {
	var out []YearGroup
	for i, t := range times {
		y := t.Year()
		if len(out) == 0 || out[len(out)-1].Year != y {
			out = append(out, YearGroup{Year: y})
		}
		out[len(out)-1].Rows = append(out[len(out)-1].Rows, i)
	}
	return out
}

// Run is a maximal block of consecutive rows [Start, End).
type Run struct {
	Start int
	End   int
}

func (r Run) Len() int { return r.End - r.Start }

// RunsWhere returns the maximal runs where mask is true. Run starts are the
// rows where mask switches from false to true.
func RunsWhere(mask []bool) []Run {
	var runs []Run
	for i := 0; i < len(mask); i++ {
		if !mask[i] || (i > 0 && mask[i-1]) {
			continue
		}
		j := i
		for j < len(mask) && mask[j] {
			j++
		}
		runs = append(runs, Run{Start: i, End: j})
	}
	return runs
}

// EqualRuns returns the maximal runs of consecutive identical non-missing
// values. Missing values end a run and never start one.
func EqualRuns(values []float64) []Run {
	var runs []Run
	for i := 0; i < len(values); {
		if math.IsNaN(values[i]) {
			i++
			continue
		}
		j := i + 1
		for j < len(values) && values[j] == values[i] {
			j++
		}
		runs = append(runs, Run{Start: i, End: j})
		i = j
	}
	return runs
}
