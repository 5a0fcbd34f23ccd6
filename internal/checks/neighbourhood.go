package checks

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/lox/rainfallqc/internal/models"
	"github.com/lox/rainfallqc/internal/neighbour"
	"github.com/lox/rainfallqc/internal/series"
	"github.com/lox/rainfallqc/internal/stats"
)

// Percentiles of the fitted normalised-difference distribution that bound
// neighbour flags 1, 2 and 3.
var neighbourCutoffs = []float64{0.95, 0.99, 0.999}

// DefaultMonthlyFactor is the target/neighbour monthly ratio at which
// MonthlyNeighbourFactor starts flagging.
const DefaultMonthlyFactor = 2.0

// Voting gates how per-neighbour flags are fused.
type Voting struct {
	MinNeighbours int // fewer online neighbours than this gives 0
	Ignored       int // lowest flags dropped before voting
}

// MajorityVote fuses per-neighbour flag vectors (negative = neighbour
// offline) into one. At each step the online flags are sorted, the Ignored
// lowest are dropped, and the result is the highest level held by a strict
// majority of the remainder. Steps with fewer than MinNeighbours online are
// 0.
func MajorityVote(perNeighbour [][]int, v Voting) []int {
	if len(perNeighbour) == 0 {
		return nil
	}
	n := len(perNeighbour[0])
	out := make([]int, n)
	online := make([]int, 0, len(perNeighbour))
	for i := 0; i < n; i++ {
		online = online[:0]
		for _, flags := range perNeighbour {
			if flags[i] >= 0 {
				online = append(online, flags[i])
			}
		}
		if len(online) == 0 || len(online) < v.MinNeighbours || v.Ignored >= len(online) {
			continue
		}
		sort.Ints(online)
		kept := online[v.Ignored:]
		// kept is ascending, so the highest level held by a strict majority
		// is the value at the lower median position.
		out[i] = kept[(len(kept)-1)/2]
	}
	return out
}

// OnlineNeighbourCount counts, per step, the neighbour columns holding a
// value.
func OnlineNeighbourCount(f *series.Frame, target string, cols []string) ([]int, error) {
	nbs, err := neighbourValues(f, target, cols)
	if err != nil {
		return nil, err
	}
	out := make([]int, f.Len())
	for _, vals := range nbs {
		for i, v := range vals {
			if !math.IsNaN(v) {
				out[i]++
			}
		}
	}
	return out, nil
}

// WetNeighbours flags steps where the target is wet (>= wetThreshold) by
// much more than its neighbours. For each neighbour the normalised
// difference target-neighbour on wet steps is fitted with an exponential
// and banded at its 95th, 99th and 99.9th percentiles. Neighbour flags are
// then fused with MajorityVote.
func WetNeighbours(f *series.Frame, target string, cols []string, wetThreshold float64, v Voting) ([]int, error) {
	tv, err := column(f, target)
	if err != nil {
		return nil, err
	}
	nbs, err := neighbourValues(f, target, cols)
	if err != nil {
		return nil, err
	}
	zt := stats.Normalize(tv)
	wet := wetMask(tv, wetThreshold)

	per := make([][]int, 0, len(nbs))
	for _, nv := range nbs {
		zn := stats.Normalize(nv)
		diff := make([]float64, len(tv))
		for i := range diff {
			diff[i] = zt[i] - zn[i]
		}
		per = append(per, bandDifferences(diff, wet))
	}
	return MajorityVote(per, v), nil
}

// wetMask marks steps at or above wetThreshold, the same rule
// stats.SimplePrecipitationIntensityIndex uses. Missing steps are not wet.
func wetMask(values []float64, wetThreshold float64) []bool {
	wet := make([]bool, len(values))
	for i, x := range values {
		wet[i] = x >= wetThreshold
	}
	return wet
}

// DryNeighbours flags dry spells of the target that its neighbours do not
// share. A step qualifies when the target has been dry for the whole of the
// preceding dryPeriodDays; there the normalised difference of neighbour and
// target totals over that period is banded as in WetNeighbours. Fused flags
// are spread back over the dry period they describe.
func DryNeighbours(f *series.Frame, target string, cols []string, dryPeriodDays int, v Voting) ([]int, error) {
	res, err := resolution(f)
	if err != nil {
		return nil, err
	}
	perDay := res.StepsPerDay()
	if perDay == 0 {
		return nil, fmt.Errorf("%w: dry neighbour check needs daily or finer data", ErrInvalidArgument)
	}
	window := dryPeriodDays * perDay
	marked, err := MarkDry(f, target)
	if err != nil {
		return nil, err
	}
	frac, err := stats.DryFraction(marked, dryPeriodDays, perDay)
	if err != nil {
		return nil, err
	}
	tv, err := column(f, target)
	if err != nil {
		return nil, err
	}
	nbs, err := neighbourValues(f, target, cols)
	if err != nil {
		return nil, err
	}

	qualifying := make([]bool, len(frac))
	for i, x := range frac {
		qualifying[i] = x == 1
	}
	zt := stats.Normalize(rollingSum(tv, window))
	per := make([][]int, 0, len(nbs))
	for _, nv := range nbs {
		zn := stats.Normalize(rollingSum(nv, window))
		diff := make([]float64, len(tv))
		for i := range diff {
			diff[i] = zn[i] - zt[i]
		}
		per = append(per, bandDifferences(diff, qualifying))
	}

	fused := MajorityVote(per, v)
	out := make([]int, len(fused))
	for i, flag := range fused {
		if flag > 0 {
			raiseTo(out, i-window+1, i+1, flag)
		}
	}
	return out, nil
}

// bandDifferences fits the strictly positive differences at the selected
// steps and bands each selected step by the fitted cutoffs. Unselected steps
// are 0, steps with a missing difference are unevaluated. If too few positive
// differences exist to fit, the neighbour is offline everywhere.
func bandDifferences(diff []float64, selected []bool) []int {
	var sample []float64
	for i, d := range diff {
		if selected[i] && d > 0 {
			sample = append(sample, d)
		}
	}
	cut, err := stats.FitExponentialPercentiles(sample, neighbourCutoffs)
	if err != nil {
		return filledFlags(len(diff), models.FlagUnevaluated)
	}

	flags := make([]int, len(diff))
	for i, d := range diff {
		switch {
		case math.IsNaN(d):
			flags[i] = models.FlagUnevaluated
		case !selected[i]:
			flags[i] = models.FlagNone
		case d >= cut[0.999]:
			flags[i] = 3
		case d >= cut[0.99]:
			flags[i] = 2
		case d >= cut[0.95]:
			flags[i] = 1
		}
	}
	return flags
}

// rollingSum sums a trailing window ending at each step. Windows that are
// incomplete or hold a missing value are NaN.
func rollingSum(x []float64, window int) []float64 {
	out := make([]float64, len(x))
	var sum float64
	missing := 0
	for i, v := range x {
		if math.IsNaN(v) {
			missing++
		} else {
			sum += v
		}
		if i >= window {
			if old := x[i-window]; math.IsNaN(old) {
				missing--
			} else {
				sum -= old
			}
		}
		if i < window-1 || missing > 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = sum
	}
	return out
}

// TimingOffset searches offsets -maxOffset..maxOffset of other against target
// and returns the one giving the highest wet/dry affinity. Ties go to the
// smallest shift, so 0 means the records are aligned.
func TimingOffset(target, other []float64, maxOffset int) (int, error) {
	if maxOffset < 0 {
		return 0, fmt.Errorf("%w: max offset must not be negative, got %d", ErrInvalidArgument, maxOffset)
	}
	best, bestK := math.Inf(-1), 0
	for _, k := range offsetsByDistance(maxOffset) {
		aff, _ := stats.AffinityIndex(target, series.Offset(other, k), 0)
		if !math.IsNaN(aff) && aff > best {
			best, bestK = aff, k
		}
	}
	if math.IsInf(best, -1) {
		return 0, fmt.Errorf("%w: no overlapping steps at any offset", stats.ErrInsufficientData)
	}
	return bestK, nil
}

// offsetsByDistance lists 0, -1, 1, -2, 2, ... up to limit.
func offsetsByDistance(limit int) []int {
	out := []int{0}
	for k := 1; k <= limit; k++ {
		out = append(out, -k, k)
	}
	return out
}

// NeighbourTimingOffset runs TimingOffset on the daily totals of target and
// its nearest neighbour.
func NeighbourTimingOffset(f *series.Frame, target, nearest string, maxOffset int) (int, error) {
	t, o, err := dailyPair(f, target, nearest)
	if err != nil {
		return 0, err
	}
	return TimingOffset(t, o, maxOffset)
}

// NeighbourAffinity is the wet/dry agreement rate of daily totals between
// target and its nearest neighbour.
func NeighbourAffinity(f *series.Frame, target, nearest string) (float64, error) {
	t, o, err := dailyPair(f, target, nearest)
	if err != nil {
		return math.NaN(), err
	}
	aff, counts := stats.AffinityIndex(t, o, 0)
	if counts.Match+counts.Mismatch == 0 {
		return math.NaN(), fmt.Errorf("%w: %s and %s share no days", stats.ErrInsufficientData, target, nearest)
	}
	return aff, nil
}

// NeighbourCorrelation is the Pearson correlation of daily totals between
// target and its nearest neighbour.
func NeighbourCorrelation(f *series.Frame, target, nearest string) (float64, error) {
	t, o, err := dailyPair(f, target, nearest)
	if err != nil {
		return math.NaN(), err
	}
	return stats.Correlation(t, o)
}

// DailyFactorDiff averages the target/neighbour ratio of daily totals.
func DailyFactorDiff(f *series.Frame, target, nearest string, method stats.Averaging) (float64, error) {
	t, o, err := dailyPair(f, target, nearest)
	if err != nil {
		return math.NaN(), err
	}
	return stats.FactorDiff(t, o, method)
}

// MonthlyFactorDiff averages the target/neighbour ratio of monthly totals.
func MonthlyFactorDiff(f *series.Frame, target, nearest string, method stats.Averaging) (float64, error) {
	_, t, o, err := monthlyPair(f, target, nearest)
	if err != nil {
		return math.NaN(), err
	}
	return stats.FactorDiff(t, o, method)
}

// MonthlyNeighbourFactor flags months whose target and neighbour totals
// differ by a factor. The larger of the two ratios is banded against
// refFactor. Months where both are dry are 0; a missing total is
// unevaluated.
func MonthlyNeighbourFactor(f *series.Frame, target, nearest string, refFactor float64) (*series.Frame, error) {
	if !(refFactor > 1) {
		return nil, fmt.Errorf("%w: reference factor must be above 1, got %v", ErrInvalidArgument, refFactor)
	}
	monthly, t, o, err := monthlyPair(f, target, nearest)
	if err != nil {
		return nil, err
	}
	flags := make([]int, len(t))
	for i := range t {
		switch {
		case math.IsNaN(t[i]) || math.IsNaN(o[i]):
			flags[i] = models.FlagUnevaluated
		case t[i] == 0 && o[i] == 0:
			flags[i] = models.FlagNone
		default:
			flags[i] = ExceedanceFlag(math.Max(t[i]/o[i], o[i]/t[i]), refFactor)
		}
	}
	out, err := monthly.Select()
	if err != nil {
		return nil, err
	}
	return out.WithFlags(FlagColumn, flags)
}

// DailyNetwork resamples target and its neighbour columns to daily totals on
// one shared grid, dropping totals above the daily world record.
func DailyNetwork(f *series.Frame, target string, cols []string) (*series.Frame, error) {
	if _, err := neighbourValues(f, target, cols); err != nil {
		return nil, err
	}
	names := append([]string{target}, cols...)
	var (
		times []time.Time
		out   = make([][]float64, 0, len(names))
	)
	for _, c := range names {
		daily, vals, err := dailyTotals(f, c)
		if err != nil {
			return nil, err
		}
		times = daily.Times()
		out = append(out, vals)
	}
	return series.FromColumns(times, names, out...)
}

func dailyPair(f *series.Frame, target, nearest string) ([]float64, []float64, error) {
	if err := checkPair(f, target, nearest); err != nil {
		return nil, nil, err
	}
	_, t, err := dailyTotals(f, target)
	if err != nil {
		return nil, nil, err
	}
	_, o, err := dailyTotals(f, nearest)
	if err != nil {
		return nil, nil, err
	}
	return t, o, nil
}

func monthlyPair(f *series.Frame, target, nearest string) (*series.Frame, []float64, []float64, error) {
	if err := checkPair(f, target, nearest); err != nil {
		return nil, nil, nil, err
	}
	mt, err := series.ResampleMonthly(f, target, series.DefaultCompleteness)
	if err != nil {
		return nil, nil, nil, err
	}
	mo, err := series.ResampleMonthly(f, nearest, series.DefaultCompleteness)
	if err != nil {
		return nil, nil, nil, err
	}
	t, err := column(mt, target)
	if err != nil {
		return nil, nil, nil, err
	}
	o, err := column(mo, nearest)
	if err != nil {
		return nil, nil, nil, err
	}
	return mt, t, o, nil
}

func checkPair(f *series.Frame, target, nearest string) error {
	_, err := neighbourValues(f, target, []string{nearest})
	return err
}

// neighbourValues validates the neighbour list against the target and
// returns each neighbour's values.
func neighbourValues(f *series.Frame, target string, cols []string) ([][]float64, error) {
	if len(cols) == 0 {
		return nil, fmt.Errorf("%w: neighbour column list is empty", neighbour.ErrNoNeighbours)
	}
	if !f.HasValues(target) {
		return nil, fmt.Errorf("target column: %w: %q", series.ErrColumnNotFound, target)
	}
	out := make([][]float64, 0, len(cols))
	for _, c := range cols {
		if c == target {
			return nil, fmt.Errorf("%w: target column %q is listed as its own neighbour", ErrInvalidArgument, target)
		}
		vals, err := f.Values(c)
		if err != nil {
			return nil, fmt.Errorf("neighbour column: %w", err)
		}
		out = append(out, vals)
	}
	return out, nil
}
