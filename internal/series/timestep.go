package series

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lox/rainfallqc/internal/models"
)

// TimingError reports a record whose consecutive timestamps are not separated
// by a single constant step.
type TimingError struct {
	Steps []time.Duration
}

func (e *TimingError) Error() string {
	parts := make([]string, len(e.Steps))
	for i, s := range e.Steps {
		parts[i] = FormatStep(s)
	}
	return fmt.Sprintf("inconsistent time step: data has time steps [%s]", strings.Join(parts, ", "))
}

// FormatStep renders a step as "1h", "15m" or "90s".
func FormatStep(d time.Duration) string {
	secs := int64(d / time.Second)
	switch {
	case secs%3600 == 0:
		return fmt.Sprintf("%dh", secs/3600)
	case secs%60 == 0:
		return fmt.Sprintf("%dm", secs/60)
	default:
		return fmt.Sprintf("%ds", secs)
	}
}

// TimeSteps returns the distinct deltas between consecutive timestamps,
// sorted ascending.
func TimeSteps(f *Frame) []time.Duration {
	seen := map[time.Duration]bool{}
	var out []time.Duration
	for i := 1; i < len(f.times); i++ {
		d := f.times[i].Sub(f.times[i-1])
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CheckConsistentTimeStep fails with a *TimingError when the frame has more
// than one distinct step.
func CheckConsistentTimeStep(f *Frame) error {
	steps := TimeSteps(f)
	if len(steps) != 1 {
		return &TimingError{Steps: steps}
	}
	return nil
}

// DetectResolution maps the frame's step to a Resolution. Calendar-month
// steps (28 to 31 days between consecutive month starts) are monthly.
func DetectResolution(f *Frame) (models.Resolution, error) {
	if f.Len() < 2 {
		return "", fmt.Errorf("cannot detect resolution of %d rows", f.Len())
	}
	if isMonthly(f.times) {
		return models.ResolutionMonthly, nil
	}
	if err := CheckConsistentTimeStep(f); err != nil {
		return "", err
	}
	switch step := f.times[1].Sub(f.times[0]); step {
	case 15 * time.Minute:
		return models.Resolution15Min, nil
	case time.Hour:
		return models.ResolutionHourly, nil
	case 24 * time.Hour:
		return models.ResolutionDaily, nil
	default:
		return "", fmt.Errorf("unsupported time step %s", FormatStep(step))
	}
}

// CheckResolution fails unless the frame's detected resolution equals want.
func CheckResolution(f *Frame, want models.Resolution) error {
	got, err := DetectResolution(f)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("data has %s resolution, expected %s", got, want)
	}
	return nil
}

func isMonthly(times []time.Time) bool {
	for i, t := range times {
		if t.Day() != times[0].Day() || t.Hour() != times[0].Hour() || t.Day() > 28 {
			return false
		}
		if i == 0 {
			continue
		}
		prev := times[i-1]
		if !prev.AddDate(0, 1, 0).Equal(t) {
			return false
		}
	}
	return true
}
