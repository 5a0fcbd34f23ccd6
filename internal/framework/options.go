package framework

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-viper/mapstructure/v2"

	"github.com/lox/rainfallqc/internal/checks"
	"github.com/lox/rainfallqc/internal/climate"
	"github.com/lox/rainfallqc/internal/stats"
)

// SharedKey is the Kwargs entry applied to every check in a run.
const SharedKey = "shared"

var ErrInvalidOption = errors.New("invalid option")

// Kwargs maps a check name, or SharedKey, to its options.
type Kwargs map[string]map[string]any

// Options is every setting a check can take. Keys are the mapstructure tags.
type Options struct {
	TargetGaugeCol string  `mapstructure:"target_gauge_col"`
	GaugeLat       float64 `mapstructure:"gauge_lat"`
	GaugeLon       float64 `mapstructure:"gauge_lon"`
	TimeRes        string  `mapstructure:"time_res"`
	MaxDistanceKm  float64 `mapstructure:"max_distance_km"`

	Quantile             float64 `mapstructure:"quantile"` // percent, 0-100
	K                    int     `mapstructure:"k"`
	PThreshold           float64 `mapstructure:"p_threshold"`
	NoDataThreshold      int     `mapstructure:"no_data_threshold"`
	AnnualCountThreshold int     `mapstructure:"annual_count_threshold"`
	WindowDays           int     `mapstructure:"window_days"`
	ExpectedMinVal       float64 `mapstructure:"expected_min_val"`

	AccumulationMultiplyingFactor    float64 `mapstructure:"accumulation_multiplying_factor"`
	WetThreshold                     float64 `mapstructure:"wet_threshold"`
	SmallestMeasurableRainfallAmount float64 `mapstructure:"smallest_measurable_rainfall_amount"`
	StreakLength                     int     `mapstructure:"streak_length"`

	ListOfNearestStations []string `mapstructure:"list_of_nearest_stations"`
	MinNNeighbours        int      `mapstructure:"min_n_neighbours"`
	NNeighboursIgnored    int      `mapstructure:"n_neighbours_ignored"`
	DryPeriodDays         int      `mapstructure:"dry_period_days"`
	NeighbouringGaugeCol  string   `mapstructure:"neighbouring_gauge_col"`
	MaxOffset             int      `mapstructure:"max_offset"`
	AveragingMethod       string   `mapstructure:"averaging_method"`
	MonthlyFactor         float64  `mapstructure:"monthly_factor"`

	NeighbourMetadata        []checks.Station `mapstructure:"neighbour_metadata"`
	NeighbouringGaugeIDs     []string         `mapstructure:"neighbouring_gauge_ids"`
	MaxDistanceForNeighbours float64          `mapstructure:"max_distance_for_neighbours"`
	NStat                    int              `mapstructure:"n_stat"`
	Nint                     int              `mapstructure:"nint"`
	HighInfluxA              float64          `mapstructure:"high_influx_a"`
	HighInfluxB              float64          `mapstructure:"high_influx_b"`
	EvaluationPeriod         int              `mapstructure:"evaluation_period"`
	MMatch                   int              `mapstructure:"mmatch"`
	Gamma                    float64          `mapstructure:"gamma"`
}

// DefaultOptions returns the values used for any key a run leaves unset.
func DefaultOptions() Options {
	return Options{
		MaxDistanceKm:        climate.DefaultMaxDistanceKm,
		Quantile:             99,
		K:                    5,
		PThreshold:           0.01,
		NoDataThreshold:      5,
		AnnualCountThreshold: 5,
		WindowDays:           checks.DefaultBreakpointWindowDays,

		AccumulationMultiplyingFactor:    2,
		WetThreshold:                     1,
		SmallestMeasurableRainfallAmount: 0.1,
		StreakLength:                     2,

		MinNNeighbours:  5,
		DryPeriodDays:   15,
		MaxOffset:       1,
		AveragingMethod: string(stats.AverageMean),
		MonthlyFactor:   checks.DefaultMonthlyFactor,

		MaxDistanceForNeighbours: checks.DefaultPWSMaxDistanceM,
		NStat:                    checks.DefaultPWSMinNeighbours,
		Nint:                     checks.DefaultFaultyZeroInterval,
		HighInfluxA:              checks.DefaultHighInfluxThresA,
		HighInfluxB:              checks.DefaultHighInfluxThresB,
		EvaluationPeriod:         checks.DefaultOutlierPeriod,
		MMatch:                   checks.DefaultOutlierMatches,
		Gamma:                    checks.DefaultOutlierGamma,
	}
}

// Location is the climate lookup point for the target gauge.
func (o Options) Location() checks.Location {
	return checks.Location{Lat: o.GaugeLat, Lon: o.GaugeLon, MaxDistanceKm: o.MaxDistanceKm}
}

// Voting is the neighbour fusion rule.
func (o Options) Voting() checks.Voting {
	return checks.Voting{MinNeighbours: o.MinNNeighbours, Ignored: o.NNeighboursIgnored}
}

// validateShared rejects shared keys no check could ever accept.
func (kw Kwargs) validateShared() error {
	shared := kw[SharedKey]
	if len(shared) == 0 {
		return nil
	}
	opts := DefaultOptions()
	return decode(shared, &opts, "shared")
}

// bind resolves the options for one check: shared keys the check declares,
// overridden by the check's own keys. Undeclared per-check keys and missing
// required keys are errors.
func (kw Kwargs) bind(c Check) (Options, error) {
	declared := make(map[string]bool, len(c.Params))
	for _, p := range c.Params {
		declared[p] = true
	}

	merged := map[string]any{}
	for k, v := range kw[SharedKey] {
		if declared[k] {
			merged[k] = v
		}
	}
	var undeclared []string
	for k, v := range kw[c.Name] {
		if !declared[k] {
			undeclared = append(undeclared, k)
			continue
		}
		merged[k] = v
	}
	if len(undeclared) > 0 {
		sort.Strings(undeclared)
		return Options{}, fmt.Errorf("%w: check %s does not accept %s (accepts %s)",
			ErrInvalidOption, c.Name, strings.Join(undeclared, ", "), strings.Join(c.Params, ", "))
	}

	var missing []string
	for _, r := range c.Required {
		if _, ok := merged[r]; !ok {
			missing = append(missing, r)
		}
	}
	if len(missing) > 0 {
		return Options{}, fmt.Errorf("%w: check %s needs %s", ErrInvalidOption, c.Name, strings.Join(missing, ", "))
	}

	opts := DefaultOptions()
	if err := decode(merged, &opts, c.Name); err != nil {
		return Options{}, err
	}
	return opts, nil
}

func decode(input map[string]any, out *Options, scope string) error {
	var md mapstructure.Metadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		Metadata:         &md,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(input); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidOption, scope, err)
	}
	if len(md.Unused) > 0 {
		sort.Strings(md.Unused)
		return fmt.Errorf("%w: %s: unknown keys %s", ErrInvalidOption, scope, strings.Join(md.Unused, ", "))
	}
	return nil
}

