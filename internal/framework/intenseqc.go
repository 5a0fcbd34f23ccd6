package framework

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/lox/rainfallqc/internal/checks"
	"github.com/lox/rainfallqc/internal/climate"
	"github.com/lox/rainfallqc/internal/models"
	"github.com/lox/rainfallqc/internal/stats"
)

// IntenseQCName is the registry name of the IntenseQC framework.
const IntenseQCName = "IntenseQC"

// Flag column names used in IntenseQC series results.
const (
	WetNeighbourFlag = "wet_neighbour_flag"
	DryNeighbourFlag = "dry_neighbour_flag"
	OnlineNeighbours = "online_neighbours"
	WorldRecordFlag  = "world_record_flag"
	Rx1dayFlag       = "rx1day_flag"
	CDDFlag          = "cdd_flag"
	DailyAccumFlag   = "daily_accumulation_flag"
	MonthlyAccumFlag = "monthly_accumulation_flag"
)

var (
	targetParams    = []string{"target_gauge_col", "time_res"}
	locationParams  = []string{"gauge_lat", "gauge_lon", "max_distance_km"}
	neighbourParams = []string{"list_of_nearest_stations", "min_n_neighbours", "n_neighbours_ignored"}
	pairParams      = []string{"neighbouring_gauge_col"}
)

func params(groups ...[]string) []string {
	var out []string
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// IntenseQC returns the IntenseQC check table, QC1 to QC25.
func IntenseQC() *Framework {
	fw, err := NewFramework(IntenseQCName,
		Check{
			Name:        "QC1",
			Description: "Years where the given percentile of rainfall is zero.",
			Params:      params(targetParams, []string{"quantile"}),
			Required:    []string{"target_gauge_col"},
			NonNegative: true,
			Run: func(_ context.Context, env Env, o Options) (Result, error) {
				return years(checks.YearsWherePercentileIsZero(env.Data, o.TargetGaugeCol, o.Quantile/100))
			},
		},
		Check{
			Name:        "QC2",
			Description: "Years where even the smallest of the k largest values is zero.",
			Params:      params(targetParams, []string{"k"}),
			Required:    []string{"target_gauge_col"},
			NonNegative: true,
			Run: func(_ context.Context, env Env, o Options) (Result, error) {
				return years(checks.YearsWhereTopKAreZero(env.Data, o.TargetGaugeCol, o.K))
			},
		},
		Check{
			Name:        "QC3",
			Description: "Day of week bias (t-test of the weekday means against the overall mean).",
			Params:      params(targetParams, []string{"p_threshold"}),
			Required:    []string{"target_gauge_col"},
			NonNegative: true,
			Run: func(_ context.Context, env Env, o Options) (Result, error) {
				return scalarInt(checks.TemporalBias(env.Data, o.TargetGaugeCol, checks.GranularityWeekday, o.PThreshold))
			},
		},
		Check{
			Name:        "QC4",
			Description: "Hour of day bias (t-test of the hourly means against the overall mean).",
			Params:      params(targetParams, []string{"p_threshold"}),
			Required:    []string{"target_gauge_col"},
			NonNegative: true,
			Run: func(_ context.Context, env Env, o Options) (Result, error) {
				return scalarInt(checks.TemporalBias(env.Data, o.TargetGaugeCol, checks.GranularityHour, o.PThreshold))
			},
		},
		Check{
			Name:        "QC5",
			Description: "Years with too many periods of missing data.",
			Params:      params(targetParams, []string{"no_data_threshold", "annual_count_threshold"}),
			Required:    []string{"target_gauge_col"},
			Run: func(_ context.Context, env Env, o Options) (Result, error) {
				return years(checks.IntermittentYears(env.Data, o.TargetGaugeCol, o.NoDataThreshold, o.AnnualCountThreshold))
			},
		},
		Check{
			Name:        "QC6",
			Description: "Change points in the record (windowed Pettitt test).",
			Params:      params(targetParams, []string{"window_days", "p_threshold"}),
			Required:    []string{"target_gauge_col"},
			Run: func(_ context.Context, env Env, o Options) (Result, error) {
				return scalarInt(checks.Breakpoints(env.Data, o.TargetGaugeCol, o.WindowDays, o.PThreshold))
			},
		},
		Check{
			Name:        "QC7",
			Description: "Years whose smallest non-zero value differs from the expected resolution.",
			Params:      params(targetParams, []string{"expected_min_val"}),
			Required:    []string{"target_gauge_col", "expected_min_val"},
			Run: func(_ context.Context, env Env, o Options) (Result, error) {
				return years(checks.MinValueChangeYears(env.Data, o.TargetGaugeCol, o.ExpectedMinVal))
			},
		},
		Check{
			Name:        "QC8",
			Description: "Annual R99p exceedance of the ETCCDI climatology.",
			Params:      params(targetParams, locationParams),
			Required:    []string{"target_gauge_col", "gauge_lat", "gauge_lon"},
			NonNegative: true,
			Run: func(_ context.Context, env Env, o Options) (Result, error) {
				ref, err := reference(env)
				if err != nil {
					return nil, err
				}
				return frameResult(checks.AnnualR99pExceedance(env.Data, o.TargetGaugeCol, ref, o.Location()))
			},
		},
		Check{
			Name:        "QC9",
			Description: "Annual PRCPTOT exceedance of the ETCCDI climatology.",
			Params:      params(targetParams, locationParams),
			Required:    []string{"target_gauge_col", "gauge_lat", "gauge_lon"},
			NonNegative: true,
			Run: func(_ context.Context, env Env, o Options) (Result, error) {
				ref, err := reference(env)
				if err != nil {
					return nil, err
				}
				return frameResult(checks.AnnualPRCPTOTExceedance(env.Data, o.TargetGaugeCol, ref, o.Location()))
			},
		},
		Check{
			Name:        "QC10",
			Description: "Values exceeding the world record for the time step.",
			Params:      targetParams,
			Required:    []string{"target_gauge_col"},
			Run: func(_ context.Context, env Env, o Options) (Result, error) {
				flags, err := checks.WorldRecordExceedance(env.Data, o.TargetGaugeCol)
				if err != nil {
					return nil, err
				}
				return flagged(env.Data, o.TargetGaugeCol, flagColumn{WorldRecordFlag, flags})
			},
		},
		Check{
			Name:        "QC11",
			Description: "Daily totals exceeding the ETCCDI Rx1day climatology.",
			Params:      params(targetParams, locationParams),
			Required:    []string{"target_gauge_col", "gauge_lat", "gauge_lon"},
			NonNegative: true,
			Run: func(_ context.Context, env Env, o Options) (Result, error) {
				ref, err := reference(env)
				if err != nil {
					return nil, err
				}
				flags, err := checks.Rx1dayExceedance(env.Data, o.TargetGaugeCol, ref, o.Location())
				if err != nil {
					return nil, err
				}
				return flagged(env.Data, o.TargetGaugeCol, flagColumn{Rx1dayFlag, flags})
			},
		},
		Check{
			Name:        "QC12",
			Description: "Dry spells longer than the ETCCDI CDD climatology.",
			Params:      params(targetParams, locationParams),
			Required:    []string{"target_gauge_col", "gauge_lat", "gauge_lon"},
			NonNegative: true,
			Run: func(_ context.Context, env Env, o Options) (Result, error) {
				ref, err := reference(env)
				if err != nil {
					return nil, err
				}
				flags, err := checks.CDDExceedance(env.Data, o.TargetGaugeCol, ref, o.Location())
				if err != nil {
					return nil, err
				}
				return flagged(env.Data, o.TargetGaugeCol, flagColumn{CDDFlag, flags})
			},
		},
		Check{
			Name:        "QC13",
			Description: "Daily accumulations recorded as a single sub-daily value.",
			Params:      params(targetParams, locationParams, []string{"accumulation_multiplying_factor", "wet_threshold"}),
			Required:    []string{"target_gauge_col"},
			NonNegative: true,
			Run: func(_ context.Context, env Env, o Options) (Result, error) {
				threshold, err := accumulationThreshold(env, o)
				if err != nil {
					return nil, err
				}
				flags, err := checks.DailyAccumulations(env.Data, o.TargetGaugeCol, threshold)
				if err != nil {
					return nil, err
				}
				return flagged(env.Data, o.TargetGaugeCol, flagColumn{DailyAccumFlag, flags})
			},
		},
		Check{
			Name:        "QC14",
			Description: "Monthly accumulations recorded as a single value.",
			Params:      params(targetParams, locationParams, []string{"accumulation_multiplying_factor", "wet_threshold"}),
			Required:    []string{"target_gauge_col"},
			NonNegative: true,
			Run: func(_ context.Context, env Env, o Options) (Result, error) {
				threshold, err := accumulationThreshold(env, o)
				if err != nil {
					return nil, err
				}
				flags, err := checks.MonthlyAccumulations(env.Data, o.TargetGaugeCol, threshold)
				if err != nil {
					return nil, err
				}
				return flagged(env.Data, o.TargetGaugeCol, flagColumn{MonthlyAccumFlag, flags})
			},
		},
		Check{
			Name:        "QC15",
			Description: "Streaks of repeated non-zero values.",
			Params:      params(targetParams, locationParams, []string{"smallest_measurable_rainfall_amount", "streak_length"}),
			Required:    []string{"target_gauge_col"},
			NonNegative: true,
			Run: func(_ context.Context, env Env, o Options) (Result, error) {
				sdii, err := localSDII(env, o)
				if err != nil {
					return nil, err
				}
				s, err := checks.Streaks(env.Data, o.TargetGaugeCol, o.StreakLength, o.SmallestMeasurableRainfallAmount, sdii)
				if err != nil {
					return nil, err
				}
				return flagged(env.Data, o.TargetGaugeCol,
					flagColumn{checks.StreakFlag1Column, s.ExceedsResolution},
					flagColumn{checks.StreakFlag2Column, s.ExceedsWetDay})
			},
		},
		Check{
			Name:        "QC16",
			Description: "Wet steps not seen by neighbours, at the native resolution.",
			Params:      params(targetParams, neighbourParams, []string{"wet_threshold"}),
			Required:    []string{"target_gauge_col", "list_of_nearest_stations"},
			NonNegative: true,
			Run: func(_ context.Context, env Env, o Options) (Result, error) {
				flags, err := checks.WetNeighbours(env.Data, o.TargetGaugeCol, o.ListOfNearestStations, o.WetThreshold, o.Voting())
				if err != nil {
					return nil, err
				}
				return flagged(env.Data, o.TargetGaugeCol, flagColumn{WetNeighbourFlag, flags})
			},
		},
		Check{
			Name:        "QC17",
			Description: "Wet days not seen by neighbours, on daily totals.",
			Params:      params(targetParams, neighbourParams, []string{"wet_threshold"}),
			Required:    []string{"target_gauge_col", "list_of_nearest_stations"},
			NonNegative: true,
			Run: func(_ context.Context, env Env, o Options) (Result, error) {
				daily, err := checks.DailyNetwork(env.Data, o.TargetGaugeCol, o.ListOfNearestStations)
				if err != nil {
					return nil, err
				}
				flags, err := checks.WetNeighbours(daily, o.TargetGaugeCol, o.ListOfNearestStations, o.WetThreshold, o.Voting())
				if err != nil {
					return nil, err
				}
				return flagged(daily, o.TargetGaugeCol, flagColumn{WetNeighbourFlag, flags})
			},
		},
		Check{
			Name:        "QC18",
			Description: "Months whose total differs from the nearest neighbour by a large factor.",
			Params:      params(targetParams, pairParams, []string{"monthly_factor"}),
			Required:    []string{"target_gauge_col", "neighbouring_gauge_col"},
			NonNegative: true,
			Run: func(_ context.Context, env Env, o Options) (Result, error) {
				return frameResult(checks.MonthlyNeighbourFactor(env.Data, o.TargetGaugeCol, o.NeighbouringGaugeCol, o.MonthlyFactor))
			},
		},
		Check{
			Name:        "QC19",
			Description: "Dry spells not shared by neighbours, on daily totals.",
			Params:      params(targetParams, neighbourParams, []string{"dry_period_days"}),
			Required:    []string{"target_gauge_col", "list_of_nearest_stations"},
			NonNegative: true,
			Run: func(_ context.Context, env Env, o Options) (Result, error) {
				daily, err := checks.DailyNetwork(env.Data, o.TargetGaugeCol, o.ListOfNearestStations)
				if err != nil {
					return nil, err
				}
				flags, err := checks.DryNeighbours(daily, o.TargetGaugeCol, o.ListOfNearestStations, o.DryPeriodDays, o.Voting())
				if err != nil {
					return nil, err
				}
				return flagged(daily, o.TargetGaugeCol, flagColumn{DryNeighbourFlag, flags})
			},
		},
		Check{
			Name:        "QC20",
			Description: "Number of neighbours online at each step.",
			Params:      params(targetParams, []string{"list_of_nearest_stations"}),
			Required:    []string{"target_gauge_col", "list_of_nearest_stations"},
			Run: func(_ context.Context, env Env, o Options) (Result, error) {
				counts, err := checks.OnlineNeighbourCount(env.Data, o.TargetGaugeCol, o.ListOfNearestStations)
				if err != nil {
					return nil, err
				}
				return flagged(env.Data, o.TargetGaugeCol, flagColumn{OnlineNeighbours, counts})
			},
		},
		Check{
			Name:        "QC21",
			Description: "Timing offset against the nearest neighbour, in days.",
			Params:      params(targetParams, pairParams, []string{"max_offset"}),
			Required:    []string{"target_gauge_col", "neighbouring_gauge_col"},
			NonNegative: true,
			Run: func(_ context.Context, env Env, o Options) (Result, error) {
				return scalarInt(checks.NeighbourTimingOffset(env.Data, o.TargetGaugeCol, o.NeighbouringGaugeCol, o.MaxOffset))
			},
		},
		Check{
			Name:        "QC22",
			Description: "Wet/dry affinity index with the nearest neighbour.",
			Params:      params(targetParams, pairParams),
			Required:    []string{"target_gauge_col", "neighbouring_gauge_col"},
			NonNegative: true,
			Run: func(_ context.Context, env Env, o Options) (Result, error) {
				return scalar(checks.NeighbourAffinity(env.Data, o.TargetGaugeCol, o.NeighbouringGaugeCol))
			},
		},
		Check{
			Name:        "QC23",
			Description: "Correlation of daily totals with the nearest neighbour.",
			Params:      params(targetParams, pairParams),
			Required:    []string{"target_gauge_col", "neighbouring_gauge_col"},
			NonNegative: true,
			Run: func(_ context.Context, env Env, o Options) (Result, error) {
				return scalar(checks.NeighbourCorrelation(env.Data, o.TargetGaugeCol, o.NeighbouringGaugeCol))
			},
		},
		Check{
			Name:        "QC24",
			Description: "Average ratio of daily totals to the nearest neighbour.",
			Params:      params(targetParams, pairParams, []string{"averaging_method"}),
			Required:    []string{"target_gauge_col", "neighbouring_gauge_col"},
			NonNegative: true,
			Run: func(_ context.Context, env Env, o Options) (Result, error) {
				return scalar(checks.DailyFactorDiff(env.Data, o.TargetGaugeCol, o.NeighbouringGaugeCol, stats.Averaging(o.AveragingMethod)))
			},
		},
		Check{
			Name:        "QC25",
			Description: "Average ratio of monthly totals to the nearest neighbour.",
			Params:      params(targetParams, pairParams, []string{"averaging_method"}),
			Required:    []string{"target_gauge_col", "neighbouring_gauge_col"},
			NonNegative: true,
			Run: func(_ context.Context, env Env, o Options) (Result, error) {
				return scalar(checks.MonthlyFactorDiff(env.Data, o.TargetGaugeCol, o.NeighbouringGaugeCol, stats.Averaging(o.AveragingMethod)))
			},
		},
	)
	if err != nil {
		panic(err)
	}
	return fw
}

func reference(env Env) (climate.Reference, error) {
	if env.Climate == nil {
		return nil, fmt.Errorf("%w: no climate grid loaded", climate.ErrNoReference)
	}
	return env.Climate, nil
}

// localSDII is the mean local SDII, or NaN when no grid or no nearby cell
// is available.
func localSDII(env Env, o Options) (float64, error) {
	if env.Climate == nil {
		return math.NaN(), nil
	}
	v, err := climate.LocalMean(env.Climate, models.IndexSDII, o.GaugeLat, o.GaugeLon, o.MaxDistanceKm)
	if errors.Is(err, climate.ErrNoReference) || errors.Is(err, climate.ErrUnknownIndex) {
		return math.NaN(), nil
	}
	return v, err
}

func accumulationThreshold(env Env, o Options) (float64, error) {
	sdii, err := localSDII(env, o)
	if err != nil {
		return math.NaN(), err
	}
	return checks.AccumulationThreshold(env.Data, o.TargetGaugeCol, sdii, o.AccumulationMultiplyingFactor, o.WetThreshold)
}
