package framework

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/lox/rainfallqc/internal/metrics"
	"github.com/lox/rainfallqc/internal/models"
	"github.com/lox/rainfallqc/internal/series"
)

// FailurePolicy decides what a run does when a check fails.
type FailurePolicy int

const (
	// FailFast stops at the first failing check.
	FailFast FailurePolicy = iota
	// Continue records the failure and runs the remaining checks.
	Continue
)

// ParsePolicy maps "error" and "continue" to a policy.
func ParsePolicy(s string) (FailurePolicy, error) {
	switch s {
	case "", "error":
		return FailFast, nil
	case "continue":
		return Continue, nil
	}
	return FailFast, fmt.Errorf("%w: on_fail %q (use error or continue)", ErrInvalidOption, s)
}

// Report is the outcome of one framework run.
type Report struct {
	RunID     string
	Framework string
	Started   time.Time
	Duration  time.Duration
	Methods   []string          // checks in the order they were run
	Results   map[string]Result // by check name
	Failures  map[string]error  // by check name, Continue policy only
}

// Err joins the check failures in run order, or returns nil.
func (r *Report) Err() error {
	var errs []error
	for _, m := range r.Methods {
		if err, ok := r.Failures[m]; ok {
			errs = append(errs, fmt.Errorf("%s: %w", m, err))
		}
	}
	return errors.Join(errs...)
}

// Runner dispatches checks. The zero value is not usable; use NewRunner.
type Runner struct {
	Registry *Registry
	Logger   *slog.Logger
	Clock    clockwork.Clock
	Policy   FailurePolicy
}

func NewRunner(reg *Registry) *Runner {
	return &Runner{
		Registry: reg,
		Logger:   slog.Default(),
		Clock:    clockwork.NewRealClock(),
	}
}

// RunNamed resolves a framework from the registry and runs it.
func (r *Runner) RunNamed(ctx context.Context, env Env, name string, methods []string, kw Kwargs) (*Report, error) {
	fw, err := r.Registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	return r.Run(ctx, env, fw, methods, kw)
}

type boundCheck struct {
	check Check
	opts  Options
}

// Run executes methods from fw in order against env. Every method is
// resolved and its options bound before any check runs, so caller mistakes
// fail the run without partial results. An empty methods list runs the
// whole table.
func (r *Runner) Run(ctx context.Context, env Env, fw *Framework, methods []string, kw Kwargs) (*Report, error) {
	if env.Data == nil {
		return nil, fmt.Errorf("%w: no data", ErrInvalidOption)
	}
	if len(methods) == 0 {
		methods = fw.Names()
	}
	if err := kw.validateShared(); err != nil {
		return nil, err
	}
	for name := range kw {
		if name == SharedKey {
			continue
		}
		if _, err := fw.Check(name); err != nil {
			return nil, fmt.Errorf("kwargs: %w", err)
		}
	}

	plan := make([]boundCheck, 0, len(methods))
	seen := map[string]bool{}
	for _, m := range methods {
		if seen[m] {
			return nil, fmt.Errorf("%w: %s requested twice", ErrInvalidOption, m)
		}
		seen[m] = true
		c, err := fw.Check(m)
		if err != nil {
			return nil, err
		}
		opts, err := kw.bind(c)
		if err != nil {
			return nil, err
		}
		if err := checkTimeRes(env.Data, opts.TimeRes); err != nil {
			return nil, fmt.Errorf("%s: %w", m, err)
		}
		if c.NonNegative {
			if err := checkNonNegative(env.Data, opts.TargetGaugeCol); err != nil {
				return nil, fmt.Errorf("%s: %w", m, err)
			}
		}
		plan = append(plan, boundCheck{check: c, opts: opts})
	}

	rep := &Report{
		RunID:     uuid.NewString(),
		Framework: fw.Name(),
		Started:   r.Clock.Now(),
		Results:   make(map[string]Result, len(plan)),
		Failures:  map[string]error{},
	}
	log := r.Logger.With("run_id", rep.RunID, "framework", fw.Name())
	log.Info("qc run started", "checks", len(plan), "rows", env.Data.Len())

	for _, b := range plan {
		if err := ctx.Err(); err != nil {
			metrics.RunsTotal.WithLabelValues(fw.Name(), "cancelled").Inc()
			return rep, err
		}
		name := b.check.Name
		rep.Methods = append(rep.Methods, name)

		start := r.Clock.Now()
		res, err := b.check.Run(ctx, env, b.opts)
		elapsed := r.Clock.Since(start)
		metrics.CheckDuration.WithLabelValues(fw.Name(), name).Observe(elapsed.Seconds())

		if err != nil {
			metrics.ChecksTotal.WithLabelValues(fw.Name(), name, "error").Inc()
			if r.Policy == FailFast {
				log.Error("check failed", "check", name, "error", err)
				metrics.RunsTotal.WithLabelValues(fw.Name(), "error").Inc()
				rep.Duration = r.Clock.Since(rep.Started)
				return rep, fmt.Errorf("%s: %w", name, err)
			}
			log.Warn("check failed, continuing", "check", name, "error", err)
			rep.Failures[name] = err
			continue
		}
		metrics.ChecksTotal.WithLabelValues(fw.Name(), name, "ok").Inc()
		log.Debug("check done", "check", name, "duration", elapsed, "result", Summarize(res))
		rep.Results[name] = res
	}

	rep.Duration = r.Clock.Since(rep.Started)
	status := "ok"
	if len(rep.Failures) > 0 {
		status = "partial"
	}
	metrics.RunsTotal.WithLabelValues(fw.Name(), status).Inc()
	log.Info("qc run finished", "duration", rep.Duration, "results", len(rep.Results), "failures", len(rep.Failures))
	return rep, nil
}

func checkTimeRes(data *series.Frame, timeRes string) error {
	if timeRes == "" {
		return nil
	}
	res := models.Resolution(timeRes)
	if !res.Valid() {
		return fmt.Errorf("%w: time_res %q (use 15m, hourly, daily or monthly)", ErrInvalidOption, timeRes)
	}
	return series.CheckResolution(data, res)
}

// checkNonNegative rejects a target column holding negative values. A
// missing column is left to the check to report.
func checkNonNegative(data *series.Frame, col string) error {
	if !data.HasValues(col) {
		return nil
	}
	vals, err := data.Values(col)
	if err != nil {
		return err
	}
	for i, v := range vals {
		if v < 0 {
			return fmt.Errorf("%w: column %q has %v at %s", ErrNegativeValues, col, v, data.Time(i).Format(time.RFC3339))
		}
	}
	return nil
}

// Job is one independent unit of a batch, usually all checks for one gauge.
type Job struct {
	Name      string
	Env       Env
	Framework string
	Methods   []string
	Kwargs    Kwargs
	Policy    FailurePolicy
}

// RunBatch runs jobs with at most concurrency in flight, each under its own
// failure policy. Reports are returned in job order; a job that fails keeps
// whatever partial report it produced and does not stop the others. The job
// errors are joined in job order.
func (r *Runner) RunBatch(ctx context.Context, jobs []Job, concurrency int) ([]*Report, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	reports := make([]*Report, len(jobs))
	errs := make([]error, len(jobs))
	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, job := range jobs {
		g.Go(func() error {
			jr := *r
			jr.Policy = job.Policy
			jr.Logger = r.Logger.With("job", job.Name)
			rep, err := jr.RunNamed(ctx, job.Env, job.Framework, job.Methods, job.Kwargs)
			reports[i] = rep
			if err != nil {
				errs[i] = fmt.Errorf("job %s: %w", job.Name, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return reports, errors.Join(errs...)
}
