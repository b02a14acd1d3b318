// Package health runs dependency checks and folds them into one status.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status is the tri-state result of a check.
type Status string

const (
	StatusUp       Status = "up"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

func (s Status) severity() int {
	switch s {
	case StatusUp:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Gauge maps the status to a metric value: 1 up, 0.5 degraded, 0 down.
func (s Status) Gauge() float64 {
	switch s {
	case StatusUp:
		return 1
	case StatusDegraded:
		return 0.5
	default:
		return 0
	}
}

// Result is the outcome of one check.
type Result struct {
	Name         string         `json:"name"`
	Status       Status         `json:"status"`
	Message      string         `json:"message"`
	ResponseTime int64          `json:"responseTimeMs"`
	Details      map[string]any `json:"details,omitempty"`
	CheckedAt    time.Time      `json:"checkedAt"`
	// Err is the raw cause. It is logged and never serialized.
	Err error `json:"-"`
}

// Checker is one dependency check. Check must not block past ctx.
type Checker interface {
	Name() string
	Timeout() time.Duration
	Check(ctx context.Context) Result
}

// Check names. They double as the URL suffix of the per-check endpoints.
const (
	CheckDatabase    = "database"
	CheckCache       = "cache"
	CheckExternalAPI = "external-apis"
	CheckMemory      = "memory"
	CheckDisk        = "disk-space"
)

// Aggregate returns the worst status: down beats degraded beats up.
// No statuses at all is up.
func Aggregate(statuses ...Status) Status {
	worst := StatusUp
	for _, s := range statuses {
		if s.severity() > worst.severity() {
			worst = s
		}
	}
	return worst
}

// Report is the aggregated outcome of all checks.
type Report struct {
	Status    Status            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version,omitempty"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]Result `json:"checks"`
}

// WithoutDetails returns a copy of r with per-check details removed.
func (r Report) WithoutDetails() Report {
	out := r
	out.Checks = make(map[string]Result, len(r.Checks))
	for name, res := range r.Checks {
		res.Details = nil
		out.Checks[name] = res
	}
	return out
}

// Aggregator runs a fixed set of checks concurrently.
type Aggregator struct {
	checks   []Checker
	version  string
	started  time.Time
	logger   *slog.Logger
	observer func(Result)
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithObserver calls fn with every check result, e.g. to export metrics.
func WithObserver(fn func(Result)) Option {
	return func(a *Aggregator) { a.observer = fn }
}

// WithVersion sets the version reported with every run.
func WithVersion(v string) Option {
	return func(a *Aggregator) { a.version = v }
}

func NewAggregator(logger *slog.Logger, checks []Checker, opts ...Option) *Aggregator {
	a := &Aggregator{checks: checks, started: time.Now(), logger: logger}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Names lists the registered checks in registration order.
func (a *Aggregator) Names() []string {
	names := make([]string, 0, len(a.checks))
	for _, c := range a.checks {
		names = append(names, c.Name())
	}
	return names
}

// Run executes every check and aggregates the results.
func (a *Aggregator) Run(ctx context.Context) Report {
	results := make([]Result, len(a.checks))

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range a.checks {
		g.Go(func() error {
			results[i] = a.run(gctx, c)
			return nil
		})
	}
	_ = g.Wait()

	report := Report{
		Timestamp: time.Now().UTC(),
		Version:   a.version,
		Uptime:    time.Since(a.started).Round(time.Second).String(),
		Checks:    make(map[string]Result, len(results)),
	}
	statuses := make([]Status, 0, len(results))
	for _, res := range results {
		report.Checks[res.Name] = res
		statuses = append(statuses, res.Status)
	}
	report.Status = Aggregate(statuses...)
	return report
}

// RunOne executes the named check. ok is false for an unknown name.
func (a *Aggregator) RunOne(ctx context.Context, name string) (res Result, ok bool) {
	for _, c := range a.checks {
		if c.Name() == name {
			return a.run(ctx, c), true
		}
	}
	return Result{}, false
}

// Watch runs all checks every interval and passes each report to fn until
// ctx is done. The first run happens immediately.
func (a *Aggregator) Watch(ctx context.Context, interval time.Duration, fn func(Report)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		fn(a.Run(ctx))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *Aggregator) run(ctx context.Context, c Checker) Result {
	cctx, cancel := context.WithTimeout(ctx, c.Timeout())
	defer cancel()

	start := time.Now()
	res := c.Check(cctx)
	elapsed := time.Since(start)

	res.Name = c.Name()
	res.ResponseTime = elapsed.Milliseconds()
	res.CheckedAt = start.UTC()
	if errors.Is(cctx.Err(), context.DeadlineExceeded) {
		res.Status = StatusDown
		res.Message = fmt.Sprintf("timed out after %s", c.Timeout())
	}

	if res.Status != StatusUp {
		attrs := []any{}
		if res.Err != nil {
			attrs = append(attrs, slog.Any("error", res.Err))
		}
		a.logger.WarnContext(ctx, fmt.Sprintf("health check %s is %s: %s", res.Name, res.Status, res.Message), attrs...)
	}
	if a.observer != nil {
		a.observer(res)
	}
	return res
}

// latencyStatus is up unless elapsed exceeded degradedAfter.
func latencyStatus(elapsed, degradedAfter time.Duration) Status {
	if elapsed > degradedAfter {
		return StatusDegraded
	}
	return StatusUp
}

// usageStatus applies the shared resource thresholds to a used percentage.
func usageStatus(usedPercent float64) Status {
	switch {
	case usedPercent >= UsageDownPercent:
		return StatusDown
	case usedPercent >= UsageDegradedPercent:
		return StatusDegraded
	default:
		return StatusUp
	}
}
