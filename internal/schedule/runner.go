// Package schedule runs the auto-progression sweep on a cron cadence.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/hochfrequenz/factory-coordinator/internal/workflow"
)

// Sweeper is the part of the engine the runner drives
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (*workflow.SweepReport, error)
}

// Runner triggers sweeps on a cron schedule. A tick that arrives while the
// previous sweep is still running is skipped.
type Runner struct {
	sweeper  Sweeper
	spec     string
	schedule cron.Schedule
	cron     *cron.Cron
	log      logrus.FieldLogger
	now      func() time.Time
	onReport func(*workflow.SweepReport)

	mu      sync.Mutex
	running bool
	lastRun time.Time
	runs    int
}

// Option configures a Runner
type Option func(*Runner)

// WithLogger sets the runner's logger
func WithLogger(log logrus.FieldLogger) Option {
	return func(r *Runner) { r.log = log }
}

// WithClock sets the time source passed to each sweep
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithReportHandler receives every finished sweep report
func WithReportHandler(fn func(*workflow.SweepReport)) Option {
	return func(r *Runner) { r.onReport = fn }
}

// NewRunner creates a runner for spec, a five-field cron expression or a
// descriptor such as "@every 5m".
func NewRunner(sweeper Sweeper, spec string, opts ...Option) (*Runner, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}

	r := &Runner{
		sweeper:  sweeper,
		spec:     spec,
		schedule: sched,
		log:      logrus.StandardLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	logger := cronLogger{r.log}
	r.cron = cron.New(
		cron.WithParser(parser),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger)),
	)
	if _, err := r.cron.AddFunc(spec, func() { r.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("schedule sweep: %w", err)
	}
	return r, nil
}

// NextRun returns the next scheduled sweep after the runner's clock
func (r *Runner) NextRun() time.Time {
	return r.schedule.Next(r.now())
}

// LastRun returns when the most recent sweep started, zero if none has.
func (r *Runner) LastRun() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRun
}

// Runs returns how many sweeps have completed
func (r *Runner) Runs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}

// RunOnce runs a sweep now unless one is already in flight. It reports
// whether a sweep ran.
func (r *Runner) RunOnce(ctx context.Context) bool {
	if !r.markRunning() {
		r.log.Info("sweep still running, skipping tick")
		return false
	}
	defer r.markComplete()

	report, err := r.sweeper.Sweep(ctx, r.now())
	if err != nil {
		r.log.WithError(err).Error("sweep failed")
	}
	if report != nil && r.onReport != nil {
		r.onReport(report)
	}
	return true
}

// Start begins scheduling sweeps in the background
func (r *Runner) Start() {
	r.log.WithFields(logrus.Fields{"cron": r.spec, "next_run": r.NextRun()}).Info("sweep scheduler started")
	r.cron.Start()
}

// Stop stops scheduling and waits for a running sweep to finish or ctx to end.
func (r *Runner) Stop(ctx context.Context) error {
	done := r.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) markRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return false
	}
	r.running = true
	r.lastRun = r.now()
	return true
}

func (r *Runner) markComplete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
	r.runs++
}

// cronLogger adapts logrus to cron.Logger
type cronLogger struct {
	log logrus.FieldLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fields(keysAndValues)).WithError(err).Error(msg)
}

func fields(kv []interface{}) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		f[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return f
}
