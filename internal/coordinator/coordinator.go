// Package coordinator owns one summation run end to end.
//
// It validates the input before touching any shared resource, creates and
// seeds the shared region, starts a single root dispatcher through the
// spawning protocol and supervises it under a wall-clock budget. Every exit
// path, whether completion, a termination signal, budget expiry or a failure,
// goes through the same idempotent Teardown.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/roach88/treesum/internal/audit"
	"github.com/roach88/treesum/internal/fault"
	"github.com/roach88/treesum/internal/input"
	"github.com/roach88/treesum/internal/plan"
	"github.com/roach88/treesum/internal/region"
	"github.com/roach88/treesum/internal/spawn"
	"github.com/roach88/treesum/internal/worker"
)

// DefaultBudget is the wall-clock limit of a run.
const DefaultBudget = 100 * time.Second

// ErrSumMismatch is returned when the tree's result disagrees with a direct
// sum of the input.
var ErrSumMismatch = errors.New("tree sum does not match input")

// Config describes one run.
type Config struct {
	InputPath string
	Strategy  plan.Strategy

	// Concurrency caps the live children of every spawner in the tree.
	Concurrency int

	// Budget bounds the whole run; zero disables it.
	Budget time.Duration

	AuditPath string

	// ActivityPath enables the secondary lock-activity log when set.
	ActivityPath string

	// RegionDir holds the region file. Empty means os.TempDir().
	RegionDir string
}

// Target is what a launcher needs to start workers for a run.
type Target struct {
	RunID        string
	Region       *region.Region
	AuditPath    string
	ActivityPath string
}

// LauncherFactory builds the launcher for a run, plus the group it places
// workers in.
type LauncherFactory func(Target) (spawn.Launcher, Group, error)

// InProcess returns a factory that runs every worker as a goroutine.
func InProcess(opts worker.Options, logger *slog.Logger) LauncherFactory {
	return func(t Target) (spawn.Launcher, Group, error) {
		l := &worker.InProcessLauncher{
			RegionPath:   t.Region.Path(),
			Layout:       t.Region.Layout(),
			AuditPath:    t.AuditPath,
			ActivityPath: t.ActivityPath,
			Options:      opts,
			Logger:       logger,
		}
		return l, l, nil
	}
}

// Result summarizes a finished run.
type Result struct {
	RunID    string
	Strategy plan.Strategy
	Count    int
	Sum      int64
	Started  time.Time
	Finished time.Time
	Audit    *audit.Report
}

// Duration is how long the run took.
func (r *Result) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// Coordinator runs summations.
type Coordinator struct {
	cfg      Config
	launcher LauncherFactory
	ids      RunIDGenerator
	logger   *slog.Logger
	signals  <-chan os.Signal
	now      func() time.Time

	// OnTeardown, when set, receives each run's Teardown as soon as it exists.
	OnTeardown func(*Teardown)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithRunIDs overrides run id generation.
func WithRunIDs(g RunIDGenerator) Option {
	return func(c *Coordinator) { c.ids = g }
}

// WithSignals makes every value received on ch interrupt the run. The channel
// stays drained until the run returns, so repeated signals are absorbed.
func WithSignals(ch <-chan os.Signal) Option {
	return func(c *Coordinator) { c.signals = ch }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New creates a Coordinator for cfg that starts workers through launcher.
func New(cfg Config, launcher LauncherFactory, opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg:      cfg,
		launcher: launcher,
		ids:      UUIDv7Generator{},
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run performs one summation. Once a run id has been assigned, the returned
// Result is non-nil even on failure; only RunID, Strategy, Count and the
// timestamps are meaningful then.
func (c *Coordinator) Run(ctx context.Context) (*Result, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}

	values, err := input.ReadFile(c.cfg.InputPath)
	if err != nil {
		return nil, err
	}
	expected, err := input.Sum(values)
	if err != nil {
		return nil, err
	}

	res := &Result{
		RunID:    c.ids.Generate(),
		Strategy: c.cfg.Strategy,
		Count:    len(values),
		Started:  c.now(),
	}
	logger := c.logger.With("run_id", res.RunID)
	logger.Info("starting run", "count", res.Count, "strategy", res.Strategy.String(), "concurrency", c.cfg.Concurrency)

	td := newTeardown(logger)
	if c.OnTeardown != nil {
		c.OnTeardown(td)
	}

	sum, runErr := c.supervise(ctx, logger, td, res.RunID, values)

	if err := td.Shutdown(); err != nil {
		logger.Error("teardown", "error", err)
		if runErr == nil {
			runErr = fault.Resource("teardown", err)
		}
	}
	res.Finished = c.now()

	if runErr != nil {
		return res, runErr
	}

	if sum != expected {
		return res, fault.Resource("check sum", fmt.Errorf("%w: got %d, want %d", ErrSumMismatch, sum, expected))
	}
	res.Sum = sum

	report, err := audit.Verify(c.cfg.AuditPath)
	if err != nil {
		return res, fault.Resource("verify audit log", err)
	}
	res.Audit = report
	if err := report.Err(); err != nil {
		return res, fault.Resource("verify audit log", err)
	}

	logger.Info("run complete", "sum", res.Sum, "entries", len(report.Entries), "elapsed", res.Duration())
	return res, nil
}

func (c *Coordinator) validate() error {
	if c.cfg.Concurrency < 1 {
		return fault.Configuration("validate", fmt.Errorf("concurrency must be at least 1, got %d", c.cfg.Concurrency))
	}
	if c.cfg.Strategy != plan.Pairwise && c.cfg.Strategy != plan.Logarithmic {
		return fault.Configuration("validate", fmt.Errorf("unknown strategy %d", int(c.cfg.Strategy)))
	}
	if c.cfg.AuditPath == "" {
		return fault.Configuration("validate", errors.New("audit log path is required"))
	}
	if c.cfg.Budget < 0 {
		return fault.Configuration("validate", fmt.Errorf("budget must not be negative, got %s", c.cfg.Budget))
	}
	return nil
}

// supervise allocates everything the run shares, hands each resource to td
// as soon as it exists, and drives the root dispatcher to completion. It
// returns the value left at index 0.
func (c *Coordinator) supervise(ctx context.Context, logger *slog.Logger, td *Teardown, runID string, values []int64) (int64, error) {
	secondary := c.cfg.ActivityPath != ""
	layout, err := region.NewLayout(len(values), secondary)
	if err != nil {
		return 0, fault.Resource("size region", err)
	}

	dir := c.cfg.RegionDir
	if dir == "" {
		dir = os.TempDir()
	}
	r, err := region.Create(filepath.Join(dir, "treesum-"+runID), layout)
	if err != nil {
		return 0, err
	}
	td.setRegion(r)
	logger.Debug("region created", "path", r.Path(), "size", layout.Size())

	r.InitMutexes()
	if err := r.Load(values); err != nil {
		return 0, fault.Resource("load region", err)
	}

	for _, path := range []string{c.cfg.AuditPath, c.cfg.ActivityPath} {
		if path == "" {
			continue
		}
		f, err := audit.Create(path)
		if err != nil {
			return 0, fault.Resource("create log", err)
		}
		td.addCloser(f)
	}

	launcher, group, err := c.launcher(Target{
		RunID:        runID,
		Region:       r,
		AuditPath:    c.cfg.AuditPath,
		ActivityPath: c.cfg.ActivityPath,
	})
	if err != nil {
		return 0, fault.Resource("build launcher", err)
	}
	if group != nil {
		td.setGroup(group)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if c.cfg.Budget > 0 {
		var cancelBudget context.CancelFunc
		runCtx, cancelBudget = context.WithTimeout(runCtx, c.cfg.Budget)
		defer cancelBudget()
	}
	td.onInterrupt(cancel)

	done := make(chan struct{})
	watched := make(chan struct{})
	go func() {
		defer close(watched)
		c.watch(runCtx, ctx, td, done)
	}()

	root := plan.WorkItem{Start: c.cfg.Strategy.DispatchIndex(), Length: len(values)}
	spawner := spawn.New(launcher, c.cfg.Concurrency, spawn.WithLogger(logger))
	runErr := spawner.Run(runCtx, []plan.WorkItem{root})

	close(done)
	<-watched

	if td.Interrupted() {
		stopped := fmt.Errorf("stopped by %s", td.Cause())
		if runErr != nil {
			stopped = fmt.Errorf("%s: %w", stopped, fault.Cause(runErr))
		}
		return 0, fault.Termination("run", stopped)
	}
	if runErr != nil {
		return 0, runErr
	}
	return r.Ints()[0], nil
}

// watch interrupts the run on the first signal, budget expiry or parent
// cancellation, then keeps absorbing signals until done is closed.
func (c *Coordinator) watch(runCtx, parent context.Context, td *Teardown, done <-chan struct{}) {
	select {
	case sig := <-c.signals:
		td.logger.Info("received signal", "signal", sig.String())
		td.Interrupt(CauseSignal)
	case <-runCtx.Done():
		switch {
		case parent.Err() != nil:
			td.Interrupt(CauseCancelled)
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			td.Interrupt(CauseBudget)
		}
	case <-done:
		return
	}

	for {
		select {
		case sig := <-c.signals:
			td.logger.Debug("ignoring repeated signal", "signal", sig.String())
		case <-done:
			return
		}
	}
}
