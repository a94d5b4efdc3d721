// Package worker runs one node of the summation tree.
//
// A worker moves through Dispatch → [FanOut]* → Reduce → AuditLoop → Exit:
//
//   - Dispatch decides what the start parameters mean. A negative start marks
//     a top-level dispatcher over [0, length) and selects its strategy; any
//     other start names a slice to reduce.
//   - FanOut (dispatchers only, while more than two values are live) spawns a
//     reducer per group, reaps them all and compacts their partial sums.
//   - Reduce sums the slice into its first element.
//   - AuditLoop enters the logged critical section a fixed number of times.
//
// All per-process state lives in an Env built once at startup.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/roach88/treesum/internal/audit"
	"github.com/roach88/treesum/internal/fault"
	"github.com/roach88/treesum/internal/plan"
	"github.com/roach88/treesum/internal/region"
	"github.com/roach88/treesum/internal/spawn"
)

// Iterations is the number of critical-section entries per worker.
const Iterations = 5

// Options tunes a worker.
type Options struct {
	// Concurrency caps the live children of a dispatcher.
	Concurrency int

	// MaxJitter bounds the random pause before each critical-section entry.
	MaxJitter time.Duration

	// Hold is spent inside the critical section before and after the write.
	Hold time.Duration
}

// DefaultOptions mirrors the timings the tool has always used.
func DefaultOptions() Options {
	return Options{
		Concurrency: spawn.DefaultLimit,
		MaxJitter:   3 * time.Second,
		Hold:        time.Second,
	}
}

// Env is everything one worker process needs.
type Env struct {
	Pid    int
	Region *region.Region

	// AuditPath is the shared audit log.
	AuditPath string

	// ActivityPath is the lock-activity log; empty disables it.
	ActivityPath string

	// Launcher starts reducer children during FanOut.
	Launcher spawn.Launcher

	Logger  *slog.Logger
	Options Options
}

// Attach maps the region a worker was started against. The layout is
// recovered from the region size passed on the command line.
func Attach(path string, size int, secondary bool) (*region.Region, error) {
	layout, err := region.LayoutForSize(size, secondary)
	if err != nil {
		return nil, fault.Resource("attach region", err)
	}
	return region.Open(path, layout)
}

// Run executes the worker's full lifecycle for item.
func Run(ctx context.Context, env *Env, item plan.WorkItem) error {
	logger := env.logger().With("pid", env.Pid)

	index, length, err := dispatch(ctx, env, logger, item)
	if err != nil {
		return err
	}

	return auditLoop(ctx, env, logger, audit.Entry{Pid: env.Pid, Index: index, Length: length})
}

func (env *Env) logger() *slog.Logger {
	if env.Logger != nil {
		return env.Logger
	}
	return slog.Default()
}

// dispatch performs the arithmetic and returns the index and slice length the
// audit records describe.
func dispatch(ctx context.Context, env *Env, logger *slog.Logger, item plan.WorkItem) (int, int, error) {
	ints := env.Region.Ints()

	if !item.IsDispatch() {
		if item.Length < 1 || item.End() > len(ints) {
			return 0, 0, fault.Resource("reduce", fmt.Errorf("slice %s outside array of %d", item, len(ints)))
		}
		plan.Reduce(ints, item.Start, item.Length)
		logger.Debug("slice reduced", "index", item.Start, "length", item.Length, "value", ints[item.Start])
		return item.Start, item.Length, nil
	}

	strategy, err := plan.StrategyForDispatch(item.Start)
	if err != nil {
		return 0, 0, fault.Resource("dispatch", err)
	}
	if item.Length < 1 || item.Length > len(ints) {
		return 0, 0, fault.Resource("dispatch", fmt.Errorf("length %d outside array of %d", item.Length, len(ints)))
	}

	width := item.Length
	for level := 1; width > 2; level++ {
		if err := ctx.Err(); err != nil {
			return 0, 0, fault.Termination(fmt.Sprintf("dispatch level %d", level), err)
		}
		groups := strategy.Split(0, width)
		logger.Info("fanning out", "level", level, "width", width, "groups", len(groups), "strategy", strategy.String())

		s := spawn.New(env.Launcher, env.Options.Concurrency, spawn.WithLogger(logger))
		if err := s.Run(ctx, groups); err != nil {
			return 0, 0, err
		}
		width = plan.Compact(ints, 0, width, groups)

		stats := s.Stats()
		logger.Debug("level complete", "level", level, "spawned", stats.Spawned, "max_running", stats.MaxRunning)
	}

	plan.Reduce(ints, 0, width)
	logger.Info("dispatch complete", "sum", ints[0])
	return 0, item.Length, nil
}

// auditLoop enters the critical section Iterations times. Cancellation is
// honoured before and during the jitter pause, never inside the section.
func auditLoop(ctx context.Context, env *Env, logger *slog.Logger, entry audit.Entry) error {
	cs := &audit.CriticalSection{
		Mutex: env.Region.Primary(),
		Path:  env.AuditPath,
		Hold:  env.Options.Hold,
	}

	var activity *audit.ActivityLog
	if env.ActivityPath != "" && env.Region.Secondary() != nil {
		activity = &audit.ActivityLog{Mutex: env.Region.Secondary(), Path: env.ActivityPath}
	}

	for i := 1; i <= Iterations; i++ {
		if err := pause(ctx, jitter(env.Options.MaxJitter)); err != nil {
			return fault.Termination("audit", err)
		}

		logger.Info("attempting to enter critical section", "index", entry.Index, "iteration", i)
		act, err := cs.Enter(entry)
		if err != nil {
			return fault.Resource("audit", err)
		}
		logger.Debug("left critical section", "index", entry.Index, "held", act.Held())

		if activity != nil {
			if err := activity.Record(act); err != nil {
				return fault.Resource("lock activity", err)
			}
		}
	}
	return nil
}

func pause(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func jitter(maxJitter time.Duration) time.Duration {
	if maxJitter <= 0 {
		return 0
	}
	return rand.N(maxJitter + 1)
}
