// Package spawn implements the bounded-concurrency spawning protocol shared
// by the coordinator and every dispatching worker.
//
// A Spawner starts one child per WorkItem, in order, and never holds more than
// its limit of live, un-reaped children. When the limit is reached it blocks
// until exactly one of its own children exits. After the last item is started
// it drains until nothing is running. Each child is reaped by identity, so a
// spawner never consumes the exit of a grandchild.
package spawn

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/treesum/internal/fault"
	"github.com/roach88/treesum/internal/plan"
)

// DefaultLimit is the default number of simultaneous children per spawner.
const DefaultLimit = 18

// Child is a started worker.
type Child interface {
	// Pid identifies the child.
	Pid() int

	// Wait blocks until the child exits. A nil error means a clean exit.
	Wait() error
}

// Launcher starts a child for one work item.
type Launcher interface {
	Launch(item plan.WorkItem) (Child, error)
}

// Stats summarizes one spawner's activity.
type Stats struct {
	Spawned    int
	Completed  int
	MaxRunning int
}

// Spawner runs work items with at most limit live children.
type Spawner struct {
	launcher Launcher
	limit    int
	logger   *slog.Logger

	mu    sync.Mutex
	stats Stats
}

// Option configures a Spawner.
type Option func(*Spawner)

// WithLogger sets the logger used for spawn and reap events.
func WithLogger(l *slog.Logger) Option {
	return func(s *Spawner) {
		s.logger = l
	}
}

// New creates a Spawner. A limit below 1 is treated as 1.
func New(launcher Launcher, limit int, opts ...Option) *Spawner {
	s := &Spawner{
		launcher: launcher,
		limit:    max(limit, 1),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Limit returns the concurrency cap.
func (s *Spawner) Limit() int {
	return s.limit
}

// Stats returns a snapshot of the spawner's counters.
func (s *Spawner) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

type exit struct {
	pid  int
	item plan.WorkItem
	err  error
}

// Run starts a child for every item and returns once all started children
// have been reaped.
//
// A launch failure or a child exiting unsuccessfully stops further launches
// and is returned as a resource fault. Cancelling ctx also stops further
// launches; if that left work undone the result is a termination fault.
// Children already running are always reaped before Run returns.
func (s *Spawner) Run(ctx context.Context, items []plan.WorkItem) error {
	done := make(chan exit, len(items))
	running := 0
	launched := 0
	var firstErr error

	reap := func() {
		e := <-done
		running--
		s.mu.Lock()
		s.stats.Completed++
		s.mu.Unlock()

		if e.err != nil {
			s.logger.Warn("worker failed", "pid", e.pid, "slice", e.item.String(), "error", e.err)
			if firstErr == nil {
				firstErr = fault.Resource(fmt.Sprintf("worker %d for %s", e.pid, e.item), e.err)
			}
			return
		}
		s.logger.Debug("worker reaped", "pid", e.pid, "slice", e.item.String())
	}

	for _, item := range items {
		if firstErr != nil || ctx.Err() != nil {
			break
		}

		child, err := s.launcher.Launch(item)
		if err != nil {
			if firstErr == nil {
				firstErr = fault.Resource(fmt.Sprintf("spawn worker for %s", item), err)
			}
			break
		}
		launched++
		running++

		s.mu.Lock()
		s.stats.Spawned++
		s.stats.MaxRunning = max(s.stats.MaxRunning, running)
		s.mu.Unlock()
		s.logger.Debug("worker spawned", "pid", child.Pid(), "slice", item.String(), "running", running)

		go func(c Child, item plan.WorkItem) {
			done <- exit{pid: c.Pid(), item: item, err: c.Wait()}
		}(child, item)

		if running == s.limit {
			reap()
		}
	}

	for running > 0 {
		reap()
	}

	if err := ctx.Err(); err != nil && (launched < len(items) || firstErr != nil) {
		return fault.Termination("spawn", err)
	}
	return firstErr
}
