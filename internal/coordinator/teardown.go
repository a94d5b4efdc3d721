package coordinator

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/roach88/treesum/internal/region"
)

// Cause is what ended a run.
type Cause string

const (
	CauseCompleted Cause = "completed"
	CauseSignal    Cause = "signal"
	CauseBudget    Cause = "budget"
	CauseCancelled Cause = "cancelled"
)

// Group is the set of processes a run spawned.
type Group interface {
	// Terminate signals every member of the group. Safe to call when the
	// group is already empty.
	Terminate() error
}

// GroupFunc adapts a function to Group.
type GroupFunc func() error

func (f GroupFunc) Terminate() error { return f() }

type noGroup struct{}

func (noGroup) Terminate() error { return nil }

// Teardown stops and releases one run. It is split in two idempotent steps:
//
//   - Interrupt records the first cause and, unless the run completed,
//     terminates the worker group. It may be called from any goroutine, any
//     number of times.
//   - Shutdown interrupts (as completed, unless already interrupted), closes
//     log handles, unmaps the region and removes its file. Only the first
//     call does anything.
//
// Shutdown must only be called once no goroutine is reading the region.
type Teardown struct {
	logger *slog.Logger
	group  Group
	region *region.Region

	interruptOnce sync.Once
	shutdownOnce  sync.Once

	mu       sync.Mutex
	cause    Cause
	closers  []io.Closer
	releases int
	onStop   func()
}

func newTeardown(logger *slog.Logger) *Teardown {
	return &Teardown{logger: logger, group: noGroup{}}
}

func (t *Teardown) setRegion(r *region.Region) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.region = r
}

func (t *Teardown) setGroup(g Group) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.group = g
}

func (t *Teardown) addCloser(c io.Closer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closers = append(t.closers, c)
}

// onInterrupt registers fn to run once, on the first Interrupt.
func (t *Teardown) onInterrupt(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onStop = fn
}

// Cause returns the first recorded cause, or "" if none yet.
func (t *Teardown) Cause() Cause {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cause
}

// Interrupted reports whether the run was stopped by anything other than
// completion.
func (t *Teardown) Interrupted() bool {
	c := t.Cause()
	return c != "" && c != CauseCompleted
}

// Releases counts how many times shared resources were released (0 or 1).
func (t *Teardown) Releases() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.releases
}

// Interrupt stops the run. Only the first call has any effect.
func (t *Teardown) Interrupt(cause Cause) {
	t.interruptOnce.Do(func() {
		t.mu.Lock()
		t.cause = cause
		group, stop := t.group, t.onStop
		t.mu.Unlock()

		if stop != nil {
			stop()
		}
		// A completed run has reaped every member; its group id may
		// already belong to someone else.
		if cause == CauseCompleted {
			return
		}
		t.logger.Warn("stopping run", "cause", string(cause))
		if err := group.Terminate(); err != nil {
			t.logger.Error("terminate worker group", "error", err)
		}
	})
}

// Shutdown releases everything the run holds. Only the first call has any
// effect; later calls return nil.
func (t *Teardown) Shutdown() error {
	var err error
	t.shutdownOnce.Do(func() {
		t.Interrupt(CauseCompleted)

		t.mu.Lock()
		closers, r := t.closers, t.region
		t.closers = nil
		t.releases++
		t.mu.Unlock()

		var errs []error
		for _, c := range closers {
			if cerr := c.Close(); cerr != nil {
				errs = append(errs, fmt.Errorf("close log: %w", cerr))
			}
		}
		if r != nil {
			if cerr := r.Close(); cerr != nil {
				errs = append(errs, fmt.Errorf("unmap region: %w", cerr))
			}
			if rerr := r.Remove(); rerr != nil {
				errs = append(errs, fmt.Errorf("remove region: %w", rerr))
			}
		}
		err = errors.Join(errs...)
		t.logger.Debug("shared resources released", "cause", string(t.Cause()))
	})
	return err
}
