package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roach88/treesum/internal/plan"
	"github.com/roach88/treesum/internal/region"
	"github.com/roach88/treesum/internal/spawn"
)

// InProcessLauncher runs every worker as a goroutine in the calling process.
// Each goroutine maps the region separately, exactly as a child process
// would, and goes through the same Run lifecycle. Pids are synthetic.
//
// Terminate plays the part of signalling a process group: every worker
// started by the launcher, at any depth, stops at its next cancellation point
// and exits with a termination fault.
type InProcessLauncher struct {
	RegionPath   string
	Layout       region.Layout
	AuditPath    string
	ActivityPath string
	Options      Options
	Logger       *slog.Logger

	// OnStart and OnExit, when set, observe every worker.
	OnStart func(plan.WorkItem)
	OnExit  func(plan.WorkItem)

	mu      sync.Mutex
	lastPid int
	ctx     context.Context
	cancel  context.CancelFunc
}

type goroutineChild struct {
	pid  int
	done chan error
}

func (c *goroutineChild) Pid() int    { return c.pid }
func (c *goroutineChild) Wait() error { return <-c.done }

// Launch maps the region for a new worker and starts it.
func (l *InProcessLauncher) Launch(item plan.WorkItem) (spawn.Child, error) {
	r, err := region.Open(l.RegionPath, l.Layout)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.lastPid++
	pid := l.lastPid
	ctx := l.context()
	l.mu.Unlock()

	if l.OnStart != nil {
		l.OnStart(item)
	}

	child := &goroutineChild{pid: pid, done: make(chan error, 1)}
	env := &Env{
		Pid:          pid,
		Region:       r,
		AuditPath:    l.AuditPath,
		ActivityPath: l.ActivityPath,
		Launcher:     l,
		Logger:       l.Logger,
		Options:      l.Options,
	}

	go func() {
		err := Run(ctx, env, item)
		r.Close()
		if l.OnExit != nil {
			l.OnExit(item)
		}
		child.done <- err
	}()

	return child, nil
}

// context returns the context every worker runs under. Callers hold l.mu.
func (l *InProcessLauncher) context() context.Context {
	if l.ctx == nil {
		l.ctx, l.cancel = context.WithCancel(context.Background())
	}
	return l.ctx
}

// Terminate cancels every running and future worker. Safe to call repeatedly.
func (l *InProcessLauncher) Terminate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.context()
	l.cancel()
	return nil
}
