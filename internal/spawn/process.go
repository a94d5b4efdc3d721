package spawn

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/roach88/treesum/internal/plan"
)

// ExitError reports a child that did not exit cleanly.
type ExitError struct {
	Pid    int
	Code   int            // exit status, when the child exited
	Signal syscall.Signal // terminating signal, when it was killed
}

func (e *ExitError) Error() string {
	if e.Signal != 0 {
		return fmt.Sprintf("process %d killed by %v", e.Pid, e.Signal)
	}
	return fmt.Sprintf("process %d exited with status %d", e.Pid, e.Code)
}

// ProcessLauncher starts each work item as a separate OS process.
type ProcessLauncher struct {
	// Path is the executable to run, usually os.Executable().
	Path string

	// Args builds the argument list for an item.
	Args func(plan.WorkItem) []string

	// Stdout and Stderr are inherited by children. nil means /dev/null.
	Stdout *os.File
	Stderr *os.File

	// NewGroup places the first child in a new process group and every later
	// child in that same group. The group only survives while at least one
	// member is alive.
	NewGroup bool

	mu       sync.Mutex
	pgid     int
	signaled syscall.Signal
}

// ErrGroupSignaled is returned by Launch once SignalGroup has been called.
var ErrGroupSignaled = errors.New("process group already signaled")

// Launch starts the process for item.
func (l *ProcessLauncher) Launch(item plan.WorkItem) (Child, error) {
	cmd := exec.Command(l.Path, l.Args(item)...)
	if l.Stdout != nil {
		cmd.Stdout = l.Stdout
	}
	if l.Stderr != nil {
		cmd.Stderr = l.Stderr
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.signaled != 0 {
		return nil, fmt.Errorf("%w (%v)", ErrGroupSignaled, l.signaled)
	}
	if l.NewGroup {
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true, Pgid: l.pgid}
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	if l.NewGroup && l.pgid == 0 {
		l.pgid = cmd.Process.Pid
	}

	return &processChild{pid: cmd.Process.Pid, proc: cmd.Process}, nil
}

// Group returns the process group id children were placed in, or 0.
func (l *ProcessLauncher) Group() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pgid
}

// SignalGroup sends sig to every process in the children's group. A group
// that no longer exists is not an error. After SignalGroup no further child
// is launched, so a signal that arrives before the first child exists still
// leaves nothing running.
func (l *ProcessLauncher) SignalGroup(sig syscall.Signal) error {
	l.mu.Lock()
	l.signaled = sig
	pgid := l.pgid
	l.mu.Unlock()

	if pgid == 0 {
		return nil
	}
	if err := unix.Kill(-pgid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("signal group %d: %w", pgid, err)
	}
	return nil
}

type processChild struct {
	pid  int
	proc *os.Process
}

func (c *processChild) Pid() int {
	return c.pid
}

// Wait reaps exactly this child. A wait interrupted by a signal is retried.
func (c *processChild) Wait() error {
	var ws unix.WaitStatus
	for {
		_, err := unix.Wait4(c.pid, &ws, 0, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return fmt.Errorf("wait %d: %w", c.pid, err)
		}
		break
	}
	c.proc.Release()

	switch {
	case ws.Signaled():
		return &ExitError{Pid: c.pid, Signal: ws.Signal()}
	case ws.Exited() && ws.ExitStatus() != 0:
		return &ExitError{Pid: c.pid, Code: ws.ExitStatus()}
	}
	return nil
}
