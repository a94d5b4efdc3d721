package spawn

import (
	"context"
	"errors"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/treesum/internal/fault"
	"github.com/roach88/treesum/internal/plan"
)

// fakeLauncher runs each item as a goroutine child that exits when release
// is closed (or immediately if release is nil).
type fakeLauncher struct {
	mu       sync.Mutex
	live     int
	maxLive  int
	launched []plan.WorkItem
	nextPid  int

	release   chan struct{}
	failAt    int // launch index that fails; -1 for none
	exitErrAt int // launch index whose child exits with an error; -1 for none
	work      time.Duration
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{failAt: -1, exitErrAt: -1, nextPid: 100}
}

type fakeChild struct {
	pid  int
	done chan error
}

func (c *fakeChild) Pid() int    { return c.pid }
func (c *fakeChild) Wait() error { return <-c.done }

func (l *fakeLauncher) Launch(item plan.WorkItem) (Child, error) {
	l.mu.Lock()
	idx := len(l.launched)
	if idx == l.failAt {
		l.mu.Unlock()
		return nil, errors.New("fork: resource temporarily unavailable")
	}
	l.launched = append(l.launched, item)
	l.live++
	l.maxLive = max(l.maxLive, l.live)
	l.nextPid++
	c := &fakeChild{pid: l.nextPid, done: make(chan error, 1)}
	l.mu.Unlock()

	go func() {
		if l.release != nil {
			<-l.release
		}
		time.Sleep(l.work)

		l.mu.Lock()
		l.live--
		l.mu.Unlock()

		if idx == l.exitErrAt {
			c.done <- &ExitError{Pid: c.pid, Code: 1}
			return
		}
		c.done <- nil
	}()
	return c, nil
}

func (l *fakeLauncher) launchedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.launched)
}

func items(n int) []plan.WorkItem {
	out := make([]plan.WorkItem, n)
	for i := range out {
		out[i] = plan.WorkItem{Start: 2 * i, Length: 2}
	}
	return out
}

func TestRun_NeverExceedsLimit(t *testing.T) {
	l := newFakeLauncher()
	l.work = time.Millisecond
	s := New(l, 3)

	require.NoError(t, s.Run(context.Background(), items(25)))

	assert.LessOrEqual(t, l.maxLive, 3)
	stats := s.Stats()
	assert.Equal(t, 25, stats.Spawned)
	assert.Equal(t, 25, stats.Completed)
	assert.Equal(t, 3, stats.MaxRunning)
}

func TestRun_LaunchesInOrder(t *testing.T) {
	l := newFakeLauncher()
	s := New(l, 2)

	want := items(7)
	require.NoError(t, s.Run(context.Background(), want))
	assert.Equal(t, want, l.launched)
}

func TestRun_BlocksAtLimitUntilAChildExits(t *testing.T) {
	l := newFakeLauncher()
	l.release = make(chan struct{})
	s := New(l, 2)

	errc := make(chan error, 1)
	go func() { errc <- s.Run(context.Background(), items(5)) }()

	require.Eventually(t, func() bool { return l.launchedCount() == 2 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, l.launchedCount(), "third launch must wait for a reap")

	close(l.release)
	require.NoError(t, <-errc)
	assert.Equal(t, 5, l.launchedCount())
}

func TestRun_LimitBelowOne(t *testing.T) {
	s := New(newFakeLauncher(), 0)
	assert.Equal(t, 1, s.Limit())
	require.NoError(t, s.Run(context.Background(), items(3)))
	assert.Equal(t, 1, s.Stats().MaxRunning)
}

func TestRun_EmptyItems(t *testing.T) {
	s := New(newFakeLauncher(), 4)
	require.NoError(t, s.Run(context.Background(), nil))
	assert.Equal(t, Stats{}, s.Stats())
}

func TestRun_LaunchFailureIsResourceFault(t *testing.T) {
	l := newFakeLauncher()
	l.failAt = 3
	s := New(l, 2)

	err := s.Run(context.Background(), items(6))
	require.Error(t, err)
	assert.True(t, fault.IsResource(err))
	assert.Equal(t, 3, l.launchedCount(), "no launches after the failure")

	stats := s.Stats()
	assert.Equal(t, stats.Spawned, stats.Completed, "started children are still reaped")
}

func TestRun_ChildFailureIsResourceFault(t *testing.T) {
	l := newFakeLauncher()
	l.exitErrAt = 0
	s := New(l, 1)

	err := s.Run(context.Background(), items(4))
	require.Error(t, err)
	assert.True(t, fault.IsResource(err))

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.Code)
	assert.Equal(t, 1, l.launchedCount())
}

func TestRun_CancelledStopsLaunchingAndDrains(t *testing.T) {
	l := newFakeLauncher()
	l.release = make(chan struct{})
	s := New(l, 2)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx, items(6)) }()

	require.Eventually(t, func() bool { return l.launchedCount() == 2 }, time.Second, time.Millisecond)
	cancel()
	close(l.release)

	err := <-errc
	require.Error(t, err)
	assert.True(t, fault.IsTermination(err))
	assert.LessOrEqual(t, l.launchedCount(), 3)

	stats := s.Stats()
	assert.Equal(t, stats.Spawned, stats.Completed)
}

func TestRun_CancelAfterCompletionIsNotAnError(t *testing.T) {
	l := newFakeLauncher()
	s := New(l, 2)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Run(ctx, items(2)))
	cancel()
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
}

func shellLauncher(script string) *ProcessLauncher {
	return &ProcessLauncher{
		Path: "/bin/sh",
		Args: func(plan.WorkItem) []string { return []string{"-c", script} },
	}
}

func TestProcessLauncher_CleanExit(t *testing.T) {
	requireShell(t)
	s := New(shellLauncher("exit 0"), 4)
	require.NoError(t, s.Run(context.Background(), items(6)))
	assert.Equal(t, 6, s.Stats().Completed)
}

func TestProcessLauncher_ExitStatus(t *testing.T) {
	requireShell(t)
	child, err := shellLauncher("exit 3").Launch(plan.WorkItem{Start: 0, Length: 2})
	require.NoError(t, err)

	err = child.Wait()
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.Code)
	assert.Equal(t, child.Pid(), exitErr.Pid)
}

func TestProcessLauncher_SignalGroup(t *testing.T) {
	requireShell(t)
	l := shellLauncher("sleep 30")
	l.NewGroup = true

	first, err := l.Launch(plan.WorkItem{Start: 0, Length: 2})
	require.NoError(t, err)
	second, err := l.Launch(plan.WorkItem{Start: 2, Length: 2})
	require.NoError(t, err)
	assert.Equal(t, first.Pid(), l.Group())

	errs := make(chan error, 2)
	for _, c := range []Child{first, second} {
		go func(c Child) { errs <- c.Wait() }(c)
	}

	require.NoError(t, l.SignalGroup(syscall.SIGTERM))
	for i := 0; i < 2; i++ {
		err := <-errs
		var exitErr *ExitError
		require.ErrorAs(t, err, &exitErr)
		assert.Equal(t, syscall.SIGTERM, exitErr.Signal)
	}

	// The group is gone now; signalling it again is harmless.
	assert.NoError(t, l.SignalGroup(syscall.SIGTERM))
}

func TestProcessLauncher_NoGroup(t *testing.T) {
	l := shellLauncher("exit 0")
	assert.Equal(t, 0, l.Group())
	assert.NoError(t, l.SignalGroup(syscall.SIGTERM))
}

func TestProcessLauncher_SignaledBeforeFirstChild(t *testing.T) {
	requireShell(t)
	l := shellLauncher("sleep 30")
	l.NewGroup = true

	require.NoError(t, l.SignalGroup(syscall.SIGTERM))

	_, err := l.Launch(plan.WorkItem{Start: 0, Length: 2})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGroupSignaled)
	assert.Equal(t, 0, l.Group(), "nothing was started")
}
