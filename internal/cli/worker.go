package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/treesum/internal/config"
	"github.com/roach88/treesum/internal/coordinator"
	"github.com/roach88/treesum/internal/fault"
	"github.com/roach88/treesum/internal/plan"
	"github.com/roach88/treesum/internal/spawn"
	"github.com/roach88/treesum/internal/worker"
)

// WorkerOptions holds flags for the worker command. Every process in a tree
// is started with the same flags; only the positional arguments differ.
type WorkerOptions struct {
	*RootOptions
	Region      string
	Log         string
	LockLog     string
	Concurrency int
	Jitter      time.Duration
	Hold        time.Duration
}

// NewWorkerCommand creates the hidden command every spawned process runs.
func NewWorkerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WorkerOptions{RootOptions: rootOpts}
	defaults := worker.DefaultOptions()

	cmd := &cobra.Command{
		Use:   "worker <start-index> <slice-length> <region-size>",
		Short: "Run one node of a summation tree (internal)",
		Long: `Run one node of a summation tree. Started by treesum itself.

A negative start index makes this process a top-level dispatcher over
[0, slice-length): -1 selects the pairwise strategy, -2 the logarithmic one.
Any other start index names the slice this process reduces.`,
		Hidden:        true,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Region, "region", "", "path of the shared region (required)")
	cmd.Flags().StringVar(&opts.Log, "log", "", "path of the audit log (required)")
	cmd.Flags().StringVar(&opts.LockLog, "lock-log", "", "path of the lock-activity log")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", defaults.Concurrency, "maximum live children")
	cmd.Flags().DurationVar(&opts.Jitter, "jitter", defaults.MaxJitter, "maximum pause before each critical-section entry")
	cmd.Flags().DurationVar(&opts.Hold, "hold", defaults.Hold, "time spent in the critical section before and after the write")
	_ = cmd.MarkFlagRequired("region")
	_ = cmd.MarkFlagRequired("log")

	return cmd
}

func runWorker(opts *WorkerOptions, args []string, cmd *cobra.Command) error {
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)

	var nums [3]int
	for i, arg := range args {
		n, err := strconv.Atoi(arg)
		if err != nil {
			ferr := fault.Configuration("parse arguments", fmt.Errorf("argument %d: %w", i+1, err))
			logger.Error("invalid worker arguments", "error", ferr)
			return WrapExitError(ExitFailure, "invalid worker arguments", ferr)
		}
		nums[i] = n
	}
	item := plan.WorkItem{Start: nums[0], Length: nums[1]}
	size := nums[2]

	r, err := worker.Attach(opts.Region, size, opts.LockLog != "")
	if err != nil {
		logger.Error("attach region", "error", err)
		return WrapExitError(ExitFailure, "worker failed", err)
	}
	defer r.Close()

	exe, err := os.Executable()
	if err != nil {
		return WrapExitError(ExitFailure, "worker failed", fault.Resource("locate executable", err))
	}

	env := &worker.Env{
		Pid:          os.Getpid(),
		Region:       r,
		AuditPath:    opts.Log,
		ActivityPath: opts.LockLog,
		Launcher:     opts.spec().launcher(exe, size, false),
		Logger:       logger,
		Options: worker.Options{
			Concurrency: opts.Concurrency,
			MaxJitter:   opts.Jitter,
			Hold:        opts.Hold,
		},
	}

	if err := worker.Run(cmd.Context(), env, item); err != nil {
		logger.Error("worker failed", "pid", env.Pid, "slice", item.String(), "error", err)
		return WrapExitError(ExitFailure, "worker failed", err)
	}
	return nil
}

func (o *WorkerOptions) spec() workerSpec {
	return workerSpec{
		Region:      o.Region,
		Log:         o.Log,
		LockLog:     o.LockLog,
		Concurrency: o.Concurrency,
		Jitter:      o.Jitter,
		Hold:        o.Hold,
		Verbose:     o.Verbose,
	}
}

// workerSpec is the flag set a worker process is started with.
type workerSpec struct {
	Region      string
	Log         string
	LockLog     string
	Concurrency int
	Jitter      time.Duration
	Hold        time.Duration
	Verbose     bool
}

// args builds the command line for item. Positional arguments follow "--"
// because a dispatcher's start index is negative.
func (w workerSpec) args(item plan.WorkItem, regionSize int) []string {
	a := []string{"worker", "--region", w.Region, "--log", w.Log}
	if w.LockLog != "" {
		a = append(a, "--lock-log", w.LockLog)
	}
	a = append(a,
		"--concurrency", strconv.Itoa(w.Concurrency),
		"--jitter", w.Jitter.String(),
		"--hold", w.Hold.String(),
	)
	if w.Verbose {
		a = append(a, "-v")
	}
	return append(a, "--", strconv.Itoa(item.Start), strconv.Itoa(item.Length), strconv.Itoa(regionSize))
}

func (w workerSpec) launcher(exe string, regionSize int, newGroup bool) *spawn.ProcessLauncher {
	return &spawn.ProcessLauncher{
		Path:     exe,
		Args:     func(item plan.WorkItem) []string { return w.args(item, regionSize) },
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
		NewGroup: newGroup,
	}
}

// processFactory starts every worker of a run as a re-execution of this
// binary. The root worker leads a new process group that all of its
// descendants inherit; terminating the run signals that group.
func processFactory(s config.Settings, logger *slog.Logger) coordinator.LauncherFactory {
	return func(t coordinator.Target) (spawn.Launcher, coordinator.Group, error) {
		exe, err := os.Executable()
		if err != nil {
			return nil, nil, fmt.Errorf("locate executable: %w", err)
		}
		spec := workerSpec{
			Region:      t.Region.Path(),
			Log:         t.AuditPath,
			LockLog:     t.ActivityPath,
			Concurrency: s.Concurrency,
			Jitter:      s.Jitter,
			Hold:        s.Hold,
			Verbose:     s.Verbose,
		}
		l := spec.launcher(exe, t.Region.Layout().Size(), true)
		group := coordinator.GroupFunc(func() error {
			logger.Info("terminating worker group", "pgid", l.Group())
			return l.SignalGroup(syscall.SIGTERM)
		})
		return l, group, nil
	}
}
