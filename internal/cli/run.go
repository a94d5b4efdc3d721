package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/treesum/internal/config"
	"github.com/roach88/treesum/internal/coordinator"
	"github.com/roach88/treesum/internal/fault"
	"github.com/roach88/treesum/internal/plan"
	"github.com/roach88/treesum/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Settings   config.Settings
	Strategy   string
	ConfigPath string

	// RunIDs allows overriding run id generation (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs coordinator.RunIDGenerator
}

// RunSummary is the result of a successful run.
type RunSummary struct {
	RunID        string `json:"run_id"`
	Sum          int64  `json:"sum"`
	Count        int    `json:"count"`
	Strategy     string `json:"strategy"`
	Workers      int    `json:"workers"`
	AuditEntries int    `json:"audit_entries"`
	DurationMS   int64  `json:"duration_ms"`
}

func (s RunSummary) String() string {
	return fmt.Sprintf("sum %s\nrun %s: %s integers, %s, %d workers, %d audit entries",
		formatInt(s.Sum), s.RunID, formatInt(int64(s.Count)), s.Strategy, s.Workers, s.AuditEntries)
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts, Settings: config.Defaults()}
	s := &opts.Settings

	cmd := &cobra.Command{
		Use:   "run [input-file]",
		Short: "Sum the integers in a file with a tree of processes",
		Long: `Sum the integers in a file with a tree of processes.

The input holds one non-negative integer per line with no blank lines. The
coordinator maps the integers into a shared region, starts one dispatcher
process and waits for the tree to finish, the budget to expire or a
termination signal. Every worker appends five records to the audit log.

Flags override values read from --config.

Example:
  treesum run numbers.txt
  treesum run -s logarithmic -c 8 --log adder_log numbers.txt
  treesum run --config run.yaml --db runs.db`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSum(opts, args, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Strategy, "strategy", "s", s.Strategy.String(), "decomposition strategy (pairwise|logarithmic)")
	cmd.Flags().IntVarP(&s.Concurrency, "concurrency", "c", s.Concurrency, "maximum live children per spawner")
	cmd.Flags().DurationVar(&s.Budget, "budget", s.Budget, "wall-clock limit for the whole run (0 disables)")
	cmd.Flags().StringVar(&s.AuditLog, "log", s.AuditLog, "audit log path")
	cmd.Flags().StringVar(&s.LockLog, "lock-log", s.LockLog, "lock-activity log path (enables the secondary mutex)")
	cmd.Flags().StringVar(&s.RegionDir, "region-dir", s.RegionDir, "directory for the shared region file (default: system temp dir)")
	cmd.Flags().DurationVar(&s.Jitter, "jitter", s.Jitter, "maximum pause before each critical-section entry")
	cmd.Flags().DurationVar(&s.Hold, "hold", s.Hold, "time spent in the critical section before and after the write")
	cmd.Flags().StringVar(&s.DB, "db", s.DB, "record the run in this SQLite ledger")
	cmd.Flags().BoolVar(&s.InProcess, "in-process", s.InProcess, "run workers as goroutines instead of processes")
	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "YAML run profile")

	return cmd
}

func runSum(opts *RunOptions, args []string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	s, err := opts.resolve(cmd, args)
	if err != nil {
		return out.Fail("invalid configuration", err)
	}
	out.Verbose = s.Verbose

	logger := newLogger(cmd.ErrOrStderr(), s.Verbose)
	slog.SetDefault(logger)

	factory := processFactory(s, logger)
	if s.InProcess {
		factory = coordinator.InProcess(s.Worker(), logger)
	}

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	copts := []coordinator.Option{coordinator.WithLogger(logger), coordinator.WithSignals(sigChan)}
	if opts.RunIDs != nil {
		copts = append(copts, coordinator.WithRunIDs(opts.RunIDs))
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	res, runErr := coordinator.New(s.Coordinator(), factory, copts...).Run(ctx)

	if s.DB != "" && res != nil {
		if err := recordRun(ctx, s, res, runErr); err != nil {
			logger.Error("record run", "db", s.DB, "error", err)
			if runErr == nil {
				return out.Fail("record run", fault.Resource("record run", err))
			}
		}
	}

	if runErr != nil {
		return out.Fail("run failed", runErr)
	}

	return out.Success(RunSummary{
		RunID:        res.RunID,
		Sum:          res.Sum,
		Count:        res.Count,
		Strategy:     res.Strategy.String(),
		Workers:      len(res.Audit.Pids()),
		AuditEntries: len(res.Audit.Entries),
		DurationMS:   res.Duration().Milliseconds(),
	})
}

// resolve merges defaults, the optional profile and explicitly set flags.
func (o *RunOptions) resolve(cmd *cobra.Command, args []string) (config.Settings, error) {
	s := o.Settings
	s.Verbose = o.Verbose

	st, err := plan.ParseStrategy(o.Strategy)
	if err != nil {
		return s, fault.Configuration("strategy", err)
	}
	s.Strategy = st

	if len(args) == 1 {
		s.Input = args[0]
	}

	if o.ConfigPath != "" {
		p, err := config.Load(o.ConfigPath)
		if err != nil {
			return s, err
		}
		explicit := func(key string) bool {
			if key == "input" {
				return len(args) == 1
			}
			f := cmd.Flag(key)
			return f != nil && f.Changed
		}
		if err := p.Apply(&s, explicit); err != nil {
			return s, err
		}
	}

	if s.Input == "" {
		return s, fault.Configuration("input", errors.New("no input file given"))
	}
	return s, nil
}

func recordRun(ctx context.Context, s config.Settings, res *coordinator.Result, runErr error) error {
	st, err := store.Open(s.DB)
	if err != nil {
		return err
	}
	defer st.Close()

	rec := store.RunRecord{
		ID:          res.RunID,
		InputPath:   s.Input,
		Count:       res.Count,
		Strategy:    res.Strategy.String(),
		Concurrency: s.Concurrency,
		Status:      store.StatusCompleted,
		StartedAt:   res.Started,
		FinishedAt:  res.Finished,
	}
	if res.Audit != nil {
		rec.AuditLines = len(res.Audit.Entries)
	}

	switch {
	case runErr == nil:
		sum := res.Sum
		rec.Sum = &sum
	case fault.IsTermination(runErr):
		rec.Status = store.StatusTerminated
		rec.Error = runErr.Error()
	default:
		rec.Status = store.StatusFailed
		rec.Error = runErr.Error()
	}

	if err := st.RecordRun(ctx, rec); err != nil {
		return err
	}
	if runErr == nil {
		return st.RecordAudit(ctx, res.RunID, res.Audit.Entries)
	}
	return nil
}
