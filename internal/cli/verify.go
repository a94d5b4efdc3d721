package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/treesum/internal/audit"
	"github.com/roach88/treesum/internal/config"
	"github.com/roach88/treesum/internal/fault"
	"github.com/roach88/treesum/internal/worker"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	PerPid int
}

// VerifyResult describes an audit log that passed verification.
type VerifyResult struct {
	Path      string      `json:"path"`
	Entries   int         `json:"entries"`
	Processes int         `json:"processes"`
	PerPid    map[int]int `json:"per_pid,omitempty"`
}

func (r VerifyResult) String() string {
	return fmt.Sprintf("%s: %d entries from %d processes, no torn lines", r.Path, r.Entries, r.Processes)
}

// VerifyFailure lists what is wrong with an audit log.
type VerifyFailure struct {
	Torn   []audit.TornLine `json:"torn,omitempty"`
	Uneven map[int]int      `json:"uneven,omitempty"`
}

func (f VerifyFailure) String() string {
	var b strings.Builder
	for _, t := range f.Torn {
		fmt.Fprintf(&b, "torn line %d: %q\n", t.Line, t.Text)
	}
	for pid, n := range f.Uneven {
		fmt.Fprintf(&b, "pid %d wrote %d entries\n", pid, n)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify [audit-log]",
		Short: "Check an audit log for torn records",
		Long: `Check an audit log for torn or interleaved records.

Every line must be a complete "pid index length" record ending in a newline.
With --per-pid N (default 5), every process must also have written exactly N
records; --per-pid 0 skips that check.

Example:
  treesum verify
  treesum verify --format json adder_log`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultAuditLog
			if len(args) == 1 {
				path = args[0]
			}
			return runVerify(opts, path, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.PerPid, "per-pid", worker.Iterations, "expected entries per process (0 skips the check)")

	return cmd
}

func runVerify(opts *VerifyOptions, path string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	report, err := audit.Verify(path)
	if err != nil {
		return out.Fail("verify failed", fault.Resource("verify", err))
	}

	failure := VerifyFailure{Torn: report.Torn}
	if opts.PerPid > 0 {
		for _, pid := range report.Pids() {
			if n := report.PerPid[pid]; n != opts.PerPid {
				if failure.Uneven == nil {
					failure.Uneven = make(map[int]int)
				}
				failure.Uneven[pid] = n
			}
		}
	}

	if len(failure.Torn) > 0 || len(failure.Uneven) > 0 {
		msg := fmt.Sprintf("%s failed verification: %d torn line(s), %d process(es) with unexpected entry counts",
			path, len(failure.Torn), len(failure.Uneven))
		if err := out.Error(ErrCodeAudit, msg, failure); err != nil {
			return err
		}
		return NewExitError(ExitFailure, msg)
	}

	result := VerifyResult{
		Path:      path,
		Entries:   len(report.Entries),
		Processes: len(report.PerPid),
	}
	if opts.Verbose {
		result.PerPid = report.PerPid
	}
	return out.Success(result)
}
