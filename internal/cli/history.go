package cli

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/treesum/internal/fault"
	"github.com/roach88/treesum/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database string
	Limit    int
	RunID    string
}

// HistoryEntry is one ledger row as shown to the user.
type HistoryEntry struct {
	RunID       string `json:"run_id"`
	Started     string `json:"started"`
	Status      string `json:"status"`
	Strategy    string `json:"strategy"`
	Count       int    `json:"count"`
	Concurrency int    `json:"concurrency"`
	Sum         *int64 `json:"sum,omitempty"`
	AuditLines  int    `json:"audit_lines"`
	DurationMS  int64  `json:"duration_ms"`
	Error       string `json:"error,omitempty"`
}

// HistoryList is the output of history without --run.
type HistoryList []HistoryEntry

func (l HistoryList) String() string {
	if len(l) == 0 {
		return "no runs recorded"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-36s  %-20s  %-10s  %-11s  %8s  %s\n", "RUN", "STARTED", "STATUS", "STRATEGY", "COUNT", "SUM")
	for _, e := range l {
		sum := "-"
		if e.Sum != nil {
			sum = formatInt(*e.Sum)
		}
		fmt.Fprintf(&b, "%-36s  %-20s  %-10s  %-11s  %8s  %s\n",
			e.RunID, e.Started, e.Status, e.Strategy, formatInt(int64(e.Count)), sum)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// RunDetail is the output of history --run.
type RunDetail struct {
	HistoryEntry
	Entries    int         `json:"entries"`
	PerPid     map[int]int `json:"per_pid"`
	Consistent bool        `json:"consistent"`
}

func (d RunDetail) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run         %s\n", d.RunID)
	fmt.Fprintf(&b, "status      %s\n", d.Status)
	if d.Sum != nil {
		fmt.Fprintf(&b, "sum         %s\n", formatInt(*d.Sum))
	}
	if d.Error != "" {
		fmt.Fprintf(&b, "error       %s\n", d.Error)
	}
	fmt.Fprintf(&b, "input       %s integers, %s, concurrency %d\n", formatInt(int64(d.Count)), d.Strategy, d.Concurrency)
	fmt.Fprintf(&b, "started     %s (%s)\n", d.Started, time.Duration(d.DurationMS)*time.Millisecond)
	fmt.Fprintf(&b, "audit       %d stored of %d lines from %d processes", d.Entries, d.AuditLines, len(d.PerPid))
	if !d.Consistent {
		b.WriteString(" (inconsistent)")
	}
	return b.String()
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List runs recorded in a ledger",
		Long: `List runs recorded with "treesum run --db", newest first.

With --run, show one run together with a reconciliation of its stored audit
entries.

Example:
  treesum history --db runs.db
  treesum history --db runs.db --run 0190f6c4-...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite ledger (required)")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "maximum runs to list (0 lists all)")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "show a single run")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	ctx := cmd.Context()

	st, err := store.Open(opts.Database)
	if err != nil {
		return out.Fail("open ledger", fault.Resource("open ledger", err))
	}
	defer st.Close()

	if opts.RunID != "" {
		state, err := st.GetRunState(ctx, opts.RunID)
		if errors.Is(err, sql.ErrNoRows) {
			return out.Fail("history", fault.Configuration("history", fmt.Errorf("run %q not found", opts.RunID)))
		}
		if err != nil {
			return out.Fail("history", fault.Resource("history", err))
		}
		return out.Success(RunDetail{
			HistoryEntry: historyEntry(state.Run),
			Entries:      state.Entries,
			PerPid:       state.PerPid,
			Consistent:   state.Consistent,
		})
	}

	runs, err := st.ListRuns(ctx, opts.Limit)
	if err != nil {
		return out.Fail("history", fault.Resource("history", err))
	}
	list := make(HistoryList, 0, len(runs))
	for _, r := range runs {
		list = append(list, historyEntry(r))
	}
	return out.Success(list)
}

func historyEntry(r store.RunRecord) HistoryEntry {
	return HistoryEntry{
		RunID:       r.ID,
		Started:     r.StartedAt.Local().Format(time.DateTime),
		Status:      r.Status,
		Strategy:    r.Strategy,
		Count:       r.Count,
		Concurrency: r.Concurrency,
		Sum:         r.Sum,
		AuditLines:  r.AuditLines,
		DurationMS:  r.Duration().Milliseconds(),
		Error:       r.Error,
	}
}
