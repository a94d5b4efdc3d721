package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/treesum/internal/fault"
	"github.com/roach88/treesum/internal/input"
	"github.com/roach88/treesum/internal/plan"
)

// PlanOptions holds flags for the plan command.
type PlanOptions struct {
	*RootOptions
	Strategy string
	Input    string
}

// PlanResult is the decomposition of n integers under one strategy.
type PlanResult struct {
	Strategy string       `json:"strategy"`
	N        int          `json:"n"`
	Levels   []plan.Level `json:"levels"`
	Workers  int          `json:"workers"`
	Sum      *int64       `json:"sum,omitempty"`
	text     string
}

func (r PlanResult) String() string {
	s := fmt.Sprintf("%sworkers %d", r.text, r.Workers)
	if r.Sum != nil {
		s += "\nsum " + formatInt(*r.Sum)
	}
	return s
}

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PlanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "plan [n]",
		Short: "Show how a run would decompose its input",
		Long: `Show the levels of groups a dispatcher would spawn for n integers, and
the number of worker processes that takes. With --input, n is the number of
integers in the file and the result is simulated without spawning anything.

Example:
  treesum plan 20
  treesum plan -s logarithmic --input numbers.txt`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(opts, args, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Strategy, "strategy", "s", plan.Pairwise.String(), "decomposition strategy (pairwise|logarithmic)")
	cmd.Flags().StringVar(&opts.Input, "input", "", "take n from this input file and simulate the sum")

	return cmd
}

func runPlan(opts *PlanOptions, args []string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	s, err := plan.ParseStrategy(opts.Strategy)
	if err != nil {
		return out.Fail("plan", fault.Configuration("strategy", err))
	}

	var (
		n      int
		values []int64
	)
	switch {
	case opts.Input != "" && len(args) == 0:
		values, err = input.ReadFile(opts.Input)
		if err != nil {
			return out.Fail("plan", err)
		}
		if _, err := input.Sum(values); err != nil {
			return out.Fail("plan", err)
		}
		n = len(values)
	case opts.Input == "" && len(args) == 1:
		n, err = strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return out.Fail("plan", fault.Configuration("n", fmt.Errorf("n must be a positive integer, got %q", args[0])))
		}
	default:
		return out.Fail("plan", fault.Configuration("plan", fmt.Errorf("give either n or --input")))
	}

	levels, _ := plan.Levels(s, n)
	workers := 1
	for _, lvl := range levels {
		workers += len(lvl.Groups)
	}

	result := PlanResult{
		Strategy: s.String(),
		N:        n,
		Levels:   levels,
		Workers:  workers,
		text:     plan.Describe(s, n),
	}
	if values != nil {
		sum := plan.Simulate(s, values)
		result.Sum = &sum
	}
	return out.Success(result)
}
