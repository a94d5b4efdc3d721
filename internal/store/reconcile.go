package store

import (
	"context"
	"fmt"
	"slices"
)

// RunState is a recorded run together with an analysis of its audit entries.
type RunState struct {
	Run     RunRecord
	PerPid  map[int]int
	Entries int

	// Consistent is true when the stored entries match the recorded line
	// count and every process wrote the same number of entries.
	Consistent bool
}

// Pids returns the processes that wrote entries, ascending.
func (st RunState) Pids() []int {
	pids := make([]int, 0, len(st.PerPid))
	for pid := range st.PerPid {
		pids = append(pids, pid)
	}
	slices.Sort(pids)
	return pids
}

// GetRunState reads a run and reconciles its stored audit entries.
// Returns sql.ErrNoRows (wrapped) if the run does not exist.
func (s *Store) GetRunState(ctx context.Context, id string) (RunState, error) {
	run, err := s.ReadRun(ctx, id)
	if err != nil {
		return RunState{}, fmt.Errorf("get run state: %w", err)
	}

	entries, err := s.ReadAudit(ctx, id)
	if err != nil {
		return RunState{}, fmt.Errorf("get run state: %w", err)
	}

	st := RunState{Run: run, PerPid: make(map[int]int), Entries: len(entries)}
	for _, e := range entries {
		st.PerPid[e.Pid]++
	}

	st.Consistent = st.Entries == run.AuditLines
	want := -1
	for _, n := range st.PerPid {
		if want == -1 {
			want = n
		}
		if n != want {
			st.Consistent = false
		}
	}
	return st, nil
}
