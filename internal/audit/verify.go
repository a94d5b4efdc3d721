package audit

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// TornLine is a line that is not a complete record.
type TornLine struct {
	Line int
	Text string
}

// Report summarizes an audit log.
type Report struct {
	Entries []Entry
	PerPid  map[int]int
	Torn    []TornLine
}

// Pids returns the pids that wrote to the log, ascending.
func (r *Report) Pids() []int {
	pids := make([]int, 0, len(r.PerPid))
	for pid := range r.PerPid {
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	return pids
}

// Err returns an error describing the first torn line, if any.
func (r *Report) Err() error {
	if len(r.Torn) == 0 {
		return nil
	}
	t := r.Torn[0]
	return fmt.Errorf("audit log has %d torn line(s); first at line %d: %q", len(r.Torn), t.Line, t.Text)
}

// Verify reads the audit log at path and classifies every line.
func Verify(path string) (*Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	return Scan(f)
}

// Scan classifies every line read from r. A final line with no newline is
// torn even if it parses.
func Scan(r io.Reader) (*Report, error) {
	report := &Report{PerPid: make(map[int]int)}
	br := bufio.NewReader(r)

	for n := 1; ; n++ {
		line, err := br.ReadString('\n')
		if errors.Is(err, io.EOF) {
			if line != "" {
				report.Torn = append(report.Torn, TornLine{Line: n, Text: line})
			}
			return report, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read audit log: %w", err)
		}

		text := strings.TrimSuffix(line, "\n")
		e, perr := ParseEntry(text)
		if perr != nil {
			report.Torn = append(report.Torn, TornLine{Line: n, Text: text})
			continue
		}
		report.Entries = append(report.Entries, e)
		report.PerPid[e.Pid]++
	}
}
