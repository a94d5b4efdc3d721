package audit

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Entry is one audit record: the worker that entered the critical section,
// the index it reduced into, and the length of its slice.
type Entry struct {
	Pid    int
	Index  int
	Length int
}

// String renders the record as written to the log, without newline.
func (e Entry) String() string {
	return fmt.Sprintf("%d %d %d", e.Pid, e.Index, e.Length)
}

// ParseEntry parses one log line (without newline).
func ParseEntry(line string) (Entry, error) {
	f, err := ints(line, 3)
	if err != nil {
		return Entry{}, fmt.Errorf("parse entry %q: %w", line, err)
	}
	return Entry{Pid: int(f[0]), Index: int(f[1]), Length: int(f[2])}, nil
}

// Activity is one lock-activity record: when a worker acquired and released
// the primary mutex.
type Activity struct {
	Pid      int
	Index    int
	Acquired time.Time
	Released time.Time
}

// Held returns how long the mutex was held.
func (a Activity) Held() time.Duration {
	return a.Released.Sub(a.Acquired)
}

// String renders the record as written to the lock-activity log.
func (a Activity) String() string {
	return fmt.Sprintf("%d %d %d %d", a.Pid, a.Index, a.Acquired.UnixNano(), a.Released.UnixNano())
}

// ParseActivity parses one lock-activity line (without newline).
func ParseActivity(line string) (Activity, error) {
	f, err := ints(line, 4)
	if err != nil {
		return Activity{}, fmt.Errorf("parse activity %q: %w", line, err)
	}
	return Activity{
		Pid:      int(f[0]),
		Index:    int(f[1]),
		Acquired: time.Unix(0, f[2]),
		Released: time.Unix(0, f[3]),
	}, nil
}

func ints(line string, n int) ([]int64, error) {
	fields := strings.Split(line, " ")
	if len(fields) != n {
		return nil, fmt.Errorf("want %d fields, got %d", n, len(fields))
	}
	out := make([]int64, n)
	for i, f := range fields {
		v, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
