// Package plan decomposes an integer array into disjoint slices and folds
// them back together.
//
// A top-level dispatcher repeatedly splits its live range into groups, has
// every group reduced into its first element, then left-compacts those
// partial sums so the next level sees a contiguous block:
//
//	[3 5 2 9]  split  [3 5][2 9]
//	[8 5 11 9] reduce
//	[8 11 0 0] compact (gap 2)
//	[19 ...]   reduce
//
// Groups handed to distinct workers never overlap, which is what allows the
// shared array to be written without a lock.
package plan

import (
	"fmt"
	"math/bits"
	"strings"
)

// WorkItem is a contiguous slice [Start, Start+Length) of the integer array.
//
// A negative Start never names a slice: it marks a top-level dispatcher over
// [0, Length) and encodes the strategy (see Strategy.DispatchIndex).
type WorkItem struct {
	Start  int `json:"start"`
	Length int `json:"length"`
}

// End returns the exclusive upper bound of the slice.
func (w WorkItem) End() int {
	return w.Start + w.Length
}

// IsDispatch reports whether w marks a top-level dispatcher.
func (w WorkItem) IsDispatch() bool {
	return w.Start < 0
}

// Overlaps reports whether two slices share an index.
func (w WorkItem) Overlaps(o WorkItem) bool {
	return w.Start < o.End() && o.Start < w.End()
}

// String renders a slice as [start,end) and a dispatcher as
// dispatch(strategy, n=length).
func (w WorkItem) String() string {
	if w.IsDispatch() {
		if s, err := StrategyForDispatch(w.Start); err == nil {
			return fmt.Sprintf("dispatch(%s, n=%d)", s, w.Length)
		}
		return fmt.Sprintf("dispatch(%d, n=%d)", w.Start, w.Length)
	}
	return fmt.Sprintf("[%d,%d)", w.Start, w.End())
}

// Strategy selects how a live range is split into groups.
type Strategy int

const (
	// Pairwise splits into ceil(n/2) groups of two. The final group holds a
	// single element when n is odd. Deep tree, halving per level.
	Pairwise Strategy = iota + 1

	// Logarithmic splits into groups of max(ceil(log2 n), 2). A trailing
	// remainder shorter than two is absorbed by the previous group. Shallow,
	// wide tree.
	Logarithmic
)

// Strategies lists every strategy in dispatch-index order.
var Strategies = []Strategy{Pairwise, Logarithmic}

func (s Strategy) String() string {
	switch s {
	case Pairwise:
		return "pairwise"
	case Logarithmic:
		return "logarithmic"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// ParseStrategy resolves a strategy by name.
func ParseStrategy(name string) (Strategy, error) {
	for _, s := range Strategies {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown strategy %q: must be one of pairwise, logarithmic", name)
}

// DispatchIndex is the negative start index that selects s for a top-level
// dispatcher.
func (s Strategy) DispatchIndex() int {
	return -int(s)
}

// StrategyForDispatch decodes a negative start index.
func StrategyForDispatch(start int) (Strategy, error) {
	s := Strategy(-start)
	switch s {
	case Pairwise, Logarithmic:
		return s, nil
	}
	return 0, fmt.Errorf("start index %d selects no strategy", start)
}

// GroupSize returns the group size s uses for a live range of n elements.
func (s Strategy) GroupSize(n int) int {
	if s == Logarithmic && n > 2 {
		// ceil(log2 n) for n >= 2
		return max(bits.Len(uint(n-1)), 2)
	}
	return 2
}

// Split partitions [start, start+length) into groups.
//
// Group k starts at start + k*GroupSize(length); only the last group's length
// differs. The result covers the whole range and no two groups overlap.
func (s Strategy) Split(start, length int) []WorkItem {
	if length <= 0 {
		return nil
	}

	size := s.GroupSize(length)
	count := (length + size - 1) / size

	if s == Logarithmic && count > 1 {
		rest := length - (count-1)*size
		if rest < 2 {
			count--
		}
	}

	groups := make([]WorkItem, count)
	for k := range groups {
		groups[k] = WorkItem{Start: start + k*size, Length: size}
	}
	last := &groups[count-1]
	last.Length = start + length - last.Start

	return groups
}

// Reduce sums ints[start:start+length] into ints[start].
func Reduce(ints []int64, start, length int) {
	var sum int64
	for _, v := range ints[start : start+length] {
		sum += v
	}
	ints[start] = sum
}

// Compact moves the first element of every group to consecutive slots from
// start and zero-fills the vacated tail of [start, start+length). It returns
// the new live length (the number of groups).
//
// groups must come from Split over the same range.
func Compact(ints []int64, start, length int, groups []WorkItem) int {
	for k, g := range groups {
		ints[start+k] = ints[g.Start]
	}
	tail := ints[start+len(groups) : start+length]
	for i := range tail {
		tail[i] = 0
	}
	return len(groups)
}

// Level is one fan-out round of a dispatcher.
type Level struct {
	Width  int        `json:"width"`
	Groups []WorkItem `json:"groups"`
}

// Levels returns every fan-out round a dispatcher performs over n elements,
// followed by the final reduction it does itself.
func Levels(s Strategy, n int) ([]Level, WorkItem) {
	var levels []Level
	width := n
	for width > 2 {
		groups := s.Split(0, width)
		levels = append(levels, Level{Width: width, Groups: groups})
		width = len(groups)
	}
	return levels, WorkItem{Start: 0, Length: width}
}

// Describe renders the decomposition of n elements, one line per level.
func Describe(s Strategy, n int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s n=%d\n", s, n)

	levels, final := Levels(s, n)
	for i, lvl := range levels {
		parts := make([]string, len(lvl.Groups))
		for j, g := range lvl.Groups {
			parts[j] = g.String()
		}
		fmt.Fprintf(&b, "level %d width=%d groups=%s\n", i+1, lvl.Width, strings.Join(parts, " "))
	}
	fmt.Fprintf(&b, "reduce %s\n", final)

	return b.String()
}

// Simulate runs the whole dispatcher tree in-process on a copy of values and
// returns the value left at index 0.
func Simulate(s Strategy, values []int64) int64 {
	if len(values) == 0 {
		return 0
	}
	ints := make([]int64, len(values))
	copy(ints, values)

	width := len(ints)
	for width > 2 {
		groups := s.Split(0, width)
		for _, g := range groups {
			Reduce(ints, g.Start, g.Length)
		}
		width = Compact(ints, 0, width, groups)
	}
	Reduce(ints, 0, width)

	return ints[0]
}
