// Package input reads the integer list a run sums.
//
// The format is strict: one non-negative decimal integer per line, no blank
// lines, nothing but digits. A single trailing newline at end of file is
// accepted. Any violation rejects the whole file; no partial result is ever
// returned.
package input

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/roach88/treesum/internal/fault"
)

// ErrEmpty is returned for input holding no integers.
var ErrEmpty = errors.New("input contains no integers")

// ErrOverflow is returned when the values' total does not fit in an int64.
var ErrOverflow = errors.New("sum overflows int64")

// LineError describes the first offending line.
type LineError struct {
	Line   int
	Reason string
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

// ReadFile parses the file at path.
// All failures, including a missing file, are configuration faults.
func ReadFile(path string) ([]int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fault.Configuration("open input", err)
	}
	defer f.Close()

	return Parse(f)
}

// Sum returns the exact total of values, which must be non-negative. A total
// beyond math.MaxInt64 is a configuration fault naming the line where the
// running total first overflows.
func Sum(values []int64) (int64, error) {
	var total int64
	for i, v := range values {
		if v > math.MaxInt64-total {
			return 0, fault.Configuration("sum input", fmt.Errorf("%w at line %d", ErrOverflow, i+1))
		}
		total += v
	}
	return total, nil
}

// Parse reads integers from r.
func Parse(r io.Reader) ([]int64, error) {
	br := bufio.NewReader(r)

	var (
		values []int64
		line   = 1
		digits []byte
	)

	for {
		ch, err := br.ReadByte()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fault.Configuration("read input", err)
		}

		switch {
		case ch == '\n':
			if len(digits) == 0 {
				return nil, fault.Configuration("parse input", &LineError{Line: line, Reason: "blank line"})
			}
			v, perr := parseDigits(digits, line)
			if perr != nil {
				return nil, perr
			}
			values = append(values, v)
			digits = digits[:0]
			line++
		case ch >= '0' && ch <= '9':
			digits = append(digits, ch)
		default:
			return nil, fault.Configuration("parse input",
				&LineError{Line: line, Reason: fmt.Sprintf("unexpected character %q", ch)})
		}
	}

	// Last line without a terminating newline.
	if len(digits) > 0 {
		v, err := parseDigits(digits, line)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}

	if len(values) == 0 {
		return nil, fault.Configuration("parse input", ErrEmpty)
	}
	return values, nil
}

func parseDigits(digits []byte, line int) (int64, error) {
	v, err := strconv.ParseInt(string(digits), 10, 64)
	if err != nil {
		return 0, fault.Configuration("parse input", &LineError{Line: line, Reason: "value out of range"})
	}
	return v, nil
}
