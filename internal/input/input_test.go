package input

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/treesum/internal/fault"
)

func TestParse_Valid(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []int64
	}{
		{"trailing newline", "3\n5\n2\n9\n", []int64{3, 5, 2, 9}},
		{"no trailing newline", "3\n5\n2\n9", []int64{3, 5, 2, 9}},
		{"single value", "42\n", []int64{42}},
		{"zeros and leading zeros", "0\n007\n", []int64{0, 7}},
		{"large value", "9223372036854775807\n", []int64{9223372036854775807}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(strings.NewReader(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		in   string
		line int
	}{
		{"blank line between entries", "3\n\n5\n", 2},
		{"leading blank line", "\n3\n", 1},
		{"double trailing newline", "3\n5\n\n", 3},
		{"negative value", "3\n-5\n", 2},
		{"trailing garbage", "3\n5x\n", 2},
		{"inner space", "3\n5 6\n", 2},
		{"carriage return", "3\r\n", 1},
		{"overflow", "3\n99999999999999999999\n", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(strings.NewReader(tt.in))
			require.Error(t, err)
			assert.Nil(t, got, "no partial parse")
			assert.True(t, fault.IsConfiguration(err))

			var lineErr *LineError
			require.ErrorAs(t, err, &lineErr)
			assert.Equal(t, tt.line, lineErr.Line)
		})
	}
}

func TestParse_Empty(t *testing.T) {
	_, err := Parse(strings.NewReader(""))
	require.Error(t, err)
	assert.True(t, fault.IsConfiguration(err))
	assert.True(t, errors.Is(err, ErrEmpty))
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ints.txt")
	require.NoError(t, os.WriteFile(path, []byte("1\n2\n3\n"), 0644))

	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, got)
}

func TestReadFile_Missing(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
	assert.True(t, fault.IsConfiguration(err))
}

func TestSum(t *testing.T) {
	got, err := Sum([]int64{3, 5, 2, 9})
	require.NoError(t, err)
	assert.Equal(t, int64(19), got)

	got, err = Sum([]int64{math.MaxInt64 - 1, 1})
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), got)
}

func TestSum_Overflow(t *testing.T) {
	values, err := Parse(strings.NewReader("9223372036854775807\n0\n1\n"))
	require.NoError(t, err, "each value fits on its own")

	_, err = Sum(values)
	require.Error(t, err)
	assert.True(t, fault.IsConfiguration(err))
	assert.ErrorIs(t, err, ErrOverflow)
	assert.Contains(t, err.Error(), "line 3")
}
