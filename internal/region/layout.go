package region

import (
	"errors"
	"fmt"
)

const (
	// MutexSize is the size of one mutex block. One cache line, so the two
	// mutexes and the array never share a line.
	MutexSize = 64

	// IntSize is the size of one array element (int64).
	IntSize = 8
)

// ErrLayout is returned when a size cannot describe any valid layout.
var ErrLayout = errors.New("invalid region layout")

// Layout is the fixed-offset contract every process of a run agrees on:
//
//	offset 0                 primary mutex
//	offset MutexSize         secondary mutex (only when Secondary)
//	ArrayOffset()            Count int64 values
//
// It is computed once by the coordinator and rebuilt by every worker from the
// region size it is started with.
type Layout struct {
	Count     int
	Secondary bool
}

// NewLayout returns the layout for count integers.
func NewLayout(count int, secondary bool) (Layout, error) {
	if count < 1 {
		return Layout{}, fmt.Errorf("%w: count %d < 1", ErrLayout, count)
	}
	return Layout{Count: count, Secondary: secondary}, nil
}

// LayoutForSize recovers the layout from a region size in bytes.
func LayoutForSize(size int, secondary bool) (Layout, error) {
	header := headerSize(secondary)
	if size <= header || (size-header)%IntSize != 0 {
		return Layout{}, fmt.Errorf("%w: size %d (secondary=%t)", ErrLayout, size, secondary)
	}
	return NewLayout((size-header)/IntSize, secondary)
}

// PrimaryOffset is the byte offset of the primary mutex.
func (l Layout) PrimaryOffset() int {
	return 0
}

// SecondaryOffset is the byte offset of the secondary mutex, or -1.
func (l Layout) SecondaryOffset() int {
	if !l.Secondary {
		return -1
	}
	return MutexSize
}

// ArrayOffset is the byte offset of the first integer.
func (l Layout) ArrayOffset() int {
	return headerSize(l.Secondary)
}

// Size is the total region size in bytes.
func (l Layout) Size() int {
	return l.ArrayOffset() + l.Count*IntSize
}

func headerSize(secondary bool) int {
	if secondary {
		return 2 * MutexSize
	}
	return MutexSize
}
