// Package region provides the shared memory a run's processes cooperate
// through.
//
// A Region is a file mapped MAP_SHARED by every process, laid out according
// to a Layout: one or two cross-process mutexes followed by the integer array.
// The coordinator creates and initializes the region before spawning anything
// and is the only process that ever removes it. Workers open the existing
// file with the size they were started with.
//
// The integer array is accessed without locking; callers must only write the
// index range they own.
package region

import (
	"errors"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/roach88/treesum/internal/fault"
)

// ErrUninitialized is returned when a region's mutex was never initialized
// for cross-process use.
var ErrUninitialized = errors.New("mutex not initialized for cross-process use")

// Region is one process's mapping of the shared region.
type Region struct {
	path   string
	layout Layout
	data   []byte
}

// Create allocates a new region file at path, sized for layout, and maps it.
// The file must not exist. Its contents start zeroed.
func Create(path string, layout Layout) (*Region, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fault.Resource("create region", err)
	}
	defer f.Close()

	if err := f.Truncate(int64(layout.Size())); err != nil {
		os.Remove(path)
		return nil, fault.Resource("size region", err)
	}

	data, err := mapFile(f, layout.Size())
	if err != nil {
		os.Remove(path)
		return nil, fault.Resource("map region", err)
	}

	return &Region{path: path, layout: layout, data: data}, nil
}

// Open maps an existing region. The file size must match layout exactly and
// the primary mutex must already be initialized.
func Open(path string, layout Layout) (*Region, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fault.Resource("open region", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fault.Resource("stat region", err)
	}
	if info.Size() != int64(layout.Size()) {
		return nil, fault.Resource("open region",
			fmt.Errorf("%w: file is %d bytes, layout wants %d", ErrLayout, info.Size(), layout.Size()))
	}

	data, err := mapFile(f, layout.Size())
	if err != nil {
		return nil, fault.Resource("map region", err)
	}

	r := &Region{path: path, layout: layout, data: data}
	if !r.Primary().Shared() || (layout.Secondary && !r.Secondary().Shared()) {
		r.Close()
		return nil, fault.Resource("open region", ErrUninitialized)
	}
	return r, nil
}

func mapFile(f *os.File, size int) ([]byte, error) {
	return unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

// InitMutexes stamps both mutex blocks as unlocked and process-shared.
// Must run before any other process opens the region.
func (r *Region) InitMutexes() {
	r.Primary().Init()
	if r.layout.Secondary {
		r.Secondary().Init()
	}
}

// Primary returns the mutex guarding the audit log.
func (r *Region) Primary() *Mutex {
	return mutexAt(r.data[r.layout.PrimaryOffset():])
}

// Secondary returns the mutex guarding the lock-activity log, or nil when the
// layout has none.
func (r *Region) Secondary() *Mutex {
	if !r.layout.Secondary {
		return nil
	}
	return mutexAt(r.data[r.layout.SecondaryOffset():])
}

// Ints returns the integer array as a slice backed by the mapping. It must
// not be used after Close.
func (r *Region) Ints() []int64 {
	off := r.layout.ArrayOffset()
	return unsafe.Slice((*int64)(unsafe.Pointer(&r.data[off])), r.layout.Count)
}

// Load copies values into the array. len(values) must equal the layout count.
func (r *Region) Load(values []int64) error {
	if len(values) != r.layout.Count {
		return fmt.Errorf("load region: %d values for %d slots", len(values), r.layout.Count)
	}
	copy(r.Ints(), values)
	return nil
}

// Path returns the backing file path.
func (r *Region) Path() string {
	return r.path
}

// Layout returns the layout the region was mapped with.
func (r *Region) Layout() Layout {
	return r.layout
}

// Close unmaps the region. Safe to call more than once.
func (r *Region) Close() error {
	if r.data == nil {
		return nil
	}
	err := unix.Munmap(r.data)
	r.data = nil
	return err
}

// Remove deletes the backing file. Processes still holding a mapping keep it
// until they unmap. Removing an already removed region is not an error.
func (r *Region) Remove() error {
	if err := os.Remove(r.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
