package region

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/treesum/internal/fault"
)

func TestLayout_Offsets(t *testing.T) {
	l, err := NewLayout(4, false)
	require.NoError(t, err)
	assert.Equal(t, 0, l.PrimaryOffset())
	assert.Equal(t, -1, l.SecondaryOffset())
	assert.Equal(t, MutexSize, l.ArrayOffset())
	assert.Equal(t, MutexSize+4*IntSize, l.Size())

	l2, err := NewLayout(4, true)
	require.NoError(t, err)
	assert.Equal(t, MutexSize, l2.SecondaryOffset())
	assert.Equal(t, 2*MutexSize, l2.ArrayOffset())
	assert.Equal(t, 2*MutexSize+4*IntSize, l2.Size())
}

func TestLayoutForSize_RoundTrip(t *testing.T) {
	for _, secondary := range []bool{false, true} {
		for _, n := range []int{1, 2, 3, 100} {
			l, err := NewLayout(n, secondary)
			require.NoError(t, err)

			got, err := LayoutForSize(l.Size(), secondary)
			require.NoError(t, err)
			assert.Equal(t, l, got)
		}
	}
}

func TestLayoutForSize_Invalid(t *testing.T) {
	sizes := []int{0, MutexSize, MutexSize + 3, -8}
	for _, size := range sizes {
		_, err := LayoutForSize(size, false)
		assert.ErrorIs(t, err, ErrLayout, "size=%d", size)
	}

	_, err := NewLayout(0, false)
	assert.ErrorIs(t, err, ErrLayout)
}

func newTestRegion(t *testing.T, values []int64, secondary bool) *Region {
	t.Helper()
	layout, err := NewLayout(len(values), secondary)
	require.NoError(t, err)

	r, err := Create(filepath.Join(t.TempDir(), "region"), layout)
	require.NoError(t, err)
	t.Cleanup(func() {
		r.Close()
		r.Remove()
	})

	r.InitMutexes()
	require.NoError(t, r.Load(values))
	return r
}

func TestCreateOpen_SharesArray(t *testing.T) {
	r := newTestRegion(t, []int64{3, 5, 2, 9}, true)

	other, err := Open(r.Path(), r.Layout())
	require.NoError(t, err)
	defer other.Close()

	assert.Equal(t, []int64{3, 5, 2, 9}, other.Ints())

	other.Ints()[0] = 19
	assert.Equal(t, int64(19), r.Ints()[0], "write through one mapping is visible in the other")
}

func TestCreate_ExistingFileFails(t *testing.T) {
	r := newTestRegion(t, []int64{1}, false)

	_, err := Create(r.Path(), r.Layout())
	require.Error(t, err)
	assert.True(t, fault.IsResource(err))
}

func TestOpen_SizeMismatch(t *testing.T) {
	r := newTestRegion(t, []int64{1, 2, 3}, false)

	wrong, err := NewLayout(4, false)
	require.NoError(t, err)

	_, err = Open(r.Path(), wrong)
	require.Error(t, err)
	assert.True(t, fault.IsResource(err))
	assert.ErrorIs(t, err, ErrLayout)
}

func TestOpen_UninitializedMutex(t *testing.T) {
	layout, err := NewLayout(2, false)
	require.NoError(t, err)
	r, err := Create(filepath.Join(t.TempDir(), "region"), layout)
	require.NoError(t, err)
	defer r.Close()

	_, err = Open(r.Path(), layout)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUninitialized))
}

func TestLoad_CountMismatch(t *testing.T) {
	r := newTestRegion(t, []int64{1, 2}, false)
	assert.Error(t, r.Load([]int64{1}))
}

func TestClose_Idempotent(t *testing.T) {
	r := newTestRegion(t, []int64{1}, false)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	require.NoError(t, r.Remove())
	require.NoError(t, r.Remove())
}

func TestSecondary_AbsentWithoutLayout(t *testing.T) {
	r := newTestRegion(t, []int64{1}, false)
	assert.Nil(t, r.Secondary())
	assert.NotNil(t, r.Primary())
}

func TestMutex_TryLock(t *testing.T) {
	r := newTestRegion(t, []int64{0}, false)
	m := r.Primary()

	require.True(t, m.TryLock())
	assert.False(t, m.TryLock())
	m.Unlock()
	assert.True(t, m.TryLock())
	m.Unlock()
}

func TestMutex_GoroutinesExclusive(t *testing.T) {
	r := newTestRegion(t, []int64{0}, false)
	m := r.Primary()
	ints := r.Ints()

	const workers, rounds = 8, 2000
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				m.Lock()
				v := ints[0]
				runtime.Gosched()
				ints[0] = v + 1
				m.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(workers*rounds), ints[0])
}

const helperEnv = "TREESUM_REGION_HELPER"

// TestHelperProcess is not a real test. It is re-executed as a separate
// process by TestMutex_ProcessesExclusive.
func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}

	size, _ := strconv.Atoi(os.Getenv("REGION_SIZE"))
	rounds, _ := strconv.Atoi(os.Getenv("ROUNDS"))
	layout, err := LayoutForSize(size, false)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	r, err := Open(os.Getenv("REGION_PATH"), layout)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	m := r.Primary()
	ints := r.Ints()
	for i := 0; i < rounds; i++ {
		m.Lock()
		v := ints[0]
		runtime.Gosched()
		ints[0] = v + 1
		m.Unlock()
	}
	r.Close()
	os.Exit(0)
}

func TestMutex_ProcessesExclusive(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns processes")
	}
	r := newTestRegion(t, []int64{0}, false)

	const procs, rounds = 4, 3000
	cmds := make([]*exec.Cmd, procs)
	for i := range cmds {
		cmd := exec.Command(os.Args[0], "-test.run=^TestHelperProcess$")
		cmd.Env = append(os.Environ(),
			helperEnv+"=1",
			"REGION_PATH="+r.Path(),
			"REGION_SIZE="+strconv.Itoa(r.Layout().Size()),
			"ROUNDS="+strconv.Itoa(rounds),
		)
		cmd.Stderr = os.Stderr
		require.NoError(t, cmd.Start())
		cmds[i] = cmd
	}
	for _, cmd := range cmds {
		require.NoError(t, cmd.Wait())
	}

	assert.Equal(t, int64(procs*rounds), r.Ints()[0])
}
