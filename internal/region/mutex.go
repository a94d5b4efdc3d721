package region

import (
	"sync/atomic"
	"unsafe"
)

// attrProcessShared marks a mutex block initialized for use across
// unrelated processes ("PSHD").
const attrProcessShared uint32 = 0x50534844

// Mutex states.
const (
	unlocked  uint32 = 0
	locked    uint32 = 1
	contended uint32 = 2 // locked, waiters may be sleeping
)

// Mutex is a futex-based lock living inside a shared mapping, valid across
// processes that map the same region.
//
// Block layout (MutexSize bytes): state word at +0, attribute word at +4,
// rest reserved. Mutex implements sync.Locker.
type Mutex struct {
	state *uint32
	attr  *uint32
}

func mutexAt(b []byte) *Mutex {
	_ = b[MutexSize-1]
	return &Mutex{
		state: (*uint32)(unsafe.Pointer(&b[0])),
		attr:  (*uint32)(unsafe.Pointer(&b[4])),
	}
}

// Init resets the mutex to unlocked and marks it process-shared.
func (m *Mutex) Init() {
	atomic.StoreUint32(m.state, unlocked)
	atomic.StoreUint32(m.attr, attrProcessShared)
}

// Shared reports whether Init has run on this block.
func (m *Mutex) Shared() bool {
	return atomic.LoadUint32(m.attr) == attrProcessShared
}

// Lock blocks until the mutex is acquired. Wakeups caused by signals or by a
// concurrent state change just retry.
func (m *Mutex) Lock() {
	if atomic.CompareAndSwapUint32(m.state, unlocked, locked) {
		return
	}
	for atomic.SwapUint32(m.state, contended) != unlocked {
		futexWait(m.state, contended)
	}
}

// TryLock acquires the mutex only if it is free.
func (m *Mutex) TryLock() bool {
	return atomic.CompareAndSwapUint32(m.state, unlocked, locked)
}

// Unlock releases the mutex, waking one waiter if any may be sleeping.
func (m *Mutex) Unlock() {
	if atomic.AddUint32(m.state, ^uint32(0)) != unlocked {
		atomic.StoreUint32(m.state, unlocked)
		futexWake(m.state, 1)
	}
}
