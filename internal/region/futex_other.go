//go:build !linux

package region

import (
	"sync/atomic"
	"time"
)

// Without futexes a waiter polls the state word.
func futexWait(addr *uint32, val uint32) {
	for atomic.LoadUint32(addr) == val {
		time.Sleep(50 * time.Microsecond)
	}
}

func futexWake(*uint32, int) {}
