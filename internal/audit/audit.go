// Package audit implements the critical-section log protocol.
//
// Every worker appends records to one shared audit log. Appends never
// interleave because the whole open, append, flush, close sequence runs while
// the primary cross-process mutex is held. An optional lock-activity log is
// guarded by a second, independent mutex that is only ever taken after the
// primary has been released, so the two locks are never held together.
//
// A worker killed inside the critical section can leave a torn final line.
// Verify reports such lines; nothing hides them.
package audit

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"time"
)

// CriticalSection appends audit entries under the primary mutex.
type CriticalSection struct {
	// Mutex is the primary cross-process mutex.
	Mutex sync.Locker

	// Path is the audit log.
	Path string

	// Hold is how long to stay in the section before and after the write.
	Hold time.Duration
}

// Enter acquires the mutex, appends e and releases the mutex. It returns the
// activity span covering the time the mutex was held.
func (cs *CriticalSection) Enter(e Entry) (Activity, error) {
	cs.Mutex.Lock()
	act := Activity{Pid: e.Pid, Index: e.Index, Acquired: time.Now()}

	time.Sleep(cs.Hold)
	err := appendLine(cs.Path, e.String())
	time.Sleep(cs.Hold)

	act.Released = time.Now()
	cs.Mutex.Unlock()

	if err != nil {
		return act, fmt.Errorf("append audit entry: %w", err)
	}
	return act, nil
}

// ActivityLog appends lock-activity records under the secondary mutex.
type ActivityLog struct {
	Mutex sync.Locker
	Path  string
}

// Record appends a. The caller must not hold the primary mutex.
func (l *ActivityLog) Record(a Activity) error {
	l.Mutex.Lock()
	defer l.Mutex.Unlock()

	if err := appendLine(l.Path, a.String()); err != nil {
		return fmt.Errorf("append lock activity: %w", err)
	}
	return nil
}

// appendLine opens path for append, writes line and a newline, flushes it to
// disk and closes the file.
func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(f)
	w.WriteString(line)
	w.WriteByte('\n')
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Create truncates (or creates) the log at path and returns the open handle.
// The coordinator keeps it until teardown.
func Create(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE|os.O_TRUNC, 0o644)
}
