// ABOUTME: Advisory file locking helpers for cross-process registry access
// ABOUTME: Non-blocking flock with a bounded retry window

package registry

import (
	"fmt"
	"os"
	"syscall"
	"time"
)

const (
	lockWaitTimeout = 5 * time.Second
	lockPollDelay   = 50 * time.Millisecond
)

// lockPath acquires an advisory lock on a sidecar lock file. The lock file is
// separate from the data file so atomic rename of the data never invalidates
// a held lock. Acquisition is retried up to lockWaitTimeout, then fails.
func lockPath(path string, exclusive bool) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	lockMode := syscall.LOCK_SH
	if exclusive {
		lockMode = syscall.LOCK_EX
	}

	deadline := time.Now().Add(lockWaitTimeout)
	for {
		err := syscall.Flock(int(f.Fd()), lockMode|syscall.LOCK_NB)
		if err == nil {
			return f, nil
		}
		if err != syscall.EWOULDBLOCK && err != syscall.EAGAIN {
			_ = f.Close()
			return nil, err
		}
		if time.Now().After(deadline) {
			_ = f.Close()
			return nil, fmt.Errorf("lock %s not acquired within %s", path, lockWaitTimeout)
		}
		time.Sleep(lockPollDelay)
	}
}

func unlock(f *os.File) {
	if f == nil {
		return
	}
	_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	_ = f.Close()
}
