// ABOUTME: Cross-process advisory lock serializing mailbox log appends
// ABOUTME: Sidecar .lock file, non-blocking flock retried with a bounded wait

package mailbox

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"
)

const (
	lockWaitTimeout = 5 * time.Second
	lockPollDelay   = 50 * time.Millisecond
)

// lockLog takes an exclusive lock on the log's sidecar lock file. The lock
// file is separate from the log so rotation never invalidates a held lock.
func lockLog(logPath string) (*os.File, error) {
	f, err := os.OpenFile(logPath+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening mailbox lock file: %w", err)
	}

	deadline := time.Now().Add(lockWaitTimeout)
	for {
		err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, syscall.EWOULDBLOCK) && !errors.Is(err, syscall.EAGAIN) {
			f.Close()
			return nil, fmt.Errorf("locking mailbox log: %w", err)
		}
		if time.Now().After(deadline) {
			f.Close()
			return nil, fmt.Errorf("mailbox lock on %s not acquired within %s", logPath, lockWaitTimeout)
		}
		time.Sleep(lockPollDelay)
	}
}

func unlock(f *os.File) {
	syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	f.Close()
}
