package paths

import (
	"fmt"
	"os"
	"syscall"

	"github.com/mbme/arhiv-sub000/pkg/arhiverr"
)

// ProcessLock is an OS advisory lock on the lockfile sentinel, guarding
// cross-process access to a state_dir (spec §5 "RWMutex + OS lockfile").
// No flock library appears anywhere in the retrieval pack, so this wraps
// syscall.Flock directly rather than importing one.
type ProcessLock struct {
	file *os.File
}

// TryAcquireProcessLock attempts a non-blocking exclusive lock on path,
// creating it if necessary. Returns arhiverr.Locked if another process
// already holds it.
func TryAcquireProcessLock(path string) (*ProcessLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, arhiverr.IO(err, "failed to open lockfile %s", path)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if err == syscall.EWOULDBLOCK {
			return nil, arhiverr.Locked("archive at %s is locked by another process", path)
		}
		return nil, fmt.Errorf("failed to flock %s: %w", path, err)
	}

	return &ProcessLock{file: f}, nil
}

// Release drops the lock and closes the underlying file descriptor.
func (l *ProcessLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		l.file.Close()
		return fmt.Errorf("failed to unlock lockfile: %w", err)
	}
	return l.file.Close()
}
