//go:build !windows

package storage

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// acquireFileLock blocks until it holds a shared or exclusive flock on path.
// The lock file is never removed: unlinking a lock file while another process
// waits on it would let two holders in.
func acquireFileLock(path string, exclusive bool) (*os.File, error) {
	lockFile, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	how := unix.LOCK_SH
	if exclusive {
		how = unix.LOCK_EX
	}
	for {
		err = unix.Flock(int(lockFile.Fd()), how)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		lockFile.Close()
		return nil, fmt.Errorf("acquire file lock: %w", err)
	}
	return lockFile, nil
}

// releaseFileLock releases the lock and closes the handle.
func releaseFileLock(lockFile *os.File) error {
	if lockFile == nil {
		return nil
	}
	// Closing the descriptor drops the flock as well.
	_ = unix.Flock(int(lockFile.Fd()), unix.LOCK_UN)
	return lockFile.Close()
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open directory for sync: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync directory: %w", err)
	}
	return nil
}
