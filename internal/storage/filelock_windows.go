//go:build windows

package storage

import (
	"fmt"
	"os"

	"golang.org/x/sys/windows"
)

// acquireFileLock blocks until it holds a shared or exclusive lock on path.
func acquireFileLock(path string, exclusive bool) (*os.File, error) {
	lockFile, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	var flags uint32
	if exclusive {
		flags = windows.LOCKFILE_EXCLUSIVE_LOCK
	}
	var overlapped windows.Overlapped
	if err := windows.LockFileEx(windows.Handle(lockFile.Fd()), flags, 0, 1, 0, &overlapped); err != nil {
		lockFile.Close()
		return nil, fmt.Errorf("LockFileEx failed: %w", err)
	}
	return lockFile, nil
}

// releaseFileLock releases the lock and closes the handle.
func releaseFileLock(lockFile *os.File) error {
	if lockFile == nil {
		return nil
	}
	var overlapped windows.Overlapped
	err := windows.UnlockFileEx(windows.Handle(lockFile.Fd()), 0, 1, 0, &overlapped)
	if cerr := lockFile.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("release file lock: %w", err)
	}
	return nil
}

// Directories cannot be opened for sync on Windows.
func syncDir(string) error { return nil }
