// Package daemon keeps long-running pinsession commands to one instance per
// storage directory.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/pinsession/pinsession/internal/storage"
)

// ErrAlreadyRunning is returned by Guard when a live process owns the PID file.
var ErrAlreadyRunning = errors.New("daemon: already running")

// ErrNotRunning is returned by Stop when no live process owns the PID file.
var ErrNotRunning = errors.New("daemon: not running")

// PIDFile records the process id of a running command in the storage
// directory.
type PIDFile struct {
	path string
}

// NewPIDFile returns a PID file named <name>.pid inside dir.
func NewPIDFile(dir, name string) *PIDFile {
	return &PIDFile{path: filepath.Join(dir, name+".pid")}
}

// Path returns the full path to the PID file.
func (p *PIDFile) Path() string {
	return p.path
}

// Write replaces the PID file with the current process id.
func (p *PIDFile) Write() error {
	data := []byte(strconv.Itoa(os.Getpid()))
	if err := storage.AtomicWriteFile(p.path, data, 0o600); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

// Read returns the stored PID, or 0 if there is no PID file.
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid pid: %w", err)
	}
	return pid, nil
}

// Remove deletes the PID file.
func (p *PIDFile) Remove() error {
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove pid file: %w", err)
	}
	return nil
}

// IsRunning returns the owning PID if that process is alive. A stale file
// is removed.
func (p *PIDFile) IsRunning() (int, bool) {
	pid, err := p.Read()
	if err != nil || pid == 0 {
		return 0, false
	}
	if !processExists(pid) {
		p.Remove()
		return 0, false
	}
	return pid, true
}

// Guard claims the PID file for this process.
func (p *PIDFile) Guard() error {
	if pid, running := p.IsRunning(); running {
		return fmt.Errorf("%w (pid=%d)", ErrAlreadyRunning, pid)
	}
	return p.Write()
}

// Stop sends SIGTERM to the process owning the PID file.
func (p *PIDFile) Stop() (int, error) {
	pid, running := p.IsRunning()
	if !running {
		return 0, ErrNotRunning
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return pid, fmt.Errorf("find process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return pid, fmt.Errorf("send SIGTERM to %d: %w", pid, err)
	}
	return pid, nil
}

// processExists checks if a process with the given PID is alive.
func processExists(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds. Signal 0 checks existence.
	return proc.Signal(syscall.Signal(0)) == nil
}
