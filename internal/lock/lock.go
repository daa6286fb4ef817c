// Package lock provides a directory based lock that keeps two jobsub
// processes from working on the same job files.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ErrHeld is returned when another live process holds the lock.
var ErrHeld = errors.New("lock is held by another process")

// DefaultStaleAge is the age after which a lock of a dead process is removed.
const DefaultStaleAge = time.Minute

// Lock is a lock directory "<path>.lock" holding the owner's PID.
type Lock struct {
	path  string
	stale time.Duration
	held  bool
}

// New creates a lock for path.
func New(path string) *Lock {
	return &Lock{
		path:  path + ".lock",
		stale: DefaultStaleAge,
	}
}

// Path returns the lock directory.
func (l *Lock) Path() string {
	return l.path
}

// TryAcquire takes the lock without waiting. A lock left behind by a process
// that is no longer running is taken over once it is older than the stale
// age. Returns an error wrapping ErrHeld when the lock is busy.
func (l *Lock) TryAcquire() error {
	err := l.create()
	if err == nil || !os.IsExist(err) {
		return err
	}

	if l.removeStale() {
		if err := l.create(); err == nil || !os.IsExist(err) {
			return err
		}
	}

	if holder := l.Holder(); holder > 0 {
		return fmt.Errorf("%w (pid %d)", ErrHeld, holder)
	}
	return ErrHeld
}

// Release removes the lock. Releasing a lock that was not acquired is a no-op.
func (l *Lock) Release() error {
	if !l.held {
		return nil
	}
	l.held = false
	return os.RemoveAll(l.path)
}

// Holder returns the PID written by the lock owner, or 0.
func (l *Lock) Holder() int {
	data, err := os.ReadFile(filepath.Join(l.path, "pid"))
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

func (l *Lock) create() error {
	if err := os.Mkdir(l.path, 0755); err != nil {
		if os.IsExist(err) {
			return err
		}
		return fmt.Errorf("creating lock directory: %w", err)
	}
	l.held = true
	// The PID is informational only; a lock without it is still valid.
	_ = os.WriteFile(filepath.Join(l.path, "pid"), []byte(strconv.Itoa(os.Getpid())), 0644)
	return nil
}

// removeStale deletes the lock when it is old enough and its owner is gone.
func (l *Lock) removeStale() bool {
	info, err := os.Stat(l.path)
	if err != nil || time.Since(info.ModTime()) < l.stale {
		return false
	}
	if pid := l.Holder(); pid > 0 && running(pid) {
		return false
	}
	return os.RemoveAll(l.path) == nil
}

// running checks for a live process by sending signal 0.
func running(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
