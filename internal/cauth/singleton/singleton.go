// Package singleton guards against two cauth processes racing the same
// account store via a PID file.
package singleton

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/agent-island/cauth/internal/cauth/atomicio"
)

// ErrAlreadyRunning is returned by Acquire when the PID file names a live
// cauth process.
var ErrAlreadyRunning = errors.New("cauth: another instance is already running")

// Acquire checks path for a live process and, if none is found, atomically
// overwrites it with the current PID. Callers should remove the file (via
// Release) on clean exit.
func Acquire(path string) error {
	if existing, err := readPIDFile(path); err == nil {
		if existing != os.Getpid() && isAlive(existing) {
			return ErrAlreadyRunning
		}
	}

	data := []byte(strconv.Itoa(os.Getpid()) + "\n")
	if err := atomicio.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing pid file: %w", err)
	}
	return nil
}

// Release removes the PID file, ignoring a missing file.
func Release(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid file %s", path)
	}
	return pid, nil
}

// isAlive reports whether pid names a running process, via the zero-signal
// liveness check: ESRCH means no such process; EPERM still means the
// process exists but belongs to another user, so only ESRCH counts as dead.
func isAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || !errors.Is(err, syscall.ESRCH)
}

// DefaultPath returns ~/.agent-island/cauth.pid.
func DefaultPath(home string) string {
	return filepath.Join(home, ".agent-island", "cauth.pid")
}
