// Package filelock provides named advisory locks with a bounded wait,
// guaranteed release, and a directory that is created on demand.
package filelock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// ErrTimeout is returned when a lock cannot be acquired within the bound
// passed to Acquire.
var ErrTimeout = errors.New("file lock: timed out waiting for lock")

// DefaultPollInterval is how often Acquire retries the non-blocking
// TryLock while waiting for another holder to release the lock.
const DefaultPollInterval = 50 * time.Millisecond

// Lock wraps a single named lock file.
type Lock struct {
	path string
	fl   *flock.Flock
}

// New returns a Lock for the given path. The parent directory is created on
// first Acquire, not here, so constructing a Lock never touches the
// filesystem.
func New(path string) *Lock {
	return &Lock{path: path, fl: flock.New(path)}
}

// Acquire blocks (polling at DefaultPollInterval) until the lock is held or
// the given timeout elapses, returning ErrTimeout on expiry. The caller must
// call the returned release function exactly once on every exit path,
// including cancellation, to avoid a ghost lock wedging future cycles.
func Acquire(ctx context.Context, path string, timeout time.Duration) (release func(), err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	l := New(path)

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(DefaultPollInterval)
	defer ticker.Stop()

	for {
		ok, lockErr := l.fl.TryLock()
		if lockErr != nil {
			return nil, fmt.Errorf("acquiring lock %s: %w", path, lockErr)
		}
		if ok {
			return func() { _ = l.fl.Unlock() }, nil
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrTimeout, path)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
