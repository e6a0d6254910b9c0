package cli

import "fmt"

// UsageError signals a CLI-level argument mistake; the dispatcher maps it
// to exit code 2 and prints its message verbatim (it already reads
// "usage: ...").
type UsageError struct {
	Message string
}

func (e *UsageError) Error() string { return e.Message }

func usageErrorf(format string, args ...any) error {
	return &UsageError{Message: fmt.Sprintf(format, args...)}
}

// IOError wraps a filesystem failure encountered during startup, before
// the Rotation Engine exists to classify it itself.
type IOError struct {
	Op    string
	Cause error
}

func (e *IOError) Error() string { return fmt.Sprintf("%s: %s", e.Op, e.Cause) }
func (e *IOError) Unwrap() error { return e.Cause }
