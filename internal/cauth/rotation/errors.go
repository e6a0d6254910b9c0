package rotation

import (
	"errors"
	"fmt"
)

// Sentinel errors for the Rotation Engine, per spec §7.
var (
	ErrEmptyProfileName          = errors.New("usage: profile name is required")
	ErrNoActiveCredential        = errors.New("current credentials not found in file or keychain")
	ErrProfileNotFound           = errors.New("profile not found")
	ErrProfileHasNoClaudeAccount = errors.New("profile has no claude account")
	ErrAccountNotFound           = errors.New("account not found")
	ErrStoredCredentialMissing   = errors.New("missing stored credentials")
)

// KeychainWriteFailed wraps a keychain mirror write failure.
type KeychainWriteFailed struct {
	Cause error
}

func (e *KeychainWriteFailed) Error() string {
	return fmt.Sprintf("failed to update keychain: %s", e.Cause)
}

func (e *KeychainWriteFailed) Unwrap() error { return e.Cause }

// RefreshLockTimeout describes a refresh-identity lock that could not be
// acquired within the bounded wait. RefreshAll logs it and skips the
// account for the cycle rather than returning it, since one stuck lock
// must not abort the batch.
type RefreshLockTimeout struct {
	LockID string
}

func (e *RefreshLockTimeout) Error() string {
	return fmt.Sprintf("timed out waiting for refresh lock %q", e.LockID)
}

// IOError wraps an underlying filesystem failure.
type IOError struct {
	Op    string
	Cause error
}

func (e *IOError) Error() string { return fmt.Sprintf("%s: %s", e.Op, e.Cause) }
func (e *IOError) Unwrap() error { return e.Cause }
