// Package keychain mirrors the whole credential blob into the macOS Keychain
// by shelling out to the security(1) CLI, matching the storage format Claude
// Code itself uses so the mirror and the native client stay interchangeable.
package keychain

import (
	"bytes"
	"context"
	"fmt"
	"os/user"
	"regexp"
	"strings"

	"github.com/agent-island/cauth/internal/cauth/runner"
)

// ServiceName is the macOS Keychain generic-password service name Claude
// Code uses for its OAuth credential blob.
const ServiceName = "Claude Code-credentials"

// Mirror reads and writes the keychain entry through a Runner, so tests can
// substitute a runner.Recording instead of touching a real keychain.
type Mirror struct {
	run runner.Runner
	bin string
}

// New returns a Mirror that shells out to securityBin (typically "security",
// overridable via CAUTH_SECURITY_BIN for testing on non-macOS hosts).
func New(run runner.Runner, securityBin string) *Mirror {
	if securityBin == "" {
		securityBin = "security"
	}
	return &Mirror{run: run, bin: securityBin}
}

// Read returns the raw value stored under ServiceName, or an error if no
// such item exists (including on non-macOS hosts, where security(1) is
// absent and the Runner surfaces an exec error).
func (m *Mirror) Read(ctx context.Context) (string, error) {
	res, err := m.run.Run(ctx, m.bin, "find-generic-password", "-s", ServiceName, "-w")
	if res.ExitCode > 0 {
		return "", fmt.Errorf("keychain read: security exited %d: %s", res.ExitCode, strings.TrimSpace(string(res.Stderr)))
	}
	if err != nil {
		return "", fmt.Errorf("keychain read: %w", err)
	}
	return strings.TrimSpace(string(res.Stdout)), nil
}

// Write stores value under ServiceName, discovering the account label to
// use from the existing item (if any) before overwriting it in place.
func (m *Mirror) Write(ctx context.Context, value string) error {
	account := m.discoverAccount(ctx)

	res, err := m.run.Run(ctx, m.bin, "add-generic-password",
		"-U",
		"-s", ServiceName,
		"-a", account,
		"-w", value,
	)
	if res.ExitCode > 0 {
		return fmt.Errorf("keychain write: security exited %d: %s", res.ExitCode, strings.TrimSpace(string(res.Stderr)))
	}
	if err != nil {
		return fmt.Errorf("keychain write: %w", err)
	}
	return nil
}

var acctLineRe = regexp.MustCompile(`"acct"<blob>="([^"]*)"`)

// discoverAccount looks up the account label on the existing keychain item
// via the verbose (-g) form of find-generic-password, which prints item
// attributes to stderr. Falls back to the current OS user, then "default",
// when no existing item is found or its account attribute can't be parsed.
func (m *Mirror) discoverAccount(ctx context.Context) string {
	res, err := m.run.Run(ctx, m.bin, "find-generic-password", "-s", ServiceName, "-g")
	if err == nil {
		if match := acctLineRe.FindSubmatch(bytes.TrimSpace(res.Stderr)); match != nil {
			if acct := string(match[1]); acct != "" {
				return acct
			}
		}
	}

	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "default"
}
