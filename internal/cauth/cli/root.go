// Package cli implements the cauth command-line interface using Cobra:
// save, switch, refresh, and help, each mapped to a Rotation Engine call
// and an exit code per spec.
package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/agent-island/cauth/internal/cauth/analytics"
	"github.com/agent-island/cauth/internal/cauth/config"
	"github.com/agent-island/cauth/internal/cauth/keychain"
	"github.com/agent-island/cauth/internal/cauth/logging"
	"github.com/agent-island/cauth/internal/cauth/migrate"
	"github.com/agent-island/cauth/internal/cauth/refresher"
	"github.com/agent-island/cauth/internal/cauth/resolver"
	"github.com/agent-island/cauth/internal/cauth/rotation"
	"github.com/agent-island/cauth/internal/cauth/runner"
	"github.com/agent-island/cauth/internal/cauth/singleton"
	"github.com/agent-island/cauth/internal/cauth/usageclient"
)

var verbose bool

// engine is constructed once in rootCmd's PersistentPreRunE and used by
// every subcommand's RunE.
var engine *rotation.Engine

// pidPath is the singleton guard file acquired in setup and released in
// teardown; empty until setup succeeds.
var pidPath string

var rootCmd = &cobra.Command{
	Use:   "cauth",
	Short: "Save, switch, and refresh Claude Code OAuth credentials",
	Long: `cauth manages Claude Code's OAuth credential set across named profiles.

It saves the currently active credential into a profile, switches the
active credential to a saved profile, and refreshes every profile's
bound account in a single batched cycle.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup()
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		teardown()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose debug logging")
	rootCmd.AddCommand(saveCmd, switchCmd, refreshCmd)
}

func setup() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return &IOError{Op: "resolving home directory", Cause: err}
	}

	migrate.Run(config.LegacyDir(home), config.Dir(home))

	cfg := config.LoadGlobal(config.Dir(home))

	debugDir := cfg.Debug.Dir
	if debugDir == "" {
		debugDir = filepath.Join(config.Dir(home), "debug")
	}
	if err := logging.Init(logging.Options{
		Verbose:       verbose,
		DebugDir:      debugDir,
		RetentionDays: cfg.Debug.RetentionDays,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "cauth: warning: failed to initialize debug logging: %v\n", err)
	}

	pidPath = singleton.DefaultPath(home)
	if err := singleton.Acquire(pidPath); err != nil {
		pidPath = ""
		return err
	}

	activePath := filepath.Join(home, ".claude", ".credentials.json")
	mirror := keychain.New(runner.Real{}, cfg.SecurityBin)
	res := resolver.New(activePath, mirror)
	ref := refresher.New(cfg.TokenURL, "")
	usage := usageclient.New(cfg.UsageURL)
	sink := analytics.New(cfg.AnalyticsEnabled, nil)

	engine = rotation.New(home, res, mirror, ref, usage, sink)
	return nil
}

func teardown() {
	if engine != nil && engine.Analytics != nil {
		engine.Analytics.Close()
	}
	if pidPath != "" {
		_ = singleton.Release(pidPath)
		pidPath = ""
	}
	logging.Close()
}

// classify maps an error returned from a RunE call to its exit code and
// the message printed to stderr.
func classify(err error) (code int, message string) {
	var usageErr *UsageError
	if errors.As(err, &usageErr) {
		return 2, usageErr.Error()
	}
	if errors.Is(err, rotation.ErrEmptyProfileName) {
		return 2, err.Error()
	}
	return 1, "cauth: " + err.Error()
}

// Execute runs the command tree and returns the process exit code.
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return 0
	}
	code, message := classify(err)
	fmt.Fprintln(os.Stderr, message)
	return code
}
