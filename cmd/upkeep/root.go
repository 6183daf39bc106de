// SPDX-License-Identifier: MPL-2.0

// Package cmd contains all CLI commands for upkeep.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/invowk/upkeep/pkg/types"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// NewRootCommand builds the command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "upkeep",
		Short: "Keep installations current with their GitHub releases",
		Long: TitleStyle.Render("upkeep") + SubtitleStyle.Render(" - release checks and secure artifact retrieval") + `

upkeep compares an installed version with the latest GitHub release of its
repository, finds the matching .zip asset, and resolves a download URL that
never carries your access token outside GitHub.

` + SubtitleStyle.Render("Quick Start:") + `
  1. Write a config file:  upkeep config init
  2. Set repository, asset_prefix and current_version in it
  3. Check for updates:    upkeep check

` + SubtitleStyle.Render("Examples:") + `
  upkeep check                     Compare with the latest release
  upkeep validate                  Resolve the download without installing
  upkeep update --target ./plugin  Download and install the update
  upkeep credential set            Store a token for private repositories`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := parseOutputFormat(app.flags.output); err != nil {
				return &ExitError{Code: types.ExitConfiguration, Err: err}
			}
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&app.flags.configPath, "config", "", "config file (default is $XDG_CONFIG_HOME/upkeep/config.cue)")
	flags.StringVar(&app.flags.instance, "instance", "", "configured instance to act on (default is the top-level settings)")
	flags.StringVarP(&app.flags.output, "output", "o", "text", "output format: text|json|yaml")
	flags.StringVar(&app.flags.logLevel, "log-level", "", "log level: debug|info|warn|error (overrides log.level)")
	flags.BoolVarP(&app.flags.verbose, "verbose", "v", false, "enable verbose output and debug logging")

	rootCmd.AddCommand(
		newCheckCommand(app),
		newValidateCommand(app),
		newUpdateCommand(app),
		newStatusCommand(app),
		newCredentialCommand(app),
		newConfigCommand(app),
	)

	rootCmd.SetIn(app.stdin)
	rootCmd.SetOut(app.stdout)
	rootCmd.SetErr(app.stderr)
	return rootCmd
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute builds the production App, runs the CLI and exits with the
// command's exit code. It is called by main.main().
func Execute() {
	app := NewApp(Dependencies{})

	// fang overrides rootCmd.Version, so the version goes through WithVersion.
	if err := fang.Execute(
		context.Background(),
		NewRootCommand(app),
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(int(classifyExitCode(err)))
	}
}
