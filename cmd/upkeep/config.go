// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/invowk/upkeep/internal/config"
	"github.com/invowk/upkeep/internal/issue"

	"github.com/spf13/cobra"
)

// newConfigCommand creates the `upkeep config` command group.
func newConfigCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and create the configuration file",
	}

	var format string
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets redacted",
		Long: `Print the configuration after defaults, the config file and UPKEEP_*
environment variables are merged. Credential secrets are never printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceErrors = true
			return app.runConfigShow(cmd.Context(), config.Format(format))
		},
	}
	show.Flags().StringVar(&format, "format", string(config.FormatCUE), "output format: cue|toml|json")

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceErrors = true
			return app.runConfigInit(force)
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	cmd.AddCommand(
		show,
		initCmd,
		&cobra.Command{
			Use:   "validate <file>",
			Short: "Check a configuration file against the schema",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				cmd.SilenceErrors = true
				return app.runConfigValidate(args[0])
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print the configuration file and data directory locations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cmd.SilenceErrors = true
				return app.runConfigPath(cmd.Context())
			},
		},
	)

	return cmd
}

func (a *App) runConfigShow(ctx context.Context, format config.Format) error {
	res, err := a.loadConfig(ctx)
	if err != nil {
		return a.fail(err, "")
	}

	redacted := res.Config.Redacted()
	out, err := config.Render(&redacted, format)
	if err != nil {
		return a.fail(fmt.Errorf("%w: %w", config.ErrInvalidConfig, err), "")
	}

	source := res.Path
	if source == "" {
		source = "defaults and environment"
	}
	fmt.Fprintln(a.stderr, SubtitleStyle.Render("# source: "+source))
	fmt.Fprint(a.stdout, out)
	return nil
}

func (a *App) runConfigInit(force bool) error {
	path, err := a.configFilePath()
	if err != nil {
		return a.fail(err, "")
	}

	if force {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return a.fail(fmt.Errorf("removing existing config: %w", err), "")
		}
	}
	created, err := config.CreateDefaultConfig(path)
	if err != nil {
		return a.fail(err, "")
	}
	if !created {
		fmt.Fprintln(a.stdout, WarningStyle.Render("Config already exists: ")+path)
		fmt.Fprintln(a.stdout, SubtitleStyle.Render("Use --force to replace it."))
		return nil
	}

	fmt.Fprintln(a.stdout, SuccessStyle.Render("✓ Wrote ")+path)
	fmt.Fprintln(a.stdout, SubtitleStyle.Render("Set repository, asset_prefix and current_version, then run 'upkeep check'."))
	return nil
}

func (a *App) runConfigValidate(path string) error {
	if err := config.ValidateFile(path); err != nil {
		return a.fail(issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(path).
			WithIssue(issue.ConfigLoadFailedId).
			Wrap(err).
			BuildError(), "")
	}
	fmt.Fprintln(a.stdout, SuccessStyle.Render("✓ Valid: ")+path)
	return nil
}

func (a *App) runConfigPath(ctx context.Context) error {
	path, err := a.configFilePath()
	if err != nil {
		return a.fail(err, "")
	}
	res, err := a.loadConfig(ctx)
	if err != nil {
		return a.fail(err, "")
	}
	dataDir, err := config.DataDir(res.Config)
	if err != nil {
		return a.fail(err, "")
	}

	field(a.stdout, "Config file", path)
	field(a.stdout, "Data directory", dataDir)
	return nil
}

// configFilePath is --config, or the default location.
func (a *App) configFilePath() (string, error) {
	if a.flags.configPath != "" {
		return a.flags.configPath, nil
	}
	return config.ConfigFilePath()
}
