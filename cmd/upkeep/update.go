// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/invowk/upkeep/internal/config"
	"github.com/invowk/upkeep/internal/issue"
	"github.com/invowk/upkeep/internal/logging"
	"github.com/invowk/upkeep/internal/selfupdate"

	"github.com/spf13/cobra"
)

// errInstallFailed marks failures of the installer, as opposed to the download.
var errInstallFailed = errors.New("install failed")

type (
	updateParams struct {
		dryRun bool
		target string
	}

	// updateReport is the structured result of an installed update.
	updateReport struct {
		Instance             string `json:"instance" yaml:"instance"`
		Target               string `json:"target" yaml:"target"`
		selfupdate.RunResult `yaml:",inline"`
	}
)

// newUpdateCommand creates the `upkeep update` command.
func newUpdateCommand(app *App) *cobra.Command {
	var p updateParams

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Download and install the latest release",
		Long: `Resolve the latest release end to end, download its archive and install it
into the target directory.

The previous contents of the target are kept as <target>.bak until the new
tree is in place. Only one update per repository runs at a time.`,
		Example: `  # Install into the configured install.target_dir
  upkeep update

  # Install somewhere else
  upkeep update --target ./plugins/widget

  # Resolve only
  upkeep update --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceErrors = true
			return app.runUpdate(cmd.Context(), p)
		},
	}

	cmd.Flags().BoolVar(&p.dryRun, "dry-run", false, "resolve the download but do not install")
	cmd.Flags().StringVar(&p.target, "target", "", "directory to install into (default is install.target_dir)")

	return cmd
}

func (a *App) runUpdate(ctx context.Context, params updateParams) error {
	return a.withSession(ctx, func(s *session) error {
		id := s.selectedInstance()
		p, err := s.pipeline(id)
		if err != nil {
			return err
		}

		d := p.ValidateReadiness(ctx)
		if !d.Success || d.State != selfupdate.StateReady || params.dryRun {
			return a.reportDecision(id, d)
		}

		target := params.target
		if target == "" {
			target = s.cfg.Install.TargetDir
		}
		if target == "" {
			return issue.NewErrorContext().
				WithOperation("install update").
				WithSuggestion("Pass --target or set install.target_dir in the config file").
				WithIssue(issue.ConfigurationInvalidId).
				Wrap(fmt.Errorf("%w: no install target", config.ErrInvalidConfig)).
				BuildError()
		}

		zi := &selfupdate.ZipInstaller{TargetDir: target, StripSingleRoot: s.cfg.Install.StripSingleRoot}
		installer := selfupdate.InstallerFunc(func(ctx context.Context, archivePath string) error {
			if err := zi.Install(ctx, archivePath); err != nil {
				return fmt.Errorf("%w: %w", errInstallFailed, err)
			}
			return nil
		})
		s.logger.Debug(logCategoryCLI, "installing update", logging.Fields{"instance": id, "target": target})
		result, err := selfupdate.NewExecutor(p, installer).Run(ctx)
		if err != nil {
			return err
		}

		if format := a.outputFormat(); format != outputText {
			return writeStructured(a.stdout, format, updateReport{Instance: id, Target: target, RunResult: *result})
		}
		fmt.Fprintln(a.stdout, SuccessStyle.Render("✓ Updated to "+result.Version))
		field(a.stdout, "Instance", id)
		field(a.stdout, "Target", target)
		field(a.stdout, "Downloaded", fmt.Sprintf("%d bytes", result.Bytes))
		fmt.Fprintln(a.stdout)
		fmt.Fprintln(a.stdout, SubtitleStyle.Render("Set current_version to "+result.Version+" so the next check compares against it."))
		return nil
	})
}
