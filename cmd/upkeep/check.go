// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"

	"github.com/invowk/upkeep/internal/selfupdate"

	"github.com/spf13/cobra"
)

// newCheckCommand creates the `upkeep check` command.
func newCheckCommand(app *App) *cobra.Command {
	var fresh bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check whether a newer release is available",
		Long: `Compare the configured current_version with the latest release of the
configured repository.

Release metadata is cached for 15 seconds. The result is stored as a snapshot
that 'upkeep update' installs from; nothing is downloaded.`,
		Example: `  # Check the top-level installation
  upkeep check

  # Bypass the release cache
  upkeep check --fresh

  # Check a configured instance and print JSON
  upkeep check --instance blog -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceErrors = true
			return app.runCheck(cmd.Context(), fresh)
		},
	}

	cmd.Flags().BoolVar(&fresh, "fresh", false, "ignore cached release metadata and clear the availability marker")

	return cmd
}

func (a *App) runCheck(ctx context.Context, fresh bool) error {
	return a.withSession(ctx, func(s *session) error {
		id := s.selectedInstance()
		p, err := s.pipeline(id)
		if err != nil {
			return err
		}

		var d selfupdate.Decision
		if fresh {
			d = p.CheckForUpdatesFresh(ctx)
		} else {
			d = p.CheckForUpdates(ctx)
		}
		return a.reportDecision(id, d)
	})
}
