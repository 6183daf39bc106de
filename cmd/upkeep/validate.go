// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"strings"

	"github.com/invowk/upkeep/internal/selfupdate"

	"github.com/spf13/cobra"
)

type validateParams struct {
	repository      string
	hasRepository   bool
	credentialStdin bool
	persist         bool
	hasPersist      bool
	tag             string
}

// newValidateCommand creates the `upkeep validate` command.
func newValidateCommand(app *App) *cobra.Command {
	var p validateParams

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Resolve the update end to end without installing it",
		Long: `Run every step short of installing: a fresh release check, asset matching,
and resolution of the download URL against GitHub.

--repository and --credential-stdin test settings before saving them. --tag
checks one specific release instead of the latest. Runs with any of these do
not update the stored snapshot unless --persist is set.`,
		Example: `  # Validate the configured settings
  upkeep validate

  # Try a token before storing it
  upkeep validate --credential-stdin < token.txt

  # Try another repository without touching the snapshot
  upkeep validate --repository acme/widget-next

  # Check a specific release
  upkeep validate --tag v2.4.0`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceErrors = true
			p.hasRepository = cmd.Flags().Changed("repository")
			p.hasPersist = cmd.Flags().Changed("persist")
			return app.runValidate(cmd.Context(), p)
		},
	}

	cmd.Flags().StringVar(&p.repository, "repository", "", "check this repository instead of the configured one")
	cmd.Flags().BoolVar(&p.credentialStdin, "credential-stdin", false, "read a credential from stdin instead of using the stored one")
	cmd.Flags().StringVar(&p.tag, "tag", "", "check the release with this tag instead of the latest")
	cmd.Flags().BoolVar(&p.persist, "persist", false, "store the snapshot even when overrides are given")

	return cmd
}

func (a *App) runValidate(ctx context.Context, params validateParams) error {
	var opts []selfupdate.ReadinessOption
	if params.hasRepository {
		opts = append(opts, selfupdate.WithRepositoryOverride(params.repository))
	}
	if params.credentialStdin {
		credential, err := readSecret(a.stdin, a.stderr, "Access token: ")
		if err != nil {
			return a.fail(err, "")
		}
		opts = append(opts, selfupdate.WithCredentialOverride(credential))
	}
	if strings.TrimSpace(params.tag) != "" {
		opts = append(opts, selfupdate.WithPinnedTag(params.tag))
	}
	if params.hasPersist {
		opts = append(opts, selfupdate.WithPersist(params.persist))
	}

	return a.withSession(ctx, func(s *session) error {
		id := s.selectedInstance()
		p, err := s.pipeline(id)
		if err != nil {
			return err
		}
		return a.reportDecision(id, p.ValidateReadiness(ctx, opts...))
	})
}
