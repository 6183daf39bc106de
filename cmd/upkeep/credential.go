// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"

	"github.com/invowk/upkeep/internal/credential"
	"github.com/invowk/upkeep/internal/issue"
	"github.com/invowk/upkeep/internal/logging"

	"github.com/spf13/cobra"
)

// credentialStatus never carries the credential itself.
type credentialStatus struct {
	KeyMaterial bool `json:"key_material" yaml:"key_material"`
	Stored      bool `json:"stored" yaml:"stored"`
	Readable    bool `json:"readable" yaml:"readable"`
}

// newCredentialCommand creates the `upkeep credential` command group.
func newCredentialCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credential",
		Short: "Manage the stored GitHub access token",
		Long: `Manage the access token used for private repositories.

The token is encrypted at rest with a key derived from credential.secrets and
credential.salt in the config file. It is only sent to GitHub hosts.`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "set",
			Short: "Store an access token (read from the terminal or stdin)",
			Example: `  upkeep credential set
  gh auth token | upkeep credential set`,
			Args: cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cmd.SilenceErrors = true
				return app.runCredentialSet(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Delete the stored access token",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cmd.SilenceErrors = true
				return app.runCredentialClear(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Report whether a token is stored and readable",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cmd.SilenceErrors = true
				return app.runCredentialStatus(cmd.Context())
			},
		},
	)

	return cmd
}

func (a *App) runCredentialSet(ctx context.Context) error {
	return a.withSession(ctx, func(s *session) error {
		if s.credentials == nil {
			return issue.NewErrorContext().
				WithOperation("store credential").
				WithResource(s.cfgPath).
				WithSuggestion("Add credential.secrets or credential.salt to the config file").
				WithIssue(issue.CredentialKeyMissingId).
				Wrap(credential.ErrNoKeyMaterial).
				BuildError()
		}

		value, err := readSecret(a.stdin, a.stderr, "Access token: ")
		if err != nil {
			return err
		}
		if err := s.credentials.Save(value); err != nil {
			return err
		}
		if err := s.invalidateAll(); err != nil {
			return err
		}
		s.logger.Info(logCategoryCLI, "credential stored", logging.Fields{"length": len(value)})

		fmt.Fprintln(a.stdout, SuccessStyle.Render("✓ Credential stored"))
		fmt.Fprintln(a.stdout, SubtitleStyle.Render("Run 'upkeep validate' to confirm GitHub accepts it."))
		return nil
	})
}

func (a *App) runCredentialClear(ctx context.Context) error {
	return a.withSession(ctx, func(s *session) error {
		var err error
		if s.credentials != nil {
			err = s.credentials.Clear()
		} else {
			// Without key material the envelope is unreadable but can still be removed.
			err = s.kv.Delete(credential.DefaultOptionKey)
		}
		if err != nil {
			return err
		}
		if err := s.invalidateAll(); err != nil {
			return err
		}

		fmt.Fprintln(a.stdout, SuccessStyle.Render("✓ Credential cleared"))
		return nil
	})
}

func (a *App) runCredentialStatus(ctx context.Context) error {
	return a.withSession(ctx, func(s *session) error {
		st := credentialStatus{KeyMaterial: s.credentials != nil}
		stored, err := s.credentialStored()
		if err != nil {
			return err
		}
		st.Stored = stored
		if stored && s.credentials != nil {
			value, err := s.credentials.Get()
			if err != nil {
				return err
			}
			st.Readable = value != ""
		}

		if format := a.outputFormat(); format != outputText {
			return writeStructured(a.stdout, format, st)
		}

		w := a.stdout
		field(w, "Key material", yesNo(st.KeyMaterial))
		field(w, "Stored", yesNo(st.Stored))
		if st.Stored {
			readable := SuccessStyle.Render("yes")
			if !st.Readable {
				readable = ErrorStyle.Render("no (secrets changed? run 'upkeep credential set')")
			}
			field(w, "Readable", readable)
		}
		return nil
	})
}

// credentialStored reports whether an encrypted credential is present, even
// when no key material is configured to read it.
func (s *session) credentialStored() (bool, error) {
	if s.credentials != nil {
		return s.credentials.HasStored()
	}
	raw, ok, err := s.kv.Get(credential.DefaultOptionKey)
	if err != nil {
		return false, fmt.Errorf("reading credential: %w", err)
	}
	return ok && len(raw) > 0, nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
