// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/invowk/upkeep/internal/selfupdate"
	"github.com/invowk/upkeep/internal/store"

	"github.com/spf13/cobra"
)

type (
	// instanceStatus summarizes what the store knows about one instance.
	instanceStatus struct {
		Instance        string     `json:"instance" yaml:"instance"`
		Repository      string     `json:"repository,omitempty" yaml:"repository,omitempty"`
		CurrentVersion  string     `json:"current_version,omitempty" yaml:"current_version,omitempty"`
		LastChecked     *time.Time `json:"last_checked,omitempty" yaml:"last_checked,omitempty"`
		LatestVersion   string     `json:"latest_version,omitempty" yaml:"latest_version,omitempty"`
		UpdateAvailable bool       `json:"update_available" yaml:"update_available"`
		ReadyVersion    string     `json:"ready_version,omitempty" yaml:"ready_version,omitempty"`
		SnapshotTaken   *time.Time `json:"snapshot_taken,omitempty" yaml:"snapshot_taken,omitempty"`
		UpdateRunning   bool       `json:"update_running" yaml:"update_running"`
		Error           string     `json:"error,omitempty" yaml:"error,omitempty"`
	}

	statusReport struct {
		CredentialStored bool             `json:"credential_stored" yaml:"credential_stored"`
		Instances        []instanceStatus `json:"instances" yaml:"instances"`
	}
)

// newStatusCommand creates the `upkeep status` command.
func newStatusCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show stored check results without contacting GitHub",
		Long: `Show the last check, the update marker and whether an update is running,
for the selected instance or, without --instance, for every instance.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceErrors = true
			return app.runStatus(cmd.Context())
		},
	}
}

func (a *App) runStatus(ctx context.Context) error {
	return a.withSession(ctx, func(s *session) error {
		ids := s.instanceIDs()
		if a.flags.instance != "" {
			id := s.selectedInstance()
			if _, err := s.settingsFor(id); err != nil {
				return err
			}
			ids = []string{id}
		}

		stored, err := s.credentialStored()
		if err != nil {
			return err
		}
		report := statusReport{CredentialStored: stored}
		for _, id := range ids {
			report.Instances = append(report.Instances, s.instanceStatus(id))
		}

		if format := a.outputFormat(); format != outputText {
			return writeStructured(a.stdout, format, report)
		}
		a.renderStatus(report)
		return nil
	})
}

func (s *session) instanceStatus(id string) instanceStatus {
	st := instanceStatus{Instance: id}
	settings, err := s.settingsFor(id)
	if err != nil {
		st.Error = err.Error()
		return st
	}
	st.CurrentVersion = settings.CurrentVersion

	var errs []error
	snapshots := selfupdate.NewSnapshotStore(store.NewScoped(s.kv, "instance/"+id))
	if outcome, ok, err := snapshots.LoadOutcome(); err != nil {
		errs = append(errs, err)
	} else if ok {
		st.LastChecked = &outcome.CheckedAt
		st.LatestVersion = outcome.LatestVersion
		st.UpdateAvailable = outcome.UpdateAvailable
	}
	if avail, ok, err := snapshots.LoadAvailability(); err != nil {
		errs = append(errs, err)
	} else if ok {
		st.ReadyVersion = avail.Version
	}
	if snap, err := snapshots.Load(); err == nil {
		st.SnapshotTaken = &snap.CapturedAt
	} else if !errors.Is(err, selfupdate.ErrNoSnapshot) {
		errs = append(errs, err)
	}

	if repo, err := selfupdate.ParseRepository(settings.Repository); err == nil {
		st.Repository = repo.String()
		held, err := selfupdate.NewUpdateLock(s.kv, s.app.clock).Held(selfupdate.LockKey(repo))
		if err != nil {
			errs = append(errs, err)
		}
		st.UpdateRunning = held
	} else {
		st.Repository = settings.Repository
	}

	if err := errors.Join(errs...); err != nil {
		st.Error = err.Error()
	}
	return st
}

func (a *App) renderStatus(report statusReport) {
	w := a.stdout
	credential := "not stored"
	if report.CredentialStored {
		credential = "stored"
	}
	fmt.Fprintln(w, TitleStyle.Render("upkeep status"))
	field(w, "Credential", credential)

	for _, st := range report.Instances {
		fmt.Fprintln(w)
		fmt.Fprintln(w, SubtitleStyle.Render(st.Instance))
		field(w, "Repository", st.Repository)
		field(w, "Current version", st.CurrentVersion)
		if st.LastChecked == nil {
			field(w, "Last check", "never")
		} else {
			field(w, "Last check", st.LastChecked.Local().Format(time.RFC1123))
			field(w, "Latest version", st.LatestVersion)
		}
		switch {
		case st.ReadyVersion != "":
			field(w, "Update", WarningStyle.Render("ready: "+st.ReadyVersion))
		case st.UpdateAvailable:
			field(w, "Update", WarningStyle.Render("available"))
		case st.LastChecked != nil:
			field(w, "Update", SuccessStyle.Render("up to date"))
		}
		if st.SnapshotTaken != nil {
			field(w, "Snapshot", st.SnapshotTaken.Local().Format(time.RFC1123))
		}
		if st.UpdateRunning {
			field(w, "Running", WarningStyle.Render("an update holds the lock"))
		}
		if st.Error != "" {
			field(w, "Error", ErrorStyle.Render(st.Error))
		}
	}
}
