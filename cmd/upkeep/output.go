// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"

	"github.com/invowk/upkeep/internal/issue"
	"github.com/invowk/upkeep/internal/selfupdate"

	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

const (
	outputText outputFormat = "text"
	outputJSON outputFormat = "json"
	outputYAML outputFormat = "yaml"
)

// errUnknownOutput is returned for an unsupported --output value.
var errUnknownOutput = errors.New("unknown output format")

type (
	// outputFormat selects how command results are written to stdout.
	outputFormat string

	// decisionReport is a pipeline decision labeled with its instance.
	decisionReport struct {
		Instance            string `json:"instance" yaml:"instance"`
		selfupdate.Decision `yaml:",inline"`
	}
)

func parseOutputFormat(s string) (outputFormat, error) {
	switch s {
	case "text", "":
		return outputText, nil
	case "json":
		return outputJSON, nil
	case "yaml", "yml":
		return outputYAML, nil
	default:
		return "", fmt.Errorf("%w: %s (use text|json|yaml)", errUnknownOutput, s)
	}
}

func (a *App) outputFormat() outputFormat {
	f, err := parseOutputFormat(a.flags.output)
	if err != nil {
		return outputText
	}
	return f
}

// writeStructured encodes v as JSON or YAML.
func writeStructured(w io.Writer, format outputFormat, v any) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("%w: %s", errUnknownOutput, format)
	}
}

// reportDecision writes d and converts a failed decision into an ExitError.
func (a *App) reportDecision(instance string, d selfupdate.Decision) error {
	if format := a.outputFormat(); format != outputText {
		if err := writeStructured(a.stdout, format, decisionReport{Instance: instance, Decision: d}); err != nil {
			return fmt.Errorf("writing output: %w", err)
		}
	} else {
		a.renderDecision(instance, d)
	}

	if d.Success {
		return nil
	}
	if a.outputFormat() == outputText {
		a.renderGuidance(d.Err, d.Kind)
	}
	return &ExitError{Code: exitCodeForKind(d.Kind), Err: d.Err}
}

func (a *App) renderDecision(instance string, d selfupdate.Decision) {
	w := a.stdout

	var header string
	switch {
	case !d.Success:
		header = ErrorStyle.Render("✗ " + failureTitle(d.State))
	case d.State == selfupdate.StateReady:
		header = SuccessStyle.Render("✓ Update ready to install")
	case d.State == selfupdate.StateUpdateAvailable:
		header = WarningStyle.Render("↑ Update available")
	case d.State == selfupdate.StateNoQualifyingRelease:
		header = WarningStyle.Render("• No qualifying release")
	default:
		header = SuccessStyle.Render("✓ Up to date")
	}
	fmt.Fprintln(w, header)

	field(w, "Instance", instance)
	field(w, "Repository", d.Repository)
	field(w, "Current version", d.CurrentVersion)
	if d.LatestVersion != "" {
		field(w, "Latest version", CmdStyle.Render(d.LatestVersion))
	}
	field(w, "Release tag", d.TagName)
	field(w, "Asset", d.AssetName)
	field(w, "Package URL", d.PackageURL)
	if d.ResolvedDownloadURL != "" {
		resolved := d.ResolvedDownloadURL
		if !a.flags.verbose {
			resolved = withoutQuery(resolved)
		}
		field(w, "Download URL", CmdStyle.Render(resolved))
	}
	if d.Kind != "" {
		field(w, "Failure kind", string(d.Kind))
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, SubtitleStyle.Render(d.Message))
}

func failureTitle(state selfupdate.State) string {
	switch state {
	case selfupdate.StateAssetMissing:
		return "No matching release asset"
	case selfupdate.StateDownloadUnresolved:
		return "Download could not be resolved"
	default:
		return "Update check failed"
	}
}

func field(w io.Writer, label, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render(label+":"), value)
}

// withoutQuery drops the query string, which holds the signature of a
// pre-signed URL.
func withoutQuery(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.RawQuery == "" {
		return raw
	}
	u.RawQuery = ""
	return u.String() + "?…"
}

// fail renders err on stderr and converts it into an ExitError. Errors that
// are already ExitErrors were reported where they were created.
func (a *App) fail(err error, kind selfupdate.FailureKind) error {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return err
	}

	fmt.Fprintln(a.stderr, ErrorStyle.Render("Error: ")+formatErrorForDisplay(err, a.flags.verbose))
	a.renderGuidance(err, kind)
	return &ExitError{Code: classifyExitCode(err), Err: err}
}

// renderGuidance prints the markdown guidance matching err, if any.
func (a *App) renderGuidance(err error, kind selfupdate.FailureKind) {
	if err == nil {
		return
	}
	guidance := issueFor(err, kind)
	if guidance == nil {
		return
	}
	rendered, renderErr := guidance.Render(glamourStyle(a.stderr))
	if renderErr != nil {
		return
	}
	fmt.Fprint(a.stderr, rendered)
}

// formatErrorForDisplay formats an error for user display.
// If the error is an ActionableError, it uses the Format method.
// In verbose mode, shows the full error chain.
func formatErrorForDisplay(err error, verboseMode bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verboseMode)
	}
	return err.Error()
}

// glamourStyle picks a color style for terminals and plain text otherwise.
func glamourStyle(w io.Writer) string {
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return "dark"
	}
	return "notty"
}
