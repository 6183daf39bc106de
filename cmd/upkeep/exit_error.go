// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"

	"github.com/invowk/upkeep/internal/config"
	"github.com/invowk/upkeep/internal/credential"
	"github.com/invowk/upkeep/internal/issue"
	"github.com/invowk/upkeep/internal/selfupdate"
	"github.com/invowk/upkeep/internal/store"
	"github.com/invowk/upkeep/pkg/types"
)

// ExitError signals a non-zero exit code without forcing os.Exit in RunE handlers.
type ExitError struct {
	Code types.ExitCode
	Err  error
}

// Error returns the error message for ExitError.
func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// Unwrap returns the underlying error, if any.
func (e *ExitError) Unwrap() error {
	return e.Err
}

// exitCodeForKind maps a pipeline failure kind to the process exit code.
func exitCodeForKind(kind selfupdate.FailureKind) types.ExitCode {
	switch kind {
	case "":
		return types.ExitOK
	case selfupdate.KindConfiguration:
		return types.ExitConfiguration
	case selfupdate.KindUpstream, selfupdate.KindAssetSelection, selfupdate.KindResolution:
		return types.ExitUpstream
	case selfupdate.KindConflict:
		return types.ExitConflict
	default:
		return types.ExitFailure
	}
}

// classifyExitCode maps an error returned outside a pipeline decision.
func classifyExitCode(err error) types.ExitCode {
	var exitErr *ExitError
	switch {
	case err == nil:
		return types.ExitOK
	case errors.As(err, &exitErr):
		return exitErr.Code
	case errors.Is(err, store.ErrLocked):
		return types.ExitConflict
	case errors.Is(err, config.ErrInvalidConfig), errors.Is(err, credential.ErrNoKeyMaterial),
		errors.Is(err, selfupdate.ErrUnknownInstance):
		return types.ExitConfiguration
	}

	var ae *issue.ActionableError
	if errors.As(err, &ae) && (ae.Issue == issue.ConfigLoadFailedId || ae.Issue == issue.ConfigurationInvalidId) {
		return types.ExitConfiguration
	}
	return exitCodeForKind(selfupdate.KindOf(err))
}

// issueFor picks the guidance for err: an explicitly linked issue first,
// then the one explaining the failure kind.
func issueFor(err error, kind selfupdate.FailureKind) *issue.Issue {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		if guidance := ae.Guidance(); guidance != nil {
			return guidance
		}
	}

	var rateErr *selfupdate.RateLimitError
	switch {
	case errors.As(err, &rateErr):
		return issue.Get(issue.RateLimitedId)
	case errors.Is(err, credential.ErrNoKeyMaterial):
		return issue.Get(issue.CredentialKeyMissingId)
	case errors.Is(err, store.ErrLocked):
		return issue.Get(issue.UpdateInProgressId)
	case errors.Is(err, errInstallFailed):
		return issue.Get(issue.InstallFailedId)
	}

	if kind == "" {
		kind = selfupdate.KindOf(err)
	}
	return issue.ForKind(string(kind))
}
