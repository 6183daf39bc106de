// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

const (
	// KindConfiguration covers missing or malformed settings. No network call is made.
	KindConfiguration FailureKind = "configuration"
	// KindUpstream covers provider-side problems: rate limits, missing releases, unparseable tags.
	KindUpstream FailureKind = "upstream"
	// KindAssetSelection covers releases without a matching archive asset.
	KindAssetSelection FailureKind = "asset_selection"
	// KindResolution covers transport failures and unexpected HTTP statuses.
	KindResolution FailureKind = "resolution"
	// KindSecurityPolicy marks a credential that was withheld. Logged, never returned as a failure.
	KindSecurityPolicy FailureKind = "security_policy"
	// KindConflict reports a concurrent update holding the lock.
	KindConflict FailureKind = "conflict"
	// KindInternal covers storage failures and recovered panics.
	KindInternal FailureKind = "internal"
)

var (
	// ErrReleaseNotFound is returned when a requested release tag does not exist.
	ErrReleaseNotFound = errors.New("release not found")
	// ErrTagLookupUnsupported is returned when a release source cannot fetch by tag.
	ErrTagLookupUnsupported = errors.New("release source cannot look up tags")
	// ErrNoReleases is returned when the repository has no qualifying release.
	ErrNoReleases = errors.New("no releases found")
	// ErrEmptyRepository is returned when no repository is configured.
	ErrEmptyRepository = errors.New("repository is not configured")
	// ErrInvalidRepository is returned when a repository identifier cannot be parsed.
	ErrInvalidRepository = errors.New("invalid repository identifier")
	// ErrEmptyAssetPrefix is returned when no asset name prefix is configured.
	ErrEmptyAssetPrefix = errors.New("asset prefix is not configured")
	// ErrInvalidVersion is returned when a version string cannot be recognized.
	ErrInvalidVersion = errors.New("invalid version")
	// ErrEmptyArtifact is returned when a download produced no bytes.
	ErrEmptyArtifact = errors.New("downloaded artifact is empty")
	// ErrNoSnapshot is returned when the execution path finds no usable release snapshot.
	ErrNoSnapshot = errors.New("no release snapshot; run a check first")
	// ErrUpdateInProgress is returned when another update holds the lock.
	ErrUpdateInProgress = errors.New("an update is already in progress; try again later")
	// ErrPackageNotHandled is returned when the pre-download hook does not recognize a package.
	ErrPackageNotHandled = errors.New("package is not managed by this updater")
)

type (
	// FailureKind categorizes a failed pipeline step.
	FailureKind string

	// Error attaches a FailureKind and the failing operation to an error.
	Error struct {
		Kind FailureKind
		Op   string
		Err  error
	}
)

// Error formats the operation and cause.
func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind FailureKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf reports the FailureKind carried by err, classifying untyped errors
// by their cause.
func KindOf(err error) FailureKind {
	if err == nil {
		return ""
	}

	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}

	var (
		rateErr     *RateLimitError
		providerErr *ProviderError
		statusErr   *StatusError
		assetErr    *AssetNotFoundError
		urlErr      *url.Error
		netErr      net.Error
	)
	switch {
	case errors.Is(err, ErrEmptyRepository), errors.Is(err, ErrInvalidRepository),
		errors.Is(err, ErrEmptyAssetPrefix), errors.Is(err, ErrInvalidVersion):
		return KindConfiguration
	case errors.Is(err, ErrUpdateInProgress):
		return KindConflict
	case errors.As(err, &assetErr):
		return KindAssetSelection
	case errors.As(err, &rateErr), errors.As(err, &providerErr),
		errors.Is(err, ErrReleaseNotFound), errors.Is(err, ErrNoReleases):
		return KindUpstream
	case errors.As(err, &statusErr), errors.As(err, &urlErr), errors.As(err, &netErr),
		errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled),
		errors.Is(err, ErrEmptyArtifact):
		return KindResolution
	default:
		return KindInternal
	}
}
