// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/invowk/upkeep/internal/clock"
	"github.com/invowk/upkeep/internal/logging"
	"github.com/invowk/upkeep/internal/store"
)

const logCategoryPipeline = "pipeline"

const (
	// StateFetching is the state while release metadata is being fetched.
	StateFetching State = "fetching"
	// StateEvaluating is the state while versions are compared.
	StateEvaluating State = "evaluating"
	// StateNoUpdate means the installed version is current.
	StateNoUpdate State = "no_update"
	// StateNoQualifyingRelease means the latest release is a pre-release that was not opted into.
	StateNoQualifyingRelease State = "no_qualifying_release"
	// StateUpdateAvailable means a newer version exists; the check did not resolve a download.
	StateUpdateAvailable State = "update_available"
	// StateAssetMissing means the newer release has no matching archive.
	StateAssetMissing State = "asset_missing"
	// StateDownloadUnresolved means the matching asset could not be resolved to a download URL.
	StateDownloadUnresolved State = "download_unresolved"
	// StateReady means a newer version was resolved end to end.
	StateReady State = "ready"
	// StateFailed covers configuration, upstream and internal failures.
	StateFailed State = "failed"
)

type (
	// State is the terminal state of one pipeline run.
	State string

	// Settings is the per-installation update configuration.
	Settings struct {
		Repository         string `json:"repository" yaml:"repository"`
		AssetPrefix        string `json:"asset_prefix" yaml:"asset_prefix"`
		CurrentVersion     string `json:"current_version" yaml:"current_version"`
		IncludePrereleases bool   `json:"include_prereleases" yaml:"include_prereleases"`
		APIBaseURL         string `json:"api_base_url,omitempty" yaml:"api_base_url,omitempty"`
	}

	// Decision is the result of one pipeline run. It is never cached.
	Decision struct {
		State               State       `json:"state" yaml:"state"`
		Repository          string      `json:"repository,omitempty" yaml:"repository,omitempty"`
		CurrentVersion      string      `json:"current_version,omitempty" yaml:"current_version,omitempty"`
		LatestVersion       string      `json:"latest_version,omitempty" yaml:"latest_version,omitempty"`
		TagName             string      `json:"tag_name,omitempty" yaml:"tag_name,omitempty"`
		UpdateAvailable     bool        `json:"update_available" yaml:"update_available"`
		AssetName           string      `json:"asset_name,omitempty" yaml:"asset_name,omitempty"`
		PackageURL          string      `json:"package_url,omitempty" yaml:"package_url,omitempty"`
		ResolvedDownloadURL string      `json:"resolved_download_url,omitempty" yaml:"resolved_download_url,omitempty"`
		Message             string      `json:"message" yaml:"message"`
		Success             bool        `json:"success" yaml:"success"`
		Kind                FailureKind `json:"kind,omitempty" yaml:"kind,omitempty"`
		Err                 error       `json:"-" yaml:"-"`
	}

	// CredentialSource supplies the stored credential in plaintext.
	CredentialSource interface {
		Get() (string, error)
	}

	// SourceFactory builds a ReleaseSource for one repository and credential.
	SourceFactory func(repo Repository, credential string) ReleaseSource

	// Pipeline orchestrates fetch, compare, match and resolve for one installation.
	Pipeline struct {
		settings      Settings
		snapshots     *SnapshotStore
		ephemeral     store.EphemeralStore
		lock          *UpdateLock
		credentials   CredentialSource
		resolver      *ArtifactResolver
		sourceFactory SourceFactory
		clientOptions []ClientOption
		clock         clock.Clock
		logger        *logging.Logger
		downloadDir   string
	}

	// PipelineOption configures a Pipeline during construction.
	PipelineOption func(*Pipeline)

	// ReadinessOption adjusts a single ValidateReadiness run.
	ReadinessOption func(*readinessRequest)

	readinessRequest struct {
		repository   *string
		credential   *string
		persist      *bool
		tag          string
		hasOverrides bool
	}

	// runRequest is the effective input of one check.
	runRequest struct {
		repository string
		credential *string
		tag        string
		persist    bool
		fresh      bool
	}

	// evaluation carries what a successful check learned, for readiness to continue from.
	evaluation struct {
		repo       Repository
		release    *Release
		credential string
	}
)

// WithSourceFactory replaces the GitHub client used to fetch releases.
func WithSourceFactory(f SourceFactory) PipelineOption {
	return func(p *Pipeline) {
		p.sourceFactory = f
	}
}

// WithCredentials sets where the stored credential comes from.
func WithCredentials(c CredentialSource) PipelineOption {
	return func(p *Pipeline) {
		p.credentials = c
	}
}

// WithResolver replaces the artifact resolver.
func WithResolver(r *ArtifactResolver) PipelineOption {
	return func(p *Pipeline) {
		p.resolver = r
	}
}

// WithClock sets the clock used for cache and lock expiry.
func WithClock(c clock.Clock) PipelineOption {
	return func(p *Pipeline) {
		p.clock = c
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *logging.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// WithClientOptions passes extra options to every GitHub client the pipeline builds.
func WithClientOptions(opts ...ClientOption) PipelineOption {
	return func(p *Pipeline) {
		p.clientOptions = append(p.clientOptions, opts...)
	}
}

// WithDownloadDir sets where OnBeforeDownload writes artifacts. Defaults to the OS temp dir.
func WithDownloadDir(dir string) PipelineOption {
	return func(p *Pipeline) {
		p.downloadDir = dir
	}
}

// WithRepositoryOverride checks repo instead of the configured repository.
func WithRepositoryOverride(repo string) ReadinessOption {
	return func(r *readinessRequest) {
		r.repository = &repo
		r.hasOverrides = true
	}
}

// WithCredentialOverride uses credential instead of the stored one.
// An empty value forces an unauthenticated run.
func WithCredentialOverride(credential string) ReadinessOption {
	return func(r *readinessRequest) {
		r.credential = &credential
		r.hasOverrides = true
	}
}

// WithPinnedTag evaluates the release tagged tag instead of the latest one.
// The release cache is bypassed, and pre-release tags are accepted because
// the pin opts into them.
func WithPinnedTag(tag string) ReadinessOption {
	return func(r *readinessRequest) {
		r.tag = strings.TrimSpace(tag)
		r.hasOverrides = true
	}
}

// WithPersist controls whether the run writes the snapshot and markers.
// Without it, runs with overrides do not persist and other runs do.
func WithPersist(persist bool) ReadinessOption {
	return func(r *readinessRequest) {
		r.persist = &persist
	}
}

// NewPipeline creates a Pipeline for settings. options holds snapshots and
// markers; ephemeral holds the release cache and the update lock.
func NewPipeline(settings Settings, options store.OptionStore, ephemeral store.EphemeralStore, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		settings:  settings,
		snapshots: NewSnapshotStore(options),
		ephemeral: ephemeral,
	}
	for _, opt := range opts {
		opt(p)
	}

	p.clock = clock.OrReal(p.clock)
	p.lock = NewUpdateLock(ephemeral, p.clock)
	if p.resolver == nil {
		resolverOpts := []ResolverOption{WithResolverLogger(p.logger)}
		if settings.APIBaseURL != "" {
			resolverOpts = append(resolverOpts, WithResolverBaseURL(settings.APIBaseURL))
		}
		p.resolver = NewArtifactResolver(resolverOpts...)
	}
	if p.sourceFactory == nil {
		p.sourceFactory = p.gitHubSource
	}
	return p
}

// Settings returns the configuration the pipeline was built with.
func (p *Pipeline) Settings() Settings {
	return p.settings
}

// Snapshots exposes the snapshot store for status displays.
func (p *Pipeline) Snapshots() *SnapshotStore {
	return p.snapshots
}

// Resolver returns the artifact resolver in use.
func (p *Pipeline) Resolver() *ArtifactResolver {
	return p.resolver
}

// CheckForUpdates compares the configured version with the latest release,
// using cached metadata when it is fresh enough, and persists the snapshot.
func (p *Pipeline) CheckForUpdates(ctx context.Context) (decision Decision) {
	defer p.recoverInto(&decision, "check")
	decision, _ = p.check(ctx, runRequest{repository: p.settings.Repository, persist: true})
	return decision
}

// CheckForUpdatesFresh drops the cached release and the availability marker
// before checking.
func (p *Pipeline) CheckForUpdatesFresh(ctx context.Context) (decision Decision) {
	defer p.recoverInto(&decision, "fresh check")
	decision, _ = p.check(ctx, runRequest{repository: p.settings.Repository, persist: true, fresh: true})
	return decision
}

// ValidateReadiness runs every step short of installing: a fresh check, then
// asset matching and network resolution of the download URL when an update
// is available.
func (p *Pipeline) ValidateReadiness(ctx context.Context, opts ...ReadinessOption) (decision Decision) {
	defer p.recoverInto(&decision, "readiness validation")

	var req readinessRequest
	for _, opt := range opts {
		opt(&req)
	}
	run := runRequest{
		repository: p.settings.Repository,
		credential: req.credential,
		tag:        req.tag,
		persist:    !req.hasOverrides,
		fresh:      true,
	}
	if req.repository != nil {
		run.repository = *req.repository
	}
	if req.persist != nil {
		run.persist = *req.persist
	}

	if NormalizeAssetPrefix(p.settings.AssetPrefix) == "" {
		return p.fail(Decision{Repository: run.repository}, StateFailed,
			newError(KindConfiguration, "validating settings", ErrEmptyAssetPrefix))
	}

	decision, eval := p.check(ctx, run)
	if !decision.Success || !decision.UpdateAvailable {
		return decision
	}

	asset, err := FindMatchingAsset(eval.release.Assets, p.settings.AssetPrefix)
	if err != nil {
		return p.fail(decision, StateAssetMissing, newError(KindAssetSelection, "matching release asset", err))
	}
	decision.AssetName = asset.Name
	decision.PackageURL = p.resolver.ResolvePackageURLForDisplay(asset, hasCredential(eval.credential))

	resolution, err := p.resolver.ResolveDirectDownloadURL(ctx, asset, eval.credential)
	if err != nil {
		return p.fail(decision, StateDownloadUnresolved, err)
	}

	decision.State = StateReady
	decision.ResolvedDownloadURL = resolution.URL
	decision.Message = fmt.Sprintf("update %s -> %s is ready: %s resolved via %s",
		decision.CurrentVersion, decision.LatestVersion, asset.Name, resolution.Source)
	p.logger.Info(logCategoryPipeline, "readiness validated", logging.Fields{
		"repository": decision.Repository,
		"asset":      asset.Name,
		"source":     string(resolution.Source),
		"url":        redactURL(resolution.URL),
	})
	return decision
}

// InvalidateSnapshot discards the stored snapshot and availability marker.
// Call it whenever the repository or credential configuration changes.
func (p *Pipeline) InvalidateSnapshot() error {
	if err := p.snapshots.Clear(); err != nil {
		return newError(KindInternal, "invalidating snapshot", err)
	}
	return nil
}

func (p *Pipeline) check(ctx context.Context, req runRequest) (Decision, *evaluation) {
	decision := Decision{State: StateFetching, Repository: req.repository, CurrentVersion: p.settings.CurrentVersion}

	if req.repository == "" {
		return p.fail(decision, StateFailed, newError(KindConfiguration, "validating settings", ErrEmptyRepository)), nil
	}
	repo, err := ParseRepository(req.repository)
	if err != nil {
		return p.fail(decision, StateFailed, newError(KindConfiguration, "validating settings", err)), nil
	}
	decision.Repository = repo.String()

	current := ExtractVersion(p.settings.CurrentVersion)
	if current == "" {
		return p.fail(decision, StateFailed, newError(KindConfiguration, "validating settings",
			fmt.Errorf("%w: current version %q", ErrInvalidVersion, p.settings.CurrentVersion))), nil
	}
	decision.CurrentVersion = current

	credential, err := p.resolveCredential(req.credential)
	if err != nil {
		return p.fail(decision, StateFailed, newError(KindInternal, "reading credential", err)), nil
	}

	if req.fresh && req.persist {
		if err := p.snapshots.ClearAvailability(); err != nil {
			p.logger.Warn(logCategoryPipeline, "failed to clear availability marker", logging.Fields{"error": err.Error()})
		}
	}

	release, err := p.fetchRelease(ctx, repo, credential, req)
	if err != nil {
		return p.fail(decision, StateFailed, err), nil
	}

	decision.State = StateEvaluating
	decision.TagName = release.TagName

	if req.tag == "" && !p.settings.IncludePrereleases && (release.Prerelease || IsPreRelease(release.TagName)) {
		decision.State = StateNoQualifyingRelease
		decision.Success = true
		decision.Message = fmt.Sprintf("no qualifying release: latest release %s is a pre-release and pre-releases are not enabled", release.TagName)
		if req.persist {
			p.clearAvailability()
		}
		p.logger.Info(logCategoryPipeline, "pre-release skipped", logging.Fields{
			"repository": decision.Repository,
			"tag":        release.TagName,
		})
		return decision, nil
	}

	latest := ExtractVersion(release.TagName)
	if latest == "" {
		return p.fail(decision, StateFailed, newError(KindUpstream, "evaluating release",
			fmt.Errorf("%w: could not determine version from tag %q", ErrInvalidVersion, release.TagName))), nil
	}
	decision.LatestVersion = latest
	decision.UpdateAvailable = IsNewer(current, latest)

	if decision.UpdateAvailable {
		decision.State = StateUpdateAvailable
		decision.Message = fmt.Sprintf("update available: %s -> %s", current, latest)
		if asset, matchErr := FindMatchingAsset(release.Assets, p.settings.AssetPrefix); matchErr == nil {
			decision.AssetName = asset.Name
			decision.PackageURL = p.resolver.ResolvePackageURLForDisplay(asset, hasCredential(credential))
		}
	} else {
		decision.State = StateNoUpdate
		decision.Message = fmt.Sprintf("%s is up to date (latest release %s)", current, release.TagName)
	}

	if req.persist {
		if err := p.persist(repo, release, decision); err != nil {
			return p.fail(decision, StateFailed, newError(KindInternal, "persisting snapshot", err)), nil
		}
	}

	decision.Success = true
	p.logger.Debug(logCategoryPipeline, "check completed", logging.Fields{
		"repository": decision.Repository,
		"current":    current,
		"latest":     latest,
		"available":  decision.UpdateAvailable,
	})
	return decision, &evaluation{repo: repo, release: release, credential: credential}
}

// fetchRelease returns the pinned release when req names a tag, and the
// cached latest release otherwise.
func (p *Pipeline) fetchRelease(ctx context.Context, repo Repository, credential string, req runRequest) (*Release, error) {
	source := p.sourceFactory(repo, credential)
	if req.tag == "" {
		cache := NewReleaseCache(source, p.ephemeral, repo, p.channel(), p.clock, p.logger)
		release, err := cache.GetLatestRelease(ctx, req.fresh)
		if err != nil {
			return nil, newError(classifyFetch(err), "fetching latest release", err)
		}
		return release, nil
	}

	tagged, ok := source.(TaggedReleaseSource)
	if !ok {
		return nil, newError(KindInternal, "fetching release "+req.tag, ErrTagLookupUnsupported)
	}
	release, err := tagged.GetReleaseByTag(ctx, req.tag)
	if err != nil {
		return nil, newError(classifyFetch(err), "fetching release "+req.tag, err)
	}
	return release, nil
}

func (p *Pipeline) persist(repo Repository, release *Release, decision Decision) error {
	now := p.clock.Now()
	if err := p.snapshots.Save(Snapshot{
		Repository:  repo.String(),
		Version:     decision.LatestVersion,
		TagName:     release.TagName,
		PublishedAt: release.PublishedAt,
		HTMLURL:     release.HTMLURL,
		Assets:      release.Assets,
		CapturedAt:  now,
	}); err != nil {
		return err
	}
	if err := p.snapshots.SaveOutcome(Outcome{
		CheckedAt:       now,
		CurrentVersion:  decision.CurrentVersion,
		LatestVersion:   decision.LatestVersion,
		UpdateAvailable: decision.UpdateAvailable,
	}); err != nil {
		return err
	}
	if !decision.UpdateAvailable {
		return p.snapshots.ClearAvailability()
	}
	return p.snapshots.PublishAvailability(Availability{
		Version:    decision.LatestVersion,
		PackageURL: decision.PackageURL,
	})
}

func (p *Pipeline) clearAvailability() {
	if err := p.snapshots.ClearAvailability(); err != nil {
		p.logger.Warn(logCategoryPipeline, "failed to clear availability marker", logging.Fields{"error": err.Error()})
	}
}

func (p *Pipeline) resolveCredential(override *string) (string, error) {
	if override != nil {
		return *override, nil
	}
	if p.credentials == nil {
		return "", nil
	}
	return p.credentials.Get()
}

func (p *Pipeline) channel() Channel {
	if p.settings.IncludePrereleases {
		return ChannelPrerelease
	}
	return ChannelStable
}

func (p *Pipeline) gitHubSource(repo Repository, credential string) ReleaseSource {
	opts := []ClientOption{WithRepo(repo), WithToken(credential), WithClientLogger(p.logger)}
	if p.settings.APIBaseURL != "" {
		opts = append(opts, WithBaseURL(p.settings.APIBaseURL))
	}
	return NewGitHubClient(append(opts, p.clientOptions...)...)
}

// hasCredential reports whether raw would be sent as a credential.
func hasCredential(raw string) bool {
	token, ok := SanitizeCredential(raw)
	return ok && token != ""
}

// fail finalizes decision as a failure and logs it.
func (p *Pipeline) fail(decision Decision, state State, err error) Decision {
	decision.State = state
	decision.Success = false
	decision.Err = err
	decision.Kind = KindOf(err)
	decision.Message = err.Error()

	p.logger.Error(logCategoryPipeline, "update check failed", logging.Fields{
		"repository": decision.Repository,
		"state":      string(state),
		"kind":       string(decision.Kind),
		"error":      err.Error(),
	})
	return decision
}

// recoverInto converts a panic during a run into a failed decision.
func (p *Pipeline) recoverInto(decision *Decision, op string) {
	r := recover()
	if r == nil {
		return
	}
	*decision = p.fail(Decision{Repository: p.settings.Repository, CurrentVersion: p.settings.CurrentVersion},
		StateFailed, newError(KindInternal, op, fmt.Errorf("unexpected panic: %v", r)))
}

// classifyFetch maps release-fetch failures onto upstream or resolution kinds.
func classifyFetch(err error) FailureKind {
	kind := KindOf(err)
	if kind == KindInternal || kind == KindConfiguration {
		if errors.Is(err, ErrInvalidRepository) {
			return KindConfiguration
		}
		return KindUpstream
	}
	return kind
}
