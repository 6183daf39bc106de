// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/invowk/upkeep/internal/logging"
)

type (
	// Artifact is what OnBeforeDownload hands back to the host installer.
	Artifact struct {
		// Handled is false when the package belongs to someone else.
		Handled bool
		Path    string
		Version string
		Size    int64
	}

	// Hooks is the host lifecycle, called in order: BeginUpdate,
	// OnBeforeDownload, then OnUpdateCompleted on every exit path.
	Hooks interface {
		PackageID() string
		BeginUpdate(ctx context.Context) error
		OnBeforeDownload(ctx context.Context, packageID string) (Artifact, error)
		OnUpdateCompleted(ctx context.Context, outcome error) error
	}
)

var _ Hooks = (*Pipeline)(nil)

// PackageID is the opaque identifier the host uses for this installation.
func (p *Pipeline) PackageID() string {
	repo, err := ParseRepository(p.settings.Repository)
	if err != nil {
		return p.settings.Repository
	}
	return repo.String()
}

// BeginUpdate takes the update lock for the configured repository. A held
// lock is a conflict and nothing else is attempted.
func (p *Pipeline) BeginUpdate(_ context.Context) error {
	repo, err := ParseRepository(p.settings.Repository)
	if err != nil {
		return newError(KindConfiguration, "beginning update", err)
	}

	acquired, err := p.lock.TryAcquire(LockKey(repo))
	if err != nil {
		return newError(KindInternal, "beginning update", err)
	}
	if !acquired {
		p.logger.Warn(logCategoryPipeline, "update already in progress", logging.Fields{
			"repository": repo.String(),
			"kind":       string(KindConflict),
		})
		return newError(KindConflict, "beginning update", ErrUpdateInProgress)
	}
	return nil
}

// OnBeforeDownload resolves and downloads the artifact recorded in the last
// snapshot when packageID names this installation. Other packages are
// reported as not handled.
func (p *Pipeline) OnBeforeDownload(ctx context.Context, packageID string) (Artifact, error) {
	if !strings.EqualFold(packageID, p.PackageID()) {
		return Artifact{}, nil
	}

	snap, err := p.snapshots.Load()
	if err != nil {
		if errors.Is(err, ErrNoSnapshot) {
			return Artifact{Handled: true}, newError(KindConfiguration, "preparing download", err)
		}
		return Artifact{Handled: true}, newError(KindInternal, "preparing download", err)
	}
	if !strings.EqualFold(snap.Repository, p.PackageID()) {
		return Artifact{Handled: true}, newError(KindConfiguration, "preparing download",
			fmt.Errorf("%w: snapshot belongs to %s", ErrNoSnapshot, snap.Repository))
	}
	if !IsNewer(ExtractVersion(p.settings.CurrentVersion), snap.Version) {
		return Artifact{Handled: true}, newError(KindConfiguration, "preparing download",
			fmt.Errorf("%w: snapshot version %s is not newer than %s", ErrNoSnapshot, snap.Version, p.settings.CurrentVersion))
	}

	asset, err := FindMatchingAsset(snap.Assets, p.settings.AssetPrefix)
	if err != nil {
		return Artifact{Handled: true}, newError(KindAssetSelection, "preparing download", err)
	}

	credential, err := p.resolveCredential(nil)
	if err != nil {
		return Artifact{Handled: true}, newError(KindInternal, "reading credential", err)
	}
	resolution, err := p.resolver.ResolveDirectDownloadURL(ctx, asset, credential)
	if err != nil {
		return Artifact{Handled: true}, err
	}

	f, err := os.CreateTemp(p.downloadDir, "upkeep-*"+archiveExt)
	if err != nil {
		return Artifact{Handled: true}, newError(KindInternal, "creating download file", err)
	}
	n, err := p.resolver.Download(ctx, resolution, f)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = newError(KindInternal, "closing download file", closeErr)
	}
	if err != nil {
		_ = os.Remove(f.Name())
		return Artifact{Handled: true}, err
	}

	p.logger.Info(logCategoryPipeline, "artifact downloaded", logging.Fields{
		"repository": snap.Repository,
		"asset":      asset.Name,
		"version":    snap.Version,
		"bytes":      n,
	})
	return Artifact{Handled: true, Path: f.Name(), Version: snap.Version, Size: n}, nil
}

// OnUpdateCompleted releases the update lock. After a successful install it
// also invalidates the snapshot so it cannot be installed twice.
func (p *Pipeline) OnUpdateCompleted(_ context.Context, outcome error) error {
	repo, err := ParseRepository(p.settings.Repository)
	if err != nil {
		return newError(KindConfiguration, "completing update", err)
	}

	var errs []error
	if err := p.lock.Release(LockKey(repo)); err != nil {
		errs = append(errs, newError(KindInternal, "completing update", err))
	}

	if outcome != nil {
		p.logger.Error(logCategoryPipeline, "update failed", logging.Fields{
			"repository": repo.String(),
			"kind":       string(KindOf(outcome)),
			"error":      outcome.Error(),
		})
		return errors.Join(errs...)
	}

	if err := p.InvalidateSnapshot(); err != nil {
		errs = append(errs, err)
	}
	p.logger.Info(logCategoryPipeline, "update completed", logging.Fields{"repository": repo.String()})
	return errors.Join(errs...)
}
