// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"context"
	"fmt"
	"os"
)

type (
	// Installer swaps a downloaded archive into place.
	Installer interface {
		Install(ctx context.Context, archivePath string) error
	}

	// InstallerFunc adapts a function to Installer.
	InstallerFunc func(ctx context.Context, archivePath string) error

	// Executor drives one mutating update through the host hooks.
	Executor struct {
		hooks     Hooks
		installer Installer
	}

	// RunResult describes a completed update.
	RunResult struct {
		Version string `json:"version" yaml:"version"`
		Bytes   int64  `json:"bytes" yaml:"bytes"`
	}
)

// Install calls f.
func (f InstallerFunc) Install(ctx context.Context, archivePath string) error {
	return f(ctx, archivePath)
}

// NewExecutor creates an Executor.
func NewExecutor(hooks Hooks, installer Installer) *Executor {
	return &Executor{hooks: hooks, installer: installer}
}

// Run acquires the update lock, downloads the snapshot's artifact and
// installs it. Once the lock is held, OnUpdateCompleted runs on every exit
// path, panics included.
func (e *Executor) Run(ctx context.Context) (result *RunResult, err error) {
	if err := e.hooks.BeginUpdate(ctx); err != nil {
		return nil, err
	}

	defer func() {
		if doneErr := e.hooks.OnUpdateCompleted(ctx, err); doneErr != nil && err == nil {
			err = doneErr
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = newError(KindInternal, "running update", fmt.Errorf("unexpected panic: %v", r))
		}
	}()

	artifact, err := e.hooks.OnBeforeDownload(ctx, e.hooks.PackageID())
	if err != nil {
		return nil, err
	}
	if !artifact.Handled {
		return nil, newError(KindInternal, "running update", ErrPackageNotHandled)
	}
	defer func() { _ = os.Remove(artifact.Path) }()

	if err := e.installer.Install(ctx, artifact.Path); err != nil {
		return nil, newError(KindInternal, "installing "+artifact.Version, err)
	}
	return &RunResult{Version: artifact.Version, Bytes: artifact.Size}, nil
}
