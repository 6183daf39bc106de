// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	// maxExtractedBytes bounds the total uncompressed size of an archive (2 GB).
	maxExtractedBytes = 2 << 30

	// maxArchiveEntries bounds the number of files in an archive.
	maxArchiveEntries = 100_000

	backupSuffix = ".bak"
)

// ErrUnsafeArchivePath is returned for archive entries that escape the target directory.
var ErrUnsafeArchivePath = errors.New("archive entry escapes target directory")

// ZipInstaller extracts a zip archive next to TargetDir and swaps it in by
// rename, keeping the previous tree as TargetDir.bak until the swap succeeds.
type ZipInstaller struct {
	TargetDir string
	// StripSingleRoot unwraps archives whose entries share one top-level directory.
	StripSingleRoot bool
}

var _ Installer = (*ZipInstaller)(nil)

// Install replaces TargetDir with the contents of archivePath.
func (z *ZipInstaller) Install(ctx context.Context, archivePath string) (err error) {
	if z.TargetDir == "" {
		return errors.New("install target directory is not configured")
	}
	target, err := filepath.Abs(z.TargetDir)
	if err != nil {
		return fmt.Errorf("resolving target directory: %w", err)
	}

	parent := filepath.Dir(target)
	if err = os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}

	// The staging directory shares a filesystem with target so the swap is a rename.
	staging, err := os.MkdirTemp(parent, "."+filepath.Base(target)+"-staging-*")
	if err != nil {
		return fmt.Errorf("creating staging directory: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.RemoveAll(staging)
		}
	}()

	if err = extractZip(ctx, archivePath, staging, z.StripSingleRoot); err != nil {
		return err
	}
	return swapDirectory(staging, target)
}

// swapDirectory moves staging into target, keeping target.bak until done.
func swapDirectory(staging, target string) error {
	backup := target + backupSuffix
	if err := os.RemoveAll(backup); err != nil {
		return fmt.Errorf("removing stale backup: %w", err)
	}

	hadTarget := true
	if err := os.Rename(target, backup); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("backing up %s: %w", target, err)
		}
		hadTarget = false
	}

	if err := os.Rename(staging, target); err != nil {
		if hadTarget {
			if restoreErr := os.Rename(backup, target); restoreErr != nil {
				return fmt.Errorf("swapping in new version: %w (restore failed: %w)", err, restoreErr)
			}
		}
		return fmt.Errorf("swapping in new version: %w", err)
	}

	if hadTarget {
		_ = os.RemoveAll(backup)
	}
	return nil
}

func extractZip(ctx context.Context, archivePath, dest string, stripRoot bool) error {
	zr, err := zip.OpenReader(archivePath)
	if errors.Is(err, zip.ErrInsecurePath) {
		_ = zr.Close()
		return fmt.Errorf("%w: %s", ErrUnsafeArchivePath, filepath.Base(archivePath))
	}
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer func() { _ = zr.Close() }()

	if len(zr.File) > maxArchiveEntries {
		return fmt.Errorf("archive has %d entries, limit is %d", len(zr.File), maxArchiveEntries)
	}

	root := ""
	if stripRoot {
		root = singleRoot(zr.File)
	}

	var total int64
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}

		name := strings.TrimPrefix(filepath.ToSlash(f.Name), root)
		if name == "" || name == "/" {
			continue
		}
		path, err := safeJoin(dest, name)
		if err != nil {
			return fmt.Errorf("%w: %s", err, f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(path, 0o755); err != nil {
				return fmt.Errorf("creating %s: %w", name, err)
			}
			continue
		}
		if !f.Mode().IsRegular() {
			continue
		}

		n, err := extractFile(f, path, maxExtractedBytes-total)
		if err != nil {
			return err
		}
		total += n
	}
	return nil
}

func extractFile(f *zip.File, path string, budget int64) (_ int64, err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}

	rc, err := f.Open()
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", f.Name, err)
	}
	defer func() { _ = rc.Close() }()

	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, f.Mode().Perm()|0o600)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	n, err := io.Copy(out, io.LimitReader(rc, budget+1))
	if err != nil {
		return n, fmt.Errorf("extracting %s: %w", f.Name, err)
	}
	if n > budget {
		return n, fmt.Errorf("archive exceeds %d uncompressed bytes", int64(maxExtractedBytes))
	}
	return n, nil
}

// safeJoin joins name under dest and rejects results outside dest.
func safeJoin(dest, name string) (string, error) {
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return "", ErrUnsafeArchivePath
	}
	path := filepath.Join(dest, filepath.FromSlash(name))
	rel, err := filepath.Rel(dest, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrUnsafeArchivePath
	}
	return path, nil
}

// singleRoot returns "dir/" when every entry lives under one top-level directory.
func singleRoot(files []*zip.File) string {
	root := ""
	for _, f := range files {
		name := filepath.ToSlash(f.Name)
		first, _, found := strings.Cut(name, "/")
		if !found {
			return ""
		}
		if root == "" {
			root = first
		} else if root != first {
			return ""
		}
	}
	if root == "" {
		return ""
	}
	return root + "/"
}
