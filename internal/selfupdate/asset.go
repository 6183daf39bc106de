// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"fmt"
	"strings"
)

// archiveExt is the only archive format the installer consumes.
const archiveExt = ".zip"

// archiveContentTypes are the MIME types GitHub reports for zip uploads.
var archiveContentTypes = map[string]struct{}{
	"application/zip":              {},
	"application/x-zip":            {},
	"application/x-zip-compressed": {},
	"application/zip-compressed":   {},
	"multipart/x-zip":              {},
}

// AssetNotFoundError reports that no release asset carried the expected name.
type AssetNotFoundError struct {
	Expected  string   // Primary candidate filename, e.g. "my-plugin.zip"
	Available []string // Names of every asset in the release, in API order
}

// Error lists the expected name and what the release actually offers.
func (e *AssetNotFoundError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("release has no assets; expected %q", e.Expected)
	}
	return fmt.Sprintf("no release asset named %q (available: %s)",
		e.Expected, strings.Join(e.Available, ", "))
}

// IsArchive reports whether the asset is eligible for installation: its
// content type is a zip MIME type or its name ends in ".zip".
func (a Asset) IsArchive() bool {
	if strings.HasSuffix(strings.ToLower(a.Name), archiveExt) {
		return true
	}
	mediaType, _, _ := strings.Cut(strings.ToLower(a.ContentType), ";")
	_, ok := archiveContentTypes[strings.TrimSpace(mediaType)]
	return ok
}

// FindMatchingAsset returns the first archive asset whose name equals, case
// insensitively, "<prefix>.zip" or the variant with underscores and hyphens
// swapped. Matching is exact: a source snapshot or similarly named archive is
// never returned.
func FindMatchingAsset(assets []Asset, prefix string) (Asset, error) {
	normalized := NormalizeAssetPrefix(prefix)
	if normalized == "" {
		return Asset{}, ErrEmptyAssetPrefix
	}

	candidates := AssetCandidates(normalized)
	for _, asset := range assets {
		if !asset.IsArchive() {
			continue
		}
		for _, candidate := range candidates {
			if strings.EqualFold(asset.Name, candidate) {
				return asset, nil
			}
		}
	}

	available := make([]string, 0, len(assets))
	for _, asset := range assets {
		available = append(available, asset.Name)
	}
	return Asset{}, &AssetNotFoundError{Expected: candidates[0], Available: available}
}

// NormalizeAssetPrefix trims whitespace and trailing separators.
func NormalizeAssetPrefix(prefix string) string {
	return strings.TrimRight(strings.TrimSpace(prefix), "-_./ ")
}

// AssetCandidates returns the accepted filenames for a normalized prefix,
// exact form first, without duplicates.
func AssetCandidates(prefix string) []string {
	forms := []string{
		prefix + archiveExt,
		strings.ReplaceAll(prefix, "_", "-") + archiveExt,
		strings.ReplaceAll(prefix, "-", "_") + archiveExt,
	}

	out := make([]string, 0, len(forms))
	out = append(out, forms[0])
	for _, f := range forms[1:] {
		dup := false
		for _, existing := range out {
			if strings.EqualFold(existing, f) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, f)
		}
	}
	return out
}
