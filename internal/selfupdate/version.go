// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"regexp"
	"strings"

	"golang.org/x/mod/semver"
)

var (
	// tagPattern captures the numeric core of a release tag.
	tagPattern = regexp.MustCompile(`^(?:(?i:version|release|v)[-_]?)?(\d+\.\d+(?:\.\d+)?(?:\.\d+)?)(?:[-+].*)?$`)

	// tagPrefixPattern matches the optional prefix stripped before pre-release detection.
	tagPrefixPattern = regexp.MustCompile(`^(?i:version|release|v)[-_]?`)

	// preReleasePattern matches a pre-release marker after a hyphen.
	preReleasePattern = regexp.MustCompile(`(?i)-(?:alpha|beta|rc|pre|dev|snapshot)`)
)

// ExtractVersion returns the dotted numeric core of tag ("v2.1.0-rc.1" yields
// "2.1.0"), or "" when tag is not a version tag. Callers must treat "" as a
// failure, never as version zero.
func ExtractVersion(tag string) string {
	m := tagPattern.FindStringSubmatch(strings.TrimSpace(tag))
	if m == nil {
		return ""
	}
	return m[1]
}

// IsPreRelease reports whether tag carries an alpha, beta, rc, pre, dev or
// snapshot marker after a hyphen.
func IsPreRelease(tag string) bool {
	rest := tagPrefixPattern.ReplaceAllString(strings.TrimSpace(tag), "")
	return preReleasePattern.MatchString(rest)
}

// IsNewer reports whether latest is strictly greater than current. Both are
// reduced with ExtractVersion first; if either is unrecognizable the answer
// is false.
func IsNewer(current, latest string) bool {
	c := ExtractVersion(current)
	l := ExtractVersion(latest)
	if c == "" || l == "" {
		return false
	}
	return compareVersions(l, c) > 0
}

// compareVersions orders two dotted numeric versions. Canonical versions of up
// to three segments go through semver; anything else (four segments, leading
// zeros) is compared segment by segment with missing segments as zero.
func compareVersions(a, b string) int {
	va, vb := "v"+a, "v"+b
	if semver.IsValid(va) && semver.IsValid(vb) {
		return semver.Compare(va, vb)
	}

	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := range max(len(as), len(bs)) {
		if c := compareNumeric(segmentAt(as, i), segmentAt(bs, i)); c != 0 {
			return c
		}
	}
	return 0
}

func segmentAt(segments []string, i int) string {
	if i < len(segments) {
		return segments[i]
	}
	return "0"
}

// compareNumeric compares two digit strings of arbitrary length.
func compareNumeric(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}
