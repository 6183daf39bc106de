// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var repoSegmentPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Repository identifies a GitHub repository.
type Repository struct {
	Owner string
	Name  string
}

// ParseRepository accepts "owner/name", a web URL such as
// "https://github.com/owner/name.git", or an API URL such as
// "https://api.github.com/repos/owner/name".
func ParseRepository(raw string) (Repository, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Repository{}, ErrEmptyRepository
	}

	var segments []string
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil || u.Host == "" {
			return Repository{}, fmt.Errorf("%w: %q is not a valid URL", ErrInvalidRepository, s)
		}
		segments = splitPath(u.Path)
		if len(segments) > 0 && segments[0] == "repos" {
			segments = segments[1:]
		}
	} else {
		segments = splitPath(s)
		if len(segments) != 2 {
			return Repository{}, fmt.Errorf("%w: %q must be in owner/name form", ErrInvalidRepository, s)
		}
	}

	if len(segments) < 2 {
		return Repository{}, fmt.Errorf("%w: %q does not name an owner and repository", ErrInvalidRepository, s)
	}

	repo := Repository{
		Owner: segments[0],
		Name:  strings.TrimSuffix(segments[1], ".git"),
	}
	for _, part := range []string{repo.Owner, repo.Name} {
		if part == "." || part == ".." || !repoSegmentPattern.MatchString(part) {
			return Repository{}, fmt.Errorf("%w: %q contains an invalid segment %q", ErrInvalidRepository, s, part)
		}
	}
	return repo, nil
}

// String returns "owner/name".
func (r Repository) String() string {
	return r.Owner + "/" + r.Name
}

// IsZero reports whether r is unset.
func (r Repository) IsZero() bool {
	return r.Owner == "" && r.Name == ""
}

func splitPath(p string) []string {
	var out []string
	for part := range strings.SplitSeq(p, "/") {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
