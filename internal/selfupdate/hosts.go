// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"net/http"
	"net/url"
	"strings"
	"unicode"

	"github.com/invowk/upkeep/internal/logging"
)

// trustedHosts are the GitHub domains that may receive the credential.
var trustedHosts = []string{
	"api.github.com",
	"github.com",
	"codeload.github.com",
	"objects.githubusercontent.com",
	"github-releases.githubusercontent.com",
	"release-assets.githubusercontent.com",
	"raw.githubusercontent.com",
}

type (
	// HostPolicy decides which hosts may receive the Authorization header.
	// Matching is exact and case-insensitive; subdomains and look-alike
	// domains never match.
	HostPolicy struct {
		// apiHost is the configured API base host, including any port.
		apiHost string
	}

	// authGuard strips Authorization from requests to hosts outside the policy.
	authGuard struct {
		next   http.RoundTripper
		policy HostPolicy
		logger *logging.Logger
	}
)

// NewHostPolicy trusts the fixed GitHub hosts plus the host of apiBaseURL.
func NewHostPolicy(apiBaseURL string) HostPolicy {
	p := HostPolicy{}
	if u, err := url.Parse(apiBaseURL); err == nil {
		p.apiHost = strings.ToLower(u.Host)
	}
	return p
}

// Allows reports whether u may receive the credential.
func (p HostPolicy) Allows(u *url.URL) bool {
	if u == nil {
		return false
	}
	if p.apiHost != "" && strings.EqualFold(u.Host, p.apiHost) {
		return true
	}
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && port != "443" {
		return false
	}
	for _, trusted := range trustedHosts {
		if host == trusted {
			return true
		}
	}
	return false
}

// SanitizeCredential trims surrounding whitespace and rejects values with
// embedded whitespace, control or non-ASCII characters. A rejected value
// returns ("", false) and must be treated as no credential.
func SanitizeCredential(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	for _, r := range trimmed {
		if r > unicode.MaxASCII || unicode.IsSpace(r) || unicode.IsControl(r) {
			return "", false
		}
	}
	return trimmed, true
}

// newAuthGuard wraps next so no request leaves with Authorization for an
// untrusted host, whoever set the header.
func newAuthGuard(next http.RoundTripper, policy HostPolicy, logger *logging.Logger) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &authGuard{next: next, policy: policy, logger: logger}
}

// RoundTrip implements http.RoundTripper.
func (g *authGuard) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Authorization") != "" && !g.policy.Allows(req.URL) {
		g.logger.Warn(logCategoryResolver, "authorization header stripped for untrusted host", logging.Fields{
			"host": req.URL.Host,
			"kind": string(KindSecurityPolicy),
		})
		req = req.Clone(req.Context())
		req.Header.Del("Authorization")
	}
	return g.next.RoundTrip(req)
}
