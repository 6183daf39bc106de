// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/invowk/upkeep/internal/logging"
)

const (
	// DefaultDownloadTimeout bounds the artifact download leg.
	DefaultDownloadTimeout = 5 * time.Minute

	// maxArtifactBytes is the upper bound on a downloaded archive (500 MB).
	maxArtifactBytes = 500 << 20

	logCategoryResolver = "resolver"
)

const (
	// SourcePublic is a public browser-download URL used without any API call.
	SourcePublic ResolutionSource = "public"
	// SourceRedirect is a pre-signed storage URL taken from a 301/302 Location header.
	SourceRedirect ResolutionSource = "redirect"
	// SourcePublicFallback is the public URL used after the API answered 200.
	SourcePublicFallback ResolutionSource = "public_fallback"
	// SourceInline means the API answered 200 with the artifact body itself.
	SourceInline ResolutionSource = "inline"
)

type (
	// ResolutionSource records how a download URL was obtained.
	ResolutionSource string

	// Resolution is a credential-free way to fetch one artifact.
	Resolution struct {
		URL     string
		Source  ResolutionSource
		Content []byte // Set only for SourceInline
	}

	// StatusError reports an unexpected HTTP status during resolution or download.
	StatusError struct {
		Op         string
		StatusCode int
		Message    string
	}

	// ArtifactResolver turns a release asset into a direct download without
	// ever sending the credential beyond the trusted API hosts.
	ArtifactResolver struct {
		apiClient       *http.Client
		downloadClient  *http.Client
		policy          HostPolicy
		userAgent       string
		logger          *logging.Logger
		apiTimeout      time.Duration
		downloadTimeout time.Duration
	}

	// ResolverOption configures an ArtifactResolver during construction.
	ResolverOption func(*resolverConfig)

	resolverConfig struct {
		apiBaseURL      string
		transport       http.RoundTripper
		userAgent       string
		logger          *logging.Logger
		apiTimeout      time.Duration
		downloadTimeout time.Duration
	}
)

// Error includes the status code and any provider message.
func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// WithResolverBaseURL adds the host of a non-default API base to the trusted hosts.
func WithResolverBaseURL(base string) ResolverOption {
	return func(c *resolverConfig) {
		c.apiBaseURL = base
	}
}

// WithTransport sets the underlying transport for both legs, mainly for tests.
func WithTransport(rt http.RoundTripper) ResolverOption {
	return func(c *resolverConfig) {
		c.transport = rt
	}
}

// WithResolverUserAgent sets the User-Agent header.
func WithResolverUserAgent(ua string) ResolverOption {
	return func(c *resolverConfig) {
		c.userAgent = ua
	}
}

// WithResolverLogger sets the logger for diagnostics and policy warnings.
func WithResolverLogger(l *logging.Logger) ResolverOption {
	return func(c *resolverConfig) {
		c.logger = l
	}
}

// WithTimeouts overrides the API and download timeouts. Zero keeps the default.
func WithTimeouts(api, download time.Duration) ResolverOption {
	return func(c *resolverConfig) {
		if api > 0 {
			c.apiTimeout = api
		}
		if download > 0 {
			c.downloadTimeout = download
		}
	}
}

// NewArtifactResolver builds a resolver whose API client never follows
// redirects and whose clients strip Authorization for untrusted hosts.
func NewArtifactResolver(opts ...ResolverOption) *ArtifactResolver {
	cfg := resolverConfig{
		apiBaseURL:      DefaultAPIBaseURL,
		userAgent:       "upkeep/dev",
		apiTimeout:      DefaultAPITimeout,
		downloadTimeout: DefaultDownloadTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	policy := NewHostPolicy(cfg.apiBaseURL)
	guarded := newAuthGuard(cfg.transport, policy, cfg.logger)

	return &ArtifactResolver{
		apiClient: &http.Client{
			Transport: guarded,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		downloadClient:  &http.Client{Transport: guarded},
		policy:          policy,
		userAgent:       cfg.userAgent,
		logger:          cfg.logger,
		apiTimeout:      cfg.apiTimeout,
		downloadTimeout: cfg.downloadTimeout,
	}
}

// ResolvePackageURLForDisplay picks the URL to advertise for asset without any
// network call: the public URL when no credential is configured and one
// exists, otherwise the authenticated API URL, unresolved.
func (r *ArtifactResolver) ResolvePackageURLForDisplay(asset Asset, hasCredential bool) string {
	if !hasCredential && asset.BrowserDownloadURL != "" {
		return asset.BrowserDownloadURL
	}
	return asset.APIURL
}

// ResolveDirectDownloadURL returns a credential-free way to download asset.
//
// Without a credential the public URL is returned directly. Otherwise the
// API URL is requested with redirects disabled: a 301/302 Location is the
// pre-signed storage URL and is returned verbatim; a 200 falls back to the
// public URL or, failing that, carries the body as the artifact itself.
func (r *ArtifactResolver) ResolveDirectDownloadURL(ctx context.Context, asset Asset, credential string) (*Resolution, error) {
	token, ok := SanitizeCredential(credential)
	if !ok {
		r.logger.Warn(logCategoryResolver, "malformed credential ignored; resolving unauthenticated", logging.Fields{
			"asset": asset.Name,
			"kind":  string(KindSecurityPolicy),
		})
	}

	if token == "" && asset.BrowserDownloadURL != "" {
		return &Resolution{URL: asset.BrowserDownloadURL, Source: SourcePublic}, nil
	}
	if asset.APIURL == "" {
		return nil, newError(KindResolution, "resolving "+asset.Name,
			errors.New("asset has neither an API URL nor a public download URL"))
	}

	ctx, cancel := context.WithTimeout(ctx, r.apiTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, asset.APIURL, http.NoBody)
	if err != nil {
		return nil, newError(KindResolution, "resolving "+asset.Name, fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Accept", "application/octet-stream")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("User-Agent", r.userAgent)
	if token != "" {
		if r.policy.Allows(req.URL) {
			req.Header.Set("Authorization", "Bearer "+token)
		} else {
			r.logger.Warn(logCategoryResolver, "credential withheld from untrusted asset host", logging.Fields{
				"asset": asset.Name,
				"host":  req.URL.Host,
				"kind":  string(KindSecurityPolicy),
			})
		}
	}

	resp, err := r.apiClient.Do(req)
	if err != nil {
		r.logger.Error(logCategoryResolver, "asset resolution request failed", logging.Fields{
			"asset": asset.Name,
			"url":   redactURL(asset.APIURL),
			"error": err.Error(),
		})
		return nil, newError(KindResolution, "resolving "+asset.Name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound:
		location := resp.Header.Get("Location")
		if location == "" {
			return nil, newError(KindResolution, "resolving "+asset.Name, &StatusError{
				Op:         "asset redirect",
				StatusCode: resp.StatusCode,
				Message:    "redirect without Location header",
			})
		}
		r.logger.Debug(logCategoryResolver, "asset redirected to storage", logging.Fields{
			"asset":  asset.Name,
			"target": redactURL(location),
		})
		return &Resolution{URL: location, Source: SourceRedirect}, nil

	case http.StatusOK:
		if asset.BrowserDownloadURL != "" {
			return &Resolution{URL: asset.BrowserDownloadURL, Source: SourcePublicFallback}, nil
		}
		content, readErr := readBounded(resp.Body)
		if readErr != nil {
			return nil, newError(KindResolution, "reading inline artifact "+asset.Name, readErr)
		}
		return &Resolution{URL: asset.APIURL, Source: SourceInline, Content: content}, nil

	default:
		statusErr := &StatusError{
			Op:         "asset resolution",
			StatusCode: resp.StatusCode,
			Message:    providerMessage(resp.Body),
		}
		r.logger.Error(logCategoryResolver, "unexpected status resolving asset", logging.Fields{
			"asset":  asset.Name,
			"status": resp.StatusCode,
			"url":    redactURL(asset.APIURL),
		})
		return nil, newError(KindResolution, "resolving "+asset.Name, statusErr)
	}
}

// Download writes the artifact described by res to dst and returns the byte
// count. The request never carries an Authorization header. An empty body is
// an error.
func (r *ArtifactResolver) Download(ctx context.Context, res *Resolution, dst io.Writer) (int64, error) {
	if res == nil {
		return 0, newError(KindResolution, "downloading artifact", errors.New("no resolution"))
	}

	if res.Source == SourceInline {
		if len(res.Content) == 0 {
			return 0, newError(KindResolution, "downloading artifact", ErrEmptyArtifact)
		}
		n, err := io.Copy(dst, bytes.NewReader(res.Content))
		if err != nil {
			return n, newError(KindInternal, "writing artifact", err)
		}
		return n, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, res.URL, http.NoBody)
	if err != nil {
		return 0, newError(KindResolution, "downloading artifact", fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.downloadClient.Do(req)
	if err != nil {
		return 0, newError(KindResolution, "downloading "+redactURL(res.URL), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, newError(KindResolution, "downloading "+redactURL(res.URL), &StatusError{
			Op:         "artifact download",
			StatusCode: resp.StatusCode,
		})
	}

	n, err := io.Copy(dst, io.LimitReader(resp.Body, maxArtifactBytes+1))
	if err != nil {
		return n, newError(KindResolution, "downloading "+redactURL(res.URL), err)
	}
	if n > maxArtifactBytes {
		return n, newError(KindResolution, "downloading "+redactURL(res.URL),
			fmt.Errorf("artifact exceeds %d bytes", maxArtifactBytes))
	}
	if n == 0 {
		return 0, newError(KindResolution, "downloading "+redactURL(res.URL), ErrEmptyArtifact)
	}
	return n, nil
}

func readBounded(body io.Reader) ([]byte, error) {
	content, err := io.ReadAll(io.LimitReader(body, maxArtifactBytes+1))
	if err != nil {
		return nil, err
	}
	if len(content) > maxArtifactBytes {
		return nil, fmt.Errorf("inline artifact exceeds %d bytes", maxArtifactBytes)
	}
	if len(content) == 0 {
		return nil, ErrEmptyArtifact
	}
	return content, nil
}

// providerMessage extracts the "message" field of a GitHub error body.
func providerMessage(body io.Reader) string {
	var eb githubErrorBody
	if err := json.NewDecoder(io.LimitReader(body, maxErrorBodyBytes)).Decode(&eb); err != nil {
		return ""
	}
	return eb.Message
}
