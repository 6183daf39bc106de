// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/invowk/upkeep/internal/logging"
)

const (
	// DefaultAPIBaseURL is the public GitHub REST API.
	DefaultAPIBaseURL = "https://api.github.com"

	// DefaultAPITimeout bounds every metadata request.
	DefaultAPITimeout = 30 * time.Second

	// defaultPerPage is the number of releases fetched per API page.
	defaultPerPage = 30

	// maxPages is the upper bound on pagination to avoid runaway requests.
	maxPages = 3

	// maxJSONResponseBytes is the upper bound on JSON API response size (10 MB).
	maxJSONResponseBytes = 10 << 20

	// maxErrorBodyBytes bounds how much of an error response is read for its message.
	maxErrorBodyBytes = 64 << 10

	logCategoryClient = "github"
)

const (
	// ChannelStable follows GitHub's "latest release", which excludes pre-releases.
	ChannelStable Channel = "stable"
	// ChannelPrerelease follows the newest non-draft release, pre-releases included.
	ChannelPrerelease Channel = "prerelease"
)

type (
	// Channel selects which release counts as the latest.
	Channel string

	// ReleaseSource fetches the latest release for one repository.
	ReleaseSource interface {
		FetchLatest(ctx context.Context, channel Channel) (*Release, error)
	}

	// TaggedReleaseSource also fetches a release by its exact tag.
	TaggedReleaseSource interface {
		ReleaseSource
		GetReleaseByTag(ctx context.Context, tag string) (*Release, error)
	}

	// RateLimitError is returned when the GitHub API rate limit is exceeded.
	RateLimitError struct {
		Limit     int
		Remaining int
		ResetAt   time.Time
		Message   string // Provider message, verbatim, when the body carried one
	}

	// ProviderError carries a non-success API response and the provider's own message.
	ProviderError struct {
		StatusCode       int
		Message          string
		DocumentationURL string
	}

	// Release represents a GitHub Release with its assets.
	Release struct {
		TagName     string  `json:"tag_name"`
		Name        string  `json:"name"`
		Prerelease  bool    `json:"prerelease"`
		Draft       bool    `json:"draft"`
		Assets      []Asset `json:"assets"`
		HTMLURL     string  `json:"html_url"`
		CreatedAt   string  `json:"created_at"`
		PublishedAt string  `json:"published_at"`
	}

	// Asset represents a single downloadable file in a GitHub Release.
	Asset struct {
		Name               string `json:"name"`
		ContentType        string `json:"content_type"`
		APIURL             string `json:"api_url"`                        // Authenticated endpoint that redirects to storage
		BrowserDownloadURL string `json:"browser_download_url,omitempty"` // Public URL; absent for private repositories
		Size               int64  `json:"size"`
	}

	// githubRelease is the JSON wire format for a GitHub Release API response.
	githubRelease struct {
		TagName     string        `json:"tag_name"`
		Name        string        `json:"name"`
		Prerelease  bool          `json:"prerelease"`
		Draft       bool          `json:"draft"`
		HTMLURL     string        `json:"html_url"`
		CreatedAt   string        `json:"created_at"`
		PublishedAt string        `json:"published_at"`
		Assets      []githubAsset `json:"assets"`
	}

	// githubAsset is the JSON wire format for a GitHub Release asset.
	githubAsset struct {
		Name               string `json:"name"`
		ContentType        string `json:"content_type"`
		URL                string `json:"url"`
		BrowserDownloadURL string `json:"browser_download_url"`
		Size               int64  `json:"size"`
	}

	// githubErrorBody is the JSON error envelope returned by the REST API.
	githubErrorBody struct {
		Message          string `json:"message"`
		DocumentationURL string `json:"documentation_url"`
	}

	// GitHubClient queries the GitHub Releases API for one repository.
	GitHubClient struct {
		httpClient *http.Client
		repo       Repository
		baseURL    string
		token      string
		userAgent  string
		limiter    *rate.Limiter
		timeout    time.Duration
		policy     HostPolicy
		logger     *logging.Logger
	}

	// ClientOption configures a GitHubClient during construction.
	ClientOption func(*GitHubClient)
)

var _ TaggedReleaseSource = (*GitHubClient)(nil)

// Error formats the rate limit details as a human-readable message.
func (e *RateLimitError) Error() string {
	msg := fmt.Sprintf("GitHub API rate limit exceeded (%d remaining, resets at %s)",
		e.Remaining, e.ResetAt.UTC().Format("15:04 UTC"))
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// Error surfaces the provider message verbatim when there is one.
func (e *ProviderError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("GitHub API returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("GitHub API returned status %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps a 404 to ErrReleaseNotFound.
func (e *ProviderError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return ErrReleaseNotFound
	}
	return nil
}

// WithHTTPClient sets a custom HTTP client, useful for tests or proxy configurations.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(g *GitHubClient) {
		g.httpClient = c
	}
}

// WithBaseURL overrides the GitHub API base URL, primarily for test servers
// and GitHub Enterprise.
func WithBaseURL(base string) ClientOption {
	return func(g *GitHubClient) {
		g.baseURL = strings.TrimRight(base, "/")
	}
}

// WithToken sets the access token. It is attached only to trusted hosts.
func WithToken(token string) ClientOption {
	return func(g *GitHubClient) {
		g.token = token
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) ClientOption {
	return func(g *GitHubClient) {
		g.userAgent = ua
	}
}

// WithRepo sets the repository to query.
func WithRepo(repo Repository) ClientOption {
	return func(g *GitHubClient) {
		g.repo = repo
	}
}

// WithRateLimiter paces outgoing API requests. A nil limiter disables pacing.
func WithRateLimiter(l *rate.Limiter) ClientOption {
	return func(g *GitHubClient) {
		g.limiter = l
	}
}

// WithRequestTimeout bounds each API request. Ignored with WithHTTPClient.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(g *GitHubClient) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithClientLogger sets the logger for security-policy warnings.
func WithClientLogger(l *logging.Logger) ClientOption {
	return func(g *GitHubClient) {
		g.logger = l
	}
}

// NewGitHubClient creates a GitHubClient with sensible defaults: the public
// API, a 30s request timeout, and pacing of 5 requests per second.
func NewGitHubClient(opts ...ClientOption) *GitHubClient {
	c := &GitHubClient{
		baseURL:   DefaultAPIBaseURL,
		userAgent: "upkeep/dev",
		limiter:   rate.NewLimiter(rate.Limit(5), 5),
		timeout:   DefaultAPITimeout,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.policy = NewHostPolicy(c.baseURL)
	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Timeout:   c.timeout,
			Transport: newAuthGuard(nil, c.policy, c.logger),
		}
	}
	if token, ok := SanitizeCredential(c.token); ok {
		c.token = token
	} else {
		c.logger.Warn(logCategoryClient, "malformed credential ignored; continuing unauthenticated", logging.Fields{
			"repository": c.repo.String(),
			"kind":       string(KindSecurityPolicy),
		})
		c.token = ""
	}
	return c
}

// FetchLatest returns the latest release on channel. The stable channel uses
// the /releases/latest endpoint; the pre-release channel picks the highest
// version among non-draft releases.
func (c *GitHubClient) FetchLatest(ctx context.Context, channel Channel) (*Release, error) {
	if channel != ChannelPrerelease {
		return c.LatestRelease(ctx)
	}

	releases, err := c.ListReleases(ctx)
	if err != nil {
		return nil, err
	}
	if len(releases) == 0 {
		return nil, ErrNoReleases
	}
	return &releases[0], nil
}

// LatestRelease fetches the release GitHub marks as latest.
func (c *GitHubClient) LatestRelease(ctx context.Context) (*Release, error) {
	latestURL := fmt.Sprintf("%s/repos/%s/%s/releases/latest", c.baseURL, c.repo.Owner, c.repo.Name)

	r, err := c.getRelease(ctx, latestURL)
	if err != nil {
		var perr *ProviderError
		if errors.As(err, &perr) && perr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w for %s: %w", ErrNoReleases, c.repo, err)
		}
		return nil, fmt.Errorf("fetching latest release: %w", err)
	}
	return r, nil
}

// ListReleases fetches non-draft releases, sorted by version in descending
// order. Tags that are not versions sort last. Pagination is followed up to maxPages.
func (c *GitHubClient) ListReleases(ctx context.Context) ([]Release, error) {
	pageURL := fmt.Sprintf("%s/repos/%s/%s/releases?per_page=%d",
		c.baseURL, c.repo.Owner, c.repo.Name, defaultPerPage)

	var all []Release

	for page := 0; page < maxPages && pageURL != ""; page++ {
		resp, reqErr := c.doRequest(ctx, http.MethodGet, pageURL)
		if reqErr != nil {
			return nil, fmt.Errorf("listing releases: %w", reqErr)
		}

		if resp.StatusCode != http.StatusOK {
			apiErr := responseError(resp)
			resp.Body.Close()
			return nil, fmt.Errorf("listing releases: %w", apiErr)
		}

		releases, parseErr := parseReleases(io.LimitReader(resp.Body, maxJSONResponseBytes))
		resp.Body.Close()
		if parseErr != nil {
			return nil, fmt.Errorf("listing releases: %w", parseErr)
		}

		for i := range releases {
			if !releases[i].Draft {
				all = append(all, releases[i])
			}
		}

		pageURL = parseLinkHeader(resp.Header.Get("Link"))
	}

	sortReleasesByVersionDesc(all)

	return all, nil
}

// GetReleaseByTag fetches a single release by its Git tag (e.g., "v1.0.0").
// Returns an error wrapping ErrReleaseNotFound if the tag does not exist.
func (c *GitHubClient) GetReleaseByTag(ctx context.Context, tag string) (*Release, error) {
	tagURL := fmt.Sprintf("%s/repos/%s/%s/releases/tags/%s",
		c.baseURL, c.repo.Owner, c.repo.Name, url.PathEscape(tag))

	r, err := c.getRelease(ctx, tagURL)
	if err != nil {
		return nil, fmt.Errorf("getting release %s: %w", tag, err)
	}
	return r, nil
}

func (c *GitHubClient) getRelease(ctx context.Context, reqURL string) (*Release, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, reqURL)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }() // read-only response body

	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}

	var gr githubRelease
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJSONResponseBytes)).Decode(&gr); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	r := toRelease(gr)
	return &r, nil
}

// doRequest creates and executes an HTTP request with common GitHub API headers.
func (c *GitHubClient) doRequest(ctx context.Context, method, reqURL string) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("User-Agent", c.userAgent)

	if c.token != "" {
		if c.policy.Allows(req.URL) {
			req.Header.Set("Authorization", "Bearer "+c.token)
		} else {
			c.logger.Warn(logCategoryClient, "credential withheld from untrusted host", logging.Fields{
				"host": req.URL.Host,
				"kind": string(KindSecurityPolicy),
			})
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}

	return resp, nil
}

// responseError converts a non-200 response into a RateLimitError or a
// ProviderError carrying the provider's message verbatim.
func responseError(resp *http.Response) error {
	var body githubErrorBody
	_ = json.NewDecoder(io.LimitReader(resp.Body, maxErrorBodyBytes)).Decode(&body) //nolint:errcheck // Best-effort message extraction.

	if rlErr := checkRateLimit(resp); rlErr != nil {
		rlErr.Message = body.Message
		return rlErr
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{Message: body.Message}
	}

	return &ProviderError{
		StatusCode:       resp.StatusCode,
		Message:          body.Message,
		DocumentationURL: body.DocumentationURL,
	}
}

// checkRateLimit inspects the X-RateLimit-* response headers and returns a
// RateLimitError when the remaining quota is zero. It does not inspect the
// HTTP status code, only the header values.
func checkRateLimit(resp *http.Response) *RateLimitError {
	remaining := resp.Header.Get("X-RateLimit-Remaining")
	if remaining == "" {
		return nil
	}

	rem, err := strconv.Atoi(remaining)
	if err != nil || rem > 0 {
		return nil
	}

	// Malformed or missing companion headers default to zero.
	limit, _ := strconv.Atoi(resp.Header.Get("X-RateLimit-Limit"))                 //nolint:errcheck // Best-effort header parsing.
	resetUnix, _ := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64) //nolint:errcheck // Best-effort header parsing.

	return &RateLimitError{
		Limit:     limit,
		Remaining: 0,
		ResetAt:   time.Unix(resetUnix, 0),
	}
}

// parseReleases decodes a JSON array of GitHub releases from the response body.
func parseReleases(body io.Reader) ([]Release, error) {
	var raw []githubRelease
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding releases: %w", err)
	}

	releases := make([]Release, 0, len(raw))
	for _, gr := range raw {
		releases = append(releases, toRelease(gr))
	}
	return releases, nil
}

// parseLinkHeader extracts the URL for the "next" page from a GitHub API Link header.
// Returns an empty string if no next page exists.
//
// Example header: <https://api.github.com/...?page=2>; rel="next", <...>; rel="last"
func parseLinkHeader(header string) string {
	if header == "" {
		return ""
	}

	for part := range strings.SplitSeq(header, ",") {
		part = strings.TrimSpace(part)
		if !strings.Contains(part, `rel="next"`) {
			continue
		}

		start := strings.Index(part, "<")
		end := strings.Index(part, ">")
		if start >= 0 && end > start {
			return part[start+1 : end]
		}
	}

	return ""
}

// toRelease converts the JSON wire type to the exported Release type.
func toRelease(gr githubRelease) Release {
	assets := make([]Asset, 0, len(gr.Assets))
	for _, ga := range gr.Assets {
		assets = append(assets, Asset{
			Name:               ga.Name,
			ContentType:        ga.ContentType,
			APIURL:             ga.URL,
			BrowserDownloadURL: ga.BrowserDownloadURL,
			Size:               ga.Size,
		})
	}

	return Release{
		TagName:     gr.TagName,
		Name:        gr.Name,
		Prerelease:  gr.Prerelease,
		Draft:       gr.Draft,
		Assets:      assets,
		HTMLURL:     gr.HTMLURL,
		CreatedAt:   gr.CreatedAt,
		PublishedAt: gr.PublishedAt,
	}
}

// sortReleasesByVersionDesc sorts releases by tag version in descending order.
// Tags that are not versions go last; the stable sort keeps API order among equals.
func sortReleasesByVersionDesc(releases []Release) {
	slices.SortStableFunc(releases, func(a, b Release) int {
		va, vb := ExtractVersion(a.TagName), ExtractVersion(b.TagName)
		switch {
		case va == "" && vb == "":
			return 0
		case va == "":
			return 1
		case vb == "":
			return -1
		default:
			return compareVersions(vb, va)
		}
	})
}

// redactURL strips query parameters and fragments from a URL for safe inclusion
// in messages; pre-signed URLs carry their signature in the query.
func redactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid-url>"
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.User = nil
	return u.String()
}
