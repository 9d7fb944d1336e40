// SPDX-License-Identifier: MPL-2.0

package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultAPIBaseURL is the public GitHub REST endpoint.
	DefaultAPIBaseURL = "https://api.github.com"

	// maxTarballBytes bounds a single tarball download.
	maxTarballBytes = 512 << 20

	maxRedirects = 10
)

type (
	// RateLimitError is returned when the GitHub API rate limit is exceeded.
	RateLimitError struct {
		Limit     int
		Remaining int
		ResetAt   time.Time
	}

	// StatusError is returned for any non-200 tarball response.
	StatusError struct {
		URL        string
		StatusCode int
	}

	// Client downloads repository tarballs from the GitHub REST API.
	Client struct {
		httpClient *http.Client
		baseURL    string
		userAgent  string
		maxBytes   int64
	}

	// ClientOption configures a Client during construction.
	ClientOption func(*Client)
)

// Error formats the rate limit details as a human-readable message.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("GitHub API rate limit exceeded (%d remaining, resets at %s)",
		e.Remaining, e.ResetAt.UTC().Format("15:04 UTC"))
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.StatusCode)
}

// WithHTTPClient sets a custom HTTP client, useful for tests or proxy configurations.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithBaseURL overrides the API base URL (GitHub Enterprise or test servers).
func WithBaseURL(base string) ClientOption {
	return func(cl *Client) {
		cl.baseURL = strings.TrimRight(base, "/")
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) ClientOption {
	return func(cl *Client) {
		cl.userAgent = ua
	}
}

// NewClient creates a Client. Defaults: baseURL=DefaultAPIBaseURL,
// userAgent="toolsmith/dev", a client with a two minute timeout.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		baseURL:    DefaultAPIBaseURL,
		userAgent:  "toolsmith/dev",
		maxBytes:   maxTarballBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured API base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// TarballURL returns the tarball endpoint for owner/name at ref.
func (c *Client) TarballURL(owner, name, ref string) string {
	return fmt.Sprintf("%s/repos/%s/%s/tarball/%s", c.baseURL, url.PathEscape(owner), url.PathEscape(name), escapeRef(ref))
}

// DownloadTarball streams the tarball for owner/name at ref into w and
// returns the number of bytes written. token may be empty for public repositories.
func (c *Client) DownloadTarball(ctx context.Context, owner, name, ref, token string, w io.Writer) (int64, error) {
	tarURL := c.TarballURL(owner, name, ref)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tarURL, http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("User-Agent", c.userAgent)

	// The token is only attached when the request targets a known GitHub host.
	// Redirects to any other host (signed CDN URLs) lose it.
	if token != "" && isGitHubHost(req.URL, c.baseURL) {
		req.Header.Set("Authorization", "token "+token)
	}

	hc := *c.httpClient
	hc.CheckRedirect = func(next *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		if !isGitHubHost(next.URL, c.baseURL) {
			next.Header.Del("Authorization")
		}
		return nil
	}

	resp, err := hc.Do(req)
	if err != nil {
		return 0, fmt.Errorf("downloading %s: %w", redactURL(tarURL), err)
	}
	defer func() { _ = resp.Body.Close() }() // read-only response body

	if rlErr := checkRateLimit(resp); rlErr != nil {
		return 0, rlErr
	}
	if resp.StatusCode != http.StatusOK {
		return 0, &StatusError{URL: redactURL(tarURL), StatusCode: resp.StatusCode}
	}

	n, err := io.Copy(w, io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return n, fmt.Errorf("downloading %s: %w", redactURL(tarURL), err)
	}
	if n > c.maxBytes {
		return n, fmt.Errorf("downloading %s: tarball exceeds %d bytes", redactURL(tarURL), c.maxBytes)
	}
	return n, nil
}

// escapeRef escapes each segment of a tag so slashed tags keep their separators.
func escapeRef(ref string) string {
	parts := strings.Split(ref, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// checkRateLimit returns a RateLimitError when X-RateLimit-Remaining is zero.
func checkRateLimit(resp *http.Response) error {
	remaining := resp.Header.Get("X-RateLimit-Remaining")
	if remaining == "" {
		return nil
	}
	rem, err := strconv.Atoi(remaining)
	if err != nil || rem > 0 {
		return nil //nolint:nilerr // Non-numeric header is non-fatal.
	}

	limit, _ := strconv.Atoi(resp.Header.Get("X-RateLimit-Limit"))                 //nolint:errcheck // Best-effort header parsing.
	resetUnix, _ := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64) //nolint:errcheck // Best-effort header parsing.
	return &RateLimitError{Limit: limit, Remaining: 0, ResetAt: time.Unix(resetUnix, 0)}
}

// isGitHubHost reports whether reqURL targets the configured API host or, when
// the base is api.github.com, one of GitHub's download hosts.
func isGitHubHost(reqURL *url.URL, baseURL string) bool {
	base, err := url.Parse(baseURL)
	if err != nil {
		return false
	}
	if strings.EqualFold(reqURL.Host, base.Host) {
		return true
	}
	if !strings.EqualFold(base.Host, "api.github.com") {
		return false
	}
	switch strings.ToLower(reqURL.Host) {
	case "github.com", "codeload.github.com":
		return true
	}
	return false
}

// redactURL strips query parameters and fragments for safe inclusion in errors.
func redactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid-url>"
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
