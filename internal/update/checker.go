package update

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultAPIBaseURL is the public GitHub API.
const DefaultAPIBaseURL = "https://api.github.com"

// GitHubChecker checks for updates via GitHub API
type GitHubChecker struct {
	currentVersion string
	githubToken    string // Optional, raises the rate limit
	owner          string // Repository owner
	repo           string // Repository name
	userAgent      string
	client         *http.Client
	baseURL        string // Base URL for GitHub API (for testing)
	now            func() time.Time
}

// GitHubRelease represents a GitHub release response
type GitHubRelease struct {
	TagName         string         `json:"tag_name"`
	Name            string         `json:"name"`
	Body            string         `json:"body"`
	TargetCommitish string         `json:"target_commitish"`
	ZipballURL      string         `json:"zipball_url"`
	TarballURL      string         `json:"tarball_url"`
	Assets          []ReleaseAsset `json:"assets"`
}

// ReleaseAsset is a file attached to a release.
type ReleaseAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// NewGitHubChecker creates a new GitHub checker
func NewGitHubChecker(currentVersion, owner, repo string) *GitHubChecker {
	return &GitHubChecker{
		currentVersion: currentVersion,
		owner:          owner,
		repo:           repo,
		userAgent:      "taskdeck-updater",
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL: DefaultAPIBaseURL,
		now:     time.Now,
	}
}

// WithToken sets an optional GitHub token for authentication
func (c *GitHubChecker) WithToken(token string) *GitHubChecker {
	c.githubToken = token
	return c
}

// WithBaseURL points the checker at another API endpoint (GitHub Enterprise, tests).
func (c *GitHubChecker) WithBaseURL(baseURL string) *GitHubChecker {
	if baseURL != "" {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
	return c
}

// WithUserAgent overrides the User-Agent header.
func (c *GitHubChecker) WithUserAgent(ua string) *GitHubChecker {
	if ua != "" {
		c.userAgent = ua
	}
	return c
}

// Check fetches the latest release and compares it against the current version.
// A repository with no releases is reported through NoReleasesAvailable, not an error.
func (c *GitHubChecker) Check(ctx context.Context) (*ReleaseDescriptor, error) {
	current := NormalizeVersion(c.currentVersion)

	release, err := c.getLatestRelease(ctx)
	if err != nil {
		return nil, err
	}
	if release == nil {
		return &ReleaseDescriptor{
			CurrentVersion:      current,
			NoReleasesAvailable: true,
		}, nil
	}

	latest := NormalizeVersion(release.TagName)
	if latest == "" {
		return nil, fmt.Errorf("%w: release has no tag", ErrMalformedRelease)
	}

	downloadURL := SelectArchiveURL(release)
	if downloadURL == "" {
		return nil, fmt.Errorf("%w: release %s has no downloadable archive", ErrMalformedRelease, release.TagName)
	}

	return &ReleaseDescriptor{
		CurrentVersion: current,
		LatestVersion:  latest,
		HasUpdate:      HasUpdate(latest, current),
		DownloadURL:    downloadURL,
		CommitSHA:      release.TargetCommitish,
		ReleaseNotes:   release.Body,
		ReleaseName:    release.Name,
	}, nil
}

// getLatestRelease fetches the latest release from GitHub API.
// Returns nil, nil when the repository has no releases.
func (c *GitHubChecker) getLatestRelease(ctx context.Context) (*GitHubRelease, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/releases/latest", c.baseURL, c.owner, c.repo)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Set headers
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.githubToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.githubToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach release index: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case isRateLimited(resp):
		return nil, &RateLimitError{StatusCode: resp.StatusCode, Reset: c.rateLimitReset(resp.Header)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &UpstreamError{StatusCode: resp.StatusCode, URL: url}
	}

	var release GitHubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRelease, err)
	}

	return &release, nil
}

// isRateLimited matches 429, and 403 with an exhausted quota header.
func isRateLimited(resp *http.Response) bool {
	if resp.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0"
}

// rateLimitReset reads X-RateLimit-Reset (unix seconds) or Retry-After (seconds).
func (c *GitHubChecker) rateLimitReset(h http.Header) time.Time {
	if v := h.Get("X-RateLimit-Reset"); v != "" {
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Unix(secs, 0)
		}
	}
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return c.now().Add(time.Duration(secs) * time.Second)
		}
	}
	return time.Time{}
}

// SelectArchiveURL picks the archive to download: a .zip asset, then a
// .tar.gz asset, then the generic source archives.
func SelectArchiveURL(release *GitHubRelease) string {
	for _, asset := range release.Assets {
		if strings.HasSuffix(strings.ToLower(asset.Name), ".zip") {
			return asset.BrowserDownloadURL
		}
	}
	for _, asset := range release.Assets {
		name := strings.ToLower(asset.Name)
		if strings.HasSuffix(name, ".tar.gz") || strings.HasSuffix(name, ".tgz") {
			return asset.BrowserDownloadURL
		}
	}
	if release.ZipballURL != "" {
		return release.ZipballURL
	}
	return release.TarballURL
}
