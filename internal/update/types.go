package update

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/taskdeck/taskdeck/internal/types"
)

// ReleaseDescriptor describes the latest upstream release relative to the
// installed version. It is recomputed on every check and never persisted.
type ReleaseDescriptor struct {
	CurrentVersion      string `json:"currentVersion" yaml:"current_version"`
	LatestVersion       string `json:"latestVersion,omitempty" yaml:"latest_version,omitempty"`
	HasUpdate           bool   `json:"hasUpdate" yaml:"has_update"`
	DownloadURL         string `json:"downloadUrl,omitempty" yaml:"download_url,omitempty"`
	CommitSHA           string `json:"commitSha,omitempty" yaml:"commit_sha,omitempty"`
	ReleaseNotes        string `json:"releaseNotes,omitempty" yaml:"release_notes,omitempty"`
	ReleaseName         string `json:"releaseName,omitempty" yaml:"release_name,omitempty"`
	NoReleasesAvailable bool   `json:"noReleasesAvailable,omitempty" yaml:"no_releases_available,omitempty"`
}

// DownloadRequest identifies the archive to fetch.
type DownloadRequest struct {
	URL       string `json:"downloadUrl"`
	Version   string `json:"version"`
	CommitSHA string `json:"commitSha"`
}

// TransferProgress is a snapshot of the active download.
type TransferProgress struct {
	Version         string               `json:"version"`
	Progress        int                  `json:"progress"`
	TotalBytes      int64                `json:"totalBytes"`
	DownloadedBytes int64                `json:"downloadedBytes"`
	Status          types.TransferStatus `json:"status"`
	Error           string               `json:"error,omitempty"`
}

// PendingUpdateRecord is the handoff between a finished download and the
// next boot. Its existence is the only trigger for applying an update.
type PendingUpdateRecord struct {
	Version      string    `json:"version"`
	CommitSHA    string    `json:"commitSha"`
	DownloadedAt time.Time `json:"downloadedAt"`
	ArchivePath  string    `json:"archivePath"`
}

// CompletedUpdateRecord is left behind by a successful apply so the client
// can show a one-time notice.
type CompletedUpdateRecord struct {
	Version   string    `json:"version"`
	AppliedAt time.Time `json:"appliedAt"`
}

// UpdateStatus is the completion notifier's answer.
type UpdateStatus struct {
	Pending           bool       `json:"pending" yaml:"pending"`
	Version           string     `json:"version,omitempty" yaml:"version,omitempty"`
	AppliedAt         *time.Time `json:"appliedAt,omitempty" yaml:"applied_at,omitempty"`
	DownloadedVersion string     `json:"downloadedVersion,omitempty" yaml:"downloaded_version,omitempty"`
}

// ProgressFunc is called after every chunk written to disk.
type ProgressFunc func(TransferProgress)

// Checker resolves the latest release.
type Checker interface {
	Check(ctx context.Context) (*ReleaseDescriptor, error)
}

// Downloader fetches a release archive and leaves a pending record behind.
// Validate performs the checks Download would fail fast on, without I/O.
type Downloader interface {
	Validate(req DownloadRequest) error
	Download(ctx context.Context, req DownloadRequest, onProgress ProgressFunc) (*PendingUpdateRecord, error)
}

var (
	// ErrCancelled is returned when a download is aborted by the caller.
	ErrCancelled = errors.New("download cancelled")
	// ErrUnofficialURL is returned for download URLs outside the release repository.
	ErrUnofficialURL = errors.New("download URL is not from the official repository")
	// ErrDownloadInProgress is returned when a second download is started.
	ErrDownloadInProgress = errors.New("a download is already in progress")
	// ErrNoPendingUpdate is returned when there is nothing to apply.
	ErrNoPendingUpdate = errors.New("no pending update")
	// ErrMalformedRecord is returned for marker files that fail to parse.
	ErrMalformedRecord = errors.New("malformed update record")
	// ErrLocked is returned when another process holds the apply lock.
	ErrLocked = errors.New("another process is applying an update")
	// ErrInvalidVersion is returned for download requests with an unusable version.
	ErrInvalidVersion = errors.New("invalid version")
	// ErrMalformedRelease is returned when release metadata cannot be used.
	ErrMalformedRelease = errors.New("malformed release metadata")
)

// RateLimitError reports an exhausted upstream quota. It is retryable.
type RateLimitError struct {
	StatusCode int
	Reset      time.Time // Zero when upstream did not say
}

func (e *RateLimitError) Error() string {
	if e.Reset.IsZero() {
		return fmt.Sprintf("rate limited by release index (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("rate limited by release index (status %d), resets at %s", e.StatusCode, e.Reset.Format(time.RFC3339))
}

// RetryAfter returns how long to wait before retrying, relative to now.
func (e *RateLimitError) RetryAfter(now time.Time) time.Duration {
	if e.Reset.IsZero() || !e.Reset.After(now) {
		return 0
	}
	return e.Reset.Sub(now)
}

// UpstreamError is any other non-2xx response from the release index or archive host.
type UpstreamError struct {
	StatusCode int
	URL        string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned status %d for %s", e.StatusCode, e.URL)
}

// StepError names the applier state that failed.
type StepError struct {
	State types.State
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.State, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
