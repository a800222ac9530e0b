package update

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/taskdeck/taskdeck/internal/types"
)

const (
	chunkSize            = 32 * 1024
	DefaultProgressGrace = 5 * time.Second
)

var versionNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// HTTPDownloader streams release archives into the install directory's
// scratch area and leaves a pending update record behind.
type HTTPDownloader struct {
	client        *http.Client
	installDir    string
	owner         string
	repo          string
	extraPrefixes []string
	progress      *ProgressStore
	markers       *MarkerStore
	progressGrace time.Duration
	userAgent     string
	now           func() time.Time
}

// NewHTTPDownloader creates a new HTTP downloader for archives of owner/repo.
func NewHTTPDownloader(installDir, owner, repo string, progress *ProgressStore) *HTTPDownloader {
	if progress == nil {
		progress = NewProgressStore()
	}
	return &HTTPDownloader{
		client:        &http.Client{},
		installDir:    installDir,
		owner:         owner,
		repo:          repo,
		progress:      progress,
		markers:       NewMarkerStore(installDir),
		progressGrace: DefaultProgressGrace,
		userAgent:     "taskdeck-updater",
		now:           time.Now,
	}
}

// WithHTTPClient replaces the HTTP client.
func (d *HTTPDownloader) WithHTTPClient(client *http.Client) *HTTPDownloader {
	d.client = client
	return d
}

// WithAllowedPrefix trusts an additional URL prefix (mirrors, tests).
func (d *HTTPDownloader) WithAllowedPrefix(prefix string) *HTTPDownloader {
	d.extraPrefixes = append(d.extraPrefixes, prefix)
	return d
}

// WithProgressGrace sets how long a completed transfer stays visible.
func (d *HTTPDownloader) WithProgressGrace(grace time.Duration) *HTTPDownloader {
	d.progressGrace = grace
	return d
}

// Progress returns the store this downloader reports to.
func (d *HTTPDownloader) Progress() *ProgressStore {
	return d.progress
}

// OfficialPrefixes returns the URL prefixes archives may be fetched from.
func (d *HTTPDownloader) OfficialPrefixes() []string {
	prefixes := []string{
		fmt.Sprintf("https://github.com/%s/%s/", d.owner, d.repo),
		fmt.Sprintf("https://api.github.com/repos/%s/%s/", d.owner, d.repo),
		fmt.Sprintf("https://codeload.github.com/%s/%s/", d.owner, d.repo),
	}
	return append(prefixes, d.extraPrefixes...)
}

// IsOfficialURL reports whether rawURL belongs to the release repository.
func (d *HTTPDownloader) IsOfficialURL(rawURL string) bool {
	if strings.Contains(rawURL, "..") {
		return false
	}
	for _, prefix := range d.OfficialPrefixes() {
		if strings.HasPrefix(rawURL, prefix) {
			return true
		}
	}
	return false
}

// Validate rejects unofficial URLs and versions that are unsafe in file names.
func (d *HTTPDownloader) Validate(req DownloadRequest) error {
	if !d.IsOfficialURL(req.URL) {
		return fmt.Errorf("%w: %s", ErrUnofficialURL, req.URL)
	}
	if !versionNamePattern.MatchString(NormalizeVersion(req.Version)) {
		return fmt.Errorf("%w %q", ErrInvalidVersion, req.Version)
	}
	return nil
}

// TempDir returns the scratch directory archives are downloaded into.
func (d *HTTPDownloader) TempDir() string {
	return filepath.Join(d.installDir, TempDirName)
}

// Download fetches req.URL to disk, reporting progress after every chunk.
// The pending record is written before the transfer is reported complete.
// Cancelling ctx removes the partial file and returns ErrCancelled.
func (d *HTTPDownloader) Download(ctx context.Context, req DownloadRequest, onProgress ProgressFunc) (*PendingUpdateRecord, error) {
	if err := d.Validate(req); err != nil {
		return nil, err
	}
	version := NormalizeVersion(req.Version)

	if err := os.MkdirAll(d.TempDir(), 0755); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrCancelled
		}
		return nil, fmt.Errorf("failed to download archive: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, URL: req.URL}
	}

	format := archiveFormat(req.URL, resp)
	archivePath := filepath.Join(d.TempDir(), "update-"+version+format.Extension())
	partPath := archivePath + ".part"

	d.progress.Start(version, resp.ContentLength)

	if err := d.stream(ctx, resp.Body, partPath, version, onProgress); err != nil {
		_ = os.Remove(partPath)
		if errors.Is(err, ErrCancelled) {
			d.progress.Clear(version)
			return nil, err
		}
		d.fail(version, err, onProgress)
		return nil, err
	}

	if err := os.Rename(partPath, archivePath); err != nil {
		_ = os.Remove(partPath)
		d.fail(version, err, onProgress)
		return nil, fmt.Errorf("failed to move archive into place: %w", err)
	}

	d.removeSupersededArchive(archivePath)

	rec := &PendingUpdateRecord{
		Version:      version,
		CommitSHA:    req.CommitSHA,
		DownloadedAt: d.now().UTC(),
		ArchivePath:  archivePath,
	}
	if err := d.markers.WritePending(rec); err != nil {
		_ = os.Remove(archivePath)
		d.fail(version, err, onProgress)
		return nil, fmt.Errorf("failed to record pending update: %w", err)
	}

	snap := d.progress.Complete(version)
	if onProgress != nil {
		onProgress(snap)
	}
	d.progress.ClearAfter(version, d.progressGrace)

	return rec, nil
}

// stream copies body into path in fixed-size chunks.
func (d *HTTPDownloader) stream(ctx context.Context, body io.Reader, path, version string, onProgress ProgressFunc) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, chunkSize)
	for {
		if ctx.Err() != nil {
			return ErrCancelled
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			if _, err := f.Write(buf[:n]); err != nil {
				return fmt.Errorf("failed to write archive: %w", err)
			}
			snap := d.progress.Advance(version, int64(n))
			if onProgress != nil {
				onProgress(snap)
			}
		}

		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return ErrCancelled
			}
			return fmt.Errorf("download interrupted: %w", readErr)
		}
	}

	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync archive: %w", err)
	}
	return f.Close()
}

func (d *HTTPDownloader) fail(version string, err error, onProgress ProgressFunc) {
	snap := d.progress.Fail(version, err)
	if onProgress != nil && snap.Version != "" {
		onProgress(snap)
	}
	d.progress.ClearAfter(version, d.progressGrace)
}

// removeSupersededArchive deletes the archive of an older pending record.
func (d *HTTPDownloader) removeSupersededArchive(current string) {
	old, err := d.markers.ReadPending()
	if err != nil || old.ArchivePath == current {
		return
	}
	if filepath.Dir(old.ArchivePath) == d.TempDir() {
		_ = os.Remove(old.ArchivePath)
	}
}

// archiveFormat guesses the format from the request URL, then the final
// URL after redirects. Zip is assumed otherwise; extraction sniffs content.
func archiveFormat(rawURL string, resp *http.Response) types.ArchiveFormat {
	if f := types.FormatFromName(rawURL); f != types.ArchiveUnknown {
		return f
	}
	if resp.Request != nil && resp.Request.URL != nil {
		final := resp.Request.URL.Path
		switch {
		case strings.Contains(final, "/tar.gz/"):
			return types.ArchiveTarGz
		default:
			if f := types.FormatFromName(final); f != types.ArchiveUnknown {
				return f
			}
		}
	}
	return types.ArchiveZip
}
