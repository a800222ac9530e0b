package update

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Manager runs at most one download at a time in the background, so API
// handlers can return immediately and report progress separately.
type Manager struct {
	downloader Downloader
	logger     *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	version string
	done    chan struct{}
	lastErr error
	lastRec *PendingUpdateRecord
}

// NewManager creates a download manager.
func NewManager(downloader Downloader, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		downloader: downloader,
		logger:     logger.With("component", "downloader"),
	}
}

// Start validates req and launches the download. It returns
// ErrDownloadInProgress if another download is running.
func (m *Manager) Start(req DownloadRequest) error {
	if err := m.downloader.Validate(req); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.done != nil {
		return ErrDownloadInProgress
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	version := NormalizeVersion(req.Version)
	m.cancel = cancel
	m.version = version
	m.done = done
	m.lastErr = nil

	go m.run(ctx, req, done)

	m.logger.Info("download started", "version", version, "url", req.URL)
	return nil
}

func (m *Manager) run(ctx context.Context, req DownloadRequest, done chan struct{}) {
	defer close(done)

	rec, err := m.downloader.Download(ctx, req, nil)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancel()
	m.cancel = nil
	m.done = nil
	m.version = ""

	switch {
	case errors.Is(err, ErrCancelled):
		m.logger.Info("download cancelled", "version", req.Version)
	case err != nil:
		m.lastErr = err
		m.logger.Error("download failed", "version", req.Version, "error", err)
	default:
		m.lastRec = rec
		m.logger.Info("download complete", "version", rec.Version, "archive", rec.ArchivePath)
	}
}

// Cancel aborts the running download if it is for version. An empty version
// matches any download. It reports whether a download was cancelled.
func (m *Manager) Cancel(version string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.done == nil {
		return false
	}
	if version != "" && NormalizeVersion(version) != m.version {
		return false
	}
	m.cancel()
	return true
}

// Active returns the version being downloaded, if any.
func (m *Manager) Active() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.version, m.done != nil
}

// Wait blocks until the running download, if any, has finished.
func (m *Manager) Wait() {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()

	if done != nil {
		<-done
	}
}

// LastError returns the error of the most recent failed download. Cancelled
// downloads do not count as failures.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// LastRecord returns the pending record left by the most recent successful download.
func (m *Manager) LastRecord() *PendingUpdateRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRec
}
