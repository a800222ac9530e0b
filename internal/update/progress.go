package update

import (
	"math"
	"sync"
	"time"

	"github.com/taskdeck/taskdeck/internal/types"
)

// ProgressStore holds the progress of the one active transfer. The fetcher
// writes to it and the progress channel reads snapshots.
type ProgressStore struct {
	mu     sync.RWMutex
	slot   TransferProgress
	active bool
	timer  *time.Timer
}

// NewProgressStore creates an empty store.
func NewProgressStore() *ProgressStore {
	return &ProgressStore{}
}

// Start occupies the slot for version. total is -1 or 0 when unknown.
func (s *ProgressStore) Start(version string, total int64) TransferProgress {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopTimer()
	if total < 0 {
		total = 0
	}
	s.slot = TransferProgress{
		Version:    version,
		TotalBytes: total,
		Status:     types.TransferDownloading,
	}
	s.active = true
	return s.slot
}

// Advance records n more bytes for version. Progress stays at its last
// value when the total size is unknown.
func (s *ProgressStore) Advance(version string, n int64) TransferProgress {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active || s.slot.Version != version {
		return TransferProgress{}
	}
	s.slot.DownloadedBytes += n
	if s.slot.TotalBytes > 0 {
		pct := int(math.Round(100 * float64(s.slot.DownloadedBytes) / float64(s.slot.TotalBytes)))
		if pct > 100 {
			pct = 100
		}
		s.slot.Progress = pct
	}
	return s.slot
}

// Complete marks the transfer for version as finished.
func (s *ProgressStore) Complete(version string) TransferProgress {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active || s.slot.Version != version {
		return TransferProgress{}
	}
	s.slot.Status = types.TransferComplete
	if s.slot.TotalBytes > 0 {
		s.slot.Progress = 100
	}
	return s.slot
}

// Fail marks the transfer for version as failed so the client can offer a retry.
func (s *ProgressStore) Fail(version string, err error) TransferProgress {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active || s.slot.Version != version {
		return TransferProgress{}
	}
	s.slot.Status = types.TransferError
	if err != nil {
		s.slot.Error = err.Error()
	}
	return s.slot
}

// Clear empties the slot if it still belongs to version.
func (s *ProgressStore) Clear(version string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active && s.slot.Version == version {
		s.stopTimer()
		s.slot = TransferProgress{}
		s.active = false
	}
}

// ClearAfter clears the slot for version once d has passed, unless a new
// transfer has started by then.
func (s *ProgressStore) ClearAfter(version string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopTimer()
	s.timer = time.AfterFunc(d, func() { s.Clear(version) })
}

// Snapshot returns a copy of the active transfer, if any.
func (s *ProgressStore) Snapshot() (TransferProgress, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.slot, s.active
}

func (s *ProgressStore) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
