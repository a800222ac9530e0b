package update

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Marker and working directory names, relative to the install directory.
const (
	PendingFileName   = ".pending-update.json"
	CompletedFileName = ".update-completed.json"
	LockFileName      = ".update.lock"
	TempDirName       = ".update-temp"
	ExtractDirName    = ".update-extract"
	BackupDirName     = ".update-backup"
)

// MarkerStore reads and writes the pending and completed update records.
type MarkerStore struct {
	dir string
}

// NewMarkerStore creates a store rooted at the install directory.
func NewMarkerStore(installDir string) *MarkerStore {
	return &MarkerStore{dir: installDir}
}

// PendingPath returns the path of the pending update record.
func (m *MarkerStore) PendingPath() string {
	return filepath.Join(m.dir, PendingFileName)
}

// CompletedPath returns the path of the completed update record.
func (m *MarkerStore) CompletedPath() string {
	return filepath.Join(m.dir, CompletedFileName)
}

// WritePending persists the record left by a finished download.
func (m *MarkerStore) WritePending(rec *PendingUpdateRecord) error {
	return writeJSONAtomic(m.PendingPath(), rec)
}

// ReadPending returns ErrNoPendingUpdate when there is no record and
// ErrMalformedRecord when it does not parse.
func (m *MarkerStore) ReadPending() (*PendingUpdateRecord, error) {
	var rec PendingUpdateRecord
	if err := readJSON(m.PendingPath(), &rec); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoPendingUpdate
		}
		return nil, err
	}
	if rec.Version == "" || rec.ArchivePath == "" {
		return nil, fmt.Errorf("%w: %s is missing version or archivePath", ErrMalformedRecord, PendingFileName)
	}
	return &rec, nil
}

// DeletePending removes the pending record. A missing record is not an error.
func (m *MarkerStore) DeletePending() error {
	return removeIfExists(m.PendingPath())
}

// WriteCompleted persists the record left by a successful apply.
func (m *MarkerStore) WriteCompleted(rec *CompletedUpdateRecord) error {
	return writeJSONAtomic(m.CompletedPath(), rec)
}

// ReadCompleted returns nil, nil when there is no record.
func (m *MarkerStore) ReadCompleted() (*CompletedUpdateRecord, error) {
	var rec CompletedUpdateRecord
	if err := readJSON(m.CompletedPath(), &rec); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// DeleteCompleted removes the completed record. A missing record is not an error.
func (m *MarkerStore) DeleteCompleted() error {
	return removeIfExists(m.CompletedPath())
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedRecord, filepath.Base(path), err)
	}
	return nil
}

// writeJSONAtomic writes to a temp file in the same directory and renames it
// into place, so readers never see a partial record.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to sync %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to move %s into place: %w", filepath.Base(path), err)
	}
	return nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", filepath.Base(path), err)
	}
	return nil
}
