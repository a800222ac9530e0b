// Package backup snapshots the application files an update is about to
// replace, and copies them back when the update has to be rolled back.
package backup

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"
)

// ManifestFileName is written at the root of the backup directory.
const ManifestFileName = "backup.json"

// ErrNoBackup is returned by Load when no snapshot exists.
var ErrNoBackup = errors.New("no backup found")

// Snapshot describes the contents of the backup directory.
type Snapshot struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Version   string    `json:"version"` // Version being installed when the backup was taken
	Paths     []string  `json:"paths"`   // Top-level names that were present and copied
	Absent    []string  `json:"absent"`  // Listed names that did not exist
}

// Manager handles backup operations.
type Manager struct {
	sourceDir string
	backupDir string
	now       func() time.Time
}

// NewManager creates a backup manager copying entries of sourceDir into backupDir.
func NewManager(sourceDir, backupDir string) *Manager {
	return &Manager{
		sourceDir: sourceDir,
		backupDir: backupDir,
		now:       time.Now,
	}
}

// Dir returns the backup directory.
func (m *Manager) Dir() string {
	return m.backupDir
}

// Create replaces any previous backup with a copy of each name in paths
// that exists under the source directory.
func (m *Manager) Create(version string, paths []string) (*Snapshot, error) {
	if err := os.RemoveAll(m.backupDir); err != nil {
		return nil, fmt.Errorf("failed to remove stale backup: %w", err)
	}
	if err := os.MkdirAll(m.backupDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	snap := &Snapshot{
		ID:        uuid.NewString(),
		CreatedAt: m.now().UTC(),
		Version:   version,
		Paths:     []string{},
		Absent:    []string{},
	}

	for _, name := range paths {
		if err := m.copyIn(snap, name); err != nil {
			return nil, err
		}
	}

	if err := m.writeManifest(snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// Add backs up one more top-level name into an existing snapshot. Names
// already recorded are left alone.
func (m *Manager) Add(snap *Snapshot, name string) error {
	if slices.Contains(snap.Paths, name) || slices.Contains(snap.Absent, name) {
		return nil
	}
	if err := m.copyIn(snap, name); err != nil {
		return err
	}
	return m.writeManifest(snap)
}

func (m *Manager) copyIn(snap *Snapshot, name string) error {
	src := filepath.Join(m.sourceDir, name)
	if _, err := os.Lstat(src); err != nil {
		if os.IsNotExist(err) {
			snap.Absent = append(snap.Absent, name)
			return nil
		}
		return fmt.Errorf("failed to stat %s: %w", name, err)
	}
	if err := CopyPath(src, filepath.Join(m.backupDir, name)); err != nil {
		return fmt.Errorf("failed to back up %s: %w", name, err)
	}
	snap.Paths = append(snap.Paths, name)
	return nil
}

func (m *Manager) writeManifest(snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal backup manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(m.backupDir, ManifestFileName), data, 0644); err != nil {
		return fmt.Errorf("failed to write backup manifest: %w", err)
	}
	return nil
}

// Restore copies every backed-up path over the current one and removes
// listed paths that did not exist when the backup was taken. It keeps going
// after a failure and returns one error per path that could not be restored.
func (m *Manager) Restore(snap *Snapshot) []error {
	var errs []error
	for _, name := range snap.Absent {
		if err := os.RemoveAll(filepath.Join(m.sourceDir, name)); err != nil {
			errs = append(errs, fmt.Errorf("failed to remove %s: %w", name, err))
		}
	}
	for _, name := range snap.Paths {
		dst := filepath.Join(m.sourceDir, name)
		if err := os.RemoveAll(dst); err != nil {
			errs = append(errs, fmt.Errorf("failed to remove %s: %w", name, err))
			continue
		}
		if err := CopyPath(filepath.Join(m.backupDir, name), dst); err != nil {
			errs = append(errs, fmt.Errorf("failed to restore %s: %w", name, err))
		}
	}
	return errs
}

// Load reads the manifest of an existing backup.
func (m *Manager) Load() (*Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(m.backupDir, ManifestFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoBackup
		}
		return nil, fmt.Errorf("failed to read backup manifest: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse backup manifest: %w", err)
	}
	return &snap, nil
}

// Discard deletes the backup directory.
func (m *Manager) Discard() error {
	if err := os.RemoveAll(m.backupDir); err != nil {
		return fmt.Errorf("failed to delete backup: %w", err)
	}
	return nil
}

// CopyPath copies a file or directory tree from src to dst, keeping
// permission bits. Symlinks are recreated, not followed.
func CopyPath(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return err
	}

	switch {
	case info.Mode()&os.ModeSymlink != 0:
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		return os.Symlink(target, dst)
	case info.IsDir():
		return copyDir(src, dst, info.Mode().Perm())
	default:
		return copyFile(src, dst, info.Mode().Perm())
	}
}

func copyDir(src, dst string, perm os.FileMode) error {
	if err := os.MkdirAll(dst, perm|0700); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := CopyPath(filepath.Join(src, entry.Name()), filepath.Join(dst, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_RDWR|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
