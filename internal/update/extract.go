package update

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/taskdeck/taskdeck/internal/types"
)

// ErrUnsafePath is returned for archive entries that would land outside the
// extraction directory.
var ErrUnsafePath = errors.New("archive entry escapes extraction directory")

// DetectArchiveFormat sniffs the archive format from its first bytes.
func DetectArchiveFormat(path string) (types.ArchiveFormat, error) {
	f, err := os.Open(path)
	if err != nil {
		return types.ArchiveUnknown, fmt.Errorf("failed to open archive: %w", err)
	}
	defer func() { _ = f.Close() }()

	header := make([]byte, 4)
	n, err := io.ReadFull(f, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return types.ArchiveUnknown, fmt.Errorf("failed to read archive header: %w", err)
	}
	header = header[:n]

	switch {
	case bytes.HasPrefix(header, []byte("PK\x03\x04")), bytes.HasPrefix(header, []byte("PK\x05\x06")):
		return types.ArchiveZip, nil
	case bytes.HasPrefix(header, []byte{0x1f, 0x8b}):
		return types.ArchiveTarGz, nil
	default:
		return types.ArchiveUnknown, nil
	}
}

// Extract unpacks a zip or tar.gz archive into dest, clearing dest first.
// Symlinks and special files are skipped.
func Extract(archivePath, dest string) error {
	format, err := DetectArchiveFormat(archivePath)
	if err != nil {
		return err
	}

	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("failed to clear extraction directory: %w", err)
	}
	if err := os.MkdirAll(dest, 0755); err != nil {
		return fmt.Errorf("failed to create extraction directory: %w", err)
	}

	switch format {
	case types.ArchiveZip:
		return extractZip(archivePath, dest)
	case types.ArchiveTarGz:
		return extractTarGz(archivePath, dest)
	default:
		return fmt.Errorf("unsupported archive format: %s", filepath.Base(archivePath))
	}
}

func extractZip(archivePath, dest string) error {
	r, err := zip.OpenReader(archivePath)
	if r != nil {
		defer func() { _ = r.Close() }()
	}
	if errors.Is(err, zip.ErrInsecurePath) {
		return fmt.Errorf("%w: %v", ErrUnsafePath, err)
	}
	if err != nil {
		return fmt.Errorf("failed to open zip archive: %w", err)
	}

	for _, f := range r.File {
		target, err := safeJoin(dest, f.Name)
		if err != nil {
			return err
		}
		mode := f.Mode()

		switch {
		case mode.IsDir():
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", f.Name, err)
			}
		case mode.IsRegular():
			rc, err := f.Open()
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", f.Name, err)
			}
			err = writeFile(target, rc, mode.Perm())
			_ = rc.Close()
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func extractTarGz(archivePath, dest string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer func() { _ = f.Close() }()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("failed to read gzip stream: %w", err)
	}
	defer func() { _ = gz.Close() }()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, tar.ErrInsecurePath) {
			return fmt.Errorf("%w: %v", ErrUnsafePath, err)
		}
		if err != nil {
			return fmt.Errorf("failed to read tar entry: %w", err)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			target, err := safeJoin(dest, hdr.Name)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", hdr.Name, err)
			}
		case tar.TypeReg:
			target, err := safeJoin(dest, hdr.Name)
			if err != nil {
				return err
			}
			if err := writeFile(target, tr, os.FileMode(hdr.Mode).Perm()); err != nil {
				return err
			}
		}
	}
}

// safeJoin resolves an archive entry name under dest.
func safeJoin(dest, name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	if strings.HasPrefix(name, "/") || filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	target := filepath.Join(dest, filepath.FromSlash(name))
	rel, err := filepath.Rel(dest, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return target, nil
}

func writeFile(target string, r io.Reader, perm os.FileMode) error {
	if perm == 0 {
		perm = 0644
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", target, err)
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to extract %s: %w", target, err)
	}
	return out.Close()
}

// ResolveSourceRoot returns the directory holding the application files.
// Archives that wrap everything in one top-level directory, such as GitHub's
// owner-repo-sha/ source archives, resolve to that directory when it holds
// one of the marker files.
func ResolveSourceRoot(dir string, markers []string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read extracted archive: %w", err)
	}
	if len(entries) != 1 || !entries[0].IsDir() {
		return dir, nil
	}

	nested := filepath.Join(dir, entries[0].Name())
	for _, marker := range markers {
		if _, err := os.Stat(filepath.Join(nested, marker)); err == nil {
			return nested, nil
		}
	}
	return dir, nil
}
