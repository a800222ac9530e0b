// Package types provides type-safe constants for the taskdeck update system.
//
// This package centralizes the enumerated types shared by the updater, the
// HTTP layer and the configuration loader, replacing magic strings with typed
// constants that carry their own validation.
package types

import (
	"fmt"
	"strings"
)

// State is a state of the update applier.
type State string

const (
	// StateIdle means no update is being applied.
	StateIdle State = "idle"
	// StateDetected means a valid pending update record was found.
	StateDetected State = "detected"
	// StateBackingUp means the update-list is being copied to the backup directory.
	StateBackingUp State = "backing_up"
	// StateExtracting means the archive is being unpacked into the scratch directory.
	StateExtracting State = "extracting"
	// StateReplacing means application files are being swapped for the new ones.
	StateReplacing State = "replacing"
	// StateReinstalling means the dependency install step is running.
	StateReinstalling State = "reinstalling"
	// StateBuilding means the build step is running.
	StateBuilding State = "building"
	// StateCompleted means the update was applied.
	StateCompleted State = "completed"
	// StateRollingBack means the backup is being restored after a failure.
	StateRollingBack State = "rolling_back"
)

// AllStates returns every applier state in transition order.
func AllStates() []State {
	return []State{
		StateIdle, StateDetected, StateBackingUp, StateExtracting, StateReplacing,
		StateReinstalling, StateBuilding, StateCompleted, StateRollingBack,
	}
}

// Validate checks if the State is a valid value.
func (s State) Validate() error {
	for _, known := range AllStates() {
		if s == known {
			return nil
		}
	}
	if s == "" {
		return fmt.Errorf("state is required")
	}
	return fmt.Errorf("invalid state '%s'", s)
}

// String returns the string representation of the State.
func (s State) String() string {
	return string(s)
}

// IsDestructive returns true once application files may have been overwritten.
// Failures in a destructive state must roll back instead of aborting.
func (s State) IsDestructive() bool {
	switch s {
	case StateReplacing, StateReinstalling, StateBuilding:
		return true
	default:
		return false
	}
}

// TransferStatus is the status of an archive download.
type TransferStatus string

const (
	// TransferDownloading means bytes are still being received.
	TransferDownloading TransferStatus = "downloading"
	// TransferComplete means the archive and pending record are on disk.
	TransferComplete TransferStatus = "complete"
	// TransferError means the last download failed.
	TransferError TransferStatus = "error"
)

// String returns the string representation of the TransferStatus.
func (t TransferStatus) String() string {
	return string(t)
}

// IsTerminal returns true if no further progress will be reported.
func (t TransferStatus) IsTerminal() bool {
	return t == TransferComplete || t == TransferError
}

// ArchiveFormat is the container format of a release archive.
type ArchiveFormat string

const (
	// ArchiveZip is a zip archive.
	ArchiveZip ArchiveFormat = "zip"
	// ArchiveTarGz is a gzip-compressed tarball.
	ArchiveTarGz ArchiveFormat = "tar.gz"
	// ArchiveUnknown is anything else.
	ArchiveUnknown ArchiveFormat = ""
)

// Extension returns the file extension used when storing the archive.
func (f ArchiveFormat) Extension() string {
	switch f {
	case ArchiveTarGz:
		return ".tar.gz"
	default:
		return ".zip"
	}
}

// String returns the string representation of the ArchiveFormat.
func (f ArchiveFormat) String() string {
	if f == ArchiveUnknown {
		return "unknown"
	}
	return string(f)
}

// FormatFromName guesses the archive format from a file name or URL.
// GitHub's generic source archive URLs end in /zipball/<ref> or /tarball/<ref>.
func FormatFromName(name string) ArchiveFormat {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".zip"), strings.Contains(lower, "/zipball/"):
		return ArchiveZip
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"), strings.Contains(lower, "/tarball/"):
		return ArchiveTarGz
	default:
		return ArchiveUnknown
	}
}

// LogFormat is the log output encoding.
type LogFormat string

const (
	// LogFormatText is the human readable key=value format.
	LogFormatText LogFormat = "text"
	// LogFormatJSON is one JSON object per line.
	LogFormatJSON LogFormat = "json"
)

// Validate checks if the LogFormat is a valid value.
// Empty is valid and means text.
func (f LogFormat) Validate() error {
	switch f {
	case LogFormatText, LogFormatJSON, "":
		return nil
	default:
		return fmt.Errorf("invalid log format '%s' (must be text or json)", f)
	}
}

// ParseLogFormat parses a string into a LogFormat.
func ParseLogFormat(s string) (LogFormat, error) {
	f := LogFormat(strings.ToLower(s))
	if err := f.Validate(); err != nil {
		return "", err
	}
	if f == "" {
		return LogFormatText, nil
	}
	return f, nil
}
