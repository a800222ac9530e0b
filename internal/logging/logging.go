// Package logging builds the structured logger shared by the server and CLI.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/taskdeck/taskdeck/internal/config"
	"github.com/taskdeck/taskdeck/internal/types"
)

// Options selects the handler for New.
type Options struct {
	Level   string
	Format  string
	File    string    // Optional log file, appended to
	Verbose bool      // Forces debug level
	Quiet   bool      // Forces error level
	Stderr  io.Writer // Defaults to os.Stderr
}

// OptionsFromConfig maps the log section of the settings file. Relative log
// file paths resolve against the install directory.
func OptionsFromConfig(cfg *config.Config, verbose, quiet bool) Options {
	file := cfg.Log.File
	if file != "" && !filepath.IsAbs(file) {
		file = cfg.InstallPath(file)
	}
	return Options{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		File:    file,
		Verbose: verbose,
		Quiet:   quiet,
	}
}

// New returns a logger and a close function for the log file, if any.
func New(opts Options) (*slog.Logger, func() error, error) {
	level := slog.LevelInfo
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
			return nil, nil, fmt.Errorf("invalid log level: %w", err)
		}
	}
	switch {
	case opts.Verbose:
		level = slog.LevelDebug
	case opts.Quiet:
		level = slog.LevelError
	}

	format, err := types.ParseLogFormat(opts.Format)
	if err != nil {
		return nil, nil, err
	}

	var w io.Writer = os.Stderr
	if opts.Stderr != nil {
		w = opts.Stderr
	}

	closeFn := func() error { return nil }
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		w = io.MultiWriter(w, f)
		closeFn = f.Close
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if format == types.LogFormatJSON {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}

	return slog.New(handler).With("app", "taskdeck"), closeFn, nil
}

// Discard returns a logger that drops everything. Used by tests and by CLI
// paths that report through the output writer instead.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
