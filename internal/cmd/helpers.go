package cmd

import (
	"io"
	"log/slog"

	"github.com/taskdeck/taskdeck/internal/config"
	"github.com/taskdeck/taskdeck/internal/logging"
	"github.com/taskdeck/taskdeck/internal/output"
)

// env is what every subcommand needs after flag parsing.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
	out    *output.Writer
	close  func() error
}

// loadEnv loads the settings and builds the logger and output writer from the
// global flags.
func loadEnv(stdout io.Writer) (*env, error) {
	format, err := output.ParseFormat(outputFormat)
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(configPath, installDir)
	if err != nil {
		return nil, err
	}

	logger, closeLog, err := logging.New(logging.OptionsFromConfig(cfg, verbose, quiet))
	if err != nil {
		return nil, err
	}
	if cfg.Path != "" {
		logger.Debug("loaded settings", "path", cfg.Path)
	}

	return &env{
		cfg:    cfg,
		logger: logger,
		out:    output.NewWriter(stdout, format),
		close:  closeLog,
	}, nil
}

// currentVersion is the installed application version.
func (e *env) currentVersion() string {
	return e.cfg.ResolveCurrentVersion(appVersion)
}
