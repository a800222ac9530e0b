// Package config handles taskdeck settings file parsing and location resolution.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrNotFound is returned by FindConfigFile when no settings file exists.
var ErrNotFound = errors.New("no settings file found")

// Duration is a time.Duration that reads and writes as a string such as "10m".
type Duration struct {
	time.Duration
}

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText formats the duration as a Go duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string   `yaml:"host" toml:"host" json:"host"`
	Port            int      `yaml:"port" toml:"port" json:"port"`
	DistDir         string   `yaml:"dist_dir" toml:"dist_dir" json:"dist_dir"`                         // Built client assets, relative to install_dir
	MaxBodyBytes    int64    `yaml:"max_body_bytes" toml:"max_body_bytes" json:"max_body_bytes"`       // Request body limit for /api/data
	ShutdownTimeout Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout" json:"shutdown_timeout"` // Graceful shutdown bound
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RepositoryConfig identifies the upstream release source.
type RepositoryConfig struct {
	Owner      string `yaml:"owner" toml:"owner" json:"owner"`
	Name       string `yaml:"name" toml:"name" json:"name"`
	Token      string `yaml:"token,omitempty" toml:"token,omitempty" json:"token,omitempty"` // Optional, raises the API rate limit
	APIBaseURL string `yaml:"api_base_url" toml:"api_base_url" json:"api_base_url"`
}

// Slug returns "owner/name".
func (r RepositoryConfig) Slug() string {
	return r.Owner + "/" + r.Name
}

// UpdateConfig configures the self-update subsystem.
type UpdateConfig struct {
	CurrentVersion   string   `yaml:"current_version,omitempty" toml:"current_version,omitempty" json:"current_version,omitempty"`
	Manifest         string   `yaml:"manifest" toml:"manifest" json:"manifest"`
	EntryPoints      []string `yaml:"entry_points" toml:"entry_points" json:"entry_points"`
	UpdateList       []string `yaml:"update_list" toml:"update_list" json:"update_list"`
	PreserveList     []string `yaml:"preserve_list" toml:"preserve_list" json:"preserve_list"`
	InstallCommand   string   `yaml:"install_command" toml:"install_command" json:"install_command"`
	BuildCommand     string   `yaml:"build_command" toml:"build_command" json:"build_command"`
	StepTimeout      Duration `yaml:"step_timeout" toml:"step_timeout" json:"step_timeout"`
	ProgressInterval Duration `yaml:"progress_interval" toml:"progress_interval" json:"progress_interval"`
	ProgressGrace    Duration `yaml:"progress_grace" toml:"progress_grace" json:"progress_grace"`
	RestartDelay     Duration `yaml:"restart_delay" toml:"restart_delay" json:"restart_delay"`
}

// InstallArgs splits the install command into name and arguments.
func (u UpdateConfig) InstallArgs() []string {
	return strings.Fields(u.InstallCommand)
}

// BuildArgs splits the build command into name and arguments.
func (u UpdateConfig) BuildArgs() []string {
	return strings.Fields(u.BuildCommand)
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level" json:"level"`
	Format string `yaml:"format" toml:"format" json:"format"`
	File   string `yaml:"file,omitempty" toml:"file,omitempty" json:"file,omitempty"`
}

// Config represents the parsed settings file merged over the defaults.
type Config struct {
	InstallDir string           `yaml:"install_dir" toml:"install_dir" json:"install_dir"`
	Server     ServerConfig     `yaml:"server" toml:"server" json:"server"`
	Repository RepositoryConfig `yaml:"repository" toml:"repository" json:"repository"`
	Update     UpdateConfig     `yaml:"update" toml:"update" json:"update"`
	Log        LogConfig        `yaml:"log" toml:"log" json:"log"`

	// Path is the settings file this config was loaded from, empty for defaults.
	Path string `yaml:"-" toml:"-" json:"-"`
}

// InstallPath joins elements onto the install directory.
func (c *Config) InstallPath(elem ...string) string {
	return filepath.Join(append([]string{c.InstallDir}, elem...)...)
}

// ResolveCurrentVersion returns the configured current version, else the
// "version" field of the manifest in the install directory, else fallback.
func (c *Config) ResolveCurrentVersion(fallback string) string {
	if c.Update.CurrentVersion != "" {
		return c.Update.CurrentVersion
	}
	if v, err := ReadManifestVersion(c.InstallPath(c.Update.Manifest)); err == nil && v != "" {
		return v
	}
	return fallback
}

// ReadManifestVersion reads the "version" field of a package.json style manifest.
func ReadManifestVersion(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read manifest: %w", err)
	}
	var manifest struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(content, &manifest); err != nil {
		return "", fmt.Errorf("failed to parse manifest: %w", err)
	}
	return manifest.Version, nil
}

// DefaultInstallDir returns the directory holding the running executable.
func DefaultInstallDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to get executable path: %w", err)
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return "", fmt.Errorf("failed to resolve executable path: %w", err)
	}
	return filepath.Dir(exe), nil
}

// settingsNames are the file names searched in each candidate directory.
var settingsNames = []string{
	"taskdeck.yaml",
	"taskdeck.yml",
	"taskdeck.toml",
	"taskdeck.json",
	"taskdeck",
}

// SettingsFileNames returns the settings file names searched in each directory.
func SettingsFileNames() []string {
	return append([]string(nil), settingsNames...)
}

// FindConfigFile searches for a settings file in the standard locations.
// Returns ErrNotFound when none exists and no explicit path was given.
func FindConfigFile(explicitPath, installDir string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("specified settings file not found: %s", explicitPath)
		}
		return explicitPath, nil
	}

	// Check TASKDECK_CONFIG environment variable
	if envPath := os.Getenv("TASKDECK_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath, nil
		}
	}

	var searchPaths []string
	if installDir != "" {
		searchPaths = append(searchPaths, installDir)
	}

	xdgConfig := os.Getenv("XDG_CONFIG_HOME")
	if xdgConfig == "" {
		if home, err := os.UserHomeDir(); err == nil {
			xdgConfig = filepath.Join(home, ".config")
		}
	}
	if xdgConfig != "" {
		searchPaths = append(searchPaths, filepath.Join(xdgConfig, "taskdeck"))
	}

	for _, dir := range searchPaths {
		for _, name := range settingsNames {
			path := filepath.Join(dir, name)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return path, nil
			}
		}
	}

	return "", ErrNotFound
}

// Load resolves the install directory, loads <install>/.env, then reads and
// validates the settings file. A missing settings file yields the defaults.
// installDir, when non-empty, overrides install_dir from the file.
func Load(explicitPath, installDir string) (*Config, error) {
	dir := installDir
	if dir == "" {
		var err error
		dir, err = DefaultInstallDir()
		if err != nil {
			return nil, err
		}
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve install directory: %w", err)
	}

	if err := loadDotEnv(filepath.Join(dir, ".env")); err != nil {
		return nil, err
	}

	cfg := Default(dir)

	path, err := FindConfigFile(explicitPath, dir)
	switch {
	case errors.Is(err, ErrNotFound):
		// defaults only
	case err != nil:
		return nil, err
	default:
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	if installDir != "" {
		cfg.InstallDir = dir
	} else if !filepath.IsAbs(cfg.InstallDir) {
		base := dir
		if cfg.Path != "" {
			base = filepath.Dir(cfg.Path)
		}
		cfg.InstallDir = filepath.Join(base, cfg.InstallDir)
	}

	if cfg.Repository.Token == "" {
		cfg.Repository.Token = os.Getenv("GITHUB_TOKEN")
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// mergeFile parses the file at path over the current values.
func (c *Config) mergeFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read settings file: %w", err)
	}

	format := detectFormat(path, content)
	if format == FormatUnknown {
		return fmt.Errorf("unable to detect file format for %s", path)
	}

	if err := parseInto(c, content, format); err != nil {
		return err
	}
	c.Path = path
	return nil
}

// loadDotEnv loads KEY=VALUE pairs without overriding the existing environment.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}
