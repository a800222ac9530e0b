package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/taskdeck/taskdeck/internal/types"
)

// repoPartPattern validates GitHub owner and repository names.
var repoPartPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// ValidationError represents a settings validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for required fields and valid values.
func Validate(c *Config) error {
	var errs []string

	if c.InstallDir == "" {
		errs = append(errs, ValidationError{Field: "install_dir", Message: "install directory is required"}.Error())
	}

	for _, err := range validateServer(c.Server) {
		errs = append(errs, err.Error())
	}

	if err := validateRepository(c.Repository); err != nil {
		errs = append(errs, err.Error())
	}

	for _, err := range validateUpdate(c.Update) {
		errs = append(errs, err.Error())
	}

	if err := validateLog(c.Log); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

func validateServer(s ServerConfig) []error {
	var errs []error

	if s.Port < 1 || s.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port %d out of range (1-65535)", s.Port),
		})
	}

	if s.MaxBodyBytes <= 0 {
		errs = append(errs, ValidationError{
			Field:   "server.max_body_bytes",
			Message: "must be positive",
		})
	}

	if s.ShutdownTimeout.Duration <= 0 {
		errs = append(errs, ValidationError{
			Field:   "server.shutdown_timeout",
			Message: "must be positive",
		})
	}

	return errs
}

func validateRepository(r RepositoryConfig) error {
	if !repoPartPattern.MatchString(r.Owner) {
		return ValidationError{
			Field:   "repository.owner",
			Message: fmt.Sprintf("invalid owner '%s'", r.Owner),
		}
	}

	if !repoPartPattern.MatchString(r.Name) {
		return ValidationError{
			Field:   "repository.name",
			Message: fmt.Sprintf("invalid repository name '%s'", r.Name),
		}
	}

	if !strings.HasPrefix(r.APIBaseURL, "http://") && !strings.HasPrefix(r.APIBaseURL, "https://") {
		return ValidationError{
			Field:   "repository.api_base_url",
			Message: "must be an http(s) URL",
		}
	}

	return nil
}

func validateUpdate(u UpdateConfig) []error {
	var errs []error

	if u.Manifest == "" {
		errs = append(errs, ValidationError{Field: "update.manifest", Message: "manifest is required"})
	}

	if len(u.InstallArgs()) == 0 {
		errs = append(errs, ValidationError{Field: "update.install_command", Message: "command is required"})
	}

	if len(u.BuildArgs()) == 0 {
		errs = append(errs, ValidationError{Field: "update.build_command", Message: "command is required"})
	}

	durations := map[string]Duration{
		"update.step_timeout":      u.StepTimeout,
		"update.progress_interval": u.ProgressInterval,
		"update.progress_grace":    u.ProgressGrace,
	}
	for field, d := range durations {
		if d.Duration <= 0 {
			errs = append(errs, ValidationError{Field: field, Message: "must be positive"})
		}
	}

	if u.RestartDelay.Duration < 0 {
		errs = append(errs, ValidationError{Field: "update.restart_delay", Message: "must not be negative"})
	}

	// Both lists hold top-level entry names under the install directory.
	preserved := make(map[string]bool, len(u.PreserveList))
	for i, p := range u.PreserveList {
		if err := validateEntryName(p); err != nil {
			errs = append(errs, ValidationError{Field: fmt.Sprintf("update.preserve_list[%d]", i), Message: err.Error()})
			continue
		}
		preserved[p] = true
	}

	for i, p := range u.UpdateList {
		if err := validateEntryName(p); err != nil {
			errs = append(errs, ValidationError{Field: fmt.Sprintf("update.update_list[%d]", i), Message: err.Error()})
			continue
		}
		if preserved[p] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("update.update_list[%d]", i),
				Message: fmt.Sprintf("'%s' is also in preserve_list", p),
			})
		}
	}

	return errs
}

func validateEntryName(name string) error {
	if name == "" {
		return fmt.Errorf("entry cannot be empty")
	}
	if filepath.IsAbs(name) || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("'%s' must be a top-level name", name)
	}
	return nil
}

func validateLog(l LogConfig) error {
	if _, err := types.ParseLogFormat(l.Format); err != nil {
		return ValidationError{Field: "log.format", Message: err.Error()}
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return ValidationError{
			Field:   "log.level",
			Message: fmt.Sprintf("invalid level '%s' (must be debug, info, warn, or error)", l.Level),
		}
	}

	return nil
}
