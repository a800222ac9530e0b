package config

import (
	"testing"
	"time"
)

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		content  string
		expected Format
	}{
		{"yaml extension", "taskdeck.yaml", "", FormatYAML},
		{"yml extension", "taskdeck.yml", "", FormatYAML},
		{"toml extension", "taskdeck.toml", "", FormatTOML},
		{"json extension", "taskdeck.json", "", FormatJSON},
		{"json content", "taskdeck", `{"server": {"port": 8080}}`, FormatJSON},
		{"yaml content", "taskdeck", `install_dir: /opt/taskdeck`, FormatYAML},
		{"toml content", "taskdeck", `install_dir = "/opt/taskdeck"`, FormatTOML},
		{"toml section", "taskdeck", "# comment\n[server]\nport = 8080", FormatTOML},
		{"unknown content", "taskdeck", `hello`, FormatUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := detectFormat(tt.path, []byte(tt.content))
			if got != tt.expected {
				t.Errorf("detectFormat() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_VAR", "test_value")
	t.Setenv("EMPTY_VAR", "")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple var", "${TEST_VAR}", "test_value"},
		{"var with default", "${MISSING_TASKDECK_VAR:-default_value}", "default_value"},
		{"existing var ignores default", "${TEST_VAR:-default_value}", "test_value"},
		{"empty var uses default", "${EMPTY_VAR:-default_value}", "default_value"},
		{"no var", "plain text", "plain text"},
		{"mixed content", "prefix ${TEST_VAR} suffix", "prefix test_value suffix"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := string(expandEnvVars([]byte(tt.input)))
			if got != tt.expected {
				t.Errorf("expandEnvVars() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestParseYAML(t *testing.T) {
	t.Setenv("TASKDECK_TEST_TOKEN", "ghp_yaml")

	content := []byte(`
server:
  port: 8080
repository:
  owner: acme
  name: board
  token: ${TASKDECK_TEST_TOKEN}
update:
  step_timeout: 2m
  build_command: make build
log:
  format: json
`)

	cfg := Default("/opt/taskdeck")
	if err := parseInto(cfg, content, FormatYAML); err != nil {
		t.Fatalf("parseInto() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.Host != DefaultHost {
		t.Errorf("Server.Host = %s, want default %s", cfg.Server.Host, DefaultHost)
	}
	if cfg.Repository.Slug() != "acme/board" {
		t.Errorf("Repository.Slug() = %s, want acme/board", cfg.Repository.Slug())
	}
	if cfg.Repository.Token != "ghp_yaml" {
		t.Errorf("Repository.Token = %s, want ghp_yaml", cfg.Repository.Token)
	}
	if cfg.Update.StepTimeout.Duration != 2*time.Minute {
		t.Errorf("Update.StepTimeout = %v, want 2m", cfg.Update.StepTimeout)
	}
	if got := cfg.Update.BuildArgs(); len(got) != 2 || got[0] != "make" || got[1] != "build" {
		t.Errorf("Update.BuildArgs() = %v, want [make build]", got)
	}
	if cfg.Update.InstallCommand != "npm install" {
		t.Errorf("Update.InstallCommand = %s, want default", cfg.Update.InstallCommand)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %s, want json", cfg.Log.Format)
	}
}

func TestParseTOML(t *testing.T) {
	content := []byte(`
[server]
port = 9000

[update]
progress_interval = "250ms"
update_list = ["dist", "package.json"]
`)

	cfg := Default("/opt/taskdeck")
	if err := parseInto(cfg, content, FormatTOML); err != nil {
		t.Fatalf("parseInto() error = %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Update.ProgressInterval.Duration != 250*time.Millisecond {
		t.Errorf("Update.ProgressInterval = %v, want 250ms", cfg.Update.ProgressInterval)
	}
	if len(cfg.Update.UpdateList) != 2 {
		t.Errorf("Update.UpdateList = %v, want 2 entries", cfg.Update.UpdateList)
	}
}

func TestParseJSON(t *testing.T) {
	content := []byte(`{"update": {"restart_delay": "3s", "manifest": "app.json"}}`)

	cfg := Default("/opt/taskdeck")
	if err := parseInto(cfg, content, FormatJSON); err != nil {
		t.Fatalf("parseInto() error = %v", err)
	}

	if cfg.Update.RestartDelay.Duration != 3*time.Second {
		t.Errorf("Update.RestartDelay = %v, want 3s", cfg.Update.RestartDelay)
	}
	if cfg.Update.Manifest != "app.json" {
		t.Errorf("Update.Manifest = %s, want app.json", cfg.Update.Manifest)
	}
}

func TestParseInvalidDuration(t *testing.T) {
	cfg := Default("/opt/taskdeck")
	err := parseInto(cfg, []byte("update:\n  step_timeout: soon\n"), FormatYAML)
	if err == nil {
		t.Error("parseInto() should reject an invalid duration")
	}
}

func TestParseInvalidYAML(t *testing.T) {
	cfg := Default("/opt/taskdeck")
	err := parseInto(cfg, []byte("server: [unclosed"), FormatYAML)
	if err == nil {
		t.Error("parseInto() should fail on malformed YAML")
	}
}
