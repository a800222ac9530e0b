package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/taskdeck/taskdeck/internal/git"
	"github.com/taskdeck/taskdeck/internal/logging"
	"github.com/taskdeck/taskdeck/internal/output"
)

// scriptedRunner answers git commands from a fixed table.
type scriptedRunner map[string]string

func (r scriptedRunner) RunInDir(_ context.Context, _ string, name string, args ...string) ([]byte, error) {
	cmd := strings.Join(append([]string{name}, args...), " ")
	if out, ok := r[cmd]; ok {
		return []byte(out), nil
	}
	return nil, errors.New("unexpected command: " + cmd)
}

func TestRunStatusPlainInstall(t *testing.T) {
	cfg := stageInstall(t)
	e := &env{cfg: cfg, logger: logging.Discard()}
	var buf bytes.Buffer

	if err := runStatus(context.Background(), output.NewWriter(&buf, output.FormatText), e, git.NewCheckerWithRunner(&MockCommandRunner{})); err != nil {
		t.Fatalf("runStatus() error = %v", err)
	}

	got := buf.String()
	for _, want := range []string{"Version:  1.0.0", "Version 1.1.0 is downloaded"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "Checkout:") {
		t.Errorf("plain install should not report a checkout:\n%s", got)
	}
}

func TestRunStatusGitCheckout(t *testing.T) {
	cfg := stageInstall(t)
	e := &env{cfg: cfg, logger: logging.Discard()}
	runner := scriptedRunner{
		"git rev-parse --git-dir":         ".git",
		"git rev-parse --abbrev-ref HEAD": "main",
		"git rev-parse --short HEAD":      "abc1234",
	}
	runner["git status --porcelain -- "+strings.Join(cfg.Update.UpdateList, " ")] = " M server.js\n"
	var buf bytes.Buffer

	if err := runStatus(context.Background(), output.NewWriter(&buf, output.FormatJSON), e, git.NewCheckerWithRunner(runner)); err != nil {
		t.Fatalf("runStatus() error = %v", err)
	}

	var got installStatus
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, buf.String())
	}
	if got.Git == nil {
		t.Fatal("Git = nil, want checkout details")
	}
	if got.Git.Branch != "main" || got.Git.Commit != "abc1234" {
		t.Errorf("Git = %+v, want main@abc1234", got.Git)
	}
	if got.Git.Level != git.LevelWarning || len(got.Git.Modified) != 1 || got.Git.Modified[0] != "server.js" {
		t.Errorf("Git = %+v, want warning for server.js", got.Git)
	}
	if got.Update == nil || got.Update.DownloadedVersion != "1.1.0" {
		t.Errorf("Update = %+v, want downloaded 1.1.0", got.Update)
	}
}
