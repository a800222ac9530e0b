package cmd

import (
	"context"
	"testing"

	"github.com/taskdeck/taskdeck/internal/logging"
	"github.com/taskdeck/taskdeck/internal/update"
)

func TestApplyAtBootReportsNewVersion(t *testing.T) {
	cfg := stageInstall(t)
	applier := update.NewApplierWithRunner(cfg, logging.Discard(), &MockCommandRunner{})

	if got := applyAtBoot(context.Background(), cfg, logging.Discard(), applier, "1.0.0"); got != "1.1.0" {
		t.Errorf("applyAtBoot() = %s, want 1.1.0", got)
	}
}

func TestApplyAtBootWithoutPendingKeepsVersion(t *testing.T) {
	cfg := stageInstall(t)
	if err := update.NewMarkerStore(cfg.InstallDir).DeletePending(); err != nil {
		t.Fatalf("DeletePending() error = %v", err)
	}
	applier := update.NewApplierWithRunner(cfg, logging.Discard(), &MockCommandRunner{})

	if got := applyAtBoot(context.Background(), cfg, logging.Discard(), applier, "1.0.0"); got != "1.0.0" {
		t.Errorf("applyAtBoot() = %s, want 1.0.0", got)
	}
}
