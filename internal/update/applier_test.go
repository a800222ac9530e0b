package update

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/taskdeck/taskdeck/internal/config"
	"github.com/taskdeck/taskdeck/internal/git"
	"github.com/taskdeck/taskdeck/internal/logging"
	"github.com/taskdeck/taskdeck/internal/types"
)

// MockCommandRunner records commands for testing.
type MockCommandRunner struct {
	Commands []string
	Errors   map[string]error
	Block    map[string]bool // Commands that hang until their context is done
}

func (m *MockCommandRunner) RunInDir(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := strings.TrimSpace(name + " " + strings.Join(args, " "))
	m.Commands = append(m.Commands, cmd)

	if m.Block[cmd] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err, ok := m.Errors[cmd]; ok {
		return []byte("error output"), err
	}
	return []byte("success"), nil
}

func newMockRunner() *MockCommandRunner {
	return &MockCommandRunner{
		Commands: []string{},
		Errors:   make(map[string]error),
		Block:    make(map[string]bool),
	}
}

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("failed to create dir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}
}

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create zip: %v", err)
	}
	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("failed to add %s: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("failed to close zip: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("failed to close file: %v", err)
	}
}

func writeTarGz(t *testing.T, path string, files map[string]string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create tarball: %v", err)
	}
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		hdr := &tar.Header{Name: name, Mode: 0644, Size: int64(len(content)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("failed to write header: %v", err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("failed to close tar: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("failed to close gzip: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("failed to close file: %v", err)
	}
}

// snapshotTree maps every file under the named top-level paths to its content.
func snapshotTree(t *testing.T, root string, names []string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	for _, name := range names {
		base := filepath.Join(root, name)
		if _, err := os.Stat(base); os.IsNotExist(err) {
			continue
		}
		err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			rel, _ := filepath.Rel(root, path)
			out[filepath.ToSlash(rel)] = string(data)
			return nil
		})
		if err != nil {
			t.Fatalf("failed to walk %s: %v", name, err)
		}
	}
	return out
}

func assertSameTree(t *testing.T, got, want map[string]string) {
	t.Helper()
	if len(got) != len(want) {
		t.Errorf("tree has %d files, want %d\ngot:  %v\nwant: %v", len(got), len(want), got, want)
	}
	for path, content := range want {
		if got[path] != content {
			t.Errorf("%s = %q, want %q", path, got[path], content)
		}
	}
}

// installedApp is version 1.4.0 of the application plus user data.
var installedApp = map[string]string{
	"server.js":          "// server v1.4.0",
	"package.json":       `{"name":"taskdeck","version":"1.4.0"}`,
	"index.html":         "<html>v1.4.0</html>",
	"dist/index.html":    "<html>built v1.4.0</html>",
	"dist/assets/app.js": "app v1.4.0",
	"data/tasks.json":    `{"tasks":["keep me"]}`,
	"config.json":        `{"dataFilePath":"data/tasks.json"}`,
	".env":               "GITHUB_TOKEN=secret",
}

func newTestApplier(t *testing.T, runner CommandRunner) (*Applier, *config.Config) {
	t.Helper()
	dir := t.TempDir()
	writeFiles(t, dir, installedApp)

	cfg := config.Default(dir)
	notRepo := newMockRunner()
	notRepo.Errors["git rev-parse --git-dir"] = errors.New("not a git repository")
	a := NewApplierWithRunner(cfg, logging.Discard(), runner).WithGitChecker(git.NewCheckerWithRunner(notRepo))
	return a, cfg
}

func stagePending(t *testing.T, cfg *config.Config, archive map[string]string) *PendingUpdateRecord {
	t.Helper()
	archivePath := cfg.InstallPath(TempDirName, "update-1.5.0.zip")
	writeZip(t, archivePath, archive)

	rec := &PendingUpdateRecord{
		Version:      "1.5.0",
		CommitSHA:    "abc123",
		DownloadedAt: time.Now().UTC(),
		ArchivePath:  archivePath,
	}
	if err := NewMarkerStore(cfg.InstallDir).WritePending(rec); err != nil {
		t.Fatalf("WritePending() error = %v", err)
	}
	return rec
}

func assertNoPending(t *testing.T, cfg *config.Config) {
	t.Helper()
	if _, err := os.Stat(cfg.InstallPath(PendingFileName)); !os.IsNotExist(err) {
		t.Error("pending record must be deleted after an apply attempt")
	}
}

func TestApplyNoPendingUpdate(t *testing.T) {
	runner := newMockRunner()
	applier, _ := newTestApplier(t, runner)

	res := applier.Apply(context.Background())

	if res.Err != nil || res.Applied {
		t.Errorf("Apply() = %+v, want no-op", res)
	}
	if res.FinalState != types.StateIdle || len(res.Transitions) != 0 {
		t.Errorf("FinalState = %s, Transitions = %v, want idle and none", res.FinalState, res.Transitions)
	}
	if len(runner.Commands) != 0 {
		t.Errorf("ran commands %v, want none", runner.Commands)
	}
}

func TestApplyWrappedSourceArchive(t *testing.T) {
	runner := newMockRunner()
	applier, cfg := newTestApplier(t, runner)
	stagePending(t, cfg, map[string]string{
		"org-repo-abc123/package.json":    `{"name":"taskdeck","version":"1.5.0"}`,
		"org-repo-abc123/server.js":       "// server v1.5.0",
		"org-repo-abc123/dist/index.html": "<html>built v1.5.0</html>",
		"org-repo-abc123/README.md":       "release notes",
	})

	res := applier.Apply(context.Background())

	if res.Err != nil || !res.Applied {
		t.Fatalf("Apply() = %+v, err = %v", res, res.Err)
	}
	if res.FinalState != types.StateCompleted {
		t.Errorf("FinalState = %s, want completed", res.FinalState)
	}
	wantTransitions := []types.State{
		types.StateDetected, types.StateBackingUp, types.StateExtracting, types.StateReplacing,
		types.StateReinstalling, types.StateBuilding, types.StateCompleted,
	}
	if len(res.Transitions) != len(wantTransitions) {
		t.Fatalf("Transitions = %v, want %v", res.Transitions, wantTransitions)
	}
	for i := range wantTransitions {
		if res.Transitions[i] != wantTransitions[i] {
			t.Errorf("Transitions[%d] = %s, want %s", i, res.Transitions[i], wantTransitions[i])
		}
	}

	got := snapshotTree(t, cfg.InstallDir, []string{"server.js", "package.json", "dist", "org-repo-abc123"})
	assertSameTree(t, got, map[string]string{
		"server.js":       "// server v1.5.0",
		"package.json":    `{"name":"taskdeck","version":"1.5.0"}`,
		"dist/index.html": "<html>built v1.5.0</html>",
	})
	if _, err := os.Stat(cfg.InstallPath("README.md")); err != nil {
		t.Errorf("README.md should be copied to the install root: %v", err)
	}

	wantCommands := []string{"npm install", "npm run build"}
	if strings.Join(runner.Commands, ",") != strings.Join(wantCommands, ",") {
		t.Errorf("Commands = %v, want %v", runner.Commands, wantCommands)
	}

	assertNoPending(t, cfg)
	for _, name := range []string{BackupDirName, ExtractDirName} {
		if _, err := os.Stat(cfg.InstallPath(name)); !os.IsNotExist(err) {
			t.Errorf("%s should be removed after success", name)
		}
	}
	if _, err := os.Stat(cfg.InstallPath(TempDirName, "update-1.5.0.zip")); !os.IsNotExist(err) {
		t.Error("consumed archive should be removed")
	}

	status, err := NewNotifier(cfg.InstallDir).Status()
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if !status.Pending || status.Version != "1.5.0" || status.AppliedAt == nil {
		t.Errorf("Status() = %+v, want pending 1.5.0", status)
	}
}

func TestApplyTarGzArchive(t *testing.T) {
	runner := newMockRunner()
	applier, cfg := newTestApplier(t, runner)

	archivePath := cfg.InstallPath(TempDirName, "update-1.5.0.tar.gz")
	writeTarGz(t, archivePath, map[string]string{
		"server.js":  "// server v1.5.0",
		"index.html": "<html>v1.5.0</html>",
	})
	if err := NewMarkerStore(cfg.InstallDir).WritePending(&PendingUpdateRecord{Version: "1.5.0", ArchivePath: archivePath}); err != nil {
		t.Fatalf("WritePending() error = %v", err)
	}

	res := applier.Apply(context.Background())
	if !res.Applied {
		t.Fatalf("Apply() err = %v, want applied", res.Err)
	}

	got := snapshotTree(t, cfg.InstallDir, []string{"server.js", "index.html"})
	assertSameTree(t, got, map[string]string{
		"server.js":  "// server v1.5.0",
		"index.html": "<html>v1.5.0</html>",
	})
	// package.json was not replaced, so there is nothing to reinstall.
	if len(runner.Commands) != 1 || runner.Commands[0] != "npm run build" {
		t.Errorf("Commands = %v, want only the build", runner.Commands)
	}
}

func TestApplyBuildFailureRollsBack(t *testing.T) {
	runner := newMockRunner()
	runner.Errors["npm run build"] = errors.New("exit status 1")
	applier, cfg := newTestApplier(t, runner)

	before := snapshotTree(t, cfg.InstallDir, cfg.Update.UpdateList)
	stagePending(t, cfg, map[string]string{
		"server.js":         "// server v1.5.0 broken",
		"package.json":      `{"version":"1.5.0"}`,
		"dist/index.html":   "<html>broken</html>",
		"dist/new-chunk.js": "new",
		"src/main.jsx":      "new source tree",
		"vite.config.js":    "export default {}",
	})

	res := applier.Apply(context.Background())

	if res.Applied || !res.RolledBack {
		t.Fatalf("Apply() = %+v, want rolled back", res)
	}
	var stepErr *StepError
	if !errors.As(res.Err, &stepErr) || stepErr.State != types.StateBuilding {
		t.Errorf("Err = %v, want StepError in building", res.Err)
	}
	if res.Transitions[len(res.Transitions)-2] != types.StateRollingBack {
		t.Errorf("Transitions = %v, want rolling_back before idle", res.Transitions)
	}
	if res.FinalState != types.StateIdle {
		t.Errorf("FinalState = %s, want idle", res.FinalState)
	}

	after := snapshotTree(t, cfg.InstallDir, cfg.Update.UpdateList)
	assertSameTree(t, after, before)

	assertNoPending(t, cfg)
	if rec, _ := NewMarkerStore(cfg.InstallDir).ReadCompleted(); rec != nil {
		t.Error("completed record must not be written on failure")
	}
	if _, err := os.Stat(cfg.InstallPath(BackupDirName)); !os.IsNotExist(err) {
		t.Error("backup should be discarded after a clean rollback")
	}
}

func TestApplyInstallFailureContinues(t *testing.T) {
	runner := newMockRunner()
	runner.Errors["npm install"] = errors.New("ERESOLVE")
	applier, cfg := newTestApplier(t, runner)
	stagePending(t, cfg, map[string]string{
		"package.json": `{"version":"1.5.0"}`,
		"server.js":    "// server v1.5.0",
	})

	res := applier.Apply(context.Background())

	if !res.Applied || res.RolledBack {
		t.Fatalf("Apply() = %+v, err = %v, want applied without rollback", res, res.Err)
	}
	if len(runner.Commands) != 2 || runner.Commands[1] != "npm run build" {
		t.Errorf("Commands = %v, want install then build", runner.Commands)
	}
	if got := snapshotTree(t, cfg.InstallDir, []string{"server.js"}); got["server.js"] != "// server v1.5.0" {
		t.Errorf("server.js = %q, want new version", got["server.js"])
	}
}

func TestApplyRespectsPreserveList(t *testing.T) {
	runner := newMockRunner()
	applier, cfg := newTestApplier(t, runner)

	preserved := []string{"data", "config.json", ".env"}
	before := snapshotTree(t, cfg.InstallDir, preserved)

	stagePending(t, cfg, map[string]string{
		"server.js":            "// server v1.5.0",
		"data/tasks.json":      `{"tasks":[]}`,
		"data/sample.json":     "sample",
		"config.json":          `{"dataFilePath":"/tmp/elsewhere.json"}`,
		".env":                 "GITHUB_TOKEN=",
		".pending-update.json": `{"version":"9.9.9","archivePath":"x"}`,
		".update-backup/x.txt": "should not land",
	})

	res := applier.Apply(context.Background())
	if !res.Applied {
		t.Fatalf("Apply() err = %v, want applied", res.Err)
	}

	after := snapshotTree(t, cfg.InstallDir, preserved)
	assertSameTree(t, after, before)
	assertNoPending(t, cfg)
	if _, err := os.Stat(cfg.InstallPath(BackupDirName)); !os.IsNotExist(err) {
		t.Error("backup directory from the archive should not be installed")
	}
}

func TestApplyMissingArchive(t *testing.T) {
	runner := newMockRunner()
	applier, cfg := newTestApplier(t, runner)

	tracked := append([]string{"data", "config.json", ".env"}, cfg.Update.UpdateList...)
	before := snapshotTree(t, cfg.InstallDir, tracked)
	rec := &PendingUpdateRecord{Version: "1.5.0", ArchivePath: cfg.InstallPath(TempDirName, "gone.zip")}
	if err := NewMarkerStore(cfg.InstallDir).WritePending(rec); err != nil {
		t.Fatalf("WritePending() error = %v", err)
	}

	res := applier.Apply(context.Background())

	if res.Err == nil || res.Applied {
		t.Errorf("Apply() = %+v, want failed detection", res)
	}
	if len(res.Transitions) != 0 || res.FinalState != types.StateIdle {
		t.Errorf("Transitions = %v, want none (stays idle)", res.Transitions)
	}
	assertNoPending(t, cfg)
	if _, err := os.Stat(cfg.InstallPath(BackupDirName)); !os.IsNotExist(err) {
		t.Error("no backup should be attempted")
	}
	if len(runner.Commands) != 0 {
		t.Errorf("Commands = %v, want none", runner.Commands)
	}

	after := snapshotTree(t, cfg.InstallDir, tracked)
	assertSameTree(t, after, before)
}

func TestApplyMalformedRecord(t *testing.T) {
	runner := newMockRunner()
	applier, cfg := newTestApplier(t, runner)
	if err := os.WriteFile(cfg.InstallPath(PendingFileName), []byte("{not json"), 0644); err != nil {
		t.Fatalf("failed to write record: %v", err)
	}

	res := applier.Apply(context.Background())

	if !errors.Is(res.Err, ErrMalformedRecord) {
		t.Errorf("Err = %v, want ErrMalformedRecord", res.Err)
	}
	assertNoPending(t, cfg)
}

func TestApplyCorruptArchiveRollsBack(t *testing.T) {
	runner := newMockRunner()
	applier, cfg := newTestApplier(t, runner)

	before := snapshotTree(t, cfg.InstallDir, cfg.Update.UpdateList)
	archivePath := cfg.InstallPath(TempDirName, "update-1.5.0.zip")
	writeFiles(t, cfg.InstallDir, map[string]string{TempDirName + "/update-1.5.0.zip": "definitely not a zip"})
	if err := NewMarkerStore(cfg.InstallDir).WritePending(&PendingUpdateRecord{Version: "1.5.0", ArchivePath: archivePath}); err != nil {
		t.Fatalf("WritePending() error = %v", err)
	}

	res := applier.Apply(context.Background())

	var stepErr *StepError
	if !errors.As(res.Err, &stepErr) || stepErr.State != types.StateExtracting {
		t.Errorf("Err = %v, want StepError in extracting", res.Err)
	}
	if !res.RolledBack {
		t.Error("extraction failure should roll back")
	}
	assertSameTree(t, snapshotTree(t, cfg.InstallDir, cfg.Update.UpdateList), before)
	assertNoPending(t, cfg)
	if len(runner.Commands) != 0 {
		t.Errorf("Commands = %v, want none", runner.Commands)
	}
}

func TestApplyBuildTimeoutRollsBack(t *testing.T) {
	runner := newMockRunner()
	runner.Block["npm run build"] = true
	applier, cfg := newTestApplier(t, runner)
	applier.stepTimeout = 50 * time.Millisecond

	before := snapshotTree(t, cfg.InstallDir, cfg.Update.UpdateList)
	stagePending(t, cfg, map[string]string{"server.js": "// hangs on build"})

	res := applier.Apply(context.Background())

	if !res.RolledBack {
		t.Fatalf("Apply() = %+v, want rollback after timeout", res)
	}
	if res.Err == nil || !strings.Contains(res.Err.Error(), "timed out") {
		t.Errorf("Err = %v, want timeout", res.Err)
	}
	assertSameTree(t, snapshotTree(t, cfg.InstallDir, cfg.Update.UpdateList), before)
}

func TestApplyLockedByAnotherProcess(t *testing.T) {
	runner := newMockRunner()
	applier, cfg := newTestApplier(t, runner)
	stagePending(t, cfg, map[string]string{"server.js": "// v1.5.0"})

	other := NewApplyLock(cfg.InstallDir)
	ok, err := other.TryLock()
	if err != nil || !ok {
		t.Fatalf("TryLock() = %v, %v", ok, err)
	}
	defer func() { _ = other.Unlock() }()

	res := applier.Apply(context.Background())

	if !errors.Is(res.Err, ErrLocked) {
		t.Errorf("Err = %v, want ErrLocked", res.Err)
	}
	if _, err := os.Stat(cfg.InstallPath(PendingFileName)); err != nil {
		t.Error("pending record must be left for the lock holder")
	}
	if !applier.HasPending() {
		t.Error("HasPending() = false, want true")
	}
}

func TestApplyGitCheckoutWithLocalChanges(t *testing.T) {
	runner := newMockRunner()
	a, cfg := newTestApplier(t, runner)

	gitRunner := newMockRunner()
	a.WithGitChecker(git.NewCheckerWithRunner(gitRunner))
	stagePending(t, cfg, map[string]string{
		"package.json": `{"name":"taskdeck","version":"1.5.0"}`,
		"server.js":    "// v1.5.0",
	})

	res := a.Apply(context.Background())
	if !res.Applied {
		t.Fatalf("Apply() applied = false, err = %v", res.Err)
	}

	want := "git status --porcelain -- " + strings.Join(cfg.Update.UpdateList, " ")
	found := false
	for _, cmd := range gitRunner.Commands {
		if cmd == want {
			found = true
		}
	}
	if !found {
		t.Errorf("git commands = %v, want %q", gitRunner.Commands, want)
	}
	for _, cmd := range runner.Commands {
		if strings.HasPrefix(cmd, "git ") {
			t.Errorf("git command %q ran through the step runner", cmd)
		}
	}
}

// markerCheckingRunner records whether the pending record is on disk when
// each step runs.
type markerCheckingRunner struct {
	*MockCommandRunner
	pendingPath    string
	pendingAtBuild bool
}

func (r *markerCheckingRunner) RunInDir(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	if name+" "+strings.Join(args, " ") == "npm run build" {
		_, err := os.Stat(r.pendingPath)
		r.pendingAtBuild = err == nil
	}
	return r.MockCommandRunner.RunInDir(ctx, dir, name, args...)
}

func TestApplyConsumesPendingBeforeWork(t *testing.T) {
	mock := newMockRunner()
	mock.Errors["npm run build"] = errors.New("killed")
	runner := &markerCheckingRunner{MockCommandRunner: mock}
	applier, cfg := newTestApplier(t, runner)
	runner.pendingPath = cfg.InstallPath(PendingFileName)

	stagePending(t, cfg, map[string]string{
		"server.js":    "// server v1.5.0 broken",
		"package.json": `{"version":"1.5.0"}`,
	})

	applier.Apply(context.Background())
	if runner.pendingAtBuild {
		t.Error("pending record still on disk while the build runs")
	}

	// A process killed mid-apply restarts with no record, so the next boot
	// leaves the tree and the backup alone.
	again := applier.Apply(context.Background())
	if len(again.Transitions) != 0 || again.Err != nil {
		t.Errorf("second Apply() = %+v, want no attempt", again)
	}
}

func TestApplyRollbackRestoresFilesOutsideUpdateList(t *testing.T) {
	runner := newMockRunner()
	runner.Errors["npm run build"] = errors.New("exit status 1")
	applier, cfg := newTestApplier(t, runner)
	writeFiles(t, cfg.InstallDir, map[string]string{"README.md": "readme v1.4.0"})

	stagePending(t, cfg, map[string]string{
		"server.js":  "// server v1.5.0 broken",
		"README.md":  "readme v1.5.0",
		"Dockerfile": "FROM node:22",
	})

	res := applier.Apply(context.Background())
	if !res.RolledBack {
		t.Fatalf("Apply() = %+v, want rolled back", res)
	}

	data, err := os.ReadFile(cfg.InstallPath("README.md"))
	if err != nil || string(data) != "readme v1.4.0" {
		t.Errorf("README.md = %q, %v, want readme v1.4.0", data, err)
	}
	if _, err := os.Stat(cfg.InstallPath("Dockerfile")); !os.IsNotExist(err) {
		t.Error("Dockerfile was added by the failed update and should be removed")
	}
	data, err = os.ReadFile(cfg.InstallPath("server.js"))
	if err != nil || string(data) != "// server v1.4.0" {
		t.Errorf("server.js = %q, %v, want v1.4.0", data, err)
	}
}
