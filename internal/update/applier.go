package update

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/taskdeck/taskdeck/internal/backup"
	"github.com/taskdeck/taskdeck/internal/config"
	"github.com/taskdeck/taskdeck/internal/git"
	"github.com/taskdeck/taskdeck/internal/types"
)

// workingNames are never replaced, whatever the configured preserve-list says.
var workingNames = []string{
	PendingFileName, CompletedFileName, LockFileName,
	TempDirName, ExtractDirName, BackupDirName,
}

// ApplyResult reports what one boot-time apply attempt did.
type ApplyResult struct {
	Attempt     string        `json:"attempt" yaml:"attempt"`
	FinalState  types.State   `json:"finalState" yaml:"final_state"`
	Version     string        `json:"version,omitempty" yaml:"version,omitempty"`
	Applied     bool          `json:"applied" yaml:"applied"`
	RolledBack  bool          `json:"rolledBack" yaml:"rolled_back"`
	Err         error         `json:"-" yaml:"-"`
	Transitions []types.State `json:"transitions" yaml:"transitions"`
}

// Applier installs a downloaded update into the install directory. It runs
// once at boot, before the HTTP listener binds.
type Applier struct {
	installDir   string
	manifest     string
	entryPoints  []string
	updateList   []string
	preserveList []string
	installArgs  []string
	buildArgs    []string
	stepTimeout  time.Duration

	runner  CommandRunner
	git     *git.Checker
	markers *MarkerStore
	backups *backup.Manager
	lock    *ApplyLock
	logger  *slog.Logger
	now     func() time.Time
}

// NewApplier creates an applier using the default command runner.
func NewApplier(cfg *config.Config, logger *slog.Logger) *Applier {
	return NewApplierWithRunner(cfg, logger, &DefaultCommandRunner{})
}

// NewApplierWithRunner creates an applier with a custom command runner (for testing).
func NewApplierWithRunner(cfg *config.Config, logger *slog.Logger, runner CommandRunner) *Applier {
	if logger == nil {
		logger = slog.Default()
	}
	dir := cfg.InstallDir
	return &Applier{
		installDir:   dir,
		manifest:     cfg.Update.Manifest,
		entryPoints:  cfg.Update.EntryPoints,
		updateList:   cfg.Update.UpdateList,
		preserveList: append(slices.Clone(cfg.Update.PreserveList), workingNames...),
		installArgs:  cfg.Update.InstallArgs(),
		buildArgs:    cfg.Update.BuildArgs(),
		stepTimeout:  cfg.Update.StepTimeout.Duration,
		runner:       runner,
		git:          git.NewChecker(),
		markers:      NewMarkerStore(dir),
		backups:      backup.NewManager(dir, filepath.Join(dir, BackupDirName)),
		lock:         NewApplyLock(dir),
		logger:       logger.With("component", "updater"),
		now:          time.Now,
	}
}

// WithGitChecker sets the checker used to inspect a git checkout install.
func (a *Applier) WithGitChecker(checker *git.Checker) *Applier {
	a.git = checker
	return a
}

// HasPending reports whether a pending update record exists, parsed or not.
func (a *Applier) HasPending() bool {
	_, err := os.Stat(a.markers.PendingPath())
	return err == nil
}

// Apply consumes the pending update record, if any. The record is deleted as
// soon as the update is detected, before anything is touched, so an apply that
// fails or is killed part way is never attempted again for the same download.
func (a *Applier) Apply(ctx context.Context) *ApplyResult {
	res := &ApplyResult{
		Attempt:     uuid.NewString(),
		FinalState:  types.StateIdle,
		Transitions: []types.State{},
	}
	log := a.logger.With("attempt", res.Attempt)

	locked, err := a.lock.TryLock()
	if err != nil {
		log.Error("failed to acquire update lock", "error", err)
		res.Err = err
		return res
	}
	if !locked {
		log.Warn("skipping update, lock held by another process")
		res.Err = ErrLocked
		return res
	}
	defer func() {
		if err := a.lock.Unlock(); err != nil {
			log.Warn("failed to release update lock", "error", err)
		}
	}()

	rec, err := a.markers.ReadPending()
	if errors.Is(err, ErrNoPendingUpdate) {
		return res
	}
	if err != nil {
		log.Warn("discarding unreadable pending update", "error", err)
		a.deletePending(log)
		res.Err = err
		return res
	}
	if _, err := os.Stat(rec.ArchivePath); err != nil {
		log.Warn("discarding pending update, archive missing", "version", rec.Version, "archive", rec.ArchivePath)
		a.deletePending(log)
		res.Err = fmt.Errorf("archive for %s not found: %w", rec.Version, err)
		return res
	}

	res.Version = rec.Version
	log = log.With("version", rec.Version)
	a.transition(res, log, types.StateDetected)
	a.deletePending(log)
	a.warnLocalChanges(ctx, log)

	defer a.removeArchive(log, rec.ArchivePath)

	// 1. Back up. Nothing has been touched yet, so a failure just aborts.
	a.transition(res, log, types.StateBackingUp)
	snap, err := a.backups.Create(rec.Version, a.updateList)
	if err != nil {
		res.Err = &StepError{State: types.StateBackingUp, Err: err}
		log.Error("backup failed, update aborted", "error", err)
		if err := a.backups.Discard(); err != nil {
			log.Warn("failed to remove partial backup", "error", err)
		}
		a.transition(res, log, types.StateIdle)
		return res
	}
	log.Info("backup created", "backup_id", snap.ID, "paths", len(snap.Paths))

	// 2. Extract.
	a.transition(res, log, types.StateExtracting)
	root, err := a.extract(rec.ArchivePath)
	if err != nil {
		return a.rollback(res, log, snap, &StepError{State: types.StateExtracting, Err: err})
	}

	// 3. Replace. From here on a failure means rolling back.
	a.transition(res, log, types.StateReplacing)
	replaced, err := a.replace(log, root, snap)
	if err != nil {
		return a.rollback(res, log, snap, &StepError{State: types.StateReplacing, Err: err})
	}

	// 4. Reinstall dependencies. Failure is logged and the update continues.
	a.transition(res, log, types.StateReinstalling)
	if slices.Contains(replaced, a.manifest) {
		if err := a.runStep(ctx, log, types.StateReinstalling, a.installArgs); err != nil {
			log.Warn("dependency install failed, continuing", "error", err)
		}
	} else {
		log.Info("manifest unchanged, skipping dependency install")
	}

	// 5. Build. Failure rolls back.
	a.transition(res, log, types.StateBuilding)
	if err := a.runStep(ctx, log, types.StateBuilding, a.buildArgs); err != nil {
		return a.rollback(res, log, snap, &StepError{State: types.StateBuilding, Err: err})
	}

	// 6. Done.
	a.transition(res, log, types.StateCompleted)
	completed := &CompletedUpdateRecord{Version: rec.Version, AppliedAt: a.now().UTC()}
	if err := a.markers.WriteCompleted(completed); err != nil {
		log.Error("failed to write completed update record", "error", err)
	}
	a.cleanup(log)
	res.Applied = true
	res.FinalState = types.StateCompleted
	log.Info("update applied")
	return res
}

// rollback copies the backup over the update-list. Errors are logged and
// swallowed; the backup is kept for manual recovery if any path failed.
func (a *Applier) rollback(res *ApplyResult, log *slog.Logger, snap *backup.Snapshot, cause error) *ApplyResult {
	log.Error("update failed, rolling back", "error", cause)
	res.Err = cause
	a.transition(res, log, types.StateRollingBack)

	errs := a.backups.Restore(snap)
	for _, err := range errs {
		log.Error("rollback step failed", "error", err)
	}

	if err := os.RemoveAll(a.extractDir()); err != nil {
		log.Warn("failed to remove extraction directory", "error", err)
	}
	if len(errs) == 0 {
		if err := a.backups.Discard(); err != nil {
			log.Warn("failed to remove backup", "error", err)
		}
		res.RolledBack = true
		log.Info("rollback complete")
	} else {
		log.Error("rollback incomplete, backup kept", "backup_dir", a.backups.Dir())
	}

	a.transition(res, log, types.StateIdle)
	return res
}

func (a *Applier) extract(archivePath string) (string, error) {
	dest := a.extractDir()
	if err := Extract(archivePath, dest); err != nil {
		return "", err
	}
	markers := append([]string{a.manifest}, a.entryPoints...)
	return ResolveSourceRoot(dest, markers)
}

// replace swaps every top-level entry of root into the install directory,
// skipping preserved names. Entries outside the update-list are added to the
// backup before they are overwritten. It returns the names that were replaced.
func (a *Applier) replace(log *slog.Logger, root string, snap *backup.Snapshot) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read source root: %w", err)
	}

	var replaced []string
	for _, entry := range entries {
		name := entry.Name()
		if slices.Contains(a.preserveList, name) {
			log.Debug("preserving", "path", name)
			continue
		}

		if err := a.backups.Add(snap, name); err != nil {
			return replaced, err
		}
		dst := filepath.Join(a.installDir, name)
		if err := os.RemoveAll(dst); err != nil {
			return replaced, fmt.Errorf("failed to remove %s: %w", name, err)
		}
		if err := backup.CopyPath(filepath.Join(root, name), dst); err != nil {
			return replaced, fmt.Errorf("failed to copy %s: %w", name, err)
		}
		replaced = append(replaced, name)
	}

	log.Info("files replaced", "count", len(replaced))
	return replaced, nil
}

// runStep runs an install or build command under the step timeout.
func (a *Applier) runStep(ctx context.Context, log *slog.Logger, state types.State, args []string) error {
	if len(args) == 0 {
		return nil
	}

	stepCtx := ctx
	if a.stepTimeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, a.stepTimeout)
		defer cancel()
	}

	start := time.Now()
	out, err := a.runner.RunInDir(stepCtx, a.installDir, args[0], args[1:]...)
	log.Debug("step output", "state", state, "output", string(out))
	if errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s timed out after %s", args[0], a.stepTimeout)
	}
	if err != nil {
		return fmt.Errorf("%s failed: %w", args[0], err)
	}
	log.Info("step finished", "state", state, "duration", time.Since(start).Round(time.Millisecond))
	return nil
}

// warnLocalChanges logs edits to application files in a git checkout
// install. The update proceeds regardless; the backup keeps the old files.
func (a *Applier) warnLocalChanges(ctx context.Context, log *slog.Logger) {
	if a.git == nil {
		return
	}
	st := a.git.CheckInstall(ctx, a.installDir, a.updateList)
	switch st.Level {
	case git.LevelWarning:
		log.Warn(st.Message, "branch", st.CurrentBranch, "commit", st.Commit, "paths", st.Modified)
	case git.LevelInfo:
		log.Info(st.Message, "branch", st.CurrentBranch)
	case git.LevelError:
		log.Debug("git status unavailable", "error", st.Error)
	}
}

func (a *Applier) transition(res *ApplyResult, log *slog.Logger, state types.State) {
	res.Transitions = append(res.Transitions, state)
	log.Info("update state", "state", state)
}

func (a *Applier) cleanup(log *slog.Logger) {
	if err := os.RemoveAll(a.extractDir()); err != nil {
		log.Warn("failed to remove extraction directory", "error", err)
	}
	if err := a.backups.Discard(); err != nil {
		log.Warn("failed to remove backup", "error", err)
	}
}

func (a *Applier) deletePending(log *slog.Logger) {
	if err := a.markers.DeletePending(); err != nil {
		log.Error("failed to delete pending update record", "error", err)
	}
}

// removeArchive deletes a consumed archive kept in the scratch directory.
func (a *Applier) removeArchive(log *slog.Logger, path string) {
	if filepath.Dir(path) != filepath.Join(a.installDir, TempDirName) {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn("failed to remove archive", "error", err)
	}
}

func (a *Applier) extractDir() string {
	return filepath.Join(a.installDir, ExtractDirName)
}
