// Package git inspects an install directory that is a git checkout, so local
// edits to application files are reported before an update overwrites them.
package git

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Level represents the severity of a git status.
type Level string

const (
	LevelOK      Level = "ok"      // Clean, or not a checkout
	LevelInfo    Level = "info"    // Ahead or behind remote
	LevelWarning Level = "warning" // Local changes to application files
	LevelError   Level = "error"   // Git operation failed
)

// Status represents the git status of an install directory.
type Status struct {
	Path          string   // Install directory
	IsGitRepo     bool     // Whether the directory is a git checkout
	CurrentBranch string   // Current branch name
	Commit        string   // Short HEAD commit
	Modified      []string // Changed or untracked application paths
	Ahead         int      // Commits ahead of the upstream branch
	Behind        int      // Commits behind the upstream branch
	Remote        string   // Upstream branch (e.g., "origin/main")
	Level         Level    // Overall severity level
	Message       string   // Human-readable status message
	Error         error    // Non-fatal error if any
}

// CommandRunner is an interface for running external commands.
// This allows for mocking in tests.
type CommandRunner interface {
	RunInDir(ctx context.Context, dir, name string, args ...string) ([]byte, error)
}

// DefaultCommandRunner uses os/exec to run commands.
type DefaultCommandRunner struct{}

// RunInDir executes a command in the specified directory.
func (r *DefaultCommandRunner) RunInDir(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// Checker checks git status for install directories.
type Checker struct {
	runner  CommandRunner
	timeout time.Duration
}

// NewChecker creates a new Checker with the default command runner.
func NewChecker() *Checker {
	return NewCheckerWithRunner(&DefaultCommandRunner{})
}

// NewCheckerWithRunner creates a Checker with a custom command runner (for testing).
func NewCheckerWithRunner(runner CommandRunner) *Checker {
	return &Checker{runner: runner, timeout: 10 * time.Second}
}

// GitAvailable checks if git is available on the system.
func (c *Checker) GitAvailable(ctx context.Context) bool {
	_, err := c.runner.RunInDir(ctx, "", "git", "--version")
	return err == nil
}

// CheckInstall reports whether dir is a git checkout and which of paths have
// local modifications. Ahead/behind counts use the last fetched state; the
// remote is never contacted.
func (c *Checker) CheckInstall(ctx context.Context, dir string, paths []string) Status {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	status := Status{Path: dir}

	// Check if it's a git repository
	if !c.isGitRepo(ctx, dir) {
		status.Level = LevelOK
		status.Message = "not a git repository"
		return status
	}
	status.IsGitRepo = true

	branch, err := c.getCurrentBranch(ctx, dir)
	if err != nil {
		status.Level = LevelError
		status.Error = err
		status.Message = fmt.Sprintf("failed to get current branch: %v", err)
		return status
	}
	status.CurrentBranch = branch

	if commit, err := c.getCommit(ctx, dir); err == nil {
		status.Commit = commit
	}

	modified, err := c.getModified(ctx, dir, paths)
	if err != nil {
		status.Level = LevelError
		status.Error = err
		status.Message = fmt.Sprintf("failed to check working tree: %v", err)
		return status
	}
	status.Modified = modified

	// Local changes are the highest priority warning
	if len(modified) > 0 {
		status.Level = LevelWarning
		status.Message = fmt.Sprintf("%d local changes to application files will be overwritten", len(modified))
		return status
	}

	remote, err := c.getRemoteTrackingBranch(ctx, dir)
	if err != nil {
		status.Level = LevelOK
		status.Message = "clean (no remote tracking branch)"
		return status
	}
	status.Remote = remote

	ahead, behind, err := c.getAheadBehind(ctx, dir, remote)
	if err != nil {
		status.Level = LevelOK
		status.Message = "clean"
		return status
	}
	status.Ahead = ahead
	status.Behind = behind

	if ahead > 0 {
		status.Level = LevelInfo
		status.Message = fmt.Sprintf("%d local commits ahead of %s will be overwritten by the release files", ahead, remote)
	} else {
		status.Level = LevelOK
		status.Message = "clean"
	}
	return status
}

// isGitRepo checks if the path is a git repository.
func (c *Checker) isGitRepo(ctx context.Context, path string) bool {
	output, err := c.runner.RunInDir(ctx, path, "git", "rev-parse", "--git-dir")
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(output)) != ""
}

// getCurrentBranch returns the current branch name.
func (c *Checker) getCurrentBranch(ctx context.Context, path string) (string, error) {
	output, err := c.runner.RunInDir(ctx, path, "git", "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("git rev-parse failed: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

func (c *Checker) getCommit(ctx context.Context, path string) (string, error) {
	output, err := c.runner.RunInDir(ctx, path, "git", "rev-parse", "--short", "HEAD")
	if err != nil {
		return "", fmt.Errorf("git rev-parse failed: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// getModified lists changed or untracked entries under paths.
func (c *Checker) getModified(ctx context.Context, path string, paths []string) ([]string, error) {
	args := append([]string{"status", "--porcelain", "--"}, paths...)
	output, err := c.runner.RunInDir(ctx, path, "git", args...)
	if err != nil {
		return nil, fmt.Errorf("git status failed: %w", err)
	}
	return parsePorcelain(string(output)), nil
}

// parsePorcelain extracts paths from `git status --porcelain` output.
// Renames report the new path.
func parsePorcelain(output string) []string {
	var paths []string
	for _, line := range strings.Split(output, "\n") {
		if len(line) < 4 {
			continue
		}
		p := line[3:]
		if _, after, ok := strings.Cut(p, " -> "); ok {
			p = after
		}
		paths = append(paths, strings.Trim(p, `"`))
	}
	return paths
}

// getRemoteTrackingBranch returns the remote tracking branch (e.g., "origin/main").
func (c *Checker) getRemoteTrackingBranch(ctx context.Context, path string) (string, error) {
	output, err := c.runner.RunInDir(ctx, path, "git", "rev-parse", "--abbrev-ref", "--symbolic-full-name", "@{u}")
	if err != nil {
		return "", fmt.Errorf("no remote tracking branch")
	}
	return strings.TrimSpace(string(output)), nil
}

// getAheadBehind returns the number of commits ahead and behind the remote.
func (c *Checker) getAheadBehind(ctx context.Context, path, remote string) (ahead, behind int, err error) {
	output, err := c.runner.RunInDir(ctx, path, "git", "rev-list", "--left-right", "--count", "HEAD..."+remote)
	if err != nil {
		return 0, 0, fmt.Errorf("git rev-list failed: %w", err)
	}

	parts := strings.Fields(strings.TrimSpace(string(output)))
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("unexpected output format: %s", output)
	}

	ahead, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid ahead count: %w", err)
	}

	behind, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid behind count: %w", err)
	}

	return ahead, behind, nil
}
