package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/taskdeck/taskdeck/internal/git"
	"github.com/taskdeck/taskdeck/internal/output"
	"github.com/taskdeck/taskdeck/internal/update"
)

// installStatus summarizes an install directory.
type installStatus struct {
	InstallDir string               `json:"installDir" yaml:"install_dir" toml:"install_dir"`
	Version    string               `json:"version" yaml:"version" toml:"version"`
	Update     *update.UpdateStatus `json:"update" yaml:"update" toml:"update"`
	Git        *gitView             `json:"git,omitempty" yaml:"git,omitempty" toml:"git,omitempty"`
}

// gitView is the serializable part of git.Status.
type gitView struct {
	Branch   string    `json:"branch" yaml:"branch" toml:"branch"`
	Commit   string    `json:"commit" yaml:"commit" toml:"commit"`
	Modified []string  `json:"modified,omitempty" yaml:"modified,omitempty" toml:"modified,omitempty"`
	Ahead    int       `json:"ahead" yaml:"ahead" toml:"ahead"`
	Behind   int       `json:"behind" yaml:"behind" toml:"behind"`
	Level    git.Level `json:"level" yaml:"level" toml:"level"`
	Message  string    `json:"message" yaml:"message" toml:"message"`
}

func (s installStatus) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Install:  %s\n", s.InstallDir)
	fmt.Fprintf(&b, "Version:  %s\n", s.Version)
	if s.Git != nil {
		fmt.Fprintf(&b, "Checkout: %s@%s (%s)\n", s.Git.Branch, s.Git.Commit, s.Git.Message)
		for _, p := range s.Git.Modified {
			fmt.Fprintf(&b, "  ~ %s\n", p)
		}
	}
	b.WriteString(statusView{s.Update}.String())
	return b.String()
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show install status summary",
		Long: `Status shows the installed version, any downloaded or recently applied
update, and local changes when the install directory is a git checkout.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer func() { _ = e.close() }()

			return runStatus(cmd.Context(), e.out, e, git.NewChecker())
		},
	}
}

func runStatus(ctx context.Context, out *output.Writer, e *env, checker *git.Checker) error {
	upd, err := update.NewNotifier(e.cfg.InstallDir).Status()
	if err != nil {
		return fmt.Errorf("failed to read update status: %w", err)
	}

	status := installStatus{
		InstallDir: e.cfg.InstallDir,
		Version:    e.currentVersion(),
		Update:     upd,
	}

	gs := checker.CheckInstall(ctx, e.cfg.InstallDir, e.cfg.Update.UpdateList)
	if gs.IsGitRepo {
		status.Git = &gitView{
			Branch:   gs.CurrentBranch,
			Commit:   gs.Commit,
			Modified: gs.Modified,
			Ahead:    gs.Ahead,
			Behind:   gs.Behind,
			Level:    gs.Level,
			Message:  gs.Message,
		}
	}
	return out.Write(status)
}
