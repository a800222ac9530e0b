package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/taskdeck/taskdeck/internal/config"
	"github.com/taskdeck/taskdeck/internal/interactive"
	"github.com/taskdeck/taskdeck/internal/output"
	"github.com/taskdeck/taskdeck/internal/types"
	"github.com/taskdeck/taskdeck/internal/update"
)

func newUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Check for, download and apply taskdeck updates",
		Long: `Manage taskdeck self-updates from the command line.

Examples:
  taskdeck update check            # Compare the installed version with the latest release
  taskdeck update download         # Download the latest release for the next start
  taskdeck update apply --yes      # Apply a downloaded update now (server stopped)
  taskdeck update status           # Show whether an update was just applied
  taskdeck update clear            # Dismiss the update notice`,
	}

	cmd.AddCommand(newUpdateCheckCmd())
	cmd.AddCommand(newUpdateDownloadCmd())
	cmd.AddCommand(newUpdateApplyCmd())
	cmd.AddCommand(newUpdateStatusCmd())
	cmd.AddCommand(newUpdateClearCmd())

	return cmd
}

func newUpdateCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check whether a newer release is available",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer func() { _ = e.close() }()

			checker := update.NewCheckerFromConfig(e.cfg, e.currentVersion())
			return runUpdateCheck(cmd.Context(), e.out, checker)
		},
	}
}

func newUpdateDownloadCmd() *cobra.Command {
	var req update.DownloadRequest

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download a release archive to apply on the next start",
		Long: `Download fetches a release archive into the install directory and leaves
a pending update record behind. The update is applied the next time
'taskdeck serve' starts, or immediately with 'taskdeck update apply'.

Without --url the latest release is resolved first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer func() { _ = e.close() }()

			checker := update.NewCheckerFromConfig(e.cfg, e.currentVersion())
			downloader := update.NewDownloaderFromConfig(e.cfg, nil)
			var progress *interactive.ProgressLine
			if !quiet {
				progress = interactive.NewProgressLine()
			}
			return runUpdateDownload(cmd.Context(), e.out, checker, downloader, req, progress)
		},
	}

	cmd.Flags().StringVar(&req.URL, "url", "", "Archive URL (must belong to the release repository)")
	cmd.Flags().StringVar(&req.Version, "version", "", "Version of the archive given with --url")
	cmd.Flags().StringVar(&req.CommitSHA, "commit", "", "Commit of the archive given with --url")

	return cmd
}

func newUpdateApplyCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply a downloaded update now",
		Long: `Apply runs the same backup, replace, reinstall and build sequence that
'taskdeck serve' runs at startup. Stop the server first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer func() { _ = e.close() }()

			var prompter *interactive.Prompter
			if !yes {
				if !interactive.IsTerminal() {
					return fmt.Errorf("refusing to apply without --yes when stdin is not a terminal")
				}
				prompter = interactive.NewPrompterWithIO(cmd.InOrStdin(), cmd.OutOrStdout())
			}

			applier := update.NewApplier(e.cfg, e.logger)
			return runUpdateApply(cmd.Context(), e.out, e.cfg, applier, prompter)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Apply without asking for confirmation")

	return cmd
}

func newUpdateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether an update was applied or is waiting",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer func() { _ = e.close() }()

			return runUpdateStatus(e.out, update.NewNotifier(e.cfg.InstallDir))
		},
	}
}

func newUpdateClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Clear the applied-update notice",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer func() { _ = e.close() }()

			return runUpdateClear(cmd.OutOrStdout(), update.NewNotifier(e.cfg.InstallDir), e.logger)
		},
	}
}

// releaseView renders a release descriptor for text output.
type releaseView struct {
	*update.ReleaseDescriptor
}

func (v releaseView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current version: %s\n", v.CurrentVersion)
	switch {
	case v.NoReleasesAvailable:
		b.WriteString("No releases published yet")
	case !v.HasUpdate:
		fmt.Fprintf(&b, "Latest version: %s\nAlready running latest version", v.LatestVersion)
	default:
		fmt.Fprintf(&b, "Latest version: %s available\n", v.LatestVersion)
		if v.ReleaseName != "" {
			fmt.Fprintf(&b, "Release: %s\n", v.ReleaseName)
		}
		if v.ReleaseNotes != "" {
			fmt.Fprintf(&b, "\nRelease notes:\n%s\n", strings.TrimSpace(v.ReleaseNotes))
		}
		b.WriteString("\nRun 'taskdeck update download' to fetch it")
	}
	return b.String()
}

func runUpdateCheck(ctx context.Context, out *output.Writer, checker update.Checker) error {
	desc, err := checker.Check(ctx)
	if err != nil {
		var rateErr *update.RateLimitError
		if errors.As(err, &rateErr) {
			return fmt.Errorf("GitHub API rate limit exceeded, retry after %s", rateErr.Reset.Format("15:04:05"))
		}
		return fmt.Errorf("failed to check for updates: %w", err)
	}
	if out.Format() == output.FormatText {
		return out.Write(releaseView{desc})
	}
	return out.Write(desc)
}

// pendingView renders a pending record for text output.
type pendingView struct {
	*update.PendingUpdateRecord
}

func (v pendingView) String() string {
	return fmt.Sprintf("Downloaded %s to %s\nIt will be applied the next time taskdeck starts", v.Version, v.ArchivePath)
}

func runUpdateDownload(ctx context.Context, out *output.Writer, checker update.Checker, downloader update.Downloader, req update.DownloadRequest, progress *interactive.ProgressLine) error {
	if req.URL == "" {
		desc, err := checker.Check(ctx)
		if err != nil {
			return fmt.Errorf("failed to check for updates: %w", err)
		}
		if !desc.HasUpdate {
			return out.Write(releaseView{desc})
		}
		req = update.DownloadRequest{URL: desc.DownloadURL, Version: desc.LatestVersion, CommitSHA: desc.CommitSHA}
	} else if req.Version == "" {
		return fmt.Errorf("--version is required with --url")
	}

	var onProgress update.ProgressFunc
	if progress != nil {
		onProgress = func(p update.TransferProgress) {
			if p.Status == types.TransferDownloading {
				progress.Update(p.Version, p.Progress, p.DownloadedBytes, p.TotalBytes)
			}
		}
	}

	rec, err := downloader.Download(ctx, req, onProgress)
	if progress != nil {
		progress.Done()
	}
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}

	if out.Format() == output.FormatText {
		return out.Write(pendingView{rec})
	}
	return out.Write(rec)
}

// applyView renders an apply result.
type applyView struct {
	*update.ApplyResult
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

func (v applyView) String() string {
	steps := make([]string, len(v.Transitions))
	for i, s := range v.Transitions {
		steps[i] = s.String()
	}

	var b strings.Builder
	switch {
	case v.Applied:
		fmt.Fprintf(&b, "✓ Updated to %s", v.Version)
	case v.RolledBack:
		fmt.Fprintf(&b, "✗ Update to %s failed and was rolled back: %s", v.Version, v.Error)
	case v.Error != "":
		fmt.Fprintf(&b, "✗ Update failed: %s", v.Error)
	default:
		b.WriteString("No pending update")
	}
	if len(steps) > 0 {
		fmt.Fprintf(&b, "\n  %s", strings.Join(steps, " → "))
	}
	return b.String()
}

// runUpdateApply applies the pending update. A nil prompter applies without
// asking.
func runUpdateApply(ctx context.Context, out *output.Writer, cfg *config.Config, applier *update.Applier, prompter *interactive.Prompter) error {
	if !applier.HasPending() {
		return out.Write(applyView{ApplyResult: &update.ApplyResult{FinalState: types.StateIdle, Transitions: []types.State{}}})
	}

	if prompter != nil {
		version := "unknown"
		if rec, err := update.NewMarkerStore(cfg.InstallDir).ReadPending(); err == nil {
			version = rec.Version
		}
		plan := interactive.ApplyPlan{
			Version:      version,
			InstallDir:   cfg.InstallDir,
			UpdateList:   cfg.Update.UpdateList,
			PreserveList: cfg.Update.PreserveList,
			Install:      cfg.Update.InstallCommand,
			Build:        cfg.Update.BuildCommand,
		}
		if !prompter.ConfirmApply(plan) {
			return nil
		}
	}

	res := applier.Apply(ctx)
	view := applyView{ApplyResult: res}
	if res.Err != nil {
		view.Error = res.Err.Error()
	}
	if err := out.Write(view); err != nil {
		return err
	}
	if res.Err != nil && !res.Applied {
		return fmt.Errorf("update was not applied")
	}
	return nil
}

// statusView renders the notifier status.
type statusView struct {
	*update.UpdateStatus
}

func (v statusView) String() string {
	var lines []string
	if v.Pending {
		applied := ""
		if v.AppliedAt != nil {
			applied = " at " + v.AppliedAt.Local().Format("2006-01-02 15:04")
		}
		lines = append(lines, fmt.Sprintf("Updated to %s%s", v.Version, applied))
	}
	if v.DownloadedVersion != "" {
		lines = append(lines, fmt.Sprintf("Version %s is downloaded and will be applied on the next start", v.DownloadedVersion))
	}
	if len(lines) == 0 {
		return "No recent update"
	}
	return strings.Join(lines, "\n")
}

func runUpdateStatus(out *output.Writer, notifier *update.Notifier) error {
	status, err := notifier.Status()
	if err != nil {
		return fmt.Errorf("failed to read update status: %w", err)
	}
	if out.Format() == output.FormatText {
		return out.Write(statusView{status})
	}
	return out.Write(status)
}

func runUpdateClear(w io.Writer, notifier *update.Notifier, logger *slog.Logger) error {
	if err := notifier.Clear(); err != nil {
		return fmt.Errorf("failed to clear update status: %w", err)
	}
	logger.Debug("cleared update notice")
	if !quiet {
		_, _ = fmt.Fprintln(w, "Update notice cleared")
	}
	return nil
}
