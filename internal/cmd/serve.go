package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/taskdeck/taskdeck/internal/config"
	"github.com/taskdeck/taskdeck/internal/server"
	"github.com/taskdeck/taskdeck/internal/store"
	"github.com/taskdeck/taskdeck/internal/update"
)

func newServeCmd() *cobra.Command {
	var skipApply bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Apply any pending update, then serve the web client and API",
		Long: `Serve starts the taskdeck HTTP server.

Before the listener binds, a pending update left by a previous download is
applied: the application files are backed up, replaced from the downloaded
archive, reinstalled and rebuilt. If the build fails the backup is restored
and the server starts on the previous version.

When an update is accepted through the API the server shuts down gracefully
so a process supervisor can restart it into the new version.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer func() { _ = e.close() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServe(ctx, e.cfg, e.logger, e.currentVersion(), skipApply)
		},
	}

	cmd.Flags().BoolVar(&skipApply, "skip-apply", false, "Start without applying a pending update")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger, currentVersion string, skipApply bool) error {
	if verbose {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// 1. Apply a pending update before anything reads the file tree.
	if !skipApply {
		currentVersion = applyAtBoot(ctx, cfg, logger, update.NewApplier(cfg, logger), currentVersion)
	}

	// 2. Wire the update subsystem and data store.
	progress := update.NewProgressStore()
	downloader := update.NewDownloaderFromConfig(cfg, progress)
	deps := server.Deps{
		Version:   currentVersion,
		Checker:   update.NewCheckerFromConfig(cfg, currentVersion),
		Downloads: update.NewManager(downloader, logger),
		Progress:  progress,
		Markers:   update.NewMarkerStore(cfg.InstallDir),
		Notifier:  update.NewNotifier(cfg.InstallDir),
		Store:     store.New(cfg.InstallDir),
	}

	// 3. Serve until a signal or an accepted apply-and-restart.
	logger.Info("starting taskdeck", "version", currentVersion, "repository", cfg.Repository.Slug())
	restarting, err := server.New(cfg, logger, deps).Run(ctx)
	if err != nil {
		return err
	}
	if restarting {
		logger.Info("exiting so the supervisor restarts into the update")
	}
	return nil
}

// applyAtBoot runs the applier and returns the version the server reports
// afterwards.
func applyAtBoot(ctx context.Context, cfg *config.Config, logger *slog.Logger, applier *update.Applier, currentVersion string) string {
	res := applier.Apply(ctx)
	switch {
	case res.Applied:
		return cfg.ResolveCurrentVersion(res.Version)
	case errors.Is(res.Err, update.ErrLocked):
		logger.Warn("skipping update, another process holds the apply lock")
	}
	return currentVersion
}
