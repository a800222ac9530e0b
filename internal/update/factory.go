package update

import (
	"github.com/taskdeck/taskdeck/internal/config"
)

// NewCheckerFromConfig builds the release resolver for the configured repository.
func NewCheckerFromConfig(cfg *config.Config, currentVersion string) *GitHubChecker {
	return NewGitHubChecker(currentVersion, cfg.Repository.Owner, cfg.Repository.Name).
		WithToken(cfg.Repository.Token).
		WithBaseURL(cfg.Repository.APIBaseURL)
}

// NewDownloaderFromConfig builds the archive fetcher for the configured
// repository and install directory.
func NewDownloaderFromConfig(cfg *config.Config, progress *ProgressStore) *HTTPDownloader {
	return NewHTTPDownloader(cfg.InstallDir, cfg.Repository.Owner, cfg.Repository.Name, progress).
		WithProgressGrace(cfg.Update.ProgressGrace.Duration)
}
