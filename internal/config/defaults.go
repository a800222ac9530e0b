package config

import "time"

// Default values for a fresh install.
const (
	DefaultHost         = "0.0.0.0"
	DefaultPort         = 4173
	DefaultDistDir      = "dist"
	DefaultMaxBodyBytes = 10 << 20
	DefaultOwner        = "taskdeck"
	DefaultRepo         = "taskdeck"
	DefaultAPIBaseURL   = "https://api.github.com"
	DefaultManifest     = "package.json"
)

// DefaultUpdateList is the application code and assets subject to backup and replacement.
var DefaultUpdateList = []string{
	"server.js",
	"package.json",
	"package-lock.json",
	"dist",
	"src",
	"public",
	"index.html",
	"vite.config.js",
	"locales",
	"electron",
	"middleware",
	"utils",
	"scripts",
}

// DefaultPreserveList is never deleted or overwritten when an update is applied.
var DefaultPreserveList = []string{
	"data",
	"config.json",
	"taskdeck.yaml",
	"taskdeck.yml",
	"taskdeck.toml",
	"taskdeck.json",
	"taskdeck",
	".env",
	"node_modules",
	"logs",
	".update-temp",
	".update-extract",
	".update-backup",
	".pending-update.json",
	".update-completed.json",
	".update.lock",
	".git",
}

// Default returns the configuration used when no settings file exists.
func Default(installDir string) *Config {
	return &Config{
		InstallDir: installDir,
		Server: ServerConfig{
			Host:            DefaultHost,
			Port:            DefaultPort,
			DistDir:         DefaultDistDir,
			MaxBodyBytes:    DefaultMaxBodyBytes,
			ShutdownTimeout: Duration{10 * time.Second},
		},
		Repository: RepositoryConfig{
			Owner:      DefaultOwner,
			Name:       DefaultRepo,
			APIBaseURL: DefaultAPIBaseURL,
		},
		Update: UpdateConfig{
			Manifest:         DefaultManifest,
			EntryPoints:      []string{"server.js", "index.html"},
			UpdateList:       append([]string(nil), DefaultUpdateList...),
			PreserveList:     append([]string(nil), DefaultPreserveList...),
			InstallCommand:   "npm install",
			BuildCommand:     "npm run build",
			StepTimeout:      Duration{10 * time.Minute},
			ProgressInterval: Duration{500 * time.Millisecond},
			ProgressGrace:    Duration{5 * time.Second},
			RestartDelay:     Duration{time.Second},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
