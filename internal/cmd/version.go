package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/taskdeck/taskdeck/internal/output"
)

// versionInfo is the build information printed by the version command.
type versionInfo struct {
	Version   string `json:"version" yaml:"version" toml:"version"`
	Commit    string `json:"commit" yaml:"commit" toml:"commit"`
	Date      string `json:"date" yaml:"date" toml:"date"`
	GoVersion string `json:"goVersion" yaml:"go_version" toml:"go_version"`
	Installed string `json:"installed,omitempty" yaml:"installed,omitempty" toml:"installed,omitempty"`
}

func (v versionInfo) String() string {
	s := fmt.Sprintf("taskdeck version %s (commit %s, built %s, %s)", v.Version, v.Commit, v.Date, v.GoVersion)
	if v.Installed != "" && v.Installed != v.Version {
		s += fmt.Sprintf("\ninstalled application version %s", v.Installed)
	}
	return s
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long: `Display the taskdeck build version and, when run inside an install
directory, the installed application version.

Use 'taskdeck update check' to look for a newer release.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := output.ParseFormat(outputFormat)
			if err != nil {
				return err
			}
			info := versionInfo{
				Version:   appVersion,
				Commit:    appCommit,
				Date:      appDate,
				GoVersion: runtime.Version(),
			}
			// A missing or broken settings file should not break version output.
			if e, err := loadEnv(cmd.OutOrStdout()); err == nil {
				info.Installed = e.currentVersion()
				_ = e.close()
			}
			return output.NewWriter(cmd.OutOrStdout(), format).Write(info)
		},
	}
}
