package cmd

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	outputFormat string
	configPath   string
	installDir   string
	verbose      bool
	quiet        bool

	// Build information
	appVersion = "dev"
	appCommit  = "none"
	appDate    = "unknown"
)

func Execute(version, commit, date string) error {
	appVersion, appCommit, appDate = version, commit, date

	rootCmd := &cobra.Command{
		Use:   "taskdeck",
		Short: "Self-hosted kanban and Gantt task tracker",
		Long: `taskdeck serves the task tracker web client and its data, and keeps
itself up to date from the project's GitHub releases.

Updates are downloaded while the server runs and applied on the next start,
with a backup that is restored if the new version fails to build.`,
		Version:      version,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "Output format: text, json, yaml, toml")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to settings file")
	rootCmd.PersistentFlags().StringVar(&installDir, "dir", "", "Install directory (default: directory of the executable)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Quiet mode (errors only)")

	// Add subcommands
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newUpdateCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newCompletionCmd())

	// Register completion function for output flag
	_ = rootCmd.RegisterFlagCompletionFunc("output", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"text", "json", "yaml", "toml"}, cobra.ShellCompDirectiveNoFileComp
	})

	return rootCmd.Execute()
}
