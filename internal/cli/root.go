package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "momentum",
	Short: "Schedule coding agents across dependency-staged tasks",
	Long: `momentum farms a set of coding tasks out to isolated subprocess agents
running in per-task git worktrees, runs gated QA checks on each, and merges
successful results back to a target branch with automatic conflict
detection and AI-assisted resolution.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "path", "p", "momentum.yaml", "Path to momentum config file")
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("momentum %s\n", Version)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
