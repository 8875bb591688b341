package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aren13/momentum/internal/worktree"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show live worktrees and merge outcomes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadAndValidateConfig(configPath); err != nil {
			return err
		}

		repoDir, err := resolveRepo(configPath)
		if err != nil {
			return err
		}

		wm := worktree.NewManager(repoDir)
		if err := wm.Initialize(); err != nil {
			return fmt.Errorf("initializing worktrees: %w", err)
		}

		return renderStatus(os.Stdout, wm)
	},
}

func renderStatus(w *os.File, wm *worktree.Manager) error {
	fmt.Fprintln(w, "Worktrees")
	fmt.Fprintln(w, "──────────────────────────────────────")

	live := wm.List()
	if len(live) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, wt := range live {
		fmt.Fprintf(w, "  %-20s  %s  (base: %s)\n", wt.Name, wt.Branch, wt.Base)
	}

	stats := wm.Stats
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Merges")
	fmt.Fprintln(w, "──────────────────────────────────────")
	fmt.Fprintf(w, "  total:    %d\n", stats.TotalMerges)
	fmt.Fprintf(w, "  auto:     %d\n", stats.AutoResolved)
	fmt.Fprintf(w, "  ai:       %d\n", stats.AIResolved)
	fmt.Fprintf(w, "  manual:   %d\n", stats.ManualRequired)
	fmt.Fprintf(w, "  failed:   %d\n", stats.Failed)

	queue := wm.Queue()
	if len(queue) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Needs manual resolution")
		fmt.Fprintln(w, "──────────────────────────────────────")
		for _, entry := range queue {
			fmt.Fprintf(w, "  %-20s  %v (at %s)\n", entry.Worktree, entry.Conflicts, entry.Timestamp)
		}
	}

	return nil
}
