package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aren13/momentum/internal/dag"
)

func init() {
	rootCmd.AddCommand(vizCmd)
}

var vizCmd = &cobra.Command{
	Use:   "viz <tasks-file>",
	Short: "Show the dependency stages a tasks file resolves to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tasks, err := loadTasks(args[0])
		if err != nil {
			return err
		}

		stages, err := dag.Resolve(tasks)
		if err != nil {
			return err
		}

		printStages(stages)
		return nil
	},
}

func printStages(stages []dag.Stage) {
	for i, stage := range stages {
		marker := ""
		if stage.Parallelizable() {
			marker = " (parallel)"
		}
		fmt.Printf("stage %d%s\n", i+1, marker)
		for j, id := range stage.TaskIDs {
			connector := "├── "
			if j == len(stage.TaskIDs)-1 {
				connector = "└── "
			}
			fmt.Printf("  %s%s\n", connector, id)
		}
	}
}
