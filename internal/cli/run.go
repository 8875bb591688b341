package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aren13/momentum/internal/agentpool"
	"github.com/aren13/momentum/internal/fileutil"
	"github.com/aren13/momentum/internal/memory"
	"github.com/aren13/momentum/internal/qa"
	"github.com/aren13/momentum/internal/worktree"
)

var (
	targetBranch  string
	stopOnFailure bool
)

func init() {
	runCmd.Flags().StringVar(&targetBranch, "target", "main", "Branch each task's worktree merges back into")
	runCmd.Flags().BoolVar(&stopOnFailure, "stop-on-failure", false, "Abort remaining stages once a stage has any non-complete task")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run <tasks-file>",
	Short: "Run a tasks file to completion",
	Long: `Stage the tasks file into dependency-ordered batches, run each task's
agent in its own worktree, gate it through the configured QA checks, and
merge every successful worktree back into --target.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadAndValidateConfig(configPath)
		if err != nil {
			return err
		}

		tasks, err := loadTasks(args[0])
		if err != nil {
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

		mem, err := memory.OpenDefault(repoDir)
		if err != nil {
			return fmt.Errorf("opening memory store: %w", err)
		}

		pool := agentpool.NewPool(int64(cfg.Settings.MaxConcurrent), agentpool.AgentCommand{
			Command: cfg.Agent.Command,
			Args:    cfg.Agent.Args,
		}, nil)

		qaChecks := make([]qa.Check, len(cfg.Gates))
		for i, g := range cfg.Gates {
			qaChecks[i] = qa.Check{Kind: qa.CheckBuild, Command: "sh", Args: []string{"-c", g.Run}}
		}

		orch := agentpool.NewOrchestrator(pool, wm, agentpool.QAConfig{
			Checks:           qaChecks,
			DecisionCacheTTL: time.Hour,
		}, mem, targetBranch)
		orch.Messages = agentpool.NewAgentBus(fileutil.MessageLogDir(repoDir))
		orch.StopOnFailure = stopOnFailure

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		go func() {
			if sig, ok := <-sigCh; ok {
				fmt.Fprintf(os.Stderr, "\nreceived %s, cancelling in-flight agents...\n", sig)
				orch.KillAll()
				cancel()
			}
		}()

		stages, err := orch.DistributeWithDependencies(ctx, tasks, os.Stdout)
		if err != nil {
			return err
		}

		return mergeCompletedStages(wm, stages)
	},
}

// mergeCompletedStages merges every task that reached StateComplete back
// into its worktree's base branch, in stage order, printing a summary line
// per task. A task that failed or failed QA is reported but left unmerged.
func mergeCompletedStages(wm *worktree.Manager, stages []agentpool.StageResult) error {
	var mergeErrs int
	for _, stage := range stages {
		for _, r := range stage.Results {
			if r.State != agentpool.StateComplete {
				fmt.Printf("✗ %-20s %s (%s)\n", r.TaskID, r.State, errString(r.Err))
				continue
			}

			outcome, err := wm.Merge(r.TaskID, targetBranch, worktree.MergeOptions{
				Now: func() string { return time.Now().UTC().Format(time.RFC3339) },
			})
			if err != nil {
				if rbErr := wm.RollbackMerge(r.TaskID); rbErr != nil {
					fmt.Printf("✗ %-20s merge failed: %s (rollback also failed: %s)\n", r.TaskID, err, rbErr)
				} else {
					fmt.Printf("✗ %-20s merge failed: %s\n", r.TaskID, err)
				}
				mergeErrs++
				continue
			}
			if !outcome.Resolved {
				fmt.Printf("◎ %-20s merged via %s, unresolved: %v\n", r.TaskID, outcome.Tier, outcome.UnresolvedFiles)
				mergeErrs++
				continue
			}
			fmt.Printf("✓ %-20s merged via %s\n", r.TaskID, outcome.Tier)
		}
	}

	if mergeErrs > 0 {
		return fmt.Errorf("%d task(s) require manual attention; see `momentum status`", mergeErrs)
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return "no error recorded"
	}
	return err.Error()
}
