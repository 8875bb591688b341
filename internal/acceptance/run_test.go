package acceptance_test

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/aren13/momentum/internal/agentpool"
	"github.com/aren13/momentum/internal/task"
	"github.com/aren13/momentum/internal/worktree"
)

func initRepo(dir string) {
	run(dir, "init", "-b", "main")
	run(dir, "config", "user.name", "test")
	run(dir, "config", "user.email", "test@example.com")
	Expect(os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0644)).To(Succeed())
	run(dir, "add", "-A")
	run(dir, "commit", "-m", "initial commit")
}

func run(dir string, args ...string) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	Expect(err).NotTo(HaveOccurred(), string(out))
}

var _ = Describe("running a staged task set end to end", func() {
	var (
		repoDir string
		wm      *worktree.Manager
		orch    *agentpool.Orchestrator
	)

	BeforeEach(func() {
		repoDir = GinkgoT().TempDir()
		initRepo(repoDir)

		wm = worktree.NewManager(repoDir)
		Expect(wm.Initialize()).To(Succeed())

		// The agent command itself is a no-op ("true"): this suite exercises
		// scheduling, worktree isolation, and merge-back, not a real agent.
		pool := agentpool.NewPool(2, agentpool.AgentCommand{Command: "true"}, nil)
		orch = agentpool.NewOrchestrator(pool, wm, agentpool.QAConfig{}, nil, "main")
	})

	It("runs dependent stages in order and merges every completed task back", func() {
		tasks := []task.Task{
			{ID: "base", Name: "base work", Prompt: "do base work"},
			{ID: "dependent", Name: "dependent work", Prompt: "do dependent work", DependsOn: []string{"base"}},
		}

		stages, err := orch.DistributeWithDependencies(context.Background(), tasks, io.Discard)
		Expect(err).NotTo(HaveOccurred())
		Expect(stages).To(HaveLen(2))
		Expect(stages[0].Stage.TaskIDs).To(Equal([]string{"base"}))
		Expect(stages[1].Stage.TaskIDs).To(Equal([]string{"dependent"}))

		for _, stage := range stages {
			for _, r := range stage.Results {
				Expect(r.State).To(Equal(agentpool.StateComplete))

				outcome, err := wm.Merge(r.TaskID, "main", worktree.MergeOptions{})
				Expect(err).NotTo(HaveOccurred())
				Expect(outcome.Resolved).To(BeTrue())
			}
		}

		Expect(wm.Stats.TotalMerges).To(Equal(2))
		Expect(wm.Stats.AutoResolved).To(Equal(2))
	})

	It("marks a task failed without attempting a merge when its agent exits non-zero", func() {
		orch.Pool = agentpool.NewPool(1, agentpool.AgentCommand{Command: "false"}, nil)

		tasks := []task.Task{{ID: "broken", Prompt: "do broken work"}}
		results := orch.Distribute(context.Background(), tasks, io.Discard)

		Expect(results).To(HaveLen(1))
		Expect(results[0].State).To(Equal(agentpool.StateFailed))
	})
})
