package agentpool

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/aren13/momentum/internal/qa"
	"github.com/aren13/momentum/internal/task"
	"github.com/aren13/momentum/internal/worktree"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run(t, dir, "init", "-b", "main")
	run(t, dir, "config", "user.name", "test")
	run(t, dir, "config", "user.email", "test@example.com")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0644); err != nil {
		t.Fatal(err)
	}
	run(t, dir, "add", "-A")
	run(t, dir, "commit", "-m", "initial commit")
	return dir
}

func run(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v: %s: %v", args, out, err)
	}
}

func newOrchestrator(t *testing.T, qaEnabled bool) *Orchestrator {
	t.Helper()
	repoDir := initRepo(t)
	wm := worktree.NewManager(repoDir)
	if err := wm.Initialize(); err != nil {
		t.Fatal(err)
	}

	pool := NewPool(2, AgentCommand{Command: "true"}, nil)
	qaCfg := QAConfig{}
	if qaEnabled {
		qaCfg.Checks = []qa.Check{{Kind: qa.CheckBuild, Command: "true"}}
	}
	return NewOrchestrator(pool, wm, qaCfg, nil, "main")
}

func TestDistributeCompletesIndependentTasks(t *testing.T) {
	o := newOrchestrator(t, false)
	tasks := []task.Task{
		{ID: "a", Prompt: "do a"},
		{ID: "b", Prompt: "do b"},
	}

	var out bytes.Buffer
	results := o.Distribute(context.Background(), tasks, &out)
	if len(results) != 2 {
		t.Fatalf("want 2 results, got %d", len(results))
	}
	for _, r := range results {
		if r.State != StateComplete {
			t.Errorf("task %s: state = %v, err = %v", r.TaskID, r.State, r.Err)
		}
	}
}

func TestDistributeWithDependenciesRunsStagesInOrder(t *testing.T) {
	o := newOrchestrator(t, false)
	tasks := []task.Task{
		{ID: "base", Prompt: "base"},
		{ID: "dependent", Prompt: "dependent", DependsOn: []string{"base"}},
	}

	var out bytes.Buffer
	stages, err := o.DistributeWithDependencies(context.Background(), tasks, &out)
	if err != nil {
		t.Fatalf("DistributeWithDependencies: %v", err)
	}
	if len(stages) != 2 {
		t.Fatalf("want 2 stages, got %d", len(stages))
	}
	if stages[0].Stage.TaskIDs[0] != "base" {
		t.Errorf("first stage = %v, want [base]", stages[0].Stage.TaskIDs)
	}
	if stages[1].Stage.TaskIDs[0] != "dependent" {
		t.Errorf("second stage = %v, want [dependent]", stages[1].Stage.TaskIDs)
	}
}

func TestRunOneMarksQAFailedWhenCheckFails(t *testing.T) {
	repoDir := initRepo(t)
	wm := worktree.NewManager(repoDir)
	if err := wm.Initialize(); err != nil {
		t.Fatal(err)
	}
	pool := NewPool(1, AgentCommand{Command: "true"}, nil)
	qaCfg := QAConfig{Checks: []qa.Check{{Kind: qa.CheckBuild, Command: "false"}}}
	o := NewOrchestrator(pool, wm, qaCfg, nil, "main")

	tk := task.Task{ID: "t1", Prompt: "x", QA: task.QAConfig{Enabled: true, MaxIterations: 1}}
	var out bytes.Buffer
	result := o.runOne(context.Background(), tk, &out)
	if result.State != StateQAFailed {
		t.Errorf("State = %v, want StateQAFailed", result.State)
	}
}

func TestDistributeMarksFailedOnNonZeroExit(t *testing.T) {
	o := newOrchestrator(t, false)
	o.Pool = NewPool(1, AgentCommand{Command: "false"}, nil)

	tasks := []task.Task{{ID: "a", Prompt: "x"}}
	var out bytes.Buffer
	results := o.Distribute(context.Background(), tasks, &out)
	if results[0].State != StateFailed {
		t.Errorf("State = %v, want StateFailed", results[0].State)
	}
}
