package qa

import (
	"context"
	"os/exec"
	"testing"
)

func TestRunPassesWhenAllChecksSucceed(t *testing.T) {
	dir := t.TempDir()
	checks := []Check{
		{Kind: CheckLint, Command: "true"},
		{Kind: CheckBuild, Command: "true"},
	}
	runner := NewRunner(dir, checks, 3)

	reports, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("want 1 iteration, got %d", len(reports))
	}
	if !reports[0].AllPassed {
		t.Error("want AllPassed true")
	}
}

func TestRunFailsAfterFirstIterationWhenNoFailureIsFixable(t *testing.T) {
	dir := t.TempDir()
	checks := []Check{{Kind: CheckTest, Command: "false"}}
	runner := NewRunner(dir, checks, 2)

	reports, err := runner.Run(context.Background())
	if err == nil {
		t.Fatal("want error when checks never pass")
	}
	if len(reports) != 1 {
		t.Errorf("want 1 iteration, got %d", len(reports))
	}
}

func TestRunRecoversViaAIFix(t *testing.T) {
	dir := t.TempDir()
	calls := 0
	marker := dir + "/fixed"
	checks := []Check{{Kind: CheckLint, Command: "sh", Args: []string{"-c", "test -f " + marker}}}
	runner := NewRunner(dir, checks, 3)
	runner.AIFix = func(ctx context.Context, check Check, detail ErrorDetail) (FixDescription, error) {
		calls++
		return FixDescription{}, exec.Command("touch", marker).Run()
	}

	reports, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls != 1 {
		t.Errorf("want 1 AIFix call, got %d", calls)
	}
	if !reports[len(reports)-1].AllPassed {
		t.Error("want final iteration to pass")
	}
}
