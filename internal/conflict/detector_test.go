package conflict

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run(t, dir, "init", "-b", "main")
	run(t, dir, "config", "user.name", "test")
	run(t, dir, "config", "user.email", "test@example.com")
	if err := os.WriteFile(filepath.Join(dir, "shared.txt"), []byte("base\n"), 0644); err != nil {
		t.Fatal(err)
	}
	run(t, dir, "add", "-A")
	run(t, dir, "commit", "-m", "base commit")
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

func writeAndCommit(t *testing.T, dir, name, content, message string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	run(t, dir, "add", "-A")
	run(t, dir, "commit", "-m", message)
}

// TestDetectCapturesHunksWhileMergeIsLive guards against reading conflicted
// files only after the merge attempt has already been aborted: an abort
// restores the working tree, wiping the conflict markers Detect needs to
// parse. If Detect aborts before reading, every file comes back with zero
// hunks, a difficulty of 0, and a "trivial" category regardless of how
// deep the real conflict is.
func TestDetectCapturesHunksWhileMergeIsLive(t *testing.T) {
	repoDir := initRepo(t)

	run(t, repoDir, "checkout", "-b", "feature")
	writeAndCommit(t, repoDir, "shared.txt", "feature change\n", "feature commit")

	run(t, repoDir, "checkout", "main")
	writeAndCommit(t, repoDir, "shared.txt", "main change\n", "main commit")

	d := NewDetector(repoDir)
	summary, err := d.Detect("feature")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if !summary.HasConflicts {
		t.Fatal("want a conflict")
	}
	if len(summary.Files) != 1 {
		t.Fatalf("Files = %v, want one conflicted file", summary.Files)
	}
	f := summary.Files[0]
	if len(f.Hunks) != 1 {
		t.Fatalf("Hunks = %v, want exactly one hunk parsed from the live merge", f.Hunks)
	}
	if f.Difficulty == 0 {
		t.Error("Difficulty = 0, want a non-zero score for a real single-line conflict")
	}

	// Detect must leave no side effects: the merge is aborted and the
	// working copy restored to a clean state.
	out, err := exec.Command("git", "-C", repoDir, "status", "--porcelain").Output()
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 0 {
		t.Errorf("working copy not clean after Detect: %s", out)
	}
}

// TestDetectNoConflictsLeavesSummaryEmpty covers the clean-merge path: a
// successful merge reports no conflicts and no files.
func TestDetectNoConflictsLeavesSummaryEmpty(t *testing.T) {
	repoDir := initRepo(t)

	run(t, repoDir, "checkout", "-b", "feature")
	writeAndCommit(t, repoDir, "other.txt", "new file\n", "add other file")

	run(t, repoDir, "checkout", "main")

	d := NewDetector(repoDir)
	summary, err := d.Detect("feature")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if summary.HasConflicts {
		t.Errorf("summary = %+v, want HasConflicts=false", summary)
	}
	if len(summary.Files) != 0 {
		t.Errorf("Files = %v, want none", summary.Files)
	}
}
