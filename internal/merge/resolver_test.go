package merge

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/aren13/momentum/internal/conflict"
)

const conflictedFile = `package foo

<<<<<<< HEAD
func Add(a, b int) int {
	return a + b
}
=======
func Add(x, y int) int {
	return x + y
}
>>>>>>> feature
`

func fixedTime() string { return "2026-07-31T00:00:00Z" }

func TestConflictResolverSucceedsFirstTry(t *testing.T) {
	calls := 0
	ai := func(prompt string) (Resolution, error) {
		calls++
		return Resolution{Content: "func Add(a, b int) int {\n\treturn a + b\n}\n"}, nil
	}
	r := NewConflictResolver(ai, 3)
	hunks := conflict.ParseHunks(conflictedFile)
	file := conflict.FileAnalysis{Path: "foo.go", Hunks: hunks}

	res, err := r.Resolve(file, "go", PromptContext{}, fixedTime)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if calls != 1 {
		t.Errorf("want 1 AI call, got %d", calls)
	}
	if res.Content == "" {
		t.Error("want non-empty resolution content")
	}
	stats := r.Stats()
	if stats.Attempted != 1 || stats.Successful != 1 || stats.Retries != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestConflictResolverRetriesOnValidationFailure(t *testing.T) {
	calls := 0
	ai := func(prompt string) (Resolution, error) {
		calls++
		if calls < 2 {
			return Resolution{Content: "<<<<<<< still broken"}, nil
		}
		return Resolution{Content: "func Add(a, b int) int {\n\treturn a + b\n}\n"}, nil
	}
	r := NewConflictResolver(ai, 3)
	hunks := conflict.ParseHunks(conflictedFile)
	file := conflict.FileAnalysis{Path: "foo.go", Hunks: hunks}

	_, err := r.Resolve(file, "go", PromptContext{}, fixedTime)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if calls != 2 {
		t.Errorf("want 2 AI calls, got %d", calls)
	}
	stats := r.Stats()
	if stats.Retries != 1 || stats.ValidationErrors != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestConflictResolverQueuesOnExhaustion(t *testing.T) {
	ai := func(prompt string) (Resolution, error) {
		return Resolution{}, errors.New("model unavailable")
	}
	r := NewConflictResolver(ai, 1)
	hunks := conflict.ParseHunks(conflictedFile)
	file := conflict.FileAnalysis{Path: "foo.go", Hunks: hunks}

	_, err := r.Resolve(file, "go", PromptContext{}, fixedTime)
	if err == nil {
		t.Fatal("want error on exhaustion")
	}
	queue := r.Queue()
	if len(queue) != 1 || queue[0].Path != "foo.go" {
		t.Errorf("queue = %+v, want one entry for foo.go", queue)
	}
	stats := r.Stats()
	if stats.Failed != 1 {
		t.Errorf("want Failed=1, got %+v", stats)
	}
}

func TestApplyReplacesHunkBlockPreservingSurroundingLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "foo.go")
	if err := os.WriteFile(path, []byte(conflictedFile), 0644); err != nil {
		t.Fatal(err)
	}

	hunks := conflict.ParseHunks(conflictedFile)
	resolution := Resolution{Content: "func Add(a, b int) int {\n\treturn a + b\n}"}

	if err := Apply(path, hunks, resolution); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	out, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "package foo\n\nfunc Add(a, b int) int {\n\treturn a + b\n}\n"
	if string(out) != want {
		t.Errorf("got:\n%s\nwant:\n%s", out, want)
	}
}
