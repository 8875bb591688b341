package merge

import (
	"strings"
	"testing"

	"github.com/aren13/momentum/internal/conflict"
)

func sampleHunks() []conflict.Hunk {
	content := `package foo

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
	return conflict.ParseHunks(content)
}

func TestValidateRejectsEmptyResolution(t *testing.T) {
	hunks := sampleHunks()
	err := Validate(Resolution{Content: "   \n"}, hunks, "go")
	if err == nil {
		t.Fatal("want error for empty resolution")
	}
	if !strings.Contains(err.Error(), "non-empty") {
		t.Errorf("want non-empty rule violation, got %v", err)
	}
}

func TestValidateRejectsLeftoverMarkers(t *testing.T) {
	hunks := sampleHunks()
	content := "func Add(a, b int) int {\n<<<<<<< HEAD\nreturn a+b\n}\n"
	err := Validate(Resolution{Content: content}, hunks, "go")
	if err == nil || !strings.Contains(err.Error(), "no-conflict-markers") {
		t.Errorf("want no-conflict-markers violation, got %v", err)
	}
}

func TestValidateRejectsUnbalancedBraces(t *testing.T) {
	hunks := sampleHunks()
	content := "func Add(a, b int) int {\n\treturn a + b\n"
	err := Validate(Resolution{Content: content}, hunks, "go")
	if err == nil || !strings.Contains(err.Error(), "syntax") {
		t.Errorf("want syntax violation, got %v", err)
	}
}

func TestValidateRejectsDroppedIdentifiers(t *testing.T) {
	hunks := sampleHunks()
	content := "func Subtract(p, q string) string {\n\treturn p + q\n}\n"
	err := Validate(Resolution{Content: content}, hunks, "go")
	if err == nil || !strings.Contains(err.Error(), "content-preservation") {
		t.Errorf("want content-preservation violation, got %v", err)
	}
}

func TestValidateAcceptsGoodResolution(t *testing.T) {
	hunks := sampleHunks()
	content := "func Add(a, b int) int {\n\treturn a + b\n}\n"
	if err := Validate(Resolution{Content: content}, hunks, "go"); err != nil {
		t.Errorf("want no error, got %v", err)
	}
}

func TestValidateJSONSyntax(t *testing.T) {
	hunks := []conflict.Hunk{}
	if err := Validate(Resolution{Content: `{"a": 1,}`}, hunks, "json"); err == nil {
		t.Error("want error for malformed JSON")
	}
	if err := Validate(Resolution{Content: `{"a": 1}`}, hunks, "json"); err != nil {
		t.Errorf("want no error for valid JSON, got %v", err)
	}
}

func TestValidateLengthBound(t *testing.T) {
	hunks := sampleHunks()
	huge := strings.Repeat("x", 10000)
	err := Validate(Resolution{Content: huge}, hunks, "text")
	if err == nil || !strings.Contains(err.Error(), "length-bound") {
		t.Errorf("want length-bound violation, got %v", err)
	}
}

func TestInferTypeImport(t *testing.T) {
	content := "<<<<<<< a\nimport \"fmt\"\n=======\nimport \"os\"\n>>>>>>> b\n"
	hunks := conflict.ParseHunks(content)
	if got := InferType(hunks[0]); got != ConflictImport {
		t.Errorf("InferType = %s, want import", got)
	}
}

func TestInferTypeFunction(t *testing.T) {
	hunks := sampleHunks()
	if got := InferType(hunks[0]); got != ConflictFunction {
		t.Errorf("InferType = %s, want function", got)
	}
}

func TestBuildPromptIncludesHunksAndObjective(t *testing.T) {
	hunks := sampleHunks()
	file := conflict.FileAnalysis{Path: "foo.go", Hunks: hunks, Category: conflict.FileCategory(hunks)}
	prompt := BuildPrompt(file, "go", PromptContext{CommitContext: "renaming params"})
	for _, want := range []string{"foo.go", "renaming params", "Ours (HEAD)", "Theirs (feature)", "no conflict markers"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestLanguageForPath(t *testing.T) {
	cases := map[string]string{
		"main.go":     "go",
		"script.py":   "python",
		"app.ts":      "typescript",
		"data.json":   "json",
		"README.txt":  "text",
		"values.yaml": "yaml",
	}
	for path, want := range cases {
		if got := LanguageForPath(path); got != want {
			t.Errorf("LanguageForPath(%q) = %q, want %q", path, got, want)
		}
	}
}
