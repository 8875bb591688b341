// Package qa runs a bounded check/fix loop over a worktree: lint, typecheck,
// test, and build commands, escalating a failure through a deterministic
// auto-fix command and then, if that doesn't resolve it, a structured
// AI-fix strategy before re-verifying.
package qa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/aren13/momentum/internal/fileutil"
	"github.com/aren13/momentum/internal/task"
)

// CheckKind names one stage of the QA loop.
type CheckKind string

const (
	CheckLint      CheckKind = "lint"
	CheckTypecheck CheckKind = "typecheck"
	CheckTest      CheckKind = "test"
	CheckBuild     CheckKind = "build"
)

// Check is one command to run and how to interpret its result.
type Check struct {
	Kind    CheckKind
	Command string
	Args    []string
	// Fixable marks a check whose failures are worth escalating even when
	// no FixStrategy is registered for its kind and the Runner has no
	// AIFix. A check left false is still treated as fixable whenever one of
	// those is present (see isFixable).
	Fixable bool
}

// FixStrategy is a deterministic command tried before escalating a failure
// to the AI (e.g. `gofmt -w`, `eslint --fix`).
type FixStrategy struct {
	Kind    CheckKind
	Command string
	Args    []string
}

// FixStrategyKind classifies the underlying cause of a check failure, so AI
// escalation, and the statistics kept about it, can be bucketed by what
// actually went wrong rather than only by which check observed it.
type FixStrategyKind string

const (
	FixKindImport FixStrategyKind = "import-fix"
	FixKindSyntax FixStrategyKind = "syntax-fix"
	FixKindType   FixStrategyKind = "type-fix"
	FixKindTest   FixStrategyKind = "test-fix"
	FixKindLint   FixStrategyKind = "lint-fix"
)

// classify guesses a FixStrategyKind from a check's kind and its raw
// failure output. It is a heuristic, not a parser: the output comes from
// an arbitrary configured command, so this only recognizes common
// compiler/linter phrasing.
func classify(check Check, output string) FixStrategyKind {
	lower := strings.ToLower(output)
	switch {
	case strings.Contains(lower, "cannot find package"),
		strings.Contains(lower, "no required module"),
		strings.Contains(lower, "undefined:"),
		strings.Contains(lower, "unresolved import"),
		strings.Contains(lower, "module not found"):
		return FixKindImport
	case strings.Contains(lower, "syntax error"),
		strings.Contains(lower, "unexpected token"),
		strings.Contains(lower, "expected "):
		return FixKindSyntax
	case strings.Contains(lower, "cannot use"),
		strings.Contains(lower, "mismatched types"),
		strings.Contains(lower, "does not implement"),
		strings.Contains(lower, "type error"):
		return FixKindType
	}
	switch check.Kind {
	case CheckTest:
		return FixKindTest
	case CheckLint:
		return FixKindLint
	default:
		return FixKindType
	}
}

// locationPattern matches the file:line[:col]: message shape most
// compilers, linters, and test runners emit per failing line.
var locationPattern = regexp.MustCompile(`(?m)^([^\s:][^:\n]*):(\d+)(?::(\d+))?:\s*(.*)$`)

// ErrorLocation is one file/line/column tuple extracted from a check's
// failure output.
type ErrorLocation struct {
	File    string
	Line    int
	Column  int
	Message string
}

// ErrorDetail is the structured failure description built for AI
// escalation: where the problem was reported, the surrounding source for
// context, and a snapshot of the project's dependency manifest so the AI
// can tell a missing-dependency failure from a genuine code defect.
type ErrorDetail struct {
	Kind       FixStrategyKind
	RawOutput  string
	Locations  []ErrorLocation
	Context    map[string][]string // file -> ±5 lines around each reported location
	Dependency DependencySnapshot
}

// DependencySnapshot captures whichever dependency manifest is present in
// the worktree, so AI escalation can reason about missing/mismatched
// dependencies without shelling out itself.
type DependencySnapshot struct {
	File    string
	Content string
}

var manifestCandidates = []string{"go.mod", "package.json", "requirements.txt", "Cargo.toml"}

func readDependencySnapshot(dir string) DependencySnapshot {
	for _, name := range manifestCandidates {
		data, err := os.ReadFile(dir + "/" + name)
		if err == nil {
			return DependencySnapshot{File: name, Content: string(data)}
		}
	}
	return DependencySnapshot{}
}

const contextWindow = 5

func extractDetail(dir string, check Check, output string) ErrorDetail {
	detail := ErrorDetail{
		Kind:       classify(check, output),
		RawOutput:  output,
		Context:    make(map[string][]string),
		Dependency: readDependencySnapshot(dir),
	}

	for _, m := range locationPattern.FindAllStringSubmatch(output, -1) {
		loc := ErrorLocation{File: m[1], Message: m[4]}
		fmt.Sscanf(m[2], "%d", &loc.Line)
		if m[3] != "" {
			fmt.Sscanf(m[3], "%d", &loc.Column)
		}
		detail.Locations = append(detail.Locations, loc)

		if _, seen := detail.Context[loc.File]; !seen {
			detail.Context[loc.File] = contextLines(dir, loc.File, loc.Line)
		}
	}
	return detail
}

func contextLines(dir, file string, line int) []string {
	data, err := os.ReadFile(dir + "/" + file)
	if err != nil {
		return nil
	}
	lines := strings.Split(string(data), "\n")
	start := line - 1 - contextWindow
	if start < 0 {
		start = 0
	}
	end := line + contextWindow
	if end > len(lines) {
		end = len(lines)
	}
	if start >= end {
		return nil
	}
	return lines[start:end]
}

// ActionKind names what a FixAction does to the worktree.
type ActionKind string

const (
	ActionEdit    ActionKind = "edit"
	ActionCreate  ActionKind = "create"
	ActionDelete  ActionKind = "delete"
	ActionCommand ActionKind = "command"
)

// FixAction is one step of a FixDescription. Edit actions are applied by
// literal search/replace: if Search is not found verbatim in the file, the
// action fails and is reported rather than silently skipped.
type FixAction struct {
	Kind    ActionKind
	Path    string
	Search  string
	Replace string
	Content string
	Command string
	Args    []string
}

// FixDescription is what an AI escalation produces: the classified cause
// and the concrete actions that address it.
type FixDescription struct {
	Kind    FixStrategyKind
	Actions []FixAction
}

// applyAction applies one FixAction rooted at dir.
func applyAction(ctx context.Context, dir string, a FixAction) error {
	switch a.Kind {
	case ActionEdit:
		path := dir + "/" + a.Path
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", a.Path, err)
		}
		if !strings.Contains(string(data), a.Search) {
			return fmt.Errorf("search string not found in %s", a.Path)
		}
		updated := strings.Replace(string(data), a.Search, a.Replace, 1)
		return fileutil.WriteFileAtomic(path, []byte(updated), 0644)
	case ActionCreate:
		path := dir + "/" + a.Path
		return fileutil.WriteFileAtomic(path, []byte(a.Content), 0644)
	case ActionDelete:
		if err := os.Remove(dir + "/" + a.Path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("deleting %s: %w", a.Path, err)
		}
		return nil
	case ActionCommand:
		cmd := exec.CommandContext(ctx, a.Command, a.Args...)
		cmd.Dir = dir
		var buf bytes.Buffer
		cmd.Stdout = &buf
		cmd.Stderr = &buf
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("running %s: %s: %w", a.Command, strings.TrimSpace(buf.String()), err)
		}
		return nil
	default:
		return fmt.Errorf("unknown fix action kind %q", a.Kind)
	}
}

// AIFixFunc asks an injected AI capability to classify and describe a fix
// for a check's structured failure detail. The core never depends on a
// particular model implementation.
type AIFixFunc func(ctx context.Context, check Check, detail ErrorDetail) (FixDescription, error)

// DecisionCache memoizes AI-escalation decisions so the same failure
// signature in the same file doesn't re-invoke the AI. Satisfied by
// *cache.Cache; kept as an interface here so qa doesn't import cache's
// memory.Store dependency unless a caller wires one in.
type DecisionCache interface {
	Get(context map[string]interface{}, question string) (string, bool)
	Put(context map[string]interface{}, question, answer string) error
}

// Result records one check's outcome within an iteration.
type Result struct {
	Check    Check
	Passed   bool
	Output   string
	Attempts int
	Fixable  bool
}

// IterationReport is the outcome of a single loop iteration across all
// configured checks.
type IterationReport struct {
	Iteration int
	Results   []Result
	AllPassed bool
}

// StrategyStats accumulates outcomes for one FixStrategyKind or CheckKind
// bucket across a Runner's lifetime.
type StrategyStats struct {
	Attempts  int
	Successes int
	Failures  int
	Duration  time.Duration
}

// RunFailure is returned by Run when the loop does not end with every
// check passing.
type RunFailure struct {
	Reason    string
	Unfixable []Result
}

func (e *RunFailure) Error() string {
	if len(e.Unfixable) > 0 {
		names := make([]string, len(e.Unfixable))
		for i, r := range e.Unfixable {
			names[i] = string(r.Check.Kind)
		}
		return fmt.Sprintf("qa loop failed (%s): unfixable checks: %s", e.Reason, strings.Join(names, ", "))
	}
	return fmt.Sprintf("qa loop failed (%s)", e.Reason)
}

// Runner drives the check/auto-fix/AI-fix/verify loop for one task's
// working directory.
type Runner struct {
	Dir           string
	Checks        []Check
	FixStrategies map[CheckKind]FixStrategy
	AIFix         AIFixFunc
	Cache         DecisionCache
	MaxIterations int

	strategyStats map[FixStrategyKind]*StrategyStats
	checkStats    map[CheckKind]*StrategyStats
}

// DefaultMaxIterations mirrors task.DefaultQAMaxIterations so a Runner built
// without an explicit cap still bounds its loop.
const DefaultMaxIterations = task.DefaultQAMaxIterations

// NewRunner builds a Runner. maxIterations <= 0 uses DefaultMaxIterations.
func NewRunner(dir string, checks []Check, maxIterations int) *Runner {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return &Runner{
		Dir:           dir,
		Checks:        checks,
		FixStrategies: make(map[CheckKind]FixStrategy),
		MaxIterations: maxIterations,
		strategyStats: make(map[FixStrategyKind]*StrategyStats),
		checkStats:    make(map[CheckKind]*StrategyStats),
	}
}

// WithFixStrategy registers a deterministic auto-fix command for a check kind.
func (r *Runner) WithFixStrategy(fs FixStrategy) *Runner {
	r.FixStrategies[fs.Kind] = fs
	return r
}

// StrategyStatsFor returns a snapshot of accumulated statistics for a
// FixStrategyKind, zero-valued if it was never attempted.
func (r *Runner) StrategyStatsFor(kind FixStrategyKind) StrategyStats {
	if s, ok := r.strategyStats[kind]; ok {
		return *s
	}
	return StrategyStats{}
}

// CheckStatsFor returns a snapshot of accumulated statistics for a CheckKind,
// zero-valued if it was never attempted.
func (r *Runner) CheckStatsFor(kind CheckKind) StrategyStats {
	if s, ok := r.checkStats[kind]; ok {
		return *s
	}
	return StrategyStats{}
}

func (r *Runner) record(strategyKind FixStrategyKind, checkKind CheckKind, success bool, d time.Duration) {
	ss, ok := r.strategyStats[strategyKind]
	if !ok {
		ss = &StrategyStats{}
		r.strategyStats[strategyKind] = ss
	}
	cs, ok := r.checkStats[checkKind]
	if !ok {
		cs = &StrategyStats{}
		r.checkStats[checkKind] = cs
	}
	for _, s := range []*StrategyStats{ss, cs} {
		s.Attempts++
		s.Duration += d
		if success {
			s.Successes++
		} else {
			s.Failures++
		}
	}
}

// isFixable reports whether a failing check is worth escalating: it has a
// registered deterministic strategy, an AI-fix function configured, or was
// explicitly marked Fixable.
func (r *Runner) isFixable(check Check) bool {
	if check.Fixable {
		return true
	}
	if _, ok := r.FixStrategies[check.Kind]; ok {
		return true
	}
	return r.AIFix != nil
}

// Run executes the loop:
//  1. Run every check; all passing ends the loop successfully.
//  2. Partition failures into fixable and unfixable.
//  3. No fixable failure among them fails the run immediately with the
//     unfixable list.
//  4. Each fixable failure tries its registered deterministic command
//     first, then escalates to AI-fix classification/extraction/action
//     generation/application, then re-verifies.
//  5. An iteration that fixes nothing (same failing set as before) fails
//     the run with no further iterations.
//  6. Otherwise loop, capped at MaxIterations; hitting the cap fails the
//     run with reason "max_iterations".
func (r *Runner) Run(ctx context.Context) ([]IterationReport, error) {
	var reports []IterationReport
	var prevFailing map[CheckKind]bool

	for iter := 1; iter <= r.MaxIterations; iter++ {
		report := IterationReport{Iteration: iter, AllPassed: true}
		var failing []Result
		var unfixable []Result
		currFailing := make(map[CheckKind]bool)

		for _, check := range r.Checks {
			result := r.runCheck(ctx, check)
			if !result.Passed {
				report.AllPassed = false
				currFailing[check.Kind] = true
				result.Fixable = r.isFixable(check)
				if result.Fixable {
					failing = append(failing, result)
				} else {
					unfixable = append(unfixable, result)
				}
			}
			report.Results = append(report.Results, result)
		}

		if report.AllPassed {
			reports = append(reports, report)
			return reports, nil
		}

		if len(failing) == 0 {
			reports = append(reports, report)
			return reports, &RunFailure{Reason: "unfixable", Unfixable: unfixable}
		}

		for i, result := range failing {
			fixed := r.attemptFix(ctx, result.Check, result)
			for j, rep := range report.Results {
				if rep.Check.Kind == result.Check.Kind {
					report.Results[j] = fixed
				}
			}
			failing[i] = fixed
		}
		reports = append(reports, report)

		if prevFailing != nil && sameFailingSet(prevFailing, currFailing) {
			return reports, &RunFailure{Reason: "no_progress", Unfixable: unfixable}
		}
		prevFailing = currFailing
	}

	return reports, &RunFailure{Reason: "max_iterations"}
}

func sameFailingSet(a, b map[CheckKind]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

func (r *Runner) attemptFix(ctx context.Context, check Check, result Result) Result {
	if fs, ok := r.FixStrategies[check.Kind]; ok {
		_ = r.runCommand(ctx, fs.Command, fs.Args)
		retried := r.runCheck(ctx, check)
		retried.Attempts = result.Attempts + 1
		retried.Fixable = result.Fixable
		if retried.Passed {
			return retried
		}
		result = retried
	}

	if r.AIFix == nil {
		return result
	}

	start := time.Now()
	detail := extractDetail(r.Dir, check, result.Output)

	desc, err := r.aiFixWithCache(ctx, check, detail)
	if err != nil {
		r.record(detail.Kind, check.Kind, false, time.Since(start))
		return result
	}

	applyErr := applyActions(ctx, r.Dir, desc.Actions)
	retried := r.runCheck(ctx, check)
	retried.Attempts = result.Attempts + 1
	retried.Fixable = result.Fixable
	r.record(desc.Kind, check.Kind, applyErr == nil && retried.Passed, time.Since(start))
	return retried
}

func applyActions(ctx context.Context, dir string, actions []FixAction) error {
	for _, a := range actions {
		if err := applyAction(ctx, dir, a); err != nil {
			return err
		}
	}
	return nil
}

// aiFixWithCache checks the decision cache for a previously generated fix
// for this exact failure signature before invoking AIFix, and stores a
// freshly generated one for reuse.
func (r *Runner) aiFixWithCache(ctx context.Context, check Check, detail ErrorDetail) (FixDescription, error) {
	if r.Cache == nil {
		return r.AIFix(ctx, check, detail)
	}

	cacheCtx := map[string]interface{}{"check": string(check.Kind), "kind": string(detail.Kind)}
	question := detail.RawOutput
	if cached, ok := r.Cache.Get(cacheCtx, question); ok {
		var desc FixDescription
		if err := unmarshalFixDescription(cached, &desc); err == nil {
			return desc, nil
		}
	}

	desc, err := r.AIFix(ctx, check, detail)
	if err != nil {
		return desc, err
	}
	if encoded, err := marshalFixDescription(desc); err == nil {
		_ = r.Cache.Put(cacheCtx, question, encoded)
	}
	return desc, nil
}

func marshalFixDescription(d FixDescription) (string, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func unmarshalFixDescription(s string, d *FixDescription) error {
	return json.Unmarshal([]byte(s), d)
}

func (r *Runner) runCheck(ctx context.Context, check Check) Result {
	out, err := r.runCommandOutput(ctx, check.Command, check.Args)
	return Result{Check: check, Passed: err == nil, Output: out, Attempts: 1}
}

func (r *Runner) runCommand(ctx context.Context, command string, args []string) error {
	_, err := r.runCommandOutput(ctx, command, args)
	return err
}

func (r *Runner) runCommandOutput(ctx context.Context, command string, args []string) (string, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Dir = r.Dir
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return strings.TrimSpace(buf.String()), err
}
