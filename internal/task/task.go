// Package task defines the unit of work momentum schedules: a coding prompt
// with optional dependencies on other tasks in the same run.
package task

import "fmt"

// QAConfig controls whether and how long the QA loop runs for a task.
type QAConfig struct {
	// Enabled turns the QA loop on for this task. The zero value leaves it
	// off; the CLI's tasks-file loader sets it to true for a task with no
	// qa block.
	Enabled bool
	// MaxIterations caps the check/fix/verify loop. Zero means "use the
	// default" (10), not "run zero iterations".
	MaxIterations int
}

// Task is a unit of work submitted to a run. It is immutable once submitted:
// nothing in momentum mutates a Task after DependencyResolver has staged it.
type Task struct {
	// ID is a stable identifier, unique within the run.
	ID string
	// Name is a human-readable label; purely descriptive.
	Name string
	// Prompt is the text handed to the coding-agent subprocess.
	Prompt string
	// DependsOn lists the IDs of tasks that must complete before this one
	// may start. Every ID here must name a Task in the same run.
	DependsOn []string
	// QA configures the quality-check loop for this task's worktree.
	QA QAConfig
}

// DefaultQAMaxIterations is used whenever a task's QA.MaxIterations is zero.
const DefaultQAMaxIterations = 10

// EffectiveMaxIterations returns the configured iteration cap, or the
// default when unset.
func (t Task) EffectiveMaxIterations() int {
	if t.QA.MaxIterations <= 0 {
		return DefaultQAMaxIterations
	}
	return t.QA.MaxIterations
}

// Validate checks that a task set has unique IDs and that every dependency
// reference resolves within the same set. It does not check for cycles —
// that is DependencyResolver's job.
func Validate(tasks []Task) error {
	seen := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if t.ID == "" {
			return fmt.Errorf("task has empty id (name=%q)", t.Name)
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate task id %q", t.ID)
		}
		seen[t.ID] = true
	}
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("task %q depends on unknown task %q", t.ID, dep)
			}
		}
	}
	return nil
}

// ByID indexes a task slice by ID for quick lookup.
func ByID(tasks []Task) map[string]Task {
	m := make(map[string]Task, len(tasks))
	for _, t := range tasks {
		m[t.ID] = t
	}
	return m
}
