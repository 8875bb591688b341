package cli

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/aren13/momentum/internal/task"
)

// taskFile is the on-disk YAML shape of a tasks file passed to `momentum
// run`: a flat list of tasks, each optionally depending on others by id.
type taskFile struct {
	Tasks []taskEntry `yaml:"tasks"`
}

type taskEntry struct {
	ID        string   `yaml:"id"`
	Name      string   `yaml:"name"`
	Prompt    string   `yaml:"prompt"`
	DependsOn []string `yaml:"depends_on,omitempty"`
	QA        *struct {
		Enabled       bool `yaml:"enabled"`
		MaxIterations int  `yaml:"max_iterations,omitempty"`
	} `yaml:"qa,omitempty"`
}

// loadTasks reads and validates a tasks file, defaulting QA.Enabled to true
// when the qa block is omitted entirely.
func loadTasks(path string) ([]task.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tasks file: %w", err)
	}

	var tf taskFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parsing tasks file: %w", err)
	}

	tasks := make([]task.Task, len(tf.Tasks))
	for i, e := range tf.Tasks {
		t := task.Task{
			ID:        e.ID,
			Name:      e.Name,
			Prompt:    e.Prompt,
			DependsOn: e.DependsOn,
			QA:        task.QAConfig{Enabled: true},
		}
		if e.QA != nil {
			t.QA.Enabled = e.QA.Enabled
			t.QA.MaxIterations = e.QA.MaxIterations
		}
		tasks[i] = t
	}

	if err := task.Validate(tasks); err != nil {
		return nil, fmt.Errorf("validating tasks: %w", err)
	}
	return tasks, nil
}
