// Package config loads and validates momentum.yaml, the run configuration
// for a momentum execution: the agent command to invoke, concurrency and QA
// defaults, and the gates a worktree must pass before it can merge.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the parsed, defaulted, and validated contents of momentum.yaml.
type Config struct {
	Agent       AgentConfig  `yaml:"agent"`
	Settings    Settings     `yaml:"settings"`
	Gates       []Gate       `yaml:"gates,omitempty"`
	Permissions *Permissions `yaml:"permissions,omitempty"`
	Preamble    string       `yaml:"preamble,omitempty"`
}

// AgentConfig is the subprocess command invoked once per task.
type AgentConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// Settings holds the knobs that control scheduling, QA, and merging.
type Settings struct {
	MaxConcurrent    int      `yaml:"max_concurrent"`
	BranchPrefix     string   `yaml:"branch_prefix"`
	PollInterval     Duration `yaml:"poll_interval"`
	QAMaxIterations  int      `yaml:"qa_max_iterations"`
	MergeMaxRetries  int      `yaml:"merge_max_retries"`
	FullFileFallback bool     `yaml:"full_file_fallback"`
	MemoryPath       string   `yaml:"memory_path"`
	CacheTTL         Duration `yaml:"cache_ttl"`
}

// Gate defines a pre-merge quality check (linter, formatter, type checker,
// test runner).
type Gate struct {
	Name string `yaml:"name"`
	Run  string `yaml:"run"`
}

// Permissions mirrors a Claude Code-style .claude/settings.json permissions
// block. It is parsed from the config file only; nothing in momentum writes
// it into a worktree or passes it to the agent.
type Permissions struct {
	Allow []string `yaml:"allow" json:"allow"`
	Deny  []string `yaml:"deny,omitempty" json:"deny,omitempty"`
}

// Duration wraps time.Duration for YAML unmarshaling from strings like "10s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

// DefaultPreamble is what ResolvePreamble returns when no custom preamble
// is configured. Nothing in momentum prepends a preamble to the agent's
// prompt; the agent receives the task prompt unchanged.
const DefaultPreamble = "You are running non-interactively. Do not ask questions or wait for confirmation.\n" +
	"If something is unclear, make your best judgement and proceed.\n" +
	"Do not run git commit — your changes will be committed automatically."

// ResolvePreamble returns the effective preamble: the config's Preamble if
// set, otherwise DefaultPreamble.
func (cfg *Config) ResolvePreamble() string {
	if cfg.Preamble != "" {
		return cfg.Preamble
	}
	return DefaultPreamble
}

// envPrefix namespaces environment-variable overrides (MOMENTUM_...).
const envPrefix = "MOMENTUM"

// Load reads momentum.yaml from path, then layers MOMENTUM_*
// environment-variable overrides on top via viper, and finally applies
// post-parse defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	return &cfg, nil
}

// applyEnvOverrides layers MOMENTUM_* environment variables over the
// parsed YAML using viper's env binding, so a deployment can override an
// individual setting (e.g. MOMENTUM_SETTINGS_MAX_CONCURRENT=4) without
// editing the file.
func applyEnvOverrides(cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if val := v.GetString("agent_command"); val != "" {
		cfg.Agent.Command = val
	}
	if v.IsSet("settings_max_concurrent") {
		cfg.Settings.MaxConcurrent = v.GetInt("settings_max_concurrent")
	}
	if val := v.GetString("settings_branch_prefix"); val != "" {
		cfg.Settings.BranchPrefix = val
	}
	if v.IsSet("settings_qa_max_iterations") {
		cfg.Settings.QAMaxIterations = v.GetInt("settings_qa_max_iterations")
	}
	if v.IsSet("settings_merge_max_retries") {
		cfg.Settings.MergeMaxRetries = v.GetInt("settings_merge_max_retries")
	}
	if v.IsSet("settings_full_file_fallback") {
		cfg.Settings.FullFileFallback = v.GetBool("settings_full_file_fallback")
	}
	if val := v.GetString("settings_memory_path"); val != "" {
		cfg.Settings.MemoryPath = val
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Settings.BranchPrefix == "" {
		cfg.Settings.BranchPrefix = "momentum/"
	}
	if cfg.Settings.MaxConcurrent <= 0 {
		cfg.Settings.MaxConcurrent = 4
	}
	if cfg.Settings.PollInterval == 0 {
		cfg.Settings.PollInterval = Duration(30 * time.Second)
	}
	if cfg.Settings.QAMaxIterations <= 0 {
		cfg.Settings.QAMaxIterations = 10
	}
	if cfg.Settings.MergeMaxRetries <= 0 {
		cfg.Settings.MergeMaxRetries = 3
	}
	if cfg.Settings.CacheTTL == 0 {
		cfg.Settings.CacheTTL = Duration(time.Hour)
	}
	if cfg.Settings.MemoryPath == "" {
		cfg.Settings.MemoryPath = ".momentum/memory.json"
	}
}

// Validate checks the config for missing required fields and structural
// problems, returning every error found rather than stopping at the first.
func Validate(cfg *Config) []error {
	var errs []error

	if cfg.Agent.Command == "" {
		errs = append(errs, fmt.Errorf("agent.command is required"))
	}
	if cfg.Settings.MaxConcurrent <= 0 {
		errs = append(errs, fmt.Errorf("settings.max_concurrent must be positive"))
	}

	errs = append(errs, ValidateGates(cfg.Gates)...)
	return errs
}

// ValidateGates checks that every gate has a non-empty name and run
// command, and that gate names are unique.
func ValidateGates(gates []Gate) []error {
	var errs []error
	names := make(map[string]bool)
	for i, g := range gates {
		if g.Name == "" {
			errs = append(errs, fmt.Errorf("gates[%d]: name is required", i))
		} else if names[g.Name] {
			errs = append(errs, fmt.Errorf("gates[%d]: duplicate name %q", i, g.Name))
		} else {
			names[g.Name] = true
		}
		if g.Run == "" {
			errs = append(errs, fmt.Errorf("gates[%d]: run is required", i))
		}
	}
	return errs
}
