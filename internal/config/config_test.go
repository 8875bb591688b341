package config

import (
	"os"
	"testing"
	"time"
)

const sampleYAML = `
agent:
  command: claude
  args: ["-p"]
settings:
  max_concurrent: 2
  poll_interval: 10s
gates:
  - name: lint
    run: golangci-lint run
`

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Settings.BranchPrefix != "momentum/" {
		t.Errorf("BranchPrefix = %q, want momentum/", cfg.Settings.BranchPrefix)
	}
	if cfg.Settings.QAMaxIterations != 10 {
		t.Errorf("QAMaxIterations = %d, want 10", cfg.Settings.QAMaxIterations)
	}
	if cfg.Settings.MergeMaxRetries != 3 {
		t.Errorf("MergeMaxRetries = %d, want 3", cfg.Settings.MergeMaxRetries)
	}
	if cfg.Settings.MemoryPath != ".momentum/memory.json" {
		t.Errorf("MemoryPath = %q, want .momentum/memory.json", cfg.Settings.MemoryPath)
	}
	if cfg.Settings.PollInterval.Duration() != 10*time.Second {
		t.Errorf("PollInterval = %v, want 10s", cfg.Settings.PollInterval.Duration())
	}
}

func TestParsePreservesExplicitMaxConcurrent(t *testing.T) {
	cfg, err := parse([]byte(sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Settings.MaxConcurrent != 2 {
		t.Errorf("MaxConcurrent = %d, want 2", cfg.Settings.MaxConcurrent)
	}
}

func TestEnvOverrideWinsOverYAMLDefault(t *testing.T) {
	t.Setenv("MOMENTUM_SETTINGS_MAX_CONCURRENT", "8")
	cfg, err := parse([]byte(sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Settings.MaxConcurrent != 8 {
		t.Errorf("MaxConcurrent = %d, want 8 from env override", cfg.Settings.MaxConcurrent)
	}
}

func TestValidateRequiresAgentCommand(t *testing.T) {
	cfg := &Config{Settings: Settings{MaxConcurrent: 1}}
	errs := Validate(cfg)
	if len(errs) == 0 {
		t.Fatal("want at least one error for missing agent.command")
	}
}

func TestValidateGatesRejectsDuplicateNames(t *testing.T) {
	errs := ValidateGates([]Gate{
		{Name: "lint", Run: "golangci-lint run"},
		{Name: "lint", Run: "go vet ./..."},
	})
	if len(errs) == 0 {
		t.Fatal("want duplicate-name error")
	}
}

func TestResolvePreambleFallsBackToDefault(t *testing.T) {
	cfg := &Config{}
	if cfg.ResolvePreamble() != DefaultPreamble {
		t.Error("want DefaultPreamble when Preamble is unset")
	}
	cfg.Preamble = "custom"
	if cfg.ResolvePreamble() != "custom" {
		t.Error("want custom preamble to take precedence")
	}
}

func TestLoadReadsFileFromDisk(t *testing.T) {
	path := t.TempDir() + "/momentum.yaml"
	if err := os.WriteFile(path, []byte(sampleYAML), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.Command != "claude" {
		t.Errorf("Agent.Command = %q, want claude", cfg.Agent.Command)
	}
}
