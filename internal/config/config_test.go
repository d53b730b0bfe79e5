package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadJSONWithEnvSubstitution(t *testing.T) {
	t.Setenv("BRAIN_TEST_KEY", "sk-test")
	path := writeFile(t, "brain.json", `{
		"server": {"port": 9001},
		"providers": [{"id": "main", "type": "openai", "api_key": "${BRAIN_TEST_KEY}", "model": "${BRAIN_TEST_MODEL:gpt-4o-mini}"}]
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9001 {
		t.Errorf("expected port 9001, got %d", cfg.Server.Port)
	}
	if cfg.Providers[0].APIKey != "sk-test" {
		t.Errorf("expected substituted key, got %q", cfg.Providers[0].APIKey)
	}
	if cfg.Providers[0].Model != "gpt-4o-mini" {
		t.Errorf("expected default model, got %q", cfg.Providers[0].Model)
	}
	// Untouched sections keep their defaults.
	if cfg.Memory.TimeoutMS != 500 {
		t.Errorf("expected memory timeout 500, got %d", cfg.Memory.TimeoutMS)
	}
	if cfg.Routing.Policy != PolicyPrimary {
		t.Errorf("expected primary policy, got %q", cfg.Routing.Policy)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "brain.yaml", `
routing:
  policy: confidence
reasoning:
  max_steps: 4
  run_timeout_ms: 1500
memory:
  backend: local
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Routing.Policy != PolicyConfidence {
		t.Errorf("expected confidence policy, got %q", cfg.Routing.Policy)
	}
	if cfg.Reasoning.MaxSteps != 4 {
		t.Errorf("expected 4 steps, got %d", cfg.Reasoning.MaxSteps)
	}
	if cfg.Reasoning.RunTimeout() != 1500*time.Millisecond {
		t.Errorf("unexpected run timeout %v", cfg.Reasoning.RunTimeout())
	}
	if cfg.Memory.Backend != BackendLocal {
		t.Errorf("expected local backend, got %q", cfg.Memory.Backend)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("ENABLE_MEMORY", "true")
	t.Setenv("MEMORY_TIMEOUT_MS", "750")
	t.Setenv("LLM_PROVIDER", "anthropic")
	t.Setenv("LLM_MODEL", "claude-test")
	t.Setenv("LLM_TEMPERATURE", "0.2")

	cfg := Default()
	cfg.Providers = []ProviderConfig{
		{ID: "a", Type: "openai", Model: "gpt"},
		{ID: "b", Type: "anthropic", Model: "old"},
	}
	ApplyEnv(cfg)

	if !cfg.Memory.Enabled {
		t.Error("expected memory enabled")
	}
	if cfg.Memory.Timeout() != 750*time.Millisecond {
		t.Errorf("unexpected memory timeout %v", cfg.Memory.Timeout())
	}
	if cfg.Providers[0].ID != "b" || cfg.Providers[0].Model != "claude-test" {
		t.Errorf("expected anthropic provider first with overridden model, got %+v", cfg.Providers[0])
	}
	if cfg.Reasoning.Temperature != 0.2 {
		t.Errorf("expected temperature 0.2, got %v", cfg.Reasoning.Temperature)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"routing policy", func(c *Config) { c.Routing.Policy = "random" }},
		{"memory backend", func(c *Config) { c.Memory.Backend = "sqlite" }},
		{"max steps", func(c *Config) { c.Reasoning.MaxSteps = 0 }},
		{"provider id", func(c *Config) { c.Providers = []ProviderConfig{{Type: "openai"}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestShippedConfigs(t *testing.T) {
	for _, name := range []string{"brain.json", "brain.example.yaml"} {
		cfg, err := Load(filepath.Join("..", "..", "configs", name))
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if len(cfg.Providers) != 2 {
			t.Errorf("%s: expected 2 providers, got %d", name, len(cfg.Providers))
		}
		if cfg.Routing.Primary != "personal_assistant" {
			t.Errorf("%s: unexpected primary %q", name, cfg.Routing.Primary)
		}
	}
}
