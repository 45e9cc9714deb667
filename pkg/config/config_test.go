package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bus.Scope != "local" || cfg.Safety.MaxAgentTurns != 20 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if len(cfg.Safety.ProtectedNodes) == 0 || cfg.Safety.ProtectedNodes[0] != "roost-agent" {
		t.Errorf("agent node not protected by default: %v", cfg.Safety.ProtectedNodes)
	}
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roost.yaml")
	data := []byte(`
bus:
  scope: fleet
llm:
  model: llama3:8b
safety:
  protected_nodes: [roost-agent, safety-monitor]
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ROOST_MACHINE_ID", "rover-7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bus.Scope != "fleet" || cfg.LLM.Model != "llama3:8b" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Bus.MachineID != "rover-7" {
		t.Errorf("env override not applied: %q", cfg.Bus.MachineID)
	}
	if len(cfg.Safety.ProtectedNodes) != 2 {
		t.Errorf("protected nodes = %v", cfg.Safety.ProtectedNodes)
	}
}

func TestValidateNormalizesAllowedPaths(t *testing.T) {
	cfg := Default()
	cfg.Safety.AllowedDataPaths = []string{"/data//captures", "/tmp/roost"}
	if err := cfg.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	want := []string{"/data/captures/", "/tmp/roost/"}
	for i, p := range cfg.Safety.AllowedDataPaths {
		if p != want[i] {
			t.Errorf("path %d = %q, want %q", i, p, want[i])
		}
	}
}

func TestValidateRejectsBadPolicy(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero turns", func(c *Config) { c.Safety.MaxAgentTurns = 0 }},
		{"zero eval cap", func(c *Config) { c.Safety.MaxEvalsPerMinute = 0 }},
		{"no allowed paths", func(c *Config) { c.Safety.AllowedDataPaths = nil }},
		{"relative allowed path", func(c *Config) { c.Safety.AllowedDataPaths = []string{"data/"} }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := cfg.validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestEvalModelDefaultsToChatModel(t *testing.T) {
	cfg := Default()
	if err := cfg.validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.Watchers.EvalModel != cfg.LLM.Model || cfg.Watchers.EvalBaseURL != cfg.LLM.BaseURL {
		t.Errorf("eval backend not defaulted: %+v", cfg.Watchers)
	}
}
