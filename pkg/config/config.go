// Package config loads the roost configuration: a YAML file merged with
// environment variable overrides. The safety policy is validated here once;
// a malformed policy is the only fatal configuration condition.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v6"
	"gopkg.in/yaml.v3"
)

// Config is the full daemon configuration.
type Config struct {
	Bus      Bus               `yaml:"bus"`
	LLM      LLM               `yaml:"llm"`
	Watchers Watchers          `yaml:"watchers"`
	Safety   Safety            `yaml:"safety"`
	HTTP     HTTP              `yaml:"http"`
	Topics   map[string]string `yaml:"topics"` // topic suffixes to buffer from startup; value hints the message type for decoding
}

// Bus configures connectivity to the pub/sub bus.
type Bus struct {
	Endpoint  string `yaml:"endpoint" env:"ROOST_BUS_ENDPOINT"`
	Scope     string `yaml:"scope" env:"ROOST_SCOPE"`
	MachineID string `yaml:"machine_id" env:"ROOST_MACHINE_ID"`
}

// LLM configures the OpenAI-compatible model backend.
type LLM struct {
	BaseURL     string  `yaml:"base_url" env:"ROOST_LLM_BASE_URL"`
	Model       string  `yaml:"model" env:"ROOST_LLM_MODEL"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float32 `yaml:"temperature"`
	TimeoutSec  int     `yaml:"timeout_sec"`
}

// Watchers configures the watcher engine and its evaluation model, which may
// be a smaller model than the main agent's.
type Watchers struct {
	EvalBaseURL string `yaml:"eval_base_url"`
	EvalModel   string `yaml:"eval_model"`
}

// Safety is the static safety policy. Loaded once at startup and read-only
// thereafter.
type Safety struct {
	ProtectedNodes    []string `yaml:"protected_nodes" env:"ROOST_PROTECTED_NODES" envSeparator:","`
	AllowedDataPaths  []string `yaml:"allowed_data_paths" env:"ROOST_ALLOWED_DATA_PATHS" envSeparator:","`
	MaxEvalsPerMinute int      `yaml:"max_evaluations_per_minute"`
	MaxAgentTurns     int      `yaml:"max_agent_turns"`
}

// HTTP configures the operator API server.
type HTTP struct {
	Host string `yaml:"host" env:"ROOST_HTTP_HOST"`
	Port int    `yaml:"port" env:"ROOST_HTTP_PORT"`
}

// Default returns a configuration with baseline values, used when no config
// file is present.
func Default() *Config {
	host, _ := os.Hostname()
	return &Config{
		Bus: Bus{
			Endpoint:  "tcp/127.0.0.1:7447",
			Scope:     "local",
			MachineID: host,
		},
		LLM: LLM{
			BaseURL:     "http://localhost:11434/v1",
			Model:       "qwen2.5:7b",
			MaxTokens:   4096,
			Temperature: 0.1,
			TimeoutSec:  120,
		},
		Safety: Safety{
			ProtectedNodes:    []string{"roost-agent"},
			AllowedDataPaths:  []string{"/data/", "/tmp/roost/"},
			MaxEvalsPerMinute: 10,
			MaxAgentTurns:     20,
		},
		HTTP: HTTP{
			Host: "127.0.0.1",
			Port: 8080,
		},
	}
}

// Load reads the YAML file at path (missing file is not an error), applies
// environment overrides, and validates the safety policy.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Defaults apply.
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Safety.MaxAgentTurns <= 0 {
		return fmt.Errorf("safety policy: max_agent_turns must be positive, got %d", c.Safety.MaxAgentTurns)
	}
	if c.Safety.MaxEvalsPerMinute <= 0 {
		return fmt.Errorf("safety policy: max_evaluations_per_minute must be positive, got %d", c.Safety.MaxEvalsPerMinute)
	}
	if len(c.Safety.AllowedDataPaths) == 0 {
		return fmt.Errorf("safety policy: allowed_data_paths must not be empty")
	}
	for i, p := range c.Safety.AllowedDataPaths {
		if !filepath.IsAbs(p) {
			return fmt.Errorf("safety policy: allowed path %q is not absolute", p)
		}
		// Normalize to a clean prefix with a trailing separator so that
		// /data does not admit /database.
		c.Safety.AllowedDataPaths[i] = strings.TrimSuffix(filepath.Clean(p), "/") + "/"
	}
	if c.Watchers.EvalBaseURL == "" {
		c.Watchers.EvalBaseURL = c.LLM.BaseURL
	}
	if c.Watchers.EvalModel == "" {
		c.Watchers.EvalModel = c.LLM.Model
	}
	return nil
}
