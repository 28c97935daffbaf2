package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Default returns the configuration relay init writes: local models only,
// every category covered, one agent per broad role. Remote HTTP backends
// are added by the user afterwards.
func Default() *Config {
	cfg := &Config{
		Models: map[string]Model{
			"llama3.2":      {Backend: "local", MaxRequests: 500, Window: Duration{Duration: time.Hour}},
			"qwen2.5-coder": {Backend: "local", MaxRequests: 200, Window: Duration{Duration: time.Hour}},
			"deepseek-r1":   {Backend: "local", MaxRequests: 100, Window: Duration{Duration: time.Hour}},
			"llava":         {Backend: "local", MaxRequests: 100, Window: Duration{Duration: time.Hour}},
		},
		Categories: map[string][]string{
			"planning":  {"deepseek-r1", "llama3.2"},
			"reasoning": {"deepseek-r1", "llama3.2"},
			"coding":    {"qwen2.5-coder", "llama3.2"},
			"review":    {"qwen2.5-coder", "deepseek-r1"},
			"quick":     {"llama3.2"},
			"vision":    {"llava"},
			"image_gen": {"llava"},
		},
		Agents: map[string]Agent{
			"planner":   {Model: "deepseek-r1", Role: "planning and decomposition"},
			"analyst":   {Model: "deepseek-r1", Role: "reasoning and analysis"},
			"coder":     {Model: "qwen2.5-coder", Role: "implementation"},
			"reviewer":  {Model: "qwen2.5-coder", Role: "code and text review"},
			"assistant": {Model: "llama3.2", Role: "quick answers"},
		},
	}
	applyDefaults(cfg)
	return cfg
}

// WriteDefault writes the default configuration to path. It refuses to
// overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config: %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: create %s: %w", path, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(Default()); err != nil {
		return fmt.Errorf("config: encode default: %w", err)
	}
	return nil
}
