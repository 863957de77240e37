// Package config loads the jimi.toml configuration for the CLI.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the full CLI configuration.
type Config struct {
	LLM      LLMConfig                `toml:"llm"`
	Agent    AgentConfig              `toml:"agent"`
	Approval ApprovalConfig           `toml:"approval"`
	Search   SearchConfig             `toml:"search"`
	Memory   MemoryConfig             `toml:"memory"`
	Shell    ShellConfig              `toml:"shell"`
	Observer ObserverConfig           `toml:"observer"`
	Pricing  map[string]PricingConfig `toml:"pricing"`
}

// LLMConfig selects and authenticates the chat provider. The API key,
// base URL, and model are overridable by the JIMI_API_KEY,
// JIMI_BASE_URL, and JIMI_MODEL environment variables.
type LLMConfig struct {
	Provider  string `toml:"provider"`
	Model     string `toml:"model"`
	APIKey    string `toml:"api_key"`
	BaseURL   string `toml:"base_url"`
	Streaming *bool  `toml:"streaming"`
	// ContextWindow is the model context size in tokens.
	ContextWindow int `toml:"context_window"`
	// Retry/rate limiting.
	MaxAttempts int `toml:"max_attempts"`
	RPM         int `toml:"rpm"`
	TPM         int `toml:"tpm"`
}

// AgentConfig declares the root agent and its subagents.
type AgentConfig struct {
	Name         string                    `toml:"name"`
	SystemPrompt string                    `toml:"system_prompt"`
	AllowedTools []string                  `toml:"allowed_tools"`
	MaxSteps     int                       `toml:"max_steps"`
	Subagents    map[string]SubagentConfig `toml:"subagents"`
}

// SubagentConfig declares one named subagent.
type SubagentConfig struct {
	SystemPrompt string   `toml:"system_prompt"`
	AllowedTools []string `toml:"allowed_tools"`
}

// ApprovalConfig tunes the approval gate and input guard.
type ApprovalConfig struct {
	Yolo            bool   `toml:"yolo"`
	InjectionAction string `toml:"injection_action"` // log, warn, block, off
}

// SearchConfig configures the SearchWeb tool.
type SearchConfig struct {
	BraveAPIKey string `toml:"brave_api_key"`
}

// MemoryConfig configures long-term memory.
type MemoryConfig struct {
	Backend     string `toml:"backend"` // "sqlite", "postgres", "off"
	Path        string `toml:"path"`    // sqlite file
	PostgresURL string `toml:"postgres_url"`
}

// ShellConfig configures the Bash tool.
type ShellConfig struct {
	// SandboxImage, when set, runs commands in a Docker container of
	// this image instead of directly on the host.
	SandboxImage string `toml:"sandbox_image"`
}

// ObserverConfig toggles OTEL export.
type ObserverConfig struct {
	Enabled bool `toml:"enabled"`
}

// PricingConfig is per-million-token pricing for one model.
type PricingConfig struct {
	Input  float64 `toml:"input"`
	Output float64 `toml:"output"`
}

// defaultSystemPrompt is used when the config declares none. The
// {{...}} variables are expanded by the runtime.
const defaultSystemPrompt = `You are jimi, an AI coding agent working in {{workdir}}.
Current time: {{now}}.

Workspace contents:
{{workdir_listing}}

{{agents_md}}

Work step by step: inspect before you change, run commands to verify,
and report what you did. Prefer small, reviewable edits.`

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		LLM: LLMConfig{
			Provider:      "openai",
			Model:         "gpt-4.1",
			ContextWindow: 200_000,
			MaxAttempts:   3,
		},
		Agent: AgentConfig{
			Name:         "jimi",
			SystemPrompt: defaultSystemPrompt,
			MaxSteps:     40,
		},
		Approval: ApprovalConfig{InjectionAction: "warn"},
		Memory:   MemoryConfig{Backend: "sqlite", Path: "jimi.db"},
	}
}

// Load reads the config file at path (or the defaults when path is
// empty or missing) and applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, err
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

// DefaultPath returns the conventional config location in workdir.
func DefaultPath(workdir string) string {
	return filepath.Join(workdir, "jimi.toml")
}

// applyEnv overlays the provider environment variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv("JIMI_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("JIMI_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("JIMI_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("JIMI_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("BRAVE_API_KEY"); v != "" && cfg.Search.BraveAPIKey == "" {
		cfg.Search.BraveAPIKey = v
	}
}

// Validate rejects configurations a session cannot start with.
func (c Config) Validate() error {
	if c.LLM.Provider == "" {
		return fmt.Errorf("llm.provider is required")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if c.Agent.Name == "" {
		return fmt.Errorf("agent.name is required")
	}
	switch c.Memory.Backend {
	case "", "off", "sqlite", "postgres":
	default:
		return fmt.Errorf("memory.backend %q is not one of off, sqlite, postgres", c.Memory.Backend)
	}
	return nil
}
