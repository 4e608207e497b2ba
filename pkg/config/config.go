// Package config loads and validates the engine configuration: an optional
// YAML file merged over built-in defaults, with ${VAR} environment
// expansion.
package config

import (
	"fmt"
	"time"
)

// Agent role names used for per-role model overrides.
const (
	RolePlanner  = "planner"
	RoleSearcher = "searcher"
	RoleAnalyst  = "analyst"
	RoleWriter   = "writer"
	RoleCritic   = "critic"
)

// Config is the umbrella configuration returned by Load.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	LLM      LLMConfig      `yaml:"llm"`
	Search   SearchConfig   `yaml:"search"`
	Redis    RedisConfig    `yaml:"redis"`
	Research ResearchConfig `yaml:"research"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// AgentModel overrides the model for one role.
type AgentModel struct {
	Model string `yaml:"model"`
}

// LLMConfig configures the chat-completion provider.
type LLMConfig struct {
	BaseURL        string                `yaml:"base_url"`
	APIKey         string                `yaml:"api_key"`
	Model          string                `yaml:"model"`
	Temperature    float64               `yaml:"temperature"`
	MaxTokens      int                   `yaml:"max_tokens"`
	TimeoutSeconds int                   `yaml:"timeout_seconds"`
	Agents         map[string]AgentModel `yaml:"agents"`
}

// ModelFor returns the model for a role, falling back to the default.
func (c LLMConfig) ModelFor(role string) string {
	if override, ok := c.Agents[role]; ok && override.Model != "" {
		return override.Model
	}
	return c.Model
}

// SearchConfig configures the web-search provider.
type SearchConfig struct {
	Endpoint       string `yaml:"endpoint"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the search request timeout.
func (c SearchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RedisConfig configures the cancellation flag store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ResearchConfig holds run defaults.
type ResearchConfig struct {
	MaxIterations      int `yaml:"max_iterations"`
	SectionConcurrency int `yaml:"section_concurrency"`
	MaxSearchDepth     int `yaml:"max_search_depth"`
	QueueCapacity      int `yaml:"queue_capacity"`
}

// SandboxConfig configures the analysis-code runner.
type SandboxConfig struct {
	PythonBin      string `yaml:"python_bin"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the per-execution wall-clock limit.
func (c SandboxConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Validate checks ranges and required fields.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be in (0, 65535], got %d", c.HTTP.Port)
	}
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("llm.base_url is required")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be in [0, 2], got %g", c.LLM.Temperature)
	}
	for role := range c.LLM.Agents {
		switch role {
		case RolePlanner, RoleSearcher, RoleAnalyst, RoleWriter, RoleCritic:
		default:
			return fmt.Errorf("llm.agents: unknown role %q", role)
		}
	}
	if c.Research.MaxIterations < 0 {
		return fmt.Errorf("research.max_iterations must be >= 0, got %d", c.Research.MaxIterations)
	}
	if c.Research.SectionConcurrency < 1 {
		return fmt.Errorf("research.section_concurrency must be >= 1, got %d", c.Research.SectionConcurrency)
	}
	if c.Research.MaxSearchDepth < 0 {
		return fmt.Errorf("research.max_search_depth must be >= 0, got %d", c.Research.MaxSearchDepth)
	}
	return nil
}
