package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"regexp"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		HTTP: HTTPConfig{Port: 8080},
		LLM: LLMConfig{
			BaseURL:        "https://api.openai.com/v1",
			Model:          "gpt-4o-mini",
			Temperature:    0.7,
			MaxTokens:      4096,
			TimeoutSeconds: 120,
		},
		Search: SearchConfig{
			Endpoint:       "https://api.bochaai.com/v1/web-search",
			TimeoutSeconds: 30,
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Research: ResearchConfig{
			MaxIterations:      2,
			SectionConcurrency: 3,
			MaxSearchDepth:     2,
			QueueCapacity:      1000,
		},
		Sandbox: SandboxConfig{
			PythonBin:      "python3",
			TimeoutSeconds: 60,
		},
	}
}

// envVarRe matches ${VAR} references in the YAML file.
var envVarRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv substitutes ${VAR} references with environment values.
// Unset variables expand to the empty string.
func expandEnv(raw []byte) []byte {
	return envVarRe.ReplaceAllFunc(raw, func(match []byte) []byte {
		name := envVarRe.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// Load reads the YAML file at path (optional: a missing file yields the
// defaults), expands environment references, merges the file over the
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		slog.Info("No config file found, using defaults", "path", path)
	case err != nil:
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	default:
		var fileCfg Config
		if err := yaml.Unmarshal(expandEnv(raw), &fileCfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
		if err := mergo.Merge(cfg, &fileCfg, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merging config file %s: %w", path, err)
		}
		slog.Info("Loaded configuration", "path", path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
