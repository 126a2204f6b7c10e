// Package config loads the ambient runtime configuration: provider/model
// selection, retry/compaction tuning, observability sinks, and the optional
// transport bridge — from a YAML file with environment-variable overrides,
// following the teacher's own config-loading discipline.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for one agentloop process. A single
// process may host several sessions; per-session overrides (model, enabled
// tools) still flow through Runtime.Configure/SetModel at runtime.
type Config struct {
	Provider   ProviderConfig   `yaml:"provider"`
	Retry      RetryConfig      `yaml:"retry"`
	Compaction CompactionConfig `yaml:"compaction"`
	Tools      ToolsConfig      `yaml:"tools"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Transport  TransportConfig  `yaml:"transport"`
}

// ProviderConfig names the default provider/model a new session opens with.
type ProviderConfig struct {
	Name          string `yaml:"name"`
	Model         string `yaml:"model"`
	ContextWindow int    `yaml:"context_window"`
	MaxTokens     int    `yaml:"max_tokens"`
}

// RetryConfig mirrors retrypolicy.Policy's tunables.
type RetryConfig struct {
	BaseMillis    int `yaml:"base_ms"`
	CeilingMillis int `yaml:"ceiling_ms"`
	JitterMillis  int `yaml:"jitter_ms"`
	MaxAttempts   int `yaml:"max_attempts"`
}

// CompactionConfig mirrors compaction.Compactor/UsageTracker's tunables.
type CompactionConfig struct {
	Threshold          float64 `yaml:"threshold"`
	OverflowThreshold  float64 `yaml:"overflow_threshold"`
	KeepRecentTurns    int     `yaml:"keep_recent_turns"`
}

// ToolsConfig mirrors tools.RunnerConfig plus the enabled-tool allowlist.
type ToolsConfig struct {
	Enabled        []string      `yaml:"enabled"`
	Concurrency    int           `yaml:"concurrency"`
	PerCallTimeout time.Duration `yaml:"per_call_timeout"`
}

// LoggingConfig mirrors observability.LogConfig.
type LoggingConfig struct {
	Level          string   `yaml:"level"`
	Format         string   `yaml:"format"`
	AddSource      bool     `yaml:"add_source"`
	RedactPatterns []string `yaml:"redact_patterns"`
}

// MetricsConfig toggles the Prometheus metrics surface.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// TracingConfig mirrors observability.TraceConfig.
type TracingConfig struct {
	Enabled        bool    `yaml:"enabled"`
	ServiceName    string  `yaml:"service_name"`
	ServiceVersion string  `yaml:"service_version"`
	Environment    string  `yaml:"environment"`
	Endpoint       string  `yaml:"endpoint"`
	SampleRatio    float64 `yaml:"sample_ratio"`
}

// TransportConfig configures the optional websocket EventBus bridge.
type TransportConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// Default returns the baseline configuration used when no file is given.
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{
			Name:          "anthropic",
			Model:         "claude-sonnet-4",
			ContextWindow: 200_000,
			MaxTokens:     4096,
		},
		Retry: RetryConfig{
			BaseMillis:    1000,
			CeilingMillis: 30_000,
			JitterMillis:  250,
			MaxAttempts:   5,
		},
		Compaction: CompactionConfig{
			Threshold:         0.8,
			OverflowThreshold: 0.5,
			KeepRecentTurns:   4,
		},
		Tools: ToolsConfig{
			Concurrency:    8,
			PerCallTimeout: 60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
		},
		Transport: TransportConfig{
			Addr: ":8765",
			Path: "/events",
		},
	}
}

// Load reads a YAML configuration file, expands environment variables
// referenced in it, applies AGENTLOOP_-prefixed environment overrides on
// top, fills unset fields from Default, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		decoder := yaml.NewDecoder(strings.NewReader(expanded))
		decoder.KnownFields(true)
		if err := decoder.Decode(cfg); err != nil && err != io.EOF {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnvOverrides(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AGENTLOOP_PROVIDER"); v != "" {
		cfg.Provider.Name = v
	}
	if v := os.Getenv("AGENTLOOP_MODEL"); v != "" {
		cfg.Provider.Model = v
	}
	if v := os.Getenv("AGENTLOOP_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("AGENTLOOP_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("AGENTLOOP_TRANSPORT_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Transport.Enabled = b
		}
	}
}

func validate(cfg *Config) error {
	if cfg.Provider.Name == "" {
		return fmt.Errorf("config: provider.name is required")
	}
	if cfg.Provider.Model == "" {
		return fmt.Errorf("config: provider.model is required")
	}
	if cfg.Compaction.Threshold <= 0 || cfg.Compaction.Threshold > 1 {
		return fmt.Errorf("config: compaction.threshold must be in (0,1]")
	}
	if cfg.Compaction.OverflowThreshold <= 0 || cfg.Compaction.OverflowThreshold > cfg.Compaction.Threshold {
		return fmt.Errorf("config: compaction.overflow_threshold must be in (0, threshold]")
	}
	if cfg.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("config: retry.max_attempts must be positive")
	}
	return nil
}

// RetryDelays exposes the durations parsed from RetryConfig, applying
// package defaults for zero fields.
func (c RetryConfig) Durations() (base, ceiling, jitter time.Duration, maxAttempts int) {
	base = time.Duration(c.BaseMillis) * time.Millisecond
	if base <= 0 {
		base = time.Second
	}
	ceiling = time.Duration(c.CeilingMillis) * time.Millisecond
	if ceiling <= 0 {
		ceiling = 30 * time.Second
	}
	jitter = time.Duration(c.JitterMillis) * time.Millisecond
	if jitter <= 0 {
		jitter = 250 * time.Millisecond
	}
	maxAttempts = c.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return
}
