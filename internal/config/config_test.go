package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "agentloop.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider.Name != "anthropic" {
		t.Fatalf("expected default provider, got %q", cfg.Provider.Name)
	}
	if cfg.Compaction.Threshold != 0.8 {
		t.Fatalf("expected default threshold 0.8, got %v", cfg.Compaction.Threshold)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "provider:\n  name: anthropic\n  model: claude-sonnet-4\nbogus: true\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadValidatesModelRequired(t *testing.T) {
	path := writeConfig(t, "provider:\n  name: anthropic\n  model: \"\"\n")
	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestLoadValidatesCompactionThreshold(t *testing.T) {
	path := writeConfig(t, "provider:\n  name: anthropic\n  model: claude-sonnet-4\ncompaction:\n  threshold: 1.5\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error for threshold > 1")
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("AGENTLOOP_TEST_MODEL", "claude-opus-4")
	path := writeConfig(t, "provider:\n  name: anthropic\n  model: ${AGENTLOOP_TEST_MODEL}\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider.Model != "claude-opus-4" {
		t.Fatalf("expected expanded model, got %q", cfg.Provider.Model)
	}
}

func TestEnvOverrideWins(t *testing.T) {
	t.Setenv("AGENTLOOP_MODEL", "claude-haiku-4")
	path := writeConfig(t, "provider:\n  name: anthropic\n  model: claude-sonnet-4\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider.Model != "claude-haiku-4" {
		t.Fatalf("expected env override, got %q", cfg.Provider.Model)
	}
}

func TestRetryDurationsDefaults(t *testing.T) {
	var rc RetryConfig
	base, ceiling, jitter, attempts := rc.Durations()
	if base.String() != "1s" || ceiling.String() != "30s" || jitter.String() != "250ms" || attempts != 5 {
		t.Fatalf("unexpected retry defaults: %v %v %v %d", base, ceiling, jitter, attempts)
	}
}
