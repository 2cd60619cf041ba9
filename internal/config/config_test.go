package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Daemon.HTTPAddr != "127.0.0.1:7733" {
		t.Errorf("Expected http_addr=127.0.0.1:7733, got %s", cfg.Daemon.HTTPAddr)
	}
	if cfg.Daemon.LogLevel != "info" {
		t.Errorf("Expected log_level=info, got %s", cfg.Daemon.LogLevel)
	}
	if cfg.Events.Enabled {
		t.Error("Expected events.enabled=false by default")
	}
	if cfg.Scoring.UtilizationCeiling != 85 {
		t.Errorf("Expected utilization_ceiling=85, got %v", cfg.Scoring.UtilizationCeiling)
	}
	if cfg.Lifecycle.SuggestionTTL != 24*time.Hour {
		t.Errorf("Expected suggestion_ttl=24h, got %v", cfg.Lifecycle.SuggestionTTL)
	}
	if cfg.Learning.SuppressMinSamples != 20 {
		t.Errorf("Expected suppress_min_samples=20, got %d", cfg.Learning.SuppressMinSamples)
	}
	if cfg.Explain.Provider != "auto" {
		t.Errorf("Expected provider=auto, got %s", cfg.Explain.Provider)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}
}

func TestConfigGet(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		key      string
		expected string
	}{
		{"daemon.http_addr", "127.0.0.1:7733"},
		{"daemon.grpc_addr", "127.0.0.1:7734"},
		{"daemon.log_level", "info"},
		{"daemon.log_format", "text"},
		{"daemon.log_stderr", "false"},
		{"daemon.sweep_interval", "1m0s"},
		{"storage.db_path", ""},
		{"storage.retention_days", "90"},
		{"storage.maintenance_interval", "1h0m0s"},
		{"events.enabled", "false"},
		{"events.nats_subject", "prizm.events.>"},
		{"scoring.utilization_ceiling", "85"},
		{"scoring.confidence_floor", "0.3"},
		{"scoring.data_volume_reference", "10"},
		{"lifecycle.suggestion_ttl", "24h0m0s"},
		{"lifecycle.threshold_pcts", "85"},
		{"learning.min_samples", "5"},
		{"learning.suppress_helpful_below", "0.3"},
		{"explain.provider", "auto"},
		{"explain.timeout", "3s"},
		{"explain.breaker_threshold", "5"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := cfg.Get(tt.key)
			if err != nil {
				t.Fatalf("Get(%s) error: %v", tt.key, err)
			}
			if got != tt.expected {
				t.Errorf("Get(%s) = %q, want %q", tt.key, got, tt.expected)
			}
		})
	}
}

func TestConfigGet_ListKeysAreReadable(t *testing.T) {
	cfg := DefaultConfig()
	for _, key := range ListKeys() {
		if _, err := cfg.Get(key); err != nil {
			t.Errorf("Get(%s) error: %v", key, err)
		}
	}
}

func TestConfigSet(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"daemon.http_addr", ":9000"},
		{"daemon.log_level", "debug"},
		{"daemon.log_format", "json"},
		{"daemon.log_stderr", "true"},
		{"daemon.sweep_interval", "0s"},
		{"storage.retention_days", "0"},
		{"storage.maintenance_interval", "30m0s"},
		{"events.enabled", "true"},
		{"events.nats_url", "nats://nats:4222"},
		{"scoring.utilization_ceiling", "90"},
		{"scoring.recency_half_life", "168h0m0s"},
		{"lifecycle.suggestion_ttl", "1h0m0s"},
		{"lifecycle.threshold_pcts", "75,90"},
		{"learning.suppress_action_at_most", "0.1"},
		{"explain.provider", "none"},
		{"explain.rate_per_minute", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			cfg := DefaultConfig()
			if err := cfg.Set(tt.key, tt.value); err != nil {
				t.Fatalf("Set(%s, %s) error: %v", tt.key, tt.value, err)
			}
			got, err := cfg.Get(tt.key)
			if err != nil {
				t.Fatalf("Get(%s) error: %v", tt.key, err)
			}
			if got != tt.value {
				t.Errorf("Get(%s) = %q after Set, want %q", tt.key, got, tt.value)
			}
		})
	}
}

func TestConfigSet_Invalid(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"daemon.log_level", "verbose"},
		{"daemon.log_format", "xml"},
		{"daemon.http_addr", ""},
		{"daemon.sweep_interval", "-1s"},
		{"storage.retention_days", "-5"},
		{"storage.maintenance_interval", "soon"},
		{"events.enabled", "maybe"},
		{"scoring.confidence_floor", "1.5"},
		{"scoring.data_volume_reference", "0"},
		{"lifecycle.suggestion_ttl", "0s"},
		{"lifecycle.threshold_pcts", "abc"},
		{"learning.min_samples", "zero"},
		{"explain.provider", "openai"},
		{"explain.breaker_threshold", "0"},
		{"weights.bogus.skill_match", "0.5"},
		{"weights.assignment.skill_match", "2"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			cfg := DefaultConfig()
			if err := cfg.Set(tt.key, tt.value); err == nil {
				t.Errorf("Set(%s, %s) should fail", tt.key, tt.value)
			}
		})
	}
}

func TestConfigUnknownKeys(t *testing.T) {
	cfg := DefaultConfig()

	for _, key := range []string{"bogus.key", "daemon.bogus", "explain.api_key", "weights.assignment.skill_match"} {
		if _, err := cfg.Get(key); !errors.Is(err, ErrUnknownKey) {
			t.Errorf("Get(%s) error = %v, want ErrUnknownKey", key, err)
		}
	}
	if err := cfg.Set("daemon.bogus", "x"); !errors.Is(err, ErrUnknownKey) {
		t.Errorf("Set(daemon.bogus) error = %v, want ErrUnknownKey", err)
	}
	if _, err := cfg.Get("nodots"); err == nil {
		t.Error("Get without a section should fail")
	}
}

func TestConfigWeights(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Set("weights.coaching.reliability_gap", "0.6"); err != nil {
		t.Fatalf("Set weight error: %v", err)
	}
	if err := cfg.Set("weights.coaching.quality", "0.4"); err != nil {
		t.Fatalf("Set weight error: %v", err)
	}
	got, err := cfg.Get("weights.coaching.reliability_gap")
	if err != nil {
		t.Fatalf("Get weight error: %v", err)
	}
	if got != "0.6" {
		t.Errorf("Expected 0.6, got %s", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Weights summing to 1 should validate: %v", err)
	}

	if err := cfg.Set("weights.coaching.quality", "0.3"); err != nil {
		t.Fatalf("Set weight error: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("Weights summing to 0.9 should fail validation")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad log level", func(c *Config) { c.Daemon.LogLevel = "trace" }},
		{"empty http addr", func(c *Config) { c.Daemon.HTTPAddr = "" }},
		{"events without url", func(c *Config) { c.Events.Enabled = true; c.Events.NATSURL = "" }},
		{"zero ceiling", func(c *Config) { c.Scoring.UtilizationCeiling = 0 }},
		{"negative penalty", func(c *Config) { c.Scoring.MissingSignalPenalty = -0.1 }},
		{"zero ttl", func(c *Config) { c.Lifecycle.SuggestionTTL = 0 }},
		{"negative threshold", func(c *Config) { c.Lifecycle.ThresholdPcts = []float64{-5} }},
		{"zero min samples", func(c *Config) { c.Learning.MinSamples = 0 }},
		{"unknown provider", func(c *Config) { c.Explain.Provider = "gpt" }},
		{"unknown weight category", func(c *Config) {
			c.Scoring.Weights = map[string]map[string]float64{"hiring": {"skill_match": 1}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestLoadFromFile_Missing(t *testing.T) {
	t.Setenv("PRIZM_LOG_LEVEL", "")

	cfg, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadFromFile error: %v", err)
	}
	if cfg.Daemon.HTTPAddr != DefaultConfig().Daemon.HTTPAddr {
		t.Errorf("Expected defaults for a missing file, got http_addr=%s", cfg.Daemon.HTTPAddr)
	}
}

func TestLoadFromFile_Partial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
scoring:
  utilization_ceiling: 90
lifecycle:
  suggestion_ttl: 2h
explain:
  provider: none
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile error: %v", err)
	}
	if cfg.Scoring.UtilizationCeiling != 90 {
		t.Errorf("Expected utilization_ceiling=90, got %v", cfg.Scoring.UtilizationCeiling)
	}
	if cfg.Lifecycle.SuggestionTTL != 2*time.Hour {
		t.Errorf("Expected suggestion_ttl=2h, got %v", cfg.Lifecycle.SuggestionTTL)
	}
	if cfg.Explain.Provider != "none" {
		t.Errorf("Expected provider=none, got %s", cfg.Explain.Provider)
	}
	// Unset fields keep their defaults.
	if cfg.Learning.MinSamples != 5 {
		t.Errorf("Expected min_samples default 5, got %d", cfg.Learning.MinSamples)
	}
}

func TestLoadFromFile_Invalid(t *testing.T) {
	dir := t.TempDir()

	badYAML := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(badYAML, []byte("daemon: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromFile(badYAML); err == nil {
		t.Error("Expected parse error")
	}

	badValue := filepath.Join(dir, "value.yaml")
	if err := os.WriteFile(badValue, []byte("daemon:\n  log_level: loud\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := LoadFromFile(badValue)
	if err == nil || !strings.Contains(err.Error(), "invalid config") {
		t.Errorf("Expected invalid config error, got %v", err)
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Daemon.LogLevel = "warn"
	cfg.Lifecycle.ThresholdPcts = []float64{70, 90}
	cfg.Scoring.Weights = map[string]map[string]float64{
		"coaching": {"reliability_gap": 0.5, "quality": 0.5},
	}

	if err := cfg.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile error: %v", err)
	}

	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile error: %v", err)
	}
	if loaded.Daemon.LogLevel != "warn" {
		t.Errorf("Expected log_level=warn, got %s", loaded.Daemon.LogLevel)
	}
	if len(loaded.Lifecycle.ThresholdPcts) != 2 || loaded.Lifecycle.ThresholdPcts[1] != 90 {
		t.Errorf("Expected threshold_pcts=[70 90], got %v", loaded.Lifecycle.ThresholdPcts)
	}
	if loaded.Scoring.Weights["coaching"]["quality"] != 0.5 {
		t.Errorf("Expected coaching quality weight 0.5, got %v", loaded.Scoring.Weights["coaching"])
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("PRIZM_LOG_LEVEL", "error")
	t.Setenv("PRIZM_HTTP_ADDR", ":8080")
	t.Setenv("PRIZM_NATS_URL", "nats://bus:4222")
	t.Setenv("PRIZM_EXPLAIN_PROVIDER", "bogus")
	t.Setenv("PRIZM_SUGGESTION_TTL", "30m")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	if cfg.Daemon.LogLevel != "error" {
		t.Errorf("Expected log_level=error, got %s", cfg.Daemon.LogLevel)
	}
	if cfg.Daemon.HTTPAddr != ":8080" {
		t.Errorf("Expected http_addr=:8080, got %s", cfg.Daemon.HTTPAddr)
	}
	if !cfg.Events.Enabled || cfg.Events.NATSURL != "nats://bus:4222" {
		t.Errorf("Expected NATS enabled at nats://bus:4222, got enabled=%v url=%s", cfg.Events.Enabled, cfg.Events.NATSURL)
	}
	if cfg.Explain.Provider != "auto" {
		t.Errorf("Invalid provider override should be ignored, got %s", cfg.Explain.Provider)
	}
	if cfg.Lifecycle.SuggestionTTL != 30*time.Minute {
		t.Errorf("Expected suggestion_ttl=30m, got %v", cfg.Lifecycle.SuggestionTTL)
	}
}

func TestApplyEnvOverrides_Debug(t *testing.T) {
	t.Setenv("PRIZM_LOG_LEVEL", "")
	t.Setenv("PRIZM_DEBUG", "1")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	if cfg.Daemon.LogLevel != "debug" {
		t.Errorf("Expected log_level=debug, got %s", cfg.Daemon.LogLevel)
	}
}
