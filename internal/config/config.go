package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/runger/prizm/internal/suggestions/model"
)

// ErrUnknownKey is returned by Get and Set for keys that do not exist.
var ErrUnknownKey = errors.New("unknown config key")

// Config represents the prizm configuration.
type Config struct {
	Daemon    DaemonConfig    `yaml:"daemon"`
	Storage   StorageConfig   `yaml:"storage"`
	Events    EventsConfig    `yaml:"events"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Learning  LearningConfig  `yaml:"learning"`
	Explain   ExplainConfig   `yaml:"explain"`
}

// DaemonConfig holds daemon-related settings.
type DaemonConfig struct {
	HTTPAddr      string        `yaml:"http_addr"`      // HTTP API listen address
	GRPCAddr      string        `yaml:"grpc_addr"`      // gRPC health listen address (empty = disabled)
	LogLevel      string        `yaml:"log_level"`      // debug, info, warn, error
	LogFormat     string        `yaml:"log_format"`     // text or json
	LogFile       string        `yaml:"log_file"`       // Log file path (overrides default)
	LogStderr     bool          `yaml:"log_stderr"`     // Also log to stderr
	SweepInterval time.Duration `yaml:"sweep_interval"` // TTL sweep period (0 = lazy expiry only)
	LockFile      string        `yaml:"lock_file"`      // Lock file path (overrides default)
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	DBPath              string        `yaml:"db_path"`              // SQLite database path (overrides default)
	RetentionDays       int           `yaml:"retention_days"`       // Days to keep expired/superseded suggestions; 0 keeps them
	MaintenanceInterval time.Duration `yaml:"maintenance_interval"` // Prune/VACUUM interval; 0 disables maintenance
}

// EventsConfig holds NATS settings for world-state events and lifecycle
// notifications.
type EventsConfig struct {
	Enabled       bool   `yaml:"enabled"`        // Connect to NATS
	NATSURL       string `yaml:"nats_url"`       // NATS server URL
	NATSSubject   string `yaml:"nats_subject"`   // Inbound event subject (wildcards allowed)
	NotifySubject string `yaml:"notify_subject"` // Prefix for outbound transitions (<prefix>.<state>)
}

// ScoringConfig holds ranking settings.
type ScoringConfig struct {
	UtilizationCeiling    float64       `yaml:"utilization_ceiling"`     // Percent above which a resource is excluded
	DefaultCapacityHours  float64       `yaml:"default_capacity_hours"`  // Capacity of resources first seen in events
	VelocityReference     float64       `yaml:"velocity_reference"`      // Throughput (items/week) scoring 0.5
	ConfidenceFloor       float64       `yaml:"confidence_floor"`        // Minimum confidence
	MissingProfilePenalty float64       `yaml:"missing_profile_penalty"` // Confidence penalty for unknown resources
	MissingSignalPenalty  float64       `yaml:"missing_signal_penalty"`  // Confidence penalty per defaulted factor
	DataVolumeReference   int           `yaml:"data_volume_reference"`   // Completions for full history confidence
	RecencyHalfLife       time.Duration `yaml:"recency_half_life"`       // Confidence decay of stale profiles

	// Weights overrides the built-in factor weights per category. Categories
	// left out keep their defaults.
	Weights map[string]map[string]float64 `yaml:"weights,omitempty"`
}

// LifecycleConfig holds suggestion lifecycle settings.
type LifecycleConfig struct {
	SuggestionTTL time.Duration `yaml:"suggestion_ttl"` // Pending suggestions expire after this
	ThresholdPcts []float64     `yaml:"threshold_pcts"` // Utilization levels that emit threshold_crossed
}

// LearningConfig holds feedback calibration settings.
type LearningConfig struct {
	MinSamples           int     `yaml:"min_samples"`             // Feedback count before the multiplier applies
	SuppressMinSamples   int     `yaml:"suppress_min_samples"`    // Feedback count before suppression applies
	SuppressHelpfulBelow float64 `yaml:"suppress_helpful_below"`  // Suppress when helpful rate is below this; 0 disables suppression
	SuppressActionAtMost float64 `yaml:"suppress_action_at_most"` // ...and action rate is at most this
}

// ExplainConfig holds rationale settings.
type ExplainConfig struct {
	Provider         string        `yaml:"provider"`          // auto, anthropic, claude-cli or none
	Model            string        `yaml:"model"`             // Provider-specific model
	Timeout          time.Duration `yaml:"timeout"`           // Per-call timeout
	RatePerMinute    int           `yaml:"rate_per_minute"`   // Provider calls per minute (0 = unlimited)
	MaxTokens        int           `yaml:"max_tokens"`        // Response token cap
	BreakerThreshold int           `yaml:"breaker_threshold"` // Consecutive failures that open the breaker
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown"`  // Time before a half-open probe
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Daemon: DaemonConfig{
			HTTPAddr:      "127.0.0.1:7733",
			GRPCAddr:      "127.0.0.1:7734",
			LogLevel:      "info",
			LogFormat:     "text",
			SweepInterval: time.Minute,
		},
		Storage: StorageConfig{
			RetentionDays:       90,
			MaintenanceInterval: time.Hour,
		},
		Events: EventsConfig{
			NATSURL:       "nats://127.0.0.1:4222",
			NATSSubject:   "prizm.events.>",
			NotifySubject: "prizm.suggestions",
		},
		Scoring: ScoringConfig{
			UtilizationCeiling:    85,
			DefaultCapacityHours:  40,
			VelocityReference:     5,
			ConfidenceFloor:       0.3,
			MissingProfilePenalty: 0.25,
			MissingSignalPenalty:  0.1,
			DataVolumeReference:   10,
			RecencyHalfLife:       14 * 24 * time.Hour,
		},
		Lifecycle: LifecycleConfig{
			SuggestionTTL: 24 * time.Hour,
			ThresholdPcts: []float64{85},
		},
		Learning: LearningConfig{
			MinSamples:           5,
			SuppressMinSamples:   20,
			SuppressHelpfulBelow: 0.30,
			SuppressActionAtMost: 0.20,
		},
		Explain: ExplainConfig{
			Provider:         "auto",
			Timeout:          3 * time.Second,
			RatePerMinute:    30,
			MaxTokens:        300,
			BreakerThreshold: 5,
			BreakerCooldown:  30 * time.Second,
		},
	}
}

// Load loads configuration from the default path.
func Load() (*Config, error) {
	paths := DefaultPaths()
	return LoadFromFile(paths.ConfigFile())
}

// LoadFromFile loads configuration from the specified file.
// If the file doesn't exist, returns default configuration.
// Environment variable overrides are applied after file loading.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.ApplyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Save saves the configuration to the default path.
func (c *Config) Save() error {
	paths := DefaultPaths()
	return c.SaveToFile(paths.ConfigFile())
}

// SaveToFile saves the configuration to the specified file.
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Get returns the value of a dotted key such as "scoring.utilization_ceiling"
// or "weights.assignment.skill_match".
func (c *Config) Get(key string) (string, error) {
	parts := strings.Split(key, ".")
	if len(parts) == 3 && parts[0] == "weights" {
		return c.getWeight(parts[1], parts[2])
	}
	if len(parts) != 2 {
		return "", errors.New("key must be in format 'section.key'")
	}

	section, field := parts[0], parts[1]

	switch section {
	case "daemon":
		return c.getDaemonField(field)
	case "storage":
		return c.getStorageField(field)
	case "events":
		return c.getEventsField(field)
	case "scoring":
		return c.getScoringField(field)
	case "lifecycle":
		return c.getLifecycleField(field)
	case "learning":
		return c.getLearningField(field)
	case "explain":
		return c.getExplainField(field)
	default:
		return "", fmt.Errorf("%w: unknown section %s", ErrUnknownKey, section)
	}
}

// Set sets the value of a dotted key. The value is parsed and range-checked
// for the field's type; the config as a whole is not revalidated.
func (c *Config) Set(key, value string) error {
	parts := strings.Split(key, ".")
	if len(parts) == 3 && parts[0] == "weights" {
		return c.setWeight(parts[1], parts[2], value)
	}
	if len(parts) != 2 {
		return errors.New("key must be in format 'section.key'")
	}

	section, field := parts[0], parts[1]

	switch section {
	case "daemon":
		return c.setDaemonField(field, value)
	case "storage":
		return c.setStorageField(field, value)
	case "events":
		return c.setEventsField(field, value)
	case "scoring":
		return c.setScoringField(field, value)
	case "lifecycle":
		return c.setLifecycleField(field, value)
	case "learning":
		return c.setLearningField(field, value)
	case "explain":
		return c.setExplainField(field, value)
	default:
		return fmt.Errorf("%w: unknown section %s", ErrUnknownKey, section)
	}
}

func unknownField(section, field string) error {
	return fmt.Errorf("%w: %s.%s", ErrUnknownKey, section, field)
}

func (c *Config) getDaemonField(field string) (string, error) {
	switch field {
	case "http_addr":
		return c.Daemon.HTTPAddr, nil
	case "grpc_addr":
		return c.Daemon.GRPCAddr, nil
	case "log_level":
		return c.Daemon.LogLevel, nil
	case "log_format":
		return c.Daemon.LogFormat, nil
	case "log_file":
		return c.Daemon.LogFile, nil
	case "log_stderr":
		return strconv.FormatBool(c.Daemon.LogStderr), nil
	case "sweep_interval":
		return c.Daemon.SweepInterval.String(), nil
	case "lock_file":
		return c.Daemon.LockFile, nil
	default:
		return "", unknownField("daemon", field)
	}
}

func (c *Config) setDaemonField(field, value string) error {
	switch field {
	case "http_addr":
		if value == "" {
			return errors.New("invalid http_addr: must be non-empty")
		}
		c.Daemon.HTTPAddr = value
	case "grpc_addr":
		c.Daemon.GRPCAddr = value
	case "log_level":
		if !isValidLogLevel(value) {
			return fmt.Errorf("invalid log_level: %s (must be debug, info, warn, or error)", value)
		}
		c.Daemon.LogLevel = value
	case "log_format":
		if !isValidLogFormat(value) {
			return fmt.Errorf("invalid log_format: %s (must be text or json)", value)
		}
		c.Daemon.LogFormat = value
	case "log_file":
		c.Daemon.LogFile = value
	case "log_stderr":
		v, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid value for log_stderr: %w", err)
		}
		c.Daemon.LogStderr = v
	case "sweep_interval":
		v, err := parseDuration("sweep_interval", value, true)
		if err != nil {
			return err
		}
		c.Daemon.SweepInterval = v
	case "lock_file":
		c.Daemon.LockFile = value
	default:
		return unknownField("daemon", field)
	}
	return nil
}

func (c *Config) getStorageField(field string) (string, error) {
	switch field {
	case "db_path":
		return c.Storage.DBPath, nil
	case "retention_days":
		return strconv.Itoa(c.Storage.RetentionDays), nil
	case "maintenance_interval":
		return c.Storage.MaintenanceInterval.String(), nil
	default:
		return "", unknownField("storage", field)
	}
}

func (c *Config) setStorageField(field, value string) error {
	switch field {
	case "db_path":
		c.Storage.DBPath = value
	case "retention_days":
		v, err := parseInt(field, value, 0)
		if err != nil {
			return err
		}
		c.Storage.RetentionDays = v
	case "maintenance_interval":
		v, err := parseDuration(field, value, true)
		if err != nil {
			return err
		}
		c.Storage.MaintenanceInterval = v
	default:
		return unknownField("storage", field)
	}
	return nil
}

func (c *Config) getEventsField(field string) (string, error) {
	switch field {
	case "enabled":
		return strconv.FormatBool(c.Events.Enabled), nil
	case "nats_url":
		return c.Events.NATSURL, nil
	case "nats_subject":
		return c.Events.NATSSubject, nil
	case "notify_subject":
		return c.Events.NotifySubject, nil
	default:
		return "", unknownField("events", field)
	}
}

func (c *Config) setEventsField(field, value string) error {
	switch field {
	case "enabled":
		v, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid value for enabled: %w", err)
		}
		c.Events.Enabled = v
	case "nats_url":
		c.Events.NATSURL = value
	case "nats_subject":
		if value == "" {
			return errors.New("invalid nats_subject: must be non-empty")
		}
		c.Events.NATSSubject = value
	case "notify_subject":
		c.Events.NotifySubject = value
	default:
		return unknownField("events", field)
	}
	return nil
}

func (c *Config) getScoringField(field string) (string, error) {
	s := c.Scoring
	switch field {
	case "utilization_ceiling":
		return formatFloat(s.UtilizationCeiling), nil
	case "default_capacity_hours":
		return formatFloat(s.DefaultCapacityHours), nil
	case "velocity_reference":
		return formatFloat(s.VelocityReference), nil
	case "confidence_floor":
		return formatFloat(s.ConfidenceFloor), nil
	case "missing_profile_penalty":
		return formatFloat(s.MissingProfilePenalty), nil
	case "missing_signal_penalty":
		return formatFloat(s.MissingSignalPenalty), nil
	case "data_volume_reference":
		return strconv.Itoa(s.DataVolumeReference), nil
	case "recency_half_life":
		return s.RecencyHalfLife.String(), nil
	default:
		return "", unknownField("scoring", field)
	}
}

func (c *Config) setScoringField(field, value string) error {
	s := &c.Scoring
	var err error
	switch field {
	case "utilization_ceiling":
		s.UtilizationCeiling, err = parseFloat(field, value, 0, 1000)
	case "default_capacity_hours":
		s.DefaultCapacityHours, err = parseFloat(field, value, 0, math.MaxFloat64)
	case "velocity_reference":
		s.VelocityReference, err = parseFloat(field, value, 0, math.MaxFloat64)
	case "confidence_floor":
		s.ConfidenceFloor, err = parseFloat(field, value, 0, 1)
	case "missing_profile_penalty":
		s.MissingProfilePenalty, err = parseFloat(field, value, 0, 1)
	case "missing_signal_penalty":
		s.MissingSignalPenalty, err = parseFloat(field, value, 0, 1)
	case "data_volume_reference":
		s.DataVolumeReference, err = parseInt(field, value, 1)
	case "recency_half_life":
		s.RecencyHalfLife, err = parseDuration(field, value, false)
	default:
		return unknownField("scoring", field)
	}
	return err
}

func (c *Config) getWeight(category, factor string) (string, error) {
	w, ok := c.Scoring.Weights[category][factor]
	if !ok {
		return "", fmt.Errorf("%w: weights.%s.%s is not overridden", ErrUnknownKey, category, factor)
	}
	return formatFloat(w), nil
}

func (c *Config) setWeight(category, factor, value string) error {
	if _, err := model.ParseCategory(category); err != nil {
		return fmt.Errorf("%w: weights.%s", ErrUnknownKey, category)
	}
	w, err := parseFloat(factor, value, 0, 1)
	if err != nil {
		return err
	}
	if c.Scoring.Weights == nil {
		c.Scoring.Weights = make(map[string]map[string]float64)
	}
	if c.Scoring.Weights[category] == nil {
		c.Scoring.Weights[category] = make(map[string]float64)
	}
	c.Scoring.Weights[category][factor] = w
	return nil
}

func (c *Config) getLifecycleField(field string) (string, error) {
	switch field {
	case "suggestion_ttl":
		return c.Lifecycle.SuggestionTTL.String(), nil
	case "threshold_pcts":
		parts := make([]string, len(c.Lifecycle.ThresholdPcts))
		for i, p := range c.Lifecycle.ThresholdPcts {
			parts[i] = formatFloat(p)
		}
		return strings.Join(parts, ","), nil
	default:
		return "", unknownField("lifecycle", field)
	}
}

func (c *Config) setLifecycleField(field, value string) error {
	switch field {
	case "suggestion_ttl":
		v, err := parseDuration(field, value, false)
		if err != nil {
			return err
		}
		c.Lifecycle.SuggestionTTL = v
	case "threshold_pcts":
		var pcts []float64
		for _, raw := range strings.Split(value, ",") {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				continue
			}
			p, err := parseFloat(field, raw, 0, 1000)
			if err != nil {
				return err
			}
			pcts = append(pcts, p)
		}
		sort.Float64s(pcts)
		c.Lifecycle.ThresholdPcts = pcts
	default:
		return unknownField("lifecycle", field)
	}
	return nil
}

func (c *Config) getLearningField(field string) (string, error) {
	l := c.Learning
	switch field {
	case "min_samples":
		return strconv.Itoa(l.MinSamples), nil
	case "suppress_min_samples":
		return strconv.Itoa(l.SuppressMinSamples), nil
	case "suppress_helpful_below":
		return formatFloat(l.SuppressHelpfulBelow), nil
	case "suppress_action_at_most":
		return formatFloat(l.SuppressActionAtMost), nil
	default:
		return "", unknownField("learning", field)
	}
}

func (c *Config) setLearningField(field, value string) error {
	l := &c.Learning
	var err error
	switch field {
	case "min_samples":
		l.MinSamples, err = parseInt(field, value, 1)
	case "suppress_min_samples":
		l.SuppressMinSamples, err = parseInt(field, value, 1)
	case "suppress_helpful_below":
		l.SuppressHelpfulBelow, err = parseFloat(field, value, 0, 1)
	case "suppress_action_at_most":
		l.SuppressActionAtMost, err = parseFloat(field, value, 0, 1)
	default:
		return unknownField("learning", field)
	}
	return err
}

func (c *Config) getExplainField(field string) (string, error) {
	e := c.Explain
	switch field {
	case "provider":
		return e.Provider, nil
	case "model":
		return e.Model, nil
	case "timeout":
		return e.Timeout.String(), nil
	case "rate_per_minute":
		return strconv.Itoa(e.RatePerMinute), nil
	case "max_tokens":
		return strconv.Itoa(e.MaxTokens), nil
	case "breaker_threshold":
		return strconv.Itoa(e.BreakerThreshold), nil
	case "breaker_cooldown":
		return e.BreakerCooldown.String(), nil
	default:
		return "", unknownField("explain", field)
	}
}

func (c *Config) setExplainField(field, value string) error {
	e := &c.Explain
	var err error
	switch field {
	case "provider":
		if !isValidProvider(value) {
			return fmt.Errorf("invalid provider: %s (must be auto, anthropic, claude-cli, or none)", value)
		}
		e.Provider = value
	case "model":
		e.Model = value
	case "timeout":
		e.Timeout, err = parseDuration(field, value, false)
	case "rate_per_minute":
		e.RatePerMinute, err = parseInt(field, value, 0)
	case "max_tokens":
		e.MaxTokens, err = parseInt(field, value, 0)
	case "breaker_threshold":
		e.BreakerThreshold, err = parseInt(field, value, 1)
	case "breaker_cooldown":
		e.BreakerCooldown, err = parseDuration(field, value, false)
	default:
		return unknownField("explain", field)
	}
	return err
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if !isValidLogLevel(c.Daemon.LogLevel) {
		return fmt.Errorf("daemon.log_level must be debug, info, warn, or error (got: %s)", c.Daemon.LogLevel)
	}
	if !isValidLogFormat(c.Daemon.LogFormat) {
		return fmt.Errorf("daemon.log_format must be text or json (got: %s)", c.Daemon.LogFormat)
	}
	if c.Daemon.HTTPAddr == "" {
		return errors.New("daemon.http_addr is required")
	}
	if c.Daemon.SweepInterval < 0 {
		return errors.New("daemon.sweep_interval must be >= 0")
	}
	if c.Storage.RetentionDays < 0 {
		return errors.New("storage.retention_days must be >= 0")
	}
	if c.Storage.MaintenanceInterval < 0 {
		return errors.New("storage.maintenance_interval must be >= 0")
	}

	if c.Events.Enabled && c.Events.NATSURL == "" {
		return errors.New("events.nats_url is required when events are enabled")
	}
	if c.Events.Enabled && c.Events.NATSSubject == "" {
		return errors.New("events.nats_subject is required when events are enabled")
	}

	s := c.Scoring
	if s.UtilizationCeiling <= 0 {
		return errors.New("scoring.utilization_ceiling must be > 0")
	}
	if s.DefaultCapacityHours <= 0 {
		return errors.New("scoring.default_capacity_hours must be > 0")
	}
	if s.VelocityReference <= 0 {
		return errors.New("scoring.velocity_reference must be > 0")
	}
	for name, v := range map[string]float64{
		"confidence_floor":        s.ConfidenceFloor,
		"missing_profile_penalty": s.MissingProfilePenalty,
		"missing_signal_penalty":  s.MissingSignalPenalty,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("scoring.%s must be in [0,1] (got: %v)", name, v)
		}
	}
	if s.DataVolumeReference < 1 {
		return errors.New("scoring.data_volume_reference must be >= 1")
	}
	if s.RecencyHalfLife <= 0 {
		return errors.New("scoring.recency_half_life must be > 0")
	}
	if err := validateWeights(s.Weights); err != nil {
		return err
	}

	if c.Lifecycle.SuggestionTTL <= 0 {
		return errors.New("lifecycle.suggestion_ttl must be > 0")
	}
	for _, p := range c.Lifecycle.ThresholdPcts {
		if p <= 0 {
			return fmt.Errorf("lifecycle.threshold_pcts must be > 0 (got: %v)", p)
		}
	}

	l := c.Learning
	if l.MinSamples < 1 || l.SuppressMinSamples < 1 {
		return errors.New("learning.min_samples and learning.suppress_min_samples must be >= 1")
	}
	if l.SuppressHelpfulBelow < 0 || l.SuppressHelpfulBelow > 1 {
		return fmt.Errorf("learning.suppress_helpful_below must be in [0,1] (got: %v)", l.SuppressHelpfulBelow)
	}
	if l.SuppressActionAtMost < 0 || l.SuppressActionAtMost > 1 {
		return fmt.Errorf("learning.suppress_action_at_most must be in [0,1] (got: %v)", l.SuppressActionAtMost)
	}

	e := c.Explain
	if !isValidProvider(e.Provider) {
		return fmt.Errorf("explain.provider must be auto, anthropic, claude-cli, or none (got: %s)", e.Provider)
	}
	if e.Timeout <= 0 {
		return errors.New("explain.timeout must be > 0")
	}
	if e.RatePerMinute < 0 || e.MaxTokens < 0 {
		return errors.New("explain.rate_per_minute and explain.max_tokens must be >= 0")
	}
	if e.BreakerThreshold < 1 {
		return errors.New("explain.breaker_threshold must be >= 1")
	}
	if e.BreakerCooldown <= 0 {
		return errors.New("explain.breaker_cooldown must be > 0")
	}

	return nil
}

// weightTolerance bounds how far a category's weights may sum from 1.
const weightTolerance = 1e-6

func validateWeights(weights map[string]map[string]float64) error {
	for category, w := range weights {
		if _, err := model.ParseCategory(category); err != nil {
			return fmt.Errorf("scoring.weights: %w", err)
		}
		var sum float64
		for factor, v := range w {
			if v < 0 {
				return fmt.Errorf("scoring.weights.%s.%s must be >= 0 (got: %v)", category, factor, v)
			}
			sum += v
		}
		if math.Abs(sum-1) > weightTolerance {
			return fmt.Errorf("scoring.weights.%s must sum to 1 (got: %v)", category, sum)
		}
	}
	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func isValidLogFormat(format string) bool {
	return format == "text" || format == "json"
}

func isValidProvider(provider string) bool {
	switch provider {
	case "auto", "anthropic", "claude-cli", "none":
		return true
	default:
		return false
	}
}

// ApplyEnvOverrides applies environment variable overrides to the config.
// Invalid values are ignored.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("PRIZM_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil && b {
			c.Daemon.LogLevel = "debug"
		}
	}
	if v := os.Getenv("PRIZM_LOG_LEVEL"); v != "" {
		if isValidLogLevel(v) {
			c.Daemon.LogLevel = v
		}
	}
	if v := os.Getenv("PRIZM_HTTP_ADDR"); v != "" {
		c.Daemon.HTTPAddr = v
	}
	if v := os.Getenv("PRIZM_DB_PATH"); v != "" {
		c.Storage.DBPath = v
	}
	if v := os.Getenv("PRIZM_NATS_URL"); v != "" {
		c.Events.NATSURL = v
		c.Events.Enabled = true
	}
	if v := os.Getenv("PRIZM_EXPLAIN_PROVIDER"); v != "" {
		if isValidProvider(v) {
			c.Explain.Provider = v
		}
	}
	if v := os.Getenv("PRIZM_SUGGESTION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Lifecycle.SuggestionTTL = d
		}
	}
}

// ListKeys returns every settable key except per-category weights.
func ListKeys() []string {
	return []string{
		"daemon.http_addr",
		"daemon.grpc_addr",
		"daemon.log_level",
		"daemon.log_format",
		"daemon.log_file",
		"daemon.log_stderr",
		"daemon.sweep_interval",
		"daemon.lock_file",
		"storage.db_path",
		"storage.retention_days",
		"storage.maintenance_interval",
		"events.enabled",
		"events.nats_url",
		"events.nats_subject",
		"events.notify_subject",
		"scoring.utilization_ceiling",
		"scoring.default_capacity_hours",
		"scoring.velocity_reference",
		"scoring.confidence_floor",
		"scoring.missing_profile_penalty",
		"scoring.missing_signal_penalty",
		"scoring.data_volume_reference",
		"scoring.recency_half_life",
		"lifecycle.suggestion_ttl",
		"lifecycle.threshold_pcts",
		"learning.min_samples",
		"learning.suppress_min_samples",
		"learning.suppress_helpful_below",
		"learning.suppress_action_at_most",
		"explain.provider",
		"explain.model",
		"explain.timeout",
		"explain.rate_per_minute",
		"explain.max_tokens",
		"explain.breaker_threshold",
		"explain.breaker_cooldown",
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseFloat(field, value string, lo, hi float64) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %w", field, err)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("invalid %s: must be in [%v, %v]", field, lo, hi)
	}
	return v, nil
}

func parseInt(field, value string, lo int) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %w", field, err)
	}
	if v < lo {
		return 0, fmt.Errorf("invalid %s: must be >= %d", field, lo)
	}
	return v, nil
}

func parseDuration(field, value string, allowZero bool) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %w", field, err)
	}
	if d < 0 || (d == 0 && !allowZero) {
		return 0, fmt.Errorf("invalid %s: must be positive", field)
	}
	return d, nil
}
