package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/basket/workmem/internal/otel"
)

// RetrievalConfig holds the weights and cache tuning for hybrid search.
// Weights are relative; the merger normalizes them to sum to 1.
type RetrievalConfig struct {
	VectorWeight    float64 `yaml:"vector_weight"`
	TextWeight      float64 `yaml:"text_weight"`
	RecencyWeight   float64 `yaml:"recency_weight"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
	CacheMaxQueries int64   `yaml:"cache_max_queries"`
}

// TriggersConfig tunes the proactive evaluator. Zero values are replaced by
// defaults in normalize.
type TriggersConfig struct {
	CooldownHours         int      `yaml:"cooldown_hours"`
	MaxAlertsPerPass      int      `yaml:"max_alerts_per_pass"`
	StaleTaskHours        int      `yaml:"stale_task_hours"`
	FailureCountThreshold int      `yaml:"failure_count_threshold"`
	StuckRunMinutes       int      `yaml:"stuck_run_minutes"`
	WatchedFiles          []string `yaml:"watched_files"`
}

// BackgroundConfig bounds the fire-and-forget queue.
type BackgroundConfig struct {
	QueueSize           int `yaml:"queue_size"`
	DrainTimeoutSeconds int `yaml:"drain_timeout_seconds"`
}

type Config struct {
	StateRoot string `yaml:"-"`

	LogLevel string `yaml:"log_level"`

	// MemoryDir is where markdown artifacts land for external indexing.
	// Defaults to <StateRoot>/memory.
	MemoryDir string `yaml:"memory_dir"`

	// DefaultOwner is the owner key used when a caller supplies none.
	DefaultOwner string `yaml:"default_owner"`

	// Owners lists the owner keys the heartbeat evaluates each pass.
	// Empty means just DefaultOwner.
	Owners []string `yaml:"owners"`

	HeartbeatIntervalMinutes int `yaml:"heartbeat_interval_minutes"`
	// HeartbeatSchedule is an optional 5-field cron expression; when set it
	// overrides the interval ticker.
	HeartbeatSchedule string `yaml:"heartbeat_schedule"`

	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Triggers   TriggersConfig   `yaml:"triggers"`
	Background BackgroundConfig `yaml:"background"`
	Telemetry  otel.Config      `yaml:"telemetry"`

	NeedsBootstrap bool `yaml:"-"`
}

// ConfigPath returns the path to config.yaml within the given state root.
func ConfigPath(stateRoot string) string {
	return filepath.Join(stateRoot, "config.yaml")
}

// OwnerKeys returns the owner keys the heartbeat evaluates: the Owners
// list, or just DefaultOwner when the list is empty.
func (c Config) OwnerKeys() []string {
	if len(c.Owners) > 0 {
		return c.Owners
	}
	return []string{c.DefaultOwner}
}

// Fingerprint returns a stable hash of the active config, logged at startup
// so drift between processes is visible.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "root=%s|log=%s|mem=%s|owner=%s|hb=%d|sched=%s|w=%.2f/%.2f/%.2f",
		c.StateRoot, c.LogLevel, c.MemoryDir, c.DefaultOwner,
		c.HeartbeatIntervalMinutes, c.HeartbeatSchedule,
		c.Retrieval.VectorWeight, c.Retrieval.TextWeight, c.Retrieval.RecencyWeight)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

func defaultConfig() Config {
	return Config{
		LogLevel:                 "info",
		DefaultOwner:             "default",
		HeartbeatIntervalMinutes: 30,
		Retrieval: RetrievalConfig{
			VectorWeight:    0.5,
			TextWeight:      0.3,
			RecencyWeight:   0.2,
			CacheTTLSeconds: 60,
			CacheMaxQueries: 1024,
		},
		Triggers: TriggersConfig{
			CooldownHours:         4,
			MaxAlertsPerPass:      5,
			StaleTaskHours:        72,
			FailureCountThreshold: 3,
			StuckRunMinutes:       30,
		},
		Background: BackgroundConfig{
			QueueSize:           64,
			DrainTimeoutSeconds: 5,
		},
	}
}

// StateRootDir resolves the engine state root: WORKMEM_HOME override or
// ~/.workmem.
func StateRootDir() string {
	if override := os.Getenv("WORKMEM_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".workmem")
}

// Load builds the effective configuration: defaults, then config.yaml, then
// env overrides, then normalization. The state root is created if missing.
func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.StateRoot = StateRootDir()

	if err := os.MkdirAll(cfg.StateRoot, 0o755); err != nil {
		return cfg, fmt.Errorf("create state root: %w", err)
	}

	configPath := ConfigPath(cfg.StateRoot)
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.NeedsBootstrap = true
		} else {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	if err := validate(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if strings.TrimSpace(cfg.MemoryDir) == "" {
		cfg.MemoryDir = filepath.Join(cfg.StateRoot, "memory")
	}
	if strings.TrimSpace(cfg.DefaultOwner) == "" {
		cfg.DefaultOwner = "default"
	}
	if len(cfg.Owners) == 0 {
		cfg.Owners = []string{cfg.DefaultOwner}
	}
	if cfg.HeartbeatIntervalMinutes <= 0 {
		cfg.HeartbeatIntervalMinutes = 30
	}
	if cfg.Retrieval.VectorWeight == 0 && cfg.Retrieval.TextWeight == 0 && cfg.Retrieval.RecencyWeight == 0 {
		cfg.Retrieval.VectorWeight = 0.5
		cfg.Retrieval.TextWeight = 0.3
		cfg.Retrieval.RecencyWeight = 0.2
	}
	if cfg.Retrieval.CacheTTLSeconds <= 0 {
		cfg.Retrieval.CacheTTLSeconds = 60
	}
	if cfg.Retrieval.CacheMaxQueries <= 0 {
		cfg.Retrieval.CacheMaxQueries = 1024
	}
	if cfg.Triggers.CooldownHours <= 0 {
		cfg.Triggers.CooldownHours = 4
	}
	if cfg.Triggers.MaxAlertsPerPass <= 0 {
		cfg.Triggers.MaxAlertsPerPass = 5
	}
	if cfg.Triggers.StaleTaskHours <= 0 {
		cfg.Triggers.StaleTaskHours = 72
	}
	if cfg.Triggers.FailureCountThreshold <= 0 {
		cfg.Triggers.FailureCountThreshold = 3
	}
	if cfg.Triggers.StuckRunMinutes <= 0 {
		cfg.Triggers.StuckRunMinutes = 30
	}
	if cfg.Background.QueueSize <= 0 {
		cfg.Background.QueueSize = 64
	}
	if cfg.Background.DrainTimeoutSeconds <= 0 {
		cfg.Background.DrainTimeoutSeconds = 5
	}
}

func validate(cfg *Config) error {
	r := cfg.Retrieval
	if r.VectorWeight < 0 || r.TextWeight < 0 || r.RecencyWeight < 0 {
		return fmt.Errorf("retrieval weights must be non-negative (got %v/%v/%v)",
			r.VectorWeight, r.TextWeight, r.RecencyWeight)
	}
	if r.VectorWeight+r.TextWeight+r.RecencyWeight == 0 {
		return fmt.Errorf("retrieval weights must not all be zero")
	}
	for _, owner := range cfg.Owners {
		if strings.TrimSpace(owner) == "" {
			return fmt.Errorf("owners must not contain blank entries")
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("WORKMEM_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("WORKMEM_MEMORY_DIR"); raw != "" {
		cfg.MemoryDir = raw
	}
	if raw := os.Getenv("WORKMEM_DEFAULT_OWNER"); raw != "" {
		cfg.DefaultOwner = raw
	}
	if raw := os.Getenv("WORKMEM_HEARTBEAT_INTERVAL_MINUTES"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.HeartbeatIntervalMinutes = v
		}
	}
	if raw := os.Getenv("WORKMEM_HEARTBEAT_SCHEDULE"); raw != "" {
		cfg.HeartbeatSchedule = raw
	}
	if raw := os.Getenv("WORKMEM_BACKGROUND_QUEUE_SIZE"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Background.QueueSize = v
		}
	}
}

// Write marshals cfg back to config.yaml under its state root. Used by the
// CLI bootstrap on first run.
func Write(cfg Config) error {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config.yaml: %w", err)
	}
	return os.WriteFile(ConfigPath(cfg.StateRoot), out, 0o644)
}
