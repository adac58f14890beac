// Package config provides configuration loading, validation, and hot-reload
// for the control core.
//
// Configuration file: /etc/mxrc/control-core.yaml (default)
// Schema version: 1
//
// Hot-reload:
//   - Agent listens for SIGHUP.
//   - On SIGHUP: re-read and re-validate control-core.yaml.
//   - Apply non-destructive changes only. The daemon applies the tracing
//     RT sampling rate live; every other field, including log level and the
//     alarm recurrence window, keeps its startup value until restart.
//   - Destructive changes (bag directory, sequence registry DB path,
//     operator socket path) require restart.
//   - If the new config is invalid, the old config remains active and an
//     error is logged. The process does NOT crash on invalid hot-reload
//     config.
//
// Validation:
//   - All required fields must be present.
//   - Numeric ranges enforced (e.g. tracing sampling rate in [0,1]).
//   - File/directory paths must be absolute.
//   - Invalid config on startup: the process refuses to start (fatal error).
//   - Invalid config on hot-reload: logged, old config retained.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Version, GitCommit, BuildTime are injected by the Makefile via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Config is the root configuration structure for the control core.
// All fields have defaults; see Defaults() for values.
type Config struct {
	// SchemaVersion must be "1". Future versions will trigger migration.
	SchemaVersion string `yaml:"schema_version"`

	// NodeID identifies this control core instance in logs and traces.
	// Default: hostname.
	NodeID string `yaml:"node_id"`

	Arbiter       ArbiterConfig       `yaml:"arbiter"`
	Alarm         AlarmConfig         `yaml:"alarm"`
	Sequence      SequenceConfig      `yaml:"sequence"`
	Bag           BagConfig           `yaml:"bag"`
	Tracing       TracingConfig       `yaml:"tracing"`
	Observability ObservabilityConfig `yaml:"observability"`
	Operator      OperatorConfig      `yaml:"operator"`
}

// ArbiterConfig holds Behavior Arbiter timing parameters (spec §4.C).
type ArbiterConfig struct {
	// TickInterval is the period between arbiter Tick calls. Default: 10ms.
	TickInterval time.Duration `yaml:"tick_interval"`

	// DefaultTaskTimeout is loaded and validated; no component in this
	// module reads it, so tasks get no deadline from it. Default: 30s.
	DefaultTaskTimeout time.Duration `yaml:"default_task_timeout"`

	// QueueCapacityPerLane bounds each priority lane of the pending queue.
	// Default: 256.
	QueueCapacityPerLane int `yaml:"queue_capacity_per_lane"`

	// PreemptionBudgetCapacity bounds the token budget spent on
	// non-emergency preemptions per PreemptionBudgetRefillPeriod.
	// Default: 100.
	PreemptionBudgetCapacity int `yaml:"preemption_budget_capacity"`

	// PreemptionBudgetRefillPeriod is how often the preemption budget is
	// restored to full capacity. Default: 1m.
	PreemptionBudgetRefillPeriod time.Duration `yaml:"preemption_budget_refill_period"`
}

// AlarmConfig holds Alarm Engine parameters (spec §4.A).
type AlarmConfig struct {
	// CatalogPath is the path to the alarm catalog YAML/JSON file.
	CatalogPath string `yaml:"catalog_path"`

	// DefaultRecurrenceWindow is loaded and validated but not passed to the
	// alarm catalog; entries without their own window get no recurrence
	// window. Default: 60s.
	DefaultRecurrenceWindow time.Duration `yaml:"default_recurrence_window"`

	// HistoryLimit is loaded but not passed to the alarm engine, whose
	// history is not capped. Default: 10000.
	HistoryLimit int `yaml:"history_limit"`
}

// SequenceConfig holds Sequence Engine parameters (spec §4.D).
type SequenceConfig struct {
	// RegistryDBPath is the absolute path to the BoltDB file backing the
	// sequence/template registry.
	RegistryDBPath string `yaml:"registry_db_path"`

	// MaxParallelBranches is loaded and validated but not passed to the
	// sequence engine, which sets its own branch concurrency. Default: 8.
	MaxParallelBranches int64 `yaml:"max_parallel_branches"`

	// DefaultRetryPolicy is loaded and validated but not passed to the
	// sequence engine; sequences without their own policy use
	// sequence.DefaultRetryPolicy.
	DefaultRetryPolicy RetryPolicyConfig `yaml:"default_retry_policy"`
}

// RetryPolicyConfig mirrors sequence.RetryPolicy for YAML configuration.
type RetryPolicyConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Multiplier  float64       `yaml:"multiplier"`
}

// BagConfig holds Bag Logger parameters (spec §4.E).
type BagConfig struct {
	// Dir is the absolute directory bag files are written to and read from.
	Dir string `yaml:"dir"`

	// QueueCapacity bounds the in-memory append queue. Default: 4096.
	QueueCapacity int `yaml:"queue_capacity"`

	// RotationMaxBytes rotates to a new file once the current one reaches
	// this size. Zero disables size-based rotation. Default: 256MiB.
	RotationMaxBytes int64 `yaml:"rotation_max_bytes"`

	// RotationMaxAge rotates to a new file once the current one reaches
	// this age. Zero disables age-based rotation. Default: 1h.
	RotationMaxAge time.Duration `yaml:"rotation_max_age"`

	// RetentionMaxAge deletes closed bag files older than this. Zero
	// disables age-based retention. Default: 168h (7 days).
	RetentionMaxAge time.Duration `yaml:"retention_max_age"`

	// RetentionMaxCount caps the number of closed bag files retained.
	// Zero disables count-based retention. Default: 100.
	RetentionMaxCount int `yaml:"retention_max_count"`
}

// TracingConfig holds Tracing Core parameters (spec §4.F).
type TracingConfig struct {
	// RTSamplingRate is the fraction of RT cycles traced, in [0,1].
	// Default: 0.1.
	RTSamplingRate float64 `yaml:"rt_sampling_rate"`

	// Enabled gates RT cycle tracing entirely. Default: true.
	Enabled bool `yaml:"enabled"`
}

// ObservabilityConfig holds metrics and logging parameters.
type ObservabilityConfig struct {
	// MetricsAddr is the Prometheus metrics HTTP bind address.
	// Default: 127.0.0.1:9091.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel controls the minimum log level (debug, info, warn, error).
	// Default: info.
	LogLevel string `yaml:"log_level"`

	// LogFormat controls the log output format (json, console).
	// Default: json.
	LogFormat string `yaml:"log_format"`
}

// OperatorConfig holds operator console parameters.
type OperatorConfig struct {
	// SocketPath is the Unix domain socket path for the operator console.
	// Permissions: 0600. Default: /run/mxrc/operator.sock.
	SocketPath string `yaml:"socket_path"`

	// Enabled controls whether the operator socket is active.
	// Default: true.
	Enabled bool `yaml:"enabled"`
}

// Defaults returns a Config populated with all default values.
func Defaults() Config {
	hostname, _ := os.Hostname()
	return Config{
		SchemaVersion: "1",
		NodeID:        hostname,
		Arbiter: ArbiterConfig{
			TickInterval:                 10 * time.Millisecond,
			DefaultTaskTimeout:           30 * time.Second,
			QueueCapacityPerLane:         256,
			PreemptionBudgetCapacity:     100,
			PreemptionBudgetRefillPeriod: time.Minute,
		},
		Alarm: AlarmConfig{
			CatalogPath:             "/etc/mxrc/alarm-catalog.yaml",
			DefaultRecurrenceWindow: 60 * time.Second,
			HistoryLimit:            10000,
		},
		Sequence: SequenceConfig{
			RegistryDBPath:      DefaultSequenceDBPath,
			MaxParallelBranches: 8,
			DefaultRetryPolicy: RetryPolicyConfig{
				MaxAttempts: 3,
				BaseDelay:   100 * time.Millisecond,
				MaxDelay:    5 * time.Second,
				Multiplier:  2.0,
			},
		},
		Bag: BagConfig{
			Dir:               DefaultBagDir,
			QueueCapacity:     4096,
			RotationMaxBytes:  256 * 1024 * 1024,
			RotationMaxAge:    time.Hour,
			RetentionMaxAge:   7 * 24 * time.Hour,
			RetentionMaxCount: 100,
		},
		Tracing: TracingConfig{
			RTSamplingRate: 0.1,
			Enabled:        true,
		},
		Observability: ObservabilityConfig{
			MetricsAddr: "127.0.0.1:9091",
			LogLevel:    "info",
			LogFormat:   "json",
		},
		Operator: OperatorConfig{
			Enabled:    true,
			SocketPath: "/run/mxrc/operator.sock",
		},
	}
}

// DefaultSequenceDBPath is the default sequence/template registry location.
const DefaultSequenceDBPath = "/var/lib/mxrc/sequences.db"

// DefaultBagDir is the default Bag Logger output directory.
const DefaultBagDir = "/var/lib/mxrc/bags"

// Load reads and validates a config file from the given path.
// Returns the merged config (defaults overridden by file values).
// Returns an error if the file cannot be read, parsed, or validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse %q: %w", path, err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks all config fields for correctness.
// Returns a descriptive error listing all violations found.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.SchemaVersion != "1" {
		errs = append(errs, fmt.Sprintf("schema_version must be \"1\", got %q", cfg.SchemaVersion))
	}
	if cfg.NodeID == "" {
		errs = append(errs, "node_id must not be empty")
	}
	if cfg.Arbiter.TickInterval <= 0 {
		errs = append(errs, fmt.Sprintf("arbiter.tick_interval must be > 0, got %s", cfg.Arbiter.TickInterval))
	}
	if cfg.Arbiter.QueueCapacityPerLane < 1 {
		errs = append(errs, fmt.Sprintf("arbiter.queue_capacity_per_lane must be >= 1, got %d", cfg.Arbiter.QueueCapacityPerLane))
	}
	if cfg.Arbiter.PreemptionBudgetCapacity < 1 {
		errs = append(errs, fmt.Sprintf("arbiter.preemption_budget_capacity must be >= 1, got %d", cfg.Arbiter.PreemptionBudgetCapacity))
	}
	if cfg.Arbiter.PreemptionBudgetRefillPeriod <= 0 {
		errs = append(errs, "arbiter.preemption_budget_refill_period must be > 0")
	}
	if cfg.Alarm.CatalogPath == "" {
		errs = append(errs, "alarm.catalog_path must not be empty")
	} else if !filepath.IsAbs(cfg.Alarm.CatalogPath) {
		errs = append(errs, fmt.Sprintf("alarm.catalog_path must be absolute, got %q", cfg.Alarm.CatalogPath))
	}
	if cfg.Alarm.DefaultRecurrenceWindow <= 0 {
		errs = append(errs, "alarm.default_recurrence_window must be > 0")
	}
	if cfg.Sequence.RegistryDBPath == "" {
		errs = append(errs, "sequence.registry_db_path must not be empty")
	} else if !filepath.IsAbs(cfg.Sequence.RegistryDBPath) {
		errs = append(errs, fmt.Sprintf("sequence.registry_db_path must be absolute, got %q", cfg.Sequence.RegistryDBPath))
	}
	if cfg.Sequence.MaxParallelBranches < 1 {
		errs = append(errs, fmt.Sprintf("sequence.max_parallel_branches must be >= 1, got %d", cfg.Sequence.MaxParallelBranches))
	}
	if cfg.Sequence.DefaultRetryPolicy.MaxAttempts < 1 {
		errs = append(errs, "sequence.default_retry_policy.max_attempts must be >= 1")
	}
	if cfg.Sequence.DefaultRetryPolicy.Multiplier < 1.0 {
		errs = append(errs, "sequence.default_retry_policy.multiplier must be >= 1.0")
	}
	if cfg.Bag.Dir == "" {
		errs = append(errs, "bag.dir must not be empty")
	} else if !filepath.IsAbs(cfg.Bag.Dir) {
		errs = append(errs, fmt.Sprintf("bag.dir must be absolute, got %q", cfg.Bag.Dir))
	}
	if cfg.Bag.QueueCapacity < 1 {
		errs = append(errs, fmt.Sprintf("bag.queue_capacity must be >= 1, got %d", cfg.Bag.QueueCapacity))
	}
	if cfg.Tracing.RTSamplingRate < 0.0 || cfg.Tracing.RTSamplingRate > 1.0 {
		errs = append(errs, fmt.Sprintf("tracing.rt_sampling_rate must be in [0.0, 1.0], got %f", cfg.Tracing.RTSamplingRate))
	}
	if cfg.Observability.MetricsAddr == "" {
		errs = append(errs, "observability.metrics_addr must not be empty")
	}
	switch cfg.Observability.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("observability.log_level must be one of debug|info|warn|error, got %q", cfg.Observability.LogLevel))
	}
	if cfg.Operator.Enabled && cfg.Operator.SocketPath == "" {
		errs = append(errs, "operator.socket_path must not be empty when operator.enabled is true")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", joinStrings(errs, "\n  - "))
	}
	return nil
}

// joinStrings joins a slice of strings with a separator.
func joinStrings(ss []string, sep string) string {
	if len(ss) == 0 {
		return ""
	}
	result := ss[0]
	for _, s := range ss[1:] {
		result += sep + s
	}
	return result
}
