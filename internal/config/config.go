// Package config loads Sentinel's runtime configuration: correlation-engine
// tunables, query-engine complexity/rate-limit knobs, resource-manager
// budgets, and store connection strings. A single Initialize call returns a
// fully validated, ready-to-use Config.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the umbrella object returned by Initialize and threaded through
// Runtime construction.
type Config struct {
	configDir   string
	Correlation CorrelationConfig `yaml:"correlation"`
	Query       QueryConfig       `yaml:"query"`
	Resources   ResourceConfig    `yaml:"resources"`
	Stores      StoreConfig       `yaml:"stores"`
}

// CorrelationConfig holds the §4.2/§6 correlation-engine knobs.
type CorrelationConfig struct {
	MaxProcessingTimeMs     int           `yaml:"max_processing_time_ms"`
	BatchProcessingEnabled  bool          `yaml:"batch_processing_enabled"`
	BatchSize               int           `yaml:"batch_size"`
	CacheExpirationMs       int           `yaml:"cache_expiration_ms"`
	ParallelRuleEvaluation  bool          `yaml:"parallel_rule_evaluation"`
	FastPathEnabled         bool          `yaml:"fast_path_enabled"`
	StreamProcessingMode    bool          `yaml:"stream_processing_mode"`
	PriorityRuleThreshold   int           `yaml:"priority_rule_threshold"`
	MemoryBufferSizeLimit   int           `yaml:"memory_buffer_size_limit"`
	AdaptiveThrottling      bool          `yaml:"adaptive_throttling"`
	Concurrency             int           `yaml:"concurrency"`
	BurstCapPerSecond       int           `yaml:"burst_cap_per_second"`
	BufferRetention         time.Duration `yaml:"-"`
}

// QueryConfig holds the §4.3.4/§4.3.5 complexity + rate-limit defaults.
type QueryConfig struct {
	MaxRows                 int     `yaml:"max_rows"`
	MaxTimeoutMs            int     `yaml:"max_timeout_ms"`
	MaxTimeRangeHours       int     `yaml:"max_time_range_hours"`
	MaxJoins                int     `yaml:"max_joins"`
	MaxAggregations         int     `yaml:"max_aggregations"`
	MaxNestedQueries        int     `yaml:"max_nested_queries"`
	ComplexityScoreLimit    int     `yaml:"complexity_score_limit"`
	MaxQueriesPerMinute     int     `yaml:"max_queries_per_minute"`
	MaxComplexQueriesPerHour int    `yaml:"max_complex_queries_per_hour"`
	ComplexityThreshold     int     `yaml:"complexity_threshold"`
	ResultCacheTTL          time.Duration `yaml:"-"`
	ResultCacheMaxRows      int     `yaml:"result_cache_max_rows"`
}

// ResourceConfig holds Resource Manager admission-control budgets.
type ResourceConfig struct {
	MaxConcurrent  int   `yaml:"max_concurrent"`
	MaxMemoryBytes int64 `yaml:"max_memory_bytes"`
}

// StoreConfig holds backend connection strings (relational, search, cache/bus).
type StoreConfig struct {
	RelationalDSN string `yaml:"relational_dsn"`
	SearchURL     string `yaml:"search_url"`
	CacheURL      string `yaml:"cache_url"`
}

// Defaults returns a Config pre-populated with Sentinel's documented defaults.
func Defaults() *Config {
	return &Config{
		Correlation: CorrelationConfig{
			MaxProcessingTimeMs:    100,
			BatchProcessingEnabled: false,
			BatchSize:              10,
			CacheExpirationMs:      5 * 60 * 1000,
			ParallelRuleEvaluation: true,
			FastPathEnabled:        true,
			PriorityRuleThreshold:  20,
			MemoryBufferSizeLimit:  50_000,
			AdaptiveThrottling:     true,
			Concurrency:            20,
			BurstCapPerSecond:      1000,
			BufferRetention:        2 * time.Hour,
		},
		Query: QueryConfig{
			MaxRows:                  5000,
			MaxTimeoutMs:             120_000,
			MaxTimeRangeHours:        168,
			MaxJoins:                 5,
			MaxAggregations:          10,
			MaxNestedQueries:         3,
			ComplexityScoreLimit:     100,
			MaxQueriesPerMinute:      30,
			MaxComplexQueriesPerHour: 10,
			ComplexityThreshold:      50,
			ResultCacheTTL:           5 * time.Minute,
			ResultCacheMaxRows:       10_000,
		},
		Resources: ResourceConfig{
			MaxConcurrent:  50,
			MaxMemoryBytes: 1 << 30,
		},
	}
}

// yamlDoc mirrors Config's externally-settable fields (durations as strings).
type yamlDoc struct {
	Correlation struct {
		CorrelationConfig `yaml:",inline"`
		CacheExpiration   string `yaml:"cache_expiration"`
		BufferRetention   string `yaml:"buffer_retention"`
	} `yaml:"correlation"`
	Query struct {
		QueryConfig    `yaml:",inline"`
		ResultCacheTTL string `yaml:"result_cache_ttl"`
	} `yaml:"query"`
	Resources ResourceConfig `yaml:"resources"`
	Stores    StoreConfig    `yaml:"stores"`
}

// Initialize loads configDir/sentinel.yaml over the documented defaults,
// expands ${ENV_VAR} references in store connection strings, loads a
// .env file if present, and validates the result. A missing YAML file is
// not an error — Defaults() alone is a valid configuration.
func Initialize(configDir string) (*Config, error) {
	envPath := filepath.Join(configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		// Absence of .env is expected in most deployments; proceed with
		// whatever is already in the process environment.
		_ = err
	}

	cfg := Defaults()
	cfg.configDir = configDir

	ymlPath := filepath.Join(configDir, "sentinel.yaml")
	data, err := os.ReadFile(ymlPath)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvStores(cfg)
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("read config %s: %w", ymlPath, err)
	}

	var doc yamlDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", ymlPath, err)
	}

	if err := mergo.Merge(&cfg.Correlation, doc.Correlation.CorrelationConfig, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("merge correlation config: %w", err)
	}
	if err := mergo.Merge(&cfg.Query, doc.Query.QueryConfig, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("merge query config: %w", err)
	}
	if err := mergo.Merge(&cfg.Resources, doc.Resources, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("merge resources config: %w", err)
	}
	if err := mergo.Merge(&cfg.Stores, doc.Stores, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("merge stores config: %w", err)
	}

	if doc.Correlation.CacheExpiration != "" {
		d, err := time.ParseDuration(doc.Correlation.CacheExpiration)
		if err != nil {
			return nil, fmt.Errorf("parse correlation.cache_expiration: %w", err)
		}
		cfg.Correlation.CacheExpirationMs = int(d.Milliseconds())
	}
	if doc.Correlation.BufferRetention != "" {
		d, err := time.ParseDuration(doc.Correlation.BufferRetention)
		if err != nil {
			return nil, fmt.Errorf("parse correlation.buffer_retention: %w", err)
		}
		cfg.Correlation.BufferRetention = d
	}
	if doc.Query.ResultCacheTTL != "" {
		d, err := time.ParseDuration(doc.Query.ResultCacheTTL)
		if err != nil {
			return nil, fmt.Errorf("parse query.result_cache_ttl: %w", err)
		}
		cfg.Query.ResultCacheTTL = d
	}

	applyEnvStores(cfg)
	return cfg, cfg.Validate()
}

// applyEnvStores lets SENTINEL_RELATIONAL_DSN / SENTINEL_SEARCH_URL /
// SENTINEL_CACHE_URL override whatever the YAML specified.
func applyEnvStores(cfg *Config) {
	if v := os.Getenv("SENTINEL_RELATIONAL_DSN"); v != "" {
		cfg.Stores.RelationalDSN = v
	}
	if v := os.Getenv("SENTINEL_SEARCH_URL"); v != "" {
		cfg.Stores.SearchURL = v
	}
	if v := os.Getenv("SENTINEL_CACHE_URL"); v != "" {
		cfg.Stores.CacheURL = v
	}
}

// ConfigDir returns the directory configuration was loaded from.
func (c *Config) ConfigDir() string { return c.configDir }

// Validate enforces the cross-field invariants the engines depend on.
func (c *Config) Validate() error {
	if c.Correlation.MemoryBufferSizeLimit <= 0 {
		return fmt.Errorf("correlation.memory_buffer_size_limit must be positive")
	}
	if c.Correlation.Concurrency <= 0 {
		return fmt.Errorf("correlation.concurrency must be positive")
	}
	if c.Query.ComplexityScoreLimit <= 0 {
		return fmt.Errorf("query.complexity_score_limit must be positive")
	}
	if c.Query.MaxTimeRangeHours <= 0 {
		return fmt.Errorf("query.max_time_range_hours must be positive")
	}
	if c.Resources.MaxConcurrent <= 0 {
		return fmt.Errorf("resources.max_concurrent must be positive")
	}
	return nil
}
