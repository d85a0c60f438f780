package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string            `toml:"environment" validate:"oneof=development production test"`
	Server      ServerConfig      `toml:"server"`
	Storage     StorageConfig     `toml:"storage"`
	Logging     LoggingConfig     `toml:"logging"`
	Ingest      IngestConfig      `toml:"ingest"`
	ML          MLConfig          `toml:"ml"`
	Clustering  ClusteringConfig  `toml:"clustering"`
	Ranking     RankingConfig     `toml:"ranking"`
	Enrichment  EnrichmentConfig  `toml:"enrichment"`
	Telemetry   TelemetryConfig   `toml:"telemetry"`
	Experiments ExperimentsConfig `toml:"experiments"`
	Bandit      BanditConfig      `toml:"bandit"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"gte=1,lte=65535"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Format string   `toml:"format"` // "json" or "text"
	Output []string `toml:"output"` // "stdout", "file"
}

// IngestConfig controls the RSS collection loop
type IngestConfig struct {
	Enabled         bool   `toml:"enabled"`           // RSS_COLLECTION_ENABLED
	Interval        string `toml:"interval"`          // e.g. "10m" - how often all sources are pulled
	SourceTimeout   string `toml:"source_timeout"`    // Per-source fetch timeout
	SourcesFile     string `toml:"sources_file"`      // YAML catalog of RSS sources
	MaxItemsPerFeed int    `toml:"max_items_per_feed"`
}

// MLConfig contains the remote model-serving client configuration
type MLConfig struct {
	ServiceURL          string  `toml:"service_url" validate:"required"` // ML_SERVICE_URL
	RequestTimeout      string  `toml:"request_timeout"`                 // Per-call timeout (default "2s")
	MaxRetries          int     `toml:"max_retries"`                     // Retry attempts for transient failures
	RetryBackoff        string  `toml:"retry_backoff"`                   // Initial backoff, doubled per attempt
	RateLimit           string  `toml:"rate_limit"`                      // Minimum interval between requests
	BreakerWindow       int     `toml:"breaker_window" validate:"gte=20"`
	BreakerFailureRate  float64 `toml:"breaker_failure_rate" validate:"gte=0,lte=1"`
	BreakerOpenDuration string  `toml:"breaker_open_duration"` // How long the breaker stays open
	BreakerProbeCount   int     `toml:"breaker_probe_count"`   // Max half-open probe calls
	ImportanceCacheTTL  string  `toml:"importance_cache_ttl"`
	SummaryCacheTTL     string  `toml:"summary_cache_ttl"`
}

// ClusteringConfig controls the topic clustering batch
type ClusteringConfig struct {
	Enabled             bool    `toml:"enabled"`   // TOPIC_CLUSTERING_ENABLED
	Schedule            string  `toml:"schedule"`  // TOPIC_CLUSTERING_CRON
	Algorithm           string  `toml:"algorithm" validate:"oneof=cosine hdbscan kmeans"`
	SimilarityThreshold float64 `toml:"similarity_threshold" validate:"gte=0,lte=1"` // Join-topic cutoff
	DuplicateThreshold  float64 `toml:"duplicate_threshold" validate:"gte=0,lte=1"`  // Near-duplicate groupId cutoff
	Lookback            string  `toml:"lookback"`                                    // How far back embeddings are clustered
}

// RankingConfig controls diversity filtering and personalization
type RankingConfig struct {
	MMRLambda        float64 `toml:"mmr_lambda" validate:"gte=0,lte=1"` // mmr.lambda
	TopicCap         int     `toml:"topic_cap"`                         // Max items per topic in a feed
	ClickWindowHours int     `toml:"click_window_hours"`                // Personalization click-history window
}

// EnrichmentConfig controls the post-save embedding pipeline
type EnrichmentConfig struct {
	Workers       int    `toml:"workers"`        // Embedding worker pool size
	QueueSize     int    `toml:"queue_size"`     // Bounded queue before backlog spill
	DrainSchedule string `toml:"drain_schedule"` // Backlog drain cron
	MaxAttempts   int    `toml:"max_attempts"`   // Backlog retries before giving up
}

// TelemetryConfig controls impression/click buffering and rollups
type TelemetryConfig struct {
	FlushInterval  string `toml:"flush_interval"`  // Buffer flush period
	FlushThreshold int    `toml:"flush_threshold"` // Buffer flush size
	RollupSchedule string `toml:"rollup_schedule"` // Nightly metrics aggregation cron
}

// ExperimentsConfig controls A/B experiment monitoring
type ExperimentsConfig struct {
	AutoStopSchedule string `toml:"auto_stop_schedule"` // Degradation check cron
}

// BanditConfig seeds the default bandit experiment
type BanditConfig struct {
	Algorithm string  `toml:"algorithm" validate:"oneof=epsilon_greedy ucb1 thompson"`
	Epsilon   float64 `toml:"epsilon" validate:"gte=0,lte=1"`
	Alpha     float64 `toml:"alpha"` // Thompson Beta prior
	Beta      float64 `toml:"beta"`  // Thompson Beta prior
}

// NewDefaultConfig creates a configuration with default values
// Technical parameters are hardcoded here for production stability.
// Only user-facing settings should be exposed in nuntius.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: []string{"stdout", "file"},
		},
		Ingest: IngestConfig{
			Enabled:         true,
			Interval:        "10m",
			SourceTimeout:   "15s",
			SourcesFile:     "./sources.yaml",
			MaxItemsPerFeed: 200,
		},
		ML: MLConfig{
			ServiceURL:          "http://localhost:9000",
			RequestTimeout:      "2s",
			MaxRetries:          3,
			RetryBackoff:        "250ms",
			RateLimit:           "50ms",
			BreakerWindow:       20,
			BreakerFailureRate:  0.5,
			BreakerOpenDuration: "30s",
			BreakerProbeCount:   5,
			ImportanceCacheTTL:  "5m",
			SummaryCacheTTL:     "24h",
		},
		Clustering: ClusteringConfig{
			Enabled:             true,
			Schedule:            "0 */6 * * *", // Every 6 hours
			Algorithm:           "cosine",
			SimilarityThreshold: 0.75,
			DuplicateThreshold:  0.9,
			Lookback:            "72h",
		},
		Ranking: RankingConfig{
			MMRLambda:        0.7,
			TopicCap:         2,
			ClickWindowHours: 168, // 7 days
		},
		Enrichment: EnrichmentConfig{
			Workers:       4,
			QueueSize:     256,
			DrainSchedule: "@every 5m",
			MaxAttempts:   10,
		},
		Telemetry: TelemetryConfig{
			FlushInterval:  "1s",
			FlushThreshold: 500,
			RollupSchedule: "0 0 * * *", // Nightly at midnight UTC
		},
		Experiments: ExperimentsConfig{
			AutoStopSchedule: "0 */6 * * *",
		},
		Bandit: BanditConfig{
			Algorithm: "epsilon_greedy",
			Epsilon:   0.1,
			Alpha:     1.0,
			Beta:      1.0,
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env -> CLI
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env -> CLI. Later files override
// earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		// Unmarshal into config (merges with existing values, later values override)
		err = toml.Unmarshal(data, config)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	// Apply environment variables (overrides all file configs)
	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate checks the configuration against its struct constraints.
func (c *Config) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	// Environment configuration (highest priority: NUNTIUS_ENV, fallback: GO_ENV)
	if env := os.Getenv("NUNTIUS_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("NUNTIUS_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("NUNTIUS_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage configuration
	if badgerPath := os.Getenv("NUNTIUS_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Logging configuration
	if level := os.Getenv("NUNTIUS_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("NUNTIUS_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("NUNTIUS_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			trimmed := strings.TrimSpace(o)
			if trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Ingest configuration. RSS_COLLECTION_ENABLED is the canonical
	// deployment variable; the NUNTIUS_ prefix works as well.
	if enabled := os.Getenv("RSS_COLLECTION_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Ingest.Enabled = e
		}
	}
	if enabled := os.Getenv("NUNTIUS_INGEST_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Ingest.Enabled = e
		}
	}
	if interval := os.Getenv("NUNTIUS_INGEST_INTERVAL"); interval != "" {
		if _, err := time.ParseDuration(interval); err == nil {
			config.Ingest.Interval = interval
		}
	}
	if timeout := os.Getenv("NUNTIUS_INGEST_SOURCE_TIMEOUT"); timeout != "" {
		if _, err := time.ParseDuration(timeout); err == nil {
			config.Ingest.SourceTimeout = timeout
		}
	}
	if sourcesFile := os.Getenv("NUNTIUS_INGEST_SOURCES_FILE"); sourcesFile != "" {
		config.Ingest.SourcesFile = sourcesFile
	}

	// ML service configuration. ML_SERVICE_URL is the canonical
	// deployment variable.
	if url := os.Getenv("ML_SERVICE_URL"); url != "" {
		config.ML.ServiceURL = url
	}
	if url := os.Getenv("NUNTIUS_ML_SERVICE_URL"); url != "" {
		config.ML.ServiceURL = url
	}
	if timeout := os.Getenv("NUNTIUS_ML_REQUEST_TIMEOUT"); timeout != "" {
		if _, err := time.ParseDuration(timeout); err == nil {
			config.ML.RequestTimeout = timeout
		}
	}
	if retries := os.Getenv("NUNTIUS_ML_MAX_RETRIES"); retries != "" {
		if r, err := strconv.Atoi(retries); err == nil {
			config.ML.MaxRetries = r
		}
	}
	if window := os.Getenv("NUNTIUS_ML_BREAKER_WINDOW"); window != "" {
		if w, err := strconv.Atoi(window); err == nil {
			config.ML.BreakerWindow = w
		}
	}
	if openDuration := os.Getenv("NUNTIUS_ML_BREAKER_OPEN_DURATION"); openDuration != "" {
		if _, err := time.ParseDuration(openDuration); err == nil {
			config.ML.BreakerOpenDuration = openDuration
		}
	}

	// Clustering configuration. TOPIC_CLUSTERING_ENABLED and
	// TOPIC_CLUSTERING_CRON are the canonical deployment variables.
	if enabled := os.Getenv("TOPIC_CLUSTERING_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Clustering.Enabled = e
		}
	}
	if schedule := os.Getenv("TOPIC_CLUSTERING_CRON"); schedule != "" {
		config.Clustering.Schedule = schedule
	}
	if algorithm := os.Getenv("NUNTIUS_CLUSTERING_ALGORITHM"); algorithm != "" {
		config.Clustering.Algorithm = strings.ToLower(algorithm)
	}
	if threshold := os.Getenv("NUNTIUS_CLUSTERING_SIMILARITY_THRESHOLD"); threshold != "" {
		if t, err := strconv.ParseFloat(threshold, 64); err == nil {
			config.Clustering.SimilarityThreshold = t
		}
	}

	// Ranking configuration
	if lambda := os.Getenv("NUNTIUS_MMR_LAMBDA"); lambda != "" {
		if l, err := strconv.ParseFloat(lambda, 64); err == nil {
			config.Ranking.MMRLambda = l
		}
	}
	if topicCap := os.Getenv("NUNTIUS_RANKING_TOPIC_CAP"); topicCap != "" {
		if tc, err := strconv.Atoi(topicCap); err == nil {
			config.Ranking.TopicCap = tc
		}
	}

	// Enrichment configuration
	if workers := os.Getenv("NUNTIUS_ENRICHMENT_WORKERS"); workers != "" {
		if w, err := strconv.Atoi(workers); err == nil {
			config.Enrichment.Workers = w
		}
	}

	// Telemetry configuration
	if flushInterval := os.Getenv("NUNTIUS_TELEMETRY_FLUSH_INTERVAL"); flushInterval != "" {
		if _, err := time.ParseDuration(flushInterval); err == nil {
			config.Telemetry.FlushInterval = flushInterval
		}
	}
	if flushThreshold := os.Getenv("NUNTIUS_TELEMETRY_FLUSH_THRESHOLD"); flushThreshold != "" {
		if ft, err := strconv.Atoi(flushThreshold); err == nil {
			config.Telemetry.FlushThreshold = ft
		}
	}

	// Bandit configuration
	if algorithm := os.Getenv("NUNTIUS_BANDIT_ALGORITHM"); algorithm != "" {
		config.Bandit.Algorithm = strings.ToLower(algorithm)
	}
	if epsilon := os.Getenv("NUNTIUS_BANDIT_EPSILON"); epsilon != "" {
		if e, err := strconv.ParseFloat(epsilon, 64); err == nil {
			config.Bandit.Epsilon = e
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	// Command-line flags have highest priority
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// IngestInterval returns the parsed RSS collection interval.
func (c *Config) IngestInterval() time.Duration {
	return parseDurationOr(c.Ingest.Interval, 10*time.Minute)
}

// SourceTimeout returns the parsed per-source fetch timeout.
func (c *Config) SourceTimeout() time.Duration {
	return parseDurationOr(c.Ingest.SourceTimeout, 15*time.Second)
}

// MLRequestTimeout returns the parsed per-call ML timeout.
func (c *Config) MLRequestTimeout() time.Duration {
	return parseDurationOr(c.ML.RequestTimeout, 2*time.Second)
}

// ClusteringLookback returns the parsed clustering lookback window.
func (c *Config) ClusteringLookback() time.Duration {
	return parseDurationOr(c.Clustering.Lookback, 72*time.Hour)
}

// TelemetryFlushInterval returns the parsed telemetry flush period.
func (c *Config) TelemetryFlushInterval() time.Duration {
	return parseDurationOr(c.Telemetry.FlushInterval, time.Second)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// ValidateJobSchedule validates a cron schedule expression and ensures minimum 5-minute interval
func ValidateJobSchedule(schedule string) error {
	// Interval descriptors (@every 10m) and the named descriptors are
	// accepted too; the 5-minute floor applies to both forms.
	if strings.HasPrefix(schedule, "@every ") {
		d, err := time.ParseDuration(strings.TrimPrefix(schedule, "@every "))
		if err != nil {
			return fmt.Errorf("invalid @every duration: %w", err)
		}
		if d < 5*time.Minute {
			return fmt.Errorf("schedule interval must be at least 5 minutes, got %s", d)
		}
		return nil
	}
	if strings.HasPrefix(schedule, "@") {
		parser := cron.NewParser(cron.Descriptor)
		if _, err := parser.Parse(schedule); err != nil {
			return fmt.Errorf("invalid cron descriptor: %w", err)
		}
		return nil
	}

	// Parse the cron expression
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	_, err := parser.Parse(schedule)
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	// Check for minimum 5-minute interval
	parts := strings.Fields(schedule)
	if len(parts) < 5 {
		return fmt.Errorf("invalid cron format: expected 5 fields")
	}

	minuteField := parts[0]

	// Check for patterns that violate 5-minute minimum
	if minuteField == "*" {
		return fmt.Errorf("schedule must have minimum 5-minute interval (every minute is not allowed)")
	}

	// Check for */n patterns where n < 5
	if strings.HasPrefix(minuteField, "*/") {
		intervalStr := strings.TrimPrefix(minuteField, "*/")
		interval, err := strconv.Atoi(intervalStr)
		if err == nil && interval < 5 {
			return fmt.Errorf("schedule interval must be at least 5 minutes, got %d", interval)
		}
	}

	return nil
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
