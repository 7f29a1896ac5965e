// Package config provides configuration management for the article
// harvester.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// StorageBackend names which Artifact Repository backend a run is
// bound to, selected once at config load.
const (
	StorageBackendLocal = "local"
	StorageBackendS3    = "s3"
)

// Config holds all configuration for the harvester.
type Config struct {
	// DataPath is the root of the local Artifact Repository and, when
	// Storage.Backend is "local", the artifact tree itself.
	DataPath string `mapstructure:"data_path"`
	// BatchSize is the Orchestrator's bounded worker pool size.
	BatchSize int `mapstructure:"batch_size"`
	// ContactEmail is sent to upstream etiquette-requiring APIs.
	ContactEmail string `mapstructure:"contact_email"`
	// CORD19PublisherPDFPath is an optional local directory of CORD-19
	// publisher PDFs named <sha>.pdf, offered for Elsevier rows as the
	// last download candidate, after the network ones. LegacyDataPath is
	// the path of an optional local PMC OA file-list CSV, loaded as the
	// PMC archive index; no PDF files are read from it.
	CORD19PublisherPDFPath string `mapstructure:"cord19_publisher_pdf_path"`
	LegacyDataPath         string `mapstructure:"legacy_data_path"`

	Storage       StorageConfig       `mapstructure:"storage"`
	Sources       SourcesConfig       `mapstructure:"sources"`
	Structuring   StructuringConfig   `mapstructure:"structuring"`
	Orchestrator  OrchestratorConfig  `mapstructure:"orchestrator"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
	Tracing       TracingConfig       `mapstructure:"tracing"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Outbox        OutboxConfig        `mapstructure:"outbox"`
	DiagnosticsDB DiagnosticsDBConfig `mapstructure:"diagnostics_db"`
}

// StorageConfig selects and configures the Artifact Repository backend.
type StorageConfig struct {
	// Backend is "local" or "s3".
	Backend string `mapstructure:"backend"`
	// S3Bucket and S3Prefix configure the object-store backend.
	S3Bucket string `mapstructure:"s3_bucket"`
	S3Prefix string `mapstructure:"s3_prefix"`
}

// SourcesConfig configures the three Metadata Client sources.
type SourcesConfig struct {
	Aggregator  SourceConfig `mapstructure:"aggregator"`
	DOIRegistry SourceConfig `mapstructure:"doi_registry"`
	OALocator   SourceConfig `mapstructure:"oa_locator"`
}

// SourceConfig holds configuration for a single Metadata Client source.
type SourceConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"`
	BurstSize int           `mapstructure:"burst_size"`
}

// StructuringConfig configures the GROBID HTTP client and the Pub2TEI
// batch subprocess transformer.
type StructuringConfig struct {
	GROBIDURL string `mapstructure:"grobid_url"`
	// JATSTransformerPath is the root of a cloned Pub2TEI installation
	// (Samples/saxon9he.jar, Stylesheets/Publishers.xsl) that the Reverse
	// Transform Pass invokes as a batch subprocess, not an HTTP service.
	JATSTransformerPath string        `mapstructure:"jats_transformer_path"`
	PDFTimeout          time.Duration `mapstructure:"pdf_timeout"`
	JATSTimeout         time.Duration `mapstructure:"jats_timeout"`
}

// OrchestratorConfig tunes the Pipeline Orchestrator and Fetcher.
type OrchestratorConfig struct {
	PerHostLimit         int64         `mapstructure:"per_host_limit"`
	PerStageRetries      int           `mapstructure:"per_stage_retries"`
	RetryBaseDelay       time.Duration `mapstructure:"retry_base_delay"`
	MaxBackoff           time.Duration `mapstructure:"max_backoff"`
	MetadataTimeout      time.Duration `mapstructure:"metadata_timeout"`
	FetchTimeout         time.Duration `mapstructure:"fetch_timeout"`
	StructuringTimeout   time.Duration `mapstructure:"structuring_timeout"`
	MinArtifactSizeBytes int64         `mapstructure:"min_artifact_size_bytes"`
	MaxArtifactSizeBytes int64         `mapstructure:"max_artifact_size_bytes"`
	CompactionThreshold  int           `mapstructure:"compaction_threshold"`
	EnableGrobid         bool          `mapstructure:"enable_grobid"`
	EnableThumbnail      bool          `mapstructure:"enable_thumbnail"`
	EnableAnnotation     bool          `mapstructure:"enable_annotation"`
	ThumbnailCommand     string        `mapstructure:"thumbnail_command"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds Prometheus metrics exposure settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port"`
}

// TracingConfig holds OpenTelemetry distributed tracing settings.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

// KafkaConfig holds Kafka publisher settings for entry lifecycle
// events.
type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// OutboxConfig holds lifecycle-event publisher settings.
type OutboxConfig struct {
	Workers    int           `mapstructure:"workers"`
	MaxRetries int           `mapstructure:"max_retries"`
	FlushEvery time.Duration `mapstructure:"flush_every"`
}

// DiagnosticsDBConfig configures the optional Postgres Diagnostics
// Mirror. map.jsonl remains the sole source of truth for resume; this
// is a read-mirror only.
type DiagnosticsDBConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	DSN            string `mapstructure:"-"`
	MigrationsPath string `mapstructure:"migrations_path"`
}

// Load loads configuration from environment variables and config
// files. An optional configFile path (the CLI's --config flag)
// overrides the default search path (./config.yaml, ./config/config.yaml,
// /etc/article-harvester/config.yaml).
func Load(configFile ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if len(configFile) > 0 && configFile[0] != "" {
		v.SetConfigFile(configFile[0])
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/article-harvester")
	}

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment
// variables, bypassing config-file loading.
func loadSecrets(cfg *Config) {
	cfg.DiagnosticsDB.DSN = os.Getenv("HARVESTER_DIAGNOSTICS_DB_DSN")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_path", "./data")
	v.SetDefault("batch_size", 20)
	v.SetDefault("contact_email", "")
	v.SetDefault("cord19_publisher_pdf_path", "")
	v.SetDefault("legacy_data_path", "")

	v.SetDefault("storage.backend", StorageBackendLocal)
	v.SetDefault("storage.s3_bucket", "")
	v.SetDefault("storage.s3_prefix", "")

	v.SetDefault("sources.aggregator.base_url", "https://api.openalex.org")
	v.SetDefault("sources.aggregator.timeout", "30s")
	v.SetDefault("sources.aggregator.rate_limit", 10.0)
	v.SetDefault("sources.aggregator.burst_size", 10)

	v.SetDefault("sources.doi_registry.base_url", "https://api.crossref.org")
	v.SetDefault("sources.doi_registry.timeout", "30s")
	v.SetDefault("sources.doi_registry.rate_limit", 5.0)
	v.SetDefault("sources.doi_registry.burst_size", 5)

	v.SetDefault("sources.oa_locator.base_url", "https://api.unpaywall.org/v2")
	v.SetDefault("sources.oa_locator.timeout", "30s")
	v.SetDefault("sources.oa_locator.rate_limit", 5.0)
	v.SetDefault("sources.oa_locator.burst_size", 5)

	v.SetDefault("structuring.grobid_url", "http://localhost:8070")
	v.SetDefault("structuring.jats_transformer_path", "")
	v.SetDefault("structuring.pdf_timeout", "600s")
	v.SetDefault("structuring.jats_timeout", "300s")

	v.SetDefault("orchestrator.per_host_limit", 2)
	v.SetDefault("orchestrator.per_stage_retries", 3)
	v.SetDefault("orchestrator.retry_base_delay", "1s")
	v.SetDefault("orchestrator.max_backoff", "60s")
	v.SetDefault("orchestrator.metadata_timeout", "30s")
	v.SetDefault("orchestrator.fetch_timeout", "120s")
	v.SetDefault("orchestrator.structuring_timeout", "600s")
	v.SetDefault("orchestrator.min_artifact_size_bytes", 1024)
	v.SetDefault("orchestrator.max_artifact_size_bytes", 100*1024*1024)
	v.SetDefault("orchestrator.compaction_threshold", 3)
	v.SetDefault("orchestrator.enable_grobid", true)
	v.SetDefault("orchestrator.enable_thumbnail", false)
	v.SetDefault("orchestrator.enable_annotation", false)
	v.SetDefault("orchestrator.thumbnail_command", "pdftoppm")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.port", 9091)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.service_name", "article-harvester")
	v.SetDefault("tracing.sample_rate", 0.1)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "events.harvester.entries")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", "10ms")

	v.SetDefault("outbox.workers", 2)
	v.SetDefault("outbox.max_retries", 3)
	v.SetDefault("outbox.flush_every", "1s")

	v.SetDefault("diagnostics_db.enabled", false)
	v.SetDefault("diagnostics_db.migrations_path", "migrations")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataPath == "" {
		return fmt.Errorf("data_path is required")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive")
	}

	switch c.Storage.Backend {
	case StorageBackendLocal:
	case StorageBackendS3:
		if c.Storage.S3Bucket == "" {
			return fmt.Errorf("storage.s3_bucket is required when storage.backend is %q", StorageBackendS3)
		}
	default:
		return fmt.Errorf("invalid storage.backend: %q", c.Storage.Backend)
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing endpoint is required when tracing is enabled")
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing sample rate must be between 0 and 1")
	}

	if c.DiagnosticsDB.Enabled && c.DiagnosticsDB.DSN == "" {
		return fmt.Errorf("diagnostics_db.enabled requires HARVESTER_DIAGNOSTICS_DB_DSN to be set")
	}

	if c.Orchestrator.PerStageRetries < 0 {
		return fmt.Errorf("orchestrator.per_stage_retries must not be negative")
	}

	return nil
}
