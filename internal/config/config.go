// Package config loads and validates the ha-ingestor YAML configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration loaded from YAML.
type Config struct {
	HA         HAConfig         `yaml:"ha"`
	Breaker    BreakerConfig    `yaml:"breaker"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Writer     WriterConfig     `yaml:"writer"`
	Webhook    WebhookConfig    `yaml:"webhook"`
	Retention  RetentionConfig  `yaml:"retention"`
	Schedule   ScheduleConfig   `yaml:"schedule"`
	Enrichment EnrichmentConfig `yaml:"enrichment"`
	HTTPAPI    HTTPAPIConfig    `yaml:"http_api"`
	CatalogDB  string           `yaml:"catalog_db"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// HAConfig configures the Connection Manager (C1): the Home Assistant
// WebSocket endpoints it tries in priority order, failing over to the next.
type HAConfig struct {
	Endpoints       []HAEndpoint  `yaml:"endpoints"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	ReadIdleTimeout time.Duration `yaml:"read_idle_timeout"`
	PingInterval    time.Duration `yaml:"ping_interval"`
}

// HAEndpoint is one candidate Home Assistant instance.
type HAEndpoint struct {
	Name  string `yaml:"name"`
	URL   string `yaml:"url"`   // ws:// or wss://
	Token string `yaml:"token"` // long-lived access token
}

// BreakerConfig configures the per-endpoint circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
	SuccessThreshold int           `yaml:"success_threshold"`
}

// PipelineConfig configures the bounded ingest-to-writer channel.
type PipelineConfig struct {
	Capacity int `yaml:"capacity"`
}

// WriterConfig configures the Enrichment & Batch Writer (C4).
type WriterConfig struct {
	// BatchSize may be overridden per measurement; this is the default.
	BatchSize      int           `yaml:"batch_size"`
	FlushInterval  time.Duration `yaml:"flush_interval"`
	TSDBURL        string        `yaml:"tsdb_url"`
	TSDBToken      string        `yaml:"tsdb_token"`
	TSDBTimeout    time.Duration `yaml:"tsdb_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	BaseDelay      time.Duration `yaml:"base_delay"`
	MaxDelay       time.Duration `yaml:"max_delay"`
	HighWaterBytes int64         `yaml:"high_water_bytes"`
	Parallelism    int           `yaml:"parallelism"`
	DrainTimeout   time.Duration `yaml:"drain_timeout"`
	SpoolPath      string        `yaml:"spool_path"`
}

// WebhookConfig configures the Webhook Dispatcher (C5).
type WebhookConfig struct {
	MailboxCapacity int             `yaml:"mailbox_capacity"`
	AttemptSchedule []time.Duration `yaml:"attempt_schedule"`
	RequestTimeout  time.Duration   `yaml:"request_timeout"`
}

// RetentionConfig configures the Retention & Aggregator (C6) enforcement
// windows, keyed by bucket name.
type RetentionConfig struct {
	Raw    time.Duration `yaml:"raw"`
	Daily  time.Duration `yaml:"daily"`
	Weekly time.Duration `yaml:"weekly"`
	// Workers bounds the job-execution worker pool shared by C6's scheduled
	// runs.
	Workers int `yaml:"workers"`
}

// ScheduleConfig holds the cron expressions for C6's periodic jobs.
type ScheduleConfig struct {
	DailyAggregate   string `yaml:"daily"`
	WeeklyAggregate  string `yaml:"weekly"`
	MonthlyAggregate string `yaml:"monthly"`
	RetentionSweep   string `yaml:"retention_sweep"`
}

// EnrichmentConfig lists the external enrichment sources and their
// snapshot cache TTLs.
type EnrichmentConfig struct {
	Sources map[string]EnrichmentSource `yaml:"sources"`
}

// EnrichmentSource configures one external enrichment source.
type EnrichmentSource struct {
	URL     string        `yaml:"url"`
	TTL     time.Duration `yaml:"ttl"`
	Enabled bool          `yaml:"enabled"`
}

// HTTPAPIConfig configures the read-side gin HTTP API.
type HTTPAPIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "ha-ingestor".
	ServiceName string `yaml:"service_name"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request. Equivalent to the OTEL_EXPORTER_OTLP_HEADERS environment
	// variable. Use this for authentication tokens, e.g.:
	//   Authorization: "Bearer <token>"
	Headers map[string]string `yaml:"headers,omitempty"`
}

// DefaultPath returns the default config file path: ~/.config/ha-ingestor/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "ha-ingestor", "config.yaml"), nil
}

// Load reads and validates the configuration file at the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.HA.ConnectTimeout == 0 {
		c.HA.ConnectTimeout = 10 * time.Second
	}
	if c.HA.ReadIdleTimeout == 0 {
		c.HA.ReadIdleTimeout = 60 * time.Second
	}
	if c.HA.PingInterval == 0 {
		c.HA.PingInterval = 30 * time.Second
	}

	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = 5
	}
	if c.Breaker.ResetTimeout == 0 {
		c.Breaker.ResetTimeout = 60 * time.Second
	}
	if c.Breaker.SuccessThreshold == 0 {
		c.Breaker.SuccessThreshold = 3
	}

	if c.Pipeline.Capacity == 0 {
		c.Pipeline.Capacity = 1000
	}

	if c.Writer.BatchSize == 0 {
		c.Writer.BatchSize = 500
	}
	if c.Writer.FlushInterval == 0 {
		c.Writer.FlushInterval = 5 * time.Second
	}
	if c.Writer.TSDBTimeout == 0 {
		c.Writer.TSDBTimeout = 10 * time.Second
	}
	if c.Writer.MaxRetries == 0 {
		c.Writer.MaxRetries = 5
	}
	if c.Writer.BaseDelay == 0 {
		c.Writer.BaseDelay = 5 * time.Second
	}
	if c.Writer.MaxDelay == 0 {
		c.Writer.MaxDelay = 30 * time.Second
	}
	if c.Writer.HighWaterBytes == 0 {
		c.Writer.HighWaterBytes = 64 * 1024 * 1024
	}
	if c.Writer.Parallelism == 0 {
		c.Writer.Parallelism = 1
	}
	if c.Writer.DrainTimeout == 0 {
		c.Writer.DrainTimeout = 30 * time.Second
	}
	if c.Writer.SpoolPath == "" {
		c.Writer.SpoolPath = "spool/failed-batches.jsonl"
	}

	if c.Webhook.MailboxCapacity == 0 {
		c.Webhook.MailboxCapacity = 256
	}
	if len(c.Webhook.AttemptSchedule) == 0 {
		c.Webhook.AttemptSchedule = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}
	}
	if c.Webhook.RequestTimeout == 0 {
		c.Webhook.RequestTimeout = 10 * time.Second
	}

	if c.Retention.Raw == 0 {
		c.Retention.Raw = 7 * 24 * time.Hour
	}
	if c.Retention.Daily == 0 {
		c.Retention.Daily = 90 * 24 * time.Hour
	}
	if c.Retention.Weekly == 0 {
		c.Retention.Weekly = 52 * 7 * 24 * time.Hour
	}
	if c.Retention.Workers == 0 {
		c.Retention.Workers = 2
	}

	if c.Schedule.DailyAggregate == "" {
		c.Schedule.DailyAggregate = "0 3 * * *"
	}
	if c.Schedule.WeeklyAggregate == "" {
		c.Schedule.WeeklyAggregate = "0 3 * * 0"
	}
	if c.Schedule.MonthlyAggregate == "" {
		c.Schedule.MonthlyAggregate = "0 3 1 * *"
	}
	if c.Schedule.RetentionSweep == "" {
		c.Schedule.RetentionSweep = "0 4 * * *"
	}

	if c.HTTPAPI.ListenAddr == "" {
		c.HTTPAPI.ListenAddr = ":8080"
	}

	if c.CatalogDB == "" {
		c.CatalogDB = "ha-ingestor.db"
	}
}

// validate checks that all required fields are present and well-formed.
func (c *Config) validate() error {
	if len(c.HA.Endpoints) == 0 {
		return fmt.Errorf("ha.endpoints must contain at least one entry")
	}
	seen := make(map[string]bool, len(c.HA.Endpoints))
	for _, ep := range c.HA.Endpoints {
		if ep.Name == "" {
			return fmt.Errorf("ha.endpoints contains an entry with an empty name")
		}
		if seen[ep.Name] {
			return fmt.Errorf("ha.endpoints contains a duplicate name %q", ep.Name)
		}
		seen[ep.Name] = true

		u, err := url.ParseRequestURI(ep.URL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			return fmt.Errorf("ha.endpoints[%q].url %q must be a valid ws or wss URL", ep.Name, ep.URL)
		}
		if ep.Token == "" {
			return fmt.Errorf("ha.endpoints[%q].token is required", ep.Name)
		}
	}

	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("breaker.failure_threshold must be at least 1")
	}
	if c.Breaker.SuccessThreshold < 1 {
		return fmt.Errorf("breaker.success_threshold must be at least 1")
	}

	if c.Pipeline.Capacity < 1 {
		return fmt.Errorf("pipeline.capacity must be at least 1")
	}

	if c.Writer.BatchSize < 1 {
		return fmt.Errorf("writer.batch_size must be at least 1")
	}
	if c.Writer.TSDBURL == "" {
		return fmt.Errorf("writer.tsdb_url is required")
	}

	for name, src := range c.Enrichment.Sources {
		if src.Enabled && src.URL == "" {
			return fmt.Errorf("enrichment.sources[%q].url is required when enabled", name)
		}
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
		}
	}

	return nil
}
