package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App            AppConfig
	Database       DatabaseConfig
	DocumentStore  DatabaseConfig
	Redis          RedisConfig
	Pool           PoolConfig
	Cache          CacheConfig
	Pipeline       PipelineConfig
	Usage          UsageConfig
	Storage        StorageConfig
	Events         EventsConfig
	Reconciliation ReconciliationConfig
	Log            LogConfig
	HTTP           HTTPConfig
	Telemetry      TelemetryConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings. It is used for both the
// structured ledger database and the document database.
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// PoolKindConfig bounds one store kind's connection pool
type PoolKindConfig struct {
	MinSize        int
	MaxSize        int
	AcquireTimeout time.Duration
}

// PoolConfig holds the per-store pool bounds
type PoolConfig struct {
	Structured PoolKindConfig
	Document   PoolKindConfig
	Cache      PoolKindConfig
}

// CacheConfig holds cache layer settings
type CacheConfig struct {
	Backend    string // redis, memory
	KeyPrefix  string
	DefaultTTL time.Duration
}

// PipelineConfig holds extraction-to-posting settings
type PipelineConfig struct {
	// ConfidenceThreshold has no default; deployments must choose one.
	ConfidenceThreshold float64
	ExtractionTimeout   time.Duration
	OperationTimeout    time.Duration
	ExtractorURL        string
}

// UsageConfig bounds the in-memory usage tracker
type UsageConfig struct {
	MaxKeys         int
	MaxEventsPerKey int
	SweepInterval   time.Duration
	Window          time.Duration
	Limit           int
}

// StorageConfig holds object storage settings for document content
type StorageConfig struct {
	Backend         string // s3, gcs, none
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	CredentialsJSON string
	UsePathStyle    bool
	// ChecksumAlgorithm is used when content has to be hashed on read (sha256, blake2b)
	ChecksumAlgorithm string
	// HashMaxBytes caps how much content is streamed to compute a missing
	// checksum. Zero disables hashing on read.
	HashMaxBytes int64
}

// EventsConfig holds event publishing settings
type EventsConfig struct {
	Backend         string // pubsub, memory
	ProjectID       string
	Topic           string
	CredentialsJSON string
}

// ReconciliationConfig holds orphan audit settings
type ReconciliationConfig struct {
	Enabled         bool
	AuditInterval   time.Duration
	StaleClaimAfter time.Duration
	LockTTL         time.Duration
	PageSize        int
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	MaxHeaderBytes   int
	MaxBodySize      int64
	RateLimitEnabled bool
	TrustedProxies   []string
	// CORSAllowOrigins is empty by default, which refuses every cross-origin caller
	CORSAllowOrigins []string
	// HSTSMaxAge enables Strict-Transport-Security when positive
	HSTSMaxAge time.Duration
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string  // Service name for traces
	Insecure          bool    // Use insecure (non-TLS) connection (development only)
	MetricsInterval   time.Duration
	// Database tracing options
	DBTraceEnabled    bool          // Enable database query tracing (otelgorm)
	DBSlowQueryThresh time.Duration // Slow query threshold for warnings (default: 200ms)
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with LEDGERLINK_ prefix (e.g., LEDGERLINK_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("LEDGERLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database:      loadDatabase(v, "database"),
		DocumentStore: loadDatabase(v, "document_store"),
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Pool: PoolConfig{
			Structured: loadPoolKind(v, "pool.structured"),
			Document:   loadPoolKind(v, "pool.document"),
			Cache:      loadPoolKind(v, "pool.cache"),
		},
		Cache: CacheConfig{
			Backend:    v.GetString("cache.backend"),
			KeyPrefix:  v.GetString("cache.key_prefix"),
			DefaultTTL: v.GetDuration("cache.default_ttl"),
		},
		Pipeline: PipelineConfig{
			ConfidenceThreshold: v.GetFloat64("pipeline.confidence_threshold"),
			ExtractionTimeout:   v.GetDuration("pipeline.extraction_timeout"),
			OperationTimeout:    v.GetDuration("pipeline.operation_timeout"),
			ExtractorURL:        v.GetString("pipeline.extractor_url"),
		},
		Usage: UsageConfig{
			MaxKeys:         v.GetInt("usage.max_keys"),
			MaxEventsPerKey: v.GetInt("usage.max_events_per_key"),
			SweepInterval:   v.GetDuration("usage.sweep_interval"),
			Window:          v.GetDuration("usage.window"),
			Limit:           v.GetInt("usage.limit"),
		},
		Storage: StorageConfig{
			Backend:         v.GetString("storage.backend"),
			Bucket:          v.GetString("storage.bucket"),
			Region:          v.GetString("storage.region"),
			Endpoint:        v.GetString("storage.endpoint"),
			AccessKeyID:     v.GetString("storage.access_key_id"),
			SecretAccessKey: v.GetString("storage.secret_access_key"),
			CredentialsJSON: v.GetString("storage.credentials_json"),
			UsePathStyle:    v.GetBool("storage.use_path_style"),

			ChecksumAlgorithm: v.GetString("storage.checksum_algorithm"),
			HashMaxBytes:      v.GetInt64("storage.hash_max_bytes"),
		},
		Events: EventsConfig{
			Backend:   v.GetString("events.backend"),
			ProjectID: v.GetString("events.project_id"),
			Topic:     v.GetString("events.topic"),

			CredentialsJSON: v.GetString("events.credentials_json"),
		},
		Reconciliation: ReconciliationConfig{
			Enabled:         v.GetBool("reconciliation.enabled"),
			AuditInterval:   v.GetDuration("reconciliation.audit_interval"),
			StaleClaimAfter: v.GetDuration("reconciliation.stale_claim_after"),
			LockTTL:         v.GetDuration("reconciliation.lock_ttl"),
			PageSize:        v.GetInt("reconciliation.page_size"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			IdleTimeout:      v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes:   v.GetInt("http.max_header_bytes"),
			MaxBodySize:      v.GetInt64("http.max_body_size"),
			RateLimitEnabled: v.GetBool("http.rate_limit_enabled"),
			TrustedProxies:   v.GetStringSlice("http.trusted_proxies"),
			CORSAllowOrigins: v.GetStringSlice("http.cors_allow_origins"),
			HSTSMaxAge:       v.GetDuration("http.hsts_max_age"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadDatabase(v *viper.Viper, section string) DatabaseConfig {
	return DatabaseConfig{
		Host:            v.GetString(section + ".host"),
		Port:            v.GetInt(section + ".port"),
		User:            v.GetString(section + ".user"),
		Password:        v.GetString(section + ".password"),
		DBName:          v.GetString(section + ".dbname"),
		SSLMode:         v.GetString(section + ".sslmode"),
		MaxOpenConns:    v.GetInt(section + ".max_open_conns"),
		MaxIdleConns:    v.GetInt(section + ".max_idle_conns"),
		ConnMaxLifetime: v.GetInt(section + ".conn_max_lifetime"),
		ConnMaxIdleTime: v.GetInt(section + ".conn_max_idle_time"),
	}
}

func loadPoolKind(v *viper.Viper, section string) PoolKindConfig {
	return PoolKindConfig{
		MinSize:        v.GetInt(section + ".min_size"),
		MaxSize:        v.GetInt(section + ".max_size"),
		AcquireTimeout: v.GetDuration(section + ".acquire_timeout"),
	}
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "ledgerlink"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	applyDatabaseDefaults(&cfg.Database, "ledgerlink")
	applyDatabaseDefaults(&cfg.DocumentStore, "ledgerlink_documents")
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	applyPoolDefaults(&cfg.Pool.Structured, cfg.Database.MaxOpenConns)
	applyPoolDefaults(&cfg.Pool.Document, cfg.DocumentStore.MaxOpenConns)
	applyPoolDefaults(&cfg.Pool.Cache, 20)
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "redis"
	}
	if cfg.Cache.KeyPrefix == "" {
		cfg.Cache.KeyPrefix = "ledgerlink"
	}
	if cfg.Cache.DefaultTTL == 0 {
		cfg.Cache.DefaultTTL = 45 * time.Minute
	}
	if cfg.Pipeline.ExtractionTimeout == 0 {
		cfg.Pipeline.ExtractionTimeout = 60 * time.Second
	}
	if cfg.Pipeline.OperationTimeout == 0 {
		cfg.Pipeline.OperationTimeout = 5 * time.Second
	}
	if cfg.Pipeline.ExtractorURL == "" {
		cfg.Pipeline.ExtractorURL = "http://localhost:8090"
	}
	if cfg.Usage.MaxKeys == 0 {
		cfg.Usage.MaxKeys = 10000
	}
	if cfg.Usage.MaxEventsPerKey == 0 {
		cfg.Usage.MaxEventsPerKey = 1000
	}
	if cfg.Usage.SweepInterval == 0 {
		cfg.Usage.SweepInterval = 5 * time.Minute
	}
	if cfg.Usage.Window == 0 {
		cfg.Usage.Window = time.Minute
	}
	if cfg.Usage.Limit == 0 {
		cfg.Usage.Limit = 100
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "none"
	}
	if cfg.Storage.ChecksumAlgorithm == "" {
		cfg.Storage.ChecksumAlgorithm = "sha256"
	}
	if cfg.Events.Backend == "" {
		cfg.Events.Backend = "memory"
	}
	if cfg.Events.Topic == "" {
		cfg.Events.Topic = "ledgerlink-reconciliation"
	}
	// AuditInterval deliberately has no default.
	if cfg.Reconciliation.StaleClaimAfter == 0 {
		cfg.Reconciliation.StaleClaimAfter = 15 * time.Minute
	}
	if cfg.Reconciliation.LockTTL == 0 {
		cfg.Reconciliation.LockTTL = 2 * time.Minute
	}
	if cfg.Reconciliation.PageSize == 0 {
		cfg.Reconciliation.PageSize = 500
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 1 << 20 // metadata only, content goes to object storage
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.App.Name
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = 15 * time.Second
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}
}

func applyDatabaseDefaults(d *DatabaseConfig, dbName string) {
	if d.Host == "" {
		d.Host = "localhost"
	}
	if d.Port == 0 {
		d.Port = 5432
	}
	if d.User == "" {
		d.User = "postgres"
	}
	if d.DBName == "" {
		d.DBName = dbName
	}
	if d.SSLMode == "" {
		d.SSLMode = "disable"
	}
	if d.MaxOpenConns == 0 {
		d.MaxOpenConns = 25
	}
	if d.MaxIdleConns == 0 {
		d.MaxIdleConns = 5
	}
	if d.ConnMaxLifetime == 0 {
		d.ConnMaxLifetime = 60
	}
	if d.ConnMaxIdleTime == 0 {
		d.ConnMaxIdleTime = 30
	}
}

func applyPoolDefaults(p *PoolKindConfig, maxSize int) {
	if p.MaxSize == 0 {
		p.MaxSize = maxSize
	}
	if p.AcquireTimeout == 0 {
		p.AcquireTimeout = 2 * time.Second
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	for name, d := range map[string]DatabaseConfig{"database": c.Database, "document_store": c.DocumentStore} {
		if d.MaxOpenConns <= 0 {
			return fmt.Errorf("%s.max_open_conns must be positive", name)
		}
		if d.MaxIdleConns < 0 {
			return fmt.Errorf("%s.max_idle_conns cannot be negative", name)
		}
		if d.MaxIdleConns > d.MaxOpenConns {
			return fmt.Errorf("%s.max_idle_conns (%d) cannot exceed %s.max_open_conns (%d)",
				name, d.MaxIdleConns, name, d.MaxOpenConns)
		}
	}

	for name, p := range map[string]PoolKindConfig{
		"pool.structured": c.Pool.Structured,
		"pool.document":   c.Pool.Document,
		"pool.cache":      c.Pool.Cache,
	} {
		if p.MaxSize <= 0 {
			return fmt.Errorf("%s.max_size must be positive", name)
		}
		if p.MinSize < 0 {
			return fmt.Errorf("%s.min_size cannot be negative", name)
		}
		if p.MinSize > p.MaxSize {
			return fmt.Errorf("%s.min_size (%d) cannot exceed %s.max_size (%d)", name, p.MinSize, name, p.MaxSize)
		}
	}
	if c.Pool.Structured.MaxSize > c.Database.MaxOpenConns {
		return fmt.Errorf("pool.structured.max_size (%d) cannot exceed database.max_open_conns (%d)",
			c.Pool.Structured.MaxSize, c.Database.MaxOpenConns)
	}
	if c.Pool.Document.MaxSize > c.DocumentStore.MaxOpenConns {
		return fmt.Errorf("pool.document.max_size (%d) cannot exceed document_store.max_open_conns (%d)",
			c.Pool.Document.MaxSize, c.DocumentStore.MaxOpenConns)
	}

	if c.Pipeline.ConfidenceThreshold <= 0 || c.Pipeline.ConfidenceThreshold > 1 {
		return fmt.Errorf("pipeline.confidence_threshold is required and must be in (0, 1], got %v",
			c.Pipeline.ConfidenceThreshold)
	}

	switch c.Cache.Backend {
	case "redis", "memory":
	default:
		return fmt.Errorf("cache.backend must be redis or memory, got %q", c.Cache.Backend)
	}

	switch c.Storage.Backend {
	case "none":
	case "s3", "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the %s backend", c.Storage.Backend)
		}
	default:
		return fmt.Errorf("storage.backend must be s3, gcs or none, got %q", c.Storage.Backend)
	}
	switch c.Storage.ChecksumAlgorithm {
	case "sha256", "blake2b":
	default:
		return fmt.Errorf("storage.checksum_algorithm must be sha256 or blake2b, got %q", c.Storage.ChecksumAlgorithm)
	}

	switch c.Events.Backend {
	case "memory":
	case "pubsub":
		if c.Events.ProjectID == "" {
			return fmt.Errorf("events.project_id is required for the pubsub backend")
		}
	default:
		return fmt.Errorf("events.backend must be pubsub or memory, got %q", c.Events.Backend)
	}

	if c.Reconciliation.Enabled && c.Reconciliation.AuditInterval <= 0 {
		return fmt.Errorf("reconciliation.audit_interval is required when reconciliation is enabled")
	}

	if c.Usage.MaxKeys <= 0 {
		return fmt.Errorf("usage.max_keys must be positive")
	}
	if c.Usage.Limit > c.Usage.MaxEventsPerKey {
		return fmt.Errorf("usage.limit (%d) cannot exceed usage.max_events_per_key (%d)", c.Usage.Limit, c.Usage.MaxEventsPerKey)
	}

	if c.App.Env == "production" {
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.DocumentStore.SSLMode == "disable" {
			return fmt.Errorf("document_store.sslmode cannot be 'disable' in production")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
