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
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Log       LogConfig
	HTTP      HTTPConfig
	Telemetry TelemetryConfig
	Source    SourceConfig
	Webhook   WebhookConfig
	Sync      SyncConfig
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

// DatabaseConfig holds database connection settings
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

// RedisConfig holds Redis connection settings.
// When disabled, webhook delivery claims are held in process memory.
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	MaxBodySize    int64
	TrustedProxies []string

	// Manual sync triggers allowed per tenant per minute
	ManualSyncPerMinute float64
	ManualSyncBurst     int
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string  // Service name for traces and metrics
	Insecure          bool    // Use insecure (non-TLS) connection (development only)
	MetricsEnabled    bool
	MetricsInterval   time.Duration
	LogsEnabled       bool
	// Database tracing options
	DBTraceEnabled    bool
	DBLogFullSQL      bool
	DBSlowQueryThresh time.Duration
}

// SourceConfig configures the WMS source adapter
type SourceConfig struct {
	Vendor          string
	BaseURL         string
	RequestTimeout  time.Duration
	PageSize        int
	MaxPages        int
	TruncationCaps  []int // page sizes that suggest a silently capped result
	MaxResponseSize int64
	// Retry policy for transient failures
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	RetryMultiplier      float64
	RetryJitter          float64
	RetryMaxAttempts     int
	MaxRetryAfter        time.Duration
	// Proactive throttling per tenant
	RateLimitPerSecond float64
	RateLimitBurst     int
	RateLimitBuffer    int
}

// WebhookConfig configures the inbound WMS webhook endpoint
type WebhookConfig struct {
	Secret          string
	SignatureHeader string
	MaxBodySize     int64
	ClaimTTL        time.Duration // how long a delivery claim blocks concurrent duplicates
}

// TierConfig configures one scheduler cadence tier
type TierConfig struct {
	Enabled          bool
	Cadence          time.Duration
	Lookback         time.Duration
	FixedWindow      bool // window ignores lastSyncAt
	Concurrency      int
	PerTenantTimeout time.Duration
}

// SyncConfig holds sync scheduler configuration
type SyncConfig struct {
	Enabled            bool
	StartupDelay       time.Duration
	Jitter             float64 // fraction of the cadence, e.g. 0.1
	InterTenantDelay   time.Duration
	RetryInterval      time.Duration
	StaleRunningAfter  time.Duration
	ReconcileBatchSize int
	MaxRecordErrors    int
	ManualLookback     time.Duration
	HistorySize        int
	NearRealTime       TierConfig
	Medium             TierConfig
	Low                TierConfig
	Full               TierConfig
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with PACKR_ prefix (e.g., PACKR_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/packr")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("PACKR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Booleans whose zero value is not the default need explicit viper defaults
	v.SetDefault("sync.enabled", true)
	for _, tier := range []string{"near_real_time", "medium", "low", "full"} {
		v.SetDefault("sync."+tier+".enabled", true)
	}

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:    v.GetDuration("http.read_timeout"),
			WriteTimeout:   v.GetDuration("http.write_timeout"),
			IdleTimeout:    v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes: v.GetInt("http.max_header_bytes"),
			MaxBodySize:    v.GetInt64("http.max_body_size"),
			TrustedProxies: v.GetStringSlice("http.trusted_proxies"),

			ManualSyncPerMinute: v.GetFloat64("http.manual_sync_per_minute"),
			ManualSyncBurst:     v.GetInt("http.manual_sync_burst"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsEnabled:    v.GetBool("telemetry.metrics_enabled"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBLogFullSQL:      v.GetBool("telemetry.db_log_full_sql"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
		},
		Source: SourceConfig{
			Vendor:               v.GetString("source.vendor"),
			BaseURL:              v.GetString("source.base_url"),
			RequestTimeout:       v.GetDuration("source.request_timeout"),
			PageSize:             v.GetInt("source.page_size"),
			MaxPages:             v.GetInt("source.max_pages"),
			TruncationCaps:       v.GetIntSlice("source.truncation_caps"),
			MaxResponseSize:      v.GetInt64("source.max_response_size"),
			RetryInitialInterval: v.GetDuration("source.retry_initial_interval"),
			RetryMaxInterval:     v.GetDuration("source.retry_max_interval"),
			RetryMultiplier:      v.GetFloat64("source.retry_multiplier"),
			RetryJitter:          v.GetFloat64("source.retry_jitter"),
			RetryMaxAttempts:     v.GetInt("source.retry_max_attempts"),
			MaxRetryAfter:        v.GetDuration("source.max_retry_after"),
			RateLimitPerSecond:   v.GetFloat64("source.rate_limit_per_second"),
			RateLimitBurst:       v.GetInt("source.rate_limit_burst"),
			RateLimitBuffer:      v.GetInt("source.rate_limit_buffer"),
		},
		Webhook: WebhookConfig{
			Secret:          v.GetString("webhook.secret"),
			SignatureHeader: v.GetString("webhook.signature_header"),
			MaxBodySize:     v.GetInt64("webhook.max_body_size"),
			ClaimTTL:        v.GetDuration("webhook.claim_ttl"),
		},
		Sync: SyncConfig{
			Enabled:            v.GetBool("sync.enabled"),
			StartupDelay:       v.GetDuration("sync.startup_delay"),
			Jitter:             v.GetFloat64("sync.jitter"),
			InterTenantDelay:   v.GetDuration("sync.inter_tenant_delay"),
			RetryInterval:      v.GetDuration("sync.retry_interval"),
			StaleRunningAfter:  v.GetDuration("sync.stale_running_after"),
			ReconcileBatchSize: v.GetInt("sync.reconcile_batch_size"),
			MaxRecordErrors:    v.GetInt("sync.max_record_errors"),
			ManualLookback:     v.GetDuration("sync.manual_lookback"),
			HistorySize:        v.GetInt("sync.history_size"),
			NearRealTime:       loadTier(v, "near_real_time"),
			Medium:             loadTier(v, "medium"),
			Low:                loadTier(v, "low"),
			Full:               loadTier(v, "full"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadTier(v *viper.Viper, name string) TierConfig {
	prefix := "sync." + name + "."
	return TierConfig{
		Enabled:          v.GetBool(prefix + "enabled"),
		Cadence:          v.GetDuration(prefix + "cadence"),
		Lookback:         v.GetDuration(prefix + "lookback"),
		FixedWindow:      v.GetBool(prefix + "fixed_window"),
		Concurrency:      v.GetInt(prefix + "concurrency"),
		PerTenantTimeout: v.GetDuration(prefix + "per_tenant_timeout"),
	}
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "packr-sync"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "packr"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
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
	// Manual backfills run synchronously inside the request
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Minute
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 1 << 20 // 1MB
	}
	if cfg.HTTP.ManualSyncPerMinute == 0 {
		cfg.HTTP.ManualSyncPerMinute = 6
	}
	if cfg.HTTP.ManualSyncBurst == 0 {
		cfg.HTTP.ManualSyncBurst = 3
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
		cfg.Telemetry.MetricsInterval = 60 * time.Second
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}

	applySourceDefaults(&cfg.Source)
	applyWebhookDefaults(&cfg.Webhook)
	applySyncDefaults(&cfg.Sync)
}

func applySourceDefaults(s *SourceConfig) {
	if s.Vendor == "" {
		s.Vendor = "generic_rest"
	}
	if s.RequestTimeout == 0 {
		s.RequestTimeout = 30 * time.Second
	}
	if s.PageSize == 0 {
		s.PageSize = 100
	}
	if s.MaxPages == 0 {
		s.MaxPages = 500
	}
	if len(s.TruncationCaps) == 0 {
		s.TruncationCaps = []int{1000}
	}
	if s.MaxResponseSize == 0 {
		s.MaxResponseSize = 32 << 20 // 32MB
	}
	if s.RetryInitialInterval == 0 {
		s.RetryInitialInterval = 500 * time.Millisecond
	}
	if s.RetryMaxInterval == 0 {
		s.RetryMaxInterval = 30 * time.Second
	}
	if s.RetryMultiplier == 0 {
		s.RetryMultiplier = 2.0
	}
	if s.RetryJitter == 0 {
		s.RetryJitter = 0.5
	}
	if s.RetryMaxAttempts == 0 {
		s.RetryMaxAttempts = 5
	}
	if s.MaxRetryAfter == 0 {
		s.MaxRetryAfter = 2 * time.Minute
	}
	if s.RateLimitPerSecond == 0 {
		s.RateLimitPerSecond = 5
	}
	if s.RateLimitBurst == 0 {
		s.RateLimitBurst = 5
	}
	if s.RateLimitBuffer == 0 {
		s.RateLimitBuffer = 5
	}
}

func applyWebhookDefaults(w *WebhookConfig) {
	if w.SignatureHeader == "" {
		w.SignatureHeader = "X-WMS-Signature"
	}
	if w.MaxBodySize == 0 {
		w.MaxBodySize = 1 << 20 // 1MB
	}
	if w.ClaimTTL == 0 {
		w.ClaimTTL = 5 * time.Minute
	}
}

func applySyncDefaults(s *SyncConfig) {
	if s.StartupDelay == 0 {
		s.StartupDelay = 10 * time.Second
	}
	if s.Jitter == 0 {
		s.Jitter = 0.1
	}
	if s.InterTenantDelay == 0 {
		s.InterTenantDelay = 2 * time.Second
	}
	if s.RetryInterval == 0 {
		s.RetryInterval = 2 * time.Minute
	}
	if s.ReconcileBatchSize == 0 {
		s.ReconcileBatchSize = 500
	}
	if s.MaxRecordErrors == 0 {
		s.MaxRecordErrors = 50
	}
	if s.ManualLookback == 0 {
		s.ManualLookback = 24 * time.Hour
	}
	if s.HistorySize == 0 {
		s.HistorySize = 200
	}

	applyTierDefaults(&s.NearRealTime, 5*time.Minute, 30*time.Minute, 10*time.Minute)
	applyTierDefaults(&s.Medium, 30*time.Minute, 2*time.Hour, 10*time.Minute)
	applyTierDefaults(&s.Low, 2*time.Hour, 24*time.Hour, 10*time.Minute)
	applyTierDefaults(&s.Full, 24*time.Hour, 30*24*time.Hour, 30*time.Minute)
	s.Full.FixedWindow = true

	if s.StaleRunningAfter == 0 {
		s.StaleRunningAfter = 2 * s.Full.PerTenantTimeout
	}
}

func applyTierDefaults(t *TierConfig, cadence, lookback, timeout time.Duration) {
	if t.Cadence == 0 {
		t.Cadence = cadence
	}
	if t.Lookback == 0 {
		t.Lookback = lookback
	}
	if t.Concurrency == 0 {
		t.Concurrency = 2
	}
	if t.PerTenantTimeout == 0 {
		t.PerTenantTimeout = timeout
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	if c.App.Env == "production" {
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.Webhook.Secret == "" {
			return fmt.Errorf("webhook.secret is required in production")
		}
		if c.Telemetry.DBLogFullSQL {
			return fmt.Errorf("telemetry.db_log_full_sql must be false in production to prevent sensitive data exposure in traces")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	if c.Source.MaxPages < 1 {
		return fmt.Errorf("source.max_pages must be positive")
	}
	if c.Source.PageSize < 1 || c.Source.PageSize > 1000 {
		return fmt.Errorf("source.page_size must be between 1 and 1000, got %d", c.Source.PageSize)
	}
	if c.Source.RetryJitter < 0 || c.Source.RetryJitter > 1 {
		return fmt.Errorf("source.retry_jitter must be between 0 and 1, got %f", c.Source.RetryJitter)
	}
	if c.Source.BaseURL != "" {
		if _, err := url.ParseRequestURI(c.Source.BaseURL); err != nil {
			return fmt.Errorf("source.base_url is invalid: %w", err)
		}
	}

	if c.Sync.Jitter < 0 || c.Sync.Jitter >= 1 {
		return fmt.Errorf("sync.jitter must be in [0, 1), got %f", c.Sync.Jitter)
	}
	for name, tier := range map[string]TierConfig{
		"near_real_time": c.Sync.NearRealTime,
		"medium":         c.Sync.Medium,
		"low":            c.Sync.Low,
		"full":           c.Sync.Full,
	} {
		if tier.Concurrency < 1 || tier.Concurrency > 4 {
			return fmt.Errorf("sync.%s.concurrency must be between 1 and 4, got %d", name, tier.Concurrency)
		}
		if tier.Cadence < time.Minute {
			return fmt.Errorf("sync.%s.cadence must be at least 1m, got %s", name, tier.Cadence)
		}
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

// Addr returns the Redis address in host:port form
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
