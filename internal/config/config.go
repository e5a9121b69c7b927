// Package config provides configuration management for the alexander client.
// Configuration can be loaded from YAML files and environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Credential sources.
const (
	SourceStatic   = "static"
	SourceEndpoint = "endpoint"
	SourceAWS      = "aws"
)

// Cache backends.
const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Signing versions.
const (
	SigningV2 = "v2"
	SigningV4 = "v4"
)

// Journal database drivers.
const (
	DriverNone     = "none"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config represents the complete client configuration.
type Config struct {
	Endpoint    EndpointConfig    `mapstructure:"endpoint"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Signing     SigningConfig     `mapstructure:"signing"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Transfer    TransferConfig    `mapstructure:"transfer"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

// EndpointConfig describes the object store.
type EndpointConfig struct {
	// URL is the base URL, e.g. http://localhost:9000. Requests use path-style
	// addressing: {URL}/{bucket}/{key}.
	URL string `mapstructure:"url" validate:"required,url"`

	// Timeout bounds metadata requests. Downloads are bounded by the context.
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0"`

	UserAgent string `mapstructure:"user_agent"`
}

// CredentialsConfig selects where credentials come from.
type CredentialsConfig struct {
	Source string `mapstructure:"source" validate:"oneof=static endpoint aws"`

	// Static credentials.
	AccessKeyID     string `mapstructure:"access_key_id" validate:"required_if=Source static"`
	SecretAccessKey string `mapstructure:"secret_access_key" validate:"required_if=Source static"`
	SessionToken    string `mapstructure:"session_token"`

	// EndpointURL serves temporary credentials as JSON.
	EndpointURL  string        `mapstructure:"endpoint_url" validate:"required_if=Source endpoint,omitempty,url"`
	EndpointPath string        `mapstructure:"endpoint_path"`
	BearerToken  string        `mapstructure:"bearer_token"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout" validate:"gte=0"`

	// Profile and Region select the AWS shared config for the aws source.
	Profile string `mapstructure:"profile"`
	Region  string `mapstructure:"region"`
}

// CacheConfig configures the shared credential cache.
type CacheConfig struct {
	Backend string `mapstructure:"backend" validate:"oneof=none memory redis"`

	// Name distinguishes credential sets sharing one cache.
	Name string `mapstructure:"name" validate:"required"`

	// EncryptionKey is a passphrase; cached secrets are encrypted with a key
	// derived from it. Empty stores secrets in the clear.
	EncryptionKey string `mapstructure:"encryption_key"`

	DefaultTTL     time.Duration `mapstructure:"default_ttl" validate:"gt=0"`
	ExpiryMargin   time.Duration `mapstructure:"expiry_margin" validate:"gte=0"`
	LockTTL        time.Duration `mapstructure:"lock_ttl" validate:"gt=0"`
	LockRetries    int           `mapstructure:"lock_retries" validate:"gte=0"`
	LockRetryDelay time.Duration `mapstructure:"lock_retry_delay" validate:"gte=0"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Host        string        `mapstructure:"host" validate:"required"`
	Port        int           `mapstructure:"port" validate:"min=1,max=65535"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db" validate:"gte=0"`
	PoolSize    int           `mapstructure:"pool_size" validate:"gte=0"`
	DialTimeout time.Duration `mapstructure:"dial_timeout" validate:"gte=0"`
}

// Addr returns the Redis address in host:port format.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SigningConfig selects the signature scheme and which request fields it
// covers.
type SigningConfig struct {
	Version string `mapstructure:"version" validate:"oneof=v2 v4"`

	// Scheme is the Authorization scheme name of v2 signatures.
	Scheme string `mapstructure:"scheme" validate:"required_if=Version v2"`

	// Region and Service form the v4 credential scope.
	Region  string `mapstructure:"region" validate:"required_if=Version v4"`
	Service string `mapstructure:"service" validate:"required_if=Version v4"`

	HeaderPrefixes []string `mapstructure:"header_prefixes"`
	Headers        []string `mapstructure:"headers"`
	SubResources   []string `mapstructure:"sub_resources"`

	// RetryForbidden refetches credentials once when the server answers 403.
	RetryForbidden bool `mapstructure:"retry_forbidden"`
}

// DatabaseConfig holds resume journal settings.
// Supports both PostgreSQL and SQLite backends.
type DatabaseConfig struct {
	// Driver is "none", "sqlite" or "postgres".
	Driver string `mapstructure:"driver" validate:"oneof=none sqlite postgres"`

	// URL is a PostgreSQL connection URL. It takes precedence over the
	// individual fields below.
	URL string `mapstructure:"url"`

	// PostgreSQL settings
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port" validate:"gte=0,lte=65535"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`

	// SQLite settings
	Path            string `mapstructure:"path" validate:"required_if=Driver sqlite"` // Path to the journal file
	JournalMode     string `mapstructure:"journal_mode"`                              // WAL, DELETE, TRUNCATE, etc.
	BusyTimeout     int    `mapstructure:"busy_timeout"`                              // Milliseconds to wait for locks
	CacheSize       int    `mapstructure:"cache_size"`                                // Page cache size (negative = KB)
	SynchronousMode string `mapstructure:"synchronous_mode"`                          // NORMAL, FULL, OFF
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// IsEmbedded returns true if the journal uses SQLite.
func (c DatabaseConfig) IsEmbedded() bool {
	return c.Driver == DriverSQLite
}

// TransferConfig tunes downloads.
type TransferConfig struct {
	// ChunkSize enables chunked mode for objects larger than one chunk.
	// Zero always downloads into a single file.
	ChunkSize int64 `mapstructure:"chunk_size" validate:"gte=0"`

	Concurrency int `mapstructure:"concurrency" validate:"min=1,max=64"`

	// BandwidthLimit is in bytes per second. Zero is unlimited.
	BandwidthLimit int64 `mapstructure:"bandwidth_limit" validate:"gte=0"`

	// Alpha is the EWMA smoothing factor of the throughput estimate.
	Alpha float64 `mapstructure:"alpha" validate:"gt=0,lte=1"`

	SampleInterval   time.Duration `mapstructure:"sample_interval" validate:"gt=0"`
	ProgressInterval time.Duration `mapstructure:"progress_interval" validate:"gte=0"`

	// VerifyETag compares the MD5 of the finished file with a simple ETag.
	VerifyETag bool `mapstructure:"verify_etag"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error fatal panic"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	// Enabled serves metrics while a command runs.
	Enabled bool `mapstructure:"enabled"`

	Addr string `mapstructure:"addr" validate:"required_if=Enabled true"`
	Path string `mapstructure:"path" validate:"required_if=Enabled true"`
}

// Load reads configuration from the specified file and environment variables.
// Environment variables take precedence over file values.
// Environment variables are prefixed with ALEXANDER_ and use _ as separator.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("ALEXANDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("alexander")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/alexander")
		v.AddConfigPath("/etc/alexander")
	}

	// The config file is optional; environment variables can be used instead.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("endpoint.url", "http://localhost:9000")
	v.SetDefault("endpoint.timeout", 30*time.Second)
	v.SetDefault("endpoint.user_agent", "alexander-client")

	v.SetDefault("credentials.source", SourceStatic)
	v.SetDefault("credentials.access_key_id", "")
	v.SetDefault("credentials.secret_access_key", "")
	v.SetDefault("credentials.session_token", "")
	v.SetDefault("credentials.endpoint_url", "")
	v.SetDefault("credentials.endpoint_path", "/credentials")
	v.SetDefault("credentials.bearer_token", "")
	v.SetDefault("credentials.fetch_timeout", 10*time.Second)
	v.SetDefault("credentials.profile", "")
	v.SetDefault("credentials.region", "")

	v.SetDefault("cache.backend", CacheNone)
	v.SetDefault("cache.name", "default")
	v.SetDefault("cache.encryption_key", "")
	v.SetDefault("cache.default_ttl", 15*time.Minute)
	v.SetDefault("cache.expiry_margin", time.Minute)
	v.SetDefault("cache.lock_ttl", 30*time.Second)
	v.SetDefault("cache.lock_retries", 50)
	v.SetDefault("cache.lock_retry_delay", 100*time.Millisecond)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", 5*time.Second)

	v.SetDefault("signing.version", SigningV2)
	v.SetDefault("signing.scheme", "AWS")
	v.SetDefault("signing.region", "us-east-1")
	v.SetDefault("signing.service", "s3")
	v.SetDefault("signing.header_prefixes", []string{"x-amz-"})
	v.SetDefault("signing.headers", []string{})
	v.SetDefault("signing.sub_resources", []string{})
	v.SetDefault("signing.retry_forbidden", true)

	v.SetDefault("database.driver", DriverNone)
	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "alexander")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "alexander")
	v.SetDefault("database.ssl_mode", "prefer")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.conn_max_idle_time", 5*time.Minute)
	v.SetDefault("database.path", "./alexander-journal.db")
	v.SetDefault("database.journal_mode", "WAL")
	v.SetDefault("database.busy_timeout", 5000)
	v.SetDefault("database.cache_size", -2000)
	v.SetDefault("database.synchronous_mode", "NORMAL")

	v.SetDefault("transfer.chunk_size", 0)
	v.SetDefault("transfer.concurrency", 4)
	v.SetDefault("transfer.bandwidth_limit", 0)
	v.SetDefault("transfer.alpha", 0.3)
	v.SetDefault("transfer.sample_interval", 200*time.Millisecond)
	v.SetDefault("transfer.progress_interval", time.Second)
	v.SetDefault("transfer.verify_etag", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", "127.0.0.1:9091")
	v.SetDefault("metrics.path", "/metrics")
}

// MustLoad loads configuration or panics on error.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}
