// Package config loads service settings from an optional YAML file and
// ENRICH_* environment variables using viper.
//
// Secrets (the JWT signing key and the MongoDB URI) are only ever read from
// the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix shared by every environment variable the service reads.
const EnvPrefix = "ENRICH"

// PostgreSQL sslmode values accepted in database.ssl_mode.
const (
	SSLModeDisable    = "disable"
	SSLModeRequire    = "require"
	SSLModeVerifyCA   = "verify-ca"
	SSLModeVerifyFull = "verify-full"
)

// Cache backend identifiers.
const (
	CacheBackendPostgres = "postgres"
	CacheBackendMongo    = "mongo"
	CacheBackendSQLite   = "sqlite"
	CacheBackendNone     = "none"
)

// Config is the full service configuration. Each field maps to a top-level
// YAML section of the same name.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Cache    CacheConfig    `mapstructure:"cache"`
	PubChem  PubChemConfig  `mapstructure:"pubchem"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// ServerConfig configures the HTTP API listener and the metrics listener.
type ServerConfig struct {
	Host        string `mapstructure:"host"`
	HTTPPort    int    `mapstructure:"http_port"`
	MetricsPort int    `mapstructure:"metrics_port"`

	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout must cover a synchronous search, which can run for minutes
	// when PubChem is throttling.
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// CORSAllowedOrigins lists the web client origins. Empty disables CORS.
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins"`
}

// DatabaseConfig configures the PostgreSQL cache backend.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"ssl_mode"`

	// Pool sizing and connection recycling, passed to pgxpool.
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`

	StatementCacheCapacity int `mapstructure:"statement_cache_capacity"`

	// MigrationPath holds the compound_cache schema files. When
	// MigrationAutoRun is set the server applies them at startup.
	MigrationPath    string `mapstructure:"migration_path"`
	MigrationAutoRun bool   `mapstructure:"migration_auto_run"`
}

// MongoConfig configures the MongoDB cache backend.
type MongoConfig struct {
	// URI comes from ENRICH_MONGO_URI only.
	URI            string        `mapstructure:"-"`
	Database       string        `mapstructure:"database"`
	Collection     string        `mapstructure:"collection"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// SQLiteConfig configures the embedded cache backend.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// CacheConfig holds result cache settings.
type CacheConfig struct {
	// Backend selects the store: postgres, mongo, sqlite or none.
	Backend string `mapstructure:"backend"`
	// TTL is how long an entry stays valid (default: 30 days).
	TTL time.Duration `mapstructure:"ttl"`
	// MaxResultsCap is the ceiling applied to the cap part of a cache key.
	MaxResultsCap int `mapstructure:"max_results_cap"`
	// PurgeInterval is how often expired rows are deleted (0 disables).
	PurgeInterval time.Duration `mapstructure:"purge_interval"`
	// OperationTimeout bounds a single cache read or write.
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

// PubChemConfig holds upstream API settings.
type PubChemConfig struct {
	// BaseURL is the PUG REST base URL.
	BaseURL string `mapstructure:"base_url"`
	// ViewBaseURL is the PUG View base URL used for compound profiles.
	ViewBaseURL string `mapstructure:"view_base_url"`
	// UserAgent is the User-Agent header sent with requests.
	UserAgent string `mapstructure:"user_agent"`
	// Concurrency is the process-wide limit on in-flight upstream requests.
	Concurrency int `mapstructure:"concurrency"`
	// RateLimit is the maximum requests per second (0 disables).
	RateLimit float64 `mapstructure:"rate_limit"`
	// Burst is the token bucket burst size.
	Burst int `mapstructure:"burst"`
	// MaxAttempts is the number of attempts per request including the first.
	MaxAttempts int `mapstructure:"max_attempts"`
	// InitialBackoff is the first retry delay.
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	// BackoffMultiplier grows the delay after every retry.
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier"`
	// MaxBackoff caps the retry delay.
	MaxBackoff time.Duration `mapstructure:"max_backoff"`
	// RequestTimeout bounds a single attempt.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// BatchSize is the number of assay ids per summary request.
	BatchSize int `mapstructure:"batch_size"`
	// MaxAssaysPerCompound truncates the assay id list.
	MaxAssaysPerCompound int `mapstructure:"max_assays_per_compound"`
	// InterBatchDelay is the pause between summary batches.
	InterBatchDelay time.Duration `mapstructure:"inter_batch_delay"`
	// MechanismConcurrency bounds parallel compounds in bulk mechanism lookups.
	MechanismConcurrency int `mapstructure:"mechanism_concurrency"`
}

// AuthConfig holds JWT settings.
type AuthConfig struct {
	// Enabled turns on JWT verification for API routes.
	Enabled bool `mapstructure:"enabled"`
	// JWTSecret is the HMAC signing secret (loaded from ENRICH_AUTH_JWT_SECRET).
	JWTSecret string `mapstructure:"-"`
	// Issuer, when set, must match the token's iss claim.
	Issuer string `mapstructure:"issuer"`
}

// KafkaConfig holds Kafka settings for search jobs.
type KafkaConfig struct {
	// Enabled turns on asynchronous search delivery.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// SearchRequestTopic carries SearchRequested events.
	SearchRequestTopic string `mapstructure:"search_request_topic"`
	// SearchResultTopic carries SearchCompleted events.
	SearchResultTopic string `mapstructure:"search_result_topic"`
	// GroupID is the worker consumer group.
	GroupID string `mapstructure:"group_id"`
	// BatchTimeout is the writer flush interval.
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// WorkerConfig holds search job worker settings.
type WorkerConfig struct {
	// Concurrency is the number of jobs processed at once.
	Concurrency int `mapstructure:"concurrency"`
	// JobTimeout bounds a single background search.
	JobTimeout time.Duration `mapstructure:"job_timeout"`
	// PublishTimeout bounds the completion publish, which runs after the
	// job deadline may already have passed.
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
}

// LoggingConfig is translated into observability.LoggingConfig.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // trace..panic
	Format     string `mapstructure:"format"` // json or console
	Output     string `mapstructure:"output"` // stdout or stderr
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig controls the Prometheus listener.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}
	if c.StatementCacheCapacity > 0 {
		params.Set("statement_cache_capacity", fmt.Sprintf("%d", c.StatementCacheCapacity))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// MetricsAddress returns the metrics server address.
func (c *ServerConfig) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// Load reads configuration from the default file locations and the
// environment.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. An empty path searches
// the default locations.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/compound-enrichment-service")
	}

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func loadSecrets(cfg *Config) {
	cfg.Auth.JWTSecret = os.Getenv(EnvPrefix + "_AUTH_JWT_SECRET")
	cfg.Mongo.URI = os.Getenv(EnvPrefix + "_MONGO_URI")
	if cfg.Mongo.URI == "" {
		cfg.Mongo.URI = "mongodb://localhost:27017"
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "10m")
	v.SetDefault("server.idle_timeout", "2m")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.cors_allowed_origins", []string{"http://localhost:3000"})

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "enrichment")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "compound_enrichment")
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "migrations")
	v.SetDefault("database.migration_auto_run", false)
	v.SetDefault("database.statement_cache_capacity", 512)

	v.SetDefault("mongo.database", "compound_enrichment")
	v.SetDefault("mongo.collection", "pubchem_cache")
	v.SetDefault("mongo.connect_timeout", "10s")

	v.SetDefault("sqlite.path", "compound-cache.db")

	v.SetDefault("cache.backend", CacheBackendPostgres)
	v.SetDefault("cache.ttl", "720h")
	v.SetDefault("cache.max_results_cap", 200)
	v.SetDefault("cache.purge_interval", "1h")
	v.SetDefault("cache.operation_timeout", "5s")

	v.SetDefault("pubchem.base_url", "https://pubchem.ncbi.nlm.nih.gov/rest/pug")
	v.SetDefault("pubchem.view_base_url", "https://pubchem.ncbi.nlm.nih.gov/rest/pug_view")
	v.SetDefault("pubchem.user_agent", "Helixir-CompoundEnrichment/1.0")
	v.SetDefault("pubchem.concurrency", 2)
	v.SetDefault("pubchem.rate_limit", 5.0) // PubChem usage policy: at most 5 requests per second
	v.SetDefault("pubchem.burst", 5)
	v.SetDefault("pubchem.max_attempts", 4)
	v.SetDefault("pubchem.initial_backoff", "1500ms")
	v.SetDefault("pubchem.backoff_multiplier", 2.5)
	v.SetDefault("pubchem.max_backoff", "30s")
	v.SetDefault("pubchem.request_timeout", "15s")
	v.SetDefault("pubchem.batch_size", 8)
	v.SetDefault("pubchem.max_assays_per_compound", 150)
	v.SetDefault("pubchem.inter_batch_delay", "300ms")
	v.SetDefault("pubchem.mechanism_concurrency", 4)

	v.SetDefault("auth.enabled", true)
	v.SetDefault("auth.issuer", "")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.search_request_topic", "pubchem.search.requested")
	v.SetDefault("kafka.search_result_topic", "pubchem.search.completed")
	v.SetDefault("kafka.group_id", "compound-enrichment-worker")
	v.SetDefault("kafka.batch_timeout", "10ms")

	v.SetDefault("worker.concurrency", 1)
	v.SetDefault("worker.job_timeout", "30m")
	v.SetDefault("worker.publish_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "compound_enrichment")
}

func validPort(p int) bool { return p > 0 && p <= 65535 }

// Validate checks ranges and cross-field requirements. Only the store
// settings of the selected cache backend are checked.
func (c *Config) Validate() error {
	if !validPort(c.Server.HTTPPort) {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if !validPort(c.Server.MetricsPort) {
		return fmt.Errorf("invalid metrics port: %d", c.Server.MetricsPort)
	}

	switch strings.ToLower(c.Cache.Backend) {
	case CacheBackendPostgres:
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if !validPort(c.Database.Port) {
			return fmt.Errorf("invalid database port: %d", c.Database.Port)
		}
		if c.Database.Name == "" {
			return fmt.Errorf("database name is required")
		}
		if c.Database.MaxConns < c.Database.MinConns {
			return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
		}
	case CacheBackendMongo:
		if c.Mongo.Database == "" || c.Mongo.Collection == "" {
			return fmt.Errorf("mongo database and collection are required")
		}
	case CacheBackendSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("sqlite path is required")
		}
	case CacheBackendNone:
	default:
		return fmt.Errorf("invalid cache backend: %s", c.Cache.Backend)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache ttl must be positive")
	}
	if c.Cache.MaxResultsCap <= 0 {
		return fmt.Errorf("cache max_results_cap must be positive")
	}

	if c.PubChem.BaseURL == "" || c.PubChem.ViewBaseURL == "" {
		return fmt.Errorf("pubchem base URLs are required")
	}
	if c.PubChem.Concurrency <= 0 {
		return fmt.Errorf("pubchem concurrency must be positive")
	}
	if c.PubChem.MaxAttempts <= 0 {
		return fmt.Errorf("pubchem max_attempts must be positive")
	}
	if c.PubChem.BackoffMultiplier < 1 {
		return fmt.Errorf("pubchem backoff_multiplier must be >= 1")
	}
	if c.PubChem.BatchSize <= 0 {
		return fmt.Errorf("pubchem batch_size must be positive")
	}
	if c.PubChem.MaxAssaysPerCompound <= 0 {
		return fmt.Errorf("pubchem max_assays_per_compound must be positive")
	}
	if c.PubChem.RequestTimeout <= 0 {
		return fmt.Errorf("pubchem request_timeout must be positive")
	}

	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth is enabled but %s_AUTH_JWT_SECRET is not set", EnvPrefix)
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka brokers are required when kafka is enabled")
		}
		if c.Kafka.SearchRequestTopic == "" || c.Kafka.SearchResultTopic == "" {
			return fmt.Errorf("kafka search topics are required when kafka is enabled")
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	return nil
}
