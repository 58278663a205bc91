package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/assetgate/pkg/async"
	"github.com/platinummonkey/assetgate/pkg/authz"
	"github.com/platinummonkey/assetgate/pkg/observability"
	"github.com/platinummonkey/assetgate/pkg/storage"
)

// EnvConfigFile names a YAML file whose values override the environment
const EnvConfigFile = "ASSETGATE_CONFIG_FILE"

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server"`

	// Storage configuration, including the cache tiers
	Storage storage.Config `yaml:"storage"`

	// Retry applied to store and cache reads
	Retry storage.RetryConfig `yaml:"retry"`

	// Authorization pipeline
	Authz authz.Config `yaml:"authz"`

	// Grant minting
	Grants GrantConfig `yaml:"grants"`

	// Background bookkeeping
	Bookkeeping async.DispatcherConfig `yaml:"bookkeeping"`

	// Observability configuration
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds the operational HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// GrantConfig selects the grant minter
type GrantConfig struct {
	// Minter is "s3" or "static"
	Minter string `yaml:"minter"`
	// StaticBaseURL roots the URLs of the static minter
	StaticBaseURL string `yaml:"static_base_url"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel string `yaml:"log_level"`

	// Metrics
	MetricsEnabled bool `yaml:"metrics_enabled"`

	// OpenTelemetry
	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"` // Use insecure gRPC connection
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// Level returns the parsed log level
func (o ObservabilityConfig) Level() observability.LogLevel {
	return observability.ParseLogLevel(o.LogLevel)
}

// OTel converts the settings for observability.InitOTel
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
	}
}

// LoadConfig loads configuration from environment variables, overlays the
// YAML file named by ASSETGATE_CONFIG_FILE when set, and validates the result
func LoadConfig() (*Config, error) {
	storageCfg := loadStorageConfig()
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       storageCfg,
		Retry:         loadRetryConfig(),
		Authz:         loadAuthzConfig(),
		Grants:        loadGrantConfig(storageCfg),
		Bookkeeping:   loadBookkeepingConfig(),
		Observability: loadObservabilityConfig(),
	}

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// overlayFile decodes a YAML file on top of cfg. Keys absent from the file keep their current value.
func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("ASSETGATE_HOST", "0.0.0.0"),
		Port:            getEnv("ASSETGATE_PORT", "9090"),
		ReadTimeout:     getEnvDuration("ASSETGATE_READ_TIMEOUT", 5*time.Second),
		WriteTimeout:    getEnvDuration("ASSETGATE_WRITE_TIMEOUT", 10*time.Second),
		IdleTimeout:     getEnvDuration("ASSETGATE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("ASSETGATE_SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

// loadStorageConfig loads storage and cache configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	// Storage type
	if storageType := getEnv("ASSETGATE_STORAGE_TYPE", ""); storageType != "" {
		cfg.Type = storageType
	}

	// PostgreSQL config
	if pgURL := getEnv("ASSETGATE_POSTGRES_URL", ""); pgURL != "" {
		cfg.PostgresURL = pgURL
	}
	if replicaURLs := getEnv("ASSETGATE_POSTGRES_REPLICA_URLS", ""); replicaURLs != "" {
		cfg.PostgresReplicaURLs = replicaURLs
	}
	if maxConns := getEnvInt("ASSETGATE_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("ASSETGATE_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("ASSETGATE_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}

	// S3 config
	if s3Endpoint := getEnv("ASSETGATE_S3_ENDPOINT", ""); s3Endpoint != "" {
		cfg.S3Endpoint = s3Endpoint
	}
	if s3Region := getEnv("ASSETGATE_S3_REGION", ""); s3Region != "" {
		cfg.S3Region = s3Region
	}
	if s3Bucket := getEnv("ASSETGATE_S3_BUCKET", ""); s3Bucket != "" {
		cfg.S3Bucket = s3Bucket
	}
	if s3AccessKey := getEnv("ASSETGATE_S3_ACCESS_KEY", ""); s3AccessKey != "" {
		cfg.S3AccessKey = s3AccessKey
	}
	if s3SecretKey := getEnv("ASSETGATE_S3_SECRET_KEY", ""); s3SecretKey != "" {
		cfg.S3SecretKey = s3SecretKey
	}
	cfg.S3UsePathStyle = getEnvBool("ASSETGATE_S3_USE_PATH_STYLE", cfg.S3UsePathStyle)

	// Redis config
	if redisURL := getEnv("ASSETGATE_REDIS_URL", ""); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if redisPassword := getEnv("ASSETGATE_REDIS_PASSWORD", ""); redisPassword != "" {
		cfg.RedisPassword = redisPassword
	}
	if redisDB := getEnvInt("ASSETGATE_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("ASSETGATE_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("ASSETGATE_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	// Cache config
	cfg.CacheEnabled = getEnvBool("ASSETGATE_CACHE_ENABLED", cfg.CacheEnabled)
	if l1CacheSize := getEnvInt("ASSETGATE_L1_CACHE_SIZE", 0); l1CacheSize > 0 {
		cfg.L1CacheSize = l1CacheSize
	}
	if l1MaxTTL := getEnvDuration("ASSETGATE_L1_MAX_TTL", 0); l1MaxTTL > 0 {
		cfg.L1MaxTTL = l1MaxTTL
	}
	for _, kind := range []string{storage.KindCredential, storage.KindAccount, storage.KindPermission, storage.KindCategory, storage.KindResource} {
		key := "ASSETGATE_CACHE_TTL_" + strings.ToUpper(kind)
		if ttl := getEnvDuration(key, 0); ttl > 0 {
			cfg.CacheTTL[kind] = ttl
		}
	}

	return cfg
}

// loadRetryConfig loads the read retry policy from environment
func loadRetryConfig() storage.RetryConfig {
	cfg := storage.DefaultRetryConfig()
	if attempts := getEnvInt("ASSETGATE_STORE_RETRY_ATTEMPTS", 0); attempts > 0 {
		cfg.MaxAttempts = attempts
	}
	if delay := getEnvDuration("ASSETGATE_STORE_RETRY_DELAY", 0); delay > 0 {
		cfg.InitialDelay = delay
	}
	return cfg
}

// loadAuthzConfig loads pipeline settings from environment
func loadAuthzConfig() authz.Config {
	cfg := authz.DefaultConfig()
	cfg.StageTimeout = getEnvDuration("ASSETGATE_STAGE_TIMEOUT", cfg.StageTimeout)
	cfg.DefaultGrantTTL = getEnvDuration("ASSETGATE_DEFAULT_GRANT_TTL", cfg.DefaultGrantTTL)
	cfg.MaxGrantTTL = getEnvDuration("ASSETGATE_MAX_GRANT_TTL", cfg.MaxGrantTTL)
	cfg.StrictAccountStatus = getEnvBool("ASSETGATE_STRICT_ACCOUNT_STATUS", cfg.StrictAccountStatus)
	cfg.DistinguishExpiredPermission = getEnvBool("ASSETGATE_DISTINGUISH_EXPIRED_PERMISSION", cfg.DistinguishExpiredPermission)
	cfg.EnforceResourceScopes = getEnvBool("ASSETGATE_ENFORCE_RESOURCE_SCOPES", cfg.EnforceResourceScopes)
	cfg.QuotaUnit = authz.QuotaUnit(strings.ToLower(getEnv("ASSETGATE_QUOTA_UNIT", string(cfg.QuotaUnit))))
	return cfg
}

// loadGrantConfig loads minter selection from environment. Without an
// explicit minter, S3 is used when a bucket is configured.
func loadGrantConfig(storageCfg storage.Config) GrantConfig {
	minter := "static"
	if storageCfg.S3Bucket != "" {
		minter = "s3"
	}
	return GrantConfig{
		Minter:        strings.ToLower(getEnv("ASSETGATE_GRANT_MINTER", minter)),
		StaticBaseURL: getEnv("ASSETGATE_GRANT_STATIC_BASE_URL", "http://localhost:9000/assets"),
	}
}

// loadBookkeepingConfig sizes the background dispatcher from environment
func loadBookkeepingConfig() async.DispatcherConfig {
	cfg := async.DefaultDispatcherConfig()
	if workers := getEnvInt("ASSETGATE_BOOKKEEPING_WORKERS", 0); workers > 0 {
		cfg.Workers = workers
	}
	if size := getEnvInt("ASSETGATE_BOOKKEEPING_QUEUE_SIZE", 0); size > 0 {
		cfg.QueueSize = size
	}
	cfg.TaskTimeout = getEnvDuration("ASSETGATE_BOOKKEEPING_TIMEOUT", cfg.TaskTimeout)
	return cfg
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	cfg := ObservabilityConfig{
		LogLevel:           strings.ToLower(getEnv("ASSETGATE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("ASSETGATE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("ASSETGATE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("ASSETGATE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("ASSETGATE_OTEL_SERVICE_NAME", "assetgate"),
		OTelServiceVersion: getEnv("ASSETGATE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("ASSETGATE_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("ASSETGATE_OTEL_SAMPLE_RATIO", 1.0),
	}

	return cfg
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		return fmt.Errorf("server port must be numeric: %s", c.Server.Port)
	}

	// Validate storage config based on type
	switch c.Storage.Type {
	case "memory":
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be memory or postgres)", c.Storage.Type)
	}

	if c.Storage.CacheEnabled && c.Storage.L1CacheSize <= 0 {
		return fmt.Errorf("L1 cache size must be positive when caching is enabled")
	}
	if c.Storage.RedisURL != "" {
		if _, err := url.Parse(c.Storage.RedisURL); err != nil {
			return fmt.Errorf("invalid redis URL: %w", err)
		}
	}

	// Validate grant minter
	switch c.Grants.Minter {
	case "s3":
		if c.Storage.S3Bucket == "" {
			return fmt.Errorf("S3 bucket is required for the s3 grant minter")
		}
	case "static":
		if c.Grants.StaticBaseURL == "" {
			return fmt.Errorf("static base URL is required for the static grant minter")
		}
	default:
		return fmt.Errorf("invalid grant minter: %s (must be s3 or static)", c.Grants.Minter)
	}

	if err := c.Authz.Validate(); err != nil {
		return fmt.Errorf("invalid authz config: %w", err)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry attempts must be at least 1")
	}
	if c.Bookkeeping.Workers < 1 || c.Bookkeeping.QueueSize < 1 {
		return fmt.Errorf("bookkeeping workers and queue size must be positive")
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}
	if c.Observability.OTelSampleRatio < 0 || c.Observability.OTelSampleRatio > 1 {
		return fmt.Errorf("OpenTelemetry sample ratio must be within [0,1]")
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
