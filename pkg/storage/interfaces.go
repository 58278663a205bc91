package storage

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/platinummonkey/assetgate/pkg/entitlement"
)

var (
	// ErrNotFound is returned by point lookups that match no row
	ErrNotFound = errors.New("not found")
	// ErrQuotaExhausted is returned when an increment would exceed the quota limit
	ErrQuotaExhausted = errors.New("quota exhausted")
)

// Store is the read path of the Source-of-Truth used by the authorization pipeline
type Store interface {
	GetCredential(ctx context.Context, tokenHash string) (*entitlement.Credential, error)
	GetTenant(ctx context.Context, tenantID string) (*entitlement.Tenant, error)
	GetAccount(ctx context.Context, accountID string) (*entitlement.Account, error)
	GetResource(ctx context.Context, resourceID string) (*entitlement.Resource, error)
	GetCategory(ctx context.Context, categoryID string) (*entitlement.ResourceCategory, error)
	GetCategoryPermission(ctx context.Context, accountID, categoryID string) (*entitlement.CategoryPermission, error)
	GetQuota(ctx context.Context, accountID string) (*entitlement.QuotaAccount, error)

	// IncrementQuotaIfBelowLimit atomically adds amount to the account's usage when
	// the result stays within the limit, or unconditionally when the limit is <= 0.
	// Returns the quota after the increment. On ErrQuotaExhausted the returned
	// quota, when non-nil, is the unchanged current state.
	IncrementQuotaIfBelowLimit(ctx context.Context, accountID string, amount int64) (*entitlement.QuotaAccount, error)

	AppendUsage(ctx context.Context, record *entitlement.UsageRecord) error
	TouchCredential(ctx context.Context, credentialID string, at time.Time) error

	Ping(ctx context.Context) error
}

// AdminStore adds the administrative mutations. Every method here must be
// followed by the matching cache eviction.
type AdminStore interface {
	Store

	RevokeCredential(ctx context.Context, tokenHash string, at time.Time) (*entitlement.Credential, error)
	SetAccountStatus(ctx context.Context, accountID string, status entitlement.AccountStatus, reason string) error
	UpsertCategoryPermission(ctx context.Context, perm *entitlement.CategoryPermission) error
	DeleteCategoryPermission(ctx context.Context, accountID, categoryID string) error
	MarkPermissionPaid(ctx context.Context, accountID, categoryID string, amount decimal.Decimal) error
	SetQuotaLimit(ctx context.Context, accountID string, limit int64) error
}

// Cache kinds used as keys into Config.CacheTTL
const (
	KindCredential = "credential"
	KindAccount    = "account"
	KindPermission = "permission"
	KindCategory   = "category"
	KindResource   = "resource"
)

// Config for storage backend
type Config struct {
	Type string `yaml:"type"` // "memory", "postgres"

	// PostgreSQL config
	PostgresURL         string        `yaml:"postgres_url"`
	PostgresReplicaURLs string        `yaml:"postgres_replica_urls"` // comma-separated, serve catalogue reads
	PostgresMaxConns    int           `yaml:"postgres_max_conns"`
	PostgresMinConns    int           `yaml:"postgres_min_conns"`
	PostgresTimeout     time.Duration `yaml:"postgres_timeout"`

	// S3 config
	S3Endpoint     string `yaml:"s3_endpoint"`
	S3Region       string `yaml:"s3_region"`
	S3Bucket       string `yaml:"s3_bucket"`
	S3AccessKey    string `yaml:"s3_access_key"`
	S3SecretKey    string `yaml:"s3_secret_key"`
	S3UsePathStyle bool   `yaml:"s3_use_path_style"`

	// Redis config
	RedisURL        string `yaml:"redis_url"`
	RedisPassword   string `yaml:"redis_password"`
	RedisDB         int    `yaml:"redis_db"`
	RedisMaxRetries int    `yaml:"redis_max_retries"`
	RedisPoolSize   int    `yaml:"redis_pool_size"`

	// Cache config. Without RedisURL each process keeps only its own L1, so an
	// eviction issued by another process (assetgate-admin) reaches a running
	// daemon only once the entry ages out under L1MaxTTL.
	CacheEnabled bool                     `yaml:"cache_enabled"`
	CacheTTL     map[string]time.Duration `yaml:"cache_ttl"`
	L1CacheSize  int                      `yaml:"l1_cache_size"` // entries
	L1MaxTTL     time.Duration            `yaml:"l1_max_ttl"`    // cap on how long an L1 entry may outlive a remote eviction
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Type:             "memory",
		PostgresMaxConns: 20,
		PostgresMinConns: 2,
		PostgresTimeout:  10 * time.Second,
		S3Region:         "us-east-1",
		RedisDB:          0,
		RedisMaxRetries:  3,
		RedisPoolSize:    10,
		CacheEnabled:     true,
		CacheTTL: map[string]time.Duration{
			KindCredential: 5 * time.Minute,
			KindAccount:    5 * time.Minute,
			KindPermission: 5 * time.Minute,
			KindCategory:   10 * time.Minute,
			KindResource:   10 * time.Minute,
		},
		L1CacheSize: 10000,
		L1MaxTTL:    30 * time.Second,
	}
}

// TTL returns the configured TTL for a cache kind, falling back to one minute
func (c Config) TTL(kind string) time.Duration {
	if ttl, ok := c.CacheTTL[kind]; ok && ttl > 0 {
		return ttl
	}
	return time.Minute
}
