// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads configuration from environment variables with sensible
// defaults, optionally overlays a YAML file, and validates the result.
//
// # Configuration Structure
//
// Server settings (operational endpoints only):
//
//	ASSETGATE_HOST="0.0.0.0"
//	ASSETGATE_PORT="9090"
//	ASSETGATE_SHUTDOWN_TIMEOUT="30s"
//
// Storage settings:
//
//	ASSETGATE_STORAGE_TYPE="postgres"  # memory, postgres
//	ASSETGATE_POSTGRES_URL="postgres://localhost/assetgate"
//	ASSETGATE_POSTGRES_REPLICA_URLS="postgres://replica-1/assetgate"
//	ASSETGATE_POSTGRES_MAX_CONNS="20"
//	ASSETGATE_S3_BUCKET="assetgate-assets"
//	ASSETGATE_S3_REGION="us-east-1"
//
// Cache settings:
//
//	ASSETGATE_CACHE_ENABLED="true"
//	ASSETGATE_REDIS_URL="redis://localhost:6379"
//	ASSETGATE_L1_CACHE_SIZE="10000"
//	ASSETGATE_L1_MAX_TTL="30s"
//	ASSETGATE_CACHE_TTL_CREDENTIAL="5m"  # also ACCOUNT, PERMISSION, CATEGORY, RESOURCE
//
// Authorization settings:
//
//	ASSETGATE_STAGE_TIMEOUT="2s"
//	ASSETGATE_DEFAULT_GRANT_TTL="5m"
//	ASSETGATE_MAX_GRANT_TTL="1h"
//	ASSETGATE_STRICT_ACCOUNT_STATUS="false"
//	ASSETGATE_DISTINGUISH_EXPIRED_PERMISSION="false"
//	ASSETGATE_QUOTA_UNIT="requests"  # requests, bytes
//	ASSETGATE_GRANT_MINTER="s3"      # s3, static
//
// Observability settings:
//
//	ASSETGATE_LOG_LEVEL="info"  # debug, info, warn, error
//	ASSETGATE_METRICS_ENABLED="true"
//	ASSETGATE_OTEL_ENABLED="true"
//	ASSETGATE_OTEL_ENDPOINT="otel-collector:4317"
//
// # Config File
//
// When ASSETGATE_CONFIG_FILE is set, the YAML file it names is decoded on top
// of the environment values. Keys missing from the file keep their value:
//
//	storage:
//	  type: postgres
//	  postgres_url: postgres://db/assetgate
//	  cache_ttl:
//	    permission: 1m
//	authz:
//	  strict_account_status: true
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Storage: %s\n", cfg.Storage.Type)
//	fmt.Printf("Log level: %s\n", cfg.Observability.Level())
//
// # Related Packages
//
//   - pkg/storage: Uses storage configuration
//   - pkg/authz: Uses pipeline configuration
//   - pkg/observability: Uses observability configuration
package config
