package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is idempotent and safe to apply on every start.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id                TEXT PRIMARY KEY,
		name              TEXT NOT NULL,
		status            TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'suspended', 'inactive')),
		suspension_reason TEXT,
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS tenants (
		id         TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		name       TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS credentials (
		id           TEXT PRIMARY KEY,
		token_hash   TEXT NOT NULL UNIQUE,
		token_prefix TEXT NOT NULL,
		tenant_id    TEXT NOT NULL REFERENCES tenants(id),
		scopes       TEXT[] NOT NULL DEFAULT '{}',
		status       TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'revoked', 'expired')),
		expires_at   TIMESTAMPTZ,
		last_used_at TIMESTAMPTZ,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		revoked_at   TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS resource_categories (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		is_premium BOOLEAN NOT NULL DEFAULT FALSE,
		price      NUMERIC(12, 2),
		currency   TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS resources (
		id             TEXT PRIMARY KEY,
		category_id    TEXT NOT NULL REFERENCES resource_categories(id),
		name           TEXT NOT NULL,
		kind           TEXT NOT NULL,
		storage_handle TEXT NOT NULL,
		content_type   TEXT,
		size_bytes     BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS category_permissions (
		account_id  TEXT NOT NULL REFERENCES accounts(id),
		category_id TEXT NOT NULL REFERENCES resource_categories(id),
		is_paid     BOOLEAN NOT NULL DEFAULT FALSE,
		paid_amount NUMERIC(12, 2),
		granted_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		expires_at  TIMESTAMPTZ,
		PRIMARY KEY (account_id, category_id)
	)`,
	`CREATE TABLE IF NOT EXISTS quota_accounts (
		account_id  TEXT PRIMARY KEY REFERENCES accounts(id),
		used        BIGINT NOT NULL DEFAULT 0 CHECK (used >= 0),
		quota_limit BIGINT NOT NULL DEFAULT 0,
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS usage_records (
		id          UUID PRIMARY KEY,
		account_id  TEXT NOT NULL,
		tenant_id   TEXT NOT NULL,
		resource_id TEXT NOT NULL,
		units       BIGINT NOT NULL,
		outcome     TEXT NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_records_account ON usage_records(account_id, recorded_at)`,
	`CREATE INDEX IF NOT EXISTS idx_credentials_tenant ON credentials(tenant_id)`,
}

// Migrate applies the schema
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d failed: %w", i, err)
		}
	}
	return nil
}
