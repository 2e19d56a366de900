package postgres

import (
	"context"
	"fmt"
)

// constraintChainPosition is translated into repositories.ErrChainConflict
const constraintChainPosition = "events_chain_position_key"

// constraintEventPrimaryKey is translated into repositories.ErrDuplicateEvent
const constraintEventPrimaryKey = "events_pkey"

const schema = `
	-- Organizations table
	CREATE TABLE IF NOT EXISTS organizations (
		org_id VARCHAR(128) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		api_key_hash VARCHAR(64) NOT NULL,
		signing_key_id VARCHAR(128) NOT NULL DEFAULT '',
		profile JSONB,
		sandbox BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	-- Signing keys, one row per generation; retired keys are kept for historical verification
	CREATE TABLE IF NOT EXISTS organization_signing_keys (
		org_id VARCHAR(128) NOT NULL REFERENCES organizations(org_id) ON DELETE CASCADE,
		key_id VARCHAR(128) NOT NULL,
		secret TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		retired_at TIMESTAMPTZ,
		PRIMARY KEY (org_id, key_id)
	);

	-- Append-only ledger
	CREATE TABLE IF NOT EXISTS events (
		event_id VARCHAR(64) PRIMARY KEY,
		event_type VARCHAR(64) NOT NULL,
		user_id VARCHAR(128) NOT NULL,
		org_id VARCHAR(128) NOT NULL,
		consent_scope VARCHAR(255),
		consent_status VARCHAR(16),
		snapshot_pointer TEXT,
		snapshot_hash VARCHAR(64),
		hash_algorithm VARCHAR(16),
		scopes TEXT[],
		purpose TEXT,
		recipient_org_id VARCHAR(128),
		verification_claim TEXT,
		verification_result TEXT,
		metadata JSON,
		signing_key_id VARCHAR(128) NOT NULL,
		signature VARCHAR(64) NOT NULL,
		previous_event_hash VARCHAR(64),
		block_index BIGINT NOT NULL CHECK (block_index >= 1),
		event_hash VARCHAR(64) NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL,
		CONSTRAINT events_chain_position_key UNIQUE (user_id, org_id, block_index)
	);

	-- Derived consent projection
	CREATE TABLE IF NOT EXISTS consent_states (
		user_id VARCHAR(128) NOT NULL,
		org_id VARCHAR(128) NOT NULL,
		scope VARCHAR(255) NOT NULL,
		status VARCHAR(16) NOT NULL,
		event_id VARCHAR(64),
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (user_id, org_id, scope)
	);

	-- Versioned snapshots
	CREATE TABLE IF NOT EXISTS snapshots (
		user_id VARCHAR(128) NOT NULL,
		snapshot_id VARCHAR(160) NOT NULL,
		org_id VARCHAR(128) NOT NULL,
		version INTEGER NOT NULL CHECK (version >= 1),
		data JSON NOT NULL,
		scopes TEXT[],
		snapshot_hash VARCHAR(64) NOT NULL,
		hash_algorithm VARCHAR(16) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (user_id, snapshot_id),
		CONSTRAINT snapshots_version_key UNIQUE (user_id, org_id, version)
	);

	-- Policy engine output
	CREATE TABLE IF NOT EXISTS alerts (
		id UUID PRIMARY KEY,
		org_id VARCHAR(128) NOT NULL,
		user_id VARCHAR(128) NOT NULL,
		event_id VARCHAR(64) NOT NULL,
		event_type VARCHAR(64) NOT NULL,
		rule VARCHAR(64) NOT NULL,
		severity VARCHAR(16) NOT NULL,
		message TEXT NOT NULL,
		details JSONB,
		created_at TIMESTAMPTZ NOT NULL
	);

	-- Verifier-issued proofs
	CREATE TABLE IF NOT EXISTS verification_records (
		id UUID PRIMARY KEY,
		event_id VARCHAR(64) NOT NULL,
		user_id VARCHAR(128) NOT NULL,
		org_id VARCHAR(128) NOT NULL,
		verifier_name VARCHAR(255) NOT NULL,
		signature_valid BOOLEAN NOT NULL,
		hash_chain_valid BOOLEAN NOT NULL,
		verified BOOLEAN NOT NULL,
		verified_at TIMESTAMPTZ NOT NULL,
		proof VARCHAR(64) NOT NULL,
		hash_algorithm VARCHAR(16) NOT NULL
	);

	-- Indexes for performance
	CREATE INDEX IF NOT EXISTS idx_events_user_timestamp ON events(user_id, timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_events_user_org_type ON events(user_id, org_id, event_type);
	CREATE INDEX IF NOT EXISTS idx_snapshots_user_org_version ON snapshots(user_id, org_id, version DESC);
	CREATE INDEX IF NOT EXISTS idx_alerts_org_created ON alerts(org_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_alerts_user ON alerts(user_id);
	CREATE INDEX IF NOT EXISTS idx_verification_records_user ON verification_records(user_id);
	CREATE INDEX IF NOT EXISTS idx_organizations_sandbox ON organizations(sandbox) WHERE sandbox;
`

// InitSchema initializes the database schema
func (db *DB) InitSchema(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.logger.Info("database schema initialized successfully")
	return nil
}
