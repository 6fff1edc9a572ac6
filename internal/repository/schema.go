package repository

import "fmt"

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL; only the surrogate key
// column differs between drivers.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id %s,
    timestamp TIMESTAMP NOT NULL,
    identifier TEXT NOT NULL,
    identifier_token TEXT NOT NULL,
    amount DOUBLE PRECISION NOT NULL,
    merchant TEXT NOT NULL,
    category TEXT NOT NULL DEFAULT '',
    location TEXT NOT NULL DEFAULT '',
    risk_score INTEGER NOT NULL,
    status TEXT NOT NULL,
    indicators_json TEXT NOT NULL,
    blocked INTEGER NOT NULL DEFAULT 0,
    blocked_by TEXT,
    blocked_timestamp TIMESTAMP,
    explanation_encrypted TEXT,
    features_encrypted TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_identifier ON transactions(identifier, timestamp);
CREATE INDEX IF NOT EXISTS idx_transactions_token ON transactions(identifier_token, timestamp);
CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(status);
`

const schemaAuditLog = `
CREATE TABLE IF NOT EXISTS audit_log (
    id %s,
    timestamp TIMESTAMP NOT NULL,
    action TEXT NOT NULL,
    actor TEXT NOT NULL,
    details_json TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_log_action ON audit_log(action);
`

const schemaReputation = `
CREATE TABLE IF NOT EXISTS vpa_reputation (
    token TEXT PRIMARY KEY,
    flag_count INTEGER NOT NULL DEFAULT 0,
    reputation_score DOUBLE PRECISION NOT NULL DEFAULT 1.0,
    reasons_json TEXT NOT NULL DEFAULT '[]',
    updated_at TIMESTAMP NOT NULL
);
`

const schemaProfiles = `
CREATE TABLE IF NOT EXISTS user_profiles (
    identifier TEXT PRIMARY KEY,
    profile_json TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

// AllSchemas returns all schema statements in order for the given driver.
func AllSchemas(driver string) []string {
	id := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if driver == "postgres" {
		id = "BIGSERIAL PRIMARY KEY"
	}
	return []string{
		fmt.Sprintf(schemaTransactions, id),
		fmt.Sprintf(schemaAuditLog, id),
		schemaReputation,
		schemaProfiles,
	}
}
