package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    entity_id TEXT NOT NULL,
    amount REAL NOT NULL,
    currency TEXT NOT NULL,
    merchant_name TEXT,
    device_id TEXT,
    ip_address TEXT,
    country TEXT,
    home_country TEXT,
    cross_border INTEGER NOT NULL DEFAULT 0,
    prepaid INTEGER NOT NULL DEFAULT 0,
    timestamp TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL,
    metadata TEXT
);

CREATE INDEX IF NOT EXISTS idx_transactions_entity ON transactions(entity_id);
CREATE INDEX IF NOT EXISTS idx_transactions_entity_time ON transactions(entity_id, timestamp);
`

const schemaRuleConfigs = `
CREATE TABLE IF NOT EXISTS rule_configs (
    id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    bands TEXT NOT NULL,
    weight REAL NOT NULL DEFAULT 1.0,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, version)
);

CREATE INDEX IF NOT EXISTS idx_rule_configs_enabled ON rule_configs(enabled);
`

const schemaAssessments = `
CREATE TABLE IF NOT EXISTS assessments (
    entity_id TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    overall_risk_score REAL NOT NULL,
    risk_level TEXT NOT NULL,
    per_item_scores TEXT,
    anomalies TEXT,
    threshold_used REAL NOT NULL,
    is_flagged INTEGER NOT NULL DEFAULT 0,
    sample_size INTEGER NOT NULL DEFAULT 0,
    generated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (entity_id, generated_at)
);

CREATE INDEX IF NOT EXISTS idx_assessments_entity ON assessments(entity_id);
CREATE INDEX IF NOT EXISTS idx_assessments_flagged ON assessments(entity_id, is_flagged);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaRuleConfigs,
		schemaAssessments,
	}
}
