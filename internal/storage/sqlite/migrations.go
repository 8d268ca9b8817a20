package sqlite

// Schema defines the SQLite database schema
const Schema = `
-- Snapshots of the rules the gate evaluated with, one per rule set digest
CREATE TABLE IF NOT EXISTS rule_definitions (
	id TEXT NOT NULL,
	name TEXT NOT NULL,
	action TEXT NOT NULL,
	category TEXT NOT NULL,
	weight REAL NOT NULL,
	pattern TEXT NOT NULL,
	escalated BOOLEAN NOT NULL DEFAULT 0,
	ruleset_digest TEXT NOT NULL,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (ruleset_digest, id)
);

CREATE INDEX IF NOT EXISTS idx_rule_definitions_digest ON rule_definitions(ruleset_digest);

-- One row per evaluated draft
CREATE TABLE IF NOT EXISTS policy_checks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	draft_scope TEXT NOT NULL,
	draft_text TEXT NOT NULL,
	allow BOOLEAN NOT NULL,
	verdict TEXT NOT NULL,
	flags TEXT NOT NULL,
	blocks TEXT NOT NULL,
	reasons TEXT NOT NULL,
	explanation TEXT NOT NULL DEFAULT '',
	raw_match TEXT NOT NULL,
	warnings TEXT NOT NULL,
	ruleset_digest TEXT NOT NULL,
	evaluated_at TIMESTAMP NOT NULL,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_policy_checks_scope ON policy_checks(draft_scope);
CREATE INDEX IF NOT EXISTS idx_policy_checks_verdict ON policy_checks(verdict);
CREATE INDEX IF NOT EXISTS idx_policy_checks_evaluated_at ON policy_checks(evaluated_at DESC);

-- Latest decision per scope
CREATE TABLE IF NOT EXISTS latest_state (
	draft_scope TEXT PRIMARY KEY,
	check_id INTEGER NOT NULL,
	allow BOOLEAN NOT NULL,
	verdict TEXT NOT NULL,
	flags TEXT NOT NULL,
	blocks TEXT NOT NULL,
	reasons TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	FOREIGN KEY (check_id) REFERENCES policy_checks(id)
);
`
