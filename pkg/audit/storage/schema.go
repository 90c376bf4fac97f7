package storage

// SchemaVersion is the current database schema version.
const SchemaVersion = 1

// Schema creates the audit tables. Times are stored as Unix nanoseconds so
// both SQLite drivers read them back identically.
const Schema = `
CREATE TABLE IF NOT EXISTS rule_audit (
    id TEXT PRIMARY KEY,
    tx_id TEXT NOT NULL,
    context TEXT NOT NULL,
    rule_id TEXT NOT NULL,
    phase TEXT NOT NULL,
    operator TEXT NOT NULL,
    external INTEGER NOT NULL,
    outcome TEXT NOT NULL,
    actions TEXT,
    blocked INTEGER NOT NULL,
    error TEXT,
    duration_ns INTEGER NOT NULL,
    time_ns INTEGER NOT NULL,
    recorded_ns INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rule_audit_time ON rule_audit(time_ns);
CREATE INDEX IF NOT EXISTS idx_rule_audit_tx_id ON rule_audit(tx_id);
CREATE INDEX IF NOT EXISTS idx_rule_audit_rule_id ON rule_audit(rule_id);
`

// InsertSchemaVersion records the schema version.
const InsertSchemaVersion = `
INSERT INTO schema_version (version, applied_at)
VALUES (?, datetime('now'))
ON CONFLICT(version) DO NOTHING;
`

// GetSchemaVersion retrieves the current schema version.
const GetSchemaVersion = `
SELECT version FROM schema_version ORDER BY version DESC LIMIT 1;
`

const insertRecord = `
INSERT INTO rule_audit (
    id, tx_id, context, rule_id, phase, operator, external,
    outcome, actions, blocked, error, duration_ns, time_ns, recorded_ns
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const selectColumns = `id, tx_id, context, rule_id, phase, operator, external,
    outcome, actions, blocked, error, duration_ns, time_ns, recorded_ns`

var sortColumns = map[string]string{
	"time":     "time_ns",
	"duration": "duration_ns",
	"rule_id":  "rule_id",
}
