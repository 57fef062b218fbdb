// Package sqlite provides a pure-Go local database backend for
// development and tests. It does not run the numbered Postgres
// migration files; InitSchema creates sqlite-flavored equivalents of
// their tables instead.
package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Open opens (creating if necessary) a sqlite database file. Pass
// ":memory:" for an ephemeral in-process database, the common case in
// tests.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// modernc.org/sqlite does not support concurrent writers well;
	// serialize access the way the driver's own docs recommend.
	db.SetMaxOpenConns(1)
	return db, nil
}

// issuesSchema is the sqlite-flavored equivalent of
// internal/db/postgres/migrations/001_issues.sql: no UUID/JSONB/plpgsql types,
// and no event-synthesis trigger, so nothing writes issue_events rows
// automatically for this schema. The single-active invariant is held
// by the partial unique index below.
const issuesSchema = `
CREATE TABLE IF NOT EXISTS issues (
    id                  TEXT PRIMARY KEY,
    public_id           TEXT NOT NULL UNIQUE,
    canonical_id        TEXT UNIQUE,
    local_status        TEXT NOT NULL,
    forge_mirror_status TEXT NOT NULL DEFAULT 'UNKNOWN',
    execution_state     TEXT NOT NULL DEFAULT 'IDLE',
    priority            TEXT NOT NULL DEFAULT 'P2',
    labels              TEXT NOT NULL DEFAULT '[]',
    scope               TEXT,
    acceptance_criteria TEXT NOT NULL DEFAULT '[]',
    notes               TEXT,
    forge_repo          TEXT,
    forge_issue_number  INTEGER,
    forge_url           TEXT,
    pr_number           INTEGER,
    pr_url              TEXT,
    lawbook_version     TEXT,
    execution_override  INTEGER NOT NULL DEFAULT 0,
    created_at          TEXT NOT NULL,
    updated_at          TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS issues_single_active_idx
    ON issues (local_status)
    WHERE local_status = 'ACTIVE';

CREATE TABLE IF NOT EXISTS issue_events (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    issue_id     TEXT NOT NULL,
    event_type   TEXT NOT NULL,
    actor        TEXT NOT NULL,
    payload_json TEXT NOT NULL DEFAULT '{}',
    created_at   TEXT NOT NULL
);
`

// timelineSchema is the sqlite-flavored equivalent of
// internal/db/postgres/migrations/002_timeline.sql.
const timelineSchema = `
CREATE TABLE IF NOT EXISTS timeline_nodes (
    id              TEXT PRIMARY KEY,
    source_system   TEXT NOT NULL,
    source_type     TEXT NOT NULL,
    source_id       TEXT NOT NULL,
    node_type       TEXT NOT NULL,
    title           TEXT,
    url             TEXT,
    payload_json    TEXT NOT NULL DEFAULT '{}',
    content_hash    TEXT NOT NULL,
    lawbook_version TEXT,
    created_at      TEXT NOT NULL,
    updated_at      TEXT NOT NULL,
    UNIQUE (source_system, source_type, source_id)
);

CREATE INDEX IF NOT EXISTS timeline_nodes_type_created_idx ON timeline_nodes (node_type, created_at, id);

CREATE TABLE IF NOT EXISTS timeline_edges (
    from_node_id TEXT NOT NULL,
    to_node_id   TEXT NOT NULL,
    edge_type    TEXT NOT NULL,
    payload_json TEXT NOT NULL DEFAULT '{}',
    created_at   TEXT NOT NULL,
    PRIMARY KEY (from_node_id, to_node_id, edge_type)
);

CREATE TABLE IF NOT EXISTS timeline_sources (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    node_id     TEXT NOT NULL,
    source_kind TEXT NOT NULL,
    ref_json    TEXT NOT NULL,
    sha256      TEXT NOT NULL,
    created_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS timeline_sources_node_id_idx ON timeline_sources (node_id);
`

// policySchema is the sqlite-flavored equivalent of
// internal/db/postgres/migrations/003_policy.sql and 004_approval.sql.
const policySchema = `
CREATE TABLE IF NOT EXISTS policy_execution_records (
    id                   INTEGER PRIMARY KEY AUTOINCREMENT,
    action_type          TEXT NOT NULL,
    action_fingerprint   TEXT NOT NULL,
    target_identifier    TEXT NOT NULL,
    decision             TEXT NOT NULL,
    reason               TEXT,
    idempotency_key_hash TEXT,
    lawbook_version      TEXT,
    lawbook_hash         TEXT,
    enforcement_data     TEXT NOT NULL DEFAULT '{}',
    created_at           TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS policy_execution_records_lookup_idx
    ON policy_execution_records (action_type, target_identifier, decision, created_at);

CREATE TABLE IF NOT EXISTS approval_gates (
    request_id    TEXT PRIMARY KEY,
    action_type   TEXT NOT NULL,
    target        TEXT NOT NULL,
    decision      TEXT NOT NULL DEFAULT '',
    actor         TEXT,
    signed_phrase TEXT,
    created_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS approval_gates_target_idx ON approval_gates (action_type, target);
`

// opstoreSchema is the sqlite-flavored equivalent of
// internal/db/postgres/migrations/005_opstore.sql.
const opstoreSchema = `
CREATE TABLE IF NOT EXISTS runs (
    id         TEXT PRIMARY KEY,
    issue_id   TEXT NOT NULL,
    forge_repo TEXT NOT NULL,
    pr_number  INTEGER,
    title      TEXT,
    url        TEXT,
    steps      TEXT NOT NULL DEFAULT '[]',
    artifacts  TEXT NOT NULL DEFAULT '[]',
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS runs_issue_id_idx ON runs (issue_id);

CREATE TABLE IF NOT EXISTS deploy_events (
    id          TEXT PRIMARY KEY,
    run_id      TEXT,
    env         TEXT NOT NULL,
    service     TEXT NOT NULL,
    version     TEXT,
    commit_hash TEXT,
    status      TEXT NOT NULL,
    message     TEXT,
    created_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS deploy_events_env_created_idx ON deploy_events (env, created_at DESC);

CREATE TABLE IF NOT EXISTS deploy_status_snapshots (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    env            TEXT NOT NULL,
    status         TEXT NOT NULL,
    reasons        TEXT NOT NULL DEFAULT '[]',
    signals        TEXT NOT NULL DEFAULT '{}',
    observed_at    TEXT NOT NULL,
    correlation_id TEXT
);

CREATE INDEX IF NOT EXISTS deploy_status_snapshots_env_observed_idx ON deploy_status_snapshots (env, observed_at DESC);

CREATE TABLE IF NOT EXISTS policy_snapshots (
    id      TEXT PRIMARY KEY,
    version TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS verdicts (
    id                 TEXT PRIMARY KEY,
    deploy_id          TEXT,
    execution_id       TEXT NOT NULL,
    policy_snapshot_id TEXT NOT NULL,
    fingerprint_id     TEXT NOT NULL,
    error_class        TEXT,
    service            TEXT,
    confidence_score   INTEGER,
    proposed_action    TEXT,
    tokens             TEXT NOT NULL DEFAULT '[]',
    signals            TEXT NOT NULL DEFAULT '{}',
    created_at         TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS verdicts_fingerprint_idx ON verdicts (fingerprint_id, created_at DESC);

CREATE TABLE IF NOT EXISTS verification_reports (
    id         TEXT PRIMARY KEY,
    issue_id   TEXT NOT NULL,
    result     TEXT NOT NULL,
    title      TEXT,
    url        TEXT,
    payload    TEXT NOT NULL DEFAULT '{}',
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS verification_reports_issue_id_idx ON verification_reports (issue_id);
`

// syncSchema is the sqlite-flavored equivalent of
// internal/db/postgres/migrations/006_sync.sql.
const syncSchema = `
CREATE TABLE IF NOT EXISTS sync_audit_events (
    id                 TEXT PRIMARY KEY,
    event_type         TEXT NOT NULL,
    direction          TEXT NOT NULL,
    issue_id           TEXT NOT NULL,
    forge_issue_number INTEGER NOT NULL,
    happened_at        TEXT NOT NULL,
    payload            TEXT NOT NULL DEFAULT '{}',
    event_hash         TEXT NOT NULL UNIQUE
);

CREATE INDEX IF NOT EXISTS sync_audit_events_issue_idx ON sync_audit_events (issue_id, happened_at);

CREATE TABLE IF NOT EXISTS sync_conflicts (
    id               TEXT PRIMARY KEY,
    issue_id         TEXT NOT NULL,
    conflict_type    TEXT NOT NULL,
    description      TEXT NOT NULL,
    resolved_at      TEXT,
    resolution_notes TEXT,
    created_at       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS sync_conflicts_issue_open_idx ON sync_conflicts (issue_id) WHERE resolved_at IS NULL;
`

// postmortemSchema is the sqlite-flavored equivalent of
// internal/db/postgres/migrations/007_postmortem.sql.
const postmortemSchema = `
CREATE TABLE IF NOT EXISTS postmortem_outcomes (
    outcome_key     TEXT PRIMARY KEY,
    postmortem_hash TEXT NOT NULL,
    pack_hash       TEXT NOT NULL,
    incident_id     TEXT NOT NULL,
    artifact        TEXT NOT NULL,
    created_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS postmortem_outcomes_incident_idx ON postmortem_outcomes (incident_id);
`

// webhookSchema is the sqlite-flavored equivalent of
// internal/db/postgres/migrations/008_webhook.sql.
const webhookSchema = `
CREATE TABLE IF NOT EXISTS webhook_deliveries (
    delivery_id TEXT PRIMARY KEY,
    event_type  TEXT NOT NULL,
    repo        TEXT NOT NULL,
    received_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS webhook_events (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    delivery_id  TEXT NOT NULL,
    event_type   TEXT NOT NULL,
    event_action TEXT,
    repo         TEXT NOT NULL,
    payload      TEXT NOT NULL DEFAULT '{}',
    signature    TEXT,
    created_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS webhook_events_delivery_idx ON webhook_events (delivery_id);
`

// incidentsSchema is the sqlite-flavored equivalent of
// internal/db/postgres/migrations/011_incidents.sql.
const incidentsSchema = `
CREATE TABLE IF NOT EXISTS incidents (
    id          TEXT PRIMARY KEY,
    issue_id    TEXT NOT NULL,
    title       TEXT NOT NULL,
    service     TEXT NOT NULL,
    started_at  TEXT NOT NULL,
    resolved_at TEXT
);

CREATE INDEX IF NOT EXISTS incidents_issue_id_idx ON incidents (issue_id);

CREATE TABLE IF NOT EXISTS incident_evidence (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    incident_id TEXT NOT NULL REFERENCES incidents(id),
    kind        TEXT NOT NULL,
    description TEXT NOT NULL,
    source_hash TEXT NOT NULL,
    created_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS incident_evidence_incident_idx ON incident_evidence (incident_id, created_at ASC);

CREATE TABLE IF NOT EXISTS incident_events (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    incident_id TEXT NOT NULL REFERENCES incidents(id),
    kind        TEXT NOT NULL,
    message     TEXT NOT NULL,
    created_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS incident_events_incident_idx ON incident_events (incident_id, created_at ASC);

CREATE TABLE IF NOT EXISTS remediation_runs (
    id          TEXT PRIMARY KEY,
    incident_id TEXT NOT NULL REFERENCES incidents(id),
    playbook    TEXT NOT NULL,
    outcome     TEXT NOT NULL,
    auto_fixed  INTEGER NOT NULL DEFAULT 0,
    started_at  TEXT NOT NULL,
    ended_at    TEXT
);

CREATE INDEX IF NOT EXISTS remediation_runs_incident_idx ON remediation_runs (incident_id, started_at ASC);
`

// InitSchema creates the sqlite-flavored tables if they don't exist.
func InitSchema(db *sql.DB) error {
	schemas := []string{
		issuesSchema, timelineSchema, policySchema, opstoreSchema,
		syncSchema, postmortemSchema, webhookSchema, incidentsSchema,
	}
	for _, schema := range schemas {
		if _, err := db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}
