package storage

// Schema is the SQL schema for the graph database.
const Schema = `
CREATE TABLE IF NOT EXISTS relationships (
    id                  TEXT PRIMARY KEY,
    tenant_id           TEXT NOT NULL,
    source_type         TEXT NOT NULL,
    source_id           TEXT NOT NULL,
    target_type         TEXT NOT NULL,
    target_id           TEXT NOT NULL,
    relationship_type   TEXT NOT NULL,
    strength            REAL NOT NULL DEFAULT 1.0
                        CHECK(strength >= 0 AND strength <= 10),
    interaction_count   INTEGER NOT NULL DEFAULT 1
                        CHECK(interaction_count >= 1),
    first_created_at    TEXT NOT NULL,
    last_interaction_at TEXT NOT NULL,
    context             TEXT NOT NULL DEFAULT '{}',
    is_automatic        INTEGER NOT NULL DEFAULT 0,
    UNIQUE (tenant_id, source_type, source_id, target_type, target_id, relationship_type)
);

CREATE TABLE IF NOT EXISTS relationship_metrics (
    tenant_id       TEXT NOT NULL,
    entity_type     TEXT NOT NULL,
    entity_id       TEXT NOT NULL,
    total_relations INTEGER NOT NULL CHECK(total_relations >= 1),
    avg_strength    REAL NOT NULL,
    strongest_type  TEXT NOT NULL,
    last_updated    TEXT NOT NULL,
    PRIMARY KEY (tenant_id, entity_type, entity_id)
);

CREATE TABLE IF NOT EXISTS entities (
    tenant_id   TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    entity_id   TEXT NOT NULL,
    title       TEXT NOT NULL,
    subtitle    TEXT NOT NULL DEFAULT '',
    -- Unicode case-folded copies; lower() only folds ASCII
    title_folded    TEXT NOT NULL DEFAULT '',
    subtitle_folded TEXT NOT NULL DEFAULT '',
    updated_at  TEXT NOT NULL,
    PRIMARY KEY (tenant_id, entity_type, entity_id)
);

-- Partial-key scans always lead with the tenant
CREATE INDEX IF NOT EXISTS idx_relationships_source ON relationships(tenant_id, source_type, source_id);
CREATE INDEX IF NOT EXISTS idx_relationships_target ON relationships(tenant_id, target_type, target_id);
CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(tenant_id, entity_type);
`

// dsnParams configures every connection: WAL, a busy timeout so writers queue instead of
// failing, and BEGIN IMMEDIATE so read-modify-write transactions take the write lock up front.
const dsnParams = "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=cache_size(-64000)&_txlock=immediate"
