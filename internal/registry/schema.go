package registry

// Schema is the registry database schema. It lives on the ledger profile:
// genomes and versions form the lineage audit trail and metric records are
// append-only. All statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS genomes (
    id                 TEXT PRIMARY KEY,
    name               TEXT NOT NULL,
    description        TEXT NOT NULL DEFAULT '',
    source             TEXT NOT NULL,
    parameters         TEXT NOT NULL DEFAULT '{}',
    parent_ids         TEXT NOT NULL DEFAULT '[]',
    current_version_id TEXT,
    generation         INTEGER NOT NULL DEFAULT 0,
    fitness            REAL NOT NULL DEFAULT 0,
    deployment_score   REAL NOT NULL DEFAULT 0,
    total_tests        INTEGER NOT NULL DEFAULT 0,
    markets_tested     TEXT NOT NULL DEFAULT '[]',
    created_at         INTEGER NOT NULL,
    updated_at         INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS genome_versions (
    id                TEXT PRIMARY KEY,
    genome_id         TEXT NOT NULL REFERENCES genomes(id),
    version_number    INTEGER NOT NULL,
    parent_version_id TEXT,
    commit_hash       TEXT NOT NULL,
    source            TEXT NOT NULL,
    parameters        TEXT NOT NULL DEFAULT '{}',
    note              TEXT NOT NULL DEFAULT '',
    deployment_ready  INTEGER NOT NULL DEFAULT 0,
    validation_passed INTEGER NOT NULL DEFAULT 1,
    created_at        INTEGER NOT NULL,
    UNIQUE (genome_id, version_number)
);

CREATE INDEX IF NOT EXISTS idx_versions_genome ON genome_versions(genome_id);

CREATE TABLE IF NOT EXISTS metric_records (
    id            TEXT PRIMARY KEY,
    genome_id     TEXT NOT NULL REFERENCES genomes(id),
    version_id    TEXT NOT NULL REFERENCES genome_versions(id),
    market        TEXT NOT NULL,
    timeframe     TEXT NOT NULL DEFAULT '',
    window_start  INTEGER NOT NULL DEFAULT 0,
    window_end    INTEGER NOT NULL DEFAULT 0,
    metrics_blob  TEXT NOT NULL,
    created_at    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_metrics_version ON metric_records(version_id);
CREATE INDEX IF NOT EXISTS idx_metrics_genome ON metric_records(genome_id);
`
