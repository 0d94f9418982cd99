package sqlite

// schemaSQL is applied on every startup; all statements are idempotent.
const schemaSQL = `
-- Datasource configurations, one row per monitored source
CREATE TABLE IF NOT EXISTS datasource_config (
	config_id                   TEXT PRIMARY KEY,
	project_id                  TEXT NOT NULL DEFAULT '',
	source_type                 TEXT NOT NULL,
	source_name                 TEXT NOT NULL,
	connection_params           TEXT NOT NULL DEFAULT '{}',
	refresh_interval_seconds    INTEGER NOT NULL DEFAULT 3600,
	watchdog_filesystem_seconds INTEGER NOT NULL DEFAULT 60,
	enable_change_stream        INTEGER NOT NULL DEFAULT 0,
	skip_graph                  INTEGER NOT NULL DEFAULT 0,
	is_active                   INTEGER NOT NULL DEFAULT 1,
	sync_status                 TEXT NOT NULL DEFAULT 'idle',
	last_sync_ordinal           INTEGER,
	last_sync_completed_at      INTEGER,
	last_error                  TEXT,
	created_at                  INTEGER NOT NULL,
	updated_at                  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_datasource_config_project ON datasource_config(project_id);
CREATE INDEX IF NOT EXISTS idx_datasource_config_active ON datasource_config(is_active);

-- Per-document sync bookkeeping
CREATE TABLE IF NOT EXISTS document_state (
	doc_id             TEXT PRIMARY KEY,
	config_id          TEXT NOT NULL,
	source_path        TEXT NOT NULL DEFAULT '',
	source_id          TEXT,
	ordinal            INTEGER NOT NULL DEFAULT 0,
	content_hash       TEXT,
	modified_timestamp INTEGER,
	vector_synced_at   INTEGER,
	search_synced_at   INTEGER,
	graph_synced_at    INTEGER,
	created_at         INTEGER NOT NULL,
	updated_at         INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_document_state_config ON document_state(config_id);
CREATE INDEX IF NOT EXISTS idx_document_state_config_ordinal ON document_state(config_id, ordinal);
CREATE INDEX IF NOT EXISTS idx_document_state_config_source ON document_state(config_id, source_id);

-- Full-text search target backing table
CREATE TABLE IF NOT EXISTS search_documents (
	doc_id      TEXT PRIMARY KEY,
	path        TEXT NOT NULL DEFAULT '',
	source_type TEXT NOT NULL DEFAULT '',
	ordinal     INTEGER NOT NULL DEFAULT 0,
	content     TEXT NOT NULL DEFAULT '',
	updated_at  INTEGER NOT NULL
);

-- FTS5 index for full-text search
CREATE VIRTUAL TABLE IF NOT EXISTS search_documents_fts USING fts5(
	doc_id UNINDEXED,
	content,
	content='search_documents',
	content_rowid='rowid'
);

-- Triggers to keep FTS index in sync
CREATE TRIGGER IF NOT EXISTS search_documents_fts_insert AFTER INSERT ON search_documents BEGIN
	INSERT INTO search_documents_fts(rowid, doc_id, content)
	VALUES (new.rowid, new.doc_id, new.content);
END;

CREATE TRIGGER IF NOT EXISTS search_documents_fts_update AFTER UPDATE ON search_documents BEGIN
	INSERT INTO search_documents_fts(search_documents_fts, rowid, doc_id, content)
	VALUES ('delete', old.rowid, old.doc_id, old.content);
	INSERT INTO search_documents_fts(rowid, doc_id, content)
	VALUES (new.rowid, new.doc_id, new.content);
END;

CREATE TRIGGER IF NOT EXISTS search_documents_fts_delete AFTER DELETE ON search_documents BEGIN
	INSERT INTO search_documents_fts(search_documents_fts, rowid, doc_id, content)
	VALUES ('delete', old.rowid, old.doc_id, old.content);
END;
`
