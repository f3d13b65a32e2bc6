package store

import "fmt"

// supportedDims lists the embedding dimensionalities the store carries a
// dedicated sqlite-vec virtual table for. A document or chunk embedding at
// any other dimension has nowhere to be mirrored and is rejected.
var supportedDims = []int{768, 1024, 1536, 3072}

// schemaSQL returns the DDL for every table, trigger and per-dimension
// vector index. It is safe to run repeatedly (IF NOT EXISTS throughout).
func schemaSQL() string {
	var vecTables string
	for _, d := range supportedDims {
		vecTables += fmt.Sprintf(`
CREATE VIRTUAL TABLE IF NOT EXISTS vec_chunks_%d USING vec0(
    embedding_id INTEGER PRIMARY KEY,
    embedding float[%d]
);
`, d, d)
	}

	return `
-- Documents imported from the reading service and/or fetched full-text.
CREATE TABLE IF NOT EXISTS documents (
    id INTEGER PRIMARY KEY,
    source TEXT NOT NULL,
    provider_id TEXT NOT NULL,
    url_original TEXT NOT NULL,
    url_canonical TEXT NOT NULL,
    title TEXT,
    author TEXT,
    published_at DATETIME,
    saved_at DATETIME,
    fulltext TEXT,
    fulltext_html TEXT,
    category TEXT NOT NULL DEFAULT 'article',
    word_count INTEGER,
    summary TEXT,
    fetch_source TEXT,
    fetch_time DATETIME,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(source, provider_id)
);
CREATE INDEX IF NOT EXISTS idx_documents_url_canonical ON documents(source, url_canonical);
CREATE INDEX IF NOT EXISTS idx_documents_saved_at ON documents(saved_at);
CREATE INDEX IF NOT EXISTS idx_documents_category ON documents(category);

-- Highlights deduplicated within a document by text hash.
CREATE TABLE IF NOT EXISTS highlights (
    id INTEGER PRIMARY KEY,
    document_id INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    text TEXT NOT NULL,
    text_hash TEXT NOT NULL,
    note TEXT,
    highlighted_at DATETIME,
    provider TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(document_id, text_hash)
);
CREATE INDEX IF NOT EXISTS idx_highlights_document ON highlights(document_id);

-- Position-anchored chunks of a document's full text.
CREATE TABLE IF NOT EXISTS chunks (
    id INTEGER PRIMARY KEY,
    document_id INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    chunk_index INTEGER NOT NULL,
    chunk_text TEXT NOT NULL,
    char_start INTEGER NOT NULL,
    char_end INTEGER NOT NULL,
    token_count INTEGER,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(document_id, chunk_index)
);
CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);

-- Full-text search over documents.
CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(
    title, author, fulltext, summary,
    content='documents', content_rowid='id',
    tokenize='porter unicode61'
);
CREATE TRIGGER IF NOT EXISTS documents_ai AFTER INSERT ON documents BEGIN
    INSERT INTO documents_fts(rowid, title, author, fulltext, summary)
    VALUES (new.id, new.title, new.author, new.fulltext, new.summary);
END;
CREATE TRIGGER IF NOT EXISTS documents_ad AFTER DELETE ON documents BEGIN
    INSERT INTO documents_fts(documents_fts, rowid, title, author, fulltext, summary)
    VALUES ('delete', old.id, old.title, old.author, old.fulltext, old.summary);
END;
CREATE TRIGGER IF NOT EXISTS documents_au AFTER UPDATE ON documents BEGIN
    INSERT INTO documents_fts(documents_fts, rowid, title, author, fulltext, summary)
    VALUES ('delete', old.id, old.title, old.author, old.fulltext, old.summary);
    INSERT INTO documents_fts(rowid, title, author, fulltext, summary)
    VALUES (new.id, new.title, new.author, new.fulltext, new.summary);
END;

-- Full-text search over chunks.
CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
    chunk_text,
    content='chunks', content_rowid='id',
    tokenize='porter unicode61'
);
CREATE TRIGGER IF NOT EXISTS chunks_ai AFTER INSERT ON chunks BEGIN
    INSERT INTO chunks_fts(rowid, chunk_text) VALUES (new.id, new.chunk_text);
END;
CREATE TRIGGER IF NOT EXISTS chunks_ad AFTER DELETE ON chunks BEGIN
    INSERT INTO chunks_fts(chunks_fts, rowid, chunk_text) VALUES ('delete', old.id, old.chunk_text);
END;
CREATE TRIGGER IF NOT EXISTS chunks_au AFTER UPDATE ON chunks BEGIN
    INSERT INTO chunks_fts(chunks_fts, rowid, chunk_text) VALUES ('delete', old.id, old.chunk_text);
    INSERT INTO chunks_fts(rowid, chunk_text) VALUES (new.id, new.chunk_text);
END;

-- Embeddings belong to either a document or a chunk (exactly one non-null).
CREATE TABLE IF NOT EXISTS embeddings (
    id INTEGER PRIMARY KEY,
    document_id INTEGER REFERENCES documents(id) ON DELETE CASCADE,
    chunk_id INTEGER REFERENCES chunks(id) ON DELETE CASCADE,
    provider TEXT NOT NULL,
    model TEXT NOT NULL,
    dims INTEGER NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    CHECK ((document_id IS NULL) != (chunk_id IS NULL)),
    UNIQUE(chunk_id, provider, model),
    UNIQUE(document_id, provider, model)
);
CREATE INDEX IF NOT EXISTS idx_embeddings_chunk ON embeddings(chunk_id);
CREATE INDEX IF NOT EXISTS idx_embeddings_document ON embeddings(document_id);
CREATE INDEX IF NOT EXISTS idx_embeddings_provider_model ON embeddings(provider, model);
` + vecTables + `

-- Fetch failures: at most one per document, cleared on successful refetch.
CREATE TABLE IF NOT EXISTS fetch_failures (
    id INTEGER PRIMARY KEY,
    document_id INTEGER NOT NULL UNIQUE REFERENCES documents(id) ON DELETE CASCADE,
    url TEXT NOT NULL,
    error_kind TEXT NOT NULL,
    message TEXT,
    http_status INTEGER,
    retry_count INTEGER NOT NULL DEFAULT 0,
    last_attempt DATETIME DEFAULT CURRENT_TIMESTAMP,
    job_id TEXT
);
CREATE INDEX IF NOT EXISTS idx_fetch_failures_kind ON fetch_failures(error_kind);

-- Jobs: import, fetch, embed, pipeline, digest.
CREATE TABLE IF NOT EXISTS jobs (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    status TEXT NOT NULL,
    started_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    last_activity DATETIME DEFAULT CURRENT_TIMESTAMP,
    error TEXT,
    items_total INTEGER,
    items_imported INTEGER NOT NULL DEFAULT 0,
    items_merged INTEGER NOT NULL DEFAULT 0,
    items_succeeded INTEGER NOT NULL DEFAULT 0,
    items_failed INTEGER NOT NULL DEFAULT 0,
    items_skipped INTEGER NOT NULL DEFAULT 0,
    cursor_reader TEXT,
    cursor_export TEXT,
    reader_done INTEGER NOT NULL DEFAULT 0,
    export_done INTEGER NOT NULL DEFAULT 0,
    cursor_id INTEGER NOT NULL DEFAULT 0,
    provider TEXT,
    model TEXT,
    phase TEXT,
    child_import_id TEXT,
    child_embed_id TEXT,
    state_json TEXT
);
CREATE INDEX IF NOT EXISTS idx_jobs_kind_status ON jobs(kind, status);

-- Generated weekly digests.
CREATE TABLE IF NOT EXISTS generated_digests (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    date_from DATETIME NOT NULL,
    date_to DATETIME NOT NULL,
    strategy TEXT NOT NULL,
    model TEXT NOT NULL,
    summary TEXT,
    topics_json TEXT,
    highlights_json TEXT,
    docs_analyzed INTEGER,
    chunks_analyzed INTEGER,
    tokens_input INTEGER,
    tokens_output INTEGER,
    cost_usd REAL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS digest_topics (
    id INTEGER PRIMARY KEY,
    digest_id INTEGER NOT NULL REFERENCES generated_digests(id) ON DELETE CASCADE,
    topic_index INTEGER NOT NULL,
    topic_name TEXT,
    summary TEXT,
    key_points_json TEXT
);
CREATE INDEX IF NOT EXISTS idx_digest_topics_digest ON digest_topics(digest_id);

CREATE TABLE IF NOT EXISTS digest_citations (
    id INTEGER PRIMARY KEY,
    digest_id INTEGER NOT NULL REFERENCES generated_digests(id) ON DELETE CASCADE,
    topic_id INTEGER NOT NULL REFERENCES digest_topics(id) ON DELETE CASCADE,
    chunk_id INTEGER REFERENCES chunks(id) ON DELETE SET NULL,
    document_id INTEGER REFERENCES documents(id) ON DELETE SET NULL,
    excerpt TEXT
);
CREATE INDEX IF NOT EXISTS idx_digest_citations_topic ON digest_citations(topic_id);

-- Append-only external API usage ledger.
CREATE TABLE IF NOT EXISTS usage_log (
    id INTEGER PRIMARY KEY,
    ts DATETIME DEFAULT CURRENT_TIMESTAMP,
    provider TEXT NOT NULL,
    model TEXT NOT NULL,
    operation TEXT NOT NULL,
    tokens_input INTEGER NOT NULL DEFAULT 0,
    tokens_output INTEGER NOT NULL DEFAULT 0,
    cost_usd REAL NOT NULL DEFAULT 0,
    latency_ms INTEGER NOT NULL DEFAULT 0,
    success INTEGER NOT NULL DEFAULT 1,
    error_message TEXT,
    metadata_json TEXT
);
CREATE INDEX IF NOT EXISTS idx_usage_log_ts ON usage_log(ts);
CREATE INDEX IF NOT EXISTS idx_usage_log_provider ON usage_log(provider, operation);

-- Prompt template overrides; defaults are baked into the prompts package.
CREATE TABLE IF NOT EXISTS prompt_overrides (
    prompt_key TEXT PRIMARY KEY,
    body TEXT NOT NULL,
    temperature REAL,
    max_tokens INTEGER,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Arbitrary app settings.
CREATE TABLE IF NOT EXISTS app_settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`
}
