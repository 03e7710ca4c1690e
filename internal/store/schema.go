package store

import (
	"context"
	"fmt"
)

// ensureSchema creates every table and index the module needs. It is
// additive (CREATE ... IF NOT EXISTS) and safe to re-run; it adds no
// columns to a table that already exists, so an existing table keeps
// the columns it was created with. The embedding columns are dimension-agnostic
// (bare vector); the fixed dimensionality lives only in the cast-based
// similarity index, so a provider swap to different dims needs no
// column migration.
func (s *Store) ensureSchema(ctx context.Context) error {
	const statements = `
CREATE TABLE IF NOT EXISTS memory_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS memory_files (
	path         TEXT NOT NULL,
	source       TEXT NOT NULL,
	session_key  TEXT NOT NULL DEFAULT '',
	hash         TEXT NOT NULL,
	mtime        TIMESTAMPTZ NOT NULL,
	size         BIGINT NOT NULL,
	role         TEXT NOT NULL DEFAULT '',
	actor_type   TEXT NOT NULL DEFAULT '',
	actor_id     TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (path, source)
);

CREATE TABLE IF NOT EXISTS memory_chunks (
	id                  UUID PRIMARY KEY,
	path                TEXT NOT NULL,
	source              TEXT NOT NULL,
	session_key         TEXT NOT NULL DEFAULT '',
	role                TEXT NOT NULL,
	actor_type          TEXT NOT NULL DEFAULT '',
	actor_id            TEXT NOT NULL DEFAULT '',
	message_id          TEXT NOT NULL DEFAULT '',
	message_created_at  TIMESTAMPTZ,
	start_line          INT NOT NULL,
	end_line            INT NOT NULL,
	hash                TEXT NOT NULL,
	model               TEXT NOT NULL,
	text                TEXT NOT NULL,
	text_tsv            TSVECTOR GENERATED ALWAYS AS (to_tsvector('english', text)) STORED,
	embedding           vector,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS memory_chunks_path_idx ON memory_chunks (path);
CREATE INDEX IF NOT EXISTS memory_chunks_source_idx ON memory_chunks (source);
CREATE INDEX IF NOT EXISTS memory_chunks_model_idx ON memory_chunks (model);
CREATE INDEX IF NOT EXISTS memory_chunks_session_key_idx ON memory_chunks (session_key);
CREATE INDEX IF NOT EXISTS memory_chunks_actor_id_idx ON memory_chunks (actor_id);
CREATE INDEX IF NOT EXISTS memory_chunks_created_at_idx ON memory_chunks (created_at);
CREATE INDEX IF NOT EXISTS memory_chunks_updated_at_idx ON memory_chunks (updated_at);
CREATE INDEX IF NOT EXISTS memory_chunks_message_id_idx ON memory_chunks (message_id);
CREATE INDEX IF NOT EXISTS memory_chunks_message_created_at_idx ON memory_chunks (message_created_at);
CREATE INDEX IF NOT EXISTS memory_chunks_session_recency_idx ON memory_chunks (session_key, message_created_at DESC);
CREATE INDEX IF NOT EXISTS memory_chunks_text_tsv_idx ON memory_chunks USING GIN (text_tsv);

CREATE TABLE IF NOT EXISTS embedding_cache (
	provider    TEXT NOT NULL,
	model       TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	hash        TEXT NOT NULL,
	embedding   vector NOT NULL,
	dims        INT NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (provider, model, fingerprint, hash)
);

CREATE TABLE IF NOT EXISTS memory_actors (
	actor_id     TEXT PRIMARY KEY,
	actor_type   TEXT NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	metadata     JSONB NOT NULL DEFAULT '{}'::jsonb
);

CREATE TABLE IF NOT EXISTS memory_actor_aliases (
	alias_norm  TEXT NOT NULL,
	actor_id    TEXT NOT NULL REFERENCES memory_actors (actor_id),
	alias       TEXT NOT NULL,
	source      TEXT NOT NULL DEFAULT '',
	confidence  DOUBLE PRECISION NOT NULL DEFAULT 1,
	metadata    JSONB NOT NULL DEFAULT '{}'::jsonb,
	PRIMARY KEY (alias_norm, actor_id)
);

CREATE INDEX IF NOT EXISTS memory_actor_aliases_alias_norm_idx ON memory_actor_aliases (alias_norm);
`

	if _, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}

	if _, err := s.pool.Exec(ctx, statements); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	return s.ensureVectorIndex(ctx)
}

// ensureVectorIndex creates the cosine similarity index lazily, once
// the dimensionality is known. The index is an expression index over
// embedding cast to the current dims, named per dims; stale indexes
// from a prior dimensionality are dropped. Idempotent and safe to call
// on every sync.
func (s *Store) ensureVectorIndex(ctx context.Context) error {
	if s.dims() <= 0 {
		return nil
	}
	name := fmt.Sprintf("memory_chunks_embedding_%d_idx", s.dims())
	stmt := fmt.Sprintf(`
DO $$
DECLARE
	stale TEXT;
BEGIN
	FOR stale IN
		SELECT indexname FROM pg_indexes
		WHERE schemaname = current_schema()
		  AND indexname LIKE 'memory_chunks_embedding_%%_idx'
		  AND indexname <> '%[1]s'
	LOOP
		EXECUTE format('DROP INDEX %%I', stale);
	END LOOP;

	IF NOT EXISTS (
		SELECT 1 FROM pg_indexes
		WHERE schemaname = current_schema() AND indexname = '%[1]s'
	) THEN
		EXECUTE 'CREATE INDEX %[1]s ON memory_chunks USING hnsw ((embedding::vector(%[2]d)) vector_cosine_ops)';
	END IF;
END
$$;
`, name, s.dims())
	_, err := s.pool.Exec(ctx, stmt)
	return err
}
