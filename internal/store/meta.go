package store

import (
	"context"
	"fmt"
	"strconv"
)

const (
	metaKeyModel        = "model"
	metaKeyProvider     = "provider"
	metaKeyProviderKey  = "provider_key"
	metaKeyChunkTokens  = "chunk_tokens"
	metaKeyChunkOverlap = "chunk_overlap"
	metaKeyVectorDims   = "vector_dims"
)

// GetMeta reads the singleton Meta row, returning the zero Meta if none
// has been written yet (first sync).
func (s *Store) GetMeta(ctx context.Context) (Meta, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, value FROM memory_meta`)
	if err != nil {
		return Meta{}, fmt.Errorf("query meta: %w", err)
	}
	defer rows.Close()

	var m Meta
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return Meta{}, fmt.Errorf("scan meta row: %w", err)
		}
		switch k {
		case metaKeyModel:
			m.Model = v
		case metaKeyProvider:
			m.Provider = v
		case metaKeyProviderKey:
			m.ProviderKey = v
		case metaKeyChunkTokens:
			m.ChunkTokens, _ = strconv.Atoi(v)
		case metaKeyChunkOverlap:
			m.ChunkOverlap, _ = strconv.Atoi(v)
		case metaKeyVectorDims:
			m.VectorDims, _ = strconv.Atoi(v)
		}
	}
	return m, rows.Err()
}

// Reconcile compares want against the persisted Meta and, on mismatch,
// performs the full rebuild in one transaction: truncate memory_chunks
// and memory_files, drop the embedding_cache rows for the old identity,
// then write the new Meta. Returns true if a rebuild was performed.
func (s *Store) Reconcile(ctx context.Context, want Meta) (bool, error) {
	current, err := s.GetMeta(ctx)
	if err != nil {
		return false, err
	}

	if current.Model != "" && current.Matches(want) {
		return false, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin reconcile transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if current.Model != "" {
		// Drop the prior identity's chunks and cache rows; a brand new
		// index (current.Model == "") has nothing to drop.
		if _, err := tx.Exec(ctx, `DELETE FROM memory_chunks`); err != nil {
			return false, fmt.Errorf("truncate memory_chunks on reconcile: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM memory_files`); err != nil {
			return false, fmt.Errorf("truncate memory_files on reconcile: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM embedding_cache WHERE provider = $1 AND model = $2 AND fingerprint = $3`,
			current.Provider, current.Model, current.ProviderKey,
		); err != nil {
			return false, fmt.Errorf("drop stale embedding cache rows on reconcile: %w", err)
		}
	}

	rows := map[string]string{
		metaKeyModel:        want.Model,
		metaKeyProvider:     want.Provider,
		metaKeyProviderKey:  want.ProviderKey,
		metaKeyChunkTokens:  strconv.Itoa(want.ChunkTokens),
		metaKeyChunkOverlap: strconv.Itoa(want.ChunkOverlap),
		metaKeyVectorDims:   strconv.Itoa(want.VectorDims),
	}
	for k, v := range rows {
		if _, err := tx.Exec(ctx,
			`INSERT INTO memory_meta (key, value) VALUES ($1, $2)
			 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
			k, v,
		); err != nil {
			return false, fmt.Errorf("write meta key %s: %w", k, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit reconcile transaction: %w", err)
	}
	return true, nil
}
