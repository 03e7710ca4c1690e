package store

import (
	"context"
	"fmt"

	"github.com/agentmemory/memoryindex/internal/embedding"
	"github.com/pgvector/pgvector-go"
)

// GetMany and PutMany implement embedding.PersistentCache against the
// embedding_cache table, so internal/embedding never has to import pgx
// directly.
var _ embedding.PersistentCache = (*Store)(nil)

func (s *Store) GetMany(ctx context.Context, provider, model, fingerprint string, hashes []string) (map[string][]float32, error) {
	out := map[string][]float32{}
	if len(hashes) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT hash, embedding FROM embedding_cache
		 WHERE provider = $1 AND model = $2 AND fingerprint = $3 AND hash = ANY($4)`,
		provider, model, fingerprint, hashes,
	)
	if err != nil {
		return nil, fmt.Errorf("query embedding cache: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var hash string
		var vec pgvector.Vector
		if err := rows.Scan(&hash, &vec); err != nil {
			return nil, fmt.Errorf("scan embedding cache row: %w", err)
		}
		out[hash] = vec.Slice()
	}
	return out, rows.Err()
}

func (s *Store) PutMany(ctx context.Context, entries []embedding.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin embedding cache transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, e := range entries {
		if len(e.Vector) == 0 {
			return fmt.Errorf("refusing to cache an empty embedding for hash %s", e.Hash)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO embedding_cache (provider, model, fingerprint, hash, embedding, dims, updated_at)
			 VALUES ($1,$2,$3,$4,$5,$6, now())
			 ON CONFLICT (provider, model, fingerprint, hash) DO UPDATE SET
			   embedding = EXCLUDED.embedding, dims = EXCLUDED.dims, updated_at = now()`,
			e.Provider, e.Model, e.Fingerprint, e.Hash, pgvector.NewVector(e.Vector), len(e.Vector),
		); err != nil {
			return fmt.Errorf("upsert embedding cache row: %w", err)
		}
	}

	return tx.Commit(ctx)
}
