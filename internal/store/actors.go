package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// UpsertActor inserts or updates a canonical actor row. Actors are
// never deleted by the indexer; their lifecycle is external.
func (s *Store) UpsertActor(ctx context.Context, a Actor) error {
	meta, err := json.Marshal(a.Metadata)
	if err != nil {
		return fmt.Errorf("marshal actor metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO memory_actors (actor_id, actor_type, display_name, metadata)
		 VALUES ($1,$2,$3,$4)
		 ON CONFLICT (actor_id) DO UPDATE SET
		   actor_type = EXCLUDED.actor_type,
		   display_name = CASE WHEN EXCLUDED.display_name <> '' THEN EXCLUDED.display_name ELSE memory_actors.display_name END,
		   metadata = EXCLUDED.metadata`,
		a.ActorID, a.ActorType, a.DisplayName, meta,
	)
	if err != nil {
		return fmt.Errorf("upsert actor: %w", err)
	}
	return nil
}

// UpsertAlias inserts or updates an alias row keyed by (alias_norm, actor_id).
func (s *Store) UpsertAlias(ctx context.Context, alias ActorAlias) error {
	meta, err := json.Marshal(alias.Metadata)
	if err != nil {
		return fmt.Errorf("marshal alias metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO memory_actor_aliases (alias_norm, actor_id, alias, source, confidence, metadata)
		 VALUES ($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (alias_norm, actor_id) DO UPDATE SET
		   alias = EXCLUDED.alias, source = EXCLUDED.source,
		   confidence = EXCLUDED.confidence, metadata = EXCLUDED.metadata`,
		strings.ToLower(strings.TrimSpace(alias.AliasNorm)), alias.ActorID, alias.Alias, alias.Source, alias.Confidence, meta,
	)
	if err != nil {
		return fmt.Errorf("upsert alias: %w", err)
	}
	return nil
}

// ActorLookupResult pairs an actor with its best matching confidence
// for ordering.
type ActorLookupResult struct {
	Actor      Actor
	Confidence float64
}

// LookupActors matches against display name or any alias,
// case-insensitively, grouped by actor and ordered by
// (max confidence desc, display_name asc).
func (s *Store) LookupActors(ctx context.Context, query string, limit int) ([]ActorLookupResult, error) {
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	like := "%" + strings.ToLower(query) + "%"

	rows, err := s.pool.Query(ctx, `
SELECT a.actor_id, a.actor_type, a.display_name, a.metadata,
       COALESCE(MAX(al.confidence), 1) AS confidence
FROM memory_actors a
LEFT JOIN memory_actor_aliases al ON al.actor_id = a.actor_id
WHERE lower(a.display_name) LIKE $1
   OR EXISTS (
        SELECT 1 FROM memory_actor_aliases al2
        WHERE al2.actor_id = a.actor_id AND al2.alias_norm LIKE $1
      )
GROUP BY a.actor_id, a.actor_type, a.display_name, a.metadata
ORDER BY confidence DESC, a.display_name ASC
LIMIT $2`, like, limit)
	if err != nil {
		return nil, fmt.Errorf("lookup actors: %w", err)
	}
	defer rows.Close()

	var out []ActorLookupResult
	for rows.Next() {
		var r ActorLookupResult
		var metaRaw []byte
		if err := rows.Scan(&r.Actor.ActorID, &r.Actor.ActorType, &r.Actor.DisplayName, &metaRaw, &r.Confidence); err != nil {
			return nil, fmt.Errorf("scan actor lookup row: %w", err)
		}
		if len(metaRaw) > 0 {
			_ = json.Unmarshal(metaRaw, &r.Actor.Metadata)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
