package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"
)

// whereClause builds the SQL fragment and positional args enforcing the
// scope resolver's privacy rule: session scope excludes memory files
// entirely and pins session_key; actor scope restricts session rows to
// the actor but leaves memory files visible; global imposes no filter.
// argOffset is the number of placeholders the caller has already used;
// generated placeholders start at argOffset+1.
func whereClause(f Filters, argOffset int) (string, []any) {
	var clauses []string
	var args []any
	n := argOffset

	actorTypeScoped := false
	switch f.Scope {
	case "session":
		clauses = append(clauses, "source = 'sessions'")
		n++
		clauses = append(clauses, fmt.Sprintf("session_key = $%d", n))
		args = append(args, f.SessionKey)
	case "actor":
		// Actor filters must only restrict session rows; memory files
		// stay visible under actor scope.
		var sess []string
		if f.ActorID != "" {
			n++
			sess = append(sess, fmt.Sprintf("actor_id = $%d", n))
			args = append(args, f.ActorID)
		}
		if f.ActorType != "" {
			n++
			sess = append(sess, fmt.Sprintf("actor_type = $%d", n))
			args = append(args, f.ActorType)
			actorTypeScoped = true
		}
		if len(sess) > 0 {
			clauses = append(clauses, fmt.Sprintf("(source = 'memory' OR (%s))", strings.Join(sess, " AND ")))
		}
	case "global", "":
		// no scope filter
	}

	if f.ActorType != "" && !actorTypeScoped {
		n++
		clauses = append(clauses, fmt.Sprintf("actor_type = $%d", n))
		args = append(args, f.ActorType)
	}
	if f.Role != "" {
		n++
		clauses = append(clauses, fmt.Sprintf("role = $%d", n))
		args = append(args, f.Role)
	}
	if f.UpdatedAfter != nil {
		n++
		clauses = append(clauses, fmt.Sprintf("updated_at >= $%d", n))
		args = append(args, *f.UpdatedAfter)
	}
	if f.UpdatedBefore != nil {
		n++
		clauses = append(clauses, fmt.Sprintf("updated_at <= $%d", n))
		args = append(args, *f.UpdatedBefore)
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " AND " + strings.Join(clauses, " AND "), args
}

// SearchKeyword ranks chunks by full-text rank via the GIN index on
// text_tsv. Rank is in arbitrary ts_rank units; higher is better.
func (s *Store) SearchKeyword(ctx context.Context, query string, filters Filters, limit int) ([]Candidate, error) {
	where, whereArgs := whereClause(filters, 1)
	sql := fmt.Sprintf(`
SELECT id, path, source, start_line, end_line, text, ts_rank(text_tsv, plainto_tsquery('english', $1)) AS rank
FROM memory_chunks
WHERE text_tsv @@ plainto_tsquery('english', $1)%s
ORDER BY rank DESC
LIMIT $%d`, where, len(whereArgs)+2)

	args := append([]any{query}, whereArgs...)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.ChunkID, &c.Path, &c.Source, &c.StartLine, &c.EndLine, &c.Text, &c.Score); err != nil {
			return nil, fmt.Errorf("scan keyword result: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SearchVector orders chunks by ascending cosine distance via
// pgvector's <=> operator. The embedding column is cast to the current
// dimensionality so the per-dims expression index serves the query.
// Score is reported as 1-distance so higher is better, matching
// SearchKeyword's convention.
func (s *Store) SearchVector(ctx context.Context, vec []float32, filters Filters, limit int) ([]Candidate, error) {
	where, whereArgs := whereClause(filters, 1)
	sql := fmt.Sprintf(`
SELECT id, path, source, start_line, end_line, text, 1 - (embedding::vector(%[1]d) <=> $1) AS score
FROM memory_chunks
WHERE embedding IS NOT NULL%[2]s
ORDER BY embedding::vector(%[1]d) <=> $1
LIMIT $%[3]d`, s.dims(), where, len(whereArgs)+2)

	args := append([]any{pgvector.NewVector(vec)}, whereArgs...)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.ChunkID, &c.Path, &c.Source, &c.StartLine, &c.EndLine, &c.Text, &c.Score); err != nil {
			return nil, fmt.Errorf("scan vector result: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
