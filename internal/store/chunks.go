package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

// GetFileRecord returns the stored file row for (path, source), or the
// zero FileRecord and false if none exists.
func (s *Store) GetFileRecord(ctx context.Context, path, source string) (FileRecord, bool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT path, source, session_key, hash, mtime, size, role, actor_type, actor_id
		 FROM memory_files WHERE path = $1 AND source = $2`,
		path, source,
	)
	var f FileRecord
	if err := row.Scan(&f.Path, &f.Source, &f.SessionKey, &f.Hash, &f.MTime, &f.Size, &f.Role, &f.ActorType, &f.ActorID); err != nil {
		if err == pgx.ErrNoRows {
			return FileRecord{}, false, nil
		}
		return FileRecord{}, false, fmt.Errorf("get file record: %w", err)
	}
	return f, true, nil
}

// ListFileRecords returns all file rows for a source, used by the
// indexer to diff against the freshly enumerated candidate set.
func (s *Store) ListFileRecords(ctx context.Context, source string) ([]FileRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT path, source, session_key, hash, mtime, size, role, actor_type, actor_id
		 FROM memory_files WHERE source = $1`,
		source,
	)
	if err != nil {
		return nil, fmt.Errorf("list file records: %w", err)
	}
	defer rows.Close()

	var out []FileRecord
	for rows.Next() {
		var f FileRecord
		if err := rows.Scan(&f.Path, &f.Source, &f.SessionKey, &f.Hash, &f.MTime, &f.Size, &f.Role, &f.ActorType, &f.ActorID); err != nil {
			return nil, fmt.Errorf("scan file record: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// UpsertFileChunks replaces a file's chunks atomically: upsert the file
// row, delete prior chunks for (path, source), bulk-insert the new
// chunks. Chunks derived from one message always appear together or not
// at all.
func (s *Store) UpsertFileChunks(ctx context.Context, file FileRecord, chunks []Chunk) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin file transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO memory_files (path, source, session_key, hash, mtime, size, role, actor_type, actor_id)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		 ON CONFLICT (path, source) DO UPDATE SET
		   session_key = EXCLUDED.session_key,
		   hash        = EXCLUDED.hash,
		   mtime       = EXCLUDED.mtime,
		   size        = EXCLUDED.size,
		   role        = EXCLUDED.role,
		   actor_type  = EXCLUDED.actor_type,
		   actor_id    = EXCLUDED.actor_id`,
		file.Path, file.Source, file.SessionKey, file.Hash, file.MTime, file.Size, file.Role, file.ActorType, file.ActorID,
	); err != nil {
		return fmt.Errorf("upsert file record: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM memory_chunks WHERE path = $1 AND source = $2`,
		file.Path, file.Source,
	); err != nil {
		return fmt.Errorf("delete prior chunks: %w", err)
	}

	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			return fmt.Errorf("refusing to insert chunk %s with an empty embedding", c.Hash)
		}
		id := c.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		var messageCreatedAt any
		if !c.MessageCreatedAt.IsZero() {
			messageCreatedAt = c.MessageCreatedAt
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO memory_chunks
			   (id, path, source, session_key, role, actor_type, actor_id, message_id,
			    message_created_at, start_line, end_line, hash, model, text, embedding,
			    created_at, updated_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15, now(), now())`,
			id, c.Path, c.Source, c.SessionKey, c.Role, c.ActorType, c.ActorID, c.MessageID,
			messageCreatedAt, c.StartLine, c.EndLine, c.Hash, c.Model, c.Text, pgvector.NewVector(c.Embedding),
		); err != nil {
			return fmt.Errorf("insert chunk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit file transaction: %w", err)
	}
	return nil
}

// DeleteFile removes a file record and its chunks, used when a path
// leaves the candidate set.
func (s *Store) DeleteFile(ctx context.Context, path, source string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM memory_chunks WHERE path = $1 AND source = $2`, path, source); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM memory_files WHERE path = $1 AND source = $2`, path, source); err != nil {
		return fmt.Errorf("delete file record: %w", err)
	}
	return tx.Commit(ctx)
}

// CountsBySource returns per-source file and chunk counts for the
// status snapshot.
func (s *Store) CountsBySource(ctx context.Context) (map[string]struct{ Files, Chunks int }, error) {
	out := map[string]struct{ Files, Chunks int }{}

	rows, err := s.pool.Query(ctx, `SELECT source, count(*) FROM memory_files GROUP BY source`)
	if err != nil {
		return nil, fmt.Errorf("count files by source: %w", err)
	}
	for rows.Next() {
		var src string
		var n int
		if err := rows.Scan(&src, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan file count: %w", err)
		}
		e := out[src]
		e.Files = n
		out[src] = e
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.pool.Query(ctx, `SELECT source, count(*) FROM memory_chunks GROUP BY source`)
	if err != nil {
		return nil, fmt.Errorf("count chunks by source: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var src string
		var n int
		if err := rows.Scan(&src, &n); err != nil {
			return nil, fmt.Errorf("scan chunk count: %w", err)
		}
		e := out[src]
		e.Chunks = n
		out[src] = e
	}
	return out, rows.Err()
}
