package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the single Postgres connection pool shared by sync and query
// paths. One Store is owned per agent.
type Store struct {
	pool      *pgxpool.Pool
	dimension int
}

// New connects to Postgres, ensures the schema exists, and returns a
// ready Store. schema selects the Postgres schema tables live in
// (empty means the connection default, normally public). dimension may
// be 0 if the embedding provider's dimensions aren't known yet; the
// vector index is created once dimension is set via
// EnsureSchemaForDimension.
func New(ctx context.Context, dsn, schema string, maxConns int, dimension int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}
	if schema != "" {
		cfg.ConnConfig.RuntimeParams["search_path"] = schema
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	s := &Store{pool: pool, dimension: dimension}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) dims() int { return s.dimension }

// EnsureSchemaForDimension (re-)ensures the schema once the embedding
// provider's true dimensionality is known; a no-op if already current.
func (s *Store) EnsureSchemaForDimension(ctx context.Context, dimension int) error {
	s.dimension = dimension
	return s.ensureSchema(ctx)
}
