package pgvector

import (
	"context"
	"fmt"
)

const createExtensionSQL = `CREATE EXTENSION IF NOT EXISTS vector`

// The seq column keeps creation order stable when timestamps collide.
const createTableSQL = `CREATE TABLE IF NOT EXISTS %s (
    id          TEXT PRIMARY KEY,
    seq         BIGSERIAL NOT NULL,
    user_id     TEXT NOT NULL,
    memory      TEXT NOT NULL,
    hash        TEXT NOT NULL DEFAULT '',
    metadata    JSONB,
    embedding   vector(%d) NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

const createUserSeqIndexSQL = `CREATE INDEX IF NOT EXISTS %s
    ON %s (user_id, seq)`

// EnsureSchema creates the extension, table and index if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if s.dims <= 0 {
		return fmt.Errorf("pgvector: embedding dimensions must be positive, got %d", s.dims)
	}
	if _, err := s.db.Exec(ctx, createExtensionSQL); err != nil {
		return fmt.Errorf("pgvector: create extension: %w", err)
	}

	tableSQL := fmt.Sprintf(createTableSQL, s.tableName, s.dims)
	if _, err := s.db.Exec(ctx, tableSQL); err != nil {
		return fmt.Errorf("pgvector: create table: %w", err)
	}

	idxSQL := fmt.Sprintf(createUserSeqIndexSQL, s.indexName("user_seq"), s.tableName)
	if _, err := s.db.Exec(ctx, idxSQL); err != nil {
		return fmt.Errorf("pgvector: create user_seq index: %w", err)
	}
	return nil
}

func (s *Store) indexName(suffix string) string {
	name := s.tableName
	if len(name) > 1 && name[0] == '"' {
		name = name[1 : len(name)-1]
	}
	return fmt.Sprintf("idx_%s_%s", name, suffix)
}
