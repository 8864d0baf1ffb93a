// Package pgvector keeps memories in PostgreSQL using the pgvector extension.
package pgvector

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/felixgeelhaar/recall/internal/memory"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultTableName = "memories"

// Querier abstracts the pgx methods the store needs. *pgxpool.Pool and
// pgx.Tx both satisfy it.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	db        Querier
	tableName string
	dims      int
	closeFn   func()
}

var _ memory.Backend = (*Store)(nil)

type Option func(*Store)

// WithTableName overrides the default table name. The name is sanitized via
// pgx.Identifier because it is interpolated into queries.
func WithTableName(name string) Option {
	return func(s *Store) {
		if name != "" {
			s.tableName = pgx.Identifier{name}.Sanitize()
		}
	}
}

// New wraps an existing Querier. dims is the embedding size used by EnsureSchema.
func New(db Querier, dims int, opts ...Option) *Store {
	s := &Store{
		db:        db,
		tableName: defaultTableName,
		dims:      dims,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect opens a pool for dsn, creates the schema and returns a Store that
// closes the pool on Close.
func Connect(ctx context.Context, dsn string, dims int, opts ...Option) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgvector: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector: ping: %w", err)
	}
	s := New(pool, dims, opts...)
	s.closeFn = pool.Close
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Insert(ctx context.Context, rec memory.Record) error {
	metaJSON, err := marshalMetadata(rec.Metadata)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`INSERT INTO %s
		(id, user_id, memory, hash, metadata, embedding, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::vector, $7, $8)`, s.tableName)

	_, err = s.db.Exec(ctx, query,
		rec.ID, rec.UserID, rec.Memory, rec.Hash, metaJSON,
		vectorLiteral(rec.Embedding), rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("pgvector: insert: %w", err)
	}
	return nil
}

// Search ranks by cosine distance; Score is reported as similarity (1 - distance).
func (s *Store) Search(ctx context.Context, userID string, vector []float32, limit int) ([]memory.Item, error) {
	query := fmt.Sprintf(`SELECT id, user_id, memory, hash, metadata, created_at, updated_at,
		1 - (embedding <=> $2::vector) AS score
		FROM %s WHERE user_id = $1
		ORDER BY embedding <=> $2::vector
		LIMIT $3`, s.tableName)

	rows, err := s.db.Query(ctx, query, userID, vectorLiteral(vector), limit)
	if err != nil {
		return nil, fmt.Errorf("pgvector: search: %w", err)
	}
	defer rows.Close()

	items := []memory.Item{}
	for rows.Next() {
		var it memory.Item
		var metaJSON []byte
		var score float64
		if err := rows.Scan(&it.ID, &it.UserID, &it.Memory, &it.Hash, &metaJSON, &it.CreatedAt, &it.UpdatedAt, &score); err != nil {
			return nil, fmt.Errorf("pgvector: scan: %w", err)
		}
		it.Metadata = unmarshalMetadata(metaJSON)
		it.Score = float32(score)
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *Store) List(ctx context.Context, userID string) ([]memory.Item, error) {
	query := fmt.Sprintf(`SELECT id, user_id, memory, hash, metadata, created_at, updated_at
		FROM %s WHERE user_id = $1 ORDER BY seq ASC`, s.tableName)

	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("pgvector: list: %w", err)
	}
	defer rows.Close()

	items := []memory.Item{}
	for rows.Next() {
		var it memory.Item
		var metaJSON []byte
		if err := rows.Scan(&it.ID, &it.UserID, &it.Memory, &it.Hash, &metaJSON, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, fmt.Errorf("pgvector: scan: %w", err)
		}
		it.Metadata = unmarshalMetadata(metaJSON)
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *Store) DeleteAll(ctx context.Context, userID string) (int, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE user_id = $1`, s.tableName)
	tag, err := s.db.Exec(ctx, query, userID)
	if err != nil {
		return 0, fmt.Errorf("pgvector: delete: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// vectorLiteral renders v in pgvector's text format, e.g. [0.1,0.2].
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func marshalMetadata(meta map[string]string) ([]byte, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("pgvector: marshal metadata: %w", err)
	}
	return data, nil
}

func unmarshalMetadata(data []byte) map[string]string {
	if len(data) == 0 {
		return nil
	}
	var meta map[string]string
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil
	}
	return meta
}
