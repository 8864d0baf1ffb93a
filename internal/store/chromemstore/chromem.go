// Package chromemstore keeps memories in an embedded chromem-go database,
// one collection per user.
package chromemstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/felixgeelhaar/recall/internal/memory"
	chromem "github.com/philippgille/chromem-go"
)

const (
	metaUserID    = "user_id"
	metaHash      = "hash"
	metaCreatedAt = "created_at"
	metaUpdatedAt = "updated_at"
	metaPrefix    = "meta_"
)

type Options struct {
	// Path persists the database to disk. Empty keeps it in memory.
	Path string
	Dims int
}

type Store struct {
	db   *chromem.DB
	dims int
}

var _ memory.Backend = (*Store)(nil)

func New(opts Options) (*Store, error) {
	if opts.Path == "" {
		return &Store{db: chromem.NewDB(), dims: opts.Dims}, nil
	}
	db, err := chromem.NewPersistentDB(opts.Path, false)
	if err != nil {
		return nil, fmt.Errorf("chromem: open %s: %w", opts.Path, err)
	}
	return &Store{db: db, dims: opts.Dims}, nil
}

func collectionName(userID string) string {
	return "user_" + userID
}

func (s *Store) collection(userID string) (*chromem.Collection, error) {
	// Embeddings are always supplied, so no embedding func.
	col, err := s.db.GetOrCreateCollection(collectionName(userID), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem: collection for %s: %w", userID, err)
	}
	return col, nil
}

func (s *Store) Insert(ctx context.Context, rec memory.Record) error {
	col, err := s.collection(rec.UserID)
	if err != nil {
		return err
	}
	if s.dims == 0 {
		s.dims = len(rec.Embedding)
	}

	meta := map[string]string{
		metaUserID:    rec.UserID,
		metaHash:      rec.Hash,
		metaCreatedAt: rec.CreatedAt.Format(time.RFC3339Nano),
		metaUpdatedAt: rec.UpdatedAt.Format(time.RFC3339Nano),
	}
	for k, v := range rec.Metadata {
		meta[metaPrefix+k] = v
	}

	err = col.AddDocument(ctx, chromem.Document{
		ID:        rec.ID,
		Content:   rec.Memory,
		Embedding: rec.Embedding,
		Metadata:  meta,
	})
	if err != nil {
		return fmt.Errorf("chromem: add document: %w", err)
	}
	return nil
}

func (s *Store) Search(ctx context.Context, userID string, vector []float32, limit int) ([]memory.Item, error) {
	col := s.db.GetCollection(collectionName(userID), nil)
	if col == nil {
		return []memory.Item{}, nil
	}
	// chromem rejects nResults larger than the collection.
	n := min(limit, col.Count())
	if n <= 0 {
		return []memory.Item{}, nil
	}
	results, err := col.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem: query: %w", err)
	}
	items := make([]memory.Item, 0, len(results))
	for _, r := range results {
		it := itemFromResult(r)
		it.Score = r.Similarity
		items = append(items, it)
	}
	return items, nil
}

// List has no native scan, so it queries the whole collection with a
// uniform vector and restores creation order from metadata.
func (s *Store) List(ctx context.Context, userID string) ([]memory.Item, error) {
	col := s.db.GetCollection(collectionName(userID), nil)
	if col == nil || col.Count() == 0 {
		return []memory.Item{}, nil
	}
	if s.dims <= 0 {
		return nil, fmt.Errorf("chromem: embedding dimensions unknown, cannot list")
	}
	probe := make([]float32, s.dims)
	for i := range probe {
		probe[i] = 1
	}
	results, err := col.QueryEmbedding(ctx, probe, col.Count(), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem: scan: %w", err)
	}
	items := make([]memory.Item, 0, len(results))
	for _, r := range results {
		items = append(items, itemFromResult(r))
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

func (s *Store) DeleteAll(_ context.Context, userID string) (int, error) {
	col := s.db.GetCollection(collectionName(userID), nil)
	if col == nil {
		return 0, nil
	}
	n := col.Count()
	if err := s.db.DeleteCollection(collectionName(userID)); err != nil {
		return 0, fmt.Errorf("chromem: delete collection: %w", err)
	}
	return n, nil
}

// Close is a no-op; persistent databases write through on every change.
func (s *Store) Close() error {
	return nil
}

func itemFromResult(r chromem.Result) memory.Item {
	it := memory.Item{
		ID:     r.ID,
		Memory: r.Content,
		UserID: r.Metadata[metaUserID],
		Hash:   r.Metadata[metaHash],
	}
	it.CreatedAt, _ = time.Parse(time.RFC3339Nano, r.Metadata[metaCreatedAt])
	it.UpdatedAt, _ = time.Parse(time.RFC3339Nano, r.Metadata[metaUpdatedAt])
	for k, v := range r.Metadata {
		if key, ok := strings.CutPrefix(k, metaPrefix); ok {
			if it.Metadata == nil {
				it.Metadata = map[string]string{}
			}
			it.Metadata[key] = v
		}
	}
	return it
}
