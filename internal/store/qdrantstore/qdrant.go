// Package qdrantstore keeps memories in a Qdrant collection, one point per
// memory, filtered by a user_id payload field.
package qdrantstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/felixgeelhaar/recall/internal/memory"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
)

const (
	DefaultCollection = "memories"
	DefaultPort       = 6334

	// Scroll page size for List; a single user is not expected to exceed it.
	listLimit = 10000
)

// client is the subset of *qdrant.Client the store uses.
type client interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Scroll(ctx context.Context, request *qdrant.ScrollPoints) ([]*qdrant.RetrievedPoint, error)
	Count(ctx context.Context, request *qdrant.CountPoints) (uint64, error)
	Delete(ctx context.Context, request *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	Close() error
}

type Options struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	Dims       int
}

type Store struct {
	client     client
	collection string
	dims       int
}

var _ memory.Backend = (*Store)(nil)

// New dials Qdrant over gRPC and creates the collection when missing.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}
	c, err := qdrant.NewClient(&qdrant.Config{
		Host:        opts.Host,
		Port:        opts.Port,
		APIKey:      opts.APIKey,
		UseTLS:      opts.UseTLS,
		GrpcOptions: []grpc.DialOption{grpc.WithUserAgent("recall")},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: connect: %w", err)
	}
	s := newWithClient(c, opts.Collection, opts.Dims)
	if err := s.ensureCollection(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return s, nil
}

func newWithClient(c client, collection string, dims int) *Store {
	if collection == "" {
		collection = DefaultCollection
	}
	return &Store{client: c, collection: collection, dims: dims}
}

func (s *Store) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("qdrant: check collection: %w", err)
	}
	if exists {
		return nil
	}
	if s.dims <= 0 {
		return fmt.Errorf("qdrant: embedding dimensions must be positive, got %d", s.dims)
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dims),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: create collection: %w", err)
	}
	return nil
}

func userFilter(userID string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatch("user_id", userID)},
	}
}

func (s *Store) Insert(ctx context.Context, rec memory.Record) error {
	payload := map[string]any{
		"user_id":    rec.UserID,
		"memory":     rec.Memory,
		"hash":       rec.Hash,
		"created_at": rec.CreatedAt.Format(time.RFC3339Nano),
		"updated_at": rec.UpdatedAt.Format(time.RFC3339Nano),
	}
	for k, v := range rec.Metadata {
		payload["meta_"+k] = v
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewID(rec.ID),
			Vectors: qdrant.NewVectors(rec.Embedding...),
			Payload: qdrant.NewValueMap(payload),
		}},
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert: %w", err)
	}
	return nil
}

func (s *Store) Search(ctx context.Context, userID string, vector []float32, limit int) ([]memory.Item, error) {
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Filter:         userFilter(userID),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: query: %w", err)
	}
	items := make([]memory.Item, 0, len(points))
	for _, p := range points {
		it := itemFromPayload(p.GetId(), p.GetPayload())
		it.Score = p.GetScore()
		items = append(items, it)
	}
	return items, nil
}

func (s *Store) List(ctx context.Context, userID string) ([]memory.Item, error) {
	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: s.collection,
		Filter:         userFilter(userID),
		Limit:          qdrant.PtrOf(uint32(listLimit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: scroll: %w", err)
	}
	items := make([]memory.Item, 0, len(points))
	for _, p := range points {
		items = append(items, itemFromPayload(p.GetId(), p.GetPayload()))
	}
	// Scroll returns points by ID; restore creation order.
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

func (s *Store) DeleteAll(ctx context.Context, userID string) (int, error) {
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Filter:         userFilter(userID),
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant: count: %w", err)
	}
	if n == 0 {
		return 0, nil
	}
	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorFilter(userFilter(userID)),
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant: delete: %w", err)
	}
	return int(n), nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func itemFromPayload(id *qdrant.PointId, payload map[string]*qdrant.Value) memory.Item {
	it := memory.Item{
		ID:     id.GetUuid(),
		UserID: payload["user_id"].GetStringValue(),
		Memory: payload["memory"].GetStringValue(),
		Hash:   payload["hash"].GetStringValue(),
	}
	it.CreatedAt, _ = time.Parse(time.RFC3339Nano, payload["created_at"].GetStringValue())
	it.UpdatedAt, _ = time.Parse(time.RFC3339Nano, payload["updated_at"].GetStringValue())
	for k, v := range payload {
		if len(k) > 5 && k[:5] == "meta_" {
			if it.Metadata == nil {
				it.Metadata = map[string]string{}
			}
			it.Metadata[k[5:]] = v.GetStringValue()
		}
	}
	return it
}
