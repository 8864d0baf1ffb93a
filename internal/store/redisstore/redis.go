// Package redisstore keeps memories in Redis. Each user owns one list of
// JSON records in insertion order; similarity is computed client side.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/felixgeelhaar/recall/internal/memory"
	"github.com/go-redis/redis/v8"
)

const DefaultPrefix = "memories"

type Store struct {
	client *redis.Client
	prefix string
}

var _ memory.Backend = (*Store)(nil)

// Options configures the connection. URL takes precedence over Addr.
type Options struct {
	URL      string
	Addr     string
	Username string
	Password string
	Prefix   string
}

// New connects to Redis and verifies the connection with PING.
func New(ctx context.Context, opts Options) (*Store, error) {
	var ro *redis.Options
	if opts.URL != "" {
		parsed, err := redis.ParseURL(opts.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		ro = parsed
	} else {
		ro = &redis.Options{Addr: opts.Addr}
	}
	if opts.Username != "" {
		ro.Username = opts.Username
	}
	if opts.Password != "" {
		ro.Password = opts.Password
	}

	client := redis.NewClient(ro)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewWithClient(client, opts.Prefix), nil
}

func NewWithClient(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

type storedRecord struct {
	memory.Item
	Embedding []float32 `json:"embedding"`
}

func (s *Store) key(userID string) string {
	return fmt.Sprintf("%s:%s", s.prefix, userID)
}

func (s *Store) Insert(ctx context.Context, rec memory.Record) error {
	data, err := json.Marshal(storedRecord{Item: rec.Item, Embedding: rec.Embedding})
	if err != nil {
		return fmt.Errorf("failed to marshal memory: %w", err)
	}
	if err := s.client.RPush(ctx, s.key(rec.UserID), data).Err(); err != nil {
		return fmt.Errorf("failed to store memory: %w", err)
	}
	return nil
}

func (s *Store) load(ctx context.Context, userID string) ([]storedRecord, error) {
	raw, err := s.client.LRange(ctx, s.key(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read memories: %w", err)
	}
	recs := make([]storedRecord, 0, len(raw))
	for _, r := range raw {
		var rec storedRecord
		if err := json.Unmarshal([]byte(r), &rec); err != nil {
			continue
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (s *Store) Search(ctx context.Context, userID string, vector []float32, limit int) ([]memory.Item, error) {
	recs, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	items := make([]memory.Item, len(recs))
	for i, rec := range recs {
		items[i] = rec.Item
		items[i].Score = memory.CosineSimilarity(vector, rec.Embedding)
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Score > items[j].Score
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *Store) List(ctx context.Context, userID string) ([]memory.Item, error) {
	recs, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	items := make([]memory.Item, len(recs))
	for i, rec := range recs {
		items[i] = rec.Item
	}
	return items, nil
}

func (s *Store) DeleteAll(ctx context.Context, userID string) (int, error) {
	key := s.key(userID)
	pipe := s.client.TxPipeline()
	n := pipe.LLen(ctx, key)
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to delete memories: %w", err)
	}
	return int(n.Val()), nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
