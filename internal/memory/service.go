package memory

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/felixgeelhaar/recall/internal/observe"
	"github.com/google/uuid"
)

// DeleteAllMessage is the status reported by a successful DeleteAll.
const DeleteAllMessage = "Memories deleted successfully!"

// Service stores and recalls memories for users on top of a Backend.
// Every method returns a non-nil slice on success.
type Service struct {
	backend   Backend
	embedder  Embedder
	extractor Extractor
	obs       *observe.Observer
	dims      int
	now       func() time.Time
	newID     func() string
}

// Option configures a Service.
type Option func(*Service)

// WithExtractor sets how turns become facts. Defaults to RawExtractor.
func WithExtractor(e Extractor) Option {
	return func(s *Service) {
		s.extractor = e
	}
}

// WithDimensions rejects embeddings whose length differs from n.
func WithDimensions(n int) Option {
	return func(s *Service) {
		s.dims = n
	}
}

func WithObserver(o *observe.Observer) Option {
	return func(s *Service) {
		s.obs = o
	}
}

func NewService(b Backend, e Embedder, opts ...Option) *Service {
	s := &Service{
		backend:   b,
		embedder:  e,
		extractor: RawExtractor{},
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search returns up to limit memories for userID, most relevant first.
func (s *Service) Search(ctx context.Context, query, userID string, limit int) ([]Item, error) {
	if userID == "" {
		return []Item{}, ErrUserIDRequired
	}
	vec, err := s.embed(ctx, query)
	if err != nil {
		return []Item{}, err
	}
	items, err := s.backend.Search(ctx, userID, vec, limit)
	if err != nil {
		return []Item{}, fmt.Errorf("search failed: %w", err)
	}
	return nonNil(items), nil
}

// Add distills messages into facts and stores the ones not already known for userID.
// It returns only the newly created items.
func (s *Service) Add(ctx context.Context, messages []Message, userID string) ([]Item, error) {
	if userID == "" {
		return []Item{}, ErrUserIDRequired
	}

	facts, err := s.extractor.Extract(ctx, messages)
	if err != nil {
		if s.obs != nil {
			s.obs.Log().Warn().Err(err).Str("user", userID).Msg("fact extraction failed, storing raw messages")
		}
		facts, _ = RawExtractor{}.Extract(ctx, messages)
	}
	if len(facts) == 0 {
		return []Item{}, nil
	}

	existing, err := s.backend.List(ctx, userID)
	if err != nil {
		return []Item{}, fmt.Errorf("failed to load existing memories: %w", err)
	}
	seen := make(map[string]bool, len(existing))
	for _, it := range existing {
		seen[it.Hash] = true
	}

	created := []Item{}
	for _, fact := range facts {
		hash := Hash(fact)
		if seen[hash] {
			continue
		}
		seen[hash] = true

		vec, err := s.embed(ctx, fact)
		if err != nil {
			return created, err
		}

		now := s.now().UTC()
		item := Item{
			ID:        s.newID(),
			Memory:    fact,
			UserID:    userID,
			Hash:      hash,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.backend.Insert(ctx, Record{Item: item, Embedding: vec}); err != nil {
			return created, fmt.Errorf("failed to store memory: %w", err)
		}
		created = append(created, item)
	}
	return created, nil
}

// GetAll returns every memory for userID in creation order.
func (s *Service) GetAll(ctx context.Context, userID string) ([]Item, error) {
	if userID == "" {
		return []Item{}, ErrUserIDRequired
	}
	items, err := s.backend.List(ctx, userID)
	if err != nil {
		return []Item{}, fmt.Errorf("list failed: %w", err)
	}
	return nonNil(items), nil
}

// DeleteAll wipes every memory for userID.
func (s *Service) DeleteAll(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", ErrUserIDRequired
	}
	n, err := s.backend.DeleteAll(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("delete failed: %w", err)
	}
	if s.obs != nil {
		s.obs.Log().Info().Str("user", userID).Int("deleted", n).Msg("memories deleted")
	}
	return DeleteAllMessage, nil
}

// Warmup embeds a throwaway string so the first real query does not pay for model loading.
func (s *Service) Warmup(ctx context.Context) error {
	_, err := s.embed(ctx, "warmup")
	return err
}

func (s *Service) Close() error {
	return s.backend.Close()
}

func (s *Service) embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	if len(vec) == 0 {
		return nil, ErrEmptyEmbedding
	}
	if s.dims > 0 && len(vec) != s.dims {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), s.dims)
	}
	return vec, nil
}

// Hash identifies a memory by its normalized text.
func Hash(text string) string {
	sum := md5.Sum([]byte(strings.TrimSpace(text)))
	return hex.EncodeToString(sum[:])
}

func nonNil(items []Item) []Item {
	if items == nil {
		return []Item{}
	}
	return items
}
