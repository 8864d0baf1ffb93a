package memory

import (
	"context"
	"errors"
	"math"
	"time"
)

var (
	ErrUserIDRequired    = errors.New("user ID is required")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrEmptyEmbedding    = errors.New("embedder returned an empty vector")
)

// Role values for Message.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Item represents a single stored memory.
type Item struct {
	ID        string            `json:"id"`
	Memory    string            `json:"memory"`
	UserID    string            `json:"userId,omitempty"`
	Hash      string            `json:"hash,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
	Score     float32           `json:"score,omitempty"` // Search results only
}

// Message is one side of a conversational turn handed to Add.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Record is an Item together with the embedding it was indexed under.
type Record struct {
	Item
	Embedding []float32
}

// Backend is the vector store a Service persists records into.
// Implementations live under internal/store.
type Backend interface {
	// Insert persists a new record.
	Insert(ctx context.Context, rec Record) error

	// Search returns the most similar items for a user, best first, with Score set.
	Search(ctx context.Context, userID string, vector []float32, limit int) ([]Item, error)

	// List returns every item for a user in creation order.
	List(ctx context.Context, userID string) ([]Item, error)

	// DeleteAll removes every item for a user and reports how many were removed.
	DeleteAll(ctx context.Context, userID string) (int, error)

	Close() error
}

// Embedder turns text into a vector. provider.Provider satisfies it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// CosineSimilarity returns the cosine of the angle between a and b,
// or 0 when the vectors differ in length or either is zero.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}
	var dot, magA, magB float32
	for i := 0; i < len(a); i++ {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	if magA == 0 || magB == 0 {
		return 0.0
	}
	return dot / (float32(math.Sqrt(float64(magA))) * float32(math.Sqrt(float64(magB))))
}
