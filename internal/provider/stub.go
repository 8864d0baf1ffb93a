package provider

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
)

// StubProvider is an offline provider for tests and demos. Chat replays
// Responses in order and then echoes the last user message; Embed hashes
// words into a fixed-size bag-of-words vector.
type StubProvider struct {
	Responses []Response
	Dims      int

	mu sync.Mutex
}

func NewStubProvider() *StubProvider {
	return &StubProvider{Dims: 64}
}

func (m *StubProvider) Chat(ctx context.Context, messages []Message) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.Responses) == 0 {
		var last string
		for _, msg := range messages {
			if msg.Role == RoleUser {
				last = msg.Content
			}
		}
		return &Response{Content: "Noted: " + last}, nil
	}

	resp := m.Responses[0]
	m.Responses = m.Responses[1:]
	return &resp, nil
}

func (m *StubProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dims := m.Dims
	if dims <= 0 {
		dims = 64
	}
	vec := make([]float32, dims)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:'\"")
		if word == "" {
			continue
		}
		h := fnv.New32a()
		h.Write([]byte(word))
		vec[h.Sum32()%uint32(dims)]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v * v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec, nil
	}
	n := float32(math.Sqrt(norm))
	for i := range vec {
		vec[i] /= n
	}
	return vec, nil
}

func (m *StubProvider) Name() string {
	return "stub"
}
