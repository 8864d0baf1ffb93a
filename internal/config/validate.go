package config

import (
	"fmt"
	"strings"
)

var (
	llmProviders      = []string{"openai", "anthropic", "gemini", "ollama", "cli", "stub"}
	embedderProviders = []string{"ollama", "openai", "gemini", "stub"}
	storeProviders    = []string{"redis", "pgvector", "qdrant", "sqlite", "memory"}
)

// ValidationResult represents the outcome of a validation pass.
type ValidationResult struct {
	Valid    bool
	Warnings []string
	Errors   []string
}

// Err folds the errors into one ErrInvalidConfig, or returns nil.
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(r.Errors, "; "))
}

// Validate checks the configuration for completeness. Credentials are
// checked separately by ResolveCredentials.
func (c *Config) Validate() ValidationResult {
	res := ValidationResult{
		Valid:    true,
		Warnings: []string{},
		Errors:   []string{},
	}
	fail := func(format string, args ...any) {
		res.Valid = false
		res.Errors = append(res.Errors, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(c.UserID) == "" {
		fail("user_id is required")
	}
	if c.SearchLimit <= 0 {
		fail("search_limit must be positive, got %d", c.SearchLimit)
	} else if c.SearchLimit > 50 {
		res.Warnings = append(res.Warnings, "search_limit is large; prompts may get long")
	}
	if c.CallTimeout <= 0 {
		fail("call_timeout must be positive")
	}

	if !oneOf(c.LLM.Provider, llmProviders) {
		fail("%v: llm.provider %q (want one of %s)", ErrUnknownProvider, c.LLM.Provider, strings.Join(llmProviders, ", "))
	}
	if c.LLM.Provider == "cli" && c.LLM.Command == "" {
		fail("llm.command is required for the cli provider")
	}

	if !oneOf(c.Embedder.Provider, embedderProviders) {
		fail("%v: embedder.provider %q (want one of %s)", ErrUnknownProvider, c.Embedder.Provider, strings.Join(embedderProviders, ", "))
	}
	if c.Embedder.Dims < 0 {
		fail("embedder.dims must not be negative")
	}

	vs := c.VectorStore
	switch vs.Provider {
	case "redis":
		if vs.Redis.URL == "" {
			fail("vector_store.redis.url is required")
		}
	case "pgvector":
		if vs.Pgvector.DSN == "" {
			fail("vector_store.pgvector.dsn is required")
		}
		if c.Embedder.Dims <= 0 {
			fail("embedder.dims is required for pgvector")
		}
	case "qdrant":
		if vs.Qdrant.Host == "" {
			fail("vector_store.qdrant.host is required")
		}
		if c.Embedder.Dims <= 0 {
			fail("embedder.dims is required for qdrant")
		}
		if vs.Qdrant.APIKey != "" && !vs.Qdrant.TLS {
			res.Warnings = append(res.Warnings, "qdrant api_key is sent without TLS")
		}
	case "sqlite", "memory":
	default:
		fail("%v: vector_store.provider %q (want one of %s)", ErrUnknownProvider, vs.Provider, strings.Join(storeProviders, ", "))
	}

	return res
}

func oneOf(v string, options []string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}
