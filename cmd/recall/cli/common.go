package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/felixgeelhaar/recall/internal/config"
	"github.com/felixgeelhaar/recall/internal/memory"
	"github.com/felixgeelhaar/recall/internal/observe"
	"github.com/felixgeelhaar/recall/internal/provider"
	"github.com/felixgeelhaar/recall/internal/store"
	"github.com/felixgeelhaar/recall/internal/store/chromemstore"
	"github.com/felixgeelhaar/recall/internal/store/pgvector"
	"github.com/felixgeelhaar/recall/internal/store/qdrantstore"
	"github.com/felixgeelhaar/recall/internal/store/redisstore"
	"github.com/spf13/cobra"
)

// app holds the clients a command works with, built once at startup.
type app struct {
	cfg        *config.Config
	obs        *observe.Observer
	local      *store.SQLiteStore
	llm        provider.Provider
	service    *memory.Service
	embedLabel string
}

func (a *app) Close() error {
	var firstErr error
	if a.service != nil {
		if err := a.service.Close(); err != nil {
			firstErr = err
		}
	}
	if a.local != nil {
		if err := a.local.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.obs.Close()
	return firstErr
}

func newObserver() *observe.Observer {
	if jsonLogs {
		return observe.NewJSON(os.Stderr, verbose)
	}
	return observe.New(os.Stderr, verbose)
}

// loadConfig reads the config file and applies the flags the user set.
func loadConfig(cmd *cobra.Command, obs *observe.Observer) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("user") {
		cfg.UserID = userID
	}
	if flags.Changed("provider") {
		cfg.UseLLM(providerType)
	}
	if flags.Changed("model") {
		cfg.LLM.Model = modelName
	}
	if flags.Changed("embedder") {
		cfg.UseEmbedder(embedderType)
	}
	if flags.Changed("store") {
		cfg.VectorStore.Provider = storeType
	}
	if flags.Changed("limit") {
		cfg.SearchLimit = searchLimit
	}
	if flags.Changed("infer") {
		cfg.Infer = infer
	}

	res := cfg.Validate()
	for _, w := range res.Warnings {
		obs.Log().Warn().Msg(w)
	}
	if err := res.Err(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openLocalStore(cfg *config.Config) (*store.SQLiteStore, error) {
	s, err := store.NewSQLiteStore(cfg.LocalDBPath())
	if err != nil {
		return nil, fmt.Errorf("failed to init local store: %w", err)
	}
	return s, nil
}

// setup builds everything a command needs. withLLM also builds the chat
// provider, requires its credential and enables fact extraction.
func setup(ctx context.Context, cmd *cobra.Command, withLLM bool) (*app, error) {
	obs := newObserver()
	a := &app{obs: obs}

	cfg, err := loadConfig(cmd, obs)
	if err != nil {
		return nil, err
	}
	a.cfg = cfg

	a.local, err = openLocalStore(cfg)
	if err != nil {
		return nil, err
	}

	vault, err := newVault(a.local)
	if err != nil {
		a.Close()
		return nil, err
	}

	if withLLM {
		if err := cfg.ResolveCredentials(vault); err != nil {
			a.Close()
			return nil, err
		}
		if a.llm, err = buildLLM(cfg); err != nil {
			a.Close()
			return nil, err
		}
	} else if err := cfg.ResolveEmbedderCredentials(vault); err != nil {
		a.Close()
		return nil, err
	}

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.embedLabel = cfg.Embedder.Provider
	if cfg.Embedder.Model != "" {
		a.embedLabel = cfg.Embedder.Model
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
	defer cancel()
	backend, err := buildBackend(connectCtx, cfg, a.local)
	if err != nil {
		a.Close()
		return nil, err
	}

	opts := []memory.Option{
		memory.WithDimensions(cfg.Embedder.Dims),
		memory.WithObserver(obs),
	}
	if ex := extractorFor(cfg, a.llm); ex != nil {
		opts = append(opts, memory.WithExtractor(ex))
	}
	a.service = memory.NewService(backend, embedder, opts...)

	obs.Log().Info().
		Str("user", cfg.UserID).
		Str("store", cfg.VectorStore.Provider).
		Str("embedder", cfg.Embedder.Provider).
		Msg("clients initialized")
	return a, nil
}

// extractorFor returns the fact extractor for chat turns, or nil to store
// messages raw. The stub model only echoes, so it never extracts.
func extractorFor(cfg *config.Config, llm provider.Provider) memory.Extractor {
	if !cfg.Infer || llm == nil || cfg.LLM.Provider == "stub" {
		return nil
	}
	return memory.NewLLMExtractor(llm)
}

func buildLLM(cfg *config.Config) (provider.Provider, error) {
	c := cfg.LLM
	switch c.Provider {
	case "openai":
		return provider.NewOpenAIProvider(c.APIKey, c.BaseURL, c.Model)
	case "anthropic":
		p, err := provider.NewAnthropicProvider(c.APIKey, c.Model)
		if err != nil {
			return nil, err
		}
		if c.BaseURL != "" {
			p.SetBaseURL(c.BaseURL)
		}
		return p, nil
	case "gemini":
		return provider.NewGeminiProvider(c.APIKey, c.Model)
	case "ollama":
		return provider.NewOllamaProvider(c.BaseURL, c.Model)
	case "cli":
		return provider.NewCLIProvider(c.Command, c.Args)
	case "stub":
		return provider.NewStubProvider(), nil
	default:
		return nil, fmt.Errorf("%w: %s", config.ErrUnknownProvider, c.Provider)
	}
}

func buildEmbedder(cfg *config.Config) (memory.Embedder, error) {
	c := cfg.Embedder
	switch c.Provider {
	case "ollama":
		return provider.NewOllamaProvider(c.URL, c.Model)
	case "openai":
		p, err := provider.NewOpenAIProvider(c.APIKey, c.URL, "")
		if err != nil {
			return nil, err
		}
		p.SetEmbeddingModel(c.Model)
		return p, nil
	case "gemini":
		p, err := provider.NewGeminiProvider(c.APIKey, "")
		if err != nil {
			return nil, err
		}
		p.SetEmbeddingModel(c.Model)
		return p, nil
	case "stub":
		p := provider.NewStubProvider()
		if c.Dims > 0 {
			p.Dims = c.Dims
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: embedder %s", config.ErrUnknownProvider, c.Provider)
	}
}

func buildBackend(ctx context.Context, cfg *config.Config, local *store.SQLiteStore) (memory.Backend, error) {
	vs := cfg.VectorStore
	switch vs.Provider {
	case "redis":
		return redisstore.New(ctx, redisstore.Options{
			URL:      vs.Redis.URL,
			Username: vs.Redis.Username,
			Password: vs.Redis.Password,
			Prefix:   vs.Collection,
		})
	case "pgvector":
		return pgvector.Connect(ctx, vs.Pgvector.DSN, cfg.Embedder.Dims, pgvector.WithTableName(vs.Collection))
	case "qdrant":
		return qdrantstore.New(ctx, qdrantstore.Options{
			Host:       vs.Qdrant.Host,
			Port:       vs.Qdrant.Port,
			APIKey:     vs.Qdrant.APIKey,
			UseTLS:     vs.Qdrant.TLS,
			Collection: vs.Collection,
			Dims:       cfg.Embedder.Dims,
		})
	case "sqlite":
		if cfg.MemoryDBPath() == cfg.LocalDBPath() {
			return sharedBackend{local}, nil
		}
		return store.NewSQLiteStore(cfg.MemoryDBPath())
	case "memory":
		return chromemstore.New(chromemstore.Options{
			Path: vs.Chromem.Path,
			Dims: cfg.Embedder.Dims,
		})
	default:
		return nil, fmt.Errorf("%w: vector store %s", config.ErrUnknownProvider, vs.Provider)
	}
}

// sharedBackend lends the local store to the memory service; the app closes it.
type sharedBackend struct {
	*store.SQLiteStore
}

func (sharedBackend) Close() error { return nil }

// confirmed reports whether an answer to a y/N prompt is a yes.
func confirmed(answer string) bool {
	return strings.EqualFold(strings.TrimSpace(answer), "y")
}
