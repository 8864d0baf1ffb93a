// Package config loads recall's settings from recall.yaml, .env and the
// environment, and resolves provider credentials.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var (
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrUnknownProvider   = errors.New("unknown provider")
	ErrMissingCredential = errors.New("missing required credential")
)

// DefaultFile is read from the working directory when no path is given.
const DefaultFile = "recall.yaml"

const (
	DefaultUserID      = "oss-quickstart-user"
	DefaultSearchLimit = 3
	DefaultCallTimeout = 60 * time.Second
	DefaultCollection  = "memories"
)

type Config struct {
	UserID      string        `yaml:"user_id"`
	SearchLimit int           `yaml:"search_limit"`
	Infer       bool          `yaml:"infer"`        // Distill turns into facts with the LLM before storing
	CallTimeout time.Duration `yaml:"call_timeout"` // Per external call
	DataDir     string        `yaml:"data_dir"`     // Local sqlite database and chromem files

	LLM         LLMConfig         `yaml:"llm"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
}

type LLMConfig struct {
	Provider string   `yaml:"provider"` // openai, anthropic, gemini, ollama, cli, stub
	Model    string   `yaml:"model"`
	BaseURL  string   `yaml:"base_url"`
	APIKey   string   `yaml:"api_key"`
	Command  string   `yaml:"command"` // cli provider only
	Args     []string `yaml:"args"`
}

type EmbedderConfig struct {
	Provider string `yaml:"provider"` // ollama, openai, gemini, stub
	Model    string `yaml:"model"`
	URL      string `yaml:"url"`
	APIKey   string `yaml:"api_key"`
	Dims     int    `yaml:"dims"`
}

type VectorStoreConfig struct {
	Provider   string `yaml:"provider"` // redis, pgvector, qdrant, sqlite, memory
	Collection string `yaml:"collection"`

	Redis    RedisConfig    `yaml:"redis"`
	Pgvector PgvectorConfig `yaml:"pgvector"`
	Qdrant   QdrantConfig   `yaml:"qdrant"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Chromem  ChromemConfig  `yaml:"chromem"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type PgvectorConfig struct {
	DSN string `yaml:"dsn"`
}

type QdrantConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
	TLS    bool   `yaml:"tls"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type ChromemConfig struct {
	Path string `yaml:"path"` // Empty keeps memories in process memory
}

// Default mirrors the quickstart setup: Redis for vectors, a local Ollama
// embedder and OpenAI for responses.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		UserID:      DefaultUserID,
		SearchLimit: DefaultSearchLimit,
		Infer:       true,
		CallTimeout: DefaultCallTimeout,
		DataDir:     filepath.Join(home, ".recall"),
		LLM: LLMConfig{
			Provider: "openai",
			Model:    "gpt-5-mini",
		},
		Embedder: EmbedderConfig{
			Provider: "ollama",
			Model:    "all-minilm",
			Dims:     384,
		},
		VectorStore: VectorStoreConfig{
			Provider:   "redis",
			Collection: DefaultCollection,
			Redis: RedisConfig{
				URL:      "redis://localhost:6379",
				Username: os.Getenv("REDIS_USERNAME"),
				Password: os.Getenv("REDIS_PASSWORD"),
			},
			Qdrant: QdrantConfig{
				Host: "localhost",
				Port: 6334,
			},
		},
	}
}

// Load reads .env, then the YAML file at path over the defaults. An empty
// path falls back to DefaultFile when it exists.
func Load(path string) (*Config, error) {
	// A missing .env is normal.
	_ = godotenv.Load()

	cfg := Default()

	if path == "" {
		if _, err := os.Stat(DefaultFile); err != nil {
			return cfg, nil
		}
		path = DefaultFile
	}

	if err := parseFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	data = []byte(os.ExpandEnv(string(data)))

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}
	return nil
}

// LocalDBPath is the sqlite database holding config values and sessions.
func (c *Config) LocalDBPath() string {
	return filepath.Join(c.DataDir, "recall.db")
}

// MemoryDBPath is where the sqlite vector store keeps memories. It shares
// the local database unless configured otherwise.
func (c *Config) MemoryDBPath() string {
	if c.VectorStore.SQLite.Path != "" {
		return c.VectorStore.SQLite.Path
	}
	return c.LocalDBPath()
}

var embedderDefaults = map[string]EmbedderConfig{
	"ollama": {Model: "all-minilm", Dims: 384},
	"openai": {Model: "text-embedding-3-small", Dims: 1536},
	"gemini": {Model: "text-embedding-004", Dims: 768},
	"stub":   {Dims: 64},
}

// UseEmbedder switches the embedder and resets model and dimensions to that
// provider's defaults.
func (c *Config) UseEmbedder(provider string) {
	d := embedderDefaults[provider]
	c.Embedder = EmbedderConfig{
		Provider: provider,
		Model:    d.Model,
		URL:      c.Embedder.URL,
		Dims:     d.Dims,
	}
}

// UseLLM switches the LLM provider; the model falls back to the provider default.
func (c *Config) UseLLM(provider string) {
	if provider == c.LLM.Provider {
		return
	}
	c.LLM.Provider = provider
	c.LLM.Model = ""
	c.LLM.APIKey = ""
	c.LLM.BaseURL = ""
}
