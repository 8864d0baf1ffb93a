package config

import (
	"fmt"
	"os"
)

// SecretSource returns stored plaintext for a config entry such as
// "openai.api_key", or "" when unset. credential.Vault satisfies it.
type SecretSource interface {
	Get(name string) (string, error)
}

var apiKeyEnv = map[string]string{
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
	"gemini":    "GEMINI_API_KEY",
}

// ResolveCredentials fills LLM and embedder API keys. Precedence: the
// config file, the environment, then the local config table.
func (c *Config) ResolveCredentials(src SecretSource) error {
	key, err := lookupKey(c.LLM.Provider, c.LLM.APIKey, src)
	if err != nil {
		return fmt.Errorf("llm provider %s: %w", c.LLM.Provider, err)
	}
	c.LLM.APIKey = key
	return c.ResolveEmbedderCredentials(src)
}

// ResolveEmbedderCredentials fills only the embedder key, for commands that
// never talk to the chat model.
func (c *Config) ResolveEmbedderCredentials(src SecretSource) error {
	key, err := lookupKey(c.Embedder.Provider, c.Embedder.APIKey, src)
	if err != nil {
		return fmt.Errorf("embedder %s: %w", c.Embedder.Provider, err)
	}
	c.Embedder.APIKey = key
	return nil
}

func lookupKey(provider, configured string, src SecretSource) (string, error) {
	envName, ok := apiKeyEnv[provider]
	if !ok || configured != "" {
		return configured, nil
	}
	if v := os.Getenv(envName); v != "" {
		return v, nil
	}
	if src != nil {
		stored, err := src.Get(provider + ".api_key")
		if err != nil {
			return "", fmt.Errorf("failed to read stored key: %w", err)
		}
		if stored != "" {
			return stored, nil
		}
	}
	return "", fmt.Errorf("%w: set %s or run `recall config set %s.api_key <key>`", ErrMissingCredential, envName, provider)
}
