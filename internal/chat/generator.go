package chat

import (
	"context"
	"strings"

	"github.com/felixgeelhaar/recall/internal/provider"
)

const SystemPrompt = "You are a helpful assistant that remembers previous interactions. Use the provided memory context if relevant."

// ProviderGenerator answers with a chat provider, passing the memory
// context in the system message.
type ProviderGenerator struct {
	Provider provider.Provider
}

func NewProviderGenerator(p provider.Provider) *ProviderGenerator {
	return &ProviderGenerator{Provider: p}
}

func (g *ProviderGenerator) Generate(ctx context.Context, systemContext, userQuery string) (string, error) {
	resp, err := g.Provider.Chat(ctx, []provider.Message{
		{Role: provider.RoleSystem, Content: SystemPrompt + "\n" + systemContext},
		{Role: provider.RoleUser, Content: userQuery},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}
