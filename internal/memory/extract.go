package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/felixgeelhaar/recall/internal/provider"
	"github.com/kaptinlin/jsonrepair"
)

// Extractor distills a conversational turn into standalone facts worth remembering.
type Extractor interface {
	Extract(ctx context.Context, messages []Message) ([]string, error)
}

const factExtractionPrompt = `You are a personal information organizer. Extract the distinct facts, preferences,
plans and personal details worth remembering about the user from the conversation below.
Write each fact as a short standalone sentence. Ignore greetings and small talk.
Answer with JSON only, in the form {"facts": ["fact one", "fact two"]}.
Answer with {"facts": []} when there is nothing worth remembering.`

// LLMExtractor asks a chat model for facts.
type LLMExtractor struct {
	provider provider.Provider
}

func NewLLMExtractor(p provider.Provider) *LLMExtractor {
	return &LLMExtractor{provider: p}
}

func (e *LLMExtractor) Extract(ctx context.Context, messages []Message) ([]string, error) {
	var convo strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&convo, "%s: %s\n", m.Role, m.Content)
	}

	resp, err := e.provider.Chat(ctx, []provider.Message{
		{Role: provider.RoleSystem, Content: factExtractionPrompt},
		{Role: provider.RoleUser, Content: convo.String()},
	})
	if err != nil {
		return nil, fmt.Errorf("fact extraction failed: %w", err)
	}

	return parseFacts(resp.Content)
}

type factsResponse struct {
	Facts []string `json:"facts"`
}

// parseFacts decodes the model answer, repairing malformed JSON before giving up.
func parseFacts(content string) ([]string, error) {
	content = stripCodeFence(content)

	var out factsResponse
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(content)
		if repairErr != nil {
			return nil, fmt.Errorf("failed to parse facts: %w", err)
		}
		if err := json.Unmarshal([]byte(repaired), &out); err != nil {
			return nil, fmt.Errorf("failed to parse repaired facts: %w", err)
		}
	}

	facts := make([]string, 0, len(out.Facts))
	for _, f := range out.Facts {
		if f = strings.TrimSpace(f); f != "" {
			facts = append(facts, f)
		}
	}
	return facts, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// RawExtractor keeps every non-empty message verbatim.
type RawExtractor struct{}

func (RawExtractor) Extract(_ context.Context, messages []Message) ([]string, error) {
	facts := make([]string, 0, len(messages))
	for _, m := range messages {
		if c := strings.TrimSpace(m.Content); c != "" {
			facts = append(facts, c)
		}
	}
	return facts, nil
}
