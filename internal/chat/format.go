package chat

import (
	"encoding/json"
	"strings"

	"github.com/felixgeelhaar/recall/internal/memory"
)

const (
	NoContext     = "No relevant memories found for this context."
	ContextHeader = "Context from previous interactions:"
	NoMemories    = "No memories found."
	placeholder   = "N/A"
)

// FormatContext renders search results for the system prompt, keeping the
// order they were returned in.
func FormatContext(items []memory.Item) string {
	if len(items) == 0 {
		return NoContext
	}
	lines := make([]string, 0, len(items)+1)
	lines = append(lines, ContextHeader)
	for _, it := range items {
		text := it.Memory
		if text == "" {
			text = placeholder
		}
		lines = append(lines, "- "+text)
	}
	return strings.Join(lines, "\n")
}

// Overview renders memories for the `list` command.
func Overview(items []memory.Item) string {
	if len(items) == 0 {
		return NoMemories
	}
	blocks := make([]string, 0, len(items))
	for _, it := range items {
		blocks = append(blocks, it.Memory+"\n  Timestamp: "+it.UpdatedAt.Format("2006-01-02T15:04:05.000Z07:00")+"\n")
	}
	return strings.Join(blocks, "\n")
}

// Inspect renders memories verbatim as indented JSON for the `inspect` command.
func Inspect(items []memory.Item) string {
	if items == nil {
		items = []memory.Item{}
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(data)
}
