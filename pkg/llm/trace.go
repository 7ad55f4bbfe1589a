package llm

import (
	"encoding/json"
	"strings"
)

// ToolTrace renders a tool invocation as inline text, as it appears in
// content traces and in requests to models without a tool channel.
func ToolTrace(name string, input map[string]any) string {
	args := "{}"
	if len(input) > 0 {
		if b, err := json.Marshal(input); err == nil {
			args = string(b)
		}
	}
	return "[Tool: " + name + "(" + args + ")]"
}

// ToolResultTrace renders a tool result as inline text.
func ToolResultTrace(output string) string {
	return "[Tool Result: " + output + "]"
}

// InlineText renders a content block as inline text. Text blocks are returned
// unchanged.
func InlineText(b ContentBlock) string {
	switch b.Type {
	case BlockToolUse:
		return ToolTrace(b.Name, b.Input)
	case BlockToolResult:
		return ToolResultTrace(b.Output)
	default:
		return b.Text
	}
}

// FlattenContent joins every block of a message as inline text, one block
// per line.
func FlattenContent(blocks []ContentBlock) string {
	parts := make([]string, 0, len(blocks))
	for _, block := range blocks {
		if text := InlineText(block); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n")
}
