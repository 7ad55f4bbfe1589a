package llm

import (
	"encoding/json"
	"strings"
)

// MessagesRequest is the canonical request accepted on POST /v1/messages.
type MessagesRequest struct {
	Model         string         `json:"model"`
	Messages      []Message      `json:"messages"`
	System        SystemPrompt   `json:"system,omitempty"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	Temperature   *float64       `json:"temperature,omitempty"`
	TopP          *float64       `json:"top_p,omitempty"`
	TopK          *int           `json:"top_k,omitempty"`
	StopSequences []string       `json:"stop_sequences,omitempty"`
	Tools         []Tool         `json:"tools,omitempty"`
	Stream        bool           `json:"stream,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Tool is a tool declaration offered to the model.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// SystemPrompt is the canonical system prompt. On the wire it is either a
// string or an array of text blocks; both decode to the joined text.
type SystemPrompt string

// UnmarshalJSON accepts the string-or-blocks union.
func (s *SystemPrompt) UnmarshalJSON(data []byte) error {
	blocks, err := decodeContent(data)
	if err != nil {
		return err
	}

	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b.Type == BlockText && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	*s = SystemPrompt(strings.Join(parts, "\n\n"))
	return nil
}

// ChatRequest represents the adapter-neutral internal request produced by the
// normalizer. Adapters translate it into their upstream wire format.
type ChatRequest struct {
	// Model is the resolved model name (a canonical alias or a vendor id;
	// adapters apply their own alias mapping).
	Model string `json:"model"`

	// Conversation messages with roles "user" and "assistant" only.
	Messages []Message `json:"messages"`

	// System prompt, with any system-role messages folded in.
	System string `json:"system,omitempty"`

	// Generation parameters
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
	Stop        []string `json:"stop,omitempty"`

	// Tools declared by the caller. Empty when the target adapter has no
	// native tool channel.
	Tools []Tool `json:"tools,omitempty"`

	// Whether to stream the response
	Stream bool `json:"stream,omitempty"`
}
