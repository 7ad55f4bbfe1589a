package anthropic

import (
	"encoding/json"

	"github.com/papercomputeco/switchboard/pkg/llm"
)

// messagesRequest is the Messages API request body. The canonical message
// and tool shapes are already Anthropic's.
type messagesRequest struct {
	Model         string        `json:"model"`
	Messages      []llm.Message `json:"messages"`
	System        string        `json:"system,omitempty"`
	MaxTokens     int           `json:"max_tokens"`
	Temperature   *float64      `json:"temperature,omitempty"`
	TopP          *float64      `json:"top_p,omitempty"`
	TopK          *int          `json:"top_k,omitempty"`
	StopSequences []string      `json:"stop_sequences,omitempty"`
	Tools         []llm.Tool    `json:"tools,omitempty"`
	Stream        bool          `json:"stream,omitempty"`
}

// streamEvent is the envelope shared by every Messages API stream event.
type streamEvent struct {
	Type         string          `json:"type"`
	Index        int             `json:"index"`
	Message      *streamMessage  `json:"message,omitempty"`
	ContentBlock *contentBlock   `json:"content_block,omitempty"`
	Delta        json.RawMessage `json:"delta,omitempty"`
	Usage        *usage          `json:"usage,omitempty"`
	Error        *apiError       `json:"error,omitempty"`
}

type streamMessage struct {
	ID    string `json:"id"`
	Model string `json:"model"`
	Usage usage  `json:"usage"`
}

type contentBlock struct {
	Type  string         `json:"type"`
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
}

// blockDelta covers content_block_delta payloads.
type blockDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}

// messageDelta covers message_delta payloads.
type messageDelta struct {
	StopReason string `json:"stop_reason"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
