package llm

import (
	"encoding/json"
	"errors"
	"strings"
)

// Content block types of the canonical format.
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// Message represents a single message in a conversation.
// Content is always held as an ordered list of ContentBlocks; the plain string
// form accepted on the wire decodes into a single text block.
type Message struct {
	Role    string         `json:"role"`    // "system", "user", "assistant"
	Content []ContentBlock `json:"content"` // Array of content blocks
}

// ContentBlock represents a single typed unit within a message or response.
// The Type field determines which other fields are populated.
type ContentBlock struct {
	Type string `json:"type"` // "text", "tool_use", "tool_result"

	// Text content (type="text")
	Text string `json:"text,omitempty"`

	// Tool use (type="tool_use") - assistant requesting tool execution
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// Tool result (type="tool_result") - result from tool execution
	ToolUseID string `json:"tool_use_id,omitempty"`
	Output    string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// NewTextMessage creates a simple text message with the given role and content.
func NewTextMessage(role, text string) Message {
	return Message{
		Role: role,
		Content: []ContentBlock{
			{Type: BlockText, Text: text},
		},
	}
}

// GetText returns the concatenated text content from all text blocks in the message.
func (m *Message) GetText() string {
	var b strings.Builder
	for _, block := range m.Content {
		if block.Type == BlockText {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

// UnmarshalJSON accepts content as either a plain string or an array of blocks.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	m.Role = raw.Role
	m.Content = nil

	blocks, err := decodeContent(raw.Content)
	if err != nil {
		return err
	}
	m.Content = blocks
	return nil
}

// MarshalJSON always emits the type discriminator plus the fields the block
// type requires, so empty text deltas and empty tool inputs survive.
func (b ContentBlock) MarshalJSON() ([]byte, error) {
	switch b.Type {
	case BlockText:
		return json.Marshal(struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}{b.Type, b.Text})
	case BlockToolUse:
		input := b.Input
		if input == nil {
			input = map[string]any{}
		}
		return json.Marshal(struct {
			Type  string         `json:"type"`
			ID    string         `json:"id"`
			Name  string         `json:"name"`
			Input map[string]any `json:"input"`
		}{b.Type, b.ID, b.Name, input})
	case BlockToolResult:
		return json.Marshal(struct {
			Type      string `json:"type"`
			ToolUseID string `json:"tool_use_id"`
			Content   string `json:"content"`
			IsError   bool   `json:"is_error,omitempty"`
		}{b.Type, b.ToolUseID, b.Output, b.IsError})
	default:
		type plain ContentBlock
		return json.Marshal(plain(b))
	}
}

// UnmarshalJSON decodes a block, accepting tool_result content as either a
// string or a list of text blocks.
func (b *ContentBlock) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type      string          `json:"type"`
		Text      string          `json:"text"`
		ID        string          `json:"id"`
		Name      string          `json:"name"`
		Input     map[string]any  `json:"input"`
		ToolUseID string          `json:"tool_use_id"`
		Content   json.RawMessage `json:"content"`
		IsError   bool            `json:"is_error"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*b = ContentBlock{
		Type:      raw.Type,
		Text:      raw.Text,
		ID:        raw.ID,
		Name:      raw.Name,
		Input:     raw.Input,
		ToolUseID: raw.ToolUseID,
		IsError:   raw.IsError,
	}

	if len(raw.Content) == 0 {
		return nil
	}

	nested, err := decodeContent(raw.Content)
	if err != nil {
		return err
	}
	var out strings.Builder
	for _, n := range nested {
		out.WriteString(n.Text)
	}
	b.Output = out.String()
	return nil
}

// decodeContent decodes the string-or-blocks union used by message content,
// tool results and the system prompt.
func decodeContent(data json.RawMessage) ([]ContentBlock, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}

	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return []ContentBlock{{Type: BlockText, Text: s}}, nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var blocks []ContentBlock
		if err := json.Unmarshal(data, &blocks); err != nil {
			return nil, err
		}
		return blocks, nil
	}

	return nil, errors.New("content must be a string or an array of content blocks")
}
