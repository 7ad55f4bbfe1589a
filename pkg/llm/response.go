package llm

import (
	"strings"

	"github.com/google/uuid"
)

// Stop reasons of the canonical format.
const (
	StopEndTurn      = "end_turn"
	StopMaxTokens    = "max_tokens"
	StopSequence     = "stop_sequence"
	StopToolUse      = "tool_use"
	RoleAssistant    = "assistant"
	RoleUser         = "user"
	RoleSystem       = "system"
	messageIDPrefix  = "msg_"
	messageObjectTyp = "message"
)

// MessagesResponse is the canonical non-streaming response body.
type MessagesResponse struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Content      []ContentBlock `json:"content"`
	Model        string         `json:"model"`
	StopReason   string         `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        Usage          `json:"usage"`
}

// Usage contains canonical token counts.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// NewMessageID returns a fresh canonical message id.
func NewMessageID() string {
	return messageIDPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewMessagesResponse returns an assistant response shell with a fresh id.
func NewMessagesResponse(model string) *MessagesResponse {
	return &MessagesResponse{
		ID:      NewMessageID(),
		Type:    messageObjectTyp,
		Role:    RoleAssistant,
		Content: []ContentBlock{},
		Model:   model,
	}
}

// GetText returns the concatenated text of all text blocks in the response.
func (r *MessagesResponse) GetText() string {
	m := Message{Role: r.Role, Content: r.Content}
	return m.GetText()
}

// NormalizeStopReason maps the stop reasons of the supported upstreams onto
// the canonical set. Unknown and empty values become end_turn.
func NormalizeStopReason(reason string) string {
	switch reason {
	case StopEndTurn, StopMaxTokens, StopSequence, StopToolUse:
		return reason
	case "length":
		return StopMaxTokens
	case "tool_calls", "function_call":
		return StopToolUse
	default:
		return StopEndTurn
	}
}
