package llm

// Canonical SSE event names.
const (
	EventMessageStart      = "message_start"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
	EventError             = "error"
)

// StreamEvent is one canonical SSE event. EventName is written on the
// "event:" line and the value itself is the JSON "data:" payload.
type StreamEvent interface {
	EventName() string
}

// MessageStartEvent opens a streamed response.
type MessageStartEvent struct {
	Type    string       `json:"type"`
	Message StartMessage `json:"message"`
}

// StartMessage is the response shell carried by message_start. Stop fields
// are always null at this point in the stream.
type StartMessage struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Content      []ContentBlock `json:"content"`
	Model        string         `json:"model"`
	StopReason   *string        `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        Usage          `json:"usage"`
}

// ContentBlockStartEvent opens the block at Index.
type ContentBlockStartEvent struct {
	Type         string       `json:"type"`
	Index        int          `json:"index"`
	ContentBlock ContentBlock `json:"content_block"`
}

// ContentBlockDeltaEvent appends to the block at Index.
type ContentBlockDeltaEvent struct {
	Type  string    `json:"type"`
	Index int       `json:"index"`
	Delta TextPatch `json:"delta"`
}

// TextPatch is the text_delta payload.
type TextPatch struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ContentBlockStopEvent closes the block at Index.
type ContentBlockStopEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

// MessageDeltaEvent carries the stop reason and final usage.
type MessageDeltaEvent struct {
	Type  string       `json:"type"`
	Delta MessageDelta `json:"delta"`
	Usage Usage        `json:"usage"`
}

// MessageDelta is the top-level response change carried by message_delta.
type MessageDelta struct {
	StopReason   string  `json:"stop_reason"`
	StopSequence *string `json:"stop_sequence"`
}

// MessageStopEvent closes a streamed response.
type MessageStopEvent struct {
	Type string `json:"type"`
}

// ErrorEvent terminates a streamed response with a failure.
type ErrorEvent struct {
	Type  string      `json:"type"`
	Error ErrorDetail `json:"error"`
}

func (MessageStartEvent) EventName() string      { return EventMessageStart }
func (ContentBlockStartEvent) EventName() string { return EventContentBlockStart }
func (ContentBlockDeltaEvent) EventName() string { return EventContentBlockDelta }
func (ContentBlockStopEvent) EventName() string  { return EventContentBlockStop }
func (MessageDeltaEvent) EventName() string      { return EventMessageDelta }
func (MessageStopEvent) EventName() string       { return EventMessageStop }
func (ErrorEvent) EventName() string             { return EventError }

// NewMessageStart returns a message_start with empty content and zero usage.
func NewMessageStart(id, model string) MessageStartEvent {
	return MessageStartEvent{
		Type: EventMessageStart,
		Message: StartMessage{
			ID:      id,
			Type:    messageObjectTyp,
			Role:    RoleAssistant,
			Content: []ContentBlock{},
			Model:   model,
		},
	}
}

// NewTextBlockStart opens an empty text block.
func NewTextBlockStart(index int) ContentBlockStartEvent {
	return ContentBlockStartEvent{
		Type:         EventContentBlockStart,
		Index:        index,
		ContentBlock: ContentBlock{Type: BlockText},
	}
}

// NewToolUseBlockStart opens a tool_use block carrying the complete input.
func NewToolUseBlockStart(index int, call ToolCall) ContentBlockStartEvent {
	return ContentBlockStartEvent{
		Type:  EventContentBlockStart,
		Index: index,
		ContentBlock: ContentBlock{
			Type:  BlockToolUse,
			ID:    call.ID,
			Name:  call.Name,
			Input: call.Input,
		},
	}
}

// NewTextDelta appends text to the block at index.
func NewTextDelta(index int, text string) ContentBlockDeltaEvent {
	return ContentBlockDeltaEvent{
		Type:  EventContentBlockDelta,
		Index: index,
		Delta: TextPatch{Type: KindTextDelta, Text: text},
	}
}

// NewBlockStop closes the block at index.
func NewBlockStop(index int) ContentBlockStopEvent {
	return ContentBlockStopEvent{Type: EventContentBlockStop, Index: index}
}

// NewMessageDelta carries the final stop reason and usage.
func NewMessageDelta(stopReason string, usage Usage) MessageDeltaEvent {
	return MessageDeltaEvent{
		Type:  EventMessageDelta,
		Delta: MessageDelta{StopReason: stopReason},
		Usage: usage,
	}
}

// NewMessageStop closes the response.
func NewMessageStop() MessageStopEvent {
	return MessageStopEvent{Type: EventMessageStop}
}

// NewErrorEvent reports a failure mid-stream.
func NewErrorEvent(errType, message string) ErrorEvent {
	return ErrorEvent{
		Type:  EventError,
		Error: ErrorDetail{Type: errType, Message: message},
	}
}
