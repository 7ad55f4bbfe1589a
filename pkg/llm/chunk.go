package llm

import "encoding/json"

// Chunk is one unit of an adapter's streaming output. The set of chunk kinds
// is closed: only the types in this file implement Chunk, and every consumer
// dispatches through a ChunkVisitor so that a new kind must be handled by all
// consumers before the code compiles.
type Chunk interface {
	// Accept dispatches the chunk to the matching visitor method.
	Accept(v ChunkVisitor)

	// Kind returns the wire-level name of the chunk kind, for logging.
	Kind() string

	isChunk()
}

// ChunkVisitor handles each chunk kind. VisitUnknown is the explicit default
// arm for upstream payloads an adapter recognised as well-formed but could not
// classify.
type ChunkVisitor interface {
	VisitTextDelta(TextDelta)
	VisitToolCall(ToolCall)
	VisitToolResult(ToolResult)
	VisitFinish(Finish)
	VisitError(StreamError)
	VisitUnknown(Unknown)
}

// Chunk kind names.
const (
	KindTextDelta  = "text_delta"
	KindToolCall   = "tool_call"
	KindToolResult = "tool_result"
	KindFinish     = "finish"
	KindError      = "error"
	KindUnknown    = "unknown"
)

// TextDelta is a fragment of assistant text.
type TextDelta struct {
	Text string
}

// ToolCall is a complete tool invocation. Tool calls are atomic: adapters
// assemble incrementally streamed arguments before emitting one ToolCall.
type ToolCall struct {
	ID    string
	Name  string
	Input map[string]any
}

// ToolResult is the output of a tool executed upstream.
type ToolResult struct {
	ToolUseID string
	Name      string
	Output    string
	IsError   bool
}

// Finish terminates a successful stream.
type Finish struct {
	StopReason string
	Usage      Usage
}

// StreamError terminates a stream with a failure.
type StreamError struct {
	Err error
}

// Unknown carries an unclassified upstream payload.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (c TextDelta) Accept(v ChunkVisitor)   { v.VisitTextDelta(c) }
func (c ToolCall) Accept(v ChunkVisitor)    { v.VisitToolCall(c) }
func (c ToolResult) Accept(v ChunkVisitor)  { v.VisitToolResult(c) }
func (c Finish) Accept(v ChunkVisitor)      { v.VisitFinish(c) }
func (c StreamError) Accept(v ChunkVisitor) { v.VisitError(c) }
func (c Unknown) Accept(v ChunkVisitor)     { v.VisitUnknown(c) }

func (TextDelta) Kind() string   { return KindTextDelta }
func (ToolCall) Kind() string    { return KindToolCall }
func (ToolResult) Kind() string  { return KindToolResult }
func (Finish) Kind() string      { return KindFinish }
func (StreamError) Kind() string { return KindError }
func (Unknown) Kind() string     { return KindUnknown }

func (TextDelta) isChunk()   {}
func (ToolCall) isChunk()    {}
func (ToolResult) isChunk()  {}
func (Finish) isChunk()      {}
func (StreamError) isChunk() {}
func (Unknown) isChunk()     {}

// Message returns the error text carried by the chunk.
func (c StreamError) Message() string {
	if c.Err == nil {
		return "upstream stream failed"
	}
	return c.Err.Error()
}
