// Package translate turns an adapter's chunk sequence into the canonical SSE
// event grammar while accumulating the response for persistence.
package translate

import (
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/papercomputeco/switchboard/pkg/llm"
)

// ErrIncompleteStream is reported when the chunk sequence ends without a
// finish or error chunk.
var ErrIncompleteStream = errors.New("upstream stream ended without a terminal chunk")

// State is the translator's position in the event grammar.
type State int

const (
	StateNotStarted State = iota
	StateTextOpen
	StateBlockClosed
	StateFinished
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateTextOpen:
		return "text_open"
	case StateBlockClosed:
		return "block_closed"
	case StateFinished:
		return "finished"
	case StateErrored:
		return "errored"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further events may be emitted.
func (s State) Terminal() bool {
	return s == StateFinished || s == StateErrored
}

// Sink receives canonical events in order. A Send error means the client can
// no longer be written to.
type Sink interface {
	Send(ev llm.StreamEvent) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev llm.StreamEvent) error

func (f SinkFunc) Send(ev llm.StreamEvent) error {
	return f(ev)
}

// Outcome is the accumulated result of one translated stream.
type Outcome struct {
	// Response is the assembled canonical response. It is nil when the
	// stream errored.
	Response *llm.MessagesResponse

	// Trace is the accumulated text with inline tool markup, partial when
	// the stream errored.
	Trace string

	StopReason string
	Usage      llm.Usage

	// Err is the upstream or write failure that ended the stream.
	Err error

	// WriteFailed reports that Err came from the sink.
	WriteFailed bool
}

// Translator is the per-request state machine. It is not safe for concurrent
// use; one goroutine pulls the chunk sequence and drives the sink.
type Translator struct {
	id    string
	model string
	sink  Sink

	state     State
	nextIndex int
	textIndex int

	text   strings.Builder
	trace  strings.Builder
	blocks []indexedBlock

	stopReason string
	usage      llm.Usage
	err        error
	writeErr   bool
}

type indexedBlock struct {
	index int
	block llm.ContentBlock
}

var _ llm.ChunkVisitor = (*Translator)(nil)

// New creates a Translator for a response with the given message id and
// canonical model name.
func New(id, model string, sink Sink) *Translator {
	if id == "" {
		id = llm.NewMessageID()
	}
	return &Translator{
		id:        id,
		model:     model,
		sink:      sink,
		textIndex: -1,
	}
}

// State returns the current state.
func (t *Translator) State() State {
	return t.state
}

// Run pulls every chunk from seq and returns the outcome. It stops pulling as
// soon as a terminal event has been emitted, which ends the upstream read.
func (t *Translator) Run(seq iter.Seq[llm.Chunk]) Outcome {
	for chunk := range seq {
		chunk.Accept(t)
		if t.state.Terminal() {
			break
		}
	}

	if !t.state.Terminal() {
		t.fail(ErrIncompleteStream)
	}

	return t.Outcome()
}

// Outcome returns the accumulated result so far.
func (t *Translator) Outcome() Outcome {
	out := Outcome{
		Trace:       t.trace.String(),
		StopReason:  t.stopReason,
		Usage:       t.usage,
		Err:         t.err,
		WriteFailed: t.writeErr,
	}
	if t.state == StateFinished {
		out.Response = t.response()
	}
	return out
}

func (t *Translator) response() *llm.MessagesResponse {
	resp := &llm.MessagesResponse{
		ID:         t.id,
		Type:       "message",
		Role:       llm.RoleAssistant,
		Content:    make([]llm.ContentBlock, 0, len(t.blocks)+1),
		Model:      t.model,
		StopReason: t.stopReason,
		Usage:      t.usage,
	}

	// Blocks are reassembled in index order; the text block sits wherever
	// it was opened.
	textDone := t.textIndex < 0
	for _, b := range t.blocks {
		if !textDone && t.textIndex < b.index {
			resp.Content = append(resp.Content, llm.ContentBlock{Type: llm.BlockText, Text: t.text.String()})
			textDone = true
		}
		resp.Content = append(resp.Content, b.block)
	}
	if !textDone {
		resp.Content = append(resp.Content, llm.ContentBlock{Type: llm.BlockText, Text: t.text.String()})
	}

	return resp
}

// emit sends ev unless the stream is already terminal. A send failure moves
// the translator to Errored without emitting anything further.
func (t *Translator) emit(ev llm.StreamEvent) bool {
	if t.state.Terminal() {
		return false
	}
	if err := t.sink.Send(ev); err != nil {
		t.state = StateErrored
		t.err = fmt.Errorf("writing %s event: %w", ev.EventName(), err)
		t.writeErr = true
		return false
	}
	return true
}

// start emits message_start exactly once.
func (t *Translator) start() bool {
	if t.state != StateNotStarted {
		return !t.state.Terminal()
	}
	if !t.emit(llm.NewMessageStart(t.id, t.model)) {
		return false
	}
	t.state = StateBlockClosed
	return true
}

func (t *Translator) claimIndex() int {
	idx := t.nextIndex
	t.nextIndex++
	return idx
}

func (t *Translator) VisitTextDelta(c llm.TextDelta) {
	if !t.start() {
		return
	}

	if t.textIndex < 0 {
		idx := t.claimIndex()
		if !t.emit(llm.NewTextBlockStart(idx)) {
			return
		}
		t.textIndex = idx
		t.state = StateTextOpen
	}

	if c.Text == "" {
		return
	}
	if !t.emit(llm.NewTextDelta(t.textIndex, c.Text)) {
		return
	}
	t.text.WriteString(c.Text)
	t.trace.WriteString(c.Text)
}

func (t *Translator) VisitToolCall(c llm.ToolCall) {
	if !t.start() {
		return
	}

	input := c.Input
	if input == nil {
		input = map[string]any{}
	}
	call := llm.ToolCall{ID: c.ID, Name: c.Name, Input: input}

	idx := t.claimIndex()
	if !t.emit(llm.NewToolUseBlockStart(idx, call)) {
		return
	}
	if !t.emit(llm.NewBlockStop(idx)) {
		return
	}

	t.blocks = append(t.blocks, indexedBlock{
		index: idx,
		block: llm.ContentBlock{Type: llm.BlockToolUse, ID: call.ID, Name: call.Name, Input: input},
	})
	t.trace.WriteString(llm.ToolTrace(call.Name, input))

	// An open text block stays open across tool blocks.
	if t.textIndex < 0 {
		t.state = StateBlockClosed
	}
}

func (t *Translator) VisitToolResult(c llm.ToolResult) {
	if !t.start() {
		return
	}
	t.trace.WriteString(llm.ToolResultTrace(c.Output))
}

func (t *Translator) VisitFinish(c llm.Finish) {
	if !t.start() {
		return
	}

	if t.state == StateTextOpen {
		if !t.emit(llm.NewBlockStop(t.textIndex)) {
			return
		}
		t.state = StateBlockClosed
	}

	t.stopReason = c.StopReason
	if t.stopReason == "" {
		t.stopReason = llm.StopEndTurn
	}
	t.usage = c.Usage

	if !t.emit(llm.NewMessageDelta(t.stopReason, t.usage)) {
		return
	}
	if !t.emit(llm.NewMessageStop()) {
		return
	}
	t.state = StateFinished
}

func (t *Translator) VisitError(c llm.StreamError) {
	err := c.Err
	if err == nil {
		err = errors.New(c.Message())
	}
	t.fail(err)
}

// VisitUnknown ignores payloads the adapter could not classify.
func (t *Translator) VisitUnknown(llm.Unknown) {}

// fail emits message_start if needed, then a single error event. A write
// failure on the way keeps err alongside the write error.
func (t *Translator) fail(err error) {
	if t.state.Terminal() {
		return
	}
	if !t.start() || !t.emit(llm.NewErrorEvent(llm.ErrorTypeAPI, err.Error())) {
		t.err = errors.Join(err, t.err)
		return
	}
	t.state = StateErrored
	t.err = err
}
