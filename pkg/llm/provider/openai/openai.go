// Package openai is the adapter for OpenAI-compatible Chat Completions APIs.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"sort"
	"strings"

	"github.com/papercomputeco/switchboard/pkg/credentials"
	"github.com/papercomputeco/switchboard/pkg/llm"
	"github.com/papercomputeco/switchboard/pkg/llm/provider/upstream"
	"github.com/papercomputeco/switchboard/pkg/sse"
)

const (
	completionsPath = "/v1/chat/completions"

	doneMarker = "[DONE]"
)

// Adapter implements provider.Adapter for Chat Completions.
type Adapter struct {
	cfg    *credentials.ProviderConfig
	cred   upstream.Credential
	client *upstream.Client
}

// New creates an Adapter.
func New(cfg upstream.Config) *Adapter {
	return &Adapter{
		cfg:    cfg.Provider,
		cred:   cfg.Credential,
		client: upstream.NewClient(cfg),
	}
}

func (a *Adapter) Name() string {
	return a.cfg.ID
}

func (a *Adapter) NativeTools() bool {
	return a.cfg.NativeTools
}

func (a *Adapter) headers() http.Header {
	h := http.Header{}
	if a.cred.Kind != upstream.CredentialNone && a.cred.Value != "" {
		h.Set("Authorization", "Bearer "+a.cred.Value)
	}
	return h
}

func strPtr(s string) *string {
	return &s
}

// convertMessages flattens canonical messages into OpenAI's shape. Tool
// results become role "tool" messages ahead of any text in the same turn.
func convertMessages(system string, msgs []llm.Message) []chatMessage {
	out := make([]chatMessage, 0, len(msgs)+1)
	if system != "" {
		out = append(out, chatMessage{Role: llm.RoleSystem, Content: strPtr(system)})
	}

	for _, m := range msgs {
		var (
			text  strings.Builder
			calls []chatToolCall
		)

		for _, b := range m.Content {
			switch b.Type {
			case llm.BlockText:
				text.WriteString(b.Text)
			case llm.BlockToolUse:
				calls = append(calls, chatToolCall{
					ID:       b.ID,
					Type:     "function",
					Function: chatFunction{Name: b.Name, Arguments: upstream.EncodeInput(b.Input)},
				})
			case llm.BlockToolResult:
				out = append(out, chatMessage{
					Role:       "tool",
					Content:    strPtr(b.Output),
					ToolCallID: b.ToolUseID,
				})
			}
		}

		if text.Len() == 0 && len(calls) == 0 {
			continue
		}

		msg := chatMessage{Role: m.Role, ToolCalls: calls}
		if text.Len() > 0 || len(calls) == 0 {
			msg.Content = strPtr(text.String())
		}
		out = append(out, msg)
	}

	return out
}

func (a *Adapter) buildRequest(req *llm.ChatRequest, stream bool) *chatRequest {
	out := &chatRequest{
		Model:       a.cfg.VendorModel(req.Model),
		Messages:    convertMessages(req.System, req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
		Stream:      stream,
	}
	if stream {
		out.StreamOptions = &streamOptions{IncludeUsage: true}
	}

	if a.cfg.NativeTools {
		for _, t := range req.Tools {
			var params any = map[string]any{"type": "object", "properties": map[string]any{}}
			if len(t.InputSchema) > 0 {
				params = t.InputSchema
			}
			out.Tools = append(out.Tools, chatTool{
				Type: "function",
				Function: toolFunction{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  params,
				},
			})
		}
	}

	return out
}

// Complete performs a non-streaming chat completion.
func (a *Adapter) Complete(ctx context.Context, req *llm.ChatRequest) (*llm.MessagesResponse, error) {
	resp, err := a.client.Post(ctx, completionsPath, a.buildRequest(req, false), a.headers())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, a.client.Wrap(err)
	}
	if len(cr.Choices) == 0 {
		return nil, upstream.Protocolf(a.cfg.ID, "response has no choices")
	}

	out := llm.NewMessagesResponse(a.cfg.CanonicalModel(cr.Model))
	if out.Model == "" {
		out.Model = req.Model
	}

	choice := cr.Choices[0]
	if choice.Message.Content != nil && *choice.Message.Content != "" {
		out.Content = append(out.Content, llm.ContentBlock{Type: llm.BlockText, Text: *choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		input, err := upstream.DecodeInput(tc.Function.Arguments)
		if err != nil {
			return nil, upstream.Protocolf(a.cfg.ID, "tool %q arguments: %v", tc.Function.Name, err)
		}
		out.Content = append(out.Content, llm.ContentBlock{
			Type:  llm.BlockToolUse,
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: input,
		})
	}

	out.StopReason = llm.NormalizeStopReason(choice.FinishReason)
	if cr.Usage != nil {
		out.Usage = llm.Usage{
			InputTokens:  cr.Usage.PromptTokens,
			OutputTokens: cr.Usage.CompletionTokens,
		}
	}

	return out, nil
}

// Stream performs a streaming chat completion.
func (a *Adapter) Stream(ctx context.Context, req *llm.ChatRequest) iter.Seq[llm.Chunk] {
	return func(yield func(llm.Chunk) bool) {
		resp, err := a.client.Post(ctx, completionsPath, a.buildRequest(req, true), a.headers())
		if err != nil {
			yield(llm.StreamError{Err: err})
			return
		}
		defer resp.Body.Close()

		st := &streamState{
			provider: a.cfg.ID,
			calls:    make(map[int]*pendingCall),
		}
		reader := sse.NewReader(resp.Body)

		for {
			ev, err := reader.Next()
			if err != nil {
				yield(llm.StreamError{Err: a.client.Wrap(err)})
				return
			}
			if ev == nil {
				// Some compatible servers close without [DONE] once a finish
				// reason has been sent.
				if st.finishReason != "" {
					for _, c := range st.complete() {
						if !yield(c) {
							return
						}
					}
					return
				}
				yield(llm.StreamError{Err: upstream.Protocolf(a.cfg.ID, "stream ended before [DONE]")})
				return
			}

			chunks, done := st.handle(ev)
			for _, c := range chunks {
				if !yield(c) {
					return
				}
			}
			if done {
				return
			}
		}
	}
}

// pendingCall accumulates one streamed tool call by choice index.
type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

type streamState struct {
	provider     string
	calls        map[int]*pendingCall
	finishReason string
	usage        llm.Usage
}

func (s *streamState) handle(ev *sse.Event) ([]llm.Chunk, bool) {
	data := strings.TrimSpace(ev.Data)
	if data == "" {
		return nil, false
	}

	if data == doneMarker {
		return s.complete(), true
	}

	var sc streamChunk
	if err := json.Unmarshal([]byte(data), &sc); err != nil {
		return []llm.Chunk{llm.StreamError{Err: upstream.Protocolf(s.provider, "decoding chunk: %v", err)}}, true
	}

	if sc.Error != nil {
		err := &upstream.Error{Provider: s.provider, Err: errors.New(sc.Error.Message)}
		return []llm.Chunk{llm.StreamError{Err: err}}, true
	}

	if sc.Usage != nil {
		s.usage = llm.Usage{
			InputTokens:  sc.Usage.PromptTokens,
			OutputTokens: sc.Usage.CompletionTokens,
		}
	}

	var chunks []llm.Chunk
	for _, choice := range sc.Choices {
		if choice.Index != 0 {
			continue
		}

		if choice.Delta.Content != nil && *choice.Delta.Content != "" {
			chunks = append(chunks, llm.TextDelta{Text: *choice.Delta.Content})
		}

		for i, tc := range choice.Delta.ToolCalls {
			idx := i
			if tc.Index != nil {
				idx = *tc.Index
			}
			call, ok := s.calls[idx]
			if !ok {
				call = &pendingCall{}
				s.calls[idx] = call
			}
			if tc.ID != "" {
				call.id = tc.ID
			}
			if tc.Function.Name != "" {
				call.name = tc.Function.Name
			}
			call.args.WriteString(tc.Function.Arguments)
		}

		if choice.FinishReason != "" {
			s.finishReason = choice.FinishReason
			calls, err := s.flush()
			chunks = append(chunks, calls...)
			if err != nil {
				return append(chunks, llm.StreamError{Err: err}), true
			}
		}
	}

	return chunks, false
}

// flush emits every accumulated tool call in index order.
func (s *streamState) flush() ([]llm.Chunk, error) {
	if len(s.calls) == 0 {
		return nil, nil
	}

	indexes := make([]int, 0, len(s.calls))
	for idx := range s.calls {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	chunks := make([]llm.Chunk, 0, len(indexes))
	for _, idx := range indexes {
		call := s.calls[idx]
		input, err := upstream.DecodeInput(call.args.String())
		if err != nil {
			return chunks, upstream.Protocolf(s.provider, "tool %q arguments: %v", call.name, err)
		}
		chunks = append(chunks, llm.ToolCall{ID: call.id, Name: call.name, Input: input})
	}
	s.calls = make(map[int]*pendingCall)

	return chunks, nil
}

// complete flushes pending tool calls and terminates the stream.
func (s *streamState) complete() []llm.Chunk {
	chunks, err := s.flush()
	if err != nil {
		return append(chunks, llm.StreamError{Err: err})
	}
	return append(chunks, llm.Finish{StopReason: llm.NormalizeStopReason(s.finishReason), Usage: s.usage})
}
