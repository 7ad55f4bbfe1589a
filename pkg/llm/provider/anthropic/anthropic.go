// Package anthropic is the adapter for the Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"strings"

	"github.com/papercomputeco/switchboard/pkg/credentials"
	"github.com/papercomputeco/switchboard/pkg/llm"
	"github.com/papercomputeco/switchboard/pkg/llm/provider/upstream"
	"github.com/papercomputeco/switchboard/pkg/sse"
)

const (
	messagesPath = "/v1/messages"

	apiVersion = "2023-06-01"

	// oauthBeta must accompany bearer tokens issued by the OAuth flow.
	oauthBeta = "oauth-2025-04-20"

	defaultMaxTokens = 4096
)

var emptySchema = json.RawMessage(`{"type":"object","properties":{}}`)

// Adapter implements provider.Adapter for the Messages API.
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
	h.Set("anthropic-version", apiVersion)

	switch a.cred.Kind {
	case upstream.CredentialAPIKey:
		h.Set("x-api-key", a.cred.Value)
	case upstream.CredentialBearer:
		h.Set("Authorization", "Bearer "+a.cred.Value)
		h.Set("anthropic-beta", oauthBeta)
	}
	return h
}

func (a *Adapter) buildRequest(req *llm.ChatRequest, stream bool) *messagesRequest {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	var tools []llm.Tool
	if a.cfg.NativeTools {
		tools = make([]llm.Tool, 0, len(req.Tools))
		for _, t := range req.Tools {
			if len(t.InputSchema) == 0 {
				t.InputSchema = emptySchema
			}
			tools = append(tools, t)
		}
	}

	return &messagesRequest{
		Model:         a.cfg.VendorModel(req.Model),
		Messages:      req.Messages,
		System:        req.System,
		MaxTokens:     maxTokens,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		TopK:          req.TopK,
		StopSequences: req.Stop,
		Tools:         tools,
		Stream:        stream,
	}
}

// Complete performs a non-streaming Messages API call.
func (a *Adapter) Complete(ctx context.Context, req *llm.ChatRequest) (*llm.MessagesResponse, error) {
	resp, err := a.client.Post(ctx, messagesPath, a.buildRequest(req, false), a.headers())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out llm.MessagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, a.client.Wrap(err)
	}

	if out.ID == "" {
		out.ID = llm.NewMessageID()
	}
	if out.Content == nil {
		out.Content = []llm.ContentBlock{}
	}
	out.Type = "message"
	out.Role = llm.RoleAssistant
	out.Model = a.cfg.CanonicalModel(out.Model)
	out.StopReason = llm.NormalizeStopReason(out.StopReason)

	return &out, nil
}

// Stream performs a streaming Messages API call.
func (a *Adapter) Stream(ctx context.Context, req *llm.ChatRequest) iter.Seq[llm.Chunk] {
	return func(yield func(llm.Chunk) bool) {
		resp, err := a.client.Post(ctx, messagesPath, a.buildRequest(req, true), a.headers())
		if err != nil {
			yield(llm.StreamError{Err: err})
			return
		}
		defer resp.Body.Close()

		st := &streamState{
			provider: a.cfg.ID,
			tools:    make(map[int]*pendingTool),
		}
		reader := sse.NewReader(resp.Body)

		for {
			ev, err := reader.Next()
			if err != nil {
				yield(llm.StreamError{Err: a.client.Wrap(err)})
				return
			}
			if ev == nil {
				yield(llm.StreamError{Err: upstream.Protocolf(a.cfg.ID, "stream ended before message_stop")})
				return
			}

			chunk, done := st.handle(ev)
			if chunk != nil && !yield(chunk) {
				return
			}
			if done {
				return
			}
		}
	}
}

// pendingTool is a tool_use block whose input is still streaming.
type pendingTool struct {
	id    string
	name  string
	input strings.Builder
	seed  map[string]any
}

// streamState folds Messages API events into chunks.
type streamState struct {
	provider   string
	tools      map[int]*pendingTool
	stopReason string
	usage      llm.Usage
}

// handle returns the chunk for ev, if any, and whether the stream is over.
func (s *streamState) handle(ev *sse.Event) (llm.Chunk, bool) {
	if ev.Type == "ping" || strings.TrimSpace(ev.Data) == "" {
		return nil, false
	}

	var e streamEvent
	if err := json.Unmarshal([]byte(ev.Data), &e); err != nil {
		return llm.StreamError{Err: upstream.Protocolf(s.provider, "decoding %s event: %v", ev.Type, err)}, true
	}
	if e.Type == "" {
		e.Type = ev.Type
	}

	switch e.Type {
	case "message_start":
		if e.Message != nil {
			s.usage.InputTokens = e.Message.Usage.InputTokens
			s.usage.OutputTokens = e.Message.Usage.OutputTokens
		}
		return nil, false

	case "content_block_start":
		if e.ContentBlock != nil && e.ContentBlock.Type == llm.BlockToolUse {
			s.tools[e.Index] = &pendingTool{
				id:   e.ContentBlock.ID,
				name: e.ContentBlock.Name,
				seed: e.ContentBlock.Input,
			}
		}
		return nil, false

	case "content_block_delta":
		var d blockDelta
		if err := json.Unmarshal(e.Delta, &d); err != nil {
			return llm.StreamError{Err: upstream.Protocolf(s.provider, "decoding delta: %v", err)}, true
		}
		switch d.Type {
		case "text_delta":
			if d.Text == "" {
				return nil, false
			}
			return llm.TextDelta{Text: d.Text}, false
		case "input_json_delta":
			if t, ok := s.tools[e.Index]; ok {
				t.input.WriteString(d.PartialJSON)
			}
			return nil, false
		default:
			return llm.Unknown{Type: d.Type, Raw: e.Delta}, false
		}

	case "content_block_stop":
		t, ok := s.tools[e.Index]
		if !ok {
			return nil, false
		}
		delete(s.tools, e.Index)
		return s.finishTool(t)

	case "message_delta":
		var d messageDelta
		if len(e.Delta) > 0 {
			if err := json.Unmarshal(e.Delta, &d); err != nil {
				return llm.StreamError{Err: upstream.Protocolf(s.provider, "decoding message delta: %v", err)}, true
			}
		}
		if d.StopReason != "" {
			s.stopReason = d.StopReason
		}
		if e.Usage != nil {
			if e.Usage.InputTokens > 0 {
				s.usage.InputTokens = e.Usage.InputTokens
			}
			s.usage.OutputTokens = e.Usage.OutputTokens
		}
		return nil, false

	case "message_stop":
		return llm.Finish{StopReason: llm.NormalizeStopReason(s.stopReason), Usage: s.usage}, true

	case "error":
		msg := "upstream stream error"
		if e.Error != nil && e.Error.Message != "" {
			msg = e.Error.Type + ": " + e.Error.Message
		}
		return llm.StreamError{Err: &upstream.Error{Provider: s.provider, Err: errors.New(msg)}}, true

	default:
		return llm.Unknown{Type: e.Type, Raw: json.RawMessage(ev.Data)}, false
	}
}

func (s *streamState) finishTool(t *pendingTool) (llm.Chunk, bool) {
	input := t.seed
	if t.input.Len() > 0 {
		parsed, err := upstream.DecodeInput(t.input.String())
		if err != nil {
			return llm.StreamError{Err: upstream.Protocolf(s.provider, "tool %q arguments: %v", t.name, err)}, true
		}
		input = parsed
	}
	if input == nil {
		input = map[string]any{}
	}
	return llm.ToolCall{ID: t.id, Name: t.name, Input: input}, false
}
