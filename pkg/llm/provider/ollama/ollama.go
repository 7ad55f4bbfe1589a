// Package ollama is the adapter for Ollama's native chat API.
package ollama

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/papercomputeco/switchboard/pkg/credentials"
	"github.com/papercomputeco/switchboard/pkg/llm"
	"github.com/papercomputeco/switchboard/pkg/llm/provider/upstream"
)

const (
	chatPath = "/api/chat"

	maxLine = 1024 * 1024
)

// Adapter implements provider.Adapter for Ollama.
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

func (a *Adapter) model(req *llm.ChatRequest) string {
	if req.Model == "" {
		return a.cfg.DefaultModel
	}
	return a.cfg.VendorModel(req.Model)
}

func convertMessages(system string, msgs []llm.Message) []chatMessage {
	out := make([]chatMessage, 0, len(msgs)+1)
	if system != "" {
		out = append(out, chatMessage{Role: llm.RoleSystem, Content: system})
	}

	for _, m := range msgs {
		msg := chatMessage{Role: m.Role}
		var text strings.Builder

		for _, b := range m.Content {
			switch b.Type {
			case llm.BlockText:
				text.WriteString(b.Text)
			case llm.BlockToolUse:
				args := b.Input
				if args == nil {
					args = map[string]any{}
				}
				msg.ToolCalls = append(msg.ToolCalls, chatToolCall{
					ID:       b.ID,
					Function: chatFunction{Name: b.Name, Arguments: args},
				})
			case llm.BlockToolResult:
				out = append(out, chatMessage{Role: "tool", Content: b.Output})
			}
		}

		if text.Len() == 0 && len(msg.ToolCalls) == 0 {
			continue
		}
		msg.Content = text.String()
		out = append(out, msg)
	}

	return out
}

func (a *Adapter) buildRequest(req *llm.ChatRequest, stream bool) *chatRequest {
	out := &chatRequest{
		Model:    a.model(req),
		Messages: convertMessages(req.System, req.Messages),
		Stream:   stream,
	}

	if req.MaxTokens > 0 || req.Temperature != nil || req.TopP != nil || req.TopK != nil || len(req.Stop) > 0 {
		out.Options = &chatOptions{
			Temperature: req.Temperature,
			TopP:        req.TopP,
			TopK:        req.TopK,
			NumPredict:  req.MaxTokens,
			Stop:        req.Stop,
		}
	}

	if a.cfg.NativeTools {
		for _, t := range req.Tools {
			var params any = map[string]any{"type": "object", "properties": map[string]any{}}
			if len(t.InputSchema) > 0 {
				params = t.InputSchema
			}
			out.Tools = append(out.Tools, chatTool{
				Type:     "function",
				Function: toolFunction{Name: t.Name, Description: t.Description, Parameters: params},
			})
		}
	}

	return out
}

func toolCallID(id string) string {
	if id != "" {
		return id
	}
	return "toolu_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func stopReason(r *chatResponse, sawTools bool) string {
	if sawTools {
		return llm.StopToolUse
	}
	return llm.NormalizeStopReason(r.DoneReason)
}

// Complete performs a non-streaming chat call.
func (a *Adapter) Complete(ctx context.Context, req *llm.ChatRequest) (*llm.MessagesResponse, error) {
	resp, err := a.client.Post(ctx, chatPath, a.buildRequest(req, false), a.headers())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, a.client.Wrap(err)
	}
	if cr.Error != "" {
		return nil, &upstream.Error{Provider: a.cfg.ID, Err: errors.New(cr.Error)}
	}

	model := cr.Model
	if model == "" {
		model = a.model(req)
	}
	out := llm.NewMessagesResponse(a.cfg.CanonicalModel(model))

	if cr.Message.Content != "" {
		out.Content = append(out.Content, llm.ContentBlock{Type: llm.BlockText, Text: cr.Message.Content})
	}
	for _, tc := range cr.Message.ToolCalls {
		input := tc.Function.Arguments
		if input == nil {
			input = map[string]any{}
		}
		out.Content = append(out.Content, llm.ContentBlock{
			Type:  llm.BlockToolUse,
			ID:    toolCallID(tc.ID),
			Name:  tc.Function.Name,
			Input: input,
		})
	}

	out.StopReason = stopReason(&cr, len(cr.Message.ToolCalls) > 0)
	out.Usage = llm.Usage{InputTokens: cr.PromptEvalCount, OutputTokens: cr.EvalCount}

	return out, nil
}

// Stream performs a streaming chat call. Ollama streams newline-delimited
// JSON objects; the last one has done set.
func (a *Adapter) Stream(ctx context.Context, req *llm.ChatRequest) iter.Seq[llm.Chunk] {
	return func(yield func(llm.Chunk) bool) {
		resp, err := a.client.Post(ctx, chatPath, a.buildRequest(req, true), a.headers())
		if err != nil {
			yield(llm.StreamError{Err: err})
			return
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), maxLine)
		sawTools := false

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}

			var cr chatResponse
			if err := json.Unmarshal([]byte(line), &cr); err != nil {
				yield(llm.StreamError{Err: upstream.Protocolf(a.cfg.ID, "decoding stream line: %v", err)})
				return
			}
			if cr.Error != "" {
				yield(llm.StreamError{Err: &upstream.Error{Provider: a.cfg.ID, Err: errors.New(cr.Error)}})
				return
			}

			if cr.Message.Content != "" {
				if !yield(llm.TextDelta{Text: cr.Message.Content}) {
					return
				}
			}
			for _, tc := range cr.Message.ToolCalls {
				sawTools = true
				input := tc.Function.Arguments
				if input == nil {
					input = map[string]any{}
				}
				call := llm.ToolCall{ID: toolCallID(tc.ID), Name: tc.Function.Name, Input: input}
				if !yield(call) {
					return
				}
			}

			if cr.Done {
				yield(llm.Finish{
					StopReason: stopReason(&cr, sawTools),
					Usage:      llm.Usage{InputTokens: cr.PromptEvalCount, OutputTokens: cr.EvalCount},
				})
				return
			}
		}

		if err := scanner.Err(); err != nil {
			yield(llm.StreamError{Err: a.client.Wrap(err)})
			return
		}
		yield(llm.StreamError{Err: upstream.Protocolf(a.cfg.ID, "stream ended before done")})
	}
}
