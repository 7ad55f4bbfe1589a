package openai_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/switchboard/pkg/credentials"
	"github.com/papercomputeco/switchboard/pkg/llm"
	"github.com/papercomputeco/switchboard/pkg/llm/provider/openai"
	"github.com/papercomputeco/switchboard/pkg/llm/provider/upstream"
)

type capture struct {
	mu     sync.Mutex
	header http.Header
	body   map[string]any
	path   string
}

func (c *capture) record(r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	body := map[string]any{}
	_ = json.Unmarshal(raw, &body)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.header = r.Header.Clone()
	c.body = body
	c.path = r.URL.Path
}

func (c *capture) get() (http.Header, map[string]any, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.header, c.body, c.path
}

func dataLines(payloads ...string) string {
	var b strings.Builder
	for _, p := range payloads {
		b.WriteString("data: " + p + "\n\n")
	}
	return b.String()
}

func collect(seq func(func(llm.Chunk) bool)) []llm.Chunk {
	var chunks []llm.Chunk
	for c := range seq {
		chunks = append(chunks, c)
	}
	return chunks
}

var _ = Describe("OpenAI Adapter", func() {
	var (
		server  *httptest.Server
		seen    *capture
		reply   string
		status  int
		cfg     *credentials.ProviderConfig
		adapter *openai.Adapter
	)

	BeforeEach(func() {
		seen = &capture{}
		reply = ""
		status = http.StatusOK

		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen.record(r)
			w.WriteHeader(status)
			_, _ = io.WriteString(w, reply)
		}))
		DeferCleanup(server.Close)

		cfg = &credentials.ProviderConfig{
			ID:           "gpt",
			Family:       credentials.FamilyAPIKey,
			Protocol:     credentials.ProtocolOpenAI,
			BaseURL:      server.URL,
			NativeTools:  true,
			ModelAliases: map[string]string{"m1": "gpt-4o"},
		}
	})

	JustBeforeEach(func() {
		adapter = openai.New(upstream.Config{
			Provider:   cfg,
			Credential: upstream.Credential{Kind: upstream.CredentialAPIKey, Value: "sk-openai"},
		})
	})

	toolConversation := func() *llm.ChatRequest {
		return &llm.ChatRequest{
			Model:     "m1",
			System:    "be brief",
			MaxTokens: 256,
			Stop:      []string{"END"},
			Messages: []llm.Message{
				llm.NewTextMessage(llm.RoleUser, "weather?"),
				{Role: llm.RoleAssistant, Content: []llm.ContentBlock{
					{Type: llm.BlockText, Text: "checking"},
					{Type: llm.BlockToolUse, ID: "call_1", Name: "weather", Input: map[string]any{"city": "Oslo"}},
				}},
				{Role: llm.RoleUser, Content: []llm.ContentBlock{
					{Type: llm.BlockToolResult, ToolUseID: "call_1", Output: "rain"},
				}},
			},
			Tools: []llm.Tool{{
				Name:        "weather",
				Description: "look up weather",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}}}`),
			}},
		}
	}

	Describe("Complete", func() {
		BeforeEach(func() {
			reply = `{
				"id": "chatcmpl-1",
				"model": "gpt-4o",
				"choices": [{
					"index": 0,
					"message": {"role": "assistant", "content": "Hi there"},
					"finish_reason": "stop"
				}],
				"usage": {"prompt_tokens": 11, "completion_tokens": 3}
			}`
		})

		It("converts the conversation to chat completion messages", func() {
			_, err := adapter.Complete(context.Background(), toolConversation())
			Expect(err).NotTo(HaveOccurred())

			header, body, path := seen.get()
			Expect(path).To(Equal("/v1/chat/completions"))
			Expect(header.Get("Authorization")).To(Equal("Bearer sk-openai"))
			Expect(body["model"]).To(Equal("gpt-4o"))
			Expect(body["max_tokens"]).To(BeNumerically("==", 256))
			Expect(body["stop"]).To(Equal([]any{"END"}))

			msgs := body["messages"].([]any)
			Expect(msgs).To(HaveLen(4))
			Expect(msgs[0]).To(Equal(map[string]any{"role": "system", "content": "be brief"}))
			Expect(msgs[1]).To(Equal(map[string]any{"role": "user", "content": "weather?"}))

			assistant := msgs[2].(map[string]any)
			Expect(assistant["content"]).To(Equal("checking"))
			calls := assistant["tool_calls"].([]any)
			Expect(calls).To(HaveLen(1))
			fn := calls[0].(map[string]any)["function"].(map[string]any)
			Expect(fn["name"]).To(Equal("weather"))
			Expect(fn["arguments"]).To(MatchJSON(`{"city":"Oslo"}`))

			Expect(msgs[3]).To(Equal(map[string]any{"role": "tool", "content": "rain", "tool_call_id": "call_1"}))

			tools := body["tools"].([]any)
			Expect(tools).To(HaveLen(1))
			Expect(tools[0].(map[string]any)["type"]).To(Equal("function"))
		})

		It("returns a canonical response", func() {
			resp, err := adapter.Complete(context.Background(), toolConversation())
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.ID).To(HavePrefix("msg_"))
			Expect(resp.Model).To(Equal("m1"))
			Expect(resp.GetText()).To(Equal("Hi there"))
			Expect(resp.StopReason).To(Equal(llm.StopEndTurn))
			Expect(resp.Usage).To(Equal(llm.Usage{InputTokens: 11, OutputTokens: 3}))
		})

		It("decodes tool calls into tool_use blocks", func() {
			reply = `{
				"model": "gpt-4o",
				"choices": [{
					"message": {"role": "assistant", "content": null, "tool_calls": [
						{"id": "call_9", "type": "function", "function": {"name": "weather", "arguments": "{\"city\":\"Rome\"}"}}
					]},
					"finish_reason": "tool_calls"
				}]
			}`

			resp, err := adapter.Complete(context.Background(), toolConversation())
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StopReason).To(Equal(llm.StopToolUse))
			Expect(resp.Content).To(Equal([]llm.ContentBlock{{
				Type:  llm.BlockToolUse,
				ID:    "call_9",
				Name:  "weather",
				Input: map[string]any{"city": "Rome"},
			}}))
		})

		It("rejects a response without choices", func() {
			reply = `{"model":"gpt-4o","choices":[]}`

			_, err := adapter.Complete(context.Background(), toolConversation())
			Expect(errors.Is(err, llm.ErrUpstreamProtocol)).To(BeTrue())
		})

		Context("when the provider has no native tool channel", func() {
			BeforeEach(func() {
				cfg.NativeTools = false
			})

			It("does not forward tool declarations", func() {
				_, err := adapter.Complete(context.Background(), toolConversation())
				Expect(err).NotTo(HaveOccurred())

				_, body, _ := seen.get()
				Expect(body).NotTo(HaveKey("tools"))
			})
		})
	})

	Describe("Stream", func() {
		request := func() *llm.ChatRequest {
			return &llm.ChatRequest{
				Model:    "m1",
				Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, "hi")},
			}
		}

		It("requests usage and translates text deltas", func() {
			reply = dataLines(
				`{"id":"c1","choices":[{"index":0,"delta":{"role":"assistant","content":""}}]}`,
				`{"id":"c1","choices":[{"index":0,"delta":{"content":"Hel"}}]}`,
				`{"id":"c1","choices":[{"index":0,"delta":{"content":"lo"}}]}`,
				`{"id":"c1","choices":[{"index":0,"delta":{},"finish_reason":"length"}]}`,
				`{"id":"c1","choices":[],"usage":{"prompt_tokens":4,"completion_tokens":2}}`,
				`[DONE]`,
			)

			chunks := collect(adapter.Stream(context.Background(), request()))
			Expect(chunks).To(Equal([]llm.Chunk{
				llm.TextDelta{Text: "Hel"},
				llm.TextDelta{Text: "lo"},
				llm.Finish{StopReason: llm.StopMaxTokens, Usage: llm.Usage{InputTokens: 4, OutputTokens: 2}},
			}))

			_, body, _ := seen.get()
			Expect(body["stream"]).To(BeTrue())
			Expect(body["stream_options"]).To(Equal(map[string]any{"include_usage": true}))
		})

		It("assembles streamed tool call arguments into one tool call", func() {
			reply = dataLines(
				`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"weather","arguments":""}}]}}]}`,
				`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"city\":"}}]}}]}`,
				`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"Oslo\"}"}}]}}]}`,
				`{"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
				`[DONE]`,
			)

			chunks := collect(adapter.Stream(context.Background(), request()))
			Expect(chunks).To(Equal([]llm.Chunk{
				llm.ToolCall{ID: "call_1", Name: "weather", Input: map[string]any{"city": "Oslo"}},
				llm.Finish{StopReason: llm.StopToolUse},
			}))
		})

		It("reports malformed tool arguments as an error", func() {
			reply = dataLines(
				`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"weather","arguments":"{oops"}}]}}]}`,
				`{"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
				`[DONE]`,
			)

			chunks := collect(adapter.Stream(context.Background(), request()))
			Expect(chunks).To(HaveLen(1))
			Expect(chunks[0].Kind()).To(Equal(llm.KindError))
		})

		It("finishes when the server closes after a finish reason without [DONE]", func() {
			reply = dataLines(
				`{"choices":[{"index":0,"delta":{"content":"ok"}}]}`,
				`{"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
			)

			chunks := collect(adapter.Stream(context.Background(), request()))
			Expect(chunks).To(Equal([]llm.Chunk{
				llm.TextDelta{Text: "ok"},
				llm.Finish{StopReason: llm.StopEndTurn},
			}))
		})

		It("yields an error for a truncated stream", func() {
			reply = dataLines(`{"choices":[{"index":0,"delta":{"content":"par"}}]}`)

			chunks := collect(adapter.Stream(context.Background(), request()))
			Expect(chunks).To(HaveLen(2))
			Expect(chunks[1].Kind()).To(Equal(llm.KindError))
		})

		It("yields an error for an in-band error payload", func() {
			reply = dataLines(`{"error":{"type":"server_error","message":"overloaded"}}`)

			chunks := collect(adapter.Stream(context.Background(), request()))
			Expect(chunks).To(HaveLen(1))
			serr := chunks[0].(llm.StreamError)
			Expect(serr.Message()).To(ContainSubstring("overloaded"))
		})
	})
})
