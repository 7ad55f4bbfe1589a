// Package normalize validates canonical requests and converts them into the
// adapter-neutral form for a target provider.
package normalize

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/papercomputeco/switchboard/pkg/credentials"
	"github.com/papercomputeco/switchboard/pkg/llm"
)

// DefaultMaxTokens is applied when the caller sends max_tokens of zero.
const DefaultMaxTokens = 4096

// Reserved gateway aliases that always name the target's default model.
const (
	AliasDefault      = "default"
	AliasLocalDefault = "local-default"
)

// vendorPrefixes identify hosted-vendor model names, which a local model
// server cannot serve.
var vendorPrefixes = []string{"claude", "gpt-", "o1", "o3", "o4", "gemini", "chatgpt"}

// IsVendorModel reports whether model names a hosted vendor's model.
func IsVendorModel(model string) bool {
	m := strings.ToLower(model)
	for _, p := range vendorPrefixes {
		if strings.HasPrefix(m, p) {
			return true
		}
	}
	return false
}

// ResolveModel picks the model forwarded to target for the requested name.
func ResolveModel(model string, target *credentials.ProviderConfig) (string, error) {
	model = strings.TrimSpace(model)

	switch {
	case model == "", model == AliasDefault, model == AliasLocalDefault:
		if target.DefaultModel == "" {
			if model == "" {
				return "", invalidf("model is required")
			}
			return "", invalidf("provider %q has no default model for %q", target.ID, model)
		}
		return target.DefaultModel, nil

	case target.Family == credentials.FamilyLocal && IsVendorModel(model):
		if target.DefaultModel == "" {
			return "", invalidf("provider %q cannot serve %q and has no default model", target.ID, model)
		}
		return target.DefaultModel, nil
	}

	if len(target.Models) > 0 && !allowed(model, target) {
		return "", invalidf("model %q is not available on provider %q", model, target.ID)
	}

	return model, nil
}

func allowed(model string, target *credentials.ProviderConfig) bool {
	if _, ok := target.ModelAliases[model]; ok {
		return true
	}
	for _, m := range target.Models {
		if m == model {
			return true
		}
	}
	return false
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", llm.ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// Normalize validates req and converts it for target. Every failure wraps
// llm.ErrInvalidRequest.
func Normalize(req *llm.MessagesRequest, target *credentials.ProviderConfig) (*llm.ChatRequest, error) {
	if req == nil {
		return nil, invalidf("request body is required")
	}
	if target == nil {
		return nil, errors.New("normalize: no target provider")
	}

	model, err := ResolveModel(req.Model, target)
	if err != nil {
		return nil, err
	}

	if req.MaxTokens < 0 {
		return nil, invalidf("max_tokens must not be negative")
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = DefaultMaxTokens
	}

	if err := validateTools(req.Tools); err != nil {
		return nil, err
	}

	system, messages, err := convertMessages(string(req.System), req.Messages, target.NativeTools)
	if err != nil {
		return nil, err
	}

	out := &llm.ChatRequest{
		Model:       model,
		Messages:    messages,
		System:      system,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		TopK:        req.TopK,
		Stop:        req.StopSequences,
		Stream:      req.Stream,
	}
	if target.NativeTools {
		out.Tools = req.Tools
	}

	return out, nil
}

// convertMessages lifts system messages into the system prompt and shapes
// the remaining content for the target's tool channel.
func convertMessages(system string, in []llm.Message, native bool) (string, []llm.Message, error) {
	if len(in) == 0 {
		return "", nil, invalidf("messages must not be empty")
	}

	var systemParts []string
	if strings.TrimSpace(system) != "" {
		systemParts = append(systemParts, system)
	}

	out := make([]llm.Message, 0, len(in))
	for i, m := range in {
		if len(m.Content) == 0 {
			return "", nil, invalidf("messages[%d]: content is required", i)
		}
		if err := validateBlocks(i, m.Content); err != nil {
			return "", nil, err
		}

		switch m.Role {
		case llm.RoleSystem:
			if text := llm.FlattenContent(m.Content); text != "" {
				systemParts = append(systemParts, text)
			}
			continue
		case llm.RoleUser, llm.RoleAssistant:
		default:
			return "", nil, invalidf("messages[%d]: invalid role %q", i, m.Role)
		}

		if native {
			out = append(out, llm.Message{Role: m.Role, Content: append([]llm.ContentBlock(nil), m.Content...)})
			continue
		}
		out = append(out, llm.NewTextMessage(m.Role, llm.FlattenContent(m.Content)))
	}

	if len(out) == 0 {
		return "", nil, invalidf("messages must contain a user or assistant message")
	}

	return strings.Join(systemParts, "\n\n"), out, nil
}

func validateBlocks(msg int, blocks []llm.ContentBlock) error {
	for j, b := range blocks {
		switch b.Type {
		case llm.BlockText:
		case llm.BlockToolUse:
			if b.Name == "" {
				return invalidf("messages[%d].content[%d]: tool_use requires a name", msg, j)
			}
		case llm.BlockToolResult:
			if b.ToolUseID == "" {
				return invalidf("messages[%d].content[%d]: tool_result requires tool_use_id", msg, j)
			}
		default:
			return invalidf("messages[%d].content[%d]: unsupported block type %q", msg, j, b.Type)
		}
	}
	return nil
}

// validateTools checks tool names are unique and that every input_schema is
// itself a valid JSON Schema.
func validateTools(tools []llm.Tool) error {
	seen := make(map[string]struct{}, len(tools))
	for i, t := range tools {
		if strings.TrimSpace(t.Name) == "" {
			return invalidf("tools[%d]: name is required", i)
		}
		if _, dup := seen[t.Name]; dup {
			return invalidf("tools[%d]: duplicate tool name %q", i, t.Name)
		}
		seen[t.Name] = struct{}{}

		if len(t.InputSchema) == 0 {
			continue
		}
		if _, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(t.InputSchema)); err != nil {
			return invalidf("tools[%d]: input_schema for %q: %v", i, t.Name, err)
		}
	}
	return nil
}
