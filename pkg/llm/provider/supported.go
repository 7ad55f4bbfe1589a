package provider

import (
	"fmt"
	"net/http"

	"github.com/papercomputeco/switchboard/pkg/credentials"
	"github.com/papercomputeco/switchboard/pkg/llm/provider/anthropic"
	"github.com/papercomputeco/switchboard/pkg/llm/provider/ollama"
	"github.com/papercomputeco/switchboard/pkg/llm/provider/openai"
	"github.com/papercomputeco/switchboard/pkg/llm/provider/upstream"
)

// SupportedProtocols returns the list of all supported wire protocols.
func SupportedProtocols() []string {
	return []string{credentials.ProtocolAnthropic, credentials.ProtocolOpenAI, credentials.ProtocolOllama}
}

// New creates the adapter for cfg's protocol.
// Returns an error if the protocol is not recognized.
func New(cfg *credentials.ProviderConfig, cred upstream.Credential, client *http.Client) (Adapter, error) {
	ucfg := upstream.Config{
		Provider:   cfg,
		Credential: cred,
		HTTPClient: client,
	}

	switch cfg.Protocol {
	case credentials.ProtocolAnthropic:
		return anthropic.New(ucfg), nil
	case credentials.ProtocolOpenAI:
		return openai.New(ucfg), nil
	case credentials.ProtocolOllama:
		return ollama.New(ucfg), nil
	default:
		return nil, fmt.Errorf("unknown protocol: %q (supported: %v)", cfg.Protocol, SupportedProtocols())
	}
}
