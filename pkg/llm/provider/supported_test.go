package provider_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/switchboard/pkg/credentials"
	"github.com/papercomputeco/switchboard/pkg/llm/provider"
	"github.com/papercomputeco/switchboard/pkg/llm/provider/anthropic"
	"github.com/papercomputeco/switchboard/pkg/llm/provider/ollama"
	"github.com/papercomputeco/switchboard/pkg/llm/provider/openai"
	"github.com/papercomputeco/switchboard/pkg/llm/provider/upstream"
)

var _ = Describe("New", func() {
	DescribeTable("builds the adapter for each protocol",
		func(protocol string, expected any) {
			cfg := &credentials.ProviderConfig{ID: "p", Protocol: protocol, BaseURL: "http://127.0.0.1:1"}

			adapter, err := provider.New(cfg, upstream.Credential{}, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(adapter).To(BeAssignableToTypeOf(expected))
			Expect(adapter.Name()).To(Equal("p"))
		},
		Entry("anthropic", credentials.ProtocolAnthropic, &anthropic.Adapter{}),
		Entry("openai", credentials.ProtocolOpenAI, &openai.Adapter{}),
		Entry("ollama", credentials.ProtocolOllama, &ollama.Adapter{}),
	)

	It("rejects an unknown protocol", func() {
		_, err := provider.New(&credentials.ProviderConfig{ID: "p", Protocol: "grpc"}, upstream.Credential{}, nil)
		Expect(err).To(MatchError(ContainSubstring("unknown protocol")))
	})

	It("lists every supported protocol", func() {
		Expect(provider.SupportedProtocols()).To(ConsistOf("anthropic", "openai", "ollama"))
	})
})
