package llm_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/switchboard/pkg/llm"
)

var _ = Describe("Inline tool traces", func() {
	It("renders a tool invocation with JSON arguments", func() {
		Expect(llm.ToolTrace("search", map[string]any{"q": "go"})).To(Equal(`[Tool: search({"q":"go"})]`))
	})

	It("renders empty arguments as an empty object", func() {
		Expect(llm.ToolTrace("now", nil)).To(Equal("[Tool: now({})]"))
	})

	It("renders a tool result", func() {
		Expect(llm.ToolResultTrace("42")).To(Equal("[Tool Result: 42]"))
	})

	It("renders a single block inline", func() {
		Expect(llm.InlineText(llm.ContentBlock{Type: llm.BlockText, Text: "hi"})).To(Equal("hi"))
		Expect(llm.InlineText(llm.ContentBlock{Type: llm.BlockToolResult, Output: "ok"})).To(Equal("[Tool Result: ok]"))
	})

	It("flattens mixed content one block per line", func() {
		blocks := []llm.ContentBlock{
			{Type: llm.BlockText, Text: "let me look"},
			{Type: llm.BlockToolUse, ID: "t1", Name: "search", Input: map[string]any{"q": "go"}},
			{Type: llm.BlockToolResult, ToolUseID: "t1", Output: "found"},
			{Type: llm.BlockText, Text: ""},
		}
		Expect(llm.FlattenContent(blocks)).To(Equal("let me look\n[Tool: search({\"q\":\"go\"})]\n[Tool Result: found]"))
	})
})
