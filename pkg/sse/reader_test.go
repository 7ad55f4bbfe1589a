package sse

import (
	"bufio"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// drain reads every event from input.
func drain(input string) []Event {
	r := NewReader(strings.NewReader(input))

	var events []Event
	for {
		ev, err := r.Next()
		Expect(err).NotTo(HaveOccurred())
		if ev == nil {
			return events
		}
		events = append(events, *ev)
	}
}

var _ = Describe("Reader", func() {
	It("parses consecutive events", func() {
		events := drain("data: first\n\ndata: second\n\n")

		Expect(events).To(HaveLen(2))
		Expect(events[0].Data).To(Equal("first"))
		Expect(events[1].Data).To(Equal("second"))
	})

	It("reads the event name and id", func() {
		events := drain("event: content_block_delta\nid: 42\ndata: {\"type\":\"delta\"}\n\n")

		Expect(events).To(ConsistOf(Event{
			Type: "content_block_delta",
			ID:   "42",
			Data: `{"type":"delta"}`,
		}))
	})

	It("joins multi-line data with newlines", func() {
		events := drain("data: line one\ndata: line two\ndata: line three\n\n")

		Expect(events).To(HaveLen(1))
		Expect(events[0].Data).To(Equal("line one\nline two\nline three"))
	})

	It("reads an anthropic message stream", func() {
		events := drain("event: message_start\ndata: {\"type\":\"message_start\"}\n\n" +
			": ping\n\n" +
			"event: content_block_delta\ndata: {\"delta\":{\"text\":\"Hello\"}}\n\n" +
			"event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n")

		Expect(events).To(HaveLen(3))
		Expect(events[0].Type).To(Equal("message_start"))
		Expect(events[1].Data).To(ContainSubstring("Hello"))
		Expect(events[2].Type).To(Equal("message_stop"))
	})

	It("reads an openai chunk stream through [DONE]", func() {
		events := drain("data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\ndata: [DONE]\n\n")

		Expect(events).To(HaveLen(2))
		Expect(events[0].Type).To(BeEmpty())
		Expect(events[1].Data).To(Equal("[DONE]"))
	})

	It("accepts CRLF line endings", func() {
		events := drain("event: ping\r\ndata: x\r\n\r\n")

		Expect(events).To(ConsistOf(Event{Type: "ping", Data: "x"}))
	})

	It("parses retry and drops a malformed one", func() {
		events := drain("retry: 3000\ndata: a\n\nretry: soon\ndata: b\n\n")

		Expect(events).To(HaveLen(2))
		Expect(events[0].Retry).To(Equal(3000))
		Expect(events[1].Retry).To(BeZero())
	})

	DescribeTable("data field forms",
		func(input, want string) {
			events := drain(input)
			Expect(events).To(HaveLen(1))
			Expect(events[0].Data).To(Equal(want))
		},
		Entry("no space after the colon", "data:no-space\n\n", "no-space"),
		Entry("empty value", "data:\n\n", ""),
		Entry("a lone space", "data: \n\n", ""),
		Entry("no colon at all", "data\n\n", ""),
		Entry("a second space is kept", "data:  padded\n\n", " padded"),
	)

	It("skips comments, blank lines and unknown fields", func() {
		events := drain("\n\n: keep-alive\nfoo: bar\ndata: hello\n\n\n")

		Expect(events).To(ConsistOf(Event{Data: "hello"}))
	})

	It("yields an unterminated final event", func() {
		events := drain("data: unterminated")

		Expect(events).To(ConsistOf(Event{Data: "unterminated"}))
	})

	It("returns nothing for an empty stream", func() {
		Expect(drain("")).To(BeEmpty())
	})

	It("fails on a line over the size limit", func() {
		r := NewReaderSize(strings.NewReader("data: "+strings.Repeat("x", 64)+"\n\n"), 16)

		_, err := r.Next()
		Expect(err).To(MatchError(bufio.ErrTooLong))
	})
})
