package sse

import (
	"bytes"
	"errors"
	"io"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

var _ = Describe("Writer", func() {
	var dst *bytes.Buffer

	BeforeEach(func() {
		dst = &bytes.Buffer{}
	})

	It("writes a named event terminated by a blank line", func() {
		w := NewWriter(dst)
		Expect(w.WriteEvent("message_stop", []byte(`{"type":"message_stop"}`))).To(Succeed())
		Expect(dst.String()).To(Equal("event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n"))
	})

	It("splits multi-line payloads into multiple data lines", func() {
		w := NewWriter(dst)
		Expect(w.WriteEvent("", []byte("a\nb"))).To(Succeed())
		Expect(dst.String()).To(Equal("data: a\ndata: b\n\n"))
	})

	It("round-trips through the reader", func() {
		w := NewWriter(dst)
		Expect(w.WriteJSON("content_block_delta", map[string]any{"index": 0})).To(Succeed())
		Expect(w.WriteJSON("message_stop", map[string]any{"type": "message_stop"})).To(Succeed())

		r := NewReader(strings.NewReader(dst.String()))
		ev, err := r.Next()
		Expect(err).NotTo(HaveOccurred())
		Expect(ev.Type).To(Equal("content_block_delta"))
		Expect(ev.Data).To(MatchJSON(`{"index":0}`))

		ev, err = r.Next()
		Expect(err).NotTo(HaveOccurred())
		Expect(ev.Type).To(Equal("message_stop"))

		ev, err = r.Next()
		Expect(err).NotTo(HaveOccurred())
		Expect(ev).To(BeNil())
	})

	It("surfaces destination write failures", func() {
		w := NewWriter(failingWriter{})
		err := w.WriteEvent("ping", []byte("{}"))
		Expect(errors.Is(err, io.ErrClosedPipe)).To(BeTrue())
	})

	It("reports values that cannot be encoded", func() {
		w := NewWriter(dst)
		Expect(w.WriteJSON("bad", make(chan int))).To(MatchError(ContainSubstring("encoding bad event")))
	})
})
