package translate

import (
	"io"

	"github.com/papercomputeco/switchboard/pkg/llm"
	"github.com/papercomputeco/switchboard/pkg/sse"
)

// NewSSESink encodes events as named SSE events on dest.
func NewSSESink(dest io.Writer) Sink {
	w := sse.NewWriter(dest)
	return SinkFunc(func(ev llm.StreamEvent) error {
		return w.WriteJSON(ev.EventName(), ev)
	})
}
