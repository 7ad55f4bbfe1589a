package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// flusher is satisfied by buffered response writers that can push data to
// the connection on demand.
type flusher interface {
	Flush() error
}

// Writer encodes named events in the SSE wire format:
//
//	event: <name>
//	data: <payload>
//
// Each event is terminated by a blank line. Payloads containing newlines are
// split across multiple "data:" lines, per the SSE spec.
type Writer struct {
	dest io.Writer
}

// NewWriter returns a Writer that encodes events to dest.
// The dest writer typically backs an io.Pipe connected to the downstream HTTP
// response, so each write blocks until the client side consumes it.
func NewWriter(dest io.Writer) *Writer {
	return &Writer{dest: dest}
}

// WriteEvent writes a single named event with a raw data payload.
func (w *Writer) WriteEvent(name string, data []byte) error {
	var b strings.Builder
	if name != "" {
		b.WriteString("event: ")
		b.WriteString(name)
		b.WriteByte('\n')
	}

	for line := range strings.SplitSeq(string(data), "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')

	if _, err := io.WriteString(w.dest, b.String()); err != nil {
		return err
	}

	if f, ok := w.dest.(flusher); ok {
		return f.Flush()
	}
	return nil
}

// WriteJSON marshals v and writes it as the data payload of a named event.
func (w *Writer) WriteJSON(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", name, err)
	}
	return w.WriteEvent(name, data)
}
