package sse

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

const (
	initialLineBuffer = 64 * 1024

	// DefaultMaxLine bounds a single line of an upstream stream. Providers
	// put whole JSON chunks on one data line, so this is generous.
	DefaultMaxLine = 1024 * 1024
)

// Reader parses SSE events from an upstream response body.
type Reader struct {
	lines *bufio.Scanner

	pending Event
	started bool
}

// NewReader returns a Reader over src that accepts lines up to
// DefaultMaxLine bytes.
func NewReader(src io.Reader) *Reader {
	return NewReaderSize(src, DefaultMaxLine)
}

// NewReaderSize returns a Reader over src that fails with
// bufio.ErrTooLong on any line longer than maxLine bytes.
func NewReaderSize(src io.Reader, maxLine int) *Reader {
	s := bufio.NewScanner(src)
	s.Buffer(make([]byte, min(initialLineBuffer, maxLine)), maxLine)
	return &Reader{lines: s}
}

// Next blocks until a complete event is available and returns it. An event
// still open when the source ends is returned as if it had been terminated.
// Next returns nil, nil once the source is exhausted.
func (r *Reader) Next() (*Event, error) {
	for r.lines.Scan() {
		line := strings.TrimSuffix(r.lines.Text(), "\r")

		switch {
		case line == "":
			if ev := r.flush(); ev != nil {
				return ev, nil
			}
		case line[0] == ':':
			// comment or keep-alive
		default:
			r.field(line)
		}
	}

	if err := r.lines.Err(); err != nil {
		return nil, err
	}
	return r.flush(), nil
}

func (r *Reader) field(line string) {
	name, value, _ := strings.Cut(line, ":")
	value = strings.TrimPrefix(value, " ")

	switch name {
	case "data":
		if r.started && r.pending.Data != "" {
			r.pending.Data += "\n"
		}
		r.pending.Data += value
	case "event":
		r.pending.Type = value
	case "id":
		r.pending.ID = value
	case "retry":
		ms, err := strconv.Atoi(value)
		if err != nil {
			return
		}
		r.pending.Retry = ms
	default:
		return
	}
	r.started = true
}

// flush hands back the accumulated event, or nil when no field was seen
// since the last one.
func (r *Reader) flush() *Event {
	if !r.started {
		return nil
	}
	ev := r.pending
	r.pending = Event{}
	r.started = false
	return &ev
}
