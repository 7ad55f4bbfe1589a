// Package sse reads Server-Sent Events from upstream LLM providers and
// writes canonical events to downstream clients.
//
// Wire format: https://html.spec.whatwg.org/multipage/server-sent-events.html
package sse

// Event is one blank-line delimited event.
type Event struct {
	// Type is the "event:" field. Empty means the default "message" type.
	Type string

	// Data holds every "data:" line of the event joined with "\n".
	Data string

	ID string

	// Retry is the reconnection delay in milliseconds, zero when absent.
	Retry int
}
