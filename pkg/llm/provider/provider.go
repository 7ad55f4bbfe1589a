// Package provider defines the upstream client adapter contract and builds
// adapters for configured providers.
package provider

import (
	"context"
	"iter"

	"github.com/papercomputeco/switchboard/pkg/llm"
)

// Adapter is a client for one upstream wire protocol. Adapters translate the
// internal request into the upstream format and the upstream output back into
// canonical responses or chunks.
type Adapter interface {
	// Name returns the id of the provider the adapter is bound to.
	Name() string

	// NativeTools reports whether the adapter forwards tool declarations and
	// tool blocks structurally.
	NativeTools() bool

	// Complete performs a non-streaming call. Upstream failures are returned
	// as errors matching llm.ErrUpstreamProtocol.
	Complete(ctx context.Context, req *llm.ChatRequest) (*llm.MessagesResponse, error)

	// Stream performs a streaming call. Every failure, including HTTP errors
	// before the first byte, is yielded as exactly one llm.StreamError, after
	// which the sequence ends. Cancelling ctx aborts the upstream request.
	Stream(ctx context.Context, req *llm.ChatRequest) iter.Seq[llm.Chunk]
}
