// Package llm provides LLM transport abstractions.
//
// Transport is the abstract interface for completion endpoints.
// Each implementation hides:
// - API client initialization and authentication
// - Request/response format conversion
// - Provider-specific reasoning fields and side payload frames

package llm

import (
	"context"
	"errors"
)

// ErrStreamClosed is returned by Recv after Close.
var ErrStreamClosed = errors.New("llm: stream closed")

// Stream yields deltas in arrival order until io.EOF.
// Implementations return io.EOF once the response finishes normally.
type Stream interface {
	Recv() (StreamDelta, error)
	Close() error
}

// Transport sends completion requests to a provider endpoint.
// Cancellation is carried by ctx on both methods.
type Transport interface {
	// Name returns the provider name (for logging/debugging).
	Name() string

	// Complete sends a non-streaming request and returns the full response.
	Complete(ctx context.Context, params Params) (Response, error)

	// Stream sends a streaming request. The caller must Close the stream.
	Stream(ctx context.Context, params Params) (Stream, error)
}
