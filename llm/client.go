// Client - Transport wrapper adding an optional per-request timeout.

package llm

import (
	"context"
	"time"
)

// Client wraps a Transport with a per-request timeout.
// A zero timeout leaves cancellation to the caller's context.
type Client struct {
	transport Transport
	timeout   time.Duration
}

// NewClient creates a new client from a transport.
func NewClient(transport Transport) *Client {
	return &Client{transport: transport}
}

// WithTimeout sets the per-request timeout.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	c.timeout = timeout
	return c
}

// Name returns the underlying provider name.
func (c *Client) Name() string {
	return c.transport.Name()
}

// Transport returns the underlying transport.
func (c *Client) Transport() Transport {
	return c.transport
}

// Complete sends a non-streaming request.
func (c *Client) Complete(ctx context.Context, params Params) (Response, error) {
	if c.timeout <= 0 {
		return c.transport.Complete(ctx, params)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.transport.Complete(ctx, params)
}

// Stream sends a streaming request. The timeout covers the whole stream and
// is released when the stream is closed.
func (c *Client) Stream(ctx context.Context, params Params) (Stream, error) {
	if c.timeout <= 0 {
		return c.transport.Stream(ctx, params)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	stream, err := c.transport.Stream(ctx, params)
	if err != nil {
		cancel()
		return nil, err
	}
	return &timedStream{Stream: stream, cancel: cancel}, nil
}

type timedStream struct {
	Stream
	cancel context.CancelFunc
}

func (s *timedStream) Close() error {
	err := s.Stream.Close()
	s.cancel()
	return err
}

// Verify Client implements Transport
var _ Transport = (*Client)(nil)
