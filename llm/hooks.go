// Request hooks for SDK-backed transports.
//
// Information Hiding:
// - Extension fields are merged into the serialized request body
// - Raw response frames are captured as the SDK reads them
// - Both ride on the request context so SDK clients stay unmodified

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/sjson"
)

type hooksKey struct{}

// requestHooks are per-request instructions for hookTransport.
type requestHooks struct {
	extra   map[string]any
	keys    []string
	capture *frameCapture
}

func withHooks(ctx context.Context, hooks *requestHooks) context.Context {
	return context.WithValue(ctx, hooksKey{}, hooks)
}

func hooksFrom(ctx context.Context) *requestHooks {
	hooks, _ := ctx.Value(hooksKey{}).(*requestHooks)
	return hooks
}

// hookTransport is an http.RoundTripper applying requestHooks.
type hookTransport struct {
	base http.RoundTripper
}

// newHookClient returns an HTTP client whose transport applies request hooks.
func newHookClient(base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	rt := base.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	out := *base
	out.Transport = &hookTransport{base: rt}
	return &out
}

// RoundTrip implements http.RoundTripper.
func (t *hookTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	hooks := hooksFrom(req.Context())
	if hooks == nil {
		return t.base.RoundTrip(req)
	}

	if len(hooks.keys) > 0 && req.Body != nil {
		body, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		body, err = mergeExtra(body, hooks.keys, hooks.extra)
		if err != nil {
			return nil, err
		}
		clone := req.Clone(req.Context())
		clone.Body = io.NopCloser(bytes.NewReader(body))
		clone.ContentLength = int64(len(body))
		clone.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
		req = clone
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil || hooks.capture == nil {
		return resp, err
	}
	resp.Body = &captureBody{ReadCloser: resp.Body, capture: hooks.capture}
	return resp, nil
}

// mergeExtra sets each extension field as a top-level key of the JSON body.
// Later values overwrite fields the SDK already serialized.
func mergeExtra(body []byte, keys []string, extra map[string]any) ([]byte, error) {
	var err error
	for _, key := range keys {
		body, err = sjson.SetBytes(body, escapeKey(key), extra[key])
		if err != nil {
			return nil, fmt.Errorf("failed to set request field %q: %w", key, err)
		}
	}
	return body, nil
}

// escapeKey keeps a field name literal for sjson path syntax.
func escapeKey(key string) string {
	r := strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`)
	return r.Replace(key)
}

// frameCapture records response bytes as the SDK consumes them.
// In stream mode it splits SSE "data:" lines into frames, one per decoded
// chunk; otherwise it keeps the whole body.
type frameCapture struct {
	stream  bool
	pending []byte
	frames  [][]byte
	body    bytes.Buffer
}

func newStreamCapture() *frameCapture { return &frameCapture{stream: true} }
func newBodyCapture() *frameCapture   { return &frameCapture{} }

func (c *frameCapture) feed(chunk []byte) {
	if !c.stream {
		c.body.Write(chunk)
		return
	}
	c.pending = append(c.pending, chunk...)
	for {
		i := bytes.IndexByte(c.pending, '\n')
		if i < 0 {
			return
		}
		line := bytes.TrimSpace(c.pending[:i])
		c.pending = c.pending[i+1:]
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		payload := bytes.TrimSpace(line[len("data:"):])
		if len(payload) == 0 || bytes.Equal(payload, []byte("[DONE]")) {
			continue
		}
		c.frames = append(c.frames, append([]byte(nil), payload...))
	}
}

// next pops the oldest captured frame, or nil if none is buffered.
func (c *frameCapture) next() json.RawMessage {
	if len(c.frames) == 0 {
		return nil
	}
	frame := c.frames[0]
	c.frames = c.frames[1:]
	return frame
}

// raw returns the captured non-stream body.
func (c *frameCapture) raw() json.RawMessage {
	if c.body.Len() == 0 {
		return nil
	}
	return append(json.RawMessage(nil), c.body.Bytes()...)
}

type captureBody struct {
	io.ReadCloser
	capture *frameCapture
}

func (b *captureBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if n > 0 {
		b.capture.feed(p[:n])
	}
	return n, err
}
