package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// newFakeEndpoint serves /chat/completions, recording the decoded request body.
func newFakeEndpoint(t *testing.T, handler func(w http.ResponseWriter, body map[string]any)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		var body map[string]any
		if err := json.Unmarshal(raw, &body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		handler(w, body)
	}))
	t.Cleanup(server.Close)
	return server
}

func writeSSE(w http.ResponseWriter, frames ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, frame := range frames {
		fmt.Fprintf(w, "data: %s\n\n", frame)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func TestOpenAIStreamDecodesReasoningAndText(t *testing.T) {
	var got map[string]any
	server := newFakeEndpoint(t, func(w http.ResponseWriter, body map[string]any) {
		got = body
		writeSSE(w,
			`{"id":"1","object":"chat.completion.chunk","model":"m","choices":[{"index":0,"delta":{"reasoning_content":"thinking"}}]}`,
			`{"id":"1","object":"chat.completion.chunk","model":"m","choices":[{"index":0,"delta":{"reasoning":"more"}}]}`,
			`{"id":"1","object":"chat.completion.chunk","model":"m","choices":[{"index":0,"delta":{"content":"Hello"}}],"citations":["https://a.example"]}`,
			`{"id":"1","object":"chat.completion.chunk","model":"m","choices":[],"usage":{"prompt_tokens":3,"completion_tokens":5,"total_tokens":8}}`,
		)
	})

	transport := NewOpenAITransport(OpenAIConfig{Name: "openrouter", APIKey: "test", BaseURL: server.URL})
	params := Params{
		Model:           "m",
		Messages:        []Message{UserMessage("hi")},
		ReasoningEffort: "low",
		Extra:           map[string]any{"include_reasoning": true},
	}

	stream, err := transport.Stream(context.Background(), params)
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	defer stream.Close()

	var deltas []StreamDelta
	for {
		delta, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Recv failed: %v", err)
		}
		deltas = append(deltas, delta)
	}

	if len(deltas) != 4 {
		t.Fatalf("expected 4 deltas, got %d", len(deltas))
	}
	if deltas[0].ReasoningContent != "thinking" {
		t.Errorf("expected reasoning_content 'thinking', got %q", deltas[0].ReasoningContent)
	}
	if deltas[1].Reasoning != "more" {
		t.Errorf("expected reasoning 'more', got %q", deltas[1].Reasoning)
	}
	if deltas[2].Text != "Hello" {
		t.Errorf("expected text 'Hello', got %q", deltas[2].Text)
	}
	if !strings.Contains(string(deltas[2].Raw), "citations") {
		t.Errorf("expected raw frame with citations, got %s", deltas[2].Raw)
	}
	if deltas[3].Usage == nil || deltas[3].Usage.TotalTokens != 8 {
		t.Errorf("expected usage total 8, got %+v", deltas[3].Usage)
	}

	if got["include_reasoning"] != true {
		t.Errorf("expected include_reasoning in request body, got %v", got["include_reasoning"])
	}
	if got["reasoning_effort"] != "low" {
		t.Errorf("expected reasoning_effort 'low' in request body, got %v", got["reasoning_effort"])
	}
	if got["stream"] != true {
		t.Errorf("expected stream=true, got %v", got["stream"])
	}
}

func TestOpenAICompleteKeepsRawBody(t *testing.T) {
	server := newFakeEndpoint(t, func(w http.ResponseWriter, body map[string]any) {
		if _, ok := body["max_tokens"]; ok {
			t.Errorf("max_tokens should be absent, body=%v", body)
		}
		if body["max_completion_tokens"] != float64(500) {
			t.Errorf("expected max_completion_tokens 500, got %v", body["max_completion_tokens"])
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"1","object":"chat.completion","model":"o3-mini",
			"choices":[{"index":0,"message":{"role":"assistant","content":"done","reasoning_content":"why"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":1,"completion_tokens":2,"total_tokens":3}}`)
	})

	maxCompletion := 500
	transport := NewOpenAITransport(OpenAIConfig{APIKey: "test", BaseURL: server.URL})
	resp, err := transport.Complete(context.Background(), Params{
		Model:               "o3-mini",
		Messages:            []Message{UserMessage("hi")},
		MaxCompletionTokens: &maxCompletion,
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if resp.Text != "done" {
		t.Errorf("expected 'done', got %q", resp.Text)
	}
	if resp.Reasoning != "why" {
		t.Errorf("expected reasoning 'why', got %q", resp.Reasoning)
	}
	if resp.FinishReason != "stop" {
		t.Errorf("expected finish reason 'stop', got %q", resp.FinishReason)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 3 {
		t.Errorf("expected usage total 3, got %+v", resp.Usage)
	}
	if len(resp.Raw) == 0 {
		t.Error("expected raw body to be captured")
	}
}

func TestOpenAITransportErrorWrapped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	}))
	defer server.Close()

	testKey := "sk-test-invalid-key-12345xyz"
	transport := NewOpenAITransport(OpenAIConfig{APIKey: testKey, BaseURL: server.URL})
	_, err := transport.Stream(context.Background(), Params{Model: "m", Messages: []Message{UserMessage("hi")}})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "stream creation failed") {
		t.Errorf("expected wrapped stream error, got %v", err)
	}
	if strings.Contains(err.Error(), testKey) {
		t.Errorf("error message leaked API key: %v", err)
	}
}

func TestMergeExtraKeepsDottedKeysLiteral(t *testing.T) {
	body := []byte(`{"model":"m"}`)
	extra := map[string]any{
		"web_search_options": map[string]any{},
		"a.b":                1,
	}
	out, err := mergeExtra(body, []string{"a.b", "web_search_options"}, extra)
	if err != nil {
		t.Fatalf("mergeExtra failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded["a.b"] != float64(1) {
		t.Errorf("expected literal key 'a.b', got %v", decoded)
	}
	if _, ok := decoded["web_search_options"].(map[string]any); !ok {
		t.Errorf("expected web_search_options object, got %v", decoded["web_search_options"])
	}
}

func TestFrameCaptureSplitsAcrossReads(t *testing.T) {
	c := newStreamCapture()
	c.feed([]byte("data: {\"a\""))
	if frame := c.next(); frame != nil {
		t.Fatalf("expected no complete frame yet, got %s", frame)
	}
	c.feed([]byte(":1}\n\n: keep-alive\ndata: [DONE]\n"))
	if frame := c.next(); string(frame) != `{"a":1}` {
		t.Errorf("expected {\"a\":1}, got %s", frame)
	}
	if frame := c.next(); frame != nil {
		t.Errorf("expected [DONE] to be skipped, got %s", frame)
	}
}

func TestConvertToOpenAIMessagesMapsPartsAndToolRole(t *testing.T) {
	messages := []Message{
		{Role: RoleUser, Parts: []ContentPart{TextPart("look"), ImagePart("data:image/png;base64,AAAA")}},
		ToolMessage("call-1", "<tool_use_result/>"),
	}

	out := convertToOpenAIMessages(messages)
	if len(out[0].MultiContent) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(out[0].MultiContent))
	}
	if out[0].MultiContent[1].ImageURL == nil || out[0].MultiContent[1].ImageURL.URL != "data:image/png;base64,AAAA" {
		t.Errorf("unexpected image part: %+v", out[0].MultiContent[1])
	}
	if out[1].Role != RoleUser {
		t.Errorf("expected tool result to travel as user, got %q", out[1].Role)
	}
}

func TestNewParamsDecodesKnownFields(t *testing.T) {
	p, err := NewParams("m", nil, map[string]any{
		"temperature":           0.3,
		"max_completion_tokens": 500,
		"stream":                true,
		"thinking":              map[string]any{"type": "enabled", "budget_tokens": 5000},
	})
	if err != nil {
		t.Fatalf("NewParams failed: %v", err)
	}
	if p.Temperature == nil || *p.Temperature != 0.3 {
		t.Errorf("expected temperature 0.3, got %v", p.Temperature)
	}
	if p.MaxTokens != nil {
		t.Errorf("expected max_tokens absent, got %v", *p.MaxTokens)
	}
	if p.MaxCompletionTokens == nil || *p.MaxCompletionTokens != 500 {
		t.Errorf("expected max_completion_tokens 500, got %v", p.MaxCompletionTokens)
	}
	if !p.Stream {
		t.Error("expected stream=true")
	}
	if budget, ok := thinkingBudget(p.Extra, math.MaxInt64); !ok || budget != 5000 {
		t.Errorf("expected thinking budget 5000, got %d (%v)", budget, ok)
	}
}

func TestNewParamsRejectsBadValues(t *testing.T) {
	if _, err := NewParams("m", nil, map[string]any{"temperature": "warm"}); err == nil {
		t.Error("expected error for non-numeric temperature")
	}
}

func TestSplitDataURL(t *testing.T) {
	mime, payload, ok := splitDataURL("data:image/jpeg;base64,QUJD")
	if !ok || mime != "image/jpeg" || payload != "QUJD" {
		t.Errorf("unexpected split: %q %q %v", mime, payload, ok)
	}
	if _, _, ok := splitDataURL("https://example.com/a.png"); ok {
		t.Error("expected plain URL to be rejected")
	}
}
