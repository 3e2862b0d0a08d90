// Google Gemini transport using official google.golang.org/genai SDK.
//
// Information Hiding:
// - API authentication and client creation
// - Request/response format for Gemini API
// - Thought parts mapped to reasoning deltas
// - Streaming via official SDK iterator

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"strings"

	"google.golang.org/genai"
)

// GeminiTransport implements Transport for Google Gemini.
type GeminiTransport struct {
	client  *genai.Client
	initErr error // Stores client initialization error for deferred reporting
}

// NewGeminiTransport creates a new Gemini transport.
// If client initialization fails, the error is stored and returned on first use.
func NewGeminiTransport(apiKey string) *GeminiTransport {
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return &GeminiTransport{initErr: fmt.Errorf("failed to initialize Gemini client: %w", err)}
	}
	return &GeminiTransport{client: client}
}

// Name returns the provider name.
func (t *GeminiTransport) Name() string {
	return "gemini"
}

func (t *GeminiTransport) ready() error {
	if t.initErr != nil {
		return t.initErr
	}
	if t.client == nil {
		return fmt.Errorf("gemini client not initialized")
	}
	return nil
}

// Complete sends a non-streaming GenerateContent request.
func (t *GeminiTransport) Complete(ctx context.Context, params Params) (Response, error) {
	if err := t.ready(); err != nil {
		return Response{}, err
	}
	contents, config := buildGeminiRequest(params)

	response, err := t.client.Models.GenerateContent(ctx, params.Model, contents, config)
	if err != nil {
		return Response{}, fmt.Errorf("chat completion failed: %w", err)
	}
	delta := geminiDelta(response)
	return Response{
		Text:         delta.Text,
		Reasoning:    delta.ReasoningContent,
		FinishReason: delta.FinishReason,
		Usage:        delta.Usage,
		Raw:          delta.Raw,
	}, nil
}

// Stream sends a streaming GenerateContent request.
func (t *GeminiTransport) Stream(ctx context.Context, params Params) (Stream, error) {
	if err := t.ready(); err != nil {
		return nil, err
	}
	contents, config := buildGeminiRequest(params)

	// GenerateContentStream returns iter.Seq2[*GenerateContentResponse, error]
	seq := t.client.Models.GenerateContentStream(ctx, params.Model, contents, config)
	next, stop := iter.Pull2(seq)
	return &geminiStream{next: next, stop: stop}, nil
}

type geminiStream struct {
	next   func() (*genai.GenerateContentResponse, error, bool)
	stop   func()
	closed bool
}

func (s *geminiStream) Recv() (StreamDelta, error) {
	if s.closed {
		return StreamDelta{}, ErrStreamClosed
	}
	response, err, ok := s.next()
	if !ok {
		return StreamDelta{}, io.EOF
	}
	if err != nil {
		return StreamDelta{}, fmt.Errorf("stream error: %w", err)
	}
	return geminiDelta(response), nil
}

func (s *geminiStream) Close() error {
	if !s.closed {
		s.closed = true
		s.stop()
	}
	return nil
}

// geminiDelta splits a response into answer text and thought text.
func geminiDelta(response *genai.GenerateContentResponse) StreamDelta {
	var delta StreamDelta
	if response == nil {
		return delta
	}
	if raw, err := json.Marshal(response); err == nil {
		delta.Raw = raw
	}

	if len(response.Candidates) > 0 {
		candidate := response.Candidates[0]
		delta.FinishReason = string(candidate.FinishReason)
		if candidate.Content != nil {
			var text, thought strings.Builder
			for _, part := range candidate.Content.Parts {
				if part == nil || part.Text == "" {
					continue
				}
				if part.Thought {
					thought.WriteString(part.Text)
				} else {
					text.WriteString(part.Text)
				}
			}
			delta.Text = text.String()
			delta.ReasoningContent = thought.String()
		}
	}

	if response.UsageMetadata != nil {
		delta.Usage = &Usage{
			PromptTokens:     int(response.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(response.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(response.UsageMetadata.TotalTokenCount),
		}
	}
	return delta
}

func buildGeminiRequest(params Params) ([]*genai.Content, *genai.GenerateContentConfig) {
	contents, systemInstruction := convertToGeminiMessages(params.Messages)

	config := &genai.GenerateContentConfig{}
	if params.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*params.Temperature))
	}
	if params.TopP != nil {
		config.TopP = genai.Ptr(float32(*params.TopP))
	}
	if params.MaxTokens != nil {
		config.MaxOutputTokens = int32(*params.MaxTokens)
	}
	if systemInstruction != "" {
		config.SystemInstruction = genai.NewContentFromText(systemInstruction, genai.RoleUser)
	}
	if budget, include, ok := geminiThinking(params.Extra); ok {
		config.ThinkingConfig = &genai.ThinkingConfig{
			IncludeThoughts: include,
			ThinkingBudget:  genai.Ptr(budget),
		}
	}
	return contents, config
}

// geminiThinking reads {"thinking_config": {"thinking_budget": n, "include_thoughts": b}}.
func geminiThinking(extra map[string]any) (int32, bool, bool) {
	cfg, ok := extra["thinking_config"].(map[string]any)
	if !ok {
		return 0, false, false
	}
	budget, err := intField("thinking_budget", cfg["thinking_budget"])
	if err != nil {
		return 0, false, false
	}
	include, _ := cfg["include_thoughts"].(bool)
	return int32(*budget), include, true
}

// convertToGeminiMessages converts our Message to Gemini format.
// Extracts system and developer messages and returns them separately.
func convertToGeminiMessages(messages []Message) ([]*genai.Content, string) {
	var contents []*genai.Content
	var system []string

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem, RoleDeveloper:
			system = append(system, msg.Text())
		case RoleUser, RoleTool:
			contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: geminiParts(msg)})
		case RoleAssistant:
			contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: geminiParts(msg)})
		}
	}

	return contents, strings.Join(system, "\n\n")
}

func geminiParts(msg Message) []*genai.Part {
	if len(msg.Parts) == 0 {
		return []*genai.Part{{Text: msg.Content}}
	}
	parts := make([]*genai.Part, 0, len(msg.Parts))
	for _, part := range msg.Parts {
		if part.Type == PartImageURL {
			if mime, data, ok := decodeDataURL(part.ImageURL); ok {
				parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: mime, Data: data}})
			}
			continue
		}
		parts = append(parts, &genai.Part{Text: part.Text})
	}
	return parts
}

// Verify GeminiTransport implements Transport
var _ Transport = (*GeminiTransport)(nil)
