// OpenAI-compatible transport using go-openai library.
//
// Information Hiding:
// - API endpoint, base URL and authentication
// - Request/response format for the Chat Completions API
// - Extension fields merged into the body via request hooks
// - Reasoning fields read from raw frames (reasoning_content, reasoning)

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
	"github.com/tidwall/gjson"
)

// OpenAITransport implements Transport for any OpenAI-compatible endpoint.
type OpenAITransport struct {
	client *openai.Client
	name   string
}

// OpenAIConfig configures an OpenAI-compatible transport.
type OpenAIConfig struct {
	// Name is the provider id reported by Name (e.g. "openai", "deepseek").
	Name    string
	APIKey  string
	BaseURL string
	// HTTPClient is the base client; request hooks are layered on top.
	HTTPClient *http.Client
}

// NewOpenAITransport creates a new OpenAI-compatible transport.
func NewOpenAITransport(cfg OpenAIConfig) *OpenAITransport {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	config.HTTPClient = newHookClient(cfg.HTTPClient)

	name := cfg.Name
	if name == "" {
		name = "openai"
	}
	return &OpenAITransport{
		client: openai.NewClientWithConfig(config),
		name:   name,
	}
}

// Name returns the provider name.
func (t *OpenAITransport) Name() string {
	return t.name
}

// Complete sends a non-streaming chat completion request.
func (t *OpenAITransport) Complete(ctx context.Context, params Params) (Response, error) {
	req := t.buildRequest(params)
	req.Stream = false

	capture := newBodyCapture()
	ctx = withHooks(ctx, t.hooks(params, capture))

	resp, err := t.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Response{}, fmt.Errorf("chat completion failed: %w", err)
	}

	raw := capture.raw()
	out := Response{Raw: raw}
	if len(resp.Choices) > 0 {
		out.Text = resp.Choices[0].Message.Content
		out.FinishReason = string(resp.Choices[0].FinishReason)
	}
	out.Reasoning = firstString(raw,
		"choices.0.message.reasoning_content",
		"choices.0.message.reasoning",
	)
	out.Usage = &Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	return out, nil
}

// Stream sends a streaming chat completion request.
func (t *OpenAITransport) Stream(ctx context.Context, params Params) (Stream, error) {
	req := t.buildRequest(params)
	req.Stream = true
	req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	capture := newStreamCapture()
	ctx = withHooks(ctx, t.hooks(params, capture))

	stream, err := t.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("stream creation failed: %w", err)
	}
	return &openAIStream{stream: stream, capture: capture}, nil
}

func (t *OpenAITransport) hooks(params Params, capture *frameCapture) *requestHooks {
	extra := params.Extra
	keys := params.ExtraKeys()
	if params.ReasoningEffort != "" {
		extra = make(map[string]any, len(params.Extra)+1)
		for k, v := range params.Extra {
			extra[k] = v
		}
		extra[FieldReasoningEffort] = params.ReasoningEffort
		keys = append(keys, FieldReasoningEffort)
	}
	return &requestHooks{extra: extra, keys: keys, capture: capture}
}

func (t *OpenAITransport) buildRequest(params Params) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:    params.Model,
		Messages: convertToOpenAIMessages(params.Messages),
	}
	if params.Temperature != nil {
		req.Temperature = float32(*params.Temperature)
	}
	if params.TopP != nil {
		req.TopP = float32(*params.TopP)
	}
	if params.MaxTokens != nil {
		req.MaxTokens = *params.MaxTokens
	}
	if params.MaxCompletionTokens != nil {
		req.MaxCompletionTokens = *params.MaxCompletionTokens
	}
	return req
}

// openAIStream adapts a go-openai stream to Stream.
type openAIStream struct {
	stream  *openai.ChatCompletionStream
	capture *frameCapture
	closed  bool
}

// Recv returns the next delta, or io.EOF when the stream ends.
func (s *openAIStream) Recv() (StreamDelta, error) {
	if s.closed {
		return StreamDelta{}, ErrStreamClosed
	}
	response, err := s.stream.Recv()
	if errors.Is(err, io.EOF) {
		return StreamDelta{}, io.EOF
	}
	if err != nil {
		return StreamDelta{}, fmt.Errorf("stream recv failed: %w", err)
	}

	raw := s.capture.next()
	delta := StreamDelta{
		Raw:              raw,
		ReasoningContent: gjson.GetBytes(raw, "choices.0.delta.reasoning_content").String(),
		Reasoning:        gjson.GetBytes(raw, "choices.0.delta.reasoning").String(),
	}
	if len(response.Choices) > 0 {
		delta.Text = response.Choices[0].Delta.Content
		delta.FinishReason = string(response.Choices[0].FinishReason)
	}
	// Capture token usage from final chunk
	if response.Usage != nil {
		delta.Usage = &Usage{
			PromptTokens:     response.Usage.PromptTokens,
			CompletionTokens: response.Usage.CompletionTokens,
			TotalTokens:      response.Usage.TotalTokens,
		}
	}
	return delta, nil
}

// Close releases the underlying HTTP response.
func (s *openAIStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.stream.Close()
	return nil
}

// convertToOpenAIMessages converts our Message to openai.ChatCompletionMessage.
// Tool results produced from tool-use markup have no matching assistant
// tool_calls entry, so they travel as user turns.
func convertToOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		role := msg.Role
		if role == RoleTool {
			role = RoleUser
		}
		oaiMsg := openai.ChatCompletionMessage{Role: role}
		if len(msg.Parts) == 0 {
			oaiMsg.Content = msg.Content
		} else {
			for _, part := range msg.Parts {
				switch part.Type {
				case PartImageURL:
					oaiMsg.MultiContent = append(oaiMsg.MultiContent, openai.ChatMessagePart{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: part.ImageURL},
					})
				default:
					oaiMsg.MultiContent = append(oaiMsg.MultiContent, openai.ChatMessagePart{
						Type: openai.ChatMessagePartTypeText,
						Text: part.Text,
					})
				}
			}
		}
		result[i] = oaiMsg
	}
	return result
}

// firstString returns the first non-empty string found at the given paths.
func firstString(raw []byte, paths ...string) string {
	for _, path := range paths {
		if v := gjson.GetBytes(raw, path).String(); v != "" {
			return v
		}
	}
	return ""
}

// Verify OpenAITransport implements Transport
var _ Transport = (*OpenAITransport)(nil)
