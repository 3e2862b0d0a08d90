// Anthropic transport using official anthropic-sdk-go.
//
// Information Hiding:
// - API endpoint and authentication
// - Request/response format for Anthropic Messages API
// - Extended thinking mapped to reasoning deltas

package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

const anthropicDefaultMaxTokens = 4096

// anthropicMinThinkingBudget is the smallest budget the Messages API accepts.
const anthropicMinThinkingBudget = 1024

// AnthropicTransport implements Transport for Anthropic Claude.
type AnthropicTransport struct {
	client anthropic.Client
}

// NewAnthropicTransport creates a new Anthropic transport.
func NewAnthropicTransport(apiKey string, opts ...option.RequestOption) *AnthropicTransport {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &AnthropicTransport{client: anthropic.NewClient(opts...)}
}

// Name returns the provider name.
func (t *AnthropicTransport) Name() string {
	return "anthropic"
}

// Complete sends a non-streaming Messages request.
func (t *AnthropicTransport) Complete(ctx context.Context, params Params) (Response, error) {
	message, err := t.client.Messages.New(ctx, buildAnthropicParams(params))
	if err != nil {
		return Response{}, fmt.Errorf("chat completion failed: %w", err)
	}

	var text, reasoning strings.Builder
	for _, block := range message.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(variant.Text)
		case anthropic.ThinkingBlock:
			reasoning.WriteString(variant.Thinking)
		}
	}

	return Response{
		Text:         text.String(),
		Reasoning:    reasoning.String(),
		FinishReason: string(message.StopReason),
		Usage: &Usage{
			PromptTokens:     int(message.Usage.InputTokens),
			CompletionTokens: int(message.Usage.OutputTokens),
			TotalTokens:      int(message.Usage.InputTokens + message.Usage.OutputTokens),
		},
	}, nil
}

// Stream sends a streaming Messages request.
func (t *AnthropicTransport) Stream(ctx context.Context, params Params) (Stream, error) {
	stream := t.client.Messages.NewStreaming(ctx, buildAnthropicParams(params))
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("stream creation failed: %w", err)
	}
	return &anthropicStream{stream: stream}, nil
}

// anthropicStream adapts the SDK event stream to Stream.
// Events without text, thinking, or usage are skipped.
type anthropicStream struct {
	stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
	usage  Usage
	closed bool
}

func (s *anthropicStream) Recv() (StreamDelta, error) {
	if s.closed {
		return StreamDelta{}, ErrStreamClosed
	}
	for s.stream.Next() {
		event := s.stream.Current()

		switch eventVariant := event.AsAny().(type) {
		case anthropic.MessageStartEvent:
			s.usage.PromptTokens = int(eventVariant.Message.Usage.InputTokens)
		case anthropic.ContentBlockDeltaEvent:
			switch deltaVariant := eventVariant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if deltaVariant.Text != "" {
					return StreamDelta{Text: deltaVariant.Text}, nil
				}
			case anthropic.ThinkingDelta:
				if deltaVariant.Thinking != "" {
					return StreamDelta{ReasoningContent: deltaVariant.Thinking}, nil
				}
			}
		case anthropic.MessageDeltaEvent:
			s.usage.CompletionTokens = int(eventVariant.Usage.OutputTokens)
			s.usage.TotalTokens = s.usage.PromptTokens + s.usage.CompletionTokens
			usage := s.usage
			return StreamDelta{
				FinishReason: string(eventVariant.Delta.StopReason),
				Usage:        &usage,
			}, nil
		}
	}

	if err := s.stream.Err(); err != nil {
		return StreamDelta{}, fmt.Errorf("stream error: %w", err)
	}
	return StreamDelta{}, io.EOF
}

func (s *anthropicStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.stream.Close()
}

func buildAnthropicParams(params Params) anthropic.MessageNewParams {
	anthropicMessages, systemPrompt := convertToAnthropicMessages(params.Messages)

	maxTokens := int64(anthropicDefaultMaxTokens)
	if params.MaxTokens != nil {
		maxTokens = int64(*params.MaxTokens)
	} else if params.MaxCompletionTokens != nil {
		maxTokens = int64(*params.MaxCompletionTokens)
	}

	out := anthropic.MessageNewParams{
		Model:     anthropic.Model(params.Model),
		MaxTokens: maxTokens,
		Messages:  anthropicMessages,
	}
	if params.Temperature != nil {
		out.Temperature = anthropic.Float(*params.Temperature)
	}
	if params.TopP != nil {
		out.TopP = anthropic.Float(*params.TopP)
	}
	if systemPrompt != "" {
		out.System = []anthropic.TextBlockParam{
			{Text: systemPrompt},
		}
	}
	if budget, ok := thinkingBudget(params.Extra, maxTokens); ok {
		out.Thinking = anthropic.ThinkingConfigParamUnion{
			OfEnabled: &anthropic.ThinkingConfigEnabledParam{BudgetTokens: budget},
		}
	}
	return out
}

// thinkingBudget reads {"thinking": {"type": "enabled", "budget_tokens": n}}.
// The budget must stay below maxTokens: it is lowered to maxTokens-1, and
// thinking is dropped when that leaves less than the API minimum.
func thinkingBudget(extra map[string]any, maxTokens int64) (int64, bool) {
	thinking, ok := extra["thinking"].(map[string]any)
	if !ok || thinking["type"] != "enabled" {
		return 0, false
	}
	budget, err := intField("budget_tokens", thinking["budget_tokens"])
	if err != nil {
		return 0, false
	}
	fit := min(int64(*budget), maxTokens-1)
	if fit < anthropicMinThinkingBudget {
		return 0, false
	}
	return fit, true
}

// convertToAnthropicMessages converts our Message to Anthropic format.
// System and developer messages are extracted and returned separately;
// tool results travel as user turns.
func convertToAnthropicMessages(messages []Message) ([]anthropic.MessageParam, string) {
	var anthropicMessages []anthropic.MessageParam
	var system []string

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem, RoleDeveloper:
			system = append(system, msg.Text())
		case RoleUser, RoleTool:
			anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(anthropicBlocks(msg)...))
		case RoleAssistant:
			anthropicMessages = append(anthropicMessages, anthropic.NewAssistantMessage(
				anthropic.NewTextBlock(msg.Text()),
			))
		}
	}

	return anthropicMessages, strings.Join(system, "\n\n")
}

func anthropicBlocks(msg Message) []anthropic.ContentBlockParamUnion {
	if len(msg.Parts) == 0 {
		return []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(msg.Content)}
	}
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Parts))
	for _, part := range msg.Parts {
		if part.Type == PartImageURL {
			if mime, data, ok := splitDataURL(part.ImageURL); ok {
				blocks = append(blocks, anthropic.NewImageBlockBase64(mime, data))
			}
			continue
		}
		blocks = append(blocks, anthropic.NewTextBlock(part.Text))
	}
	return blocks
}

// splitDataURL splits "data:<mime>;base64,<payload>" into mime and payload.
func splitDataURL(url string) (string, string, bool) {
	rest, ok := strings.CutPrefix(url, "data:")
	if !ok {
		return "", "", false
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", "", false
	}
	mime, ok := strings.CutSuffix(header, ";base64")
	if !ok {
		return "", "", false
	}
	return mime, payload, true
}

// decodeDataURL returns the decoded bytes of a base64 data reference.
func decodeDataURL(url string) (string, []byte, bool) {
	mime, payload, ok := splitDataURL(url)
	if !ok {
		return "", nil, false
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, false
	}
	return mime, data, true
}

// Verify AnthropicTransport implements Transport
var _ Transport = (*AnthropicTransport)(nil)
