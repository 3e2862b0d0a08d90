// Package llm provides shared data models for LLM transports.
package llm

import (
	"encoding/json"
	"strings"
)

// Wire roles. These mirror model.Role but stay plain strings on the wire.
const (
	RoleSystem    = "system"
	RoleDeveloper = "developer"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// PartType identifies a structured content part.
type PartType string

const (
	PartText     PartType = "text"
	PartImageURL PartType = "image_url"
)

// ContentPart is one element of structured message content.
type ContentPart struct {
	Type PartType `json:"type"`
	Text string   `json:"text,omitempty"`
	// ImageURL is a URL or a data reference ("data:<mime>;base64,<payload>").
	ImageURL string `json:"image_url,omitempty"`
}

// TextPart creates a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: PartText, Text: text}
}

// ImagePart creates an image content part.
func ImagePart(url string) ContentPart {
	return ContentPart{Type: PartImageURL, ImageURL: url}
}

// Message is a chat message in the provider's parameter shape.
// Either Content or Parts is used; Parts wins when non-empty.
type Message struct {
	Role       string        `json:"role"`
	Content    string        `json:"content,omitempty"`
	Parts      []ContentPart `json:"parts,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"` // For tool result messages
}

// Text returns the plain text of the message, joining text parts.
func (m Message) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Type != PartText {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(p.Text)
	}
	return b.String()
}

// SystemMessage creates a system message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage creates a user message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage creates an assistant message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// ToolMessage creates a tool result message.
func ToolMessage(callID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: callID}
}

// Usage contains token usage statistics.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamDelta is one incremental unit of a streamed response.
// Every field is optional; transports leave absent fields empty.
type StreamDelta struct {
	Text string
	// ReasoningContent carries DeepSeek-style "reasoning_content" text.
	ReasoningContent string
	// Reasoning carries OpenRouter-style "reasoning" text.
	Reasoning    string
	FinishReason string
	Usage        *Usage
	// Raw is the provider frame the delta was decoded from, when available.
	Raw json.RawMessage
}

// ReasoningText returns whichever reasoning field the provider populated.
func (d StreamDelta) ReasoningText() string {
	if d.ReasoningContent != "" {
		return d.ReasoningContent
	}
	return d.Reasoning
}

// HasReasoning reports whether the delta carries reasoning text.
func (d StreamDelta) HasReasoning() bool {
	return d.ReasoningContent != "" || d.Reasoning != ""
}

// Response is a complete, non-streamed response.
type Response struct {
	Text         string
	Reasoning    string
	FinishReason string
	Usage        *Usage
	Raw          json.RawMessage
}
