// Package model provides domain types shared across packages.
package model

import (
	"encoding/json"
	"strings"
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleDeveloper Role = "developer"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// MessageType distinguishes dialog messages from context markers.
type MessageType string

const (
	// MessageText is an ordinary dialog message.
	MessageText MessageType = "text"
	// MessageClear marks a context reset: earlier messages are not sent.
	MessageClear MessageType = "clear"
)

// AttachmentKind classifies attached files.
type AttachmentKind string

const (
	AttachmentImage    AttachmentKind = "image"
	AttachmentText     AttachmentKind = "text"
	AttachmentDocument AttachmentKind = "document"
	AttachmentOther    AttachmentKind = "other"
)

// Attachment is a file attached to a stored message.
type Attachment struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Path string         `json:"path"`
	Kind AttachmentKind `json:"kind"`
	MIME string         `json:"mime,omitempty"`
}

// IsTextual reports whether the attachment contributes extracted text.
func (a Attachment) IsTextual() bool {
	return a.Kind == AttachmentText || a.Kind == AttachmentDocument
}

// Message is a stored conversation message as the chat application keeps it.
// Messages are treated as immutable once handed to a session.
type Message struct {
	ID          string       `json:"id"`
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	Type        MessageType  `json:"type,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// IsDialog reports whether the message belongs to the user/assistant dialog.
func (m Message) IsDialog() bool {
	return m.Role == RoleUser || m.Role == RoleAssistant
}

// IsEmpty reports whether the message has neither text nor attachments.
func (m Message) IsEmpty() bool {
	return strings.TrimSpace(m.Content) == "" && len(m.Attachments) == 0
}

// CustomParameter is a user-defined request field merged last into the request.
type CustomParameter struct {
	Name string `json:"name" mapstructure:"name"`
	// Type is one of "string", "number", "boolean", "json".
	Type  string `json:"type" mapstructure:"type"`
	Value any    `json:"value" mapstructure:"value"`
}

// AssistantSettings holds per-assistant generation settings.
type AssistantSettings struct {
	Temperature      *float64          `json:"temperature,omitempty" mapstructure:"temperature"`
	TopP             *float64          `json:"top_p,omitempty" mapstructure:"top_p"`
	MaxTokens        int               `json:"max_tokens,omitempty" mapstructure:"max_tokens"`
	ContextCount     int               `json:"context_count" mapstructure:"context_count"`
	ReasoningEffort  string            `json:"reasoning_effort,omitempty" mapstructure:"reasoning_effort"`
	StreamOutput     *bool             `json:"stream_output,omitempty" mapstructure:"stream_output"`
	CustomParameters []CustomParameter `json:"custom_parameters,omitempty" mapstructure:"custom_parameters"`
}

// Streaming reports whether streaming output is enabled (default true).
func (s AssistantSettings) Streaming() bool {
	return s.StreamOutput == nil || *s.StreamOutput
}

// Assistant is the configured persona a conversation runs under.
type Assistant struct {
	ID              string            `json:"id" mapstructure:"id"`
	Name            string            `json:"name" mapstructure:"name"`
	Prompt          string            `json:"prompt" mapstructure:"prompt"`
	Model           *Model            `json:"model,omitempty" mapstructure:"model"`
	EnableWebSearch bool              `json:"enable_web_search" mapstructure:"enable_web_search"`
	Settings        AssistantSettings `json:"settings" mapstructure:"settings"`
}

// Capabilities are the model capability flags the core consults.
// They come from an external capability table.
type Capabilities struct {
	Vision    bool `json:"vision" mapstructure:"vision"`
	Reasoning bool `json:"reasoning" mapstructure:"reasoning"`
	WebSearch bool `json:"web_search" mapstructure:"web_search"`
}

// Model identifies a model served by a provider.
type Model struct {
	ID           string       `json:"id" mapstructure:"id"`
	Provider     string       `json:"provider" mapstructure:"provider"`
	Capabilities Capabilities `json:"capabilities" mapstructure:"capabilities"`
}

// InvocationStatus describes where a tool invocation ended up.
type InvocationStatus string

const (
	InvocationDone  InvocationStatus = "done"
	InvocationError InvocationStatus = "error"
)

// ToolInvocationRecord is one executed tool call.
// Records are appended to the session log and never removed.
type ToolInvocationRecord struct {
	ID        string           `json:"id"`
	Tool      string           `json:"tool"`
	Arguments json.RawMessage  `json:"arguments"`
	Result    string           `json:"result,omitempty"`
	Error     string           `json:"error,omitempty"`
	Status    InvocationStatus `json:"status"`
	Round     int              `json:"round"`
	Duration  time.Duration    `json:"duration"`
}

// Failed reports whether the tool returned an error.
func (r ToolInvocationRecord) Failed() bool {
	return r.Status == InvocationError
}
