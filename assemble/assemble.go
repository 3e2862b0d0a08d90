// Package assemble turns stored conversation messages into the provider's
// message shape.
//
// Information Hiding:
// - Which providers reject structured content
// - Attachment encoding (data references, file text framing)
// - Part ordering rules

package assemble

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/richinex/relay/llm"
	"github.com/richinex/relay/model"
)

// Separator frames extracted file text appended to a message.
const Separator = "\n\n---\n\n"

// flatProviders cannot take array-shaped message content.
var flatProviders = map[string]bool{
	"deepseek": true,
	"baichuan": true,
	"minimax":  true,
	"xirang":   true,
}

// Target describes what the receiving model and provider accept.
type Target struct {
	Vision bool
	// FlatContent forces plain-text content regardless of provider.
	FlatContent bool
	Provider    string
}

// TargetFor builds a Target from a model.
func TargetFor(m model.Model) Target {
	return Target{Vision: m.Capabilities.Vision, Provider: m.Provider}
}

// Structured reports whether the target accepts ordered content parts.
func (t Target) Structured() bool {
	return !t.FlatContent && !flatProviders[strings.ToLower(t.Provider)]
}

// AttachmentReader loads attachment contents.
type AttachmentReader interface {
	// ReadText returns the extracted text of a text or document attachment.
	ReadText(ctx context.Context, a model.Attachment) (string, error)
	// ReadBytes returns the raw bytes of an attachment.
	ReadBytes(ctx context.Context, a model.Attachment) ([]byte, error)
}

// Assembler converts stored messages. It keeps no state across calls.
type Assembler struct {
	reader AttachmentReader
}

// New creates an assembler reading attachments through reader.
func New(reader AttachmentReader) *Assembler {
	return &Assembler{reader: reader}
}

// Assemble converts one stored message for the target.
func (a *Assembler) Assemble(ctx context.Context, msg model.Message, target Target) (llm.Message, error) {
	role := string(msg.Role)
	if len(msg.Attachments) == 0 {
		return llm.Message{Role: role, Content: msg.Content}, nil
	}
	if !target.Structured() {
		text, err := a.flatten(ctx, msg)
		if err != nil {
			return llm.Message{}, err
		}
		return llm.Message{Role: role, Content: text}, nil
	}
	parts, err := a.parts(ctx, msg, target)
	if err != nil {
		return llm.Message{}, err
	}
	return llm.Message{Role: role, Parts: parts}, nil
}

// AssembleAll converts messages in order.
func (a *Assembler) AssembleAll(ctx context.Context, msgs []model.Message, target Target) ([]llm.Message, error) {
	out := make([]llm.Message, 0, len(msgs))
	for _, msg := range msgs {
		m, err := a.Assemble(ctx, msg, target)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (a *Assembler) flatten(ctx context.Context, msg model.Message) (string, error) {
	var files strings.Builder
	for _, att := range msg.Attachments {
		if !att.IsTextual() {
			continue
		}
		text, err := a.readText(ctx, att)
		if err != nil {
			return "", err
		}
		files.WriteString("file: " + att.Name + "\n\n" + text + Separator)
	}
	if files.Len() == 0 {
		return msg.Content, nil
	}
	return msg.Content + Separator + files.String(), nil
}

func (a *Assembler) parts(ctx context.Context, msg model.Message, target Target) ([]llm.ContentPart, error) {
	var parts []llm.ContentPart
	if strings.TrimSpace(msg.Content) != "" {
		parts = append(parts, llm.TextPart(msg.Content))
	}
	for _, att := range msg.Attachments {
		switch {
		case att.Kind == model.AttachmentImage && target.Vision:
			url, err := a.dataURL(ctx, att)
			if err != nil {
				return nil, err
			}
			parts = append(parts, llm.ImagePart(url))
		case att.IsTextual():
			text, err := a.readText(ctx, att)
			if err != nil {
				return nil, err
			}
			parts = append(parts, llm.TextPart(att.Name+"\n"+text))
		}
	}
	return parts, nil
}

func (a *Assembler) readText(ctx context.Context, att model.Attachment) (string, error) {
	text, err := a.reader.ReadText(ctx, att)
	if err != nil {
		return "", fmt.Errorf("failed to read attachment %s: %w", att.Name, err)
	}
	return strings.TrimSpace(text), nil
}

func (a *Assembler) dataURL(ctx context.Context, att model.Attachment) (string, error) {
	data, err := a.reader.ReadBytes(ctx, att)
	if err != nil {
		return "", fmt.Errorf("failed to read image %s: %w", att.Name, err)
	}
	mime := att.MIME
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
