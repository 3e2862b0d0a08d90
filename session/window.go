// Context window selection and system message construction.

package session

import (
	"strings"

	"github.com/richinex/relay/llm"
	"github.com/richinex/relay/model"
	"github.com/richinex/relay/params"
	"github.com/richinex/relay/tools"
)

// FormattingDirective re-enables markdown output on OpenAI reasoning models,
// which otherwise answer in plain text when given a developer message.
const FormattingDirective = "Formatting re-enabled"

// Window returns the trailing contextCount+1 messages, dropping everything up
// to and including the last clear marker inside that span.
func Window(messages []model.Message, contextCount int) []model.Message {
	size := contextCount + 1
	if size < 1 {
		size = 1
	}
	if len(messages) > size {
		messages = messages[len(messages)-size:]
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Type == model.MessageClear {
			messages = messages[i+1:]
			break
		}
	}
	out := make([]model.Message, len(messages))
	copy(out, messages)
	return out
}

// FilterDialog keeps non-empty user and assistant messages and drops any
// leading non-user entries, so the chain always opens with a user turn.
func FilterDialog(messages []model.Message) []model.Message {
	out := make([]model.Message, 0, len(messages))
	for _, m := range messages {
		if !m.IsDialog() || m.IsEmpty() || m.Type == model.MessageClear {
			continue
		}
		if len(out) == 0 && m.Role != model.RoleUser {
			continue
		}
		out = append(out, m)
	}
	return out
}

// lastUserID returns the id of the last user message.
func lastUserID(messages []model.Message) (string, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == model.RoleUser {
			return messages[i].ID, true
		}
	}
	return "", false
}

// SystemMessage builds the system message for an assistant. OpenAI reasoning
// models get a developer message opened by FormattingDirective. The tool
// usage prompt is appended when tools are available.
func SystemMessage(assistant model.Assistant, m model.Model, toolList []tools.ToolMetadata) llm.Message {
	content := strings.TrimSpace(assistant.Prompt)
	if usage := tools.UsagePrompt(toolList); usage != "" {
		if content != "" {
			content += "\n\n"
		}
		content += usage
	}
	if params.IsOpenAIReasoning(m.ID) {
		if content != "" {
			content = FormattingDirective + "\n" + content
		} else {
			content = FormattingDirective
		}
		return llm.Message{Role: llm.RoleDeveloper, Content: content}
	}
	return llm.SystemMessage(content)
}
