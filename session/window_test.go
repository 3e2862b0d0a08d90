package session

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richinex/relay/llm"
	"github.com/richinex/relay/model"
	"github.com/richinex/relay/tools"
)

func pairs(n int) []model.Message {
	var out []model.Message
	for i := 1; i <= n; i++ {
		out = append(out,
			model.Message{ID: fmt.Sprintf("u%d", i), Role: model.RoleUser, Content: fmt.Sprintf("question %d", i)},
			model.Message{ID: fmt.Sprintf("a%d", i), Role: model.RoleAssistant, Content: fmt.Sprintf("answer %d", i)},
		)
	}
	return out
}

func ids(messages []model.Message) []string {
	out := make([]string, len(messages))
	for i, m := range messages {
		out[i] = m.ID
	}
	return out
}

func TestWindowKeepsContextCountPlusOne(t *testing.T) {
	window := Window(pairs(5), 2)
	assert.Equal(t, []string{"a4", "u5", "a5"}, ids(window))

	// The leading assistant turn is dropped afterwards.
	assert.Equal(t, []string{"u5", "a5"}, ids(FilterDialog(window)))
}

func TestWindowShortHistory(t *testing.T) {
	assert.Equal(t, []string{"u1", "a1"}, ids(Window(pairs(1), 10)))
	assert.Equal(t, []string{"a1"}, ids(Window(pairs(1), 0)))
	assert.Equal(t, []string{"a1"}, ids(Window(pairs(1), -3)))
}

func TestWindowDropsBeforeClearMarker(t *testing.T) {
	history := pairs(2)
	history = append(history, model.Message{ID: "clear", Role: model.RoleUser, Type: model.MessageClear})
	history = append(history, model.Message{ID: "u3", Role: model.RoleUser, Content: "fresh start"})

	assert.Equal(t, []string{"u3"}, ids(Window(history, 10)))

	// A marker outside the trailing window has no effect.
	history = append(history,
		model.Message{ID: "a3", Role: model.RoleAssistant, Content: "ok"},
		model.Message{ID: "u4", Role: model.RoleUser, Content: "next"},
	)
	assert.Equal(t, []string{"u3", "a3", "u4"}, ids(Window(history, 2)))
}

func TestWindowDoesNotAliasInput(t *testing.T) {
	history := pairs(2)
	window := Window(history, 10)
	window[0].Content = "changed"
	assert.Equal(t, "question 1", history[0].Content)
}

func TestFilterDialog(t *testing.T) {
	in := []model.Message{
		{ID: "s", Role: model.RoleSystem, Content: "sys"},
		{ID: "a0", Role: model.RoleAssistant, Content: "greeting"},
		{ID: "u1", Role: model.RoleUser, Content: "hi"},
		{ID: "t", Role: model.RoleTool, Content: "tool output"},
		{ID: "blank", Role: model.RoleAssistant, Content: "   "},
		{ID: "att", Role: model.RoleUser, Attachments: []model.Attachment{{ID: "f", Name: "f.txt", Kind: model.AttachmentText}}},
		{ID: "a1", Role: model.RoleAssistant, Content: "hello"},
	}
	assert.Equal(t, []string{"u1", "att", "a1"}, ids(FilterDialog(in)))
	assert.Empty(t, FilterDialog([]model.Message{{ID: "a", Role: model.RoleAssistant, Content: "x"}}))
}

func TestSystemMessage(t *testing.T) {
	assistant := model.Assistant{Prompt: "You are terse."}
	metas := []tools.ToolMetadata{{Name: "search", Description: "web search"}}

	plain := SystemMessage(assistant, model.Model{ID: "gpt-4o", Provider: "openai"}, nil)
	assert.Equal(t, llm.RoleSystem, plain.Role)
	assert.Equal(t, "You are terse.", plain.Content)

	reasoning := SystemMessage(assistant, model.Model{ID: "o3-mini", Provider: "openai"}, nil)
	assert.Equal(t, llm.RoleDeveloper, reasoning.Role)
	assert.Equal(t, FormattingDirective+"\nYou are terse.", reasoning.Content)

	withTools := SystemMessage(assistant, model.Model{ID: "gpt-4o"}, metas)
	require.Contains(t, withTools.Content, "You are terse.\n\n")
	assert.Contains(t, withTools.Content, "<name>search</name>")

	empty := SystemMessage(model.Assistant{}, model.Model{ID: "gpt-4o"}, nil)
	assert.Empty(t, empty.Content)
}

func TestLastUserID(t *testing.T) {
	id, ok := lastUserID(pairs(3))
	require.True(t, ok)
	assert.Equal(t, "u3", id)

	_, ok = lastUserID(nil)
	assert.False(t, ok)
}
