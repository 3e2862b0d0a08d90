// Tool-use markup embedded in model output.
//
// Information Hiding:
// - Markup grammar and tolerance for whitespace and code fences
// - Argument recovery from model-written JSON
// - Result envelope format fed back to the model

package tools

import (
	"encoding/json"
	"fmt"
	"html"
	"regexp"
	"strings"

	jsonx "github.com/richinex/relay/internal/json"
)

// Markup tags.
const (
	TagToolUse    = "tool_use"
	TagToolResult = "tool_use_result"
)

var toolUsePattern = regexp.MustCompile(`(?s)<tool_use>\s*<name>(.*?)</name>\s*<arguments>(.*?)</arguments>\s*</tool_use>`)

// Invocation is one tool call found in model output.
type Invocation struct {
	Name      string
	Arguments json.RawMessage
	// ArgumentsErr is set when the arguments were not valid JSON.
	ArgumentsErr error
}

// ParseInvocations returns the tool calls in text, in order of appearance.
func ParseInvocations(text string) []Invocation {
	if !strings.Contains(text, "<"+TagToolUse+">") {
		return nil
	}
	matches := toolUsePattern.FindAllStringSubmatch(text, -1)
	invocations := make([]Invocation, 0, len(matches))
	for _, m := range matches {
		name := strings.TrimSpace(m[1])
		if name == "" {
			continue
		}
		inv := Invocation{Name: name}
		args, err := jsonx.Arguments(m[2])
		if err != nil {
			inv.ArgumentsErr = err
			raw, _ := json.Marshal(strings.TrimSpace(m[2]))
			inv.Arguments = raw
		} else {
			inv.Arguments = args
		}
		invocations = append(invocations, inv)
	}
	return invocations
}

// HasInvocation reports whether text contains at least one tool call.
func HasInvocation(text string) bool {
	return strings.Contains(text, "<"+TagToolUse+">") && toolUsePattern.MatchString(text)
}

// FormatResult renders a tool result for the model to read.
func FormatResult(name string, result ToolResult) string {
	var b strings.Builder
	b.WriteString("<" + TagToolResult + ">\n")
	fmt.Fprintf(&b, "<name>%s</name>\n", html.EscapeString(name))
	if result.Success() {
		fmt.Fprintf(&b, "<result>%s</result>\n", result.Output)
	} else {
		fmt.Fprintf(&b, "<error>%s</error>\n", result.Error.Error())
	}
	b.WriteString("</" + TagToolResult + ">")
	return b.String()
}
