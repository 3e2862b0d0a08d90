package tools

import (
	"errors"
	"strings"
	"testing"
)

func TestParseInvocationsNone(t *testing.T) {
	if got := ParseInvocations("Just an answer, no tools."); got != nil {
		t.Errorf("expected no invocations, got %v", got)
	}
	if HasInvocation("<tool_use><name>x</name>") {
		t.Error("unterminated markup must not count as an invocation")
	}
}

func TestParseInvocationsInOrder(t *testing.T) {
	text := `Let me check.
<tool_use>
  <name>search</name>
  <arguments>{"query": "go generics"}</arguments>
</tool_use>
and also
<tool_use><name> read_file </name><arguments>` + "```json\n{\"path\": \"/tmp/a\"}\n```" + `</arguments></tool_use>`

	got := ParseInvocations(text)
	if len(got) != 2 {
		t.Fatalf("expected 2 invocations, got %d", len(got))
	}
	if got[0].Name != "search" || string(got[0].Arguments) != `{"query":"go generics"}` {
		t.Errorf("unexpected first invocation: %s %s", got[0].Name, got[0].Arguments)
	}
	if got[1].Name != "read_file" || string(got[1].Arguments) != `{"path":"/tmp/a"}` {
		t.Errorf("unexpected second invocation: %s %s", got[1].Name, got[1].Arguments)
	}
	if !HasInvocation(text) {
		t.Error("expected HasInvocation to be true")
	}
}

func TestParseInvocationsBadArguments(t *testing.T) {
	got := ParseInvocations(`<tool_use><name>search</name><arguments>query=go</arguments></tool_use>`)
	if len(got) != 1 {
		t.Fatalf("expected 1 invocation, got %d", len(got))
	}
	if got[0].ArgumentsErr == nil {
		t.Error("expected argument error")
	}
	if string(got[0].Arguments) != `"query=go"` {
		t.Errorf("expected raw arguments kept as a JSON string, got %s", got[0].Arguments)
	}
}

func TestParseInvocationsEmptyArguments(t *testing.T) {
	got := ParseInvocations(`<tool_use><name>now</name><arguments></arguments></tool_use>`)
	if len(got) != 1 || string(got[0].Arguments) != "{}" {
		t.Fatalf("expected empty object arguments, got %+v", got)
	}
}

func TestFormatResult(t *testing.T) {
	ok := FormatResult("search", SuccessResult("3 hits"))
	if !strings.HasPrefix(ok, "<tool_use_result>") || !strings.Contains(ok, "<result>3 hits</result>") {
		t.Errorf("unexpected success envelope: %s", ok)
	}

	failed := FormatResult("search", FailureResult(errors.New("quota exceeded")))
	if !strings.Contains(failed, "<error>quota exceeded</error>") {
		t.Errorf("unexpected failure envelope: %s", failed)
	}
	if strings.Contains(failed, "<result>") {
		t.Errorf("failure envelope must not carry a result: %s", failed)
	}
}

func TestUsagePrompt(t *testing.T) {
	if UsagePrompt(nil) != "" {
		t.Error("expected empty prompt without tools")
	}
	prompt := UsagePrompt([]ToolMetadata{NewReadFileTool(0).Metadata()})
	for _, want := range []string{"<tool_use>", "<name>read_file</name>", "path (string, required)"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("expected prompt to contain %q", want)
		}
	}
}
