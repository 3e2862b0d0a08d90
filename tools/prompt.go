package tools

import (
	"fmt"
	"strings"
)

const usagePreamble = `In this environment you have access to a set of tools you can use to answer the user's question.
You can use one or more tools per message, and will receive the result of that tool use in the user's response.
Use tools step by step; each tool use is informed by the result of the previous one.

## Tool Use Formatting

Tool use is formatted using XML-style tags. The tool name is enclosed in <name></name> and the arguments
are a single JSON object enclosed in <arguments></arguments>:

<tool_use>
  <name>{tool_name}</name>
  <arguments>{json_arguments}</arguments>
</tool_use>

The result of each tool use is returned as:

<tool_use_result>
  <name>{tool_name}</name>
  <result>{result}</result>
</tool_use_result>

A failed tool use returns <error>{message}</error> instead of <result>. Do not invent tool results.
`

// UsagePrompt renders the system prompt fragment that teaches the model the
// tool-use markup and lists the available tools. It returns "" when there
// are no tools.
func UsagePrompt(tools []ToolMetadata) string {
	if len(tools) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(usagePreamble)
	b.WriteString("\n## Available Tools\n\n<tools>\n")
	for _, meta := range tools {
		b.WriteString(describe(meta))
	}
	b.WriteString("</tools>\n")
	return b.String()
}

func describe(meta ToolMetadata) string {
	var b strings.Builder
	b.WriteString("<tool>\n")
	fmt.Fprintf(&b, "  <name>%s</name>\n", meta.Name)
	fmt.Fprintf(&b, "  <description>%s</description>\n", meta.Description)
	if len(meta.Parameters) > 0 {
		b.WriteString("  <parameters>\n")
		for _, p := range meta.Parameters {
			required := "optional"
			if p.Required {
				required = "required"
			}
			fmt.Fprintf(&b, "    - %s (%s, %s): %s\n", p.Name, p.ParamType, required, p.Description)
		}
		b.WriteString("  </parameters>\n")
	}
	b.WriteString("</tool>\n")
	return b.String()
}
