// MCP tool wrapper - exposes server tools as tools.Tool.
//
// Information Hiding:
// - MCP client lifecycle hidden
// - Schema parsing hidden
// - tools/call result decoding hidden

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/richinex/relay/tools"
)

// Toolset holds the tools of one or more MCP servers.
// The caller must call Close() when done to release resources.
type Toolset struct {
	clients []*Client
	tools   []tools.Tool
}

// Tools returns the discovered tools.
func (s *Toolset) Tools() []tools.Tool {
	return s.tools
}

// Close closes every MCP client.
func (s *Toolset) Close() error {
	var firstErr error
	for _, c := range s.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DiscoverTools connects to one MCP server and lists its tools.
// All tools share the server's client.
//
// Example:
//
//	set, err := mcp.DiscoverTools(ctx, mcp.ServerConfig{
//	    Command: "npx",
//	    Args:    []string{"-y", "@modelcontextprotocol/server-brave-search"},
//	})
//	if err != nil {
//	    return err
//	}
//	defer set.Close()
func DiscoverTools(ctx context.Context, cfg ServerConfig) (*Toolset, error) {
	client, err := NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MCP server: %w", err)
	}
	return discover(ctx, client)
}

// Connect starts every server in config, in name order, and merges their tools.
func Connect(ctx context.Context, config *Config) (*Toolset, error) {
	merged := &Toolset{}
	for _, name := range config.Names() {
		set, err := DiscoverTools(ctx, config.MCPServers[name])
		if err != nil {
			merged.Close()
			return nil, fmt.Errorf("server %s: %w", name, err)
		}
		merged.clients = append(merged.clients, set.clients...)
		merged.tools = append(merged.tools, set.tools...)
	}
	return merged, nil
}

func discover(ctx context.Context, client *Client) (*Toolset, error) {
	infos, err := client.ListTools(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	result := make([]tools.Tool, len(infos))
	for i, info := range infos {
		result[i] = &remoteTool{
			client:      client,
			name:        info.Name,
			description: stringValue(info.Description),
			inputSchema: info.InputSchema,
		}
	}

	return &Toolset{clients: []*Client{client}, tools: result}, nil
}

// stringValue returns empty string for nil pointers.
func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// remoteTool is a server tool called through a shared client.
type remoteTool struct {
	client      *Client
	name        string
	description string
	inputSchema json.RawMessage
}

// Metadata returns the tool metadata extracted from the MCP schema.
func (t *remoteTool) Metadata() tools.ToolMetadata {
	return tools.ToolMetadata{
		Name:        t.name,
		Description: t.description,
		Parameters:  parseParameters(t.inputSchema),
	}
}

// Execute calls the tool on the server. Errors reported by the tool itself
// become failed results; transport failures are returned as failed results too.
func (t *remoteTool) Execute(ctx context.Context, args json.RawMessage) (tools.ToolResult, error) {
	result, err := t.client.CallTool(ctx, t.name, args)
	if err != nil {
		if ctx.Err() != nil {
			return tools.ToolResult{}, ctx.Err()
		}
		return tools.FailureResultf("tool call failed: %w", err), nil
	}
	return decodeResult(result), nil
}

// Validate validates that arguments are a JSON object.
// Note: Schema validation is performed by the MCP server.
func (t *remoteTool) Validate(args json.RawMessage) error {
	if len(args) == 0 {
		return nil
	}
	if !gjson.ValidBytes(args) || !gjson.ParseBytes(args).IsObject() {
		return fmt.Errorf("arguments must be a JSON object")
	}
	return nil
}

// decodeResult joins the text content of a tools/call result.
func decodeResult(raw json.RawMessage) tools.ToolResult {
	if !gjson.ValidBytes(raw) {
		return tools.SuccessResult(string(raw))
	}
	parsed := gjson.ParseBytes(raw)

	var texts []string
	parsed.Get("content").ForEach(func(_, item gjson.Result) bool {
		switch item.Get("type").String() {
		case "text":
			texts = append(texts, item.Get("text").String())
		case "resource":
			if text := item.Get("resource.text"); text.Exists() {
				texts = append(texts, text.String())
			}
		default:
			texts = append(texts, fmt.Sprintf("[%s content omitted]", item.Get("type").String()))
		}
		return true
	})

	output := strings.Join(texts, "\n")
	if len(texts) == 0 {
		output = parsed.Raw
	}
	if parsed.Get("isError").Bool() {
		return tools.FailureResultf("%s", output)
	}
	return tools.SuccessResult(output)
}

// parseParameters extracts tool parameters from the JSON schema.
// Returns parameters in sorted order for deterministic output.
func parseParameters(inputSchema json.RawMessage) []tools.ToolParameter {
	if !gjson.ValidBytes(inputSchema) {
		return nil
	}
	schema := gjson.ParseBytes(inputSchema)

	required := make(map[string]bool)
	for _, r := range schema.Get("required").Array() {
		required[r.String()] = true
	}

	properties := schema.Get("properties").Map()
	names := make([]string, 0, len(properties))
	for name := range properties {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make([]tools.ToolParameter, 0, len(names))
	for _, name := range names {
		prop := properties[name]
		paramType := prop.Get("type").String()
		if paramType == "" {
			paramType = "string"
		}

		params = append(params, tools.ToolParameter{
			Name:        name,
			Description: prop.Get("description").String(),
			ParamType:   paramType,
			Required:    required[name],
		})
	}

	return params
}

// Verify remoteTool implements tools.Tool
var _ tools.Tool = (*remoteTool)(nil)
