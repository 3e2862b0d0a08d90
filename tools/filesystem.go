// Filesystem Tool - read-only file access for the model.
//
// Information Hiding:
// - File I/O implementation details hidden
// - Path allowlist checks hidden
// - Size limits and line windowing hidden

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultMaxFileSize bounds files read by ReadFileTool.
const DefaultMaxFileSize = 1024 * 1024

// ReadFileTool reads text files, optionally a window of lines.
type ReadFileTool struct {
	allowedPaths []string
	maxSizeBytes int64
}

// NewReadFileTool creates a new read file tool.
func NewReadFileTool(maxSizeBytes int64) *ReadFileTool {
	if maxSizeBytes <= 0 {
		maxSizeBytes = DefaultMaxFileSize
	}
	return &ReadFileTool{maxSizeBytes: maxSizeBytes}
}

// WithAllowedPaths restricts reads to the given path prefixes.
func (t *ReadFileTool) WithAllowedPaths(paths []string) *ReadFileTool {
	t.allowedPaths = paths
	return t
}

// Metadata returns the tool metadata.
func (t *ReadFileTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        "read_file",
		Description: "Read a text file from the local filesystem",
		Parameters: []ToolParameter{
			{Name: "path", ParamType: "string", Description: "Path to the file to read", Required: true},
			{Name: "offset", ParamType: "integer", Description: "First line to return, 1-based", Required: false},
			{Name: "limit", ParamType: "integer", Description: "Maximum number of lines to return", Required: false},
		},
	}
}

type readFileArgs struct {
	Path   string `json:"path"`
	Offset int    `json:"offset"`
	Limit  int    `json:"limit"`
}

// Validate validates the arguments.
func (t *ReadFileTool) Validate(args json.RawMessage) error {
	var a readFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(a.Path) == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if a.Offset < 0 || a.Limit < 0 {
		return fmt.Errorf("offset and limit must be non-negative")
	}
	return nil
}

// Execute reads the file.
func (t *ReadFileTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	var a readFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return FailureResult(fmt.Errorf("invalid arguments: %w", err)), nil
	}
	if !pathAllowed(a.Path, t.allowedPaths) {
		return FailureResultf("access to path '%s' is not allowed", a.Path), nil
	}

	info, err := os.Stat(a.Path)
	if os.IsNotExist(err) {
		return FailureResultf("file does not exist: %s", a.Path), nil
	}
	if err != nil {
		return FailureResult(fmt.Errorf("failed to read file metadata: %w", err)), nil
	}
	if info.IsDir() {
		return FailureResultf("path is a directory: %s", a.Path), nil
	}
	if info.Size() > t.maxSizeBytes {
		return FailureResultf("file too large: %d bytes (max: %d bytes)", info.Size(), t.maxSizeBytes), nil
	}

	content, err := os.ReadFile(a.Path)
	if err != nil {
		return FailureResult(fmt.Errorf("failed to read file: %w", err)), nil
	}
	if ctx.Err() != nil {
		return ToolResult{}, ctx.Err()
	}
	return SuccessResult(lineWindow(string(content), a.Offset, a.Limit)), nil
}

// lineWindow returns limit lines starting at the 1-based offset.
// Zero values select from the first line and to the end.
func lineWindow(content string, offset, limit int) string {
	if offset <= 1 && limit == 0 {
		return content
	}
	lines := strings.SplitAfter(content, "\n")
	start := max(offset-1, 0)
	if start >= len(lines) {
		return ""
	}
	end := len(lines)
	if limit > 0 {
		end = min(start+limit, len(lines))
	}
	return strings.Join(lines[start:end], "")
}

// pathAllowed checks if a path is within the allowed paths.
// If allowedPaths is empty, all paths are allowed.
func pathAllowed(path string, allowedPaths []string) bool {
	if len(allowedPaths) == 0 {
		return true
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	for _, allowed := range allowedPaths {
		allowedAbs, err := filepath.Abs(allowed)
		if err != nil {
			continue
		}
		if absPath == allowedAbs || strings.HasPrefix(absPath, allowedAbs+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Verify ReadFileTool implements Tool
var _ Tool = (*ReadFileTool)(nil)
