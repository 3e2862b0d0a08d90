// List files tool for discovery before read_file.
//
// Returns file paths matching a name pattern without reading content.

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultListMaxResults is the default maximum paths per call.
const DefaultListMaxResults = 100

// ListFilesTool lists files under a directory whose base name matches a pattern.
type ListFilesTool struct {
	allowedPaths []string
	maxResults   int
}

// NewListFilesTool creates a list tool capped at maxResults paths.
func NewListFilesTool(maxResults int) *ListFilesTool {
	if maxResults <= 0 {
		maxResults = DefaultListMaxResults
	}
	return &ListFilesTool{maxResults: maxResults}
}

// WithAllowedPaths restricts listing to the given path prefixes.
func (t *ListFilesTool) WithAllowedPaths(paths []string) *ListFilesTool {
	t.allowedPaths = paths
	return t
}

// Metadata returns tool metadata.
func (t *ListFilesTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        "list_files",
		Description: "List files whose name matches a pattern. Returns paths only; hidden directories are skipped. Use read_file to load content.",
		Parameters: []ToolParameter{
			{Name: "pattern", ParamType: "string", Description: "File name pattern, e.g. '*.go' (default: all files)", Required: false},
			{Name: "path", ParamType: "string", Description: "Directory to search (default: current directory)", Required: false},
			{Name: "recursive", ParamType: "boolean", Description: "Descend into subdirectories (default: true)", Required: false},
		},
	}
}

type listFilesArgs struct {
	Pattern   string `json:"pattern"`
	Path      string `json:"path"`
	Recursive *bool  `json:"recursive"`
}

// parseListFilesArgs accepts empty arguments since every field is optional.
func parseListFilesArgs(raw json.RawMessage) (listFilesArgs, error) {
	var a listFilesArgs
	if len(raw) == 0 {
		return a, nil
	}
	err := json.Unmarshal(raw, &a)
	return a, err
}

// Validate validates the arguments.
func (t *ListFilesTool) Validate(args json.RawMessage) error {
	a, err := parseListFilesArgs(args)
	if err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if a.Pattern != "" {
		if _, err := filepath.Match(a.Pattern, ""); err != nil {
			return fmt.Errorf("invalid pattern: %w", err)
		}
	}
	return nil
}

// Execute walks the directory.
func (t *ListFilesTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	a, err := parseListFilesArgs(args)
	if err != nil {
		return FailureResultf("invalid arguments: %v", err), nil
	}
	base := a.Path
	if base == "" {
		base = "."
	}
	pattern := a.Pattern
	if pattern == "" {
		pattern = "*"
	}
	recursive := a.Recursive == nil || *a.Recursive

	if !pathAllowed(base, t.allowedPaths) {
		return FailureResultf("access to path '%s' is not allowed", base), nil
	}
	info, err := os.Stat(base)
	if err != nil {
		return FailureResultf("path not found: %s", base), nil
	}
	if !info.IsDir() {
		return FailureResultf("path is not a directory: %s", base), nil
	}

	var matches []string
	truncated := false
	err = filepath.WalkDir(base, func(path string, entry fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			if entry != nil && entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if entry.IsDir() {
			if path == base {
				return nil
			}
			if strings.HasPrefix(entry.Name(), ".") || !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if ok, _ := filepath.Match(pattern, entry.Name()); !ok {
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return nil
		}
		if len(matches) >= t.maxResults {
			truncated = true
			return filepath.SkipAll
		}
		matches = append(matches, filepath.ToSlash(rel))
		return nil
	})
	if ctx.Err() != nil {
		return ToolResult{}, ctx.Err()
	}
	if err != nil {
		return FailureResult(fmt.Errorf("failed to list files: %w", err)), nil
	}

	if len(matches) == 0 {
		return SuccessResult(fmt.Sprintf("No files matching '%s' in %s", pattern, base)), nil
	}
	sort.Strings(matches)
	var out strings.Builder
	fmt.Fprintf(&out, "Found %d files matching '%s':\n", len(matches), pattern)
	for _, m := range matches {
		out.WriteString(m + "\n")
	}
	if truncated {
		fmt.Fprintf(&out, "(limited to %d results)\n", t.maxResults)
	}
	return SuccessResult(out.String()), nil
}

// Verify ListFilesTool implements Tool
var _ Tool = (*ListFilesTool)(nil)
