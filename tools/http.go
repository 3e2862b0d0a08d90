// HTTP Fetch Tool.
//
// Information Hiding:
// - HTTP client implementation details hidden
// - Domain allowlist checks hidden
// - Response size limits hidden

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultMaxResponseBytes bounds the body returned by FetchTool.
const DefaultMaxResponseBytes = 256 * 1024

// FetchTool makes HTTP GET requests.
type FetchTool struct {
	BaseTool
	client         *http.Client
	maxBytes       int64
	allowedDomains []string
}

// NewFetchTool creates a fetch tool with the given client timeout.
func NewFetchTool(timeout time.Duration) *FetchTool {
	return &FetchTool{
		client:   &http.Client{Timeout: timeout},
		maxBytes: DefaultMaxResponseBytes,
	}
}

// WithClient replaces the HTTP client.
func (t *FetchTool) WithClient(client *http.Client) *FetchTool {
	t.client = client
	return t
}

// WithAllowedDomains sets the allowed domains for requests.
func (t *FetchTool) WithAllowedDomains(domains []string) *FetchTool {
	t.allowedDomains = domains
	return t
}

// Metadata returns the tool metadata.
func (t *FetchTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        "fetch_url",
		Description: "Fetch the body of a URL with an HTTP GET request",
		Parameters: []ToolParameter{
			{Name: "url", ParamType: "string", Description: "The http or https URL to fetch", Required: true},
		},
	}
}

type fetchArgs struct {
	URL string `json:"url"`
}

// Validate validates the arguments.
func (t *FetchTool) Validate(args json.RawMessage) error {
	var a fetchArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if a.URL == "" {
		return fmt.Errorf("URL cannot be empty")
	}
	u, err := url.Parse(a.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("invalid URL: %s", a.URL)
	}
	return nil
}

// Execute fetches the URL.
func (t *FetchTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	var a fetchArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return FailureResult(fmt.Errorf("invalid arguments: %w", err)), nil
	}
	if !t.isDomainAllowed(a.URL) {
		return FailureResultf("access to domain in '%s' is not allowed", a.URL), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
	if err != nil {
		return FailureResult(fmt.Errorf("failed to create request: %w", err)), nil
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return FailureResultf("request timeout: %s", a.URL), nil
		}
		return FailureResult(fmt.Errorf("request failed: %w", err)), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBytes))
	if err != nil {
		return FailureResult(fmt.Errorf("failed to read response body: %w", err)), nil
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return SuccessResult(fmt.Sprintf("Status: %s\n\n%s", resp.Status, string(body))), nil
	}
	return FailureResultf("HTTP error: %s\n\n%s", resp.Status, string(body)), nil
}

// isDomainAllowed checks if the URL's domain is in the allowlist.
func (t *FetchTool) isDomainAllowed(urlStr string) bool {
	if len(t.allowedDomains) == 0 {
		return true
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return false
	}
	host := u.Hostname()
	for _, domain := range t.allowedDomains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// Verify FetchTool implements Tool
var _ Tool = (*FetchTool)(nil)
