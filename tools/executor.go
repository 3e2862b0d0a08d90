// Tool Executor with Retry Logic.
//
// Information Hiding:
// - Tool lookup and argument validation
// - Retry strategy and backoff
// - Per-attempt timeout

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Runner executes tools by name. Tool failures come back as failed results;
// the error return is reserved for cancellation of the caller's context.
type Runner interface {
	Run(ctx context.Context, name string, args json.RawMessage) (ToolResult, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, name string, args json.RawMessage) (ToolResult, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, name string, args json.RawMessage) (ToolResult, error) {
	return f(ctx, name, args)
}

// Executor runs registry tools with retry and timeout support.
type Executor struct {
	registry *Registry
	config   ToolConfig
	// backoff is replaced in tests.
	backoff func(attempt uint32) time.Duration
}

// NewExecutor creates an executor over registry with the given configuration.
func NewExecutor(registry *Registry, config ToolConfig) *Executor {
	return &Executor{registry: registry, config: config, backoff: calculateBackoff}
}

// NewDefaultExecutor creates an executor with default configuration.
func NewDefaultExecutor(registry *Registry) *Executor {
	return NewExecutor(registry, DefaultToolConfig())
}

// Registry returns the tools the executor can run.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Run looks up the named tool, validates the arguments, and executes it with
// retries.
func (e *Executor) Run(ctx context.Context, name string, args json.RawMessage) (ToolResult, error) {
	tool, ok := e.registry.Get(name)
	if !ok {
		return FailureResultf("unknown tool '%s'", name), nil
	}
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	if err := tool.Validate(args); err != nil {
		return FailureResult(fmt.Errorf("validation failed: %w", err)), nil
	}
	return e.Execute(ctx, tool, args)
}

// Execute runs a tool with retry logic. Each attempt gets its own timeout.
func (e *Executor) Execute(ctx context.Context, tool Tool, args json.RawMessage) (ToolResult, error) {
	var lastErr error
	toolName := tool.Metadata().Name
	attempts := e.config.Attempts()

	for attempt := uint32(0); attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ToolResult{}, ctx.Err()
			case <-time.After(e.backoff(attempt)):
			}
		}

		result, err := e.attempt(ctx, tool, args)
		if ctx.Err() != nil {
			return ToolResult{}, ctx.Err()
		}
		if err != nil {
			lastErr = err
			continue
		}
		if result.Success() || !shouldRetry(result) {
			return result, nil
		}
		lastErr = result.Error
	}

	errMsg := "unknown error"
	if lastErr != nil {
		errMsg = lastErr.Error()
	}
	if attempts == 1 {
		return FailureResultf("tool '%s' failed: %s", toolName, errMsg), nil
	}
	return FailureResultf("tool '%s' failed after %d attempts: %s", toolName, attempts, errMsg), nil
}

func (e *Executor) attempt(ctx context.Context, tool Tool, args json.RawMessage) (ToolResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout())
	defer cancel()

	result, err := tool.Execute(ctx, args)
	if ctx.Err() == context.DeadlineExceeded && (err != nil || !result.Success()) {
		return FailureResultf("timeout after %s", e.config.Timeout()), nil
	}
	return result, err
}

// calculateBackoff returns the backoff duration for the given attempt.
func calculateBackoff(attempt uint32) time.Duration {
	const (
		baseDelay = 100 * time.Millisecond
		maxDelay  = 5 * time.Second
	)

	delay := baseDelay * time.Duration(1<<attempt)
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

// shouldRetry determines if a failed result is worth another attempt.
func shouldRetry(result ToolResult) bool {
	errLower := strings.ToLower(result.Error.Error())

	// Don't retry validation errors or permission issues
	nonRetryable := []string{"validation", "not allowed", "permission", "empty", "invalid", "not exist", "unknown tool"}
	for _, s := range nonRetryable {
		if strings.Contains(errLower, s) {
			return false
		}
	}

	retryable := []string{"timeout", "connection", "network", "temporar"}
	for _, s := range retryable {
		if strings.Contains(errLower, s) {
			return true
		}
	}
	return false
}

// Verify Executor implements Runner
var _ Runner = (*Executor)(nil)
