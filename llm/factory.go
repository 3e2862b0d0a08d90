// Transport Factory - builder-first API for creating transports.
//
// Quick Start:
//
//	// Simplest: read API key from environment
//	openai, err := llm.ProviderOpenAI.FromEnv()
//
//	// OpenAI-compatible endpoint with a timeout
//	client, err := llm.ProviderDeepSeek.Builder().Timeout(90 * time.Second).FromEnv()
//
//	// Explicit key and base URL
//	t, err := llm.ProviderOpenRouter.Builder().BaseURL("https://proxy.local/v1").APIKey("sk-...")

package llm

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

// ProviderType represents supported providers.
type ProviderType int

const (
	// ProviderOpenAI is the OpenAI provider.
	ProviderOpenAI ProviderType = iota
	// ProviderAnthropic is the Anthropic provider (Claude models).
	ProviderAnthropic
	// ProviderDeepSeek is the DeepSeek provider (OpenAI-compatible).
	ProviderDeepSeek
	// ProviderGemini is the Google Gemini provider.
	ProviderGemini
	// ProviderOpenRouter is the OpenRouter aggregator (OpenAI-compatible).
	ProviderOpenRouter
	// ProviderCompatible is any other OpenAI-compatible endpoint.
	ProviderCompatible
)

// String returns the string representation of the provider type.
func (p ProviderType) String() string {
	switch p {
	case ProviderOpenAI:
		return "openai"
	case ProviderAnthropic:
		return "anthropic"
	case ProviderDeepSeek:
		return "deepseek"
	case ProviderGemini:
		return "gemini"
	case ProviderOpenRouter:
		return "openrouter"
	case ProviderCompatible:
		return "compatible"
	default:
		return "unknown"
	}
}

// EnvVar returns the environment variable name for this provider's API key.
func (p ProviderType) EnvVar() string {
	switch p {
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	case ProviderDeepSeek:
		return "DEEPSEEK_API_KEY"
	case ProviderGemini:
		return "GEMINI_API_KEY"
	case ProviderOpenRouter:
		return "OPENROUTER_API_KEY"
	case ProviderCompatible:
		return "LLM_API_KEY"
	default:
		return ""
	}
}

// DefaultBaseURL returns the endpoint for OpenAI-compatible providers.
func (p ProviderType) DefaultBaseURL() string {
	switch p {
	case ProviderDeepSeek:
		return "https://api.deepseek.com/v1"
	case ProviderOpenRouter:
		return "https://openrouter.ai/api/v1"
	default:
		return ""
	}
}

// ParseProviderType parses a provider from string (case-insensitive).
func ParseProviderType(s string) (ProviderType, error) {
	switch strings.ToLower(s) {
	case "openai", "gpt":
		return ProviderOpenAI, nil
	case "anthropic", "claude":
		return ProviderAnthropic, nil
	case "deepseek":
		return ProviderDeepSeek, nil
	case "gemini", "google":
		return ProviderGemini, nil
	case "openrouter":
		return ProviderOpenRouter, nil
	case "compatible", "custom":
		return ProviderCompatible, nil
	default:
		return 0, fmt.Errorf("unknown provider: %s", s)
	}
}

// FromEnv creates a client with defaults, reading the API key from environment.
func (p ProviderType) FromEnv() (*Client, error) {
	return p.Builder().FromEnv()
}

// Builder starts configuring this provider.
func (p ProviderType) Builder() *TransportBuilder {
	return NewTransportBuilder(p)
}

// TransportBuilder is a builder for configuring transports.
type TransportBuilder struct {
	providerType ProviderType
	baseURL      string
	timeout      time.Duration
	httpClient   *http.Client
}

// NewTransportBuilder creates a new builder for the given provider.
func NewTransportBuilder(providerType ProviderType) *TransportBuilder {
	return &TransportBuilder{providerType: providerType}
}

// BaseURL overrides the endpoint (OpenAI-compatible providers only).
func (b *TransportBuilder) BaseURL(url string) *TransportBuilder {
	b.baseURL = url
	return b
}

// Timeout sets a per-request timeout.
func (b *TransportBuilder) Timeout(timeout time.Duration) *TransportBuilder {
	b.timeout = timeout
	return b
}

// HTTPClient sets the base HTTP client (OpenAI-compatible providers only).
func (b *TransportBuilder) HTTPClient(client *http.Client) *TransportBuilder {
	b.httpClient = client
	return b
}

// FromEnv builds the client, reading the API key from environment.
func (b *TransportBuilder) FromEnv() (*Client, error) {
	envVar := b.providerType.EnvVar()
	apiKey := os.Getenv(envVar)
	if apiKey == "" {
		return nil, fmt.Errorf("%s: %s environment variable not set", b.providerType, envVar)
	}
	return b.build(apiKey)
}

// APIKey builds the client with an explicit API key.
func (b *TransportBuilder) APIKey(key string) (*Client, error) {
	return b.build(key)
}

func (b *TransportBuilder) build(apiKey string) (*Client, error) {
	var transport Transport

	switch b.providerType {
	case ProviderOpenAI, ProviderDeepSeek, ProviderOpenRouter, ProviderCompatible:
		baseURL := b.baseURL
		if baseURL == "" {
			baseURL = b.providerType.DefaultBaseURL()
		}
		if b.providerType == ProviderCompatible && baseURL == "" {
			return nil, fmt.Errorf("%s: base URL required", b.providerType)
		}
		transport = NewOpenAITransport(OpenAIConfig{
			Name:       b.providerType.String(),
			APIKey:     apiKey,
			BaseURL:    baseURL,
			HTTPClient: b.httpClient,
		})
	case ProviderAnthropic:
		transport = NewAnthropicTransport(apiKey)
	case ProviderGemini:
		transport = NewGeminiTransport(apiKey)
	default:
		return nil, fmt.Errorf("unknown provider type: %v", b.providerType)
	}

	return NewClient(transport).WithTimeout(b.timeout), nil
}
