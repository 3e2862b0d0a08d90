package params

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/richinex/relay/llm"
	"github.com/richinex/relay/model"
)

// DefaultMaxTokens is the budget used to derive thinking budgets when the
// assistant sets no max tokens.
const DefaultMaxTokens = 4096

// Builder derives request fields from an assistant and a model.
// Build is a pure function of its inputs.
type Builder struct {
	// DefaultMaxTokens overrides the package default when positive.
	DefaultMaxTokens int
}

// NewBuilder creates a builder with default settings.
func NewBuilder() *Builder {
	return &Builder{DefaultMaxTokens: DefaultMaxTokens}
}

// Build returns the merged request fields for the assistant and model.
func (b *Builder) Build(assistant model.Assistant, m model.Model) Fields {
	return b.Layers(assistant, m).Merge()
}

// Layers returns the ordered partial records that Build merges:
// base, web search, reasoning, provider overrides, user custom.
func (b *Builder) Layers(assistant model.Assistant, m model.Model) Layers {
	return Layers{
		b.baseLayer(assistant, m),
		webSearchLayer(assistant, m),
		b.reasoningLayer(assistant, m),
		providerLayer(assistant, m),
		CustomLayer(assistant.Settings.CustomParameters),
	}
}

// SuppressSampling reports whether temperature and top_p must be left out.
func SuppressSampling(assistant model.Assistant, m model.Model) bool {
	return m.Capabilities.Reasoning || webSearchMode(assistant, m)
}

func webSearchMode(assistant model.Assistant, m model.Model) bool {
	return assistant.EnableWebSearch && m.Capabilities.WebSearch
}

func (b *Builder) baseLayer(assistant model.Assistant, m model.Model) Fields {
	settings := assistant.Settings
	fields := Fields{llm.FieldStream: settings.Streaming()}
	if !SuppressSampling(assistant, m) {
		if settings.Temperature != nil {
			fields[llm.FieldTemperature] = *settings.Temperature
		}
		if settings.TopP != nil {
			fields[llm.FieldTopP] = *settings.TopP
		}
	}
	if settings.MaxTokens > 0 {
		fields[llm.FieldMaxTokens] = settings.MaxTokens
	}
	return fields
}

func webSearchLayer(assistant model.Assistant, m model.Model) Fields {
	if !webSearchMode(assistant, m) {
		return nil
	}
	switch strings.ToLower(m.Provider) {
	case "openai":
		if strings.Contains(strings.ToLower(m.ID), "search") {
			return Fields{"web_search_options": map[string]any{}}
		}
	case "openrouter":
		return Fields{"plugins": []any{map[string]any{"id": "web"}}}
	case "hunyuan":
		return Fields{"enable_enhancement": true, "citation": true, "search_info": true}
	case "zhipu":
		return Fields{"tools": []any{map[string]any{
			"type": "web_search",
			"web_search": map[string]any{
				"enable":        true,
				"search_result": true,
			},
		}}}
	}
	return nil
}

func (b *Builder) reasoningLayer(assistant model.Assistant, m model.Model) Fields {
	effort := strings.ToLower(strings.TrimSpace(assistant.Settings.ReasoningEffort))
	if effort == "" {
		return nil
	}
	maxTokens := assistant.Settings.MaxTokens
	if maxTokens <= 0 {
		maxTokens = b.DefaultMaxTokens
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return StrategyFor(ResolveFamily(m)).Derive(effort, maxTokens)
}

func providerLayer(assistant model.Assistant, m model.Model) Fields {
	fields := Fields{}
	id := strings.ToLower(m.ID)
	if strings.EqualFold(m.Provider, "openrouter") && strings.Contains(id, "deepseek-r1") {
		fields["include_reasoning"] = true
	}
	if IsOpenAIReasoning(m.ID) {
		fields[llm.FieldMaxTokens] = Omit
		if assistant.Settings.MaxTokens > 0 {
			fields[llm.FieldMaxCompletionTokens] = assistant.Settings.MaxTokens
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// CustomLayer converts user-defined parameters into request fields.
// Values are coerced by their declared type; values that fail coercion are
// passed through unchanged.
func CustomLayer(custom []model.CustomParameter) Fields {
	if len(custom) == 0 {
		return nil
	}
	fields := make(Fields, len(custom))
	for _, p := range custom {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			continue
		}
		fields[name] = coerce(p.Type, p.Value)
	}
	return fields
}

func coerce(kind string, value any) any {
	s, isString := value.(string)
	switch kind {
	case "number":
		if isString {
			if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				return f
			}
		}
	case "boolean":
		if isString {
			if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
				return b
			}
		}
	case "json":
		if isString {
			var decoded any
			if err := json.Unmarshal([]byte(s), &decoded); err == nil {
				return decoded
			}
		}
	case "string":
		if !isString && value != nil {
			if raw, err := json.Marshal(value); err == nil {
				return string(raw)
			}
		}
	}
	return value
}
