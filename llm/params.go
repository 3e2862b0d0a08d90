package llm

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Params is a fully built completion request.
type Params struct {
	Model    string
	Messages []Message

	Temperature         *float64
	TopP                *float64
	MaxTokens           *int
	MaxCompletionTokens *int
	ReasoningEffort     string
	Stream              bool

	// Extra carries provider extension fields merged into the request body
	// as top-level keys.
	Extra map[string]any
}

// Clone returns a copy whose message slice and Extra map can be appended to
// or modified without affecting p.
func (p Params) Clone() Params {
	out := p
	out.Messages = append([]Message(nil), p.Messages...)
	if p.Extra != nil {
		out.Extra = make(map[string]any, len(p.Extra))
		for k, v := range p.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// ExtraKeys returns the extension field names in sorted order.
func (p Params) ExtraKeys() []string {
	keys := make([]string, 0, len(p.Extra))
	for k := range p.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Request field names that decode into typed Params fields.
const (
	FieldTemperature         = "temperature"
	FieldTopP                = "top_p"
	FieldMaxTokens           = "max_tokens"
	FieldMaxCompletionTokens = "max_completion_tokens"
	FieldReasoningEffort     = "reasoning_effort"
	FieldStream              = "stream"
)

// NewParams builds Params from a merged field record. Known fields decode into
// typed fields; everything else is kept in Extra untouched.
func NewParams(model string, messages []Message, fields map[string]any) (Params, error) {
	p := Params{Model: model, Messages: messages}
	for key, value := range fields {
		var err error
		switch key {
		case FieldTemperature:
			p.Temperature, err = floatField(key, value)
		case FieldTopP:
			p.TopP, err = floatField(key, value)
		case FieldMaxTokens:
			p.MaxTokens, err = intField(key, value)
		case FieldMaxCompletionTokens:
			p.MaxCompletionTokens, err = intField(key, value)
		case FieldReasoningEffort:
			p.ReasoningEffort = fmt.Sprint(value)
		case FieldStream:
			p.Stream, err = boolField(key, value)
		default:
			if p.Extra == nil {
				p.Extra = make(map[string]any)
			}
			p.Extra[key] = value
		}
		if err != nil {
			return Params{}, err
		}
	}
	return p, nil
}

func floatField(key string, value any) (*float64, error) {
	var f float64
	switch v := value.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: %w", key, err)
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: %q: %w", key, v, err)
		}
		f = parsed
	default:
		return nil, fmt.Errorf("invalid value for %s: %v", key, value)
	}
	return &f, nil
}

func intField(key string, value any) (*int, error) {
	f, err := floatField(key, value)
	if err != nil {
		return nil, err
	}
	i := int(*f)
	return &i, nil
}

func boolField(key string, value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("invalid value for %s: %q: %w", key, v, err)
		}
		return b, nil
	default:
		return false, fmt.Errorf("invalid value for %s: %v", key, value)
	}
}
