package params

import (
	"strings"

	"github.com/armon/go-radix"

	"github.com/richinex/relay/model"
)

// Family tags a group of models that take the same reasoning controls.
type Family string

const (
	// FamilyNone takes no reasoning controls.
	FamilyNone Family = "none"
	// FamilyEffort takes the effort label verbatim as reasoning_effort.
	FamilyEffort Family = "effort"
	// FamilyBudget takes a thinking block with a token budget.
	FamilyBudget Family = "budget"
	// FamilyGeminiBudget takes a thinking_config with a token budget.
	FamilyGeminiBudget Family = "gemini-budget"
	// FamilyQwen takes enable_thinking plus a thinking_budget.
	FamilyQwen Family = "qwen"
	// FamilyOpenRouter takes a reasoning object carrying the effort label.
	FamilyOpenRouter Family = "openrouter"
)

// Budget clamp applied to ratio-derived thinking budgets.
const (
	MinThinkingBudget = 1024
	MaxThinkingBudget = 32000
)

// effortRatios maps effort labels to a share of the max-token budget.
var effortRatios = map[string]float64{
	"low":    0.2,
	"medium": 0.5,
	"high":   0.8,
}

// Strategy derives reasoning fields from an effort label and a token budget.
// Unknown effort labels yield nil.
type Strategy interface {
	Derive(effort string, maxTokens int) Fields
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(effort string, maxTokens int) Fields

// Derive calls f.
func (f StrategyFunc) Derive(effort string, maxTokens int) Fields {
	return f(effort, maxTokens)
}

var strategies = map[Family]Strategy{
	FamilyNone: StrategyFunc(func(string, int) Fields { return nil }),
	FamilyEffort: StrategyFunc(func(effort string, _ int) Fields {
		if _, ok := effortRatios[effort]; !ok {
			return nil
		}
		return Fields{"reasoning_effort": effort}
	}),
	FamilyBudget: StrategyFunc(func(effort string, maxTokens int) Fields {
		budget, ok := ThinkingBudget(effort, maxTokens)
		if !ok {
			return nil
		}
		return Fields{"thinking": map[string]any{"type": "enabled", "budget_tokens": budget}}
	}),
	FamilyGeminiBudget: StrategyFunc(func(effort string, maxTokens int) Fields {
		budget, ok := ThinkingBudget(effort, maxTokens)
		if !ok {
			return nil
		}
		return Fields{"thinking_config": map[string]any{"thinking_budget": budget, "include_thoughts": true}}
	}),
	FamilyQwen: StrategyFunc(func(effort string, maxTokens int) Fields {
		budget, ok := ThinkingBudget(effort, maxTokens)
		if !ok {
			return nil
		}
		return Fields{"enable_thinking": true, "thinking_budget": budget}
	}),
	FamilyOpenRouter: StrategyFunc(func(effort string, _ int) Fields {
		if _, ok := effortRatios[effort]; !ok {
			return nil
		}
		return Fields{"reasoning": map[string]any{"effort": effort}}
	}),
}

// StrategyFor returns the registered strategy for a family, falling back to
// FamilyNone.
func StrategyFor(family Family) Strategy {
	if s, ok := strategies[family]; ok {
		return s
	}
	return strategies[FamilyNone]
}

// ThinkingBudget maps an effort label to clamp(maxTokens*ratio, 1024, 32000).
func ThinkingBudget(effort string, maxTokens int) (int, bool) {
	ratio, ok := effortRatios[effort]
	if !ok {
		return 0, false
	}
	budget := int(float64(maxTokens) * ratio)
	budget = max(budget, MinThinkingBudget)
	budget = min(budget, MaxThinkingBudget)
	return budget, true
}

// familyPrefixes maps model id prefixes to families. The longest matching
// prefix wins, so a more specific entry overrides a general one.
var familyPrefixes = map[string]Family{
	"o1":          FamilyEffort,
	"o3":          FamilyEffort,
	"o4":          FamilyEffort,
	"gpt-5":       FamilyEffort,
	"grok-3-mini": FamilyEffort,
	"claude":      FamilyBudget,
	"gemini":      FamilyGeminiBudget,
	"qwen3":       FamilyQwen,
	"qwen-plus":   FamilyQwen,
	"qwen-turbo":  FamilyQwen,
	"qwq":         FamilyNone,
	"deepseek":    FamilyNone,
}

// familyTree indexes familyPrefixes as a radix tree.
var familyTree = newFamilyTree(familyPrefixes)

func newFamilyTree(entries map[string]Family) *radix.Tree {
	tree := radix.New()
	for prefix, family := range entries {
		tree.Insert(prefix, family)
	}
	return tree
}

// openAIReasoningPrefixes are the OpenAI reasoning models that reject
// max_tokens and take a system prompt as a developer message.
var openAIReasoningPrefixes = []string{"o1", "o3", "o4", "gpt-5"}

// ResolveFamily returns the reasoning family for a model. Models without the
// reasoning capability resolve to FamilyNone; OpenRouter-hosted models use
// OpenRouter's unified reasoning object regardless of their id.
func ResolveFamily(m model.Model) Family {
	if !m.Capabilities.Reasoning {
		return FamilyNone
	}
	if strings.EqualFold(m.Provider, "openrouter") {
		return FamilyOpenRouter
	}
	if _, v, ok := familyTree.LongestPrefix(baseID(m.ID)); ok {
		return v.(Family)
	}
	return FamilyNone
}

// IsOpenAIReasoning reports whether the model id belongs to the OpenAI
// reasoning family.
func IsOpenAIReasoning(modelID string) bool {
	id := baseID(modelID)
	for _, prefix := range openAIReasoningPrefixes {
		if strings.HasPrefix(id, prefix) {
			return true
		}
	}
	return false
}

// baseID lowercases a model id and drops any "vendor/" prefix.
func baseID(id string) string {
	id = strings.ToLower(id)
	if i := strings.LastIndex(id, "/"); i >= 0 {
		id = id[i+1:]
	}
	return id
}
