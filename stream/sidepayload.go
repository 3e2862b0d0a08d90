package stream

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// SidePayloads are auxiliary provider data attached to a delta.
// Absent payloads are nil.
type SidePayloads struct {
	Citations   json.RawMessage `json:"citations,omitempty"`
	WebSearch   json.RawMessage `json:"web_search,omitempty"`
	Annotations json.RawMessage `json:"annotations,omitempty"`
}

// IsEmpty reports whether no side payload was found.
func (s SidePayloads) IsEmpty() bool {
	return len(s.Citations) == 0 && len(s.WebSearch) == 0 && len(s.Annotations) == 0
}

// SearchGate decides whether web-search results are extracted.
type SearchGate struct {
	// Provider selects where results live in the raw frame.
	Provider string
	// Enabled is true when the model can search and the assistant asked for it.
	Enabled bool
}

var (
	citationPaths   = []string{"citations"}
	annotationPaths = []string{"choices.0.delta.annotations", "choices.0.message.annotations"}
)

// webSearchPath returns the frame path of web-search results for a provider
// and whether they are only read from the first delta of a round.
func webSearchPath(provider string) (string, bool) {
	switch strings.ToLower(provider) {
	case "openrouter":
		return "citations", true
	case "zhipu":
		return "web_search", false
	case "hunyuan":
		return "search_info.search_results", false
	case "gemini":
		return "candidates.0.groundingMetadata", false
	default:
		return "search_results", false
	}
}

// ExtractSidePayloads reads side payloads from a raw provider frame.
// Malformed or missing frames yield empty payloads.
func ExtractSidePayloads(raw json.RawMessage, gate SearchGate, first bool) SidePayloads {
	var out SidePayloads
	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		return out
	}
	out.Citations = lookup(raw, citationPaths...)
	out.Annotations = lookup(raw, annotationPaths...)
	if gate.Enabled {
		path, firstOnly := webSearchPath(gate.Provider)
		if !firstOnly || first {
			out.WebSearch = lookup(raw, path)
		}
	}
	return out
}

func lookup(raw json.RawMessage, paths ...string) json.RawMessage {
	for _, path := range paths {
		result := gjson.GetBytes(raw, path)
		if result.Exists() && result.Type != gjson.Null {
			return json.RawMessage(result.Raw)
		}
	}
	return nil
}
