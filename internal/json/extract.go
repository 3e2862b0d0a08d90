// Package json extracts JSON values from model-written text.
//
// Models write tool arguments as JSON, but often wrap them in markdown code
// fences, surround them with commentary, or leave them empty. This package
// recovers the JSON object from such text.
package json

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// emptyObject is returned for blank argument text.
var emptyObject = json.RawMessage(`{}`)

// extractObject finds the JSON object in text. It handles:
// 1. Blank text - returns {}
// 2. A bare JSON value - returned as is
// 3. JSON wrapped in markdown code fences (```json ... ```)
// 4. An object embedded in prose - first '{' to last '}'
//
// Limitations:
// - Uses simple brace matching for embedded objects
// - May fail if braces in surrounding prose are unbalanced
func extractObject(text string) (string, error) {
	text = stripCodeFence(text)
	if text == "" {
		return string(emptyObject), nil
	}
	if gjson.Valid(text) {
		return text, nil
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start != -1 && end > start {
		candidate := text[start : end+1]
		if gjson.Valid(candidate) {
			return candidate, nil
		}
	}

	preview := text
	if len(preview) > 100 {
		preview = preview[:100] + "..."
	}
	return "", fmt.Errorf("failed to extract valid JSON from text: %q", preview)
}

// stripCodeFence removes a surrounding markdown code fence, if any.
func stripCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if rest, ok := strings.CutPrefix(trimmed, "```"); ok {
		// Drop the info string ("json", "JSON", ...) on the opening line.
		if nl := strings.IndexByte(rest, '\n'); nl != -1 && !strings.ContainsAny(rest[:nl], "{[") {
			rest = rest[nl+1:]
		} else {
			rest = strings.TrimPrefix(rest, "json")
		}
		trimmed = strings.TrimSpace(rest)
	}
	trimmed = strings.TrimSuffix(trimmed, "```")
	return strings.TrimSpace(trimmed)
}

// Arguments extracts tool arguments from text and returns them compacted.
// Blank text yields an empty object.
func Arguments(text string) (json.RawMessage, error) {
	raw, err := extractObject(text)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(raw)); err != nil {
		return nil, fmt.Errorf("failed to compact JSON: %w", err)
	}
	return json.RawMessage(buf.Bytes()), nil
}

// Decode extracts JSON from text and unmarshals it into T.
func Decode[T any](text string) (T, error) {
	var result T
	raw, err := extractObject(text)
	if err != nil {
		return result, err
	}
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return result, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	return result, nil
}

// Extract returns the raw JSON portion of text.
func Extract(text string) (string, error) {
	return extractObject(text)
}
