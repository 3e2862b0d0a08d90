package stream

import (
	"testing"
	"time"

	"github.com/richinex/relay/llm"
)

func TestTrackerEndsAtFirstAnswerAfterReasoning(t *testing.T) {
	deltas := []llm.StreamDelta{
		{ReasoningContent: "step one"},
		{},
		{Reasoning: "step two"},
		{Text: "The answer"},
	}

	var tracker Tracker
	for i, d := range deltas {
		tracker.Observe(d)
		ended := tracker.JustEnded(d)
		if want := i == 3; ended != want {
			t.Errorf("delta %d: expected ended=%v, got %v", i, want, ended)
		}
	}
	if !tracker.HasReasoning() {
		t.Error("expected reasoning flag to stay set")
	}
}

func TestTrackerResponseMarkerSplitAcrossFragments(t *testing.T) {
	var tracker Tracker
	if tracker.JustEnded(llm.StreamDelta{Text: "thinking... ###Res"}) {
		t.Fatal("marker is not complete yet")
	}
	if !tracker.JustEnded(llm.StreamDelta{Text: "ponse\nHi"}) {
		t.Error("expected marker across fragments to end the phase")
	}
}

func TestTrackerThinkEndMarker(t *testing.T) {
	var tracker Tracker
	if tracker.JustEnded(llm.StreamDelta{Text: "<think>pondering"}) {
		t.Fatal("expected no end before the closing tag")
	}
	if !tracker.JustEnded(llm.StreamDelta{Text: ThinkEndMarker}) {
		t.Error("expected closing tag to end the phase")
	}
}

func TestTrackerPlainAnswerNeverEnds(t *testing.T) {
	var tracker Tracker
	for _, text := range []string{"Hello", " there", "!"} {
		d := llm.StreamDelta{Text: text}
		tracker.Observe(d)
		if tracker.JustEnded(d) {
			t.Errorf("unexpected end at %q", text)
		}
	}
}

func TestSetOnceRejectsSecondWrite(t *testing.T) {
	var s SetOnce[time.Duration]
	if _, ok := s.Get(); ok {
		t.Fatal("expected unset value")
	}
	if !s.Set(time.Second) {
		t.Fatal("expected first write to succeed")
	}
	if s.Set(2 * time.Second) {
		t.Error("expected second write to be rejected")
	}
	if got := s.Value(); got != time.Second {
		t.Errorf("expected 1s, got %v", got)
	}
}

func TestMetricsFirstContentNeverBeforeFirstToken(t *testing.T) {
	start := time.Unix(0, 0)
	m := NewMetrics(start)
	m.FirstContent(start.Add(50 * time.Millisecond))

	ttft, ok := m.TimeToFirstToken.Get()
	if !ok {
		t.Fatal("expected first token recorded with first content")
	}
	if ttfc := m.TimeToFirstContent.Value(); ttfc < ttft {
		t.Errorf("first content %v before first token %v", ttfc, ttft)
	}
}

func TestExtractSidePayloads(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		gate      SearchGate
		first     bool
		webSearch bool
		citations bool
		annotated bool
	}{
		{
			name:      "zhipu web search",
			raw:       `{"web_search":[{"title":"t"}]}`,
			gate:      SearchGate{Provider: "zhipu", Enabled: true},
			webSearch: true,
		},
		{
			name: "web search gated off",
			raw:  `{"web_search":[{"title":"t"}]}`,
			gate: SearchGate{Provider: "zhipu"},
		},
		{
			name:      "hunyuan nested results",
			raw:       `{"search_info":{"search_results":[{"url":"u"}]}}`,
			gate:      SearchGate{Provider: "hunyuan", Enabled: true},
			webSearch: true,
		},
		{
			name:      "gemini grounding",
			raw:       `{"candidates":[{"groundingMetadata":{"webSearchQueries":["q"]}}]}`,
			gate:      SearchGate{Provider: "gemini", Enabled: true},
			webSearch: true,
		},
		{
			name:      "annotations and citations",
			raw:       `{"citations":["c"],"choices":[{"delta":{"annotations":[{"type":"url_citation"}]}}]}`,
			citations: true,
			annotated: true,
		},
		{
			name: "malformed frame",
			raw:  `{"citations":`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractSidePayloads([]byte(tt.raw), tt.gate, tt.first)
			if (len(got.WebSearch) > 0) != tt.webSearch {
				t.Errorf("web search: got %s", got.WebSearch)
			}
			if (len(got.Citations) > 0) != tt.citations {
				t.Errorf("citations: got %s", got.Citations)
			}
			if (len(got.Annotations) > 0) != tt.annotated {
				t.Errorf("annotations: got %s", got.Annotations)
			}
		})
	}
}
