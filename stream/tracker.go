// Package stream consumes the completion rounds of a session.
//
// Information Hiding:
// - Reasoning/answer phase detection across provider conventions
// - Set-once timing milestones
// - Provider side-payload locations inside raw frames
// - Streaming vs non-streaming dispatch and pause handling

package stream

import (
	"strings"

	"github.com/richinex/relay/llm"
)

// Phase-end markers emitted inside answer text.
const (
	// ResponseMarker is split across fragments by some providers, so it is
	// matched against the previous fragment joined with the current one.
	ResponseMarker = "###Response"
	// ThinkEndMarker closes an inline thinking block.
	ThinkEndMarker = "</think>"
)

// Tracker classifies deltas as reasoning or answering.
// The reasoning flag is sticky: once reasoning text is seen it stays set.
type Tracker struct {
	hasReasoning bool
	lastChunk    string
}

// Observe records whether the delta carries reasoning text.
func (t *Tracker) Observe(delta llm.StreamDelta) {
	if delta.HasReasoning() {
		t.hasReasoning = true
	}
}

// HasReasoning reports whether any reasoning text has been observed.
func (t *Tracker) HasReasoning() bool {
	return t.hasReasoning
}

// JustEnded reports whether the reasoning phase ends at this delta.
// It may keep returning true after the first end; callers latch the first.
func (t *Tracker) JustEnded(delta llm.StreamDelta) bool {
	if delta.Text == "" {
		return false
	}
	previous := t.lastChunk
	t.lastChunk = delta.Text

	if strings.Contains(previous+delta.Text, ResponseMarker) || delta.Text == ThinkEndMarker {
		return true
	}
	t.Observe(delta)
	return t.hasReasoning
}
