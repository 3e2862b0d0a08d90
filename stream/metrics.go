package stream

import (
	"time"
)

// SetOnce holds a value that can be written exactly once.
// Later writes are rejected and leave the first value in place.
type SetOnce[T any] struct {
	value T
	set   bool
}

// Set stores v if nothing was stored yet and reports whether it did.
func (s *SetOnce[T]) Set(v T) bool {
	if s.set {
		return false
	}
	s.value = v
	s.set = true
	return true
}

// Get returns the stored value and whether it was set.
func (s SetOnce[T]) Get() (T, bool) {
	return s.value, s.set
}

// Value returns the stored value, or the zero value when unset.
func (s SetOnce[T]) Value() T {
	return s.value
}

// IsSet reports whether a value was stored.
func (s SetOnce[T]) IsSet() bool {
	return s.set
}

// Metrics tracks timing milestones of one session across all its rounds.
// TimeToFirstContent >= TimeToFirstToken >= 0 whenever both are set.
type Metrics struct {
	Start              time.Time
	TimeToFirstToken   SetOnce[time.Duration]
	TimeToFirstContent SetOnce[time.Duration]
	// CompletionTokens sums the completion tokens of every round.
	CompletionTokens int
	Elapsed          time.Duration
	Thinking         time.Duration

	reasoning bool
	// Tokens of finished rounds and the latest usage of the current one.
	priorTokens int
	roundTokens int
}

// NewMetrics starts a metrics record at start.
func NewMetrics(start time.Time) *Metrics {
	return &Metrics{Start: start}
}

// FirstToken records the first-token milestone at now.
func (m *Metrics) FirstToken(now time.Time) bool {
	return m.TimeToFirstToken.Set(nonNegative(now.Sub(m.Start)))
}

// FirstContent records the end of the reasoning phase at now.
// The first-token milestone is recorded too if it is still missing.
func (m *Metrics) FirstContent(now time.Time) bool {
	m.FirstToken(now)
	d := max(nonNegative(now.Sub(m.Start)), m.TimeToFirstToken.Value())
	return m.TimeToFirstContent.Set(d)
}

// NextRound closes the current round's token count so the next round's
// usage adds to it.
func (m *Metrics) NextRound() {
	m.priorTokens += m.roundTokens
	m.roundTokens = 0
}

// Update recomputes the derived durations at now.
// sawReasoning marks that reasoning text has been observed;
// a positive completionTokens is the current round's running usage.
func (m *Metrics) Update(now time.Time, sawReasoning bool, completionTokens int) {
	if sawReasoning {
		m.reasoning = true
	}
	if completionTokens > 0 {
		m.roundTokens = completionTokens
	}
	m.CompletionTokens = m.priorTokens + m.roundTokens
	m.Elapsed = nonNegative(now.Sub(m.Start))

	first, ok := m.TimeToFirstToken.Get()
	switch {
	case !ok:
		m.Thinking = 0
	case m.TimeToFirstContent.IsSet():
		m.Thinking = m.TimeToFirstContent.Value() - first
	case m.reasoning:
		m.Thinking = m.Elapsed - first
	default:
		m.Thinking = 0
	}
}

// Snapshot returns a copy of the current values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		TimeToFirstToken:   m.TimeToFirstToken.Value(),
		TimeToFirstContent: m.TimeToFirstContent.Value(),
		CompletionTokens:   m.CompletionTokens,
		Elapsed:            m.Elapsed,
		Thinking:           m.Thinking,
	}
}

// MetricsSnapshot is a point-in-time copy of Metrics carried by events.
type MetricsSnapshot struct {
	TimeToFirstToken   time.Duration `json:"time_to_first_token"`
	TimeToFirstContent time.Duration `json:"time_to_first_content"`
	CompletionTokens   int           `json:"completion_tokens"`
	Elapsed            time.Duration `json:"elapsed"`
	Thinking           time.Duration `json:"thinking"`
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
