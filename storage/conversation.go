// Package storage provides the session journal abstraction.
//
// Information Hiding:
// - Storage backend implementation details hidden behind interface
// - Allows swapping between memory and SQLite without API changes
// - Each implementation encapsulates its own data structures
//
// The journal records how completion sessions went: status, round count,
// timing metrics and executed tool invocations. Conversation history itself
// belongs to the calling application and is never stored here.

package storage

import (
	"context"
	"errors"
	"time"

	"github.com/richinex/relay/model"
)

// ErrSessionNotFound is returned when finishing an unknown session.
var ErrSessionNotFound = errors.New("session not found")

// SessionStatus is the lifecycle state of a journaled session.
type SessionStatus string

const (
	StatusRunning    SessionStatus = "running"
	StatusCompleted  SessionStatus = "completed"
	StatusPaused     SessionStatus = "paused"
	StatusAborted    SessionStatus = "aborted"
	StatusRoundLimit SessionStatus = "round_limit"
	StatusFailed     SessionStatus = "failed"
)

// Timings are the metrics of a session's last round.
type Timings struct {
	TimeToFirstToken   time.Duration `json:"time_to_first_token"`
	TimeToFirstContent time.Duration `json:"time_to_first_content"`
	Elapsed            time.Duration `json:"elapsed"`
	Thinking           time.Duration `json:"thinking"`
	CompletionTokens   int           `json:"completion_tokens"`
}

// SessionRecord is one journaled session.
type SessionRecord struct {
	ID          string        `json:"id"`
	AssistantID string        `json:"assistant_id,omitempty"`
	Model       string        `json:"model"`
	Provider    string        `json:"provider"`
	Status      SessionStatus `json:"status"`
	Rounds      int           `json:"rounds"`
	Timings     Timings       `json:"timings"`
	Error       string        `json:"error,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at,omitzero"`
}

// SessionOutcome closes a journaled session.
type SessionOutcome struct {
	Status     SessionStatus
	Rounds     int
	Timings    Timings
	Error      string
	FinishedAt time.Time
}

// Journal records session outcomes and tool invocations.
// Implementations must be safe for concurrent use.
type Journal interface {
	// BeginSession records a new running session.
	BeginSession(ctx context.Context, record SessionRecord) error

	// RecordInvocation appends an executed tool invocation to a session.
	RecordInvocation(ctx context.Context, sessionID string, record model.ToolInvocationRecord) error

	// FinishSession stores the outcome of a session.
	// Returns ErrSessionNotFound for unknown sessions.
	FinishSession(ctx context.Context, sessionID string, outcome SessionOutcome) error

	// Sessions lists sessions, most recent first. A limit <= 0 lists all.
	Sessions(ctx context.Context, limit int) ([]SessionRecord, error)

	// Invocations lists a session's invocations in execution order.
	// Returns an empty slice (not nil) for unknown sessions.
	Invocations(ctx context.Context, sessionID string) ([]model.ToolInvocationRecord, error)
}
