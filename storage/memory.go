// Package storage provides an in-memory session journal.
//
// Information Hiding:
// - Map storage structure hidden from users
// - Thread-safe access via RWMutex hidden behind interface
// - Suitable for testing and ephemeral sessions

package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/richinex/relay/model"
)

// MemoryJournal implements Journal with in-memory maps.
// Data is lost when the process terminates.
type MemoryJournal struct {
	mu          sync.RWMutex
	sessions    map[string]SessionRecord
	invocations map[string][]model.ToolInvocationRecord
}

// NewMemoryJournal creates a new in-memory journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{
		sessions:    make(map[string]SessionRecord),
		invocations: make(map[string][]model.ToolInvocationRecord),
	}
}

// BeginSession records a new running session.
func (j *MemoryJournal) BeginSession(ctx context.Context, record SessionRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, exists := j.sessions[record.ID]; exists {
		return fmt.Errorf("session %s already recorded", record.ID)
	}
	if record.Status == "" {
		record.Status = StatusRunning
	}
	j.sessions[record.ID] = record
	return nil
}

// RecordInvocation appends an invocation to a session.
func (j *MemoryJournal) RecordInvocation(ctx context.Context, sessionID string, record model.ToolInvocationRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, exists := j.sessions[sessionID]; !exists {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	j.invocations[sessionID] = append(j.invocations[sessionID], record)
	return nil
}

// FinishSession stores the outcome of a session.
func (j *MemoryJournal) FinishSession(ctx context.Context, sessionID string, outcome SessionOutcome) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	record, exists := j.sessions[sessionID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	record.Status = outcome.Status
	record.Rounds = outcome.Rounds
	record.Timings = outcome.Timings
	record.Error = outcome.Error
	record.FinishedAt = outcome.FinishedAt
	j.sessions[sessionID] = record
	return nil
}

// Sessions lists sessions, most recent first.
func (j *MemoryJournal) Sessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	records := make([]SessionRecord, 0, len(j.sessions))
	for _, r := range j.sessions {
		records = append(records, r)
	}
	sort.Slice(records, func(a, b int) bool {
		if records[a].StartedAt.Equal(records[b].StartedAt) {
			return records[a].ID > records[b].ID
		}
		return records[a].StartedAt.After(records[b].StartedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Invocations lists a session's invocations in execution order.
func (j *MemoryJournal) Invocations(ctx context.Context, sessionID string) ([]model.ToolInvocationRecord, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	// Return a copy to avoid external mutations
	records := j.invocations[sessionID]
	copied := make([]model.ToolInvocationRecord, len(records))
	copy(copied, records)
	return copied, nil
}

// Verify MemoryJournal implements Journal
var _ Journal = (*MemoryJournal)(nil)
