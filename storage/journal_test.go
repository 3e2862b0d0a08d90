package storage

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/richinex/relay/model"
)

// exerciseJournal runs the behavior every Journal implementation shares.
func exerciseJournal(t *testing.T, journal Journal) {
	t.Helper()
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	for i, id := range []string{"older", "newer"} {
		err := journal.BeginSession(ctx, SessionRecord{
			ID:        id,
			Model:     "gpt-4o",
			Provider:  "openai",
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("BeginSession(%s) failed: %v", id, err)
		}
	}

	records := []model.ToolInvocationRecord{
		{ID: "inv-1", Tool: "search", Arguments: json.RawMessage(`{"q":"go"}`), Result: "3 hits", Status: model.InvocationDone, Round: 1, Duration: 15 * time.Millisecond},
		{ID: "inv-2", Tool: "read_file", Arguments: json.RawMessage(`{"path":"/tmp/x"}`), Error: "not found", Status: model.InvocationError, Round: 2},
	}
	for _, r := range records {
		if err := journal.RecordInvocation(ctx, "newer", r); err != nil {
			t.Fatalf("RecordInvocation failed: %v", err)
		}
	}

	err := journal.RecordInvocation(ctx, "missing", records[0])
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound for unknown session, got %v", err)
	}

	outcome := SessionOutcome{
		Status: StatusCompleted,
		Rounds: 3,
		Timings: Timings{
			TimeToFirstToken:   120 * time.Millisecond,
			TimeToFirstContent: 900 * time.Millisecond,
			Elapsed:            2 * time.Second,
			Thinking:           780 * time.Millisecond,
			CompletionTokens:   42,
		},
		FinishedAt: base.Add(2 * time.Minute),
	}
	if err := journal.FinishSession(ctx, "newer", outcome); err != nil {
		t.Fatalf("FinishSession failed: %v", err)
	}
	if err := journal.FinishSession(ctx, "missing", outcome); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}

	sessions, err := journal.Sessions(ctx, 0)
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].ID != "newer" || sessions[1].ID != "older" {
		t.Errorf("expected most recent first, got %s, %s", sessions[0].ID, sessions[1].ID)
	}
	got := sessions[0]
	if got.Status != StatusCompleted || got.Rounds != 3 {
		t.Errorf("unexpected outcome: %+v", got)
	}
	if got.Timings != outcome.Timings {
		t.Errorf("timings mismatch: got %+v want %+v", got.Timings, outcome.Timings)
	}
	if !got.FinishedAt.Equal(outcome.FinishedAt) {
		t.Errorf("finished_at mismatch: %v", got.FinishedAt)
	}
	if sessions[1].Status != StatusRunning {
		t.Errorf("expected unfinished session to stay running, got %s", sessions[1].Status)
	}

	limited, err := journal.Sessions(ctx, 1)
	if err != nil {
		t.Fatalf("Sessions(limit) failed: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != "newer" {
		t.Errorf("expected only the newest session, got %+v", limited)
	}

	invocations, err := journal.Invocations(ctx, "newer")
	if err != nil {
		t.Fatalf("Invocations failed: %v", err)
	}
	if len(invocations) != 2 {
		t.Fatalf("expected 2 invocations, got %d", len(invocations))
	}
	if invocations[0].ID != "inv-1" || invocations[1].ID != "inv-2" {
		t.Errorf("expected execution order, got %s, %s", invocations[0].ID, invocations[1].ID)
	}
	if string(invocations[0].Arguments) != `{"q":"go"}` || invocations[0].Duration != 15*time.Millisecond {
		t.Errorf("first invocation mismatch: %+v", invocations[0])
	}
	if !invocations[1].Failed() || invocations[1].Error != "not found" {
		t.Errorf("second invocation mismatch: %+v", invocations[1])
	}

	empty, err := journal.Invocations(ctx, "older")
	if err != nil {
		t.Fatalf("Invocations failed: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", empty)
	}
}

func TestMemoryJournal(t *testing.T) {
	exerciseJournal(t, NewMemoryJournal())
}

func TestMemoryJournalRejectsDuplicateSession(t *testing.T) {
	journal := NewMemoryJournal()
	ctx := context.Background()
	record := SessionRecord{ID: "s1", Model: "m", Provider: "p", StartedAt: time.Now()}

	if err := journal.BeginSession(ctx, record); err != nil {
		t.Fatalf("BeginSession failed: %v", err)
	}
	if err := journal.BeginSession(ctx, record); err == nil {
		t.Error("expected duplicate session to fail")
	}
}

func TestSqliteJournalInMemory(t *testing.T) {
	journal, err := NewSqliteInMemory()
	if err != nil {
		t.Fatalf("Failed to create journal: %v", err)
	}
	defer journal.Close()

	exerciseJournal(t, journal)
}

func TestSqliteJournalPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "journal.db")
	ctx := context.Background()

	journal, err := OpenSqlite(path)
	if err != nil {
		t.Fatalf("OpenSqlite failed: %v", err)
	}
	err = journal.BeginSession(ctx, SessionRecord{ID: "s1", Model: "claude-sonnet-4", Provider: "anthropic", StartedAt: time.Now()})
	if err != nil {
		t.Fatalf("BeginSession failed: %v", err)
	}
	err = journal.RecordInvocation(ctx, "s1", model.ToolInvocationRecord{ID: "a", Tool: "now", Status: model.InvocationDone, Round: 1})
	if err != nil {
		t.Fatalf("RecordInvocation failed: %v", err)
	}
	if err := journal.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := OpenSqlite(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	sessions, err := reopened.Sessions(ctx, 0)
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "s1" {
		t.Fatalf("expected persisted session, got %+v", sessions)
	}
	invocations, err := reopened.Invocations(ctx, "s1")
	if err != nil {
		t.Fatalf("Invocations failed: %v", err)
	}
	if len(invocations) != 1 || string(invocations[0].Arguments) != "{}" {
		t.Errorf("expected one invocation with empty-object arguments, got %+v", invocations)
	}
}
