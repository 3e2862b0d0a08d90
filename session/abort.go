// Abort handles keyed by message id.
//
// Information Hiding:
// - Handle storage and replacement policy hidden
// - Exactly-once deregistration enforced by the returned closure

package session

import (
	"context"
	"sync"
)

type abortEntry struct {
	cancel context.CancelCauseFunc
}

// AbortRegistry maps message ids to the cancel function of the session
// answering them. Safe for concurrent use.
type AbortRegistry struct {
	mu      sync.Mutex
	entries map[string]*abortEntry
}

// NewAbortRegistry creates an empty registry.
func NewAbortRegistry() *AbortRegistry {
	return &AbortRegistry{entries: make(map[string]*abortEntry)}
}

// Register stores cancel under id, replacing any earlier handle.
// The returned function deregisters this handle; it is safe to call more
// than once and never removes a newer registration for the same id.
func (r *AbortRegistry) Register(id string, cancel context.CancelCauseFunc) func() {
	entry := &abortEntry{cancel: cancel}

	r.mu.Lock()
	r.entries[id] = entry
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if r.entries[id] == entry {
				delete(r.entries, id)
			}
		})
	}
}

// Abort cancels the session registered under id with ErrAborted.
// Reports whether a handle was found.
func (r *AbortRegistry) Abort(id string) bool {
	r.mu.Lock()
	entry, ok := r.entries[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	entry.cancel(ErrAborted)
	return true
}

// AbortAll cancels every registered session. Returns how many were aborted.
func (r *AbortRegistry) AbortAll() int {
	r.mu.Lock()
	entries := make([]*abortEntry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	for _, e := range entries {
		e.cancel(ErrAborted)
	}
	return len(entries)
}

// Has reports whether a handle is registered under id.
func (r *AbortRegistry) Has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	return ok
}

// Len returns the number of registered handles.
func (r *AbortRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
