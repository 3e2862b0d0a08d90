package session

import (
	"sync"

	"github.com/richinex/relay/model"
)

// InvocationLog accumulates executed tool invocations. Records are only
// appended; readers get copies.
type InvocationLog struct {
	mu      sync.Mutex
	records []model.ToolInvocationRecord
}

// NewInvocationLog creates an empty log.
func NewInvocationLog() *InvocationLog {
	return &InvocationLog{}
}

// Append adds a record to the end of the log.
func (l *InvocationLog) Append(record model.ToolInvocationRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, record)
}

// Snapshot returns a copy of all records in execution order.
func (l *InvocationLog) Snapshot() []model.ToolInvocationRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.ToolInvocationRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Len returns the number of records.
func (l *InvocationLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
