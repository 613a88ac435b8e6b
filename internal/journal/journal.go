// Package journal keeps a bounded, append-only record of reported
// events. It is a pure output artifact: the core writes to it and the
// UI reads it, nothing in the core ever reads it back.
package journal

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/peerwire/peerwire/internal/util"
)

// Severity grades a journal entry.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Entry is one recorded event.
type Entry struct {
	ID       string
	Time     time.Time
	Message  string
	Severity Severity
}

// Journal is a fixed-capacity ring of entries. Once full, recording a
// new entry drops the oldest one.
type Journal struct {
	mu       sync.Mutex
	capacity int
	entries  []Entry
	onAppend func(Entry)
}

// New creates a journal holding at most capacity entries.
func New(capacity int) *Journal {
	if capacity < 1 {
		capacity = 1
	}
	return &Journal{capacity: capacity}
}

// OnAppend registers a single observer notified for every new entry.
func (j *Journal) OnAppend(fn func(Entry)) {
	j.mu.Lock()
	j.onAppend = fn
	j.mu.Unlock()
}

// Record appends a formatted entry, echoes it to the terminal logger,
// and notifies the observer.
func (j *Journal) Record(severity Severity, format string, args ...interface{}) {
	entry := Entry{
		ID:       uuid.NewString(),
		Time:     time.Now(),
		Message:  fmt.Sprintf(format, args...),
		Severity: severity,
	}

	switch severity {
	case SeverityWarning:
		util.LogWarning("%s", entry.Message)
	case SeverityError:
		util.LogError("%s", entry.Message)
	default:
		util.LogInfo("%s", entry.Message)
	}

	j.mu.Lock()
	j.entries = append(j.entries, entry)
	if len(j.entries) > j.capacity {
		j.entries = j.entries[len(j.entries)-j.capacity:]
	}
	fn := j.onAppend
	j.mu.Unlock()

	if fn != nil {
		fn(entry)
	}
}

// Entries returns a snapshot of the current entries, oldest first.
func (j *Journal) Entries() []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Entry, len(j.entries))
	copy(out, j.entries)
	return out
}

// Len returns the number of retained entries.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}
