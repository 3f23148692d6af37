// Package logq provides the append-only log-event queue exposed to the
// reporting/UI collaborator. Producers push entries; the consumer reads
// undelivered entries and they are marked delivered in the same call.
package logq

import (
	"sync"
	"time"
)

// Entry is one user-facing log event.
type Entry struct {
	Time      time.Time `json:"time"`
	Message   string    `json:"message"`
	Delivered bool      `json:"delivered"`
}

// Queue is a mutex-guarded append-only event queue.
type Queue struct {
	mu      sync.Mutex
	entries []Entry

	// MaxEntries caps queue growth; oldest delivered entries are evicted
	// first when the cap is exceeded. 0 disables the cap.
	MaxEntries int
}

// New creates a queue with the given cap (0 = unbounded).
func New(maxEntries int) *Queue {
	return &Queue{MaxEntries: maxEntries}
}

// Push appends a message to the queue.
func (q *Queue) Push(msg string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, Entry{Time: time.Now().UTC(), Message: msg})
	if q.MaxEntries > 0 && len(q.entries) > q.MaxEntries {
		q.entries = q.entries[len(q.entries)-q.MaxEntries:]
	}
}

// Drain returns all undelivered entries, oldest first, marking them delivered.
func (q *Queue) Drain() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []Entry
	for i := range q.entries {
		if !q.entries[i].Delivered {
			q.entries[i].Delivered = true
			out = append(out, q.entries[i])
		}
	}
	return out
}

// Snapshot returns a copy of every entry without changing delivery state.
func (q *Queue) Snapshot() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Entry, len(q.entries))
	copy(out, q.entries)
	return out
}
