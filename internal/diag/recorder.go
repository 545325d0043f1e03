// Package diag records dispatch outcomes for observability and answers the
// pipeline's idempotency queries.
package diag

import (
	"strings"
	"sync"
	"time"
)

// defaultHistory bounds the in-memory event ring.
const defaultHistory = 500

// FileEvent is the recorded outcome of one dispatch.
type FileEvent struct {
	Path          string    `json:"path"`
	Timestamp     time.Time `json:"timestamp"`
	PostedSuccess bool      `json:"postedSuccess"`
	StatusCode    int       `json:"statusCode,omitempty"`
}

// Recorder keeps a bounded ring of recent file events plus the set of paths
// that have been delivered successfully. Safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	events  []FileEvent
	next    int
	full    bool
	posted  map[string]bool
	success int64
	failure int64
}

// NewRecorder creates a recorder with the default history size.
func NewRecorder() *Recorder {
	return &Recorder{
		events: make([]FileEvent, defaultHistory),
		posted: make(map[string]bool),
	}
}

// RecordFileEvent stores the outcome of one dispatch. Successful deliveries
// mark the path as posted for the idempotency guard.
func (r *Recorder) RecordFileEvent(path string, success bool, statusCode int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events[r.next] = FileEvent{
		Path:          path,
		Timestamp:     time.Now(),
		PostedSuccess: success,
		StatusCode:    statusCode,
	}
	r.next++
	if r.next == len(r.events) {
		r.next = 0
		r.full = true
	}

	if success {
		r.success++
		r.posted[strings.ToLower(path)] = true
	} else {
		r.failure++
	}
}

// IsFilePosted reports whether path has already been delivered successfully.
// Matching is case-insensitive, like the rest of the path handling.
func (r *Recorder) IsFilePosted(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.posted[strings.ToLower(path)]
}

// ForgetPosted clears the posted mark for path, used after a successful move
// so a genuinely new file under the same name can trigger again.
func (r *Recorder) ForgetPosted(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.posted, strings.ToLower(path))
}

// Recent returns the recorded events, oldest first.
func (r *Recorder) Recent() []FileEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		out := make([]FileEvent, r.next)
		copy(out, r.events[:r.next])
		return out
	}
	out := make([]FileEvent, 0, len(r.events))
	out = append(out, r.events[r.next:]...)
	out = append(out, r.events[:r.next]...)
	return out
}

// Totals returns the cumulative success and failure counts.
func (r *Recorder) Totals() (success, failure int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.success, r.failure
}
