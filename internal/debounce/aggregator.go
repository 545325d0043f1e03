// Package debounce coalesces bursts of raw file-system notifications into a
// single settled trigger per path.
package debounce

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/user/filewatchd/internal/config"
)

// sweepInterval is how often the pending set is scanned for settled paths.
const sweepInterval = 100 * time.Millisecond

// pushTimeout bounds how long a settled path may wait for queue space before
// it is dropped for this cycle.
const pushTimeout = 250 * time.Millisecond

// WindowFunc resolves the debounce window that currently applies to a path.
// It is consulted on every sweep so configuration reloads take effect on
// paths that are already pending.
type WindowFunc func(path string) time.Duration

// Aggregator tracks the last-seen time per path and emits a path once it has
// been quiet for its debounce window. Schedule is safe to call concurrently
// from any number of watcher callbacks.
type Aggregator struct {
	store  *config.Store
	window WindowFunc
	log    zerolog.Logger
	now    func() time.Time

	mu      sync.Mutex
	pending map[string]time.Time

	out chan string
}

// New creates an aggregator emitting on a queue sized by the service's
// channel capacity. window may be nil, in which case the global debounce
// window applies to every path.
func New(store *config.Store, window WindowFunc, log zerolog.Logger) *Aggregator {
	capacity := store.Current().Global.ChannelCapacity
	return &Aggregator{
		store:   store,
		window:  window,
		log:     log.With().Str("component", "debounce").Logger(),
		now:     time.Now,
		pending: make(map[string]time.Time),
		out:     make(chan string, capacity),
	}
}

// Schedule records or refreshes the last-seen time for path. Last write wins:
// a refresh always extends the settle window.
func (a *Aggregator) Schedule(path string) {
	a.mu.Lock()
	a.pending[path] = a.now()
	a.mu.Unlock()
}

// Out is the settled-path queue consumed by the coordinator.
func (a *Aggregator) Out() <-chan string {
	return a.out
}

// PendingCount returns the number of paths still inside their window.
func (a *Aggregator) PendingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Run sweeps the pending set until ctx is cancelled. Idle cycles cost one
// sweep interval; there is no busy spin when nothing is pending.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, path := range a.takeDue() {
				a.push(ctx, path)
			}
		case <-ctx.Done():
			return
		}
	}
}

// takeDue removes and returns every pending path whose quiet time has reached
// its current window. The window is resolved fresh on each sweep.
func (a *Aggregator) takeDue() []string {
	now := a.now()
	fallback := time.Duration(a.store.Current().Global.DebounceWindowMilliseconds) * time.Millisecond

	a.mu.Lock()
	defer a.mu.Unlock()

	var due []string
	for path, last := range a.pending {
		window := fallback
		if a.window != nil {
			if w := a.window(path); w > 0 {
				window = w
			}
		}
		if now.Sub(last) >= window {
			delete(a.pending, path)
			due = append(due, path)
		}
	}
	return due
}

// push tries an immediate send, then waits up to pushTimeout for queue space.
// A path that still cannot be queued is dropped for this cycle; it comes back
// only if the source notifies again.
func (a *Aggregator) push(ctx context.Context, path string) {
	select {
	case a.out <- path:
		return
	default:
	}

	timer := time.NewTimer(pushTimeout)
	defer timer.Stop()

	select {
	case a.out <- path:
	case <-timer.C:
		a.log.Warn().Str("path", path).Msg("settled queue full, dropping path")
	case <-ctx.Done():
	}
}
