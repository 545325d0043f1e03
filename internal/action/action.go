// Package action contains the runners a settled file can be dispatched to:
// REST delivery, executable, and script execution.
package action

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/user/filewatchd/internal/config"
)

// Event is one settled file being handed to a runner.
type Event struct {
	ID        string
	Path      string
	Timestamp time.Time
}

// NewEvent creates an event for path.
func NewEvent(path string) Event {
	return Event{
		ID:        uuid.NewString(),
		Path:      path,
		Timestamp: time.Now(),
	}
}

// Outcome reports what a runner did with an event.
type Outcome struct {
	Success    bool
	Skipped    bool
	StatusCode int
	Err        error
}

// Runner executes one action type against a settled file.
type Runner interface {
	Execute(ctx context.Context, event Event, cfg *config.Effective) Outcome
}

// ErrZeroByteDiscarded marks a file skipped by the zero-byte policy.
var ErrZeroByteDiscarded = errors.New("zero-byte file discarded")

// readyAttempts bounds how often a file that cannot be opened yet is retried
// before the runner gives up.
const readyAttempts = 3

// openReady waits for the file to become readable. Writers that still hold
// the file open (or antivirus scanners) make the first open fail or the size
// unstable, so the runner waits the configured readiness delay between tries.
func openReady(ctx context.Context, path string, cfg *config.Effective) (*os.File, os.FileInfo, error) {
	wait := cfg.FileReadyWait()
	retryWait := wait
	if retryWait <= 0 {
		retryWait = 100 * time.Millisecond
	}

	var lastErr error
	for i := 0; i < readyAttempts; i++ {
		var pause time.Duration
		if i == 0 {
			pause = wait
		} else {
			pause = retryWait
		}
		if pause > 0 {
			select {
			case <-time.After(pause):
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			}
		}

		f, err := os.Open(path)
		if err != nil {
			lastErr = err
			continue
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			lastErr = err
			continue
		}
		return f, info, nil
	}
	return nil, nil, fmt.Errorf("file not ready after %d attempts: %w", readyAttempts, lastErr)
}
