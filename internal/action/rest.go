package action

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/user/filewatchd/internal/config"
	"github.com/user/filewatchd/internal/delivery"
)

// restPayload is the JSON body posted for a settled file.
type restPayload struct {
	ID         string    `json:"id"`
	Path       string    `json:"path"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modifiedAt"`
	DetectedAt time.Time `json:"detectedAt"`
	Content    []byte    `json:"content,omitempty"` // base64 via encoding/json
	Truncated  bool      `json:"truncated,omitempty"`
}

// RestRunner posts settled files to the action's endpoint through the
// resilient delivery wrapper.
type RestRunner struct {
	sender *delivery.Sender
	log    zerolog.Logger
}

// NewRestRunner creates a REST delivery runner.
func NewRestRunner(sender *delivery.Sender, log zerolog.Logger) *RestRunner {
	return &RestRunner{
		sender: sender,
		log:    log.With().Str("component", "rest").Logger(),
	}
}

// Execute delivers the file. Files at or above the streaming threshold are
// sent as a raw body instead of being buffered into a JSON payload.
func (r *RestRunner) Execute(ctx context.Context, event Event, cfg *config.Effective) Outcome {
	f, info, err := openReady(ctx, event.Path, cfg)
	if err != nil {
		return Outcome{Err: err}
	}
	f.Close()

	if info.Size() == 0 && cfg.DiscardZeroByteFiles {
		r.log.Info().Str("path", event.Path).Msg("discarding zero-byte file")
		return Outcome{Skipped: true, Err: ErrZeroByteDiscarded}
	}

	var factory delivery.RequestFactory
	if cfg.PostFileContents && info.Size() >= cfg.StreamingThresholdBytes && cfg.StreamingThresholdBytes > 0 {
		factory = r.streamFactory(event, cfg)
	} else {
		factory, err = r.jsonFactory(event, info, cfg)
		if err != nil {
			return Outcome{Err: err}
		}
	}

	res := r.sender.SendWithRetries(ctx, factory, cfg.Endpoint, cfg)
	if res.CircuitOpen && res.Attempts == 0 {
		r.log.Warn().Str("path", event.Path).Str("endpoint", cfg.Endpoint).Msg("delivery skipped, circuit open")
	}
	return Outcome{Success: res.Success, StatusCode: res.StatusCode, Err: res.Err}
}

// jsonFactory buffers the payload once; each attempt gets a fresh reader
// over the same bytes.
func (r *RestRunner) jsonFactory(event Event, info os.FileInfo, cfg *config.Effective) (delivery.RequestFactory, error) {
	payload := restPayload{
		ID:         event.ID,
		Path:       event.Path,
		Name:       filepath.Base(event.Path),
		Size:       info.Size(),
		ModifiedAt: info.ModTime(),
		DetectedAt: event.Timestamp,
	}

	if cfg.PostFileContents {
		if info.Size() <= cfg.MaxContentBytes {
			content, err := os.ReadFile(event.Path)
			if err != nil {
				return nil, err
			}
			payload.Content = content
		} else {
			payload.Truncated = true
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Filewatchd-Event", event.ID)
		return req, nil
	}, nil
}

// streamFactory re-opens the file per attempt so a retried request gets a
// complete body.
func (r *RestRunner) streamFactory(event Event, cfg *config.Effective) delivery.RequestFactory {
	return func(ctx context.Context) (*http.Request, error) {
		f, err := os.Open(event.Path)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Endpoint, f)
		if err != nil {
			f.Close()
			return nil, err
		}
		req.Header.Set("Content-Type", "application/octet-stream")
		req.Header.Set("X-Filewatchd-Event", event.ID)
		req.Header.Set("X-Filewatchd-Path", event.Path)
		req.Header.Set("X-Filewatchd-Name", filepath.Base(event.Path))
		return req, nil
	}
}
