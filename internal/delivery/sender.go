// Package delivery wraps outbound HTTP calls with bounded retries and a
// per-endpoint circuit breaker.
package delivery

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/user/filewatchd/internal/config"
)

// Result describes the outcome of one SendWithRetries call.
type Result struct {
	Success     bool
	Attempts    int
	StatusCode  int
	Err         error
	Duration    time.Duration
	CircuitOpen bool
}

// RequestFactory builds a fresh request for each attempt, since a request
// body can only be consumed once.
type RequestFactory func(ctx context.Context) (*http.Request, error)

// circuit is the breaker state for one endpoint key. Created lazily on first
// use, never persisted.
type circuit struct {
	consecutiveFailures int
	openUntil           time.Time
}

// Sender performs resilient HTTP delivery. It is safe for concurrent use;
// the circuit table is the only shared state.
type Sender struct {
	client *http.Client
	log    zerolog.Logger
	now    func() time.Time

	mu       sync.Mutex
	circuits map[string]*circuit
}

// NewSender creates a sender using the given client, or a default one with a
// 30 second timeout when client is nil.
func NewSender(client *http.Client, log zerolog.Logger) *Sender {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Sender{
		client:   client,
		log:      log.With().Str("component", "delivery").Logger(),
		now:      time.Now,
		circuits: make(map[string]*circuit),
	}
}

// SendWithRetries performs the call with up to Retries+1 attempts. 5xx and
// transport failures are retried after the fixed retry delay; 4xx fails
// immediately. When the circuit for endpointKey is open the call returns at
// once without touching the network. Reaching the failure threshold opens
// the circuit and ends the current call early.
func (s *Sender) SendWithRetries(ctx context.Context, newRequest RequestFactory, endpointKey string, cfg *config.Effective) Result {
	start := s.now()
	res := Result{}

	if cfg.EnableCircuitBreaker && s.isOpen(endpointKey) {
		s.log.Warn().Str("endpoint", endpointKey).Msg("circuit open, skipping delivery")
		res.CircuitOpen = true
		res.Duration = s.now().Sub(start)
		return res
	}

	total := cfg.Retries + 1
	for attempt := 1; attempt <= total; attempt++ {
		res.Attempts = attempt

		status, err := s.attempt(ctx, newRequest)
		res.StatusCode = status
		res.Err = err

		s.log.Debug().Str("endpoint", endpointKey).Int("attempt", attempt).Int("of", total).
			Int("status", status).Err(err).Msg("delivery attempt")

		if err == nil && status >= 200 && status < 300 {
			res.Success = true
			res.Err = nil
			if cfg.EnableCircuitBreaker {
				s.recordSuccess(endpointKey)
			}
			break
		}

		opened := false
		if cfg.EnableCircuitBreaker {
			opened = s.recordFailure(endpointKey, cfg)
		}
		if opened {
			s.log.Warn().Str("endpoint", endpointKey).
				Dur("open_for", cfg.CircuitBreakerOpenDuration).
				Msg("circuit opened after consecutive failures")
			res.CircuitOpen = true
			break
		}

		// Client errors are not transient; do not burn remaining attempts.
		if err == nil && status >= 400 && status < 500 {
			break
		}
		if attempt == total {
			break
		}

		select {
		case <-time.After(cfg.RetryDelay()):
		case <-ctx.Done():
			res.Err = ctx.Err()
			res.Duration = s.now().Sub(start)
			return res
		}
	}

	res.Duration = s.now().Sub(start)
	return res
}

func (s *Sender) attempt(ctx context.Context, newRequest RequestFactory) (int, error) {
	req, err := newRequest(ctx)
	if err != nil {
		return 0, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

func (s *Sender) isOpen(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.circuits[key]
	return ok && s.now().Before(c.openUntil)
}

func (s *Sender) recordSuccess(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.circuits[key]; ok {
		c.consecutiveFailures = 0
		c.openUntil = time.Time{}
	}
}

// recordFailure bumps the failure counter and reports whether this failure
// tripped the breaker open.
func (s *Sender) recordFailure(key string, cfg *config.Effective) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.circuits[key]
	if !ok {
		c = &circuit{}
		s.circuits[key] = c
	}
	c.consecutiveFailures++
	if c.consecutiveFailures >= cfg.CircuitBreakerFailureThreshold {
		c.openUntil = s.now().Add(cfg.CircuitBreakerOpenDuration)
		return true
	}
	return false
}

// OpenCircuits returns the endpoint keys whose circuits are currently open,
// for diagnostics.
func (s *Sender) OpenCircuits() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var open []string
	now := s.now()
	for key, c := range s.circuits {
		if now.Before(c.openUntil) {
			open = append(open, key)
		}
	}
	return open
}
