package diag

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/user/filewatchd/internal/config"
)

// StatusSource supplies the live pipeline state the status endpoint reports.
type StatusSource interface {
	WatchedFolders() []config.WatchedFolder
	OpenCircuits() []string
	PendingCount() int
}

// Server is the optional diagnostics HTTP endpoint.
type Server struct {
	recorder *Recorder
	source   StatusSource
	log      zerolog.Logger
	started  time.Time
	srv      *http.Server
}

// NewServer creates a diagnostics server listening on port.
func NewServer(port int, recorder *Recorder, source StatusSource, log zerolog.Logger) *Server {
	s := &Server{
		recorder: recorder,
		source:   source,
		log:      log.With().Str("component", "diag").Logger(),
		started:  time.Now(),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Get("/api/status", s.handleStatus)
	r.Get("/api/events", s.handleEvents)

	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves in a background goroutine until Shutdown.
func (s *Server) Start() {
	go func() {
		s.log.Info().Str("addr", s.srv.Addr).Msg("diagnostics endpoint listening")
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("diagnostics endpoint failed")
		}
	}()
}

// Shutdown stops the listener, waiting up to the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	success, failure := s.recorder.Totals()

	folders := s.source.WatchedFolders()
	paths := make([]string, 0, len(folders))
	for _, f := range folders {
		paths = append(paths, f.FolderPath)
	}

	writeJSON(w, map[string]any{
		"uptimeSeconds":  int64(time.Since(s.started).Seconds()),
		"watchedFolders": paths,
		"openCircuits":   s.source.OpenCircuits(),
		"pendingPaths":   s.source.PendingCount(),
		"delivered":      success,
		"failed":         failure,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.recorder.Recent())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
