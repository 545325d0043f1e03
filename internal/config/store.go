package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// reloadSettle is how long the store waits after a config-file write before
// re-reading, so editors that write in several steps are seen once.
const reloadSettle = 250 * time.Millisecond

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".filewatchd")
}

// DefaultConfigFile returns the default configuration file path.
func DefaultConfigFile() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Listener is notified with the new snapshot after a successful reload.
type Listener func(*Config)

// Store owns the current configuration snapshot. Snapshots are immutable and
// swapped atomically, so any goroutine may call Current at any time and merge
// against a consistent view. A file watch keeps the snapshot in sync with the
// on-disk configuration without restarting the process.
type Store struct {
	path string
	log  zerolog.Logger

	current atomic.Pointer[Config]

	mu        sync.Mutex
	listeners []Listener

	watcher   *fsnotify.Watcher
	done      chan struct{}
	closeOnce sync.Once
}

// NewStore loads the configuration at path (or installs the defaults when the
// file does not exist yet) and returns a store serving it.
func NewStore(path string, log zerolog.Logger) (*Store, error) {
	s := &Store{
		path: path,
		log:  log.With().Str("component", "config").Logger(),
		done: make(chan struct{}),
	}

	cfg, err := readFile(path)
	if errors.Is(err, os.ErrNotExist) {
		s.log.Info().Str("path", path).Msg("no configuration file, using defaults")
		cfg = Default()
	} else if err != nil {
		return nil, err
	}
	s.current.Store(cfg)
	return s, nil
}

// Current returns the latest snapshot. Callers must treat it as read-only.
func (s *Store) Current() *Config {
	return s.current.Load()
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// OnChange registers a listener invoked after every successful reload.
// Listeners are isolated from each other: one panicking does not prevent the
// rest from running.
func (s *Store) OnChange(fn Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Reload re-reads the backing file and swaps in the new snapshot. On any
// read, parse, or validation error the previous snapshot stays current.
func (s *Store) Reload() error {
	cfg, err := readFile(s.path)
	if err != nil {
		return err
	}
	s.install(cfg)
	return nil
}

func (s *Store) install(cfg *Config) {
	s.current.Store(cfg)

	s.mu.Lock()
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		s.notify(fn, cfg)
	}
}

func (s *Store) notify(fn Listener, cfg *Config) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("config listener panicked")
		}
	}()
	fn(cfg)
}

// Watch starts a background goroutine that reloads the snapshot whenever the
// backing file changes on disk. The watch is on the containing directory so
// atomic rename-into-place writes are seen.
func (s *Store) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		w.Close()
		return fmt.Errorf("watch config directory: %w", err)
	}
	s.watcher = w

	go s.watchLoop()
	return nil
}

func (s *Store) watchLoop() {
	var settle *time.Timer
	var settleC <-chan time.Time

	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if !sameFile(event.Name, s.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if settle == nil {
				settle = time.NewTimer(reloadSettle)
				settleC = settle.C
			} else {
				settle.Reset(reloadSettle)
			}

		case <-settleC:
			settle, settleC = nil, nil
			if err := s.Reload(); err != nil {
				s.log.Warn().Err(err).Msg("configuration reload failed, keeping previous snapshot")
				continue
			}
			s.log.Info().Str("path", s.path).Msg("configuration reloaded")

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn().Err(err).Msg("config watcher error")

		case <-s.done:
			return
		}
	}
}

// Close stops the file watch.
func (s *Store) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

// Save validates cfg, writes it atomically (temp file then rename), and
// installs it as the current snapshot.
func (s *Store) Save(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := writeFile(s.path, cfg); err != nil {
		return err
	}
	s.install(cfg)
	return nil
}

func readFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

func writeFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func sameFile(a, b string) bool {
	return filepath.Clean(a) == filepath.Clean(b)
}
