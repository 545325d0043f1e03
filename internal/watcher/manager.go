// Package watcher owns the native watch handles for the configured folders
// and restarts them on failure within a bounded per-folder budget.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/user/filewatchd/internal/config"
)

// ErrEventStreamClosed indicates the native handle closed its event stream
// unexpectedly, which is treated like any other watch error.
var ErrEventStreamClosed = errors.New("watch event stream closed")

// Handle abstracts one native change-notification handle so the restart state
// machine can be exercised without a real file system failing underneath it.
type Handle interface {
	Events() <-chan fsnotify.Event
	Errors() <-chan error
	Add(path string) error
	Close() error
}

type fsnotifyHandle struct{ w *fsnotify.Watcher }

func (h fsnotifyHandle) Events() <-chan fsnotify.Event { return h.w.Events }
func (h fsnotifyHandle) Errors() <-chan error          { return h.w.Errors }
func (h fsnotifyHandle) Add(path string) error         { return h.w.Add(path) }
func (h fsnotifyHandle) Close() error                  { return h.w.Close() }

func newFSNotifyHandle() (Handle, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return fsnotifyHandle{w: w}, nil
}

// Callbacks are the manager's outbound notifications. OnEvent receives every
// raw change notification; OnError every handled watch error; OnExceeded
// fires once when a folder exhausts its restart budget.
type Callbacks struct {
	OnEvent    func(folder config.WatchedFolder, path string)
	OnError    func(folder config.WatchedFolder, err error)
	OnExceeded func(folder config.WatchedFolder)
}

// folderWatch is the restart state for a single watched folder. It is touched
// only by that folder's goroutine apart from the handle reference, which
// StopAll closes concurrently.
type folderWatch struct {
	folder  config.WatchedFolder
	recurse bool
	attempt int

	mu     sync.Mutex
	handle Handle
	cancel context.CancelFunc
}

func (fw *folderWatch) setHandle(h Handle) {
	fw.mu.Lock()
	fw.handle = h
	fw.mu.Unlock()
}

func (fw *folderWatch) closeHandle() error {
	fw.mu.Lock()
	h := fw.handle
	fw.handle = nil
	fw.mu.Unlock()
	if h == nil {
		return nil
	}
	return h.Close()
}

// Manager runs one watch goroutine per folder. Folders are fully independent:
// one folder's failures and restart delays never touch another's.
type Manager struct {
	store     *config.Store
	log       zerolog.Logger
	newHandle func() (Handle, error)

	mu      sync.Mutex
	watches []*folderWatch
	wg      sync.WaitGroup
}

// NewManager creates a manager reading its restart policy live from store.
func NewManager(store *config.Store, log zerolog.Logger) *Manager {
	return &Manager{
		store:     store,
		log:       log.With().Str("component", "watcher").Logger(),
		newHandle: newFSNotifyHandle,
	}
}

// StartWatching opens one handle per folder and begins delivering raw change
// notifications. recurse resolves each folder's effective recursion flag.
// Watches persist until StopAll or ctx cancellation.
func (m *Manager) StartWatching(ctx context.Context, folders []config.WatchedFolder, recurse func(config.WatchedFolder) bool, cb Callbacks) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, folder := range folders {
		fctx, cancel := context.WithCancel(ctx)
		fw := &folderWatch{
			folder:  folder,
			recurse: recurse(folder),
			cancel:  cancel,
		}
		m.watches = append(m.watches, fw)

		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.run(fctx, fw, cb)
		}()
	}
}

// run is the bounded-retry state machine for one folder. Every loop iteration
// is one start attempt; a successful start resets the budget, and each
// handled error consumes one attempt until the maximum is exceeded.
func (m *Manager) run(ctx context.Context, fw *folderWatch, cb Callbacks) {
	for {
		h, err := m.open(fw)
		if err == nil {
			fw.attempt = 0
			fw.setHandle(h)
			m.log.Debug().Str("folder", fw.folder.FolderPath).Msg("watch started")

			err = m.serve(ctx, fw, h, cb)
			fw.closeHandle()
			if err == nil {
				return // cancelled
			}
		}

		if ctx.Err() != nil {
			return
		}
		m.log.Warn().Err(err).Str("folder", fw.folder.FolderPath).Int("attempt", fw.attempt+1).
			Msg("watch error, attempting restart")
		if cb.OnError != nil {
			cb.OnError(fw.folder, err)
		}

		policy := m.store.Current().Global
		fw.attempt++
		if fw.attempt > policy.WatcherMaxRestartAttempts {
			m.log.Error().Str("folder", fw.folder.FolderPath).
				Int("attempts", fw.attempt).
				Msg("watch restart budget exhausted, folder is unwatched")
			if cb.OnExceeded != nil {
				cb.OnExceeded(fw.folder)
			}
			return
		}

		delay := time.Duration(policy.WatcherRestartDelayMilliseconds) * time.Millisecond
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

// open creates a handle and registers the folder tree on it.
func (m *Manager) open(fw *folderWatch) (Handle, error) {
	h, err := m.newHandle()
	if err != nil {
		return nil, err
	}
	if err := addTree(h, fw.folder.FolderPath, fw.recurse); err != nil {
		h.Close()
		return nil, err
	}
	return h, nil
}

// addTree registers root and, when recursing, every subdirectory under it.
// Unreadable subdirectories are skipped so one bad entry does not take the
// whole folder down.
func addTree(h Handle, root string, recurse bool) error {
	if err := h.Add(root); err != nil {
		return err
	}
	if !recurse {
		return nil
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() && path != root {
			_ = h.Add(path)
		}
		return nil
	})
}

// serve pumps one handle until it errors or ctx is cancelled. A nil return
// means cancellation; any error return feeds the restart state machine.
func (m *Manager) serve(ctx context.Context, fw *folderWatch, h Handle, cb Callbacks) error {
	for {
		select {
		case event, ok := <-h.Events():
			if !ok {
				return ErrEventStreamClosed
			}
			m.handleEvent(fw, h, event, cb)

		case err, ok := <-h.Errors():
			if !ok {
				return ErrEventStreamClosed
			}
			return err

		case <-ctx.Done():
			return nil
		}
	}
}

func (m *Manager) handleEvent(fw *folderWatch, h Handle, event fsnotify.Event, cb Callbacks) {
	// New subdirectories join the watch when recursing.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if fw.recurse {
				_ = addTree(h, event.Name, true)
			}
			return
		}
	}

	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}
	if cb.OnEvent != nil {
		cb.OnEvent(fw.folder, event.Name)
	}
}

// StopAll cancels every folder goroutine and disposes every open handle.
// Individual close errors are logged and swallowed so one stuck handle cannot
// block shutdown of the rest.
func (m *Manager) StopAll() {
	m.mu.Lock()
	watches := m.watches
	m.watches = nil
	m.mu.Unlock()

	for _, fw := range watches {
		fw.cancel()
		if err := fw.closeHandle(); err != nil {
			m.log.Warn().Err(err).Str("folder", fw.folder.FolderPath).Msg("error closing watch handle")
		}
	}
	m.wg.Wait()
}

// WatchedFolders returns the folders currently under management.
func (m *Manager) WatchedFolders() []config.WatchedFolder {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]config.WatchedFolder, 0, len(m.watches))
	for _, fw := range m.watches {
		out = append(out, fw.folder)
	}
	return out
}
