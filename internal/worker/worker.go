// Package worker implements the event coordinator: it resolves the effective
// configuration for each settled file, applies the filter chain, and
// dispatches surviving files to their actions.
package worker

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/user/filewatchd/internal/action"
	"github.com/user/filewatchd/internal/config"
	"github.com/user/filewatchd/internal/debounce"
	"github.com/user/filewatchd/internal/delivery"
	"github.com/user/filewatchd/internal/diag"
	"github.com/user/filewatchd/internal/watcher"
)

// shutdownGrace bounds how long Stop waits for in-flight dispatches.
const shutdownGrace = 10 * time.Second

// Worker is the pipeline hub. It holds no private configuration copy: every
// decision reads the store's current snapshot, so reloads take effect on the
// next event without a restart.
type Worker struct {
	store   *config.Store
	rec     *diag.Recorder
	sender  *delivery.Sender
	mgr     *watcher.Manager
	agg     *debounce.Aggregator
	runners map[config.ActionType]action.Runner
	log     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	loopWG sync.WaitGroup // debounce + consume loops

	dispatchWG sync.WaitGroup
	sem        chan struct{}

	topoMu   sync.Mutex
	topology *config.Config // last snapshot the watchers were built from
}

// New wires the coordinator against the store, recorder, and sender.
func New(store *config.Store, rec *diag.Recorder, sender *delivery.Sender, log zerolog.Logger) *Worker {
	w := &Worker{
		store:  store,
		rec:    rec,
		sender: sender,
		log:    log.With().Str("component", "worker").Logger(),
	}
	w.mgr = watcher.NewManager(store, log)
	w.agg = debounce.New(store, w.windowForPath, log)
	w.runners = map[config.ActionType]action.Runner{
		config.ActionRestDelivery:    action.NewRestRunner(sender, log),
		config.ActionExecutable:      action.NewExecRunner(log),
		config.ActionScriptExecution: action.NewScriptRunner(log),
	}

	parallel := store.Current().Global.MaxParallelDispatches
	if parallel <= 0 {
		parallel = 1
	}
	w.sem = make(chan struct{}, parallel)
	return w
}

// Start begins watching, debouncing, and dispatching, and backfills files
// already present in the watched folders.
func (w *Worker) Start(ctx context.Context) {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.loopWG.Add(2)
	go func() {
		defer w.loopWG.Done()
		w.agg.Run(w.ctx)
	}()
	go func() {
		defer w.loopWG.Done()
		w.consume()
	}()

	w.store.OnChange(w.onConfigChange)
	w.configure(w.store.Current())
}

// Stop shuts the pipeline down in order: watches first, then the loops, then
// a bounded wait for in-flight dispatches.
func (w *Worker) Stop() {
	w.mgr.StopAll()
	w.cancel()
	w.loopWG.Wait()

	done := make(chan struct{})
	go func() {
		w.dispatchWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		w.log.Warn().Msg("abandoning in-flight dispatches after shutdown grace")
	}
}

// WatchedFolders reports the folders currently under watch.
func (w *Worker) WatchedFolders() []config.WatchedFolder { return w.mgr.WatchedFolders() }

// OpenCircuits reports endpoints with open circuit breakers.
func (w *Worker) OpenCircuits() []string { return w.sender.OpenCircuits() }

// PendingCount reports paths waiting out their debounce window.
func (w *Worker) PendingCount() int { return w.agg.PendingCount() }

// configure (re)builds the watch set from cfg and backfills existing files.
func (w *Worker) configure(cfg *config.Config) {
	w.topoMu.Lock()
	w.topology = cfg
	w.topoMu.Unlock()

	w.mgr.StartWatching(w.ctx, cfg.Folders, w.recurseFor, watcher.Callbacks{
		OnEvent: w.onRawEvent,
		OnError: func(folder config.WatchedFolder, err error) {
			w.log.Warn().Err(err).Str("folder", folder.FolderPath).Msg("watch error")
		},
		OnExceeded: func(folder config.WatchedFolder) {
			w.log.Error().Str("folder", folder.FolderPath).Str("action", folder.ActionName).
				Msg("folder unwatched: restart budget exhausted, reconfigure to recover")
		},
	})

	for _, folder := range cfg.Folders {
		w.backfill(folder)
	}
}

// onConfigChange reacts to a reload: tuning-only changes need nothing (every
// read already goes to the current snapshot); topology changes rebuild the
// watch set.
func (w *Worker) onConfigChange(cfg *config.Config) {
	w.topoMu.Lock()
	prev := w.topology
	w.topoMu.Unlock()

	if prev != nil && config.SameTopology(prev, cfg) {
		w.log.Debug().Msg("configuration changed, watch topology unchanged")
		return
	}

	w.log.Info().Msg("watch topology changed, restarting watchers")
	w.mgr.StopAll()
	w.configure(cfg)
}

// recurseFor resolves a folder's effective recursion flag. A folder path
// shared by several actions recurses when any of them does.
func (w *Worker) recurseFor(folder config.WatchedFolder) bool {
	cfg := w.store.Current()
	for _, eff := range w.effectiveForFolderPath(cfg, folder.FolderPath) {
		if eff.RecurseSubdirectories {
			return true
		}
	}
	return false
}

// onRawEvent is the watcher callback. Self-generated noise from the
// processed folder is rejected here so successful moves do not feed back
// into the debounce set.
func (w *Worker) onRawEvent(folder config.WatchedFolder, path string) {
	cfg := w.store.Current()
	for _, eff := range w.effectiveForFolderPath(cfg, folder.FolderPath) {
		if underProcessedFolder(path, folder.FolderPath, eff.ProcessedFolderName) {
			return
		}
	}
	w.agg.Schedule(path)
}

// windowForPath lets the debounce loop honor per-action window overrides,
// resolved against the current snapshot on every sweep.
func (w *Worker) windowForPath(path string) time.Duration {
	eff, _, ok := w.ResolveConfigForPath(path)
	if !ok {
		return 0
	}
	return eff.DebounceWindow()
}

// ResolveConfigForPath merges the action referenced by the nearest configured
// ancestor folder of path against the current global configuration.
func (w *Worker) ResolveConfigForPath(path string) (*config.Effective, config.WatchedFolder, bool) {
	cfg := w.store.Current()
	folder, ok := cfg.FolderForPath(path)
	if !ok {
		return nil, config.WatchedFolder{}, false
	}
	def, ok := cfg.ActionByName(folder.ActionName)
	if !ok {
		return nil, config.WatchedFolder{}, false
	}
	return config.Merge(&cfg.Global, def), folder, true
}

// effectiveForFolderPath returns the effective config of every action bound
// to folderPath (several configured folders may share one path).
func (w *Worker) effectiveForFolderPath(cfg *config.Config, folderPath string) []*config.Effective {
	var out []*config.Effective
	for _, f := range cfg.Folders {
		if !strings.EqualFold(f.FolderPath, folderPath) {
			continue
		}
		if def, ok := cfg.ActionByName(f.ActionName); ok {
			out = append(out, config.Merge(&cfg.Global, def))
		}
	}
	return out
}

// consume drains the settled-path queue until cancellation.
func (w *Worker) consume() {
	for {
		select {
		case path := <-w.agg.Out():
			w.process(path)
		case <-w.ctx.Done():
			return
		}
	}
}

// process filters and dispatches one settled path. Every action bound to the
// path's folder is evaluated against its own effective configuration.
func (w *Worker) process(path string) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error().Interface("panic", r).Str("path", path).Msg("recovered processing settled path")
		}
	}()

	cfg := w.store.Current()
	folder, ok := cfg.FolderForPath(path)
	if !ok {
		w.log.Debug().Str("path", path).Msg("settled path no longer under a watched folder")
		return
	}

	for _, f := range cfg.Folders {
		if !strings.EqualFold(f.FolderPath, folder.FolderPath) {
			continue
		}
		def, ok := cfg.ActionByName(f.ActionName)
		if !ok {
			continue
		}
		eff := config.Merge(&cfg.Global, def)

		if reason, excluded := w.exclude(path, f.FolderPath, eff); excluded {
			w.log.Debug().Str("path", path).Str("action", eff.ActionName).Str("reason", reason).Msg("filtered")
			continue
		}
		w.dispatch(path, f.FolderPath, eff)
	}
}

// exclude runs the filter chain in order, short-circuiting on the first
// exclusion. The returned reason is for observability only.
func (w *Worker) exclude(path, folderPath string, eff *config.Effective) (string, bool) {
	// A settled path may already be gone (moved or deleted during the
	// debounce window); there is nothing to deliver then.
	if _, err := os.Stat(path); err != nil {
		return "missing", true
	}

	if underProcessedFolder(path, folderPath, eff.ProcessedFolderName) {
		return "processed-folder", true
	}

	if len(eff.AllowedExtensions) > 0 && !extensionAllowed(path, eff.AllowedExtensions) {
		return "extension", true
	}

	if pattern, matched := matchExcludePattern(filepath.Base(path), eff.ExcludePatterns, w.log); matched {
		return "exclude-pattern " + pattern, true
	}

	if w.rec.IsFilePosted(path) {
		return "already-posted", true
	}
	return "", false
}

// dispatch hands the file to its runner off the notification path. The
// outcome is recorded whatever happens; a panicking runner is isolated.
func (w *Worker) dispatch(path, folderPath string, eff *config.Effective) {
	event := action.NewEvent(path)
	runner, ok := w.runners[eff.ActionType]
	if !ok {
		w.log.Error().Str("action", eff.ActionName).Str("type", string(eff.ActionType)).Msg("no runner for action type")
		return
	}

	w.dispatchWG.Add(1)
	go func() {
		defer w.dispatchWG.Done()

		select {
		case w.sem <- struct{}{}:
			defer func() { <-w.sem }()
		case <-w.ctx.Done():
			return
		}

		outcome := w.execute(runner, event, eff)
		if outcome.Skipped {
			w.log.Info().Str("path", path).Str("action", eff.ActionName).Msg("dispatch skipped")
			return
		}

		w.rec.RecordFileEvent(path, outcome.Success, outcome.StatusCode)
		if !outcome.Success {
			w.log.Error().Err(outcome.Err).Str("path", path).Str("action", eff.ActionName).
				Int("status", outcome.StatusCode).Msg("dispatch failed")
			return
		}

		w.log.Info().Str("path", path).Str("action", eff.ActionName).
			Int("status", outcome.StatusCode).Msg("dispatched")
		if eff.MoveOnSuccess && eff.ProcessedFolderName != "" {
			w.moveToProcessed(path, folderPath, eff)
		}
	}()
}

func (w *Worker) execute(runner action.Runner, event action.Event, eff *config.Effective) (outcome action.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error().Interface("panic", r).Str("path", event.Path).Msg("action runner panicked")
			outcome = action.Outcome{Success: false}
		}
	}()
	return runner.Execute(w.ctx, event, eff)
}

// moveToProcessed parks a delivered file under the folder's processed
// subdirectory. The posted mark for the old path is cleared afterwards so a
// future file dropped under the same name triggers again.
func (w *Worker) moveToProcessed(path, folderPath string, eff *config.Effective) {
	destDir := filepath.Join(folderPath, eff.ProcessedFolderName)
	if err := os.MkdirAll(destDir, 0755); err != nil {
		w.log.Warn().Err(err).Str("path", path).Msg("cannot create processed folder")
		return
	}

	dest := filepath.Join(destDir, filepath.Base(path))
	if _, err := os.Stat(dest); err == nil {
		ext := filepath.Ext(dest)
		dest = strings.TrimSuffix(dest, ext) + time.Now().Format("-20060102T150405.000") + ext
	}

	if err := os.Rename(path, dest); err != nil {
		w.log.Warn().Err(err).Str("path", path).Str("dest", dest).Msg("move to processed folder failed")
		return
	}
	w.rec.ForgetPosted(path)
	w.log.Debug().Str("path", path).Str("dest", dest).Msg("moved to processed folder")
}

// backfill feeds files already sitting in a folder through the normal
// filter+debounce path, so files dropped while the service was down are not
// skipped.
func (w *Worker) backfill(folder config.WatchedFolder) {
	cfg := w.store.Current()
	effs := w.effectiveForFolderPath(cfg, folder.FolderPath)
	recurse := false
	for _, eff := range effs {
		if eff.RecurseSubdirectories {
			recurse = true
		}
	}

	root := folder.FolderPath
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && !recurse {
				return filepath.SkipDir
			}
			return nil
		}
		w.onRawEvent(folder, path)
		return nil
	})
	if err != nil {
		w.log.Warn().Err(err).Str("folder", root).Msg("backfill scan failed")
	}
}
