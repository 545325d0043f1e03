package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/filewatchd/internal/action"
	"github.com/user/filewatchd/internal/config"
	"github.com/user/filewatchd/internal/delivery"
	"github.com/user/filewatchd/internal/diag"
)

func ptr[T any](v T) *T { return &v }

// newWorker builds a worker over a store seeded with cfg, started and
// registered for cleanup.
func newWorker(t *testing.T, cfg *config.Config) (*Worker, *diag.Recorder) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.json")
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0600))

	store, err := config.NewStore(path, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	rec := diag.NewRecorder()
	sender := delivery.NewSender(&http.Client{Timeout: 5 * time.Second}, zerolog.Nop())
	w := New(store, rec, sender, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	w.Start(ctx)
	t.Cleanup(w.Stop)
	return w, rec
}

// slowConfig keeps the live debounce pipeline quiet so tests can drive
// process() directly without double dispatch.
func slowConfig(dir string) *config.Config {
	cfg := config.Default()
	cfg.Global.DebounceWindowMilliseconds = 60000
	cfg.Global.FileReadyWaitMilliseconds = 0
	cfg.Global.MoveOnSuccess = false
	cfg.Actions = []config.ActionDefinition{{Name: "post", Type: config.ActionRestDelivery, Endpoint: "http://localhost:9"}}
	cfg.Folders = []config.WatchedFolder{{FolderPath: dir, ActionName: "post"}}
	return cfg
}

// captureRunner records dispatched paths and returns a fixed outcome.
type captureRunner struct {
	ch      chan string
	outcome action.Outcome
}

func (r *captureRunner) Execute(_ context.Context, event action.Event, _ *config.Effective) action.Outcome {
	r.ch <- event.Path
	return r.outcome
}

func waitDispatch(t *testing.T, ch chan string) string {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch never happened")
		return ""
	}
}

func assertNoDispatch(t *testing.T, ch chan string) {
	t.Helper()
	select {
	case p := <-ch:
		t.Fatalf("unexpected dispatch of %s", p)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestResolveConfigForPath(t *testing.T) {
	dir := t.TempDir()
	cfg := slowConfig(dir)
	cfg.Global.AllowedExtensions = []string{".txt"}
	cfg.Global.Retries = 3
	cfg.Actions[0].Retries = ptr(7)

	w, _ := newWorker(t, cfg)

	eff, folder, ok := w.ResolveConfigForPath(filepath.Join(dir, "a.txt"))
	require.True(t, ok)
	assert.Equal(t, "post", folder.ActionName)
	assert.Equal(t, 7, eff.Retries, "action override wins")
	assert.Equal(t, []string{".txt"}, eff.AllowedExtensions, "null action collection inherits global")

	_, _, ok = w.ResolveConfigForPath("/not/watched/a.txt")
	assert.False(t, ok)
}

func TestProcess_ExtensionFilter(t *testing.T) {
	dir := t.TempDir()
	cfg := slowConfig(dir)
	cfg.Global.AllowedExtensions = []string{".txt"}

	w, _ := newWorker(t, cfg)
	runner := &captureRunner{ch: make(chan string, 4), outcome: action.Outcome{Success: true, StatusCode: 200}}
	w.runners[config.ActionRestDelivery] = runner

	binFile := filepath.Join(dir, "a.bin")
	txtFile := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(binFile, []byte("x"), 0600))
	require.NoError(t, os.WriteFile(txtFile, []byte("x"), 0600))

	w.process(binFile)
	assertNoDispatch(t, runner.ch)

	w.process(txtFile)
	assert.Equal(t, txtFile, waitDispatch(t, runner.ch))
}

func TestProcess_ActionExcludePatternsReplaceGlobal(t *testing.T) {
	dir := t.TempDir()
	cfg := slowConfig(dir)
	cfg.Global.ExcludePatterns = []string{"*.log"}
	cfg.Actions[0].ExcludePatterns = ptr([]string{"*.bak"})

	w, _ := newWorker(t, cfg)
	runner := &captureRunner{ch: make(chan string, 4), outcome: action.Outcome{Success: true}}
	w.runners[config.ActionRestDelivery] = runner

	bak := filepath.Join(dir, "report.bak")
	logf := filepath.Join(dir, "report.log")
	require.NoError(t, os.WriteFile(bak, []byte("x"), 0600))
	require.NoError(t, os.WriteFile(logf, []byte("x"), 0600))

	w.process(bak)
	assertNoDispatch(t, runner.ch)

	// The action's non-null collection replaced the global list entirely,
	// so the global *.log pattern no longer applies.
	w.process(logf)
	assert.Equal(t, logf, waitDispatch(t, runner.ch))
}

func TestProcess_EmptyActionCollectionDisablesFiltering(t *testing.T) {
	dir := t.TempDir()
	cfg := slowConfig(dir)
	cfg.Global.AllowedExtensions = []string{".txt"}
	cfg.Actions[0].AllowedExtensions = ptr([]string{})

	w, _ := newWorker(t, cfg)
	runner := &captureRunner{ch: make(chan string, 4), outcome: action.Outcome{Success: true}}
	w.runners[config.ActionRestDelivery] = runner

	bin := filepath.Join(dir, "a.bin")
	require.NoError(t, os.WriteFile(bin, []byte("x"), 0600))

	w.process(bin)
	assert.Equal(t, bin, waitDispatch(t, runner.ch))
}

func TestProcess_IdempotencyGuard(t *testing.T) {
	dir := t.TempDir()
	w, rec := newWorker(t, slowConfig(dir))
	runner := &captureRunner{ch: make(chan string, 4), outcome: action.Outcome{Success: true, StatusCode: 200}}
	w.runners[config.ActionRestDelivery] = runner

	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0600))

	w.process(path)
	assert.Equal(t, path, waitDispatch(t, runner.ch))

	require.Eventually(t, func() bool { return rec.IsFilePosted(path) }, 5*time.Second, 10*time.Millisecond)

	// A duplicate notification for the already-delivered path is dropped.
	w.process(path)
	assertNoDispatch(t, runner.ch)
}

func TestProcess_ProcessedFolderExcluded(t *testing.T) {
	dir := t.TempDir()
	w, _ := newWorker(t, slowConfig(dir))
	runner := &captureRunner{ch: make(chan string, 4), outcome: action.Outcome{Success: true}}
	w.runners[config.ActionRestDelivery] = runner

	processed := filepath.Join(dir, "processed")
	require.NoError(t, os.MkdirAll(processed, 0755))
	parked := filepath.Join(processed, "a.txt")
	require.NoError(t, os.WriteFile(parked, []byte("x"), 0600))

	w.process(parked)
	assertNoDispatch(t, runner.ch)
}

func TestProcess_MultipleActionsOneFolder(t *testing.T) {
	dir := t.TempDir()
	cfg := slowConfig(dir)
	cfg.Actions = append(cfg.Actions, config.ActionDefinition{
		Name: "archive", Type: config.ActionScriptExecution, Command: "true",
	})
	cfg.Folders = append(cfg.Folders, config.WatchedFolder{FolderPath: dir, ActionName: "archive"})

	w, _ := newWorker(t, cfg)
	restCh := &captureRunner{ch: make(chan string, 4), outcome: action.Outcome{Success: true}}
	scriptCh := &captureRunner{ch: make(chan string, 4), outcome: action.Outcome{Success: true}}
	w.runners[config.ActionRestDelivery] = restCh
	w.runners[config.ActionScriptExecution] = scriptCh

	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0600))

	w.process(path)
	assert.Equal(t, path, waitDispatch(t, restCh.ch))
	assert.Equal(t, path, waitDispatch(t, scriptCh.ch))
}

// panicRunner always panics; the worker must isolate it.
type panicRunner struct{}

func (panicRunner) Execute(context.Context, action.Event, *config.Effective) action.Outcome {
	panic("runner bug")
}

func TestDispatch_PanicIsolatedAndRecorded(t *testing.T) {
	dir := t.TempDir()
	cfg := slowConfig(dir)
	cfg.Actions = append(cfg.Actions, config.ActionDefinition{
		Name: "archive", Type: config.ActionScriptExecution, Command: "true",
	})
	cfg.Folders = append(cfg.Folders, config.WatchedFolder{FolderPath: dir, ActionName: "archive"})

	w, rec := newWorker(t, cfg)
	script := &captureRunner{ch: make(chan string, 4), outcome: action.Outcome{Success: true}}
	w.runners[config.ActionRestDelivery] = panicRunner{}
	w.runners[config.ActionScriptExecution] = script

	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0600))

	w.process(path)
	assert.Equal(t, path, waitDispatch(t, script.ch), "second handler runs despite first panicking")

	require.Eventually(t, func() bool {
		_, failure := rec.Totals()
		return failure >= 1
	}, 5*time.Second, 10*time.Millisecond, "panicked dispatch recorded as failure")
}

func TestPipeline_EndToEndDeliveryAndMove(t *testing.T) {
	received := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Path string `json:"path"`
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		received <- payload.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Global.DebounceWindowMilliseconds = 50
	cfg.Global.FileReadyWaitMilliseconds = 0
	cfg.Global.MoveOnSuccess = true
	cfg.Actions = []config.ActionDefinition{{Name: "post", Type: config.ActionRestDelivery, Endpoint: srv.URL}}
	cfg.Folders = []config.WatchedFolder{{FolderPath: dir, ActionName: "post"}}

	w, rec := newWorker(t, cfg)
	_ = w

	path := filepath.Join(dir, "invoice.txt")
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0600))

	select {
	case got := <-received:
		assert.Equal(t, path, got)
	case <-time.After(10 * time.Second):
		t.Fatal("file never delivered")
	}

	// Delivered file is parked under the processed folder and the raw events
	// from the move do not re-trigger delivery.
	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, "processed", "invoice.txt"))
		return err == nil
	}, 10*time.Second, 20*time.Millisecond)

	select {
	case got := <-received:
		t.Fatalf("duplicate delivery of %s", got)
	case <-time.After(500 * time.Millisecond):
	}

	success, _ := rec.Totals()
	assert.Equal(t, int64(1), success)
}

func TestPipeline_BackfillDeliversPreexistingFiles(t *testing.T) {
	received := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Name string `json:"name"`
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		received <- payload.Name
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	// File exists before the worker starts.
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "old.txt"), []byte("payload"), 0600))

	cfg := config.Default()
	cfg.Global.DebounceWindowMilliseconds = 50
	cfg.Global.FileReadyWaitMilliseconds = 0
	cfg.Global.MoveOnSuccess = false
	cfg.Actions = []config.ActionDefinition{{Name: "post", Type: config.ActionRestDelivery, Endpoint: srv.URL}}
	cfg.Folders = []config.WatchedFolder{{FolderPath: dir, ActionName: "post"}}

	newWorker(t, cfg)

	select {
	case name := <-received:
		assert.Equal(t, "old.txt", name)
	case <-time.After(10 * time.Second):
		t.Fatal("preexisting file never delivered")
	}
}

func TestOnConfigChange_TopologyRebuild(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()

	cfg := slowConfig(dirA)
	w, _ := newWorker(t, cfg)

	require.Eventually(t, func() bool {
		folders := w.WatchedFolders()
		return len(folders) == 1 && folders[0].FolderPath == dirA
	}, 5*time.Second, 10*time.Millisecond)

	next := slowConfig(dirB)
	require.NoError(t, w.store.Save(next))

	require.Eventually(t, func() bool {
		folders := w.WatchedFolders()
		return len(folders) == 1 && folders[0].FolderPath == dirB
	}, 5*time.Second, 10*time.Millisecond, "reload with new folder set must restart watchers")
}

func TestOnConfigChange_TuningOnlyKeepsWatchers(t *testing.T) {
	dir := t.TempDir()
	cfg := slowConfig(dir)
	w, _ := newWorker(t, cfg)

	before := w.WatchedFolders()
	require.Len(t, before, 1)

	next := slowConfig(dir)
	next.Global.Retries = 9
	require.NoError(t, w.store.Save(next))

	// Resolution reflects the new snapshot without a watcher restart.
	require.Eventually(t, func() bool {
		eff, _, ok := w.ResolveConfigForPath(filepath.Join(dir, "a.txt"))
		return ok && eff.Retries == 9
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, before, w.WatchedFolders())
}
