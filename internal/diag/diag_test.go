package diag

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/filewatchd/internal/config"
)

func TestRecorder_PostedGuard(t *testing.T) {
	r := NewRecorder()

	assert.False(t, r.IsFilePosted("/drop/a.txt"))

	r.RecordFileEvent("/drop/a.txt", true, 200)
	assert.True(t, r.IsFilePosted("/drop/a.txt"))
	assert.True(t, r.IsFilePosted("/DROP/A.TXT"), "posted check is case-insensitive")

	r.RecordFileEvent("/drop/b.txt", false, 500)
	assert.False(t, r.IsFilePosted("/drop/b.txt"), "failures do not mark as posted")

	r.ForgetPosted("/drop/a.txt")
	assert.False(t, r.IsFilePosted("/drop/a.txt"))
}

func TestRecorder_Totals(t *testing.T) {
	r := NewRecorder()
	r.RecordFileEvent("/a", true, 200)
	r.RecordFileEvent("/b", true, 201)
	r.RecordFileEvent("/c", false, 503)

	success, failure := r.Totals()
	assert.Equal(t, int64(2), success)
	assert.Equal(t, int64(1), failure)
}

func TestRecorder_RingOverwritesOldest(t *testing.T) {
	r := NewRecorder()
	for i := 0; i < defaultHistory+10; i++ {
		r.RecordFileEvent(fmt.Sprintf("/drop/%d.txt", i), true, 200)
	}

	events := r.Recent()
	require.Len(t, events, defaultHistory)
	assert.Equal(t, "/drop/10.txt", events[0].Path, "oldest entries rotated out")
	assert.Equal(t, fmt.Sprintf("/drop/%d.txt", defaultHistory+9), events[len(events)-1].Path)
}

type fakeSource struct{}

func (fakeSource) WatchedFolders() []config.WatchedFolder {
	return []config.WatchedFolder{{FolderPath: "/drop", ActionName: "post"}}
}
func (fakeSource) OpenCircuits() []string { return []string{"http://api"} }
func (fakeSource) PendingCount() int      { return 2 }

func TestServer_StatusAndEvents(t *testing.T) {
	rec := NewRecorder()
	rec.RecordFileEvent("/drop/a.txt", true, 200)

	s := NewServer(0, rec, fakeSource{}, zerolog.Nop())

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var status map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, []any{"/drop"}, status["watchedFolders"])
	assert.Equal(t, []any{"http://api"}, status["openCircuits"])
	assert.Equal(t, float64(2), status["pendingPaths"])
	assert.Equal(t, float64(1), status["delivered"])

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/events", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var events []FileEvent
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, "/drop/a.txt", events[0].Path)
	assert.True(t, events[0].PostedSuccess)
}
