package daemon

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlie0129/linepark/pkg/config"
	"github.com/charlie0129/linepark/pkg/events"
	"github.com/charlie0129/linepark/pkg/journal"
	"github.com/charlie0129/linepark/pkg/parking"
	"github.com/charlie0129/linepark/pkg/types"
	"github.com/charlie0129/linepark/pkg/vehicle"
)

// useTestDaemon points the package state at a single test vehicle and
// returns the router.
func useTestDaemon(t *testing.T, withJournal bool) (*loopHarness, string) {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.json")
	h := newLoopHarness(t, testRawConfig("host"))
	h.conf = config.NewFileFromConfig(testRawConfig("host"), configPath)
	h.loop.conf = h.conf

	conf = h.conf
	vehicles = []*ControlLoop{h.loop}
	hub = events.NewHub()
	journalDB = nil
	if withJournal {
		db, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
		require.NoError(t, err)
		journalDB = db
		t.Cleanup(func() { _ = db.Close() })
	}
	t.Cleanup(func() {
		conf, vehicles, hub, journalDB = nil, nil, nil, nil
	})
	return h, configPath
}

func do(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	router.ServeHTTP(w, req)
	return w
}

func TestGetStatus(t *testing.T) {
	useTestDaemon(t, false)
	w := do(setupRoutes(), http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got []types.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "test", got[0].Name)
	assert.Equal(t, "host", got[0].Role)
	assert.Equal(t, "NONE", got[0].LastToken)
}

func TestSetCalibration(t *testing.T) {
	h, configPath := useTestDaemon(t, false)
	router := setupRoutes()

	w := do(router, http.MethodPut, "/calibration", `{"line": 8, "base": 70}`)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, vehicle.Calibration{Line: 8, Base: 70}, h.conf.Calibration())

	saved, err := config.NewFile(configPath)
	require.NoError(t, err)
	assert.Equal(t, vehicle.Calibration{Line: 8, Base: 70}, saved.Calibration())

	w = do(router, http.MethodPut, "/calibration", `{"line": 8, "base": 8}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, vehicle.Calibration{Line: 8, Base: 70}, h.conf.Calibration())

	w = do(router, http.MethodPut, "/calibration", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSetParking(t *testing.T) {
	h, _ := useTestDaemon(t, false)
	router := setupRoutes()

	w := do(router, http.MethodPut, "/parking", "false")
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.False(t, h.conf.ParkingAllowed())

	w = do(router, http.MethodPut, "/parking", "true")
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, h.conf.ParkingAllowed())

	w = do(router, http.MethodPut, "/parking", `"maybe"`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetConfig(t *testing.T) {
	useTestDaemon(t, false)
	w := do(setupRoutes(), http.MethodGet, "/config", "")
	require.Equal(t, http.StatusOK, w.Code)

	var raw config.RawFileConfig
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	require.NotNil(t, raw.Role)
	assert.Equal(t, "host", *raw.Role)
	require.NotNil(t, raw.BaseVelocity, "defaults are filled in")
}

func TestGetHistory(t *testing.T) {
	t.Run("journal disabled", func(t *testing.T) {
		useTestDaemon(t, false)
		w := do(setupRoutes(), http.MethodGet, "/history", "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("cycles newest first", func(t *testing.T) {
		useTestDaemon(t, true)
		base := time.UnixMilli(1_700_000_000_000)
		for i, id := range []string{"a", "b", "c"} {
			require.NoError(t, journalDB.RecordCycle(parking.Cycle{
				ID:        id,
				Role:      parking.Host,
				StartedAt: base.Add(time.Duration(i) * time.Minute),
				EndedAt:   base.Add(time.Duration(i)*time.Minute + 20*time.Second),
				Outcome:   parking.OutcomeCompleted,
			}))
		}

		w := do(setupRoutes(), http.MethodGet, "/history?limit=2", "")
		require.Equal(t, http.StatusOK, w.Code)
		var got []types.Cycle
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		require.Len(t, got, 2)
		assert.Equal(t, "c", got[0].ID)
		assert.Equal(t, "b", got[1].ID)
		assert.Equal(t, 20*time.Second, got[0].Duration())
	})

	t.Run("bad limit", func(t *testing.T) {
		useTestDaemon(t, true)
		w := do(setupRoutes(), http.MethodGet, "/history?limit=-1", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestGetVersion(t *testing.T) {
	useTestDaemon(t, false)
	w := do(setupRoutes(), http.MethodGet, "/version", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStreamEvents(t *testing.T) {
	useTestDaemon(t, false)
	srv := httptest.NewServer(setupRoutes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	require.Eventually(t, func() bool { return hub.Len() == 1 }, 5*time.Second, 10*time.Millisecond)
	hub.Publish(events.ParkingCycle, events.ParkingCycleEvent{ID: "x", Outcome: "completed"})

	sc := bufio.NewScanner(resp.Body)
	var lines []string
	for sc.Scan() {
		line := sc.Text()
		if line == "" && len(lines) > 0 {
			break
		}
		lines = append(lines, line)
	}
	joined := strings.Join(lines, "\n")
	assert.Contains(t, joined, "event:"+events.ParkingCycle)
	assert.Contains(t, joined, `"id":"x"`)
}
