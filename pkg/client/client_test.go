package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlie0129/linepark/pkg/events"
	"github.com/charlie0129/linepark/pkg/types"
	"github.com/charlie0129/linepark/pkg/vehicle"
)

// serveUnix serves h on a fresh unix socket and returns a client for it.
func serveUnix(t *testing.T, h http.Handler) *Client {
	t.Helper()
	dir, err := os.MkdirTemp("", "lp")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	sock := filepath.Join(dir, "d.sock")
	l, err := net.Listen("unix", sock)
	require.NoError(t, err)

	srv := httptest.NewUnstartedServer(h)
	srv.Listener = l
	srv.Start()
	t.Cleanup(srv.Close)

	return NewClient(sock)
}

func TestDaemonNotRunning(t *testing.T) {
	c := NewClient(filepath.Join(t.TempDir(), "missing.sock"))
	_, err := c.GetStatus()
	assert.True(t, errors.Is(err, ErrDaemonNotRunning), "got %v", err)
}

func TestAPIs(t *testing.T) {
	var gotCalibration vehicle.Calibration
	var gotParking string

	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode([]types.Status{{Name: "host", Mode: "forward"}})
	})
	mux.HandleFunc("PUT /calibration", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotCalibration)
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `"ok"`)
	})
	mux.HandleFunc("PUT /parking", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotParking = string(b)
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("GET /history", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		_ = json.NewEncoder(w).Encode([]types.Cycle{{ID: "a", Outcome: "completed"}})
	})
	mux.HandleFunc("GET /version", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `"v1.2.3"`)
	})
	c := serveUnix(t, mux)

	st, err := c.GetStatus()
	require.NoError(t, err)
	require.Len(t, st, 1)
	assert.Equal(t, "forward", st[0].Mode)

	_, err = c.SetCalibration(vehicle.Calibration{Line: 4, Base: 90})
	require.NoError(t, err)
	assert.Equal(t, vehicle.Calibration{Line: 4, Base: 90}, gotCalibration)

	_, err = c.SetParking(false)
	require.NoError(t, err)
	assert.Equal(t, "false", gotParking)

	cycles, err := c.GetHistory(5)
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	assert.Equal(t, "a", cycles[0].ID)

	v, err := c.GetVersion()
	require.NoError(t, err)
	assert.Equal(t, "v1.2.3", v)

	_, err = c.Get("/nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHistoryUnavailable(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /history", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error":"journal disabled"}`)
	})
	c := serveUnix(t, mux)

	_, err := c.GetHistory(10)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestStreamEvents(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /events", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for i := 1; i <= 3; i++ {
			_, _ = fmt.Fprintf(w, "id:%d\nevent:%s\ndata:{\"mode\":\"reversed\"}\n\n", i, events.VehicleReversal)
		}
		w.(http.Flusher).Flush()
	})
	c := serveUnix(t, mux)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var got []events.Event
	err := c.StreamEvents(ctx, func(ev events.Event) bool {
		got = append(got, ev)
		return len(got) < 2
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(2), got[1].ID)
	assert.Equal(t, events.VehicleReversal, got[0].Name)

	p, err := events.DecodeAs[events.VehicleReversalEvent](got[0])
	require.NoError(t, err)
	assert.Equal(t, "reversed", p.Mode)
}
